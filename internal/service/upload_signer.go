package service

import (
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sudooom.im.chatsync/internal/model"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// UploadClaims 上传凭证声明，绑定对象 key、类型和大小
type UploadClaims struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	jwt.RegisteredClaims
}

// UploadSigner 签发和校验上传地址
type UploadSigner struct {
	secretKey []byte
	baseURL   string
	ttl       time.Duration
	maxSize   int64
}

// NewUploadSigner 创建上传签名服务
func NewUploadSigner(secretKey, baseURL string, ttl time.Duration, maxSize int64) *UploadSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &UploadSigner{
		secretKey: []byte(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		ttl:       ttl,
		maxSize:   maxSize,
	}
}

// Targets 为每个文件生成上传地址，顺序与 files 一致
func (s *UploadSigner) Targets(conversationID string, files []model.FileSpec) ([]model.UploadTarget, error) {
	targets := make([]model.UploadTarget, 0, len(files))
	for _, f := range files {
		if f.Size < 0 {
			return nil, apperrors.ErrInvalidParams
		}
		if s.maxSize > 0 && f.Size > s.maxSize {
			return nil, apperrors.ErrUploadTooLarge
		}

		key := ObjectKey(conversationID, f.Name)
		token, err := s.sign(key, f.ContentType, f.Size)
		if err != nil {
			return nil, err
		}

		targets = append(targets, model.UploadTarget{
			UploadURL: s.baseURL + "/uploads/" + key + "?token=" + url.QueryEscape(token),
			PublicURL: s.baseURL + "/files/" + key,
		})
	}
	return targets, nil
}

// KeyFromPublicURL 从本服务签发的公开地址解析对象 key，且 key 必须属于该会话
func (s *UploadSigner) KeyFromPublicURL(conversationID, publicURL string) (string, bool) {
	key, ok := strings.CutPrefix(publicURL, s.baseURL+"/files/")
	if !ok || strings.ContainsAny(key, "?#") || strings.Contains(key, "..") {
		return "", false
	}
	rest, ok := strings.CutPrefix(key, sanitizeSegment(conversationID)+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return key, true
}

// ObjectKey <conversationId>/<uuid><ext>
func ObjectKey(conversationID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if len(ext) > 16 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return sanitizeSegment(conversationID) + "/" + uuid.NewString() + ext
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

func (s *UploadSigner) sign(key, contentType string, size int64) (string, error) {
	now := time.Now()
	claims := &UploadClaims{
		Key:         key,
		ContentType: contentType,
		Size:        size,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chatsync-api",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Verify 校验上传凭证是否属于 key
func (s *UploadSigner) Verify(tokenString, key string) (*UploadClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UploadClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.ErrUploadTokenInvalid
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrUploadTokenInvalid.Wrap(err)
		}
		return nil, apperrors.ErrUploadTokenInvalid
	}

	claims, ok := token.Claims.(*UploadClaims)
	if !ok || !token.Valid || claims.Key != key {
		return nil, apperrors.ErrUploadTokenInvalid
	}
	return claims, nil
}
