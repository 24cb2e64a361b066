package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"sudooom.im.chatsync/internal/middleware"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/service"
	apperrors "sudooom.im.chatsync/pkg/errors"
	"sudooom.im.chatsync/pkg/response"
)

// UploadSigner 上传地址签发
type UploadSigner interface {
	Targets(conversationID string, files []model.FileSpec) ([]model.UploadTarget, error)
	Verify(token, key string) (*service.UploadClaims, error)
}

// BlobStore 附件存储
type BlobStore interface {
	Put(key string, body io.Reader, size int64) error
	Open(key string) (*os.File, error)
}

// UploadTargetsRequest 申请上传地址
type UploadTargetsRequest struct {
	Files []model.FileSpec `json:"files" binding:"required"`
}

// UploadHandler 附件上传处理器
type UploadHandler struct {
	messageService MessageService
	signer         UploadSigner
	store          BlobStore
	logger         *slog.Logger
}

// NewUploadHandler 创建上传处理器
func NewUploadHandler(messageService MessageService, signer UploadSigner, store BlobStore) *UploadHandler {
	return &UploadHandler{
		messageService: messageService,
		signer:         signer,
		store:          store,
		logger:         slog.Default(),
	}
}

// RequestTargets 批量申请上传地址
// POST /api/v1/conversations/:id/uploads
func (h *UploadHandler) RequestTargets(c *gin.Context) {
	var req UploadTargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.InvalidParams(c, err.Error())
		return
	}

	convID := c.Param("id")
	if _, err := h.messageService.Conversation(c.Request.Context(), convID, middleware.GetActor(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	targets, err := h.signer.Targets(convID, req.Files)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"targets": targets})
}

// objectKey 去掉通配路由带的前导 /
func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// Transfer 接收文件内容，凭证绑定 key、类型和大小
// PUT /uploads/*key?token=
func (h *UploadHandler) Transfer(c *gin.Context) {
	key := objectKey(c)

	claims, err := h.signer.Verify(c.Query("token"), key)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	if c.Request.ContentLength >= 0 && c.Request.ContentLength != claims.Size {
		response.ErrorFromAppError(c, apperrors.ErrUploadTokenInvalid)
		return
	}
	if claims.ContentType != "" && !sameMediaType(c.ContentType(), claims.ContentType) {
		response.ErrorFromAppError(c, apperrors.ErrUploadTokenInvalid)
		return
	}

	if err := h.store.Put(key, c.Request.Body, claims.Size); err != nil {
		h.logger.Warn("Upload transfer failed", "key", key, "size", humanize.Bytes(uint64(claims.Size)), "error", err)
		response.ErrorFromAppError(c, err)
		return
	}

	h.logger.Info("Upload stored", "key", key, "size", humanize.Bytes(uint64(claims.Size)))
	response.Success(c, nil)
}

func sameMediaType(a, b string) bool {
	ma, _, errA := mime.ParseMediaType(a)
	mb, _, errB := mime.ParseMediaType(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return ma == mb
}

// ServeFile 公开读取附件
// GET /files/*key
func (h *UploadHandler) ServeFile(c *gin.Context) {
	key := objectKey(c)

	f, err := h.store.Open(key)
	if err != nil {
		if errors.Is(err, service.ErrBlobNotFound) || apperrors.Is(err, apperrors.ErrInvalidParams) {
			c.Status(http.StatusNotFound)
			return
		}
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
		return
	}

	http.ServeContent(c.Writer, c.Request, path.Base(key), info.ModTime(), f)
}
