package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sudooom.im.chatsync/internal/middleware"
	"sudooom.im.chatsync/internal/model"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// envelope 服务端统一响应结构
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Config 客户端配置
type Config struct {
	BaseURL string
	Actor   model.Sender
	Timeout time.Duration
}

// Client 通过 REST API 访问消息后端
type Client struct {
	baseURL    string
	actor      model.Sender
	httpClient *http.Client
	transfer   *http.Client // 文件传输不设整体超时，由 ctx 控制
	logger     *slog.Logger
}

// New 创建客户端
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		actor:      cfg.Actor,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		transfer:   &http.Client{},
		logger:     slog.Default(),
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.HeaderRequestID, uuid.NewString())
	if c.actor.UserID != "" {
		req.Header.Set(middleware.HeaderActorUserID, c.actor.UserID)
	}
	if c.actor.ClientID != "" {
		req.Header.Set(middleware.HeaderActorClientID, c.actor.ClientID)
	}
	if c.actor.Name != "" {
		req.Header.Set(middleware.HeaderActorName, c.actor.Name)
	}
	return req, nil
}

// do 发送请求并解出 data；业务错误码还原为 AppError
func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}

	if env.Code != apperrors.CodeSuccess {
		c.logger.Debug("Request rejected",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
			"code", env.Code,
			"requestId", req.Header.Get(middleware.HeaderRequestID))
		return apperrors.FromCode(env.Code, env.Message)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, out)
}

func conversationPath(conversationID, suffix string) string {
	return "/api/v1/conversations/" + url.PathEscape(conversationID) + suffix
}

func messagePath(messageID, suffix string) string {
	return "/api/v1/messages/" + url.PathEscape(messageID) + suffix
}

type listData struct {
	List []model.Message `json:"list"`
}

// GetConversation 会话快照
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := c.call(ctx, http.MethodGet, conversationPath(conversationID, ""), nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FetchMessages 拉取消息，按时间正序
func (c *Client) FetchMessages(ctx context.Context, conversationID string, opts model.FetchOptions) ([]model.Message, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.ParentID != "" {
		query.Set("parent_id", opts.ParentID)
	}

	var data listData
	if err := c.call(ctx, http.MethodGet, conversationPath(conversationID, "/messages"), query, nil, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

// CreateMessage 创建消息
func (c *Client) CreateMessage(ctx context.Context, conversationID string, req model.CreateRequest) (*model.Message, error) {
	var msg model.Message
	if err := c.call(ctx, http.MethodPost, conversationPath(conversationID, "/messages"), nil, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage 编辑消息
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*model.Message, error) {
	var msg model.Message
	body := map[string]string{"content": content}
	if err := c.call(ctx, http.MethodPatch, messagePath(messageID, ""), nil, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage 删除消息
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.call(ctx, http.MethodDelete, messagePath(messageID, ""), nil, nil, nil)
}

// AddReaction 切换回应
func (c *Client) AddReaction(ctx context.Context, messageID string, kind model.ReactionKind) error {
	body := map[string]model.ReactionKind{"kind": kind}
	return c.call(ctx, http.MethodPost, messagePath(messageID, "/reactions"), nil, body, nil)
}

// SearchMessages 搜索消息
func (c *Client) SearchMessages(ctx context.Context, conversationID, query string) ([]model.Message, error) {
	var data listData
	q := url.Values{"q": {query}}
	if err := c.call(ctx, http.MethodGet, conversationPath(conversationID, "/search"), q, nil, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

// MarkRead 标记会话已读
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.call(ctx, http.MethodPost, conversationPath(conversationID, "/read"), nil, nil, nil)
}

// Unread 未读数
func (c *Client) Unread(ctx context.Context, conversationID string) (int64, error) {
	var data struct {
		Count int64 `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, conversationPath(conversationID, "/unread"), nil, nil, &data); err != nil {
		return 0, err
	}
	return data.Count, nil
}

// RequestUploadTargets 批量申请上传地址
func (c *Client) RequestUploadTargets(ctx context.Context, conversationID string, files []model.FileSpec) ([]model.UploadTarget, error) {
	var data struct {
		Targets []model.UploadTarget `json:"targets"`
	}
	body := map[string][]model.FileSpec{"files": files}
	if err := c.call(ctx, http.MethodPost, conversationPath(conversationID, "/uploads"), nil, body, &data); err != nil {
		return nil, err
	}
	return data.Targets, nil
}

// TransferFile 把文件内容 PUT 到签名地址
func (c *Client) TransferFile(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return err
	}
	req.ContentLength = size
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(middleware.HeaderRequestID, uuid.NewString())

	return c.do(c.transfer, req, nil)
}
