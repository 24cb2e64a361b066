package send

import (
	"context"
	"log/slog"
	"strings"

	"sudooom.im.chatsync/internal/metrics"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/upload"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// Creator 创建消息的远端操作
type Creator interface {
	CreateMessage(ctx context.Context, conversationID string, req model.CreateRequest) (*model.Message, error)
}

// Uploader 附件上传，由 upload.Pipeline 实现
type Uploader interface {
	Upload(ctx context.Context, conversationID string, files []model.LocalFile, progress upload.ProgressFunc) (*upload.Result, error)
}

// Config 发送配置
type Config struct {
	// FallbackTextOnly 申请上传地址失败且有文本时，只发送文本
	FallbackTextOnly bool
}

// Request 一次发送
type Request struct {
	ConversationID string
	ParentID       string
	Content        string
	Files          []model.LocalFile
	Mentions       []string
	Progress       upload.ProgressFunc
}

// Result 发送结果
type Result struct {
	Message *model.Message  // 服务端回显
	Failed  []upload.Failure // 未上传成功而被跳过的文件
	Notice  string           // 部分失败提示，可能为空
}

// Pipeline 发送管道：校验、上传、原子创建
// 不持有也不修改本地状态。
type Pipeline struct {
	creator  Creator
	uploader Uploader
	config   Config
	logger   *slog.Logger
}

// NewPipeline 创建发送管道
func NewPipeline(creator Creator, uploader Uploader, config Config) *Pipeline {
	return &Pipeline{
		creator:  creator,
		uploader: uploader,
		config:   config,
		logger:   slog.Default(),
	}
}

// Send 发送一条消息
func (p *Pipeline) Send(ctx context.Context, req Request) (*Result, error) {
	content := strings.TrimSpace(req.Content)

	// 1. 空内容且无附件，不发起任何请求
	if content == "" && len(req.Files) == 0 {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return nil, apperrors.ErrEmptyMessage
	}

	result := &Result{}
	var attachments []model.Attachment

	// 2. 上传附件
	if len(req.Files) > 0 {
		uploaded, err := p.uploader.Upload(ctx, req.ConversationID, req.Files, req.Progress)
		switch {
		case err != nil && content != "" && p.config.FallbackTextOnly:
			p.logger.Warn("Upload targets unavailable, sending text only",
				"conversationId", req.ConversationID,
				"files", len(req.Files),
				"error", err,
			)
			result.Failed = allFailed(req.Files, err)
			result.Notice = "attachments could not be uploaded; sent text only"
		case err != nil:
			metrics.MessagesSent.WithLabelValues("error").Inc()
			return nil, err
		default:
			attachments = uploaded.Attachments
			result.Failed = uploaded.Failed
			result.Notice = uploaded.Notice()
		}

		if len(attachments) == 0 && content == "" {
			metrics.MessagesSent.WithLabelValues("rejected").Inc()
			return nil, apperrors.ErrNoAttachments
		}
	}

	// 3. 一次原子创建
	msg, err := p.creator.CreateMessage(ctx, req.ConversationID, model.CreateRequest{
		Content:     content,
		ParentID:    req.ParentID,
		Attachments: attachments,
		Mentions:    req.Mentions,
	})
	if err != nil {
		p.logger.Error("Failed to create message",
			"conversationId", req.ConversationID,
			"attachments", len(attachments),
			"error", err,
		)
		metrics.MessagesSent.WithLabelValues("error").Inc()
		return nil, apperrors.ErrSendFailed.Wrap(err)
	}

	metrics.MessagesSent.WithLabelValues("ok").Inc()
	p.logger.Debug("Message sent",
		"conversationId", req.ConversationID,
		"messageId", msg.ID,
		"attachments", len(attachments),
		"skipped", len(result.Failed),
	)

	result.Message = msg
	return result, nil
}

func allFailed(files []model.LocalFile, err error) []upload.Failure {
	failed := make([]upload.Failure, len(files))
	for i, f := range files {
		failed[i] = upload.Failure{Index: i, File: f.Spec(), Err: err}
	}
	return failed
}
