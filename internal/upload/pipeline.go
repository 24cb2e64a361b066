package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"sudooom.im.chatsync/internal/metrics"
	"sudooom.im.chatsync/internal/model"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// Backend 上传所需的远端操作
type Backend interface {
	RequestUploadTargets(ctx context.Context, conversationID string, files []model.FileSpec) ([]model.UploadTarget, error)
	TransferFile(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error
}

// ProgressFunc 进度回调，fraction = completed / total
// 可能在传输协程中被调用，但调用本身是串行的
type ProgressFunc func(fraction float64)

// Config 上传配置
type Config struct {
	MaxParallel int // 同时传输的文件数
}

// Failure 单个文件传输失败
type Failure struct {
	Index int
	File  model.FileSpec
	Err   error
}

// Result 上传结果
type Result struct {
	Attachments []model.Attachment // 仅包含传输成功的文件，保持原始相对顺序
	Failed      []Failure
	Total       int
}

// Notice 部分失败时给用户的提示，全部成功返回空串
func (r *Result) Notice() string {
	if r == nil || len(r.Failed) == 0 {
		return ""
	}

	skipped := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		skipped = append(skipped, fmt.Sprintf("%s (%s)", f.File.Name, humanize.Bytes(uint64(max(f.File.Size, 0)))))
	}
	return fmt.Sprintf("%d of %d files uploaded; skipped %s",
		len(r.Attachments), r.Total, strings.Join(skipped, ", "))
}

// Pipeline 附件上传管道
type Pipeline struct {
	backend Backend
	config  Config
	logger  *slog.Logger
}

// NewPipeline 创建上传管道
func NewPipeline(backend Backend, config Config) *Pipeline {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 3
	}

	return &Pipeline{
		backend: backend,
		config:  config,
		logger:  slog.Default(),
	}
}

// Upload 上传一条消息的全部附件
// 批量申请上传地址失败时整体放弃，返回 ErrUploadTargets；单文件失败只跳过该文件。
func (p *Pipeline) Upload(ctx context.Context, conversationID string, files []model.LocalFile, progress ProgressFunc) (*Result, error) {
	total := len(files)
	if total == 0 {
		return &Result{}, nil
	}

	specs := make([]model.FileSpec, total)
	for i, f := range files {
		specs[i] = f.Spec()
	}

	// 1. 一次批量请求所有上传地址
	targets, err := p.backend.RequestUploadTargets(ctx, conversationID, specs)
	if err != nil {
		p.logger.Error("Failed to request upload targets",
			"conversationId", conversationID,
			"files", total,
			"error", err,
		)
		return nil, apperrors.ErrUploadTargets.Wrap(err)
	}
	if len(targets) != total {
		p.logger.Error("Upload target count mismatch",
			"conversationId", conversationID,
			"expected", total,
			"got", len(targets),
		)
		return nil, apperrors.ErrUploadTargets.Wrap(fmt.Errorf("expected %d targets, got %d", total, len(targets)))
	}

	// 2. 每个文件独立传输
	transferred := make([]bool, total)
	errs := make([]error, total)

	var (
		mu        sync.Mutex
		completed int
	)

	var g errgroup.Group
	g.SetLimit(p.config.MaxParallel)

	for i := range files {
		i := i
		g.Go(func() error {
			err := p.transfer(ctx, files[i], targets[i])

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs[i] = err
			} else {
				transferred[i] = true
			}

			// 3. 按完成的文件数上报进度
			completed++
			if progress != nil {
				progress(float64(completed) / float64(total))
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		Attachments: make([]model.Attachment, 0, total),
		Total:       total,
	}
	for i, f := range files {
		if !transferred[i] {
			result.Failed = append(result.Failed, Failure{Index: i, File: specs[i], Err: errs[i]})
			continue
		}
		result.Attachments = append(result.Attachments, model.Attachment{
			Type:     model.ClassifyMIME(f.ContentType),
			URL:      targets[i].PublicURL,
			Name:     f.Name,
			Size:     f.Size,
			MimeType: f.ContentType,
		})
	}

	if len(result.Failed) > 0 {
		p.logger.Warn("Some attachments were not uploaded",
			"conversationId", conversationID,
			"uploaded", len(result.Attachments),
			"failed", len(result.Failed),
		)
	}

	return result, nil
}

// transfer 传输单个文件
func (p *Pipeline) transfer(ctx context.Context, file model.LocalFile, target model.UploadTarget) error {
	if file.Open == nil {
		metrics.UploadTransfers.WithLabelValues("error").Inc()
		return fmt.Errorf("file %q has no content source", file.Name)
	}

	body, err := file.Open()
	if err != nil {
		p.logger.Warn("Failed to open attachment", "name", file.Name, "error", err)
		metrics.UploadTransfers.WithLabelValues("error").Inc()
		return err
	}
	defer body.Close()

	if err := p.backend.TransferFile(ctx, target.UploadURL, body, file.Size, file.ContentType); err != nil {
		p.logger.Warn("Failed to transfer attachment",
			"name", file.Name,
			"size", humanize.Bytes(uint64(max(file.Size, 0))),
			"error", err,
		)
		metrics.UploadTransfers.WithLabelValues("error").Inc()
		return err
	}

	metrics.UploadTransfers.WithLabelValues("ok").Inc()
	p.logger.Debug("Attachment transferred", "name", file.Name, "contentType", file.ContentType)
	return nil
}
