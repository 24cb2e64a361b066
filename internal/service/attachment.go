package service

import (
	"errors"
	"log/slog"

	"sudooom.im.chatsync/internal/model"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// AttachmentVerifier 确认附件指向本服务签发、且已完整上传的对象
type AttachmentVerifier struct {
	signer *UploadSigner
	store  *BlobStore
	logger *slog.Logger
}

// NewAttachmentVerifier 创建附件校验
func NewAttachmentVerifier(signer *UploadSigner, store *BlobStore) *AttachmentVerifier {
	return &AttachmentVerifier{
		signer: signer,
		store:  store,
		logger: slog.Default(),
	}
}

// Verify 地址必须是该会话的公开地址，对象存在且大小一致
func (v *AttachmentVerifier) Verify(conversationID string, a model.Attachment) error {
	key, ok := v.signer.KeyFromPublicURL(conversationID, a.URL)
	if !ok {
		v.logger.Warn("Attachment URL not issued by this service", "conversationId", conversationID, "url", a.URL)
		return apperrors.ErrInvalidAttachment
	}

	size, err := v.store.Stat(key)
	switch {
	case errors.Is(err, ErrBlobNotFound), apperrors.Is(err, apperrors.ErrInvalidParams):
		return apperrors.ErrInvalidAttachment
	case err != nil:
		return apperrors.ErrServerError.Wrap(err)
	case size != a.Size:
		v.logger.Warn("Attachment size mismatch", "key", key, "declared", a.Size, "stored", size)
		return apperrors.ErrInvalidAttachment
	}
	return nil
}
