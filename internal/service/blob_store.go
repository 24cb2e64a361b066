package service

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	apperrors "sudooom.im.chatsync/pkg/errors"
)

var ErrBlobNotFound = errors.New("blob not found")

// BlobStore 本地磁盘附件存储
type BlobStore struct {
	root   string
	logger *slog.Logger
}

// NewBlobStore 创建本地存储，目录不存在时自动创建
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &BlobStore{root: abs, logger: slog.Default()}, nil
}

// resolve 把 key 映射到 root 下的路径，拒绝越界
func (b *BlobStore) resolve(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", apperrors.ErrInvalidParams
	}
	p := filepath.Join(b.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, b.root+string(filepath.Separator)) {
		return "", apperrors.ErrInvalidParams
	}
	return p, nil
}

// Put 写入对象，读取超过 size 字节或不足 size 字节都视为失败
func (b *BlobStore) Put(key string, body io.Reader, size int64) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(body, size+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if n > size {
		return apperrors.ErrUploadTooLarge
	}
	if n < size {
		return apperrors.ErrInvalidParams.Wrap(io.ErrUnexpectedEOF)
	}

	if err := os.Rename(tmp.Name(), p); err != nil {
		return err
	}

	b.logger.Debug("Blob stored", "key", key, "size", humanize.Bytes(uint64(n)))
	return nil
}

// Stat 对象大小，不存在时返回 ErrBlobNotFound
func (b *BlobStore) Stat(key string) (int64, error) {
	p, err := b.resolve(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrBlobNotFound
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, ErrBlobNotFound
	}
	return info.Size(), nil
}

// Open 打开对象
func (b *BlobStore) Open(key string) (*os.File, error) {
	p, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return f, nil
}
