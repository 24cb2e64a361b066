package model

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// AttachmentType 附件类型
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// ClassifyMIME 按 MIME 前缀分类，默认 file
func ClassifyMIME(contentType string) AttachmentType {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return AttachmentImage
	case strings.HasPrefix(ct, "video/"):
		return AttachmentVideo
	default:
		return AttachmentFile
	}
}

// Attachment 附件描述（只有上传成功后才会生成）
type Attachment struct {
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Name     string         `json:"name"`
	Size     int64          `json:"size"`
	MimeType string         `json:"mimeType"`
}

// FileSpec 申请上传地址时的文件描述
type FileSpec struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// UploadTarget 单个文件的上传地址
type UploadTarget struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

// LocalFile 待上传的本地文件
type LocalFile struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Spec 返回文件描述
func (f LocalFile) Spec() FileSpec {
	return FileSpec{Name: f.Name, ContentType: f.ContentType, Size: f.Size}
}

// FileFromPath 从磁盘路径构造本地文件
func FileFromPath(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return LocalFile{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
