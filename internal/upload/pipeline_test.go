package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chatsync/internal/model"
	apperrors "sudooom.im.chatsync/pkg/errors"
)

// fakeBackend 模拟上传后端
type fakeBackend struct {
	mu          sync.Mutex
	targetsErr  error
	shortBy     int
	failURLs    map[string]bool
	transferred map[string]string // uploadURL -> body
	targetCalls int
}

func (f *fakeBackend) RequestUploadTargets(ctx context.Context, conversationID string, files []model.FileSpec) ([]model.UploadTarget, error) {
	f.mu.Lock()
	f.targetCalls++
	f.mu.Unlock()

	if f.targetsErr != nil {
		return nil, f.targetsErr
	}
	targets := make([]model.UploadTarget, 0, len(files))
	for i, spec := range files[:len(files)-f.shortBy] {
		targets = append(targets, model.UploadTarget{
			UploadURL: fmt.Sprintf("https://up/%d/%s", i, spec.Name),
			PublicURL: fmt.Sprintf("https://cdn/%s", spec.Name),
		})
	}
	return targets, nil
}

func (f *fakeBackend) TransferFile(ctx context.Context, uploadURL string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failURLs[uploadURL] {
		return errors.New("503 service unavailable")
	}
	if f.transferred == nil {
		f.transferred = make(map[string]string)
	}
	f.transferred[uploadURL] = string(data)
	return nil
}

func localFile(name, contentType, body string) model.LocalFile {
	return model.LocalFile{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestUpload_AllSucceed(t *testing.T) {
	backend := &fakeBackend{}
	p := NewPipeline(backend, Config{MaxParallel: 2})

	files := []model.LocalFile{
		localFile("a.png", "image/png", "png-bytes"),
		localFile("b.mp4", "video/mp4", "mp4-bytes"),
		localFile("c.pdf", "application/pdf", "pdf-bytes"),
	}

	result, err := p.Upload(context.Background(), "conv-1", files, nil)
	require.NoError(t, err)

	require.Len(t, result.Attachments, 3)
	assert.Empty(t, result.Failed)
	assert.Equal(t, model.AttachmentImage, result.Attachments[0].Type)
	assert.Equal(t, model.AttachmentVideo, result.Attachments[1].Type)
	assert.Equal(t, model.AttachmentFile, result.Attachments[2].Type)
	assert.Equal(t, "https://cdn/a.png", result.Attachments[0].URL)
	assert.Equal(t, "png-bytes", backend.transferred["https://up/0/a.png"])
	assert.Equal(t, "", result.Notice())
}

func TestUpload_SecondOfThreeFails(t *testing.T) {
	backend := &fakeBackend{failURLs: map[string]bool{"https://up/1/two.jpg": true}}
	p := NewPipeline(backend, Config{MaxParallel: 3})

	files := []model.LocalFile{
		localFile("one.jpg", "image/jpeg", "1"),
		localFile("two.jpg", "image/jpeg", "22"),
		localFile("three.jpg", "image/jpeg", "333"),
	}

	result, err := p.Upload(context.Background(), "conv-1", files, nil)
	require.NoError(t, err)

	require.Len(t, result.Attachments, 2)
	assert.Equal(t, "one.jpg", result.Attachments[0].Name)
	assert.Equal(t, "three.jpg", result.Attachments[1].Name)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Index)
	assert.Equal(t, "two.jpg", result.Failed[0].File.Name)
	assert.Equal(t, "2 of 3 files uploaded; skipped two.jpg (2 B)", result.Notice())
}

func TestUpload_CompletenessProperty(t *testing.T) {
	// N 个文件中 M 个成功，结果恰好 M 个附件且互不相同
	for failMask := 0; failMask < 1<<4; failMask++ {
		t.Run(fmt.Sprintf("mask=%04b", failMask), func(t *testing.T) {
			backend := &fakeBackend{failURLs: map[string]bool{}}
			files := make([]model.LocalFile, 4)
			want := 0
			for i := range files {
				name := fmt.Sprintf("f%d.txt", i)
				files[i] = localFile(name, "text/plain", name)
				if failMask&(1<<i) != 0 {
					backend.failURLs[fmt.Sprintf("https://up/%d/%s", i, name)] = true
				} else {
					want++
				}
			}

			result, err := NewPipeline(backend, Config{}).Upload(context.Background(), "c", files, nil)
			require.NoError(t, err)
			assert.Len(t, result.Attachments, want)
			assert.Len(t, result.Failed, 4-want)

			seen := map[string]bool{}
			for _, a := range result.Attachments {
				assert.False(t, seen[a.URL], "duplicate attachment %s", a.URL)
				seen[a.URL] = true
			}
		})
	}
}

func TestUpload_BatchTargetFailureAbortsEverything(t *testing.T) {
	backend := &fakeBackend{targetsErr: errors.New("quota exceeded")}
	p := NewPipeline(backend, Config{})

	result, err := p.Upload(context.Background(), "conv-1", []model.LocalFile{localFile("a.txt", "text/plain", "a")}, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.Is(err, apperrors.ErrUploadTargets))
	assert.Empty(t, backend.transferred)
}

func TestUpload_TargetCountMismatchIsBatchFailure(t *testing.T) {
	backend := &fakeBackend{shortBy: 1}
	p := NewPipeline(backend, Config{})

	files := []model.LocalFile{localFile("a.txt", "text/plain", "a"), localFile("b.txt", "text/plain", "b")}
	_, err := p.Upload(context.Background(), "conv-1", files, nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrUploadTargets))
	assert.Empty(t, backend.transferred)
}

func TestUpload_ProgressIsMonotonicAndBounded(t *testing.T) {
	backend := &fakeBackend{failURLs: map[string]bool{"https://up/2/c.txt": true}}
	p := NewPipeline(backend, Config{MaxParallel: 4})

	files := []model.LocalFile{
		localFile("a.txt", "text/plain", "a"),
		localFile("b.txt", "text/plain", "b"),
		localFile("c.txt", "text/plain", "c"),
		localFile("d.txt", "text/plain", "d"),
	}

	var steps []float64
	_, err := p.Upload(context.Background(), "conv-1", files, func(f float64) {
		steps = append(steps, f)
	})
	require.NoError(t, err)

	require.Equal(t, []float64{0.25, 0.5, 0.75, 1}, steps)
}

func TestUpload_OpenFailureIsIsolated(t *testing.T) {
	backend := &fakeBackend{}
	p := NewPipeline(backend, Config{})

	broken := model.LocalFile{
		Name:        "gone.txt",
		ContentType: "text/plain",
		Open: func() (io.ReadCloser, error) {
			return nil, errors.New("file removed")
		},
	}

	result, err := p.Upload(context.Background(), "conv-1", []model.LocalFile{broken, localFile("ok.txt", "text/plain", "ok")}, nil)
	require.NoError(t, err)
	require.Len(t, result.Attachments, 1)
	assert.Equal(t, "ok.txt", result.Attachments[0].Name)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "gone.txt", result.Failed[0].File.Name)
}

func TestUpload_NoFilesNoCalls(t *testing.T) {
	backend := &fakeBackend{}
	result, err := NewPipeline(backend, Config{}).Upload(context.Background(), "conv-1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Attachments)
	assert.Equal(t, 0, backend.targetCalls)
}
