package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sudooom.im.chatsync/pkg/errors"
)

func serve(t *testing.T, handle gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", handle)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestSuccess(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) { Success(c, gin.H{"count": 1}) })

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, apperrors.CodeSuccess, resp.Code)
	assert.Equal(t, "success", resp.Message)
}

func TestErrorFromAppError_Status(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   int
	}{
		{"business", apperrors.ErrEmptyEdit, http.StatusOK, apperrors.CodeEmptyEdit},
		{"wrapped", apperrors.ErrNotOwner.Wrap(errors.New("x")), http.StatusOK, apperrors.CodeNotOwner},
		{"token", apperrors.ErrUploadTokenInvalid, http.StatusForbidden, apperrors.CodeUploadTokenInvalid},
		{"too large", apperrors.ErrUploadTooLarge, http.StatusRequestEntityTooLarge, apperrors.CodeUploadTooLarge},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.CodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := serve(t, func(c *gin.Context) { ErrorFromAppError(c, tt.err) })
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestUnauthorized(t *testing.T) {
	w, resp := serve(t, Unauthorized)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing actor identity", resp.Message)
}
