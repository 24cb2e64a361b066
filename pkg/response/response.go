package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "sudooom.im.chatsync/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    apperrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应，非 AppError 按服务器错误处理
func ErrorFromAppError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusOf(err), Response{
		Code:    apperrors.GetCode(err),
		Message: apperrors.GetMessage(err),
		Data:    nil,
	})
}

// statusOf 业务错误沿用 200，只有少数错误映射到 HTTP 状态
func statusOf(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.CodeTooManyReqest:
		return http.StatusTooManyRequests
	case apperrors.CodeUploadTokenInvalid:
		return http.StatusForbidden
	case apperrors.CodeUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperrors.CodeServerError, apperrors.CodeDBError:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// InvalidParams 参数校验失败
func InvalidParams(c *gin.Context, detail string) {
	ErrorWithMsg(c, apperrors.CodeInvalidParams, detail)
}

// Unauthorized 缺少调用方身份
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    apperrors.CodeInvalidParams,
		Message: "missing actor identity",
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
		Code:    apperrors.CodeTooManyReqest,
		Message: apperrors.ErrTooManyRequest.Message,
		Data:    nil,
	})
}
