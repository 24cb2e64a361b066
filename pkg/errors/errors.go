package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 消息校验 20000-20999
	CodeEmptyMessage     = 20001
	CodeEmptyEdit        = 20002
	CodeMessageNotFound  = 20003
	CodeNotEditing       = 20004
	CodeNoPendingDelete  = 20005
	CodeReactionsOff     = 20006
	CodeThreadsOff       = 20007
	CodeInvalidReaction  = 20008
	CodeInvalidParams    = 20009
	CodeSessionClosed    = 20010
	CodeConversationGone = 20011
	CodeNotOwner         = 20012

	// 附件上传 21000-21999
	CodeUploadTargets      = 21001
	CodeNoAttachments      = 21002
	CodeUploadTokenInvalid = 21003
	CodeUploadTooLarge     = 21004
	CodeInvalidAttachment  = 21005

	// 远程调用 22000-22999
	CodeSendFailed     = 22001
	CodeEditFailed     = 22002
	CodeDeleteFailed   = 22003
	CodeReactionFailed = 22004
	CodeSearchFailed   = 22005
	CodeFetchFailed    = 22006

	// 系统错误 50000-50999
	CodeServerError   = 50001
	CodeDBError       = 50002
	CodeTooManyReqest = 50003
)

// ============== 预定义错误 ==============

// 消息相关
var (
	ErrEmptyMessage      = NewError(CodeEmptyMessage, "message has no content and no attachments")
	ErrEmptyEdit         = NewError(CodeEmptyEdit, "edited content cannot be empty")
	ErrMessageNotFound   = NewError(CodeMessageNotFound, "message not found")
	ErrNotEditing        = NewError(CodeNotEditing, "no message is being edited")
	ErrNoPendingDelete   = NewError(CodeNoPendingDelete, "no delete awaiting confirmation")
	ErrReactionsDisabled = NewError(CodeReactionsOff, "reactions are disabled for this conversation")
	ErrThreadsDisabled   = NewError(CodeThreadsOff, "threads are disabled for this conversation")
	ErrInvalidReaction   = NewError(CodeInvalidReaction, "unknown reaction kind")
	ErrInvalidParams     = NewError(CodeInvalidParams, "invalid parameters")
	ErrSessionClosed     = NewError(CodeSessionClosed, "session is closed")
	ErrConversationGone  = NewError(CodeConversationGone, "conversation not found")
	ErrNotOwner          = NewError(CodeNotOwner, "only the sender can change this message")
)

// 上传相关
var (
	ErrUploadTargets      = NewError(CodeUploadTargets, "failed to obtain upload targets")
	ErrNoAttachments      = NewError(CodeNoAttachments, "no attachment could be uploaded")
	ErrUploadTokenInvalid = NewError(CodeUploadTokenInvalid, "upload token is invalid")
	ErrUploadTooLarge     = NewError(CodeUploadTooLarge, "upload exceeds the size limit")
	ErrInvalidAttachment  = NewError(CodeInvalidAttachment, "attachment is not a completed upload")
)

// 远程调用相关
var (
	ErrSendFailed     = NewError(CodeSendFailed, "failed to send message")
	ErrEditFailed     = NewError(CodeEditFailed, "failed to edit message")
	ErrDeleteFailed   = NewError(CodeDeleteFailed, "failed to delete message")
	ErrReactionFailed = NewError(CodeReactionFailed, "failed to react to message")
	ErrSearchFailed   = NewError(CodeSearchFailed, "failed to search messages")
	ErrFetchFailed    = NewError(CodeFetchFailed, "failed to fetch messages")
)

// 系统相关
var (
	ErrServerError    = NewError(CodeServerError, "internal server error")
	ErrDBError        = NewError(CodeDBError, "database error")
	ErrTooManyRequest = NewError(CodeTooManyReqest, "too many requests, try again later")
)

// byCode 错误码到预定义错误的映射（客户端还原远端错误时使用）
var byCode = map[int]*AppError{}

func init() {
	for _, e := range []*AppError{
		ErrEmptyMessage, ErrEmptyEdit, ErrMessageNotFound, ErrNotEditing, ErrNoPendingDelete,
		ErrReactionsDisabled, ErrThreadsDisabled, ErrInvalidReaction, ErrInvalidParams,
		ErrSessionClosed, ErrConversationGone, ErrNotOwner,
		ErrUploadTargets, ErrNoAttachments, ErrUploadTokenInvalid, ErrUploadTooLarge, ErrInvalidAttachment,
		ErrSendFailed, ErrEditFailed, ErrDeleteFailed, ErrReactionFailed, ErrSearchFailed, ErrFetchFailed,
		ErrServerError, ErrDBError, ErrTooManyRequest,
	} {
		byCode[e.Code] = e
	}
}

// FromCode 根据错误码还原错误，未知错误码使用服务端给出的消息
func FromCode(code int, message string) *AppError {
	if e, ok := byCode[code]; ok {
		return e
	}
	return NewError(code, message)
}
