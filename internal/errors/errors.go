package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006
	ErrNotRegistered    ErrorCode = 1007

	// 角色错误 (2000-2099)
	ErrAttributeInvalid ErrorCode = 2000
	ErrQuotaExceeded    ErrorCode = 2001
	ErrCharacterInUse   ErrorCode = 2002
	ErrUnknownCheck     ErrorCode = 2003
	ErrMismatchedState  ErrorCode = 2004
	ErrNoCharacter      ErrorCode = 2005

	// 会话错误 (2100-2199)
	ErrSessionFull      ErrorCode = 2100
	ErrAlreadyJoined    ErrorCode = 2101
	ErrWrongPhase       ErrorCode = 2102
	ErrNotInSession     ErrorCode = 2103
	ErrSnapshotUsed     ErrorCode = 2104
	ErrInAnotherSession ErrorCode = 2105

	// 战斗错误 (2200-2299)
	ErrCombatActive   ErrorCode = 2200
	ErrNoActiveCombat ErrorCode = 2201
	ErrNotYourTurn    ErrorCode = 2202

	// 外部协作错误 (4000-4999)
	ErrNarrativeUnavailable ErrorCode = 4000
	ErrPlotNotFound         ErrorCode = 4001
	ErrCacheUnavailable     ErrorCode = 4002

	// 持久化错误 (5000-5999)
	ErrPersistence     ErrorCode = 5000
	ErrDatabaseConnect ErrorCode = 5001
	ErrDatabaseQuery   ErrorCode = 5002
	ErrDataIntegrity   ErrorCode = 5003

	// 配置错误 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
	ErrConfigMissing  ErrorCode = 6003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",
	ErrNotRegistered:    "用户未注册",

	ErrAttributeInvalid: "角色属性验证失败",
	ErrQuotaExceeded:    "角色数量超限",
	ErrCharacterInUse:   "角色正在使用中",
	ErrUnknownCheck:     "未知的检定类型",
	ErrMismatchedState:  "状态冲突",
	ErrNoCharacter:      "未绑定角色",

	ErrSessionFull:      "玩家席位已满",
	ErrAlreadyJoined:    "已经加入了这个剧本",
	ErrWrongPhase:       "当前阶段不允许该操作",
	ErrNotInSession:     "没有在活跃的剧本中",
	ErrSnapshotUsed:     "存档已被读取",
	ErrInAnotherSession: "已在其他剧本中",

	ErrCombatActive:   "战斗已经开始了",
	ErrNoActiveCombat: "没有进行中的战斗",
	ErrNotYourTurn:    "不是你的回合",

	ErrNarrativeUnavailable: "剧情服务不可用",
	ErrPlotNotFound:         "剧本不存在",
	ErrCacheUnavailable:     "缓存不可用",

	ErrPersistence:     "持久化失败",
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDataIntegrity:   "数据完整性错误",

	ErrConfigLoad:     "配置加载失败",
	ErrConfigParse:    "配置解析失败",
	ErrConfigValidate: "配置验证失败",
	ErrConfigMissing:  "配置项缺失",
}

// Kind 错误类别，调用方据此决定如何反馈
type Kind string

const (
	KindValidation      Kind = "validation"
	KindPermission      Kind = "permission_denied"
	KindNotFound        Kind = "not_found"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindInUse           Kind = "in_use"
	KindAlreadyActive   Kind = "already_active"
	KindNoActiveCombat  Kind = "no_active_combat"
	KindNotYourTurn     Kind = "not_your_turn"
	KindMismatchedState Kind = "mismatched_state"
	KindPersistence     Kind = "persistence"
	KindUnavailable     Kind = "unavailable"
	KindInternal        Kind = "internal"
)

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误，已经是AppError时保留原始错误码
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr = New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// WrapAs 以新错误码包装，内层 AppError 只作为 Cause 保留
func WrapAs(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}
	return New(code, details...).WithCause(err)
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误链中是否存在指定错误码
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}

	return ErrUnknown
}

// As 同标准库 errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// KindOf 把错误码归入调用方可见的错误类别
func KindOf(err error) Kind {
	switch GetCode(err) {
	case 0:
		return ""
	case ErrInvalidParam, ErrAttributeInvalid, ErrNoCharacter,
		ErrSessionFull, ErrAlreadyJoined, ErrAlreadyExists:
		return KindValidation
	case ErrPermissionDenied, ErrNotRegistered:
		return KindPermission
	case ErrNotFound, ErrPlotNotFound, ErrNotInSession, ErrUnknownCheck:
		return KindNotFound
	case ErrQuotaExceeded:
		return KindQuotaExceeded
	case ErrCharacterInUse:
		return KindInUse
	case ErrCombatActive:
		return KindAlreadyActive
	case ErrNoActiveCombat:
		return KindNoActiveCombat
	case ErrNotYourTurn:
		return KindNotYourTurn
	case ErrMismatchedState, ErrWrongPhase, ErrSnapshotUsed, ErrInAnotherSession:
		return KindMismatchedState
	case ErrPersistence, ErrDatabaseConnect, ErrDatabaseQuery, ErrDataIntegrity:
		return KindPersistence
	case ErrNarrativeUnavailable, ErrCacheUnavailable, ErrTimeout, ErrCanceled:
		return KindUnavailable
	default:
		return KindInternal
	}
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return
	}

	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()

		// 跳过runtime和本包的调用
		if strings.Contains(frame.Function, "runtime.") ||
			strings.Contains(frame.Function, "trpg-master/internal/errors.") {
			if !more {
				break
			}
			continue
		}

		e.Stack = append(e.Stack, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})

		// 只保留前10个栈帧
		if !more || len(e.Stack) >= 10 {
			break
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch KindOf(e) {
	case KindValidation:
		return 400
	case KindPermission:
		return 403
	case KindNotFound:
		return 404
	case KindQuotaExceeded, KindInUse, KindAlreadyActive, KindNoActiveCombat,
		KindNotYourTurn, KindMismatchedState:
		return 409
	case KindUnavailable, KindPersistence:
		return 503
	default:
		return 500
	}
}

// IsRetryable 判断错误是否可以原样重试
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case ErrTimeout, ErrPersistence, ErrDatabaseConnect, ErrNarrativeUnavailable, ErrCacheUnavailable:
		return true
	default:
		return false
	}
}

// IsCritical 判断是否为严重错误
func IsCritical(err error) bool {
	switch GetCode(err) {
	case ErrDatabaseConnect, ErrConfigLoad, ErrConfigMissing, ErrDataIntegrity:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Kind      Kind      `json:"kind"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Kind:      KindOf(err),
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
