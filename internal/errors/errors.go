// Package errors 定义转账流水线统一使用的错误码。每个错误码带有默认的
// 严重程度、是否告警以及对外暴露时的 HTTP 状态码。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	Alert    bool
	// HTTPStatus 为 0 时按 500 处理。
	HTTPStatus int
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeGuardUnavailable      Code = "GUARD_UNAVAILABLE"
	CodeRemoteService         Code = "REMOTE_SERVICE"
	CodeRelayRejected         Code = "RELAY_REJECTED"
	CodeSigningFailure        Code = "SIGNING_FAILURE"
	CodeChainFailure          Code = "CHAIN_FAILURE"
	CodeExecutionFailed       Code = "EXECUTION_FAILED"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

type registry struct {
	mu    sync.RWMutex
	codes map[Code]Attributes
}

var codes = &registry{codes: map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, HTTPStatus: http.StatusBadRequest},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusServiceUnavailable},
	// 守卫不可用时按拒绝处理，但仍需通知运维。
	CodeGuardUnavailable: {Message: "guard unavailable", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusBadGateway},
	CodeRemoteService:    {Message: "remote service error", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusBadGateway},
	CodeRelayRejected:    {Message: "relay rejected transaction", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusBadGateway},
	CodeSigningFailure:   {Message: "signing failed", Severity: SeverityCritical, Alert: true},
	CodeChainFailure:     {Message: "chain rpc failure", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusBadGateway},
	CodeExecutionFailed:  {Message: "on-chain execution failed", Severity: SeverityWarning, Alert: true},
	CodeStorageFailure:   {Message: "storage failure", Severity: SeverityCritical, Alert: true},
	CodeQueueFailure:     {Message: "queue failure", Severity: SeverityCritical, Alert: true},
	CodeTimeout:          {Message: "operation timed out", Severity: SeverityWarning, Alert: true, HTTPStatus: http.StatusGatewayTimeout},
}}

func (r *registry) set(code Code, attr Attributes) {
	r.mu.Lock()
	r.codes[code] = attr
	r.mu.Unlock()
}

func (r *registry) get(code Code) Attributes {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if attr, ok := r.codes[code]; ok {
		return attr
	}
	return r.codes[CodeUnknown]
}

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	codes.set(code, attr)
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	return codes.get(code)
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	stage    string
	cause    error
	metadata map[string]string
	alert    *bool
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如中继返回的状态码与响应体。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithStage 标记错误发生在流水线的哪个阶段。
func WithStage(stage string) Option {
	return func(e *Error) {
		e.stage = stage
	}
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.code)
	if e.stage != "" {
		prefix += "@" + e.stage
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，使 errors.Is(err, New(code, "")) 可用于判断。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Stage 返回出错的流水线阶段，未标记时为空。
func (e *Error) Stage() string {
	if e == nil {
		return ""
	}
	return e.stage
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 链中解析统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误对应的错误码，普通错误视为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否包含指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, &Error{code: code})
}

// ShouldAlert 判断任意 error 是否需要触发告警。未分类的错误一律告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return err != nil
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// HTTPStatusOf 返回错误对外暴露时使用的 HTTP 状态码。
func HTTPStatusOf(err error) int {
	if status := AttributesOf(CodeOf(err)).HTTPStatus; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}
