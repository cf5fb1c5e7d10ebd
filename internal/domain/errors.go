package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Handles and backends wrap these with operation context;
// callers match with errors.Is.
var (
	ErrInvalidArgument      = fmt.Errorf("invalid argument")
	ErrUnsupportedOperation = fmt.Errorf("unsupported operation")
	ErrResourceUnavailable  = fmt.Errorf("resource unavailable")
	ErrClosed               = fmt.Errorf("handle closed")
	ErrDuplicate            = fmt.Errorf("duplicate")
	ErrNotFound             = fmt.Errorf("not found")
	ErrTimeout              = fmt.Errorf("operation timed out")
)

// Sentinel errors for the simulator-facing surface.
var (
	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrJournal    = fmt.Errorf("journal operation failed")

	// Gateway / RPC errors.
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Motor.Set")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category. The gateway puts it on the
// wire and the remote backend maps it back with SentinelOf.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeInvalidArgument      ErrorCode = "INVALID_ARGUMENT"
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"
	CodeResourceUnavailable  ErrorCode = "RESOURCE_UNAVAILABLE"
	CodeClosed               ErrorCode = "CLOSED"
	CodeDuplicate            ErrorCode = "DUPLICATE"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeJournal              ErrorCode = "JOURNAL"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
	CodeGatewayAuth          ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound    ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload    ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidArgument:      CodeInvalidArgument,
	ErrUnsupportedOperation: CodeUnsupportedOperation,
	ErrResourceUnavailable:  CodeResourceUnavailable,
	ErrClosed:               CodeClosed,
	ErrDuplicate:            CodeDuplicate,
	ErrNotFound:             CodeNotFound,
	ErrTimeout:              CodeTimeout,
	ErrConfigLoad:           CodeConfigLoad,
	ErrJournal:              CodeJournal,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrGatewayAuthFailed:    CodeGatewayAuth,
	ErrRPCMethodNotFound:    CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:    CodeRPCInvalidPayload,
	ErrRateLimit:            CodeRateLimit,
}

// codePriority fixes the order in which wrapped sentinels are tested, so an
// error wrapping several sentinels always resolves to the same code.
var codePriority = []error{
	ErrUnsupportedOperation,
	ErrInvalidArgument,
	ErrClosed,
	ErrGatewayAuthFailed,
	ErrAuthInvalid,
	ErrRateLimit,
	ErrRPCMethodNotFound,
	ErrRPCInvalidPayload,
	ErrDuplicate,
	ErrNotFound,
	ErrTimeout,
	ErrResourceUnavailable,
	ErrConfigLoad,
	ErrJournal,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// SentinelOf returns the sentinel error for code, or nil when the code is
// unknown.
func SentinelOf(code ErrorCode) error {
	for sentinel, c := range errorCodeMap {
		if c == code {
			return sentinel
		}
	}
	return nil
}

// Code returns the ErrorCode for this DomainError's underlying error.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
