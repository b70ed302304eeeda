package error

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCategory classifies errors by their nature and appropriate handling strategy.
// This classification helps callers decide whether an error should be retried,
// reported as unreadable data, or treated as a bug.
type ErrorCategory int

const (
	// ErrCategoryUser represents errors caused by invalid use of the API.
	// Examples: out-of-range buffer access, using a facade after Close.
	ErrCategoryUser ErrorCategory = iota

	// ErrCategoryTransient represents temporary errors that might succeed on retry.
	// Examples: stream pool exhaustion, rent timeouts.
	ErrCategoryTransient

	// ErrCategorySystem represents errors from the operating system or the disk.
	// Examples: short reads, failed seeks, permission issues.
	ErrCategorySystem

	// ErrCategoryData represents errors related to unreadable page contents.
	// Examples: wrong encryption key, corrupted ciphertext.
	ErrCategoryData

	// ErrCategoryConcurrency represents violations of the page access-mode contract.
	ErrCategoryConcurrency
)

// String returns the category name.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryUser:
		return "user"
	case ErrCategoryTransient:
		return "transient"
	case ErrCategorySystem:
		return "system"
	case ErrCategoryData:
		return "data"
	case ErrCategoryConcurrency:
		return "concurrency"
	default:
		return "unknown"
	}
}

// Error codes produced by the page storage core.
const (
	CodeIOFailure         = "IO_FAILURE"
	CodeDecryptionFailed  = "DECRYPTION_FAILED"
	CodePoolExhausted     = "POOL_EXHAUSTED"
	CodePoolClosed        = "POOL_CLOSED"
	CodeBufferOutOfBounds = "BUFFER_OUT_OF_BOUNDS"
	CodeFacadeClosed      = "FACADE_CLOSED"
	CodeCacheInUse        = "CACHE_IN_USE"
	CodeCacheConsistency  = "CACHE_CONSISTENCY"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is checks. A *DBError matches the sentinel whose
// code it carries.
var (
	ErrBufferBounds  = New(ErrCategoryUser, CodeBufferOutOfBounds, "buffer access out of bounds")
	ErrDecryption    = New(ErrCategoryData, CodeDecryptionFailed, "page decryption failed")
	ErrPoolExhausted = New(ErrCategoryTransient, CodePoolExhausted, "stream pool exhausted")
	ErrFacadeClosed  = New(ErrCategoryUser, CodeFacadeClosed, "facade already closed")
	ErrInvalidArg    = New(ErrCategoryUser, CodeInvalidArgument, "invalid argument")
)

// DBError represents a structured storage error with rich context information.
type DBError struct {
	// Code is a unique identifier for this error type (e.g., "DECRYPTION_FAILED").
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category ErrorCategory

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance.
	// Example: "page data@16384" where Message might be "page decryption failed".
	Detail string

	// Operation identifies the operation that was being performed when the error occurred.
	// Examples: "ReadPage", "Rent", "Decrypt".
	Operation string

	// Component identifies the system component where the error originated.
	// Examples: "MemoryCache", "StreamPool", "DiskReader".
	Component string

	// Cause is the underlying error that triggered this error.
	Cause error

	// Stack contains the call stack where this error was created.
	// Used for debugging and is automatically captured in New() and Wrap().
	Stack []uintptr
}

// New creates a new DBError with the specified code, category, and message.
func New(category ErrorCategory, code, message string) *DBError {
	err := &DBError{
		Code:     code,
		Category: category,
		Message:  message,
		Stack:    captureStack(),
	}
	return err
}

// Newf is New with a formatted detail.
func Newf(category ErrorCategory, code, message, detailFormat string, args ...any) *DBError {
	err := New(category, code, message)
	err.Detail = fmt.Sprintf(detailFormat, args...)
	return err
}

// Wrap wraps an existing error with storage-specific context information.
// If the error is already a DBError, it enriches the existing error with
// operation and component context (only if not already set).
func Wrap(err error, code, operation, component string) *DBError {
	if err == nil {
		return nil
	}

	var dbErr *DBError
	if errors.As(err, &dbErr) {
		if dbErr.Operation == "" {
			dbErr.Operation = operation
		}
		if dbErr.Component == "" {
			dbErr.Component = component
		}
		return dbErr
	}

	return &DBError{
		Code:      code,
		Category:  ErrCategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     err,
		Stack:     captureStack(),
	}
}

// WithDetail sets Detail and returns e for chaining.
func (e *DBError) WithDetail(format string, args ...any) *DBError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithCause sets Cause and returns e for chaining.
func (e *DBError) WithCause(cause error) *DBError {
	e.Cause = cause
	return e
}

// WithOp sets Operation and Component and returns e for chaining.
func (e *DBError) WithOp(operation, component string) *DBError {
	e.Operation = operation
	e.Component = component
	return e
}

// captureStack captures the current call stack for debugging purposes.
// It skips the first 3 frames to exclude captureStack, New/Wrap, and the
// immediate caller, focusing on the actual error origin.
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard Go error interface
//
// The format follows the pattern:
// [ERROR_CODE] Message: Detail (operation: Operation, component: Component) caused by: underlying error
func (e *DBError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error, enabling error chain traversal
// with Go's standard error handling functions like errors.Is and errors.As.
func (e *DBError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *DBError with the same code.
func (e *DBError) Is(target error) bool {
	t, ok := target.(*DBError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// FormatStack returns a human-readable stack trace for debugging purposes.
func (e *DBError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n",
			f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}

// HasCode reports whether any error in err's chain is a *DBError with code.
func HasCode(err error, code string) bool {
	for err != nil {
		var dbErr *DBError
		if !errors.As(err, &dbErr) {
			return false
		}
		if dbErr.Code == code {
			return true
		}
		err = dbErr.Cause
	}
	return false
}

// CategoryOf returns the category of the outermost *DBError in err's chain.
func CategoryOf(err error) (ErrorCategory, bool) {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Category, true
	}
	return 0, false
}

// IsDecryption reports whether err means the page bytes exist but are unreadable.
func IsDecryption(err error) bool { return HasCode(err, CodeDecryptionFailed) }

// IsExhausted reports whether err is a retryable pool exhaustion.
func IsExhausted(err error) bool { return HasCode(err, CodePoolExhausted) }

// IsIO reports whether err originated from the underlying file.
func IsIO(err error) bool { return HasCode(err, CodeIOFailure) }

// InvalidArg returns an INVALID_ARGUMENT error for a caller-supplied value
// that cannot address a page.
func InvalidArg(component, operation, message, format string, args ...any) *DBError {
	return Newf(ErrCategoryUser, CodeInvalidArgument, message, format, args...).WithOp(operation, component)
}

// Violation panics with a CACHE_CONSISTENCY error. Used for programming
// errors that would otherwise hand out inconsistent page bytes.
func Violation(component, operation, format string, args ...any) {
	panic(Newf(ErrCategoryConcurrency, CodeCacheConsistency, "page access contract violated", format, args...).
		WithOp(operation, component))
}
