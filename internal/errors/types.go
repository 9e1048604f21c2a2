// Package errors provides the structured error type shared by the resolver,
// the template builder and the section tag. Every error carries a Type that
// callers can branch on without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeNotFound            ErrorType = "not_found"
	ErrorTypeParse               ErrorType = "parse"
	ErrorTypeMissingCollaborator ErrorType = "missing_collaborator"
	ErrorTypeIO                  ErrorType = "io"
	ErrorTypeRecursion           ErrorType = "recursion"
	ErrorTypeConfig              ErrorType = "config"
	ErrorTypeInternal            ErrorType = "internal"
)

// TemplateError is a structured error type with context.
type TemplateError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	FilePath    string
	Recoverable bool
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "template:"+e.Component)
	}

	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison. A target with an empty Code matches any
// error of the same Type, so errors.Is(err, ErrNotFound) works for every
// not-found variant.
func (e *TemplateError) Is(target error) bool {
	var t *TemplateError
	if errors.As(target, &t) {
		if t.Code == "" {
			return e.Type == t.Type
		}
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *TemplateError) WithContext(key string, value interface{}) *TemplateError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file path the error refers to.
func (e *TemplateError) WithPath(filePath string) *TemplateError {
	e.FilePath = filePath

	return e
}

// WithComponent records the template name the error refers to.
func (e *TemplateError) WithComponent(component string) *TemplateError {
	e.Component = component

	return e
}

// WithCause attaches an underlying error.
func (e *TemplateError) WithCause(cause error) *TemplateError {
	e.Cause = cause

	return e
}

// Sentinels for errors.Is. They match on Type only.
var (
	ErrNotFound            = &TemplateError{Type: ErrorTypeNotFound}
	ErrParse               = &TemplateError{Type: ErrorTypeParse}
	ErrMissingCollaborator = &TemplateError{Type: ErrorTypeMissingCollaborator}
	ErrIO                  = &TemplateError{Type: ErrorTypeIO}
	ErrRecursionLimit      = &TemplateError{Type: ErrorTypeRecursion}
)

// Error creation functions

// NewNotFoundError creates a not-found error. Missing roots, missing files
// and sandbox escapes all use this type.
func NewNotFoundError(code, message string) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeNotFound,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewParseError creates a parse error for malformed names or tag markup.
func NewParseError(code, message string) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeParse,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewMissingCollaboratorError creates an error for a component that was
// wired without a required dependency.
func NewMissingCollaboratorError(code, message string) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeMissingCollaborator,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRecursionLimitError creates an error for include chains that are too
// deep or cyclic.
func NewRecursionLimitError(code, message string) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeRecursion,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TemplateError {
	return &TemplateError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Error recovery and handling utilities

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var te *TemplateError
	if errors.As(err, &te) {
		return te.Recoverable
	}

	return false
}

func isType(err error, t ErrorType) bool {
	var te *TemplateError
	if errors.As(err, &te) {
		return te.Type == t
	}

	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsParse reports whether err is a parse error.
func IsParse(err error) bool { return isType(err, ErrorTypeParse) }

// IsMissingCollaborator reports whether err is a missing-collaborator error.
func IsMissingCollaborator(err error) bool { return isType(err, ErrorTypeMissingCollaborator) }

// IsIO reports whether err is an I/O error.
func IsIO(err error) bool { return isType(err, ErrorTypeIO) }

// IsRecursionLimit reports whether err is a recursion-limit error.
func IsRecursionLimit(err error) bool { return isType(err, ErrorTypeRecursion) }

// IsSecurityError checks if an error is a sandbox violation.
func IsSecurityError(err error) bool {
	var te *TemplateError
	if errors.As(err, &te) {
		return te.Code == ErrCodePathEscape
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle processes an error with appropriate logging.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var te *TemplateError
	if !errors.As(err, &te) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch {
	case te.Code == ErrCodePathEscape:
		h.logger.Error(ctx, err, "Sandbox escape rejected",
			"type", te.Type,
			"code", te.Code,
			"path", te.FilePath)
	case te.Type == ErrorTypeParse, te.Type == ErrorTypeNotFound:
		h.logger.Warn(ctx, err, "Template error occurred",
			"type", te.Type,
			"code", te.Code,
			"template", te.Component)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", te.Type,
			"code", te.Code,
			"template", te.Component)
	}
}

// Common error codes.
const (
	ErrCodeRootNotFound     = "ERR_ROOT_NOT_FOUND"
	ErrCodeTemplateNotFound = "ERR_TEMPLATE_NOT_FOUND"
	ErrCodePathEscape       = "ERR_PATH_ESCAPE"
	ErrCodeEmptyName        = "ERR_EMPTY_TEMPLATE_NAME"
	ErrCodeIllegalName      = "ERR_ILLEGAL_TEMPLATE_NAME"
	ErrCodeTagSyntax        = "ERR_TAG_SYNTAX"
	ErrCodeUnknownTag       = "ERR_UNKNOWN_TAG"
	ErrCodeUnclosedBlock    = "ERR_UNCLOSED_BLOCK"
	ErrCodeNoFileSystem     = "ERR_NO_FILE_SYSTEM"
	ErrCodeReadFailed       = "ERR_READ_FAILED"
	ErrCodeIncludeDepth     = "ERR_INCLUDE_DEPTH"
	ErrCodeIncludeCycle     = "ERR_INCLUDE_CYCLE"
	ErrCodeScopeUnderflow   = "ERR_SCOPE_UNDERFLOW"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeCacheBackend     = "ERR_CACHE_BACKEND"
	ErrCodeDataInvalid      = "ERR_DATA_INVALID"
	ErrCodeListenFailed     = "ERR_LISTEN_FAILED"
	ErrCodeWatchFailed      = "ERR_WATCH_FAILED"
	ErrCodeWriteFailed      = "ERR_WRITE_FAILED"
)
