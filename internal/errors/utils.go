package errors

import (
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context, creating a TemplateError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *TemplateError {
	if err == nil {
		return nil
	}

	// If it's already a TemplateError, preserve its properties but update the message
	var te *TemplateError
	if errors.As(err, &te) {
		return &TemplateError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       te,
			Context:     te.Context,
			Component:   te.Component,
			FilePath:    te.FilePath,
			Recoverable: te.Recoverable,
		}
	}

	return &TemplateError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeIO,
	}
}

// WrapIO wraps an error as an I/O error
func WrapIO(err error, code, message string) *TemplateError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *TemplateError {
	return Wrap(err, ErrorTypeConfig, code, message)
}

// GetErrorContext extracts context information from an error chain.
func GetErrorContext(err error) map[string]interface{} {
	result := make(map[string]interface{})

	var te *TemplateError
	for err != nil {
		if errors.As(err, &te) {
			for k, v := range te.Context {
				if _, exists := result[k]; !exists {
					result[k] = v
				}
			}
			err = te.Cause
			continue
		}
		break
	}

	return result
}

// CombineErrors combines multiple errors into a single error with context
func CombineErrors(errs ...error) error {
	var nonNilErrs []error
	for _, err := range errs {
		if err != nil {
			nonNilErrs = append(nonNilErrs, err)
		}
	}
	if len(nonNilErrs) == 0 {
		return nil
	}
	if len(nonNilErrs) == 1 {
		return nonNilErrs[0]
	}

	return &TemplateError{
		Type:    ErrorTypeInternal,
		Code:    "ERR_MULTIPLE_ERRORS",
		Message: fmt.Sprintf("multiple errors occurred: %d errors", len(nonNilErrs)),
		Cause:   errors.Join(nonNilErrs...),
		Context: map[string]interface{}{
			"error_count": len(nonNilErrs),
		},
	}
}

// As is errors.As from the standard library.
func As(err error, target any) bool {
	return errors.As(err, target)
}
