package api

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/guoyu07/SlimWebApi/codec"
)

var (
	// ErrMethodNotSpecified is returned when a request names no method.
	ErrMethodNotSpecified = errors.New("api: method name not specified")
	// ErrMethodNotFound is returned when no method is registered under a name.
	ErrMethodNotFound = errors.New("api: method not found")
	// ErrFormatNotSupported is returned when a method has no decoder for the
	// requested format.
	ErrFormatNotSupported = errors.New("api: format not supported")
	// ErrRegistrySealed is returned by Register after Seal.
	ErrRegistrySealed = errors.New("api: registry is sealed")
)

// ConfigurationError reports an invalid method registration. It is only
// returned during setup, never while dispatching.
type ConfigurationError struct {
	Method string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "api: configuration"
	if e.Method != "" {
		msg += " of " + e.Method
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErr(method, format string, args ...any) error {
	return &ConfigurationError{Method: method, Reason: fmt.Sprintf(format, args...)}
}

// ArgumentConversionError reports a request value that could not be
// converted to its parameter or member type.
type ArgumentConversionError struct {
	Key   string
	Value string
	Type  reflect.Type
	Err   error
}

func (e *ArgumentConversionError) Error() string {
	return fmt.Sprintf("api: invalid value %q for %q (%s): %v", e.Value, e.Key, e.Type, e.Err)
}

func (e *ArgumentConversionError) Unwrap() error {
	return e.Err
}

// DocumentError reports a structured body that could not be decoded.
// Contract distinguishes a well-formed document of the wrong shape from a
// malformed one.
type DocumentError struct {
	Format   string
	Contract bool
	Err      error
}

func (e *DocumentError) Error() string {
	if e.Contract {
		return fmt.Sprintf("api: %s document does not match parameters: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("api: malformed %s document: %v", e.Format, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

func documentErr(format string, err error) error {
	return &DocumentError{Format: format, Contract: codec.IsContract(err), Err: err}
}

// InvocationError wraps any failure raised while invoking a method body,
// including panics and cache provider failures.
type InvocationError struct {
	Method string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("api: invoke %s: %v", e.Method, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Error is an application error a method body may return to report an
// expected business failure. The default error translator turns it into a
// successful response carrying Code and Message.
type Error struct {
	Code    int
	Message string
}

// NewError creates an application error.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// ErrorTranslator may reinterpret an invocation error as an application
// outcome. ok reports whether err was translated.
type ErrorTranslator func(err error) (code int, message string, ok bool)

// TranslateAPIError translates errors wrapping *Error.
func TranslateAPIError(err error) (int, string, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code, ae.Message, true
	}
	return 0, "", false
}
