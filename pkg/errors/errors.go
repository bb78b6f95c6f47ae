// Package errors holds the configuration error taxonomy shared by the
// catalog, the movement builder and the report generator.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindDuplicateCode   Kind = "duplicate_code"
	KindDuplicateRule   Kind = "duplicate_rule"
	KindAlreadyAttached Kind = "already_attached"
	KindInvalidState    Kind = "invalid_state"
)

// Sentinels for errors.Is. They match any ConfigError of the same kind.
var (
	ErrNotFound        = &ConfigError{Kind: KindNotFound}
	ErrDuplicateCode   = &ConfigError{Kind: KindDuplicateCode}
	ErrDuplicateRule   = &ConfigError{Kind: KindDuplicateRule}
	ErrAlreadyAttached = &ConfigError{Kind: KindAlreadyAttached}
	ErrInvalidState    = &ConfigError{Kind: KindInvalidState}
)

// ConfigError is a caller-recoverable failure of a catalog or movement operation.
type ConfigError struct {
	Kind    Kind
	Message string
	Meta    map[string]any
}

func newError(kind Kind, format string, args ...any) *ConfigError {
	return &ConfigError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Meta:    map[string]any{},
	}
}

func NotFound(format string, args ...any) *ConfigError {
	return newError(KindNotFound, format, args...)
}

func DuplicateCode(format string, args ...any) *ConfigError {
	return newError(KindDuplicateCode, format, args...)
}

func DuplicateRule(format string, args ...any) *ConfigError {
	return newError(KindDuplicateRule, format, args...)
}

func AlreadyAttached(format string, args ...any) *ConfigError {
	return newError(KindAlreadyAttached, format, args...)
}

func InvalidState(format string, args ...any) *ConfigError {
	return newError(KindInvalidState, format, args...)
}

func (e *ConfigError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// With attaches a value that is returned to API callers under "meta".
func (e *ConfigError) With(key string, value any) *ConfigError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func (e *ConfigError) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateCode, KindDuplicateRule, KindAlreadyAttached:
		return http.StatusConflict
	case KindInvalidState:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (e *ConfigError) ToHTTPError() *httperror.HTTPError {
	httpErr := httperror.NewHTTPError(e.StatusCode(), e.Error()).AddMetaValue("kind", string(e.Kind))
	for key, value := range e.Meta {
		httpErr = httpErr.AddMetaValue(key, value)
	}
	return httpErr
}

// As unwraps err to a ConfigError.
func As(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	configErr, ok := As(err)
	return ok && configErr.Kind == kind
}
