package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *ConfigError
		status int
	}{
		{name: "not found", err: NotFound("movement %s not found", "m1"), status: http.StatusNotFound},
		{name: "duplicate code", err: DuplicateCode("code VIR001 already exists"), status: http.StatusConflict},
		{name: "duplicate rule", err: DuplicateRule("rule exists"), status: http.StatusConflict},
		{name: "already attached", err: AlreadyAttached("chain attached"), status: http.StatusConflict},
		{name: "invalid state", err: InvalidState("chain retired"), status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())

			httpErr := tt.err.ToHTTPError()
			assert.Equal(t, tt.status, httperror.GetStatusCode(httpErr))
			assert.Contains(t, httpErr.Error(), tt.err.Error())
		})
	}
}

func TestConfigError_Is(t *testing.T) {
	err := fmt.Errorf("activate step: %w", NotFound("step %s not found", "s1"))

	assert.True(t, stderrors.Is(err, ErrNotFound))
	assert.False(t, stderrors.Is(err, ErrDuplicateRule))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(stderrors.New("boom"), KindNotFound))

	configErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "step s1 not found", configErr.Message)
}

func TestConfigError_With(t *testing.T) {
	err := DuplicateRule("rule already exists").With("message", "missing file")
	assert.Equal(t, "missing file", err.Meta["message"])
	assert.Equal(t, "missing file", err.ToHTTPError().Meta["message"])
}
