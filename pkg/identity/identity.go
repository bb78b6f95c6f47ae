// Package identity resolves the operator behind a request.
package identity

import (
	"context"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

// Anonymous is recorded when a change arrives without an authenticated operator.
const Anonymous = "anonymous"

// Provider returns the actor recorded on configuration changes.
type Provider interface {
	CurrentActor(ctx context.Context) string
}

// ContextProvider reads the actor that the authentication middleware stored
// on the request context.
type ContextProvider struct{}

func NewContextProvider() ContextProvider {
	return ContextProvider{}
}

func (ContextProvider) CurrentActor(ctx context.Context) string {
	if email := appctx.GetUserEmail(ctx); email != "" {
		return email
	}
	if userID := appctx.GetUserID(ctx); userID != "" {
		return userID
	}
	return Anonymous
}

// Static always returns the same actor. Useful for jobs and tests.
type Static string

func (s Static) CurrentActor(ctx context.Context) string {
	return string(s)
}
