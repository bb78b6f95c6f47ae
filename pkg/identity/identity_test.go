package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func TestContextProvider_CurrentActor(t *testing.T) {
	provider := NewContextProvider()
	ctx := context.Background()

	assert.Equal(t, Anonymous, provider.CurrentActor(ctx))

	ctx = appctx.SetUserID(ctx, "user-1")
	assert.Equal(t, "user-1", provider.CurrentActor(ctx))

	ctx = appctx.SetUserEmail(ctx, "op@example.com")
	assert.Equal(t, "op@example.com", provider.CurrentActor(ctx))
}

func TestStatic(t *testing.T) {
	assert.Equal(t, "batch", Static("batch").CurrentActor(context.Background()))
}
