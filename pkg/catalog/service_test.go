package catalog

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
)

func newTestService() *Service {
	return NewService(memory.NewCatalogStore(), zapadapter.NewZapEctoLogger(zap.NewNop(), nil))
}

func TestService_ListChainsOrderedByCode(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	for _, code := range []string{"CHAIN_C", "CHAIN_A", "CHAIN_B"} {
		_, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: code})
		require.NoError(t, err)
	}

	chains, err := svc.ListChains(ctx)
	require.NoError(t, err)
	require.Len(t, chains, 3)
	assert.Equal(t, "CHAIN_A", chains[0].Code)
	assert.Equal(t, "CHAIN_B", chains[1].Code)
	assert.Equal(t, "CHAIN_C", chains[2].Code)
}

func TestService_ListStepsForOrderedByRank(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	chain, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A"})
	require.NoError(t, err)

	for _, step := range []models.CreateStepRequest{{Name: "Load", Rank: 3}, {Name: "Extract", Rank: 1}, {Name: "Transform", Rank: 2}} {
		_, err := svc.AddStep(ctx, chain.ID, step)
		require.NoError(t, err)
	}

	steps, err := svc.ListStepsFor(ctx, chain.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{steps[0].Rank, steps[1].Rank, steps[2].Rank})
	assert.Equal(t, "Extract", steps[0].Name)

	_, err = svc.ListStepsFor(ctx, uuid.New())
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestService_GetChain(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	chain, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A", Description: "nightly"})
	require.NoError(t, err)
	step, err := svc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Extract", Rank: 1})
	require.NoError(t, err)
	_, err = svc.AddStepFile(ctx, step.ID, models.CreateStepFileRequest{Direction: models.DirectionOut, LogicalName: "TXN", DefaultPhysicalName: "TXN.OUT"})
	require.NoError(t, err)

	loaded, err := svc.GetChain(ctx, chain.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", loaded.Description)
	require.Len(t, loaded.Steps, 1)
	require.Len(t, loaded.Steps[0].PossibleFiles, 1)
	assert.Equal(t, "TXN.OUT", loaded.Steps[0].PossibleFiles[0].DefaultPhysicalName)

	_, err = svc.GetChain(ctx, uuid.New())
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: "  "})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	chain, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A"})
	require.NoError(t, err)

	_, err = svc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A"})
	assert.ErrorIs(t, err, ferrors.ErrDuplicateCode)

	_, err = svc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Extract", Rank: -1})
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	step, err := svc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Extract", Rank: 1})
	require.NoError(t, err)

	_, err = svc.AddStepFile(ctx, step.ID, models.CreateStepFileRequest{Direction: "SIDEWAYS", LogicalName: "X"})
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestService_UpdateAndRetire(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	chain, err := svc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A", Description: "v1"})
	require.NoError(t, err)

	updated, err := svc.UpdateChain(ctx, chain.ID, models.UpdateChainRequest{Description: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "v2", updated.Description)

	retired, err := svc.RetireChain(ctx, chain.ID)
	require.NoError(t, err)
	assert.True(t, retired.IsRetired())

	_, err = svc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Extract", Rank: 1})
	assert.ErrorIs(t, err, ferrors.ErrInvalidState)

	_, err = svc.UpdateChain(ctx, uuid.New(), models.UpdateChainRequest{})
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}
