package movement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/catalog"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/locker"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type fixture struct {
	builder   *Builder
	catalog   *catalog.Service
	publisher *recordingPublisher
	movement  models.Movement
	chain     models.CatalogChain
	extract   models.Step
	load      models.Step
	input     models.StepFile
	output    models.StepFile
}

// newFixture builds CHAIN_A (Extract rank 1 with IN1/OUT1, Load rank 2) and movement VIR001.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zapadapter.NewZapEctoLogger(zap.NewNop(), nil)

	catalogSvc := catalog.NewService(memory.NewCatalogStore(), logger)
	chain, err := catalogSvc.CreateChain(ctx, models.CreateChainRequest{Code: "CHAIN_A"})
	require.NoError(t, err)
	extract, err := catalogSvc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Extract", Rank: 1})
	require.NoError(t, err)
	load, err := catalogSvc.AddStep(ctx, chain.ID, models.CreateStepRequest{Name: "Load", Rank: 2})
	require.NoError(t, err)
	input, err := catalogSvc.AddStepFile(ctx, extract.ID, models.CreateStepFileRequest{Direction: models.DirectionIn, LogicalName: "IN1", DefaultPhysicalName: "IN1.DAT"})
	require.NoError(t, err)
	output, err := catalogSvc.AddStepFile(ctx, extract.ID, models.CreateStepFileRequest{Direction: models.DirectionOut, LogicalName: "OUT1", DefaultPhysicalName: "OUT1.DAT"})
	require.NoError(t, err)

	publisher := &recordingPublisher{}
	builder := NewBuilder(catalogSvc, memory.NewMovementStore(), locker.NewLocalLocker(time.Second), publisher, identity.Static("op"), logger)

	movement, err := builder.CreateMovement(ctx, models.CreateMovementRequest{Code: "VIR001", Description: "Virement"})
	require.NoError(t, err)

	return &fixture{
		builder:   builder,
		catalog:   catalogSvc,
		publisher: publisher,
		movement:  movement,
		chain:     chain,
		extract:   extract,
		load:      load,
		input:     input,
		output:    output,
	}
}

func (f *fixture) version(t *testing.T) int {
	t.Helper()
	movement, err := f.builder.GetMovement(context.Background(), f.movement.ID)
	require.NoError(t, err)
	return movement.Version
}

func TestBuilder_CreateMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "op", f.movement.CreatedBy)
	assert.Equal(t, 1, f.movement.Version)
	assert.Empty(t, f.movement.Chains)

	_, err := f.builder.CreateMovement(ctx, models.CreateMovementRequest{Code: "VIR001"})
	assert.ErrorIs(t, err, ferrors.ErrDuplicateCode)

	_, err = f.builder.CreateMovement(ctx, models.CreateMovementRequest{Code: ""})
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	assert.Equal(t, []string{events.MovementCreated}, f.publisher.types())
}

func TestBuilder_AttachChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chain, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	assert.Equal(t, f.chain.ID, chain.ID)
	assert.Equal(t, "CHAIN_A", chain.Code)
	require.Len(t, chain.Steps, 2)
	for _, step := range chain.Steps {
		assert.False(t, step.IsActive())
		_, ok := step.MovementStepID()
		assert.False(t, ok)
		assert.Empty(t, step.Files)
	}
	assert.Equal(t, "Extract", chain.Steps[0].Name)

	_, err = f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	assert.ErrorIs(t, err, ferrors.ErrAlreadyAttached)

	_, err = f.builder.AttachChain(ctx, f.movement.ID, uuid.New())
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.AttachChain(ctx, uuid.New(), f.chain.ID)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestBuilder_AttachRetiredChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.catalog.RetireChain(ctx, f.chain.ID)
	require.NoError(t, err)

	_, err = f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	assert.ErrorIs(t, err, ferrors.ErrInvalidState)
}

func TestBuilder_ActivateStepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)

	first, err := f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	firstID, ok := first.MovementStepID()
	require.True(t, ok)
	assert.Equal(t, "Extract", first.Name)
	versionAfterFirst := f.version(t)

	second, err := f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	secondID, ok := second.MovementStepID()
	require.True(t, ok)
	assert.Equal(t, firstID, secondID)
	assert.Equal(t, versionAfterFirst, f.version(t))

	assert.Equal(t, []string{events.MovementCreated, events.ChainAttached, events.StepActivated}, f.publisher.types())
}

func TestBuilder_ActivateStepNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// chain exists in the catalog but is not attached
	_, err := f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)

	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, uuid.New())
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.ActivateStep(ctx, f.movement.ID, uuid.New(), f.extract.ID)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestBuilder_DeactivateStepCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	activated, err := f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)
	rule, err := f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.AddRuleRequest{Message: "File missing", FixInstruction: "Rerun upstream"})
	require.NoError(t, err)

	deactivated, err := f.builder.DeactivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive())
	assert.Empty(t, deactivated.Files)

	movement, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	step, ok := movement.Chains[0].Step(f.extract.ID)
	require.True(t, ok)
	assert.False(t, step.IsActive())
	assert.Empty(t, step.Files)

	// the rule went with the step
	assert.ErrorIs(t, f.builder.RemoveRule(ctx, rule.ID), ferrors.ErrNotFound)

	// reactivation starts over with a new id and no files
	reactivated, err := f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	oldID, _ := activated.MovementStepID()
	newID, _ := reactivated.MovementStepID()
	assert.NotEqual(t, oldID, newID)
	assert.Empty(t, reactivated.Files)

	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.AddRuleRequest{Message: "File missing", FixInstruction: "Rerun"})
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
}

func TestBuilder_DeactivateInactiveStepIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	before := f.version(t)

	step, err := f.builder.DeactivateStep(ctx, f.movement.ID, f.chain.ID, f.load.ID)
	require.NoError(t, err)
	assert.False(t, step.IsActive())
	assert.Equal(t, before, f.version(t))
	assert.NotContains(t, f.publisher.types(), events.StepDeactivated)
}

func TestBuilder_SetFileMonitored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)

	// inactive step
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)

	// file of another step
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, uuid.New(), true)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	file, err := f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)
	assert.True(t, file.IsMonitored)
	assert.Equal(t, "OUT1", file.LogicalName)
	assert.Equal(t, f.output.ID, file.StepFileID)
	assert.Empty(t, file.Rules)

	again, err := f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, false)
	require.NoError(t, err)
	assert.False(t, again.IsMonitored)
	assert.Equal(t, file.ID, again.ID)
}

func TestBuilder_AddRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)

	req := models.AddRuleRequest{Message: "File missing", FixInstruction: "Rerun upstream", Details: "check the transfer log"}

	// file not tracked yet
	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, req)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)

	rule, err := f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "File missing", rule.Message)
	assert.Equal(t, "op", rule.CreatedBy)

	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, req)
	assert.ErrorIs(t, err, ferrors.ErrDuplicateRule)

	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.AddRuleRequest{Message: " "})
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	require.NoError(t, f.builder.RemoveRule(ctx, rule.ID))
	assert.ErrorIs(t, f.builder.RemoveRule(ctx, rule.ID), ferrors.ErrNotFound)

	// the message is free again
	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, req)
	assert.NoError(t, err)
}

func TestBuilder_RulesOnUnmonitoredFileAreKept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.input.ID, true)
	require.NoError(t, err)
	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.input.ID, models.AddRuleRequest{Message: "Late", FixInstruction: "Wait"})
	require.NoError(t, err)

	file, err := f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.input.ID, false)
	require.NoError(t, err)
	assert.False(t, file.IsMonitored)
	assert.Len(t, file.Rules, 1)
}

func TestBuilder_OverrideFileNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)

	_, err = f.builder.OverrideFileNames(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.OverrideFileNamesRequest{PhysicalName: "X"})
	assert.ErrorIs(t, err, ferrors.ErrNotFound)

	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)

	file, err := f.builder.OverrideFileNames(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.OverrideFileNamesRequest{PhysicalName: "VIR.OUT", Copybook: "CPYVIR"})
	require.NoError(t, err)
	require.NotNil(t, file.PhysicalName)
	assert.Equal(t, "VIR.OUT", *file.PhysicalName)
	assert.Equal(t, "CPYVIR", *file.Copybook)

	cleared, err := f.builder.OverrideFileNames(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.OverrideFileNamesRequest{})
	require.NoError(t, err)
	assert.Nil(t, cleared.PhysicalName)
	assert.Nil(t, cleared.Copybook)
}

func TestBuilder_StepAddedToCatalogShowsInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)

	archive, err := f.catalog.AddStep(ctx, f.chain.ID, models.CreateStepRequest{Name: "Archive", Rank: 3})
	require.NoError(t, err)

	movement, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	require.Len(t, movement.Chains[0].Steps, 3)
	step, ok := movement.Chains[0].Step(archive.ID)
	require.True(t, ok)
	assert.False(t, step.IsActive())
}

func TestBuilder_FailedMutationLeavesTreeUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)
	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.AddRuleRequest{Message: "m", FixInstruction: "f"})
	require.NoError(t, err)

	before, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)

	_, err = f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, models.AddRuleRequest{Message: "m", FixInstruction: "f"})
	require.Error(t, err)

	after, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuilder_ConcurrentAddRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)
	_, err = f.builder.SetFileMonitored(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID, true)
	require.NoError(t, err)
	before := f.version(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.builder.AddRule(ctx, f.movement.ID, f.chain.ID, f.extract.ID, f.output.ID,
				models.AddRuleRequest{Message: fmt.Sprintf("rule %d", i), FixInstruction: "fix"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	movement, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	step, _ := movement.Chains[0].Step(f.extract.ID)
	file, ok := step.File(f.output.ID)
	require.True(t, ok)
	assert.Len(t, file.Rules, 20)
	assert.Equal(t, before+20, movement.Version)
}

func TestBuilder_PublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publisher.err = errors.New("broker down")

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)

	movement, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	assert.Len(t, movement.Chains, 1)
}

func TestBuilder_DetachAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	_, err = f.builder.ActivateStep(ctx, f.movement.ID, f.chain.ID, f.extract.ID)
	require.NoError(t, err)

	require.NoError(t, f.builder.DetachChain(ctx, f.movement.ID, f.chain.ID))
	assert.ErrorIs(t, f.builder.DetachChain(ctx, f.movement.ID, f.chain.ID), ferrors.ErrNotFound)

	movement, err := f.builder.GetMovement(ctx, f.movement.ID)
	require.NoError(t, err)
	assert.Empty(t, movement.Chains)

	// attaching again starts from scratch
	chain, err := f.builder.AttachChain(ctx, f.movement.ID, f.chain.ID)
	require.NoError(t, err)
	for _, step := range chain.Steps {
		assert.False(t, step.IsActive())
	}

	movements, err := f.builder.ListMovements(ctx)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "VIR001", movements[0].Code)

	require.NoError(t, f.builder.DeleteMovement(ctx, f.movement.ID))
	_, err = f.builder.GetMovement(ctx, f.movement.ID)
	assert.ErrorIs(t, err, ferrors.ErrNotFound)
	assert.ErrorIs(t, f.builder.DeleteMovement(ctx, f.movement.ID), ferrors.ErrNotFound)
}
