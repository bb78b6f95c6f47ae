// Package movement builds and edits a movement's configuration tree: which
// catalog chains it uses, which of their steps are active, which files are
// monitored and which rules explain an alert.
package movement

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/locker"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Catalog is the part of the catalog the builder reads.
type Catalog interface {
	GetChain(ctx context.Context, id uuid.UUID) (models.CatalogChain, error)
}

type Builder struct {
	logger    ectologger.Logger
	catalog   Catalog
	repo      repositories.MovementRepo
	locker    locker.Locker
	publisher events.Publisher
	identity  identity.Provider
	now       func() time.Time
}

func NewBuilder(
	catalog Catalog,
	repo repositories.MovementRepo,
	lock locker.Locker,
	publisher events.Publisher,
	identityProvider identity.Provider,
	logger ectologger.Logger,
) *Builder {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Builder{
		logger:    logger,
		catalog:   catalog,
		repo:      repo,
		locker:    lock,
		publisher: publisher,
		identity:  identityProvider,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *Builder) CreateMovement(ctx context.Context, req models.CreateMovementRequest) (models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.CreateMovement")
	defer span.End()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return models.Movement{}, httperror.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	actor := b.identity.CurrentActor(ctx)
	movement := models.Movement{
		ID:          uuid.New(),
		Code:        code,
		Description: req.Description,
		CreatedBy:   actor,
		UpdatedBy:   actor,
	}
	err := b.repo.Create(ctx, &movement)
	metrics.RecordMutation("create_movement", err)
	if err != nil {
		return models.Movement{}, err
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id":   movement.ID,
		"movement_code": movement.Code,
		"actor":         actor,
	}).Info("created movement")

	b.publish(ctx, &movement, events.Event{Type: events.MovementCreated})
	return movement, nil
}

// GetMovement returns the movement with every step of its attached chains;
// steps without stored state are inactive.
func (b *Builder) GetMovement(ctx context.Context, id uuid.UUID) (models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.GetMovement")
	defer span.End()

	stored, err := b.repo.GetByID(ctx, id)
	if err != nil {
		return models.Movement{}, err
	}
	return b.hydrate(ctx, stored, map[uuid.UUID]models.CatalogChain{})
}

// ListMovements returns every movement ordered by code.
func (b *Builder) ListMovements(ctx context.Context) ([]models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.ListMovements")
	defer span.End()

	stored, err := b.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	chains := map[uuid.UUID]models.CatalogChain{}
	movements := make([]models.Movement, 0, len(stored))
	for i := range stored {
		movement, err := b.hydrate(ctx, &stored[i], chains)
		if err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	sort.SliceStable(movements, func(i, j int) bool { return movements[i].Code < movements[j].Code })
	return movements, nil
}

func (b *Builder) DeleteMovement(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "movement.DeleteMovement")
	defer span.End()

	var stored *models.Movement
	err := b.locker.WithLock(ctx, locker.MovementKey(id.String()), func(ctx context.Context) error {
		var err error
		stored, err = b.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return b.repo.Delete(ctx, id)
	})
	metrics.RecordMutation("delete_movement", err)
	if err != nil {
		return err
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id":   id,
		"movement_code": stored.Code,
	}).Info("deleted movement")

	b.publish(ctx, stored, events.Event{Type: events.MovementDeleted})
	return nil
}

// mutate runs fn against the stored tree while holding the movement lock.
// changed is false when fn decided there was nothing to write.
func (b *Builder) mutate(ctx context.Context, operation string, movementID uuid.UUID, fn func(m *models.Movement, actor string) (bool, error)) (*models.Movement, bool, error) {
	actor := b.identity.CurrentActor(ctx)

	var (
		movement *models.Movement
		changed  bool
	)
	err := b.locker.WithLock(ctx, locker.MovementKey(movementID.String()), func(ctx context.Context) error {
		var err error
		movement, err = b.repo.Mutate(ctx, movementID, actor, func(m *models.Movement) (bool, error) {
			var err error
			changed, err = fn(m, actor)
			return changed, err
		})
		return err
	})
	metrics.RecordMutation(operation, err)
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_id": movementID,
			"operation":   operation,
		}).Debug("movement mutation rejected")
		return nil, false, err
	}

	if changed {
		b.logger.WithContext(ctx).WithFields(map[string]any{
			"movement_id": movementID,
			"operation":   operation,
			"version":     movement.Version,
			"actor":       actor,
		}).Info("updated movement configuration")
	}
	return movement, changed, nil
}

// publish sends the audit event. The change is already committed, so a
// failure is only logged.
func (b *Builder) publish(ctx context.Context, movement *models.Movement, evt events.Event) {
	evt.MovementID = movement.ID
	evt.MovementCode = movement.Code
	evt.Version = movement.Version
	evt.Actor = b.identity.CurrentActor(ctx)
	evt.Timestamp = b.now()

	if err := b.publisher.Publish(ctx, &evt); err != nil {
		b.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_id": movement.ID,
			"event_type":  evt.Type,
		}).Warn("failed to publish audit event")
	}
}

// hydrate expands the stored tree, which only holds active steps, into one
// ConfigStep per catalog step. chains caches catalog reads across calls.
func (b *Builder) hydrate(ctx context.Context, stored *models.Movement, chains map[uuid.UUID]models.CatalogChain) (models.Movement, error) {
	movement := stored.Clone()
	for i, chain := range movement.Chains {
		catalogChain, ok := chains[chain.ID]
		if !ok {
			var err error
			catalogChain, err = b.catalog.GetChain(ctx, chain.ID)
			if err != nil {
				return models.Movement{}, err
			}
			chains[chain.ID] = catalogChain
		}
		movement.Chains[i] = hydrateChain(chain, catalogChain)
	}
	if movement.Chains == nil {
		movement.Chains = []models.ConfigChain{}
	}
	return movement, nil
}

func hydrateChain(stored models.ConfigChain, catalogChain models.CatalogChain) models.ConfigChain {
	out := stored.Clone()
	out.Code = catalogChain.Code
	out.Steps = make([]models.ConfigStep, 0, len(catalogChain.Steps))

	seen := map[uuid.UUID]bool{}
	for _, catalogStep := range catalogChain.Steps {
		seen[catalogStep.ID] = true
		if step, ok := stored.Step(catalogStep.ID); ok {
			active := step.Clone()
			active.Name = catalogStep.Name
			active.Rank = catalogStep.Rank
			out.Steps = append(out.Steps, active)
			continue
		}
		out.Steps = append(out.Steps, inactiveStep(catalogStep))
	}

	for _, step := range stored.Steps {
		if !seen[step.ID] {
			out.Steps = append(out.Steps, step.Clone())
		}
	}

	sort.SliceStable(out.Steps, func(i, j int) bool { return out.Steps[i].Rank < out.Steps[j].Rank })
	return out
}

func inactiveStep(step models.Step) models.ConfigStep {
	return models.ConfigStep{
		ID:    step.ID,
		Name:  step.Name,
		Rank:  step.Rank,
		State: models.Inactive{},
		Files: []models.FileConfig{},
	}
}

// catalogStep resolves a step of a catalog chain.
func (b *Builder) catalogStep(ctx context.Context, chainID, stepID uuid.UUID) (models.Step, error) {
	chain, err := b.catalog.GetChain(ctx, chainID)
	if err != nil {
		return models.Step{}, err
	}
	for _, step := range chain.Steps {
		if step.ID == stepID {
			return step, nil
		}
	}
	return models.Step{}, ferrors.NotFound("step %s is not part of chain %s", stepID, chain.Code).
		With("chain_id", chainID).
		With("step_id", stepID)
}

func attachedChain(m *models.Movement, chainID uuid.UUID) (*models.ConfigChain, error) {
	chain, ok := m.Chain(chainID)
	if !ok {
		return nil, ferrors.NotFound("chain %s is not attached to movement %s", chainID, m.Code).
			With("movement_id", m.ID).
			With("chain_id", chainID)
	}
	return chain, nil
}

// activeStep finds a stored step. Stored steps are always active.
func activeStep(m *models.Movement, chainID, stepID uuid.UUID) (*models.ConfigStep, error) {
	chain, err := attachedChain(m, chainID)
	if err != nil {
		return nil, err
	}
	step, ok := chain.Step(stepID)
	if !ok || !step.IsActive() {
		return nil, ferrors.NotFound("step %s is not active in movement %s", stepID, m.Code).
			With("movement_id", m.ID).
			With("step_id", stepID)
	}
	return step, nil
}

func trackedFile(m *models.Movement, chainID, stepID, stepFileID uuid.UUID) (*models.FileConfig, error) {
	step, err := activeStep(m, chainID, stepID)
	if err != nil {
		return nil, err
	}
	file, ok := step.File(stepFileID)
	if !ok {
		return nil, ferrors.NotFound("file %s is not tracked on step %s", stepFileID, step.Name).
			With("movement_id", m.ID).
			With("step_file_id", stepFileID)
	}
	return file, nil
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
