package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// CatalogRepo stores catalog chains, their steps and the steps' possible files.
// Values returned are copies; an update never changes a value a caller holds.
type CatalogRepo interface {
	ListChains(ctx context.Context) ([]models.CatalogChain, error)
	GetChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error)
	ListSteps(ctx context.Context, chainID uuid.UUID) ([]models.Step, error)
	GetStep(ctx context.Context, stepID uuid.UUID) (*models.Step, error)
	CreateChain(ctx context.Context, chain *models.CatalogChain) error
	UpdateChain(ctx context.Context, chain *models.CatalogChain) error
	RetireChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error)
	CreateStep(ctx context.Context, step *models.Step) error
	CreateStepFile(ctx context.Context, file *models.StepFile) error
}

// MutateFunc edits a movement tree in place. Returning false leaves the store untouched.
type MutateFunc func(movement *models.Movement) (changed bool, err error)

// MovementRepo stores movements in their persisted form: only active steps are kept.
type MovementRepo interface {
	Create(ctx context.Context, movement *models.Movement) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Movement, error)
	List(ctx context.Context) ([]models.Movement, error)
	// Mutate applies fn to the stored tree and persists the result atomically.
	// Any error from fn or from the store leaves the stored tree unchanged.
	Mutate(ctx context.Context, id uuid.UUID, actor string, fn MutateFunc) (*models.Movement, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// FindRule returns the movement owning the rule.
	FindRule(ctx context.Context, ruleID uuid.UUID) (uuid.UUID, error)
}

// Snapshotter groups reads so they observe one consistent state.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(ctx context.Context) error) error
}
