package movement

import (
	"context"
	"sort"

	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// AttachChain binds a catalog chain to the movement. Every step of the chain
// starts inactive.
func (b *Builder) AttachChain(ctx context.Context, movementID, catalogChainID uuid.UUID) (models.ConfigChain, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.AttachChain")
	defer span.End()

	catalogChain, err := b.catalog.GetChain(ctx, catalogChainID)
	if err != nil {
		return models.ConfigChain{}, err
	}
	if catalogChain.IsRetired() {
		return models.ConfigChain{}, ferrors.InvalidState("chain %s is retired", catalogChain.Code).
			With("chain_id", catalogChainID)
	}

	movement, _, err := b.mutate(ctx, "attach_chain", movementID, func(m *models.Movement, actor string) (bool, error) {
		if _, ok := m.Chain(catalogChainID); ok {
			return false, ferrors.AlreadyAttached("chain %s is already attached to movement %s", catalogChain.Code, m.Code).
				With("movement_id", m.ID).
				With("chain_id", catalogChainID)
		}
		m.Chains = append(m.Chains, models.ConfigChain{
			ID:              catalogChainID,
			MovementChainID: uuid.New(),
			Code:            catalogChain.Code,
			Steps:           []models.ConfigStep{},
		})
		return true, nil
	})
	if err != nil {
		return models.ConfigChain{}, err
	}

	b.publish(ctx, movement, events.Event{Type: events.ChainAttached, ChainID: uuidPtr(catalogChainID)})

	stored, _ := movement.Chain(catalogChainID)
	return hydrateChain(*stored, catalogChain), nil
}

// DetachChain removes the binding and everything configured under it.
func (b *Builder) DetachChain(ctx context.Context, movementID, configChainID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "movement.DetachChain")
	defer span.End()

	movement, _, err := b.mutate(ctx, "detach_chain", movementID, func(m *models.Movement, actor string) (bool, error) {
		for i := range m.Chains {
			if m.Chains[i].ID == configChainID {
				m.Chains = append(m.Chains[:i], m.Chains[i+1:]...)
				return true, nil
			}
		}
		return false, ferrors.NotFound("chain %s is not attached to movement %s", configChainID, m.Code).
			With("movement_id", m.ID).
			With("chain_id", configChainID)
	})
	if err != nil {
		return err
	}

	b.publish(ctx, movement, events.Event{Type: events.ChainDetached, ChainID: uuidPtr(configChainID)})
	return nil
}

// ActivateStep gives the step a movement step id. Activating an active step
// returns it unchanged and writes nothing.
func (b *Builder) ActivateStep(ctx context.Context, movementID, configChainID, stepID uuid.UUID) (models.ConfigStep, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.ActivateStep")
	defer span.End()

	catalogStep, err := b.catalogStep(ctx, configChainID, stepID)
	if err != nil {
		return models.ConfigStep{}, err
	}

	movement, changed, err := b.mutate(ctx, "activate_step", movementID, func(m *models.Movement, actor string) (bool, error) {
		chain, err := attachedChain(m, configChainID)
		if err != nil {
			return false, err
		}
		if step, ok := chain.Step(stepID); ok && step.IsActive() {
			return false, nil
		}

		chain.Steps = append(chain.Steps, models.ConfigStep{
			ID:   stepID,
			Name: catalogStep.Name,
			Rank: catalogStep.Rank,
			State: models.Active{
				MovementStepID: uuid.New(),
				ActivatedBy:    actor,
				ActivatedAt:    b.now(),
			},
			Files: []models.FileConfig{},
		})
		sort.SliceStable(chain.Steps, func(i, j int) bool { return chain.Steps[i].Rank < chain.Steps[j].Rank })
		return true, nil
	})
	if err != nil {
		return models.ConfigStep{}, err
	}

	if changed {
		b.publish(ctx, movement, events.Event{
			Type:    events.StepActivated,
			ChainID: uuidPtr(configChainID),
			StepID:  uuidPtr(stepID),
		})
	}

	step, err := activeStep(movement, configChainID, stepID)
	if err != nil {
		return models.ConfigStep{}, err
	}
	out := step.Clone()
	out.Name = catalogStep.Name
	out.Rank = catalogStep.Rank
	return out, nil
}

// DeactivateStep drops the step's stored state together with its file configs
// and rules. Deactivating an inactive step is a no-op.
func (b *Builder) DeactivateStep(ctx context.Context, movementID, configChainID, stepID uuid.UUID) (models.ConfigStep, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.DeactivateStep")
	defer span.End()

	catalogStep, err := b.catalogStep(ctx, configChainID, stepID)
	if err != nil {
		return models.ConfigStep{}, err
	}

	movement, changed, err := b.mutate(ctx, "deactivate_step", movementID, func(m *models.Movement, actor string) (bool, error) {
		chain, err := attachedChain(m, configChainID)
		if err != nil {
			return false, err
		}
		return chain.RemoveStep(stepID), nil
	})
	if err != nil {
		return models.ConfigStep{}, err
	}

	if changed {
		b.publish(ctx, movement, events.Event{
			Type:    events.StepDeactivated,
			ChainID: uuidPtr(configChainID),
			StepID:  uuidPtr(stepID),
		})
	}
	return inactiveStep(catalogStep), nil
}
