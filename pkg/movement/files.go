package movement

import (
	"context"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SetFileMonitored turns monitoring of one of an active step's files on or
// off, creating the file's config on first use.
func (b *Builder) SetFileMonitored(ctx context.Context, movementID, configChainID, stepID, stepFileID uuid.UUID, isMonitored bool) (models.FileConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.SetFileMonitored")
	defer span.End()

	catalogStep, err := b.catalogStep(ctx, configChainID, stepID)
	if err != nil {
		return models.FileConfig{}, err
	}
	catalogFile, ok := catalogStep.File(stepFileID)
	if !ok {
		return models.FileConfig{}, ferrors.NotFound("file %s is not one of step %s's files", stepFileID, catalogStep.Name).
			With("step_id", stepID).
			With("step_file_id", stepFileID)
	}

	movement, changed, err := b.mutate(ctx, "set_file_monitored", movementID, func(m *models.Movement, actor string) (bool, error) {
		step, err := activeStep(m, configChainID, stepID)
		if err != nil {
			return false, err
		}

		if file, ok := step.File(stepFileID); ok {
			if file.IsMonitored == isMonitored {
				return false, nil
			}
			file.IsMonitored = isMonitored
			return true, nil
		}

		step.Files = append(step.Files, models.FileConfig{
			ID:          uuid.New(),
			StepFileID:  stepFileID,
			LogicalName: catalogFile.LogicalName,
			IsMonitored: isMonitored,
			Rules:       []models.Rule{},
		})
		return true, nil
	})
	if err != nil {
		return models.FileConfig{}, err
	}

	if changed {
		b.publish(ctx, movement, events.Event{
			Type:       events.FileMonitored,
			ChainID:    uuidPtr(configChainID),
			StepID:     uuidPtr(stepID),
			StepFileID: uuidPtr(stepFileID),
		})
	}

	file, err := trackedFile(movement, configChainID, stepID, stepFileID)
	if err != nil {
		return models.FileConfig{}, err
	}
	return file.Clone(), nil
}

// OverrideFileNames sets the movement's own physical name and copybook for a
// tracked file. An empty value falls back to the catalog default.
func (b *Builder) OverrideFileNames(ctx context.Context, movementID, configChainID, stepID, stepFileID uuid.UUID, req models.OverrideFileNamesRequest) (models.FileConfig, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.OverrideFileNames")
	defer span.End()

	physicalName := optional(req.PhysicalName)
	copybook := optional(req.Copybook)

	movement, changed, err := b.mutate(ctx, "override_file_names", movementID, func(m *models.Movement, actor string) (bool, error) {
		file, err := trackedFile(m, configChainID, stepID, stepFileID)
		if err != nil {
			return false, err
		}
		if equalOptional(file.PhysicalName, physicalName) && equalOptional(file.Copybook, copybook) {
			return false, nil
		}
		file.PhysicalName = physicalName
		file.Copybook = copybook
		return true, nil
	})
	if err != nil {
		return models.FileConfig{}, err
	}

	if changed {
		b.publish(ctx, movement, events.Event{
			Type:       events.FileNamesChanged,
			ChainID:    uuidPtr(configChainID),
			StepID:     uuidPtr(stepID),
			StepFileID: uuidPtr(stepFileID),
		})
	}

	file, err := trackedFile(movement, configChainID, stepID, stepFileID)
	if err != nil {
		return models.FileConfig{}, err
	}
	return file.Clone(), nil
}

// AddRule attaches a remediation rule to a tracked file. Messages are unique per file.
func (b *Builder) AddRule(ctx context.Context, movementID, configChainID, stepID, stepFileID uuid.UUID, req models.AddRuleRequest) (models.Rule, error) {
	ctx, span := tracing.StartSpan(ctx, "movement.AddRule")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return models.Rule{}, httperror.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	var rule models.Rule
	movement, _, err := b.mutate(ctx, "add_rule", movementID, func(m *models.Movement, actor string) (bool, error) {
		file, err := trackedFile(m, configChainID, stepID, stepFileID)
		if err != nil {
			return false, err
		}
		if _, ok := file.RuleByMessage(message); ok {
			return false, ferrors.DuplicateRule("rule %q already exists on file %s", message, file.LogicalName).
				With("movement_id", m.ID).
				With("step_file_id", stepFileID)
		}

		rule = models.Rule{
			ID:             uuid.New(),
			Message:        message,
			FixInstruction: req.FixInstruction,
			Details:        req.Details,
			CreatedBy:      actor,
			CreatedAt:      b.now(),
		}
		file.Rules = append(file.Rules, rule)
		return true, nil
	})
	if err != nil {
		return models.Rule{}, err
	}

	b.publish(ctx, movement, events.Event{
		Type:       events.RuleAdded,
		ChainID:    uuidPtr(configChainID),
		StepID:     uuidPtr(stepID),
		StepFileID: uuidPtr(stepFileID),
		RuleID:     uuidPtr(rule.ID),
	})
	return rule, nil
}

// RemoveRule deletes a rule wherever it lives.
func (b *Builder) RemoveRule(ctx context.Context, ruleID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "movement.RemoveRule")
	defer span.End()

	movementID, err := b.repo.FindRule(ctx, ruleID)
	if err != nil {
		return err
	}

	var location models.RuleLocation
	movement, _, err := b.mutate(ctx, "remove_rule", movementID, func(m *models.Movement, actor string) (bool, error) {
		var ok bool
		location, ok = m.FindRule(ruleID)
		if !ok {
			// removed between the lookup and the lock
			return false, ferrors.NotFound("rule %s does not exist", ruleID).With("rule_id", ruleID)
		}
		file, err := trackedFile(m, location.ChainID, location.StepID, location.StepFileID)
		if err != nil {
			return false, err
		}
		return file.RemoveRule(ruleID), nil
	})
	if err != nil {
		return err
	}

	b.publish(ctx, movement, events.Event{
		Type:       events.RuleRemoved,
		ChainID:    uuidPtr(location.ChainID),
		StepID:     uuidPtr(location.StepID),
		StepFileID: uuidPtr(location.StepFileID),
		RuleID:     uuidPtr(ruleID),
	})
	return nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
