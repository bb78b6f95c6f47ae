// Package report turns a movement's configuration into the read-optimized
// workflow view: one entry per active step, with alert and warning flags.
package report

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/rules"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Catalog is the part of the catalog the generator reads.
type Catalog interface {
	GetChain(ctx context.Context, id uuid.UUID) (models.CatalogChain, error)
}

type Generator struct {
	logger    ectologger.Logger
	catalog   Catalog
	movements repositories.MovementRepo
	snapshot  repositories.Snapshotter
}

// NewGenerator builds a generator. snapshot groups the movement and catalog
// reads of one report so they see a single committed state.
func NewGenerator(catalog Catalog, movements repositories.MovementRepo, snapshot repositories.Snapshotter, logger ectologger.Logger) *Generator {
	return &Generator{
		logger:    logger,
		catalog:   catalog,
		movements: movements,
		snapshot:  snapshot,
	}
}

// Generate builds the workflow report of a movement.
func (g *Generator) Generate(ctx context.Context, movementID uuid.UUID) (models.WorkflowResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "report.Generate")
	defer span.End()

	start := time.Now()
	var response models.WorkflowResponse
	err := g.snapshot.Snapshot(ctx, func(ctx context.Context) error {
		movement, err := g.movements.GetByID(ctx, movementID)
		if err != nil {
			return err
		}
		response, err = g.build(ctx, movement)
		return err
	})
	alerting := countAlerts(response)
	metrics.RecordReport(time.Since(start), alerting, err)
	if err != nil {
		return models.WorkflowResponse{}, err
	}

	g.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id":    movementID,
		"step_count":     len(response.Workflow),
		"alerting_files": alerting,
	}).Debug("generated workflow report")
	return response, nil
}

func (g *Generator) build(ctx context.Context, movement *models.Movement) (models.WorkflowResponse, error) {
	workflow := []models.WorkflowStep{}
	for _, chain := range movement.Chains {
		catalogChain, err := g.catalog.GetChain(ctx, chain.ID)
		if err != nil {
			return models.WorkflowResponse{}, err
		}

		for _, catalogStep := range catalogChain.Steps {
			configStep, ok := chain.Step(catalogStep.ID)
			if !ok || !configStep.IsActive() {
				continue
			}
			workflow = append(workflow, buildStep(catalogChain.Code, catalogStep, configStep))
		}
	}

	// ranks can repeat across chains; chain code then step name keep the order stable
	sort.SliceStable(workflow, func(i, j int) bool {
		a, b := workflow[i], workflow[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if a.ChainName != b.ChainName {
			return a.ChainName < b.ChainName
		}
		return a.StepName < b.StepName
	})

	return models.WorkflowResponse{
		Movement:    movement.Code,
		Description: movement.Description,
		Workflow:    workflow,
	}, nil
}

// buildStep emits one WorkflowFile per catalog file. A file the movement never
// configured is reported as unmonitored with no rules.
func buildStep(chainCode string, catalogStep models.Step, configStep *models.ConfigStep) models.WorkflowStep {
	files := ectolinq.Map(catalogStep.PossibleFiles, func(catalogFile models.StepFile) models.WorkflowFile {
		return buildFile(catalogFile, configStep)
	})

	inputs := ectolinq.Filter(files, func(file models.WorkflowFile) bool {
		return file.Direction == models.DirectionIn
	})
	outputs := ectolinq.Filter(files, func(file models.WorkflowFile) bool {
		return file.Direction == models.DirectionOut
	})

	return models.WorkflowStep{
		Sequence:   catalogStep.Rank,
		ChainName:  chainCode,
		StepName:   catalogStep.Name,
		Inputs:     nonNil(inputs),
		Outputs:    nonNil(outputs),
		HasWarning: rules.ComputeStepWarning(files),
	}
}

func buildFile(catalogFile models.StepFile, configStep *models.ConfigStep) models.WorkflowFile {
	file := models.WorkflowFile{
		ID:           catalogFile.ID,
		Direction:    catalogFile.Direction,
		LogicalName:  catalogFile.LogicalName,
		PhysicalName: catalogFile.DefaultPhysicalName,
		Copybook:     catalogFile.DefaultCopybook,
		Rules:        []models.WorkflowRule{},
	}

	config, ok := configStep.File(catalogFile.ID)
	if !ok {
		file.HasAlert = rules.ComputeFileAlert(false, nil)
		return file
	}

	file.IsMonitored = config.IsMonitored
	if config.PhysicalName != nil {
		file.PhysicalName = *config.PhysicalName
	}
	if config.Copybook != nil {
		file.Copybook = *config.Copybook
	}
	file.Rules = nonNil(ectolinq.Map(config.Rules, func(rule models.Rule) models.WorkflowRule {
		return models.WorkflowRule{
			Message: rule.Message,
			Fix:     rule.FixInstruction,
			Details: rule.Details,
		}
	}))
	file.HasAlert = rules.ComputeFileAlert(config.IsMonitored, config.Rules)
	return file
}

// nonNil keeps empty lists as [] in the JSON the consumer reads.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func countAlerts(response models.WorkflowResponse) int {
	count := 0
	for _, step := range response.Workflow {
		for _, file := range step.Inputs {
			if file.HasAlert {
				count++
			}
		}
		for _, file := range step.Outputs {
			if file.HasAlert {
				count++
			}
		}
	}
	return count
}
