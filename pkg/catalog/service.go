// Package catalog serves the read-only chain/step/file templates that
// movement configurations are built from, plus their administration.
package catalog

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Service struct {
	logger ectologger.Logger
	repo   repositories.CatalogRepo
}

func NewService(repo repositories.CatalogRepo, logger ectologger.Logger) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
	}
}

// ListChains returns every chain, retired ones included, ordered by code.
func (s *Service) ListChains(ctx context.Context) ([]models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.ListChains")
	defer span.End()

	chains, err := s.repo.ListChains(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chains, func(i, j int) bool { return chains[i].Code < chains[j].Code })
	return chains, nil
}

// GetChain returns the chain with its steps in rank order.
func (s *Service) GetChain(ctx context.Context, id uuid.UUID) (models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.GetChain")
	defer span.End()

	chain, err := s.repo.GetChain(ctx, id)
	if err != nil {
		return models.CatalogChain{}, err
	}
	sortSteps(chain.Steps)
	return *chain, nil
}

// ListStepsFor returns a chain's steps ordered by rank.
func (s *Service) ListStepsFor(ctx context.Context, chainID uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.ListStepsFor")
	defer span.End()

	steps, err := s.repo.ListSteps(ctx, chainID)
	if err != nil {
		return nil, err
	}
	sortSteps(steps)
	return steps, nil
}

func (s *Service) GetStep(ctx context.Context, stepID uuid.UUID) (models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.GetStep")
	defer span.End()

	step, err := s.repo.GetStep(ctx, stepID)
	if err != nil {
		return models.Step{}, err
	}
	return *step, nil
}

func (s *Service) CreateChain(ctx context.Context, req models.CreateChainRequest) (models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.CreateChain")
	defer span.End()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return models.CatalogChain{}, httperror.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	chain := models.CatalogChain{
		ID:          uuid.New(),
		Code:        code,
		Description: req.Description,
	}
	if err := s.repo.CreateChain(ctx, &chain); err != nil {
		return models.CatalogChain{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id":   chain.ID,
		"chain_code": chain.Code,
	}).Info("created catalog chain")
	return chain, nil
}

// UpdateChain stores a new version of the chain's description.
func (s *Service) UpdateChain(ctx context.Context, id uuid.UUID, req models.UpdateChainRequest) (models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.UpdateChain")
	defer span.End()

	chain := models.CatalogChain{ID: id, Description: req.Description}
	if err := s.repo.UpdateChain(ctx, &chain); err != nil {
		return models.CatalogChain{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": id,
		"version":  chain.Version,
	}).Info("updated catalog chain")
	return chain, nil
}

// RetireChain keeps the chain readable but stops new attachments.
func (s *Service) RetireChain(ctx context.Context, id uuid.UUID) (models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.RetireChain")
	defer span.End()

	chain, err := s.repo.RetireChain(ctx, id)
	if err != nil {
		return models.CatalogChain{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": id,
	}).Info("retired catalog chain")
	return *chain, nil
}

func (s *Service) AddStep(ctx context.Context, chainID uuid.UUID, req models.CreateStepRequest) (models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.AddStep")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Step{}, httperror.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.Rank < 0 {
		return models.Step{}, httperror.NewHTTPError(http.StatusBadRequest, "rank must not be negative")
	}

	step := models.Step{
		ID:      uuid.New(),
		ChainID: chainID,
		Name:    name,
		Rank:    req.Rank,
	}
	if err := s.repo.CreateStep(ctx, &step); err != nil {
		return models.Step{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": chainID,
		"step_id":  step.ID,
		"rank":     step.Rank,
	}).Info("added catalog step")
	return step, nil
}

func (s *Service) AddStepFile(ctx context.Context, stepID uuid.UUID, req models.CreateStepFileRequest) (models.StepFile, error) {
	ctx, span := tracing.StartSpan(ctx, "catalog.AddStepFile")
	defer span.End()

	if !req.Direction.Valid() {
		return models.StepFile{}, httperror.NewHTTPErrorf(http.StatusBadRequest, "direction must be IN or OUT, got %q", req.Direction)
	}
	logicalName := strings.TrimSpace(req.LogicalName)
	if logicalName == "" {
		return models.StepFile{}, httperror.NewHTTPError(http.StatusBadRequest, "logical_name is required")
	}

	file := models.StepFile{
		ID:                  uuid.New(),
		StepID:              stepID,
		Direction:           req.Direction,
		LogicalName:         logicalName,
		DefaultPhysicalName: req.DefaultPhysicalName,
		DefaultCopybook:     req.DefaultCopybook,
	}
	if err := s.repo.CreateStepFile(ctx, &file); err != nil {
		return models.StepFile{}, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id":      stepID,
		"step_file_id": file.ID,
		"direction":    file.Direction,
		"logical_name": file.LogicalName,
	}).Info("added catalog step file")
	return file, nil
}

func sortSteps(steps []models.Step) {
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Rank < steps[j].Rank })
}
