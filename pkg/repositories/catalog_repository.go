package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	catalogChainsTable    = "catalog_chains"
	catalogStepsTable     = "catalog_steps"
	catalogStepFilesTable = "catalog_step_files"
)

var (
	catalogChainStruct    = database.NewStruct(new(models.CatalogChain))
	catalogStepStruct     = database.NewStruct(new(models.Step))
	catalogStepFileStruct = database.NewStruct(new(models.StepFile))
)

// CatalogRepository handles database operations for the catalog
type CatalogRepository struct {
	*Repository
}

// NewCatalogRepository creates a new catalog repository
func NewCatalogRepository(db database.DB, logger ectologger.Logger) *CatalogRepository {
	return &CatalogRepository{
		Repository: NewRepository(db, logger),
	}
}

// ListChains returns every chain ordered by code, without steps
func (r *CatalogRepository) ListChains(ctx context.Context) ([]models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.ListChains")
	defer span.End()

	sb := catalogChainStruct.SelectFrom(catalogChainsTable)
	sb.OrderBy("code")

	query, args := sb.Build()
	chains := []models.CatalogChain{}
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.SelectContext(ctx, &chains, query, args...)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list catalog chains")
		return nil, fmt.Errorf("failed to list catalog chains: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_count": len(chains),
	}).Debugf("Listed %s", catalogChainsTable)
	return chains, nil
}

// GetChain returns the chain with its steps and their possible files
func (r *CatalogRepository) GetChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.GetChain")
	defer span.End()

	var chain models.CatalogChain
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		found, err := r.getChain(ctx, q, id)
		if err != nil {
			return err
		}
		chain = *found

		chain.Steps, err = r.selectSteps(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": id,
	}).Debugf("Retrieved %s by ID: %s", catalogChainsTable, id)
	return &chain, nil
}

// ListSteps returns the chain's steps ordered by rank
func (r *CatalogRepository) ListSteps(ctx context.Context, chainID uuid.UUID) ([]models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.ListSteps")
	defer span.End()

	var steps []models.Step
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		if _, err := r.getChain(ctx, q, chainID); err != nil {
			return err
		}

		var err error
		steps, err = r.selectSteps(ctx, q, chainID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// GetStep returns a single step with its possible files
func (r *CatalogRepository) GetStep(ctx context.Context, stepID uuid.UUID) (*models.Step, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.GetStep")
	defer span.End()

	var step models.Step
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		sb := catalogStepStruct.SelectFrom(catalogStepsTable)
		sb.Where(sb.Equal("id", stepID))

		query, args := sb.Build()
		err := q.GetContext(ctx, &step, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return ferrors.NotFound("step %s does not exist", stepID).With("step_id", stepID)
		}
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"step_id": stepID,
			}).Error("failed to get catalog step")
			return fmt.Errorf("failed to get catalog step: %w", err)
		}

		fb := catalogStepFileStruct.SelectFrom(catalogStepFilesTable)
		fb.Where(fb.Equal("step_id", stepID))
		fb.OrderBy("direction", "logical_name")

		query, args = fb.Build()
		step.PossibleFiles = []models.StepFile{}
		if err := q.SelectContext(ctx, &step.PossibleFiles, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"step_id": stepID,
			}).Error("failed to list step files")
			return fmt.Errorf("failed to list step files: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// CreateChain inserts a new chain at version 1
func (r *CatalogRepository) CreateChain(ctx context.Context, chain *models.CatalogChain) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.CreateChain")
	defer span.End()

	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	chain.Version = 1

	ib := database.NewInsertBuilder()
	ib.InsertInto(catalogChainsTable).
		Cols("id", "code", "description", "version", "created_at", "updated_at").
		Values(chain.ID, chain.Code, chain.Description, chain.Version, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.QueryRowxContext(ctx, query, args...).Scan(&chain.CreatedAt, &chain.UpdatedAt)
	})
	if conflict, ok := uniqueConflict(err, "chain code %s already exists", chain.Code); ok {
		return conflict.With("code", chain.Code)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_code": chain.Code,
		}).Error("failed to create catalog chain")
		return fmt.Errorf("failed to create catalog chain: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id":   chain.ID,
		"chain_code": chain.Code,
	}).Infof("Created %s", catalogChainsTable)
	return nil
}

// UpdateChain stores a new description and bumps the version
func (r *CatalogRepository) UpdateChain(ctx context.Context, chain *models.CatalogChain) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.UpdateChain")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(catalogChainsTable).
		Set(
			ub.Assign("description", chain.Description),
			ub.Add("version", 1),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", chain.ID))
	ub.SQL("RETURNING code, version, retired_at, created_at, updated_at")

	query, args := ub.Build()
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.QueryRowxContext(ctx, query, args...).
			Scan(&chain.Code, &chain.Version, &chain.RetiredAt, &chain.CreatedAt, &chain.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ferrors.NotFound("chain %s does not exist", chain.ID).With("chain_id", chain.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": chain.ID,
		}).Error("failed to update catalog chain")
		return fmt.Errorf("failed to update catalog chain: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": chain.ID,
		"version":  chain.Version,
	}).Infof("Updated %s", catalogChainsTable)
	return nil
}

// RetireChain marks the chain retired. Retiring twice keeps the first timestamp.
func (r *CatalogRepository) RetireChain(ctx context.Context, id uuid.UUID) (*models.CatalogChain, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.RetireChain")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(catalogChainsTable).
		Set(
			ub.Assign("retired_at", sqlbuilder.Raw("COALESCE(retired_at, NOW())")),
			ub.Add("version", 1),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))
	ub.SQL("RETURNING id, code, description, version, retired_at, created_at, updated_at")

	query, args := ub.Build()
	var chain models.CatalogChain
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &chain, query, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NotFound("chain %s does not exist", id).With("chain_id", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": id,
		}).Error("failed to retire catalog chain")
		return nil, fmt.Errorf("failed to retire catalog chain: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": id,
	}).Infof("Retired %s", catalogChainsTable)
	return &chain, nil
}

// CreateStep adds a step to an existing, non-retired chain
func (r *CatalogRepository) CreateStep(ctx context.Context, step *models.Step) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.CreateStep")
	defer span.End()

	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}

	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		// lock the chain row so a concurrent retirement cannot slip in between
		sb := catalogChainStruct.SelectFrom(catalogChainsTable)
		sb.Where(sb.Equal("id", step.ChainID))
		sb.ForUpdate()

		query, args := sb.Build()
		var chain models.CatalogChain
		err := q.GetContext(ctx, &chain, query, args...)
		if errors.Is(err, sql.ErrNoRows) {
			return ferrors.NotFound("chain %s does not exist", step.ChainID).With("chain_id", step.ChainID)
		}
		if err != nil {
			return err
		}
		if chain.IsRetired() {
			return ferrors.InvalidState("chain %s is retired", chain.Code).With("chain_id", chain.ID)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(catalogStepsTable).
			Cols("id", "chain_id", "name", "rank", "created_at").
			Values(step.ID, step.ChainID, step.Name, step.Rank, sqlbuilder.Raw("NOW()")).
			Returning("created_at")

		query, args = ib.Build()
		if err := q.QueryRowxContext(ctx, query, args...).Scan(&step.CreatedAt); err != nil {
			return err
		}
		return r.bumpChainVersion(ctx, q, step.ChainID)
	})
	if _, ok := ferrors.As(err); ok {
		return err
	}
	if conflict, ok := uniqueConflict(err, "rank %d is already used in chain %s", step.Rank, step.ChainID); ok {
		return conflict.With("rank", step.Rank)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": step.ChainID,
		}).Error("failed to create catalog step")
		return fmt.Errorf("failed to create catalog step: %w", err)
	}

	if step.PossibleFiles == nil {
		step.PossibleFiles = []models.StepFile{}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"chain_id": step.ChainID,
		"step_id":  step.ID,
		"rank":     step.Rank,
	}).Infof("Created %s", catalogStepsTable)
	return nil
}

// CreateStepFile adds a possible file to an existing step
func (r *CatalogRepository) CreateStepFile(ctx context.Context, file *models.StepFile) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.CreateStepFile")
	defer span.End()

	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}

	sb := database.NewSelectBuilder()
	sb.Select("chain_id").From(catalogStepsTable).Where(sb.Equal("id", file.StepID))
	chainQuery, chainArgs := sb.Build()

	ib := database.NewInsertBuilder()
	ib.InsertInto(catalogStepFilesTable).
		Cols("id", "step_id", "direction", "logical_name", "default_physical_name", "default_copybook", "created_at").
		Values(file.ID, file.StepID, file.Direction, file.LogicalName, file.DefaultPhysicalName, file.DefaultCopybook, sqlbuilder.Raw("NOW()")).
		Returning("created_at")
	insertQuery, insertArgs := ib.Build()

	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		var chainID uuid.UUID
		err := q.GetContext(ctx, &chainID, chainQuery, chainArgs...)
		if errors.Is(err, sql.ErrNoRows) {
			return ferrors.NotFound("step %s does not exist", file.StepID).With("step_id", file.StepID)
		}
		if err != nil {
			return err
		}
		if err := q.QueryRowxContext(ctx, insertQuery, insertArgs...).Scan(&file.CreatedAt); err != nil {
			return err
		}
		return r.bumpChainVersion(ctx, q, chainID)
	})
	if _, ok := ferrors.As(err); ok {
		return err
	}
	if conflict, ok := uniqueConflict(err, "file %s already exists as %s on step %s", file.LogicalName, file.Direction, file.StepID); ok {
		return conflict.With("logical_name", file.LogicalName)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"step_id": file.StepID,
		}).Error("failed to create catalog step file")
		return fmt.Errorf("failed to create catalog step file: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"step_id":      file.StepID,
		"step_file_id": file.ID,
		"direction":    file.Direction,
	}).Infof("Created %s", catalogStepFilesTable)
	return nil
}

// bumpChainVersion records that the chain's step layout changed.
func (r *CatalogRepository) bumpChainVersion(ctx context.Context, q database.Queryer, chainID uuid.UUID) error {
	ub := database.NewUpdateBuilder()
	ub.Update(catalogChainsTable).
		Set(
			ub.Add("version", 1),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", chainID))

	query, args := ub.Build()
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

func (r *CatalogRepository) getChain(ctx context.Context, q database.Queryer, id uuid.UUID) (*models.CatalogChain, error) {
	sb := catalogChainStruct.SelectFrom(catalogChainsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var chain models.CatalogChain
	err := q.GetContext(ctx, &chain, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NotFound("chain %s does not exist", id).With("chain_id", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": id,
		}).Error("failed to get catalog chain")
		return nil, fmt.Errorf("failed to get catalog chain: %w", err)
	}
	return &chain, nil
}

// selectSteps loads a chain's steps in rank order and attaches their files.
func (r *CatalogRepository) selectSteps(ctx context.Context, q database.Queryer, chainID uuid.UUID) ([]models.Step, error) {
	sb := catalogStepStruct.SelectFrom(catalogStepsTable)
	sb.Where(sb.Equal("chain_id", chainID))
	sb.OrderBy("rank")

	query, args := sb.Build()
	steps := []models.Step{}
	if err := q.SelectContext(ctx, &steps, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": chainID,
		}).Error("failed to list catalog steps")
		return nil, fmt.Errorf("failed to list catalog steps: %w", err)
	}

	fb := database.NewSelectBuilder()
	fb.Select("f.id", "f.step_id", "f.direction", "f.logical_name", "f.default_physical_name", "f.default_copybook", "f.created_at").
		From(catalogStepFilesTable+" f").
		Join(catalogStepsTable+" s", "s.id = f.step_id").
		Where(fb.Equal("s.chain_id", chainID)).
		OrderBy("f.direction", "f.logical_name")

	query, args = fb.Build()
	var files []models.StepFile
	if err := q.SelectContext(ctx, &files, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"chain_id": chainID,
		}).Error("failed to list catalog step files")
		return nil, fmt.Errorf("failed to list catalog step files: %w", err)
	}

	byStep := make(map[uuid.UUID]int, len(steps))
	for i := range steps {
		steps[i].PossibleFiles = []models.StepFile{}
		byStep[steps[i].ID] = i
	}
	for _, file := range files {
		if i, ok := byStep[file.StepID]; ok {
			steps[i].PossibleFiles = append(steps[i].PossibleFiles, file)
		}
	}
	return steps, nil
}
