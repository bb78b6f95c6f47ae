package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	movementsTable      = "movements"
	movementChainsTable = "movement_chains"
	movementStepsTable  = "movement_steps"
	movementFilesTable  = "movement_files"
	movementRulesTable  = "movement_rules"
)

var movementStruct = database.NewStruct(new(models.Movement))

type movementChainRow struct {
	ID         uuid.UUID `db:"id"`
	MovementID uuid.UUID `db:"movement_id"`
	ChainID    uuid.UUID `db:"chain_id"`
	Code       string    `db:"code"`
}

type movementStepRow struct {
	ID              uuid.UUID `db:"id"`
	MovementChainID uuid.UUID `db:"movement_chain_id"`
	StepID          uuid.UUID `db:"step_id"`
	Name            string    `db:"name"`
	Rank            int       `db:"rank"`
	ActivatedBy     string    `db:"activated_by"`
	ActivatedAt     time.Time `db:"activated_at"`
}

type movementFileRow struct {
	ID             uuid.UUID `db:"id"`
	MovementStepID uuid.UUID `db:"movement_step_id"`
	StepFileID     uuid.UUID `db:"step_file_id"`
	LogicalName    string    `db:"logical_name"`
	IsMonitored    bool      `db:"is_monitored"`
	PhysicalName   *string   `db:"physical_name"`
	Copybook       *string   `db:"copybook"`
}

type movementRuleRow struct {
	models.Rule
	MovementFileID uuid.UUID `db:"movement_file_id"`
}

// MovementRepository handles database operations for movement configuration trees
type MovementRepository struct {
	*Repository
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db database.DB, logger ectologger.Logger) *MovementRepository {
	return &MovementRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a movement with no chains
func (r *MovementRepository) Create(ctx context.Context, movement *models.Movement) error {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.Create")
	defer span.End()

	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	movement.Version = 1
	movement.Chains = []models.ConfigChain{}

	ib := database.NewInsertBuilder()
	ib.InsertInto(movementsTable).
		Cols("id", "code", "description", "version", "created_by", "updated_by", "created_at", "updated_at").
		Values(movement.ID, movement.Code, movement.Description, movement.Version, movement.CreatedBy, movement.UpdatedBy,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.QueryRowxContext(ctx, query, args...).Scan(&movement.CreatedAt, &movement.UpdatedAt)
	})
	if conflict, ok := uniqueConflict(err, "movement code %s already exists", movement.Code); ok {
		return conflict.With("code", movement.Code)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_code": movement.Code,
		}).Error("failed to create movement")
		return fmt.Errorf("failed to create movement: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id":   movement.ID,
		"movement_code": movement.Code,
	}).Infof("Created %s", movementsTable)
	return nil
}

// GetByID returns the movement with its active configuration
func (r *MovementRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.GetByID")
	defer span.End()

	var movement *models.Movement
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		var err error
		movement, err = r.load(ctx, q, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id": id,
	}).Debugf("Retrieved %s by ID: %s", movementsTable, id)
	return movement, nil
}

// List returns every movement ordered by code
func (r *MovementRepository) List(ctx context.Context) ([]models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.List")
	defer span.End()

	movements := []models.Movement{}
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		sb := movementStruct.SelectFrom(movementsTable)
		sb.OrderBy("code")

		query, args := sb.Build()
		if err := q.SelectContext(ctx, &movements, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error("failed to list movements")
			return fmt.Errorf("failed to list movements: %w", err)
		}
		return r.attachTrees(ctx, q, movements)
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_count": len(movements),
	}).Debugf("Listed %s", movementsTable)
	return movements, nil
}

// Mutate locks the movement row, applies fn and rewrites the tree in the same transaction
func (r *MovementRepository) Mutate(ctx context.Context, id uuid.UUID, actor string, fn MutateFunc) (*models.Movement, error) {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.Mutate")
	defer span.End()

	var movement *models.Movement
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		var err error
		movement, err = r.load(ctx, q, id, true)
		if err != nil {
			return err
		}

		changed, err := fn(movement)
		if err != nil || !changed {
			return err
		}

		ub := database.NewUpdateBuilder()
		ub.Update(movementsTable).
			Set(
				ub.Add("version", 1),
				ub.Assign("updated_by", actor),
				ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
			).
			Where(ub.Equal("id", id))
		ub.SQL("RETURNING version, updated_by, updated_at")

		query, args := ub.Build()
		if err := q.QueryRowxContext(ctx, query, args...).Scan(&movement.Version, &movement.UpdatedBy, &movement.UpdatedAt); err != nil {
			return err
		}

		return r.replaceTree(ctx, q, movement)
	})
	if _, ok := ferrors.As(err); ok {
		return nil, err
	}
	if conflict, ok := uniqueConflict(err, "movement %s already holds this configuration", id); ok {
		return nil, conflict.With("movement_id", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_id": id,
		}).Error("failed to update movement configuration")
		return nil, fmt.Errorf("failed to update movement configuration: %w", err)
	}
	return movement, nil
}

// Delete removes the movement and, through foreign keys, its whole tree
func (r *MovementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(movementsTable).Where(db.Equal("id", id))

	query, args := db.Build()
	var affected int64
	err := r.write(ctx, func(ctx context.Context, q database.Queryer) error {
		result, err := q.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_id": id,
		}).Error("failed to delete movement")
		return fmt.Errorf("failed to delete movement: %w", err)
	}
	if affected == 0 {
		return ferrors.NotFound("movement %s does not exist", id).With("movement_id", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"movement_id": id,
	}).Infof("Deleted %s", movementsTable)
	return nil
}

// FindRule returns the id of the movement that owns the rule
func (r *MovementRepository) FindRule(ctx context.Context, ruleID uuid.UUID) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "MovementRepository.FindRule")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("mc.movement_id").
		From(movementRulesTable+" r").
		Join(movementFilesTable+" f", "f.id = r.movement_file_id").
		Join(movementStepsTable+" s", "s.id = f.movement_step_id").
		Join(movementChainsTable+" mc", "mc.id = s.movement_chain_id").
		Where(sb.Equal("r.id", ruleID))

	query, args := sb.Build()
	var movementID uuid.UUID
	err := r.read(ctx, func(ctx context.Context, q database.Queryer) error {
		return q.GetContext(ctx, &movementID, query, args...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ferrors.NotFound("rule %s does not exist", ruleID).With("rule_id", ruleID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"rule_id": ruleID,
		}).Error("failed to find rule")
		return uuid.Nil, fmt.Errorf("failed to find rule: %w", err)
	}
	return movementID, nil
}

func (r *MovementRepository) load(ctx context.Context, q database.Queryer, id uuid.UUID, forUpdate bool) (*models.Movement, error) {
	sb := movementStruct.SelectFrom(movementsTable)
	sb.Where(sb.Equal("id", id))
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var movement models.Movement
	err := q.GetContext(ctx, &movement, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.NotFound("movement %s does not exist", id).With("movement_id", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"movement_id": id,
		}).Error("failed to get movement")
		return nil, fmt.Errorf("failed to get movement: %w", err)
	}

	movements := []models.Movement{movement}
	if err := r.attachTrees(ctx, q, movements); err != nil {
		return nil, err
	}
	return &movements[0], nil
}

// attachTrees loads the stored configuration of every movement with one query per level.
func (r *MovementRepository) attachTrees(ctx context.Context, q database.Queryer, movements []models.Movement) error {
	if len(movements) == 0 {
		return nil
	}

	ids := make([]any, len(movements))
	byMovement := make(map[uuid.UUID]int, len(movements))
	for i := range movements {
		ids[i] = movements[i].ID
		byMovement[movements[i].ID] = i
		movements[i].Chains = []models.ConfigChain{}
	}

	cb := database.NewSelectBuilder()
	cb.Select("mc.id", "mc.movement_id", "mc.chain_id", "cc.code").
		From(movementChainsTable+" mc").
		Join(catalogChainsTable+" cc", "cc.id = mc.chain_id").
		Where(cb.In("mc.movement_id", ids...)).
		OrderBy("cc.code")
	var chains []movementChainRow
	if err := r.selectRows(ctx, q, cb, &chains); err != nil {
		return err
	}

	sb := database.NewSelectBuilder()
	sb.Select("ms.id", "ms.movement_chain_id", "ms.step_id", "cs.name", "cs.rank", "ms.activated_by", "ms.activated_at").
		From(movementStepsTable+" ms").
		Join(movementChainsTable+" mc", "mc.id = ms.movement_chain_id").
		Join(catalogStepsTable+" cs", "cs.id = ms.step_id").
		Where(sb.In("mc.movement_id", ids...)).
		OrderBy("cs.rank")
	var steps []movementStepRow
	if err := r.selectRows(ctx, q, sb, &steps); err != nil {
		return err
	}

	fb := database.NewSelectBuilder()
	fb.Select("mf.id", "mf.movement_step_id", "mf.step_file_id", "mf.logical_name", "mf.is_monitored", "mf.physical_name", "mf.copybook").
		From(movementFilesTable+" mf").
		Join(movementStepsTable+" ms", "ms.id = mf.movement_step_id").
		Join(movementChainsTable+" mc", "mc.id = ms.movement_chain_id").
		Where(fb.In("mc.movement_id", ids...)).
		OrderBy("mf.logical_name", "mf.id")
	var files []movementFileRow
	if err := r.selectRows(ctx, q, fb, &files); err != nil {
		return err
	}

	rb := database.NewSelectBuilder()
	rb.Select("mr.id", "mr.movement_file_id", "mr.message", "mr.fix_instruction", "mr.details", "mr.created_by", "mr.created_at").
		From(movementRulesTable+" mr").
		Join(movementFilesTable+" mf", "mf.id = mr.movement_file_id").
		Join(movementStepsTable+" ms", "ms.id = mf.movement_step_id").
		Join(movementChainsTable+" mc", "mc.id = ms.movement_chain_id").
		Where(rb.In("mc.movement_id", ids...)).
		OrderBy("mr.created_at", "mr.id")
	var rules []movementRuleRow
	if err := r.selectRows(ctx, q, rb, &rules); err != nil {
		return err
	}

	rulesByFile := map[uuid.UUID][]models.Rule{}
	for _, rule := range rules {
		rulesByFile[rule.MovementFileID] = append(rulesByFile[rule.MovementFileID], rule.Rule)
	}

	filesByStep := map[uuid.UUID][]models.FileConfig{}
	for _, file := range files {
		fileRules := rulesByFile[file.ID]
		if fileRules == nil {
			fileRules = []models.Rule{}
		}
		filesByStep[file.MovementStepID] = append(filesByStep[file.MovementStepID], models.FileConfig{
			ID:           file.ID,
			StepFileID:   file.StepFileID,
			LogicalName:  file.LogicalName,
			IsMonitored:  file.IsMonitored,
			PhysicalName: file.PhysicalName,
			Copybook:     file.Copybook,
			Rules:        fileRules,
		})
	}

	stepsByChain := map[uuid.UUID][]models.ConfigStep{}
	for _, step := range steps {
		stepFiles := filesByStep[step.ID]
		if stepFiles == nil {
			stepFiles = []models.FileConfig{}
		}
		stepsByChain[step.MovementChainID] = append(stepsByChain[step.MovementChainID], models.ConfigStep{
			ID:   step.StepID,
			Name: step.Name,
			Rank: step.Rank,
			State: models.Active{
				MovementStepID: step.ID,
				ActivatedBy:    step.ActivatedBy,
				ActivatedAt:    step.ActivatedAt,
			},
			Files: stepFiles,
		})
	}

	for _, chain := range chains {
		chainSteps := stepsByChain[chain.ID]
		if chainSteps == nil {
			chainSteps = []models.ConfigStep{}
		}
		i := byMovement[chain.MovementID]
		movements[i].Chains = append(movements[i].Chains, models.ConfigChain{
			ID:              chain.ChainID,
			MovementChainID: chain.ID,
			Code:            chain.Code,
			Steps:           chainSteps,
		})
	}
	return nil
}

func (r *MovementRepository) selectRows(ctx context.Context, q database.Queryer, sb *database.SelectBuilder, dest any) error {
	query, args := sb.Build()
	if err := q.SelectContext(ctx, dest, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to load movement configuration")
		return fmt.Errorf("failed to load movement configuration: %w", err)
	}
	return nil
}

// replaceTree rewrites the stored tree. Ids are kept, so movement_step_id and
// rule ids survive every rewrite. Inactive steps are never stored.
func (r *MovementRepository) replaceTree(ctx context.Context, q database.Queryer, movement *models.Movement) error {
	db := database.NewDeleteBuilder()
	db.DeleteFrom(movementChainsTable).Where(db.Equal("movement_id", movement.ID))
	query, args := db.Build()
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	chains := database.NewBatchInsert(movementChainsTable, "id", "movement_id", "chain_id")
	steps := database.NewBatchInsert(movementStepsTable, "id", "movement_chain_id", "step_id", "activated_by", "activated_at")
	files := database.NewBatchInsert(movementFilesTable, "id", "movement_step_id", "step_file_id", "logical_name", "is_monitored", "physical_name", "copybook")
	rules := database.NewBatchInsert(movementRulesTable, "id", "movement_file_id", "message", "fix_instruction", "details", "created_by", "created_at")

	for _, chain := range movement.Chains {
		chains.Add(chain.MovementChainID, movement.ID, chain.ID)

		for _, step := range chain.Steps {
			active, ok := step.State.(models.Active)
			if !ok {
				continue
			}
			steps.Add(active.MovementStepID, chain.MovementChainID, step.ID, active.ActivatedBy, active.ActivatedAt)

			for _, file := range step.Files {
				files.Add(file.ID, active.MovementStepID, file.StepFileID, file.LogicalName, file.IsMonitored, file.PhysicalName, file.Copybook)

				for _, rule := range file.Rules {
					rules.Add(rule.ID, file.ID, rule.Message, rule.FixInstruction, rule.Details, rule.CreatedBy, rule.CreatedAt)
				}
			}
		}
	}

	// parents first so foreign keys resolve
	for _, batch := range []*database.BatchInsert{chains, steps, files, rules} {
		for _, ib := range batch.Builders() {
			query, args := ib.Build()
			if _, err := q.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}
	}
	return nil
}
