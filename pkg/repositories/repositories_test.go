package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// getTestDB starts a throwaway postgres and applies the project migrations.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fern"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := getTestLogger()
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.Migrate(db.DB, "fern"))

	return database.NewDatabaseInstance(db, logger)
}

func TestPostgresRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db := getTestDB(t)
	logger := getTestLogger()
	catalog := repositories.NewCatalogRepository(db, logger)
	movements := repositories.NewMovementRepository(db, logger)

	chain := &models.CatalogChain{Code: "CHAIN_A", Description: "nightly"}
	require.NoError(t, catalog.CreateChain(ctx, chain))
	extract := &models.Step{ChainID: chain.ID, Name: "Extract", Rank: 1}
	require.NoError(t, catalog.CreateStep(ctx, extract))
	output := &models.StepFile{StepID: extract.ID, Direction: models.DirectionOut, LogicalName: "TXN", DefaultPhysicalName: "TXN.OUT"}
	require.NoError(t, catalog.CreateStepFile(ctx, output))

	t.Run("catalog uniqueness", func(t *testing.T) {
		err := catalog.CreateChain(ctx, &models.CatalogChain{Code: "CHAIN_A"})
		assert.ErrorIs(t, err, ferrors.ErrDuplicateCode)

		err = catalog.CreateStep(ctx, &models.Step{ChainID: chain.ID, Name: "Again", Rank: 1})
		assert.ErrorIs(t, err, ferrors.ErrDuplicateCode)

		err = catalog.CreateStepFile(ctx, &models.StepFile{StepID: extract.ID, Direction: models.DirectionOut, LogicalName: "TXN"})
		assert.ErrorIs(t, err, ferrors.ErrDuplicateCode)

		_, err = catalog.GetChain(ctx, uuid.New())
		assert.ErrorIs(t, err, ferrors.ErrNotFound)
	})

	t.Run("catalog reads", func(t *testing.T) {
		loaded, err := catalog.GetChain(ctx, chain.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.Version)
		require.Len(t, loaded.Steps, 1)
		require.Len(t, loaded.Steps[0].PossibleFiles, 1)
		assert.Equal(t, "TXN.OUT", loaded.Steps[0].PossibleFiles[0].DefaultPhysicalName)

		step, err := catalog.GetStep(ctx, extract.ID)
		require.NoError(t, err)
		assert.Equal(t, "Extract", step.Name)
	})

	t.Run("movement tree round trip", func(t *testing.T) {
		movement := &models.Movement{Code: "VIR001", Description: "Virement", CreatedBy: "op", UpdatedBy: "op"}
		require.NoError(t, movements.Create(ctx, movement))

		movementStepID, ruleID := uuid.New(), uuid.New()
		physical := "TXN.OVERRIDE"
		updated, err := movements.Mutate(ctx, movement.ID, "op", func(m *models.Movement) (bool, error) {
			m.Chains = append(m.Chains, models.ConfigChain{
				ID:              chain.ID,
				MovementChainID: uuid.New(),
				Code:            chain.Code,
				Steps: []models.ConfigStep{{
					ID:    extract.ID,
					State: models.Active{MovementStepID: movementStepID, ActivatedBy: "op", ActivatedAt: time.Now().UTC()},
					Files: []models.FileConfig{{
						ID:           uuid.New(),
						StepFileID:   output.ID,
						LogicalName:  output.LogicalName,
						IsMonitored:  true,
						PhysicalName: &physical,
						Rules:        []models.Rule{{ID: ruleID, Message: "File missing", FixInstruction: "Rerun", CreatedAt: time.Now().UTC()}},
					}},
				}},
			})
			return true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)

		loaded, err := movements.GetByID(ctx, movement.ID)
		require.NoError(t, err)
		require.Len(t, loaded.Chains, 1)
		require.Len(t, loaded.Chains[0].Steps, 1)
		step := loaded.Chains[0].Steps[0]
		id, ok := step.MovementStepID()
		require.True(t, ok)
		assert.Equal(t, movementStepID, id)
		assert.Equal(t, "Extract", step.Name)
		require.Len(t, step.Files, 1)
		assert.Equal(t, "TXN.OVERRIDE", *step.Files[0].PhysicalName)
		assert.Nil(t, step.Files[0].Copybook)
		require.Len(t, step.Files[0].Rules, 1)

		owner, err := movements.FindRule(ctx, ruleID)
		require.NoError(t, err)
		assert.Equal(t, movement.ID, owner)

		// a failing mutation leaves the stored tree as it was
		_, err = movements.Mutate(ctx, movement.ID, "op", func(m *models.Movement) (bool, error) {
			m.Chains = nil
			return true, ferrors.InvalidState("nope")
		})
		assert.ErrorIs(t, err, ferrors.ErrInvalidState)

		// the duplicate rule reaches the unique constraint
		_, err = movements.Mutate(ctx, movement.ID, "op", func(m *models.Movement) (bool, error) {
			file := &m.Chains[0].Steps[0].Files[0]
			file.Rules = append(file.Rules, models.Rule{ID: uuid.New(), Message: "File missing", CreatedAt: time.Now().UTC()})
			return true, nil
		})
		assert.ErrorIs(t, err, ferrors.ErrDuplicateRule)

		unchanged, err := movements.GetByID(ctx, movement.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, unchanged.Version)
		assert.Len(t, unchanged.Chains[0].Steps[0].Files[0].Rules, 1)

		// deactivation is removal of the stored step and everything below it
		_, err = movements.Mutate(ctx, movement.ID, "op", func(m *models.Movement) (bool, error) {
			return m.Chains[0].RemoveStep(extract.ID), nil
		})
		require.NoError(t, err)
		_, err = movements.FindRule(ctx, ruleID)
		assert.ErrorIs(t, err, ferrors.ErrNotFound)

		listed, err := movements.List(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Len(t, listed[0].Chains, 1)

		require.NoError(t, movements.Delete(ctx, movement.ID))
		_, err = movements.GetByID(ctx, movement.ID)
		assert.ErrorIs(t, err, ferrors.ErrNotFound)
	})
}
