package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
)

const uniqueViolation = "23505"

var snapshotOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

// Repository provides the connection and logger shared by the postgres repositories
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new base repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// DB returns the database instance
func (r *Repository) DB() database.DB {
	return r.db
}

// Snapshot runs fn in a read-only repeatable-read transaction. Repository
// reads made with the ctx passed to fn all see the same committed state.
func (r *Repository) Snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.db, r.logger, snapshotOptions, func(ctx context.Context, _ database.Tx) error {
		return fn(ctx)
	})
}

func (r *Repository) read(ctx context.Context, fn func(ctx context.Context, q database.Queryer) error) error {
	return database.WithTx(ctx, r.db, r.logger, snapshotOptions, func(ctx context.Context, tx database.Tx) error {
		return fn(ctx, tx)
	})
}

func (r *Repository) write(ctx context.Context, fn func(ctx context.Context, q database.Queryer) error) error {
	return database.WithTx(ctx, r.db, r.logger, nil, func(ctx context.Context, tx database.Tx) error {
		return fn(ctx, tx)
	})
}

// conflictKinds maps unique constraints to the error callers get back.
var conflictKinds = map[string]ferrors.Kind{
	"catalog_chains_code_key":             ferrors.KindDuplicateCode,
	"catalog_steps_chain_rank_key":        ferrors.KindDuplicateCode,
	"catalog_step_files_logical_name_key": ferrors.KindDuplicateCode,
	"movements_code_key":                  ferrors.KindDuplicateCode,
	"movement_chains_movement_chain_key":  ferrors.KindAlreadyAttached,
	"movement_rules_file_message_key":     ferrors.KindDuplicateRule,
}

// uniqueConflict converts a unique violation into the matching config error.
func uniqueConflict(err error, format string, args ...any) (*ferrors.ConfigError, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil, false
	}

	kind, ok := conflictKinds[pqErr.Constraint]
	if !ok {
		kind = ferrors.KindDuplicateCode
	}

	var configErr *ferrors.ConfigError
	switch kind {
	case ferrors.KindAlreadyAttached:
		configErr = ferrors.AlreadyAttached(format, args...)
	case ferrors.KindDuplicateRule:
		configErr = ferrors.DuplicateRule(format, args...)
	default:
		configErr = ferrors.DuplicateCode(format, args...)
	}
	return configErr.With("constraint", pqErr.Constraint), true
}
