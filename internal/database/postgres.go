// Package database provides the PostgreSQL and Redis stores behind the
// learner agent.
//
// PostgreSQL holds the durable rows: directory accounts, profiles, the
// activity log, lesson completions, course progress and the course catalog.
// Redis holds the short-lived state: the client's current session, device
// sessions, refresh tokens, the revocation blacklist, rate limit counters and
// the directory event channel.
//
// Row operations fail with ErrNotFound or ErrDuplicateKey where the caller
// has to tell those apart from a transient failure.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// TxFunc runs inside a transaction opened by WithTransaction.
type TxFunc func(tx *sql.Tx) error

// Querier is satisfied by both *sql.DB and *sql.Tx so row helpers can run
// inside or outside a transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresDB is the relational store.
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB opens a connection pool and pings it, retrying with
// exponential backoff for up to 30 seconds so the agent can start before the
// database container is ready.
//
// Example:
//
//	db, err := database.NewPostgresDB(&cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	var db *sql.DB
	var connErr error

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	err := utils.Retry(ctx, retryConfig, func() error {
		var err error
		db, err = sql.Open("postgres", cfg.DSN())
		if err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return err
		}

		return nil
	})

	if err != nil {
		if connErr != nil {
			return nil, fmt.Errorf("failed to connect to database after retries: %w", connErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	return &PostgresDB{db: db}, nil
}

// NewPostgresDBFromConn wraps an existing pool. Used by tests that bring
// their own *sql.DB.
func NewPostgresDBFromConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// Close releases the pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping reports whether the database answers. Used by the readiness probe.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigrations applies the idempotent schema in Schema.
func (p *PostgresDB) RunMigrations(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// WithTransaction runs fn in a transaction, committing when fn returns nil
// and rolling back on error or panic.
//
// Example:
//
//	err := db.WithTransaction(ctx, func(tx *sql.Tx) error {
//	    if err := deleteLearningRows(ctx, tx, userID); err != nil {
//	        return err
//	    }
//	    return deleteAuthUserRow(ctx, tx, userID)
//	})
func (p *PostgresDB) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
