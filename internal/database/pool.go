// Package database implements the persistence layer: the bounded
// connection pool, the WithTx short-transaction helper that is the
// architectural backbone of P3 (no transaction ever spans subprocess
// or network I/O), and the goose-driven migration runner.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/pkg/logging"
)

// Pool wraps a pgxpool.Pool (for the bounded-pool semantics spec.md
// §4.1 calls for) and exposes an *sqlx.DB view over the same
// connections for the repository query layer, plus the WithTx helper.
type Pool struct {
	pgx  *pgxpool.Pool
	sqlx *sqlx.DB

	transactionCeiling time.Duration
	log                *zap.SugaredLogger
}

// Open dials Postgres with a bounded pool sized maxOpen+burst (default
// 10+5) and wraps it for both pgx-native and sqlx-based callers.
func Open(ctx context.Context, dsn string, maxOpen, burst int, transactionCeiling time.Duration, log *zap.SugaredLogger) (*Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pgxCfg.MaxConns = int32(maxOpen + burst)
	pgxCfg.MinConns = 0

	pgxPool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	// sqlx sits on a stdlib *sql.DB opened through pgx's database/sql
	// driver so the repository layer can use familiar database/sql query
	// idioms, while pgxpool serves the pgx-native callers (Ping,
	// migrations, advisory locks). The LISTEN/NOTIFY listener in
	// listener.go opens its own lib/pq connection and uses neither pool.
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("open sqlx database: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen + burst)
	sqlDB.SetMaxIdleConns(burst)

	return &Pool{
		pgx:                pgxPool,
		sqlx:               sqlx.NewDb(sqlDB, "pgx"),
		transactionCeiling: transactionCeiling,
		log:                log,
	}, nil
}

// DB returns the sqlx handle for direct repository queries outside a
// transaction (the common read path).
func (p *Pool) DB() *sqlx.DB {
	return p.sqlx
}

// Close releases both underlying pools.
func (p *Pool) Close() {
	_ = p.sqlx.Close()
	p.pgx.Close()
}

// WithTx opens a transaction, passes it to fn, commits on success and
// rolls back on panic or error. It is explicitly forbidden from
// spanning any blocking non-DB I/O: a watchdog logs and aborts the
// transaction if it stays open longer than the configured wall-clock
// ceiling (default 2s), which is how this codebase enforces "no
// subprocess or network I/O with a DB handle held" (spec.md §4.1, P3).
func (p *Pool) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	txCtx, abort := context.WithCancel(ctx)
	defer abort()
	tx, err := p.sqlx.BeginTxx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	done := make(chan struct{})
	go p.watchTransactionCeiling(watchCtx, done, abort)

	defer func() {
		cancelWatch()
		close(done)
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				p.log.Errorw("transaction rollback failed",
					logging.NewFields().Component("database").Error(rbErr).Pairs()...)
			}
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

func (p *Pool) watchTransactionCeiling(ctx context.Context, done <-chan struct{}, abort context.CancelFunc) {
	timer := time.NewTimer(p.transactionCeiling)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-ctx.Done():
		return
	case <-timer.C:
		p.log.Errorw("transaction exceeded wall-clock ceiling — likely blocking I/O held a DB handle",
			logging.NewFields().Component("database").Operation("with_tx").Pairs()...)
		abort()
	}
}

// Ping verifies the pool can reach Postgres, used by the /health
// handler (spec.md §4.11) and startup.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pgx.Ping(ctx)
}

// PgxPool exposes the underlying pgxpool.Pool for callers (migrations,
// advisory locks) that need pgx-native APIs.
func (p *Pool) PgxPool() *pgxpool.Pool {
	return p.pgx
}

