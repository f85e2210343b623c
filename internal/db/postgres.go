package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/config"
)

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Connector opens a new pool. Swapped out in tests.
type Connector func(ctx context.Context) (*pgxpool.Pool, error)

// Gateway owns the process-wide connection pool. The pool is opened on first
// use and dropped after a fatal connection error so the next call reconnects.
type Gateway struct {
	connect Connector
	log     logrus.FieldLogger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewGateway(cfg *config.Config, log logrus.FieldLogger) *Gateway {
	return NewGatewayWithConnector(func(ctx context.Context) (*pgxpool.Pool, error) {
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
		if err != nil {
			return nil, errors.Wrap(err, "parse dsn")
		}
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.MinConns = 1
		poolCfg.MaxConnLifetime = 1 * time.Hour
		poolCfg.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, errors.Wrap(err, "open pool")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "ping")
		}
		return pool, nil
	}, log)
}

func NewGatewayWithConnector(connect Connector, log logrus.FieldLogger) *Gateway {
	return &Gateway{connect: connect, log: log.WithField("component", "db")}
}

// Pool returns the live pool, connecting if needed.
func (g *Gateway) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pool != nil {
		return g.pool, nil
	}
	pool, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	g.log.Info("[DB] Connected")
	g.pool = pool
	return pool, nil
}

// Invalidate closes the current pool; the next call reconnects.
func (g *Gateway) Invalidate() {
	g.mu.Lock()
	pool := g.pool
	g.pool = nil
	g.mu.Unlock()

	if pool != nil {
		g.log.Warn("[DB] Connection pool invalidated after fatal error")
		go pool.Close()
	}
}

func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool != nil {
		g.pool.Close()
		g.pool = nil
	}
}

func (g *Gateway) Ping(ctx context.Context) error {
	pool, err := g.Pool(ctx)
	if err != nil {
		return err
	}
	return g.check(pool.Ping(ctx))
}

// check invalidates the pool when err is a fatal connection error.
func (g *Gateway) check(err error) error {
	if err != nil && IsFatal(err) {
		g.Invalidate()
	}
	return err
}

func (g *Gateway) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	pool, err := g.Pool(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := pool.Exec(ctx, sql, args...)
	return tag, g.check(err)
}

func (g *Gateway) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	pool, err := g.Pool(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sql, args...)
	return rows, g.check(err)
}

func (g *Gateway) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	pool, err := g.Pool(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return checkedRow{row: pool.QueryRow(ctx, sql, args...), g: g}
}

// WithTx runs fn inside one transaction. The connection goes back to the pool
// on every exit path; any error from fn rolls the transaction back.
func (g *Gateway) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	pool, err := g.Pool(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return g.check(errors.Wrap(err, "begin"))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			g.log.WithError(rbErr).Warn("[DB] Rollback failed")
		}
		return g.check(err)
	}

	return g.check(errors.Wrap(tx.Commit(ctx), "commit"))
}

type errRow struct{ err error }

func (r errRow) Scan(...interface{}) error { return r.err }

type checkedRow struct {
	row pgx.Row
	g   *Gateway
}

func (r checkedRow) Scan(dest ...interface{}) error {
	return r.g.check(r.row.Scan(dest...))
}
