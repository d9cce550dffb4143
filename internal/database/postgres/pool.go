// Package postgres manages the pgx connection pool shared by the stores.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anders-planck/parseur/internal/core"
)

// Config holds connection pool settings.
type Config struct {
	// URL is the connection string (DB_URL). Required.
	URL string `mapstructure:"url"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`

	// TxAcquireTimeout bounds waiting for a connection to begin a
	// transaction; TxTimeout bounds the whole transaction.
	TxAcquireTimeout time.Duration `mapstructure:"tx_acquire_timeout"`
	TxTimeout        time.Duration `mapstructure:"tx_timeout"`
}

func (c *Config) withDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.MinConns < 0 {
		c.MinConns = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.TxAcquireTimeout <= 0 {
		c.TxAcquireTimeout = 5 * time.Second
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = 10 * time.Second
	}
}

// Pool wraps pgxpool with health checking and transaction helpers. One
// instance is shared process-wide; pgxpool is safe for concurrent use.
type Pool struct {
	*pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// Connect parses the configuration, opens the pool and verifies it with a
// ping.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.withDefaults()
	if cfg.URL == "" {
		return nil, core.NewError(core.KindValidation, "database URL is required", nil)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, core.NewError(core.KindValidation, "invalid database URL", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, core.NewError(core.KindDatabase, "create connection pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, core.NewError(core.KindDatabase, "database unreachable", err)
	}

	logger.Info("database connected",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return &Pool{Pool: pool, cfg: cfg, logger: logger.With("component", "postgres")}, nil
}

// Health pings the database.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return core.NewError(core.KindDatabase, "database health check failed", err)
	}
	return nil
}

// WithTx runs fn inside a transaction with the configured acquire and
// total deadlines. The transaction rolls back on error or panic.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, p.cfg.TxAcquireTimeout)
	tx, err := p.Begin(acquireCtx)
	cancelAcquire()
	if err != nil {
		return core.NewError(core.KindDatabase, "begin transaction", err)
	}

	txCtx, cancel := context.WithTimeout(ctx, p.cfg.TxTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(context.Background())
			panic(r)
		}
	}()

	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(context.Background()); rbErr != nil && rbErr != pgx.ErrTxClosed {
			p.logger.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(txCtx); err != nil {
		return core.NewError(core.KindDatabase, "commit transaction", err)
	}
	return nil
}

// Stats exposes pool numbers for the readiness endpoint.
func (p *Pool) Stats() string {
	s := p.Stat()
	return fmt.Sprintf("total=%d idle=%d acquired=%d", s.TotalConns(), s.IdleConns(), s.AcquiredConns())
}
