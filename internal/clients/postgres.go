package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

const postgresProbeName = "postgres"

const countImagesSQL = `SELECT COUNT(*) FROM T_IMAGE WHERE IMAGE_CODE = $1`

// pgUndefinedTable is the SQLSTATE for a missing relation.
const pgUndefinedTable = "42P01"

// errSchemaMissing means the store tables have not been migrated yet.
var errSchemaMissing = errors.New("store schema not migrated")

// dbConn abstracts the pgxpool.Pool methods used by PostgresClient so that
// tests can inject a fake without standing up a real database.
type dbConn interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresClient reads the store database through a pgx pool guarded by a
// circuit breaker. It is the existence guard of the bootstrap: every call hits
// the database, nothing is cached.
type PostgresClient struct {
	cfg     config.PostgresConfig
	cb      *gobreaker.CircuitBreaker
	connect func(ctx context.Context, cfg config.PostgresConfig) (dbConn, error)

	mu   sync.Mutex
	pool dbConn
}

// NewPostgresClient creates a PostgresClient that lazily opens a pgx pool on
// first use. No connection is made at construction time.
func NewPostgresClient(cfg config.PostgresConfig, cb *gobreaker.CircuitBreaker) *PostgresClient {
	return &PostgresClient{
		cfg:     cfg,
		cb:      cb,
		connect: realConnect,
	}
}

// CountImagesByCode returns how many image rows carry imageCode.
func (c *PostgresClient) CountImagesByCode(ctx context.Context, imageCode string) (int, error) {
	res, err := c.cb.Execute(func() (any, error) {
		pool, err := c.db(ctx)
		if err != nil {
			return nil, err
		}

		var count int
		if err := pool.QueryRow(ctx, countImagesSQL, imageCode).Scan(&count); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
				return nil, fmt.Errorf("counting images %s: %w: %s", imageCode, errSchemaMissing, pgErr.Message)
			}
			return nil, fmt.Errorf("counting images %s: %w", imageCode, err)
		}
		return count, nil
	})
	if err != nil {
		return 0, breakerError("postgres", err)
	}
	return res.(int), nil
}

// Probe pings the Postgres server and checks that the image table is
// readable. It wraps the check in the circuit breaker so that persistent
// failures trip the breaker after three consecutive errors.
func (c *PostgresClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		pool, err := c.db(ctx)
		if err != nil {
			return nil, err
		}

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}

		var exists int
		row := pool.QueryRow(ctx,
			"SELECT 1 FROM information_schema.tables WHERE lower(table_name)='t_image'",
		)
		if err := row.Scan(&exists); err != nil {
			return nil, fmt.Errorf("T_IMAGE table not found: %w", err)
		}

		return nil, nil
	})

	return probeResult(postgresProbeName, start, err)
}

// Close closes the pool if it was opened.
func (c *PostgresClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

// db returns the shared pool, opening it on first use. A failed open is
// retried on the next call.
func (c *PostgresClient) db(ctx context.Context) (dbConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := c.connect(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

// postgresDSN builds a connection URL with every component escaped.
func postgresDSN(cfg config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.DB,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

// realConnect opens a pgxpool.Pool using the provided PostgresConfig.
func realConnect(ctx context.Context, cfg config.PostgresConfig) (dbConn, error) {
	poolCfg, err := pgxpool.ParseConfig(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	return pool, nil
}
