package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Execer is the subset of *pgxpool.Pool the collaborator needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PoolConfig holds connection pool settings for the hosted database.
type PoolConfig struct {
	URI      string
	MinConns int32
	MaxConns int32
	// Lazy skips the startup ping, so an unreachable server is not an error.
	Lazy bool
}

// NewPostgresPool opens and verifies a pgx pool.
func NewPostgresPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if cfg.Lazy {
		return pool, nil
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// PostgresCollaborator writes records into tables of the same name on a Postgres server.
// Every table is expected to have a text primary key column named id.
type PostgresCollaborator struct {
	db Execer
}

var _ Collaborator = (*PostgresCollaborator)(nil)

func NewPostgresCollaborator(db Execer) *PostgresCollaborator {
	return &PostgresCollaborator{db: db}
}

// Insert upserts the record so a replayed create converges to the same row.
func (c *PostgresCollaborator) Insert(ctx context.Context, table string, record map[string]any) error {
	cols, args := columns(record)
	if len(cols) == 0 {
		return fmt.Errorf("insert into %s: empty record", table)
	}
	if _, ok := record["id"]; !ok {
		return fmt.Errorf("insert into %s: record has no id", table)
	}

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	var sets []string
	for i, col := range cols {
		quoted[i] = pgx.Identifier{col}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		if col != "id" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO ",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(params, ", "))
	if len(sets) == 0 {
		sql += "NOTHING"
	} else {
		sql += "UPDATE SET " + strings.Join(sets, ", ")
	}

	if _, err := c.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Update applies partial to the row with the given id. Zero affected rows fails with
// ErrRowMissing so the entry is retried rather than acknowledged.
func (c *PostgresCollaborator) Update(ctx context.Context, table, id string, partial map[string]any) error {
	fields := make(map[string]any, len(partial))
	for k, v := range partial {
		if k != "id" {
			fields[k] = v
		}
	}
	cols, args := columns(fields)
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args))

	tag, err := c.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s/%s: %w", table, id, ErrRowMissing)
	}
	return nil
}

// Delete removes the row. Deleting an absent row succeeds.
func (c *PostgresCollaborator) Delete(ctx context.Context, table, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	if _, err := c.db.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Ping reports whether the underlying pool is reachable.
func (c *PostgresCollaborator) Ping(ctx context.Context) error {
	if p, ok := c.db.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// columns returns the keys of m in a stable order with the matching values.
func columns(m map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(m))
	for k := range m {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, k := range cols {
		args[i] = m[k]
	}
	return cols, args
}
