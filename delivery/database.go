package delivery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConnector upserts payloads into an external PostgreSQL table.
// The table needs columns (subject_id text primary key, payload jsonb,
// updated_at timestamptz); repeated deliveries for a subject overwrite
// the previous row.
type DatabaseConnector struct {
	pool  *pgxpool.Pool
	table string
}

// NewDatabaseConnector creates a database connector writing into table.
// The table name is interpolated into SQL and must come from
// configuration, never user input.
func NewDatabaseConnector(pool *pgxpool.Pool, table string) *DatabaseConnector {
	return &DatabaseConnector{pool: pool, table: table}
}

// Type returns "database".
func (c *DatabaseConnector) Type() string { return "database" }

// Deliver upserts one row keyed by subject ID.
func (c *DatabaseConnector) Deliver(ctx context.Context, subjectID string, data []byte, _ map[string]string) (*Result, error) {
	tag, err := c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (subject_id, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subject_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, c.table),
		subjectID, data,
	)
	if err != nil {
		return nil, fmt.Errorf("database: upsert into %s: %w", c.table, err)
	}

	return &Result{ResponseData: fmt.Sprintf("%d row(s)", tag.RowsAffected())}, nil
}
