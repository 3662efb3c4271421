//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS equipment (
	id                        UUID PRIMARY KEY,
	asset_tag                 TEXT NOT NULL,
	name                      TEXT NOT NULL,
	criticality               TEXT NOT NULL,
	qualification_status      TEXT NOT NULL,
	status                    TEXT NOT NULL,
	restricted                BOOLEAN NOT NULL DEFAULT FALSE,
	manual_hold               BOOLEAN NOT NULL DEFAULT FALSE,
	calibration_interval_days INTEGER NOT NULL,
	last_calibration_at       TIMESTAMPTZ,
	calibration_due_at        TIMESTAMPTZ,
	pm_interval_days          INTEGER NOT NULL DEFAULT 0,
	pm_due_at                 TIMESTAMPTZ,
	usage_hours_per_week      INTEGER NOT NULL DEFAULT 0,
	retired_at                TIMESTAMPTZ,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS equipment_asset_tag_key ON equipment (lower(asset_tag));

CREATE TABLE IF NOT EXISTS calibration_tasks (
	id           UUID PRIMARY KEY,
	equipment_id UUID NOT NULL REFERENCES equipment (id),
	task_type    TEXT NOT NULL,
	due_at       TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	result       TEXT,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS calibration_tasks_open_key
	ON calibration_tasks (equipment_id, task_type)
	WHERE status IN ('pending', 'in_progress');

CREATE TABLE IF NOT EXISTS pm_tasks (
	id           UUID PRIMARY KEY,
	equipment_id UUID NOT NULL REFERENCES equipment (id),
	due_at       TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS pm_tasks_open_key
	ON pm_tasks (equipment_id)
	WHERE status IN ('pending', 'in_progress');

CREATE TABLE IF NOT EXISTS investigations (
	id                UUID PRIMARY KEY,
	task_id           UUID NOT NULL UNIQUE REFERENCES calibration_tasks (id),
	equipment_id      UUID NOT NULL REFERENCES equipment (id),
	status            TEXT NOT NULL,
	root_cause        TEXT NOT NULL DEFAULT '',
	impact_assessment TEXT NOT NULL DEFAULT '',
	corrective_action TEXT NOT NULL DEFAULT '',
	preventive_action TEXT NOT NULL DEFAULT '',
	failed_parameters TEXT[] NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	closed_at         TIMESTAMPTZ
);
`

// PostgresContainer wraps a testcontainers Postgres instance with the
// schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	URL       string
}

// NewPostgresContainer starts a Postgres container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("caltrack"),
		tcpostgres.WithUsername("caltrack"),
		tcpostgres.WithPassword("caltrack"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	pc := &PostgresContainer{Container: container, DB: db, URL: url}
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(context.Background())
	})
	return pc
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", strings.Join(tables, ", ")))
	return err
}
