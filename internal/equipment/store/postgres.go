package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caltrack/internal/equipment/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// Postgres persists equipment records. Execute serializes writers per row
// with SELECT ... FOR UPDATE, matching the single-writer-per-asset model.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const equipmentColumns = `
	id, asset_tag, name, criticality, qualification_status, status,
	restricted, manual_hold, calibration_interval_days, last_calibration_at,
	calibration_due_at, pm_interval_days, pm_due_at, usage_hours_per_week,
	retired_at, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, eq *models.Equipment) error {
	query := `
		INSERT INTO equipment (` + equipmentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(eq.ID), eq.AssetTag, eq.Name, string(eq.Criticality),
		string(eq.Qualification), string(eq.Status), eq.Restricted, eq.ManualHold,
		eq.CalibrationIntervalDays, eq.LastCalibrationAt, eq.CalibrationDueAt,
		eq.PMIntervalDays, eq.PMDueAt, eq.UsageHoursPerWeek,
		eq.RetiredAt, eq.CreatedAt, eq.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation (asset tag)
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert equipment: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.EquipmentID) (*models.Equipment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment WHERE id = $1`, uuid.UUID(id))
	return scanEquipment(row)
}

func (s *Postgres) FindByAssetTag(ctx context.Context, assetTag string) (*models.Equipment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment WHERE lower(asset_tag) = lower($1)`, assetTag)
	return scanEquipment(row)
}

func (s *Postgres) List(ctx context.Context) ([]*models.Equipment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment ORDER BY asset_tag`)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	var out []*models.Equipment
	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, eq)
	}
	return out, rows.Err()
}

// Execute loads the row FOR UPDATE, runs validate-then-mutate, and writes
// the result back inside one transaction.
func (s *Postgres) Execute(ctx context.Context, id domain.EquipmentID, validate func(*models.Equipment) error, mutate func(*models.Equipment)) (*models.Equipment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin equipment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+equipmentColumns+` FROM equipment WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	eq, err := scanEquipment(row)
	if err != nil {
		return nil, err
	}

	if err := validate(eq); err != nil {
		return nil, err
	}
	mutate(eq)

	query := `
		UPDATE equipment SET
			name = $2, criticality = $3, qualification_status = $4, status = $5,
			restricted = $6, manual_hold = $7, calibration_interval_days = $8,
			last_calibration_at = $9, calibration_due_at = $10,
			pm_interval_days = $11, pm_due_at = $12, usage_hours_per_week = $13,
			retired_at = $14, updated_at = $15
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		uuid.UUID(eq.ID), eq.Name, string(eq.Criticality), string(eq.Qualification),
		string(eq.Status), eq.Restricted, eq.ManualHold, eq.CalibrationIntervalDays,
		eq.LastCalibrationAt, eq.CalibrationDueAt, eq.PMIntervalDays, eq.PMDueAt,
		eq.UsageHoursPerWeek, eq.RetiredAt, eq.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update equipment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit equipment tx: %w", err)
	}
	return eq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEquipment(row rowScanner) (*models.Equipment, error) {
	var (
		eq            models.Equipment
		id            uuid.UUID
		criticality   string
		qualification string
		status        string
	)
	err := row.Scan(
		&id, &eq.AssetTag, &eq.Name, &criticality, &qualification, &status,
		&eq.Restricted, &eq.ManualHold, &eq.CalibrationIntervalDays,
		&eq.LastCalibrationAt, &eq.CalibrationDueAt, &eq.PMIntervalDays,
		&eq.PMDueAt, &eq.UsageHoursPerWeek, &eq.RetiredAt,
		&eq.CreatedAt, &eq.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan equipment: %w", err)
	}
	eq.ID = domain.EquipmentID(id)
	eq.Criticality = models.Criticality(criticality)
	eq.Qualification = models.QualificationStatus(qualification)
	eq.Status = models.Status(status)
	return &eq, nil
}
