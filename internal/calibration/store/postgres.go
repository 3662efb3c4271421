package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caltrack/internal/calibration/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// PostgresTaskStore persists calibration tasks. A partial unique index on
// (equipment_id, task_type) over open rows enforces the one-open-task rule
// at the storage layer, same as the in-memory store does under its lock.
type PostgresTaskStore struct {
	db *sql.DB
}

func NewPostgresTaskStore(db *sql.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

const taskColumns = `
	id, equipment_id, task_type, due_at, status, result,
	started_at, completed_at, created_at, updated_at`

func (s *PostgresTaskStore) Create(ctx context.Context, task *models.CalibrationTask) error {
	query := `
		INSERT INTO calibration_tasks (` + taskColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(task.ID), uuid.UUID(task.EquipmentID), string(task.Type),
		task.DueAt, string(task.Status), resultValue(task.Result),
		task.StartedAt, task.CompletedAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		// 23505 = unique_violation (open task of this type already exists)
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert calibration task: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) FindByID(ctx context.Context, id domain.CalibrationTaskID) (*models.CalibrationTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM calibration_tasks WHERE id = $1`, uuid.UUID(id))
	return scanTask(row)
}

func (s *PostgresTaskStore) Execute(ctx context.Context, id domain.CalibrationTaskID, validate func(*models.CalibrationTask) error, mutate func(*models.CalibrationTask)) (*models.CalibrationTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin task tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM calibration_tasks WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	task, err := scanTask(row)
	if err != nil {
		return nil, err
	}

	if err := validate(task); err != nil {
		return nil, err
	}
	mutate(task)

	query := `
		UPDATE calibration_tasks SET
			due_at = $2, status = $3, result = $4, started_at = $5,
			completed_at = $6, updated_at = $7
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		uuid.UUID(task.ID), task.DueAt, string(task.Status), resultValue(task.Result),
		task.StartedAt, task.CompletedAt, task.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update calibration task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit task tx: %w", err)
	}
	return task, nil
}

func (s *PostgresTaskStore) ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*models.CalibrationTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM calibration_tasks WHERE equipment_id = $1 ORDER BY created_at`,
		uuid.UUID(equipmentID))
	if err != nil {
		return nil, fmt.Errorf("list calibration tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.CalibrationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *PostgresTaskStore) FindOpenByType(ctx context.Context, equipmentID domain.EquipmentID, taskType models.TaskType) (*models.CalibrationTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM calibration_tasks
		 WHERE equipment_id = $1 AND task_type = $2 AND status IN ('pending', 'in_progress')`,
		uuid.UUID(equipmentID), string(taskType))
	return scanTask(row)
}

func (s *PostgresTaskStore) CountOOTSince(ctx context.Context, equipmentID domain.EquipmentID, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM calibration_tasks
		 WHERE equipment_id = $1 AND status = 'oot' AND completed_at >= $2`,
		uuid.UUID(equipmentID), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count oot tasks: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func resultValue(r *models.TaskResult) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

func scanTask(row rowScanner) (*models.CalibrationTask, error) {
	var (
		task        models.CalibrationTask
		id          uuid.UUID
		equipmentID uuid.UUID
		taskType    string
		status      string
		result      sql.NullString
	)
	err := row.Scan(
		&id, &equipmentID, &taskType, &task.DueAt, &status, &result,
		&task.StartedAt, &task.CompletedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan calibration task: %w", err)
	}
	task.ID = domain.CalibrationTaskID(id)
	task.EquipmentID = domain.EquipmentID(equipmentID)
	task.Type = models.TaskType(taskType)
	task.Status = models.TaskStatus(status)
	if result.Valid {
		r := models.TaskResult(result.String)
		task.Result = &r
	}
	return &task, nil
}

// PostgresPMStore persists preventive maintenance tasks.
type PostgresPMStore struct {
	db *sql.DB
}

func NewPostgresPMStore(db *sql.DB) *PostgresPMStore {
	return &PostgresPMStore{db: db}
}

const pmColumns = `
	id, equipment_id, due_at, status, started_at, completed_at,
	created_at, updated_at`

func (s *PostgresPMStore) Create(ctx context.Context, task *models.PMTask) error {
	query := `
		INSERT INTO pm_tasks (` + pmColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(task.ID), uuid.UUID(task.EquipmentID), task.DueAt,
		string(task.Status), task.StartedAt, task.CompletedAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pm task: %w", err)
	}
	return nil
}

func (s *PostgresPMStore) FindByID(ctx context.Context, id domain.PMTaskID) (*models.PMTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pmColumns+` FROM pm_tasks WHERE id = $1`, uuid.UUID(id))
	return scanPMTask(row)
}

func (s *PostgresPMStore) Execute(ctx context.Context, id domain.PMTaskID, validate func(*models.PMTask) error, mutate func(*models.PMTask)) (*models.PMTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pm tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+pmColumns+` FROM pm_tasks WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	task, err := scanPMTask(row)
	if err != nil {
		return nil, err
	}

	if err := validate(task); err != nil {
		return nil, err
	}
	mutate(task)

	query := `
		UPDATE pm_tasks SET
			due_at = $2, status = $3, started_at = $4, completed_at = $5,
			updated_at = $6
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		uuid.UUID(task.ID), task.DueAt, string(task.Status),
		task.StartedAt, task.CompletedAt, task.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update pm task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pm tx: %w", err)
	}
	return task, nil
}

func (s *PostgresPMStore) HasOpen(ctx context.Context, equipmentID domain.EquipmentID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM pm_tasks
			WHERE equipment_id = $1 AND status IN ('pending', 'in_progress')
		)`, uuid.UUID(equipmentID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open pm tasks: %w", err)
	}
	return exists, nil
}

func (s *PostgresPMStore) ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*models.PMTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pmColumns+` FROM pm_tasks WHERE equipment_id = $1 ORDER BY created_at`,
		uuid.UUID(equipmentID))
	if err != nil {
		return nil, fmt.Errorf("list pm tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.PMTask
	for rows.Next() {
		task, err := scanPMTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanPMTask(row rowScanner) (*models.PMTask, error) {
	var (
		task        models.PMTask
		id          uuid.UUID
		equipmentID uuid.UUID
		status      string
	)
	err := row.Scan(
		&id, &equipmentID, &task.DueAt, &status,
		&task.StartedAt, &task.CompletedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan pm task: %w", err)
	}
	task.ID = domain.PMTaskID(id)
	task.EquipmentID = domain.EquipmentID(equipmentID)
	task.Status = models.PMStatus(status)
	return &task, nil
}
