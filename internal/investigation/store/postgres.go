package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"caltrack/internal/investigation/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// Postgres persists investigations. The unique index on task_id backs the
// one-investigation-per-task invariant.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const investigationColumns = `
	id, task_id, equipment_id, status, root_cause, impact_assessment,
	corrective_action, preventive_action, failed_parameters,
	created_at, updated_at, closed_at`

func (s *Postgres) Create(ctx context.Context, inv *models.Investigation) error {
	query := `
		INSERT INTO investigations (` + investigationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(inv.ID), uuid.UUID(inv.TaskID), uuid.UUID(inv.EquipmentID),
		string(inv.Status), inv.RootCause, inv.ImpactAssessment,
		inv.CorrectiveAction, inv.PreventiveAction, pq.Array(inv.FailedParameters),
		inv.CreatedAt, inv.UpdatedAt, inv.ClosedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, id domain.InvestigationID) (*models.Investigation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE id = $1`, uuid.UUID(id))
	return scanInvestigation(row)
}

func (s *Postgres) FindByTask(ctx context.Context, taskID domain.CalibrationTaskID) (*models.Investigation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE task_id = $1`, uuid.UUID(taskID))
	return scanInvestigation(row)
}

func (s *Postgres) Execute(ctx context.Context, id domain.InvestigationID, validate func(*models.Investigation) error, mutate func(*models.Investigation)) (*models.Investigation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin investigation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	inv, err := scanInvestigation(row)
	if err != nil {
		return nil, err
	}

	if err := validate(inv); err != nil {
		return nil, err
	}
	mutate(inv)

	query := `
		UPDATE investigations SET
			status = $2, root_cause = $3, impact_assessment = $4,
			corrective_action = $5, preventive_action = $6,
			updated_at = $7, closed_at = $8
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query,
		uuid.UUID(inv.ID), string(inv.Status), inv.RootCause, inv.ImpactAssessment,
		inv.CorrectiveAction, inv.PreventiveAction, inv.UpdatedAt, inv.ClosedAt,
	); err != nil {
		return nil, fmt.Errorf("update investigation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit investigation tx: %w", err)
	}
	return inv, nil
}

func (s *Postgres) CountOpenByEquipment(ctx context.Context, equipmentID domain.EquipmentID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM investigations
		 WHERE equipment_id = $1 AND status <> 'closed'`,
		uuid.UUID(equipmentID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open investigations: %w", err)
	}
	return count, nil
}

func (s *Postgres) ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*models.Investigation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+investigationColumns+` FROM investigations WHERE equipment_id = $1 ORDER BY created_at`,
		uuid.UUID(equipmentID))
	if err != nil {
		return nil, fmt.Errorf("list investigations: %w", err)
	}
	defer rows.Close()

	var out []*models.Investigation
	for rows.Next() {
		inv, err := scanInvestigation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvestigation(row rowScanner) (*models.Investigation, error) {
	var (
		inv         models.Investigation
		id          uuid.UUID
		taskID      uuid.UUID
		equipmentID uuid.UUID
		status      string
		failed      pq.StringArray
	)
	err := row.Scan(
		&id, &taskID, &equipmentID, &status, &inv.RootCause, &inv.ImpactAssessment,
		&inv.CorrectiveAction, &inv.PreventiveAction, &failed,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan investigation: %w", err)
	}
	inv.ID = domain.InvestigationID(id)
	inv.TaskID = domain.CalibrationTaskID(taskID)
	inv.EquipmentID = domain.EquipmentID(equipmentID)
	inv.Status = models.InvestigationStatus(status)
	inv.FailedParameters = failed
	return &inv, nil
}
