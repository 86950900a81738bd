package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-portal-api/internal/models"
)

const visitColumns = `id, request_id, leadership_id, visit_date, visit_status, created_at, updated_at`

// VisitRepository persists visit appointments.
type VisitRepository struct {
	db *sqlx.DB
}

// NewVisitRepository constructs the repository.
func NewVisitRepository(db *sqlx.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

// Create inserts a visit. Each request owns at most one visit.
func (r *VisitRepository) Create(ctx context.Context, visit *models.Visit) error {
	if visit.ID == "" {
		visit.ID = uuid.NewString()
	}
	if visit.Status == "" {
		visit.Status = models.VisitStatusScheduled
	}
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now().UTC()
	}
	if visit.UpdatedAt.IsZero() {
		visit.UpdatedAt = visit.CreatedAt
	}
	const query = `INSERT INTO visits (` + visitColumns + `)
	VALUES (:id, :request_id, :leadership_id, :visit_date, :visit_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, visit); err != nil {
		return fmt.Errorf("create visit: %w", err)
	}
	return nil
}

// GetByID fetches a visit by identifier.
func (r *VisitRepository) GetByID(ctx context.Context, id string) (*models.Visit, error) {
	var visit models.Visit
	if err := r.db.GetContext(ctx, &visit, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &visit, nil
}

// GetByRequestID fetches the visit belonging to a request.
func (r *VisitRepository) GetByRequestID(ctx context.Context, requestID string) (*models.Visit, error) {
	var visit models.Visit
	if err := r.db.GetContext(ctx, &visit, `SELECT `+visitColumns+` FROM visits WHERE request_id = $1`, requestID); err != nil {
		return nil, err
	}
	return &visit, nil
}

// Update persists leadership, date and status of an existing visit.
func (r *VisitRepository) Update(ctx context.Context, visit *models.Visit) error {
	if visit.UpdatedAt.IsZero() {
		visit.UpdatedAt = time.Now().UTC()
	}
	const query = `UPDATE visits SET leadership_id = :leadership_id, visit_date = :visit_date,
	visit_status = :visit_status, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, visit)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check visit update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
