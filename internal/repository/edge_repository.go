package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-portal-api/internal/models"
)

// EdgeRepository stores typed relationships between requests.
type EdgeRepository struct {
	db *sqlx.DB
}

// NewEdgeRepository constructs the repository.
func NewEdgeRepository(db *sqlx.DB) *EdgeRepository {
	return &EdgeRepository{db: db}
}

// Create inserts an edge.
func (r *EdgeRepository) Create(ctx context.Context, edge *models.RequestEdge) error {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_edges (id, kind, from_request_id, to_request_id, created_by, created_at)
	VALUES (:id, :kind, :from_request_id, :to_request_id, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, edge); err != nil {
		return fmt.Errorf("create request edge: %w", err)
	}
	return nil
}

// ListByRequest returns every edge touching requestID in either direction.
func (r *EdgeRepository) ListByRequest(ctx context.Context, requestID string) ([]models.RequestEdge, error) {
	const query = `SELECT id, kind, from_request_id, to_request_id, created_by, created_at
	FROM request_edges WHERE from_request_id = $1 OR to_request_id = $1 ORDER BY created_at ASC`
	var edges []models.RequestEdge
	if err := r.db.SelectContext(ctx, &edges, query, requestID); err != nil {
		return nil, fmt.Errorf("list request edges: %w", err)
	}
	return edges, nil
}

// DeleteFrom removes outgoing edges of kind from fromID.
func (r *EdgeRepository) DeleteFrom(ctx context.Context, fromID string, kind models.EdgeKind) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM request_edges WHERE from_request_id = $1 AND kind = $2`, fromID, kind); err != nil {
		return fmt.Errorf("delete request edges: %w", err)
	}
	return nil
}
