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

const attachmentColumns = `id, request_id, attachment_type, file_name, storage_path, mime_type, size_bytes, uploaded_by, created_at`

// AttachmentRepository persists attachment metadata. Blobs live in pkg/storage.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts attachment metadata.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attachments (` + attachmentColumns + `)
	VALUES (:id, :request_id, :attachment_type, :file_name, :storage_path, :mime_type, :size_bytes, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// GetByID fetches attachment metadata.
func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	var att models.Attachment
	if err := r.db.GetContext(ctx, &att, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &att, nil
}

// ListByRequest returns the attachments of a request, oldest first.
func (r *AttachmentRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error) {
	var items []models.Attachment
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE request_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &items, query, requestID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return items, nil
}

// Delete removes attachment metadata.
func (r *AttachmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check attachment delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
