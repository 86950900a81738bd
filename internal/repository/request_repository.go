package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/database"
)

const requestColumns = `id, request_number, request_type, request_status, user_id, title_ar, title_en, subject_ar, subject_en,
       full_name, email, phone, assigned_department_id, assigned_to_user_id, university_leadership_id, visit_id,
       need_date_reschedule, related_request_id, is_visit_related_to_previous_request, redirect_to_new_request,
       resolution_details_ar, resolution_details_en, resolved_by, resolved_at, created_at, updated_at`

var requestSortColumns = map[string]string{
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"request_number": "request_number",
	"status":         "request_status",
}

// RequestRepository is the Postgres backed request store.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusReceived
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	const query = `INSERT INTO requests (` + requestColumns + `)
	VALUES (:id, :request_number, :request_type, :request_status, :user_id, :title_ar, :title_en, :subject_ar, :subject_en,
	        :full_name, :email, :phone, :assigned_department_id, :assigned_to_user_id, :university_leadership_id, :visit_id,
	        :need_date_reschedule, :related_request_id, :is_visit_related_to_previous_request, :redirect_to_new_request,
	        :resolution_details_ar, :resolution_details_en, :resolved_by, :resolved_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter and the total count before pagination.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	args := make([]interface{}, 0, 8)
	conditions := make([]string, 0, 6)

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			args = append(args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("request_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("request_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("assigned_department_id = $%d", len(args)))
	}
	if filter.AssignedToUserID != "" {
		args = append(args, filter.AssignedToUserID)
		conditions = append(conditions, fmt.Sprintf("assigned_to_user_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(request_number) LIKE $%[1]d OR LOWER(title_ar) LIKE $%[1]d OR LOWER(title_en) LIKE $%[1]d)", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	sortColumn, ok := requestSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := normalizePage(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s FROM requests%s ORDER BY %s %s LIMIT %d OFFSET %d",
		requestColumns, where, sortColumn, order, size, (page-1)*size)
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// Update applies the non-empty columns of patch. It returns sql.ErrNoRows when id is unknown.
func (r *RequestRepository) Update(ctx context.Context, id string, patch models.RequestPatch) error {
	return updateRequest(ctx, r.db, id, patch)
}

func updateRequest(ctx context.Context, exec sqlx.ExtContext, id string, patch models.RequestPatch) error {
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = time.Now().UTC()
	}
	params := map[string]interface{}{"id": id, "updated_at": patch.UpdatedAt}
	setParts := make([]string, 0, 8)
	set := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = :%s", column, column))
		params[column] = value
	}

	if patch.Status != nil {
		set("request_status", *patch.Status)
	}
	if patch.ClearDepartment {
		set("assigned_department_id", nil)
	} else if patch.AssignedDepartmentID != nil {
		set("assigned_department_id", *patch.AssignedDepartmentID)
	}
	if patch.UniversityLeadershipID != nil {
		set("university_leadership_id", *patch.UniversityLeadershipID)
	}
	if patch.VisitID != nil {
		set("visit_id", *patch.VisitID)
	}
	if patch.NeedDateReschedule != nil {
		set("need_date_reschedule", *patch.NeedDateReschedule)
	}
	if patch.ClearRelatedRequest {
		set("related_request_id", nil)
	} else if patch.RelatedRequestID != nil {
		set("related_request_id", *patch.RelatedRequestID)
	}
	if patch.IsVisitRelatedToPreviousRequest != nil {
		set("is_visit_related_to_previous_request", *patch.IsVisitRelatedToPreviousRequest)
	}
	if patch.RedirectToNewRequest != nil {
		set("redirect_to_new_request", *patch.RedirectToNewRequest)
	}
	if patch.ResolutionDetailsAr != nil {
		set("resolution_details_ar", *patch.ResolutionDetailsAr)
	}
	if patch.ResolutionDetailsEn != nil {
		set("resolution_details_en", *patch.ResolutionDetailsEn)
	}
	if patch.ResolvedBy != nil {
		set("resolved_by", *patch.ResolvedBy)
	}
	if patch.ResolvedAt != nil {
		set("resolved_at", *patch.ResolvedAt)
	}
	if len(setParts) == 0 {
		return fmt.Errorf("update request %s: empty patch", id)
	}
	setParts = append(setParts, "updated_at = :updated_at")

	query := fmt.Sprintf("UPDATE requests SET %s WHERE id = :id", strings.Join(setParts, ", "))
	result, err := sqlx.NamedExecContext(ctx, exec, query, params)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClaimAssignee sets assigned_to_user_id only while it is still empty. It reports false when
// another caller already holds the request.
func (r *RequestRepository) ClaimAssignee(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	const query = `UPDATE requests SET assigned_to_user_id = $1, updated_at = $2
	WHERE id = $3 AND assigned_to_user_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, userID, at, id)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check claim rows: %w", err)
	}
	return rows == 1, nil
}

// Delete removes a request together with its visit, rating, attachments and edges.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		children := []string{
			`DELETE FROM attachments WHERE request_id = $1`,
			`DELETE FROM ratings WHERE request_id = $1`,
			`DELETE FROM visits WHERE request_id = $1`,
			`DELETE FROM request_edges WHERE from_request_id = $1 OR to_request_id = $1`,
			`UPDATE requests SET related_request_id = NULL, redirect_to_new_request = FALSE WHERE related_request_id = $1`,
		}
		for _, stmt := range children {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete request children: %w", err)
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check request delete rows: %w", err)
		}
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
