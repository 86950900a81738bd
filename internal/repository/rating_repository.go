package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/univ-portal-api/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

// RatingRepository persists request ratings.
type RatingRepository struct {
	db *sqlx.DB
}

// NewRatingRepository constructs the repository.
func NewRatingRepository(db *sqlx.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create inserts a rating. A second rating for the same request yields ErrDuplicate.
func (r *RatingRepository) Create(ctx context.Context, rating *models.Rating) error {
	if rating.ID == "" {
		rating.ID = uuid.NewString()
	}
	if rating.RatedAt.IsZero() {
		rating.RatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO ratings (id, request_id, user_id, rating, feedback, rated_at)
	VALUES (:id, :request_id, :user_id, :rating, :feedback, :rated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rating); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create rating: %w", err)
	}
	return nil
}

// GetByRequestID returns the rating of a request.
func (r *RatingRepository) GetByRequestID(ctx context.Context, requestID string) (*models.Rating, error) {
	const query = `SELECT id, request_id, user_id, rating, feedback, rated_at FROM ratings WHERE request_id = $1`
	var rating models.Rating
	if err := r.db.GetContext(ctx, &rating, query, requestID); err != nil {
		return nil, err
	}
	return &rating, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
