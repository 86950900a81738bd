package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

// blobRemover drops stored files under a prefix.
type blobRemover interface {
	DeletePrefix(prefix string) error
}

// RequestService covers submission and the read side of requests.
type RequestService struct {
	*Workflow
	audit auditReader
	blobs blobRemover
}

// NewRequestService builds the request service. blobs may be nil when attachments are disabled.
func NewRequestService(w *Workflow, audit auditReader, blobs blobRemover) *RequestService {
	return &RequestService{Workflow: w, audit: audit, blobs: blobs}
}

type cachedRequest struct {
	Request *models.Request `json:"request"`
	Visit   *models.Visit   `json:"visit,omitempty"`
}

type cachedList struct {
	Items []models.Request `json:"items"`
	Total int              `json:"total"`
}

// Submit stores a new request in Received status on behalf of the caller.
func (s *RequestService) Submit(ctx context.Context, session models.Session, payload dto.CreateRequestRequest) (*models.Request, error) {
	const op = "create_request"
	if session.UserID == "" {
		return nil, s.finish(op, false, appErrors.ErrUnauthorized)
	}
	if err := s.validate(payload); err != nil {
		return nil, s.finish(op, false, err)
	}
	if payload.LeadershipID != nil && payload.Type != models.RequestTypeVisit {
		return nil, s.finish(op, false, appErrors.FieldErrors("invalid payload", map[string]string{
			"universityLeadershipId": "only applies to visit requests",
		}))
	}

	req := &models.Request{
		ID:        uuid.NewString(),
		Type:      payload.Type,
		Status:    models.RequestStatusReceived,
		UserID:    session.UserID,
		TitleAr:   strings.TrimSpace(payload.TitleAr),
		TitleEn:   strings.TrimSpace(payload.TitleEn),
		SubjectAr: strings.TrimSpace(payload.SubjectAr),
		SubjectEn: strings.TrimSpace(payload.SubjectEn),
		FullName:  strings.TrimSpace(payload.FullName),
		Email:     strings.TrimSpace(payload.Email),
		Phone:     strings.TrimSpace(payload.Phone),
	}
	if payload.LeadershipID != nil {
		req.UniversityLeadershipID = stringPtr(*payload.LeadershipID)
	}
	if err := s.createRequest(ctx, req); err != nil {
		return nil, s.finish(op, false, err)
	}
	s.committed(ctx, s.event(models.EventRequestCreated, req, session))
	s.finish(op, false, nil)
	return req, nil
}

// Get returns a request with its visit and the actions session may take on it.
func (s *RequestService) Get(ctx context.Context, session models.Session, id string) (*dto.RequestDetail, error) {
	snap, err := s.cachedSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	return &dto.RequestDetail{
		Request:        snap.Request,
		Visit:          snap.Visit,
		AllowedActions: s.gate.Allowed(session, snap),
	}, nil
}

// AllowedActions lists the gate's answer for session on a request.
func (s *RequestService) AllowedActions(ctx context.Context, session models.Session, id string) ([]policy.Action, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	return s.gate.Allowed(session, snap), nil
}

func (s *RequestService) cachedSnapshot(ctx context.Context, id string) (policy.Snapshot, error) {
	key := requestItemKey(id)
	var cached cachedRequest
	if s.cache.Get(ctx, key, &cached) && cached.Request != nil {
		return policy.Snapshot{Request: cached.Request, Visit: cached.Visit}, nil
	}
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return policy.Snapshot{}, err
	}
	s.cache.Set(ctx, key, cachedRequest{Request: snap.Request, Visit: snap.Visit})
	return snap, nil
}

// List returns requests matching query. Callers without a staff role only see their own.
func (s *RequestService) List(ctx context.Context, session models.Session, query dto.RequestQuery) ([]models.Request, *models.Pagination, error) {
	if session.UserID == "" {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := s.filterFor(session, query)

	key := requestListKey(filter)
	var cached cachedList
	if !s.cache.Get(ctx, key, &cached) {
		items, total, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
		}
		if items == nil {
			items = []models.Request{}
		}
		cached = cachedList{Items: items, Total: total}
		s.cache.Set(ctx, key, cached)
	}
	return cached.Items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}, nil
}

func (s *RequestService) filterFor(session models.Session, query dto.RequestQuery) models.RequestFilter {
	filter := models.RequestFilter{
		Types:            query.Types,
		Statuses:         query.Statuses,
		DepartmentID:     query.DepartmentID,
		AssignedToUserID: query.AssignedToUserID,
		UserID:           query.UserID,
		Search:           strings.TrimSpace(query.Search),
		Page:             query.Page,
		PageSize:         query.PageSize,
		SortBy:           query.SortBy,
		SortOrder:        query.SortOrder,
	}
	if !session.IsStaff() {
		filter.UserID = session.UserID
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	return filter
}

// Delete removes a request with its visit, rating, attachments and edges.
func (s *RequestService) Delete(ctx context.Context, session models.Session, id string) error {
	const op = "delete_request"
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return s.finish(op, false, err)
	}
	if err := s.authorize(session, policy.ActionDelete, snap); err != nil {
		return s.finish(op, false, err)
	}
	if err := s.requests.Delete(ctx, id); err != nil {
		return s.finish(op, false, storeError(err, "request not found", "failed to delete request"))
	}
	if s.blobs != nil {
		if err := s.blobs.DeletePrefix(id); err != nil {
			s.logger.Warn("failed to remove attachment files", zap.String("request_id", id), zap.Error(err))
		}
	}
	evt := s.event(models.EventRequestDeleted, snap.Request, session)
	evt.Details = map[string]interface{}{"requestType": snap.Request.Type}
	s.committed(ctx, evt)
	s.finish(op, false, nil)
	return nil
}

// History returns the audit trail of a request, oldest first.
func (s *RequestService) History(ctx context.Context, session models.Session, id string) ([]dto.HistoryEntry, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	logs, err := s.audit.ListByResource(ctx, models.AuditResourceRequest, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request history")
	}
	entries := make([]dto.HistoryEntry, 0, len(logs))
	for _, log := range logs {
		entry := dto.HistoryEntry{Action: log.Action, ActorID: log.UserID, CreatedAt: log.CreatedAt}
		if len(log.NewValues) > 0 {
			var details map[string]interface{}
			if err := json.Unmarshal(log.NewValues, &details); err != nil {
				s.logger.Warn("undecodable audit payload", zap.String("audit_id", log.ID), zap.Error(err))
			} else {
				entry.Details = details
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
