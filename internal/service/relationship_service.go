package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

// RelationshipService maintains the typed edges between requests: linked complaints,
// conversions and reactivation chains.
type RelationshipService struct {
	*Workflow
}

// NewRelationshipService builds the relationship graph operations.
func NewRelationshipService(w *Workflow) *RelationshipService {
	return &RelationshipService{Workflow: w}
}

// Convert turns an open visit into a complaint routed to a department. The visit is closed and
// redirects to the complaint, so exactly one of the pair stays open.
func (s *RelationshipService) Convert(ctx context.Context, session models.Session, id string, payload dto.ConvertRequest) (*dto.ConvertResult, error) {
	const op = "convert_to_complaint"
	if err := s.validate(payload); err != nil {
		return nil, s.finish(op, false, err)
	}
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, s.finish(op, false, err)
	}
	if err := s.authorize(session, policy.ActionConvertToComplaint, snap); err != nil {
		return nil, s.finish(op, false, err)
	}

	visit := snap.Request
	complaint := &models.Request{
		ID:        uuid.NewString(),
		Type:      models.RequestTypeComplaint,
		Status:    models.RequestStatusReceived,
		UserID:    visit.UserID,
		TitleAr:   visit.TitleAr,
		TitleEn:   visit.TitleEn,
		SubjectAr: visit.SubjectAr,
		SubjectEn: visit.SubjectEn,
		FullName:  visit.FullName,
		Email:     visit.Email,
		Phone:     visit.Phone,
	}

	seq := newSequence(op)
	seq.step("create_complaint", func(ctx context.Context) error {
		if err := s.createRequest(ctx, complaint); err != nil {
			return err
		}
		seq.recordCreated("complaintId", complaint.ID)
		return nil
	}).step("assign_department", func(ctx context.Context) error {
		return s.patch(ctx, complaint.ID, models.RequestPatch{
			AssignedDepartmentID: stringPtr(payload.DepartmentID),
			Status:               statusPtr(models.RequestStatusUnderReview),
		})
	}).step("close_visit", func(ctx context.Context) error {
		return s.patch(ctx, visit.ID, models.RequestPatch{
			Status:               statusPtr(models.RequestStatusClosed),
			RedirectToNewRequest: boolPtr(true),
			RelatedRequestID:     stringPtr(complaint.ID),
		})
	}).step("record_edge", func(ctx context.Context) error {
		return s.addEdge(ctx, models.EdgeConvertedFrom, complaint.ID, visit.ID, session.UserID)
	})
	if err := s.runSequence(ctx, seq); err != nil {
		return nil, s.finish(op, false, err)
	}

	created := s.event(models.EventRequestCreated, complaint, session)
	created.Details = map[string]interface{}{"convertedFrom": visit.ID, "departmentId": payload.DepartmentID}
	created = statusMove(created, models.RequestStatusReceived, models.RequestStatusUnderReview)
	converted := statusMove(s.event(models.EventRequestConverted, visit, session), visit.Status, models.RequestStatusClosed)
	converted.Details = map[string]interface{}{"complaintId": complaint.ID, "complaintNumber": complaint.RequestNumber}
	s.committed(ctx, created, converted)
	s.finish(op, false, nil)

	newReq, err := s.load(ctx, complaint.ID)
	if err != nil {
		return nil, err
	}
	oldReq, err := s.load(ctx, visit.ID)
	if err != nil {
		return nil, err
	}
	return &dto.ConvertResult{Complaint: newReq, Visit: oldReq}, nil
}

// AssignRelated links a visit to a prior complaint, or unlinks it when the id is nil.
// Neither direction closes or creates requests.
func (s *RelationshipService) AssignRelated(ctx context.Context, session models.Session, id string, payload dto.AssignRelatedRequest) (*dto.TransitionResult, error) {
	if err := s.validate(payload); err != nil {
		return nil, s.finish("link_related", false, err)
	}
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, s.finish("link_related", false, err)
	}
	if err := s.authorize(session, policy.ActionLinkRelated, snap); err != nil {
		return nil, s.finish("link_related", false, err)
	}
	if payload.RelatedRequestID == nil {
		return s.unlink(ctx, session, snap)
	}
	return s.link(ctx, session, snap, *payload.RelatedRequestID)
}

func (s *RelationshipService) link(ctx context.Context, session models.Session, snap policy.Snapshot, relatedID string) (*dto.TransitionResult, error) {
	const op = "link_related"
	req := snap.Request
	if relatedID == req.ID {
		return nil, s.finish(op, false, appErrors.FieldErrors("invalid payload", map[string]string{"relatedRequestId": "cannot reference the request itself"}))
	}
	related, err := s.load(ctx, relatedID)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
			err = appErrors.Clone(appErrors.ErrNotFound, "related request not found")
		}
		return nil, s.finish(op, false, err)
	}
	if related.Type != models.RequestTypeComplaint {
		return nil, s.finish(op, false, precondition("only complaints can be linked to a visit"))
	}
	if err := s.ensureLinkPointer(ctx, req); err != nil {
		return nil, s.finish(op, false, err)
	}
	if sameString(req.RelatedRequestID, relatedID) && req.IsVisitRelatedToPreviousRequest {
		s.finish(op, true, nil)
		return &dto.TransitionResult{Request: req, Visit: snap.Visit, NoOp: true, Message: "complaint is already linked"}, nil
	}

	seq := newSequence(op).
		step("update_request", func(ctx context.Context) error {
			return s.patch(ctx, req.ID, models.RequestPatch{
				RelatedRequestID:                stringPtr(relatedID),
				IsVisitRelatedToPreviousRequest: boolPtr(true),
			})
		}).
		step("replace_edge", func(ctx context.Context) error {
			if err := s.edges.DeleteFrom(ctx, req.ID, models.EdgeLinkedComplaint); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear previous link")
			}
			return s.addEdge(ctx, models.EdgeLinkedComplaint, req.ID, relatedID, session.UserID)
		})
	if err := s.runSequence(ctx, seq); err != nil {
		return nil, s.finish(op, false, err)
	}

	evt := s.event(models.EventRelatedLinked, req, session)
	evt.Details = map[string]interface{}{"relatedRequestId": relatedID, "relatedRequestNumber": related.RequestNumber}
	s.committed(ctx, evt)
	return s.result(ctx, op, req.ID)
}

func (s *RelationshipService) unlink(ctx context.Context, session models.Session, snap policy.Snapshot) (*dto.TransitionResult, error) {
	const op = "unlink_related"
	req := snap.Request
	if req.RelatedRequestID == nil && !req.IsVisitRelatedToPreviousRequest {
		s.finish(op, true, nil)
		return &dto.TransitionResult{Request: req, Visit: snap.Visit, NoOp: true, Message: "request has no related complaint"}, nil
	}
	if err := s.ensureLinkPointer(ctx, req); err != nil {
		return nil, s.finish(op, false, err)
	}

	seq := newSequence(op).
		step("update_request", func(ctx context.Context) error {
			return s.patch(ctx, req.ID, models.RequestPatch{
				ClearRelatedRequest:             true,
				IsVisitRelatedToPreviousRequest: boolPtr(false),
			})
		}).
		step("remove_edge", func(ctx context.Context) error {
			if err := s.edges.DeleteFrom(ctx, req.ID, models.EdgeLinkedComplaint); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove link")
			}
			return nil
		})
	if err := s.runSequence(ctx, seq); err != nil {
		return nil, s.finish(op, false, err)
	}

	evt := s.event(models.EventRelatedUnlinked, req, session)
	if req.RelatedRequestID != nil {
		evt.Details = map[string]interface{}{"relatedRequestId": *req.RelatedRequestID}
	}
	s.committed(ctx, evt)
	return s.result(ctx, op, req.ID)
}

// ensureLinkPointer fails when the related request column of req is held by a conversion or
// reactivation edge. Only a LinkedComplaint pointer, or one with no edge at all, may be replaced.
func (s *RelationshipService) ensureLinkPointer(ctx context.Context, req *models.Request) error {
	if req.RelatedRequestID == nil {
		return nil
	}
	edges, err := s.edges.ListByRequest(ctx, req.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load relations")
	}
	other := *req.RelatedRequestID
	for _, edge := range edges {
		connects := (edge.FromRequestID == req.ID && edge.ToRequestID == other) ||
			(edge.FromRequestID == other && edge.ToRequestID == req.ID)
		if connects && edge.Kind != models.EdgeLinkedComplaint {
			return precondition("related request belongs to a " + string(edge.Kind) + " edge")
		}
	}
	return nil
}

// Reactivate opens a successor for a closed request the submitter is unhappy with. The
// successor starts under review with the predecessor's department, and the two point at
// each other. The predecessor stays closed and redirects to the successor.
func (s *RelationshipService) Reactivate(ctx context.Context, session models.Session, id string, payload dto.ReactivateRequest) (*dto.ReactivateResult, error) {
	const op = "reactivate"
	if err := s.validate(payload); err != nil {
		return nil, s.finish(op, false, err)
	}
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, s.finish(op, false, err)
	}
	if err := s.authorize(session, policy.ActionReactivate, snap); err != nil {
		return nil, s.finish(op, false, err)
	}

	old := snap.Request
	successor := &models.Request{
		ID:                              uuid.NewString(),
		Type:                            old.Type,
		Status:                          models.RequestStatusReceived,
		UserID:                          old.UserID,
		TitleAr:                         strings.TrimSpace(payload.TitleAr),
		TitleEn:                         strings.TrimSpace(payload.TitleEn),
		SubjectAr:                       strings.TrimSpace(payload.SubjectAr),
		SubjectEn:                       strings.TrimSpace(payload.SubjectEn),
		FullName:                        old.FullName,
		Email:                           old.Email,
		Phone:                           old.Phone,
		RelatedRequestID:                stringPtr(old.ID),
		IsVisitRelatedToPreviousRequest: true,
	}
	if old.Type == models.RequestTypeVisit && old.UniversityLeadershipID != nil {
		successor.UniversityLeadershipID = stringPtr(*old.UniversityLeadershipID)
	}

	advance := models.RequestPatch{Status: statusPtr(models.RequestStatusUnderReview)}
	if old.AssignedDepartmentID != nil {
		advance.AssignedDepartmentID = stringPtr(*old.AssignedDepartmentID)
	}

	seq := newSequence(op)
	seq.step("create_request", func(ctx context.Context) error {
		if err := s.createRequest(ctx, successor); err != nil {
			return err
		}
		seq.recordCreated("requestId", successor.ID)
		return nil
	}).step("advance_request", func(ctx context.Context) error {
		return s.patch(ctx, successor.ID, advance)
	}).step("link_predecessor", func(ctx context.Context) error {
		return s.patch(ctx, old.ID, models.RequestPatch{
			RelatedRequestID:     stringPtr(successor.ID),
			RedirectToNewRequest: boolPtr(true),
		})
	}).step("record_edge", func(ctx context.Context) error {
		return s.addEdge(ctx, models.EdgeReactivatedFrom, successor.ID, old.ID, session.UserID)
	})
	if err := s.runSequence(ctx, seq); err != nil {
		return nil, s.finish(op, false, err)
	}

	created := statusMove(s.event(models.EventRequestCreated, successor, session), models.RequestStatusReceived, models.RequestStatusUnderReview)
	created.Details = map[string]interface{}{"reactivatedFrom": old.ID}
	reactivated := s.event(models.EventRequestReactivated, old, session)
	reactivated.Details = map[string]interface{}{"successorId": successor.ID, "successorNumber": successor.RequestNumber}
	s.committed(ctx, created, reactivated)
	s.finish(op, false, nil)

	newReq, err := s.load(ctx, successor.ID)
	if err != nil {
		return nil, err
	}
	oldReq, err := s.load(ctx, old.ID)
	if err != nil {
		return nil, err
	}
	return &dto.ReactivateResult{Request: newReq, Predecessor: oldReq}, nil
}

// Relations lists every typed edge touching a request visible to session.
func (s *RelationshipService) Relations(ctx context.Context, session models.Session, id string) ([]models.RequestEdge, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	edges, err := s.edges.ListByRequest(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list relations")
	}
	if edges == nil {
		edges = []models.RequestEdge{}
	}
	return edges, nil
}
