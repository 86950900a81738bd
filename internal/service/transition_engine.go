package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	"github.com/noah-isme/univ-portal-api/internal/repository"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

const alreadyInState = "request is already in that state"

// fileKeeper persists uploaded files against a request.
type fileKeeper interface {
	CheckFile(file dto.FileUpload) error
	Store(ctx context.Context, session models.Session, req *models.Request, typ models.AttachmentType, file dto.FileUpload) (*models.Attachment, error)
}

// TransitionEngine enforces the request status lifecycle and its cascades.
type TransitionEngine struct {
	*Workflow
	files fileKeeper
}

// NewTransitionEngine builds the engine. files may be nil when resolution uploads are disabled.
func NewTransitionEngine(w *Workflow, files fileKeeper) *TransitionEngine {
	return &TransitionEngine{Workflow: w, files: files}
}

// UpdateStatus sets a status directly. Only admins pass the gate; moving backwards is allowed.
func (e *TransitionEngine) UpdateStatus(ctx context.Context, session models.Session, id string, payload dto.UpdateStatusRequest) (*dto.TransitionResult, error) {
	const op = "update_status"
	if err := e.validate(payload); err != nil {
		return nil, e.finish(op, false, err)
	}
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionChangeStatus, snap); err != nil {
		return nil, e.finish(op, false, err)
	}

	req := snap.Request
	target := payload.Status
	if req.Status == target {
		e.finish(op, true, nil)
		return &dto.TransitionResult{Request: req, Visit: snap.Visit, NoOp: true, Message: alreadyInState}, nil
	}
	if req.RedirectToNewRequest {
		return nil, e.finish(op, false, precondition("request redirects to a successor and must stay closed"))
	}
	if snap.Visit != nil && snap.Visit.Status == models.VisitStatusCompleted {
		return nil, e.finish(op, false, precondition("visit is completed and the request must stay closed"))
	}

	from := req.Status
	clearDepartment := target == models.RequestStatusReceived && req.AssignedDepartmentID != nil
	if clearDepartment {
		seq := newSequence(op).
			step("clear_department", func(ctx context.Context) error {
				return e.patch(ctx, id, models.RequestPatch{ClearDepartment: true})
			}).
			step("set_status", func(ctx context.Context) error {
				return e.patch(ctx, id, models.RequestPatch{Status: statusPtr(target)})
			})
		if err := e.runSequence(ctx, seq); err != nil {
			return nil, e.finish(op, false, err)
		}
	} else if err := e.patch(ctx, id, models.RequestPatch{Status: statusPtr(target)}); err != nil {
		return nil, e.finish(op, false, err)
	}

	evt := statusMove(e.event(models.EventStatusChanged, req, session), from, target)
	evt.Details = map[string]interface{}{"departmentCleared": clearDepartment}
	if payload.Note != "" {
		evt.Details["note"] = payload.Note
	}
	e.committed(ctx, evt)
	return e.result(ctx, op, id)
}

// AssignDepartment routes an inquiry or complaint. A nil id clears the department without
// moving the status back. Assigning to a received request advances it to under review.
func (e *TransitionEngine) AssignDepartment(ctx context.Context, session models.Session, id string, payload dto.AssignDepartmentRequest) (*dto.TransitionResult, error) {
	const op = "assign_department"
	if err := e.validate(payload); err != nil {
		return nil, e.finish(op, false, err)
	}
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionAssignDepartment, snap); err != nil {
		return nil, e.finish(op, false, err)
	}

	req := snap.Request
	var p models.RequestPatch
	evt := e.event(models.EventDepartmentAssigned, req, session)
	switch {
	case payload.DepartmentID == nil:
		if req.AssignedDepartmentID == nil {
			e.finish(op, true, nil)
			return &dto.TransitionResult{Request: req, NoOp: true, Message: "request has no department"}, nil
		}
		p.ClearDepartment = true
		evt.Details = map[string]interface{}{"departmentId": nil}
	case sameString(req.AssignedDepartmentID, *payload.DepartmentID) && req.Status != models.RequestStatusReceived:
		e.finish(op, true, nil)
		return &dto.TransitionResult{Request: req, NoOp: true, Message: "department is already assigned"}, nil
	default:
		p.AssignedDepartmentID = stringPtr(*payload.DepartmentID)
		if req.Status == models.RequestStatusReceived {
			p.Status = statusPtr(models.RequestStatusUnderReview)
			evt = statusMove(evt, req.Status, models.RequestStatusUnderReview)
		}
		evt.Details = map[string]interface{}{"departmentId": *payload.DepartmentID}
	}

	if err := e.patch(ctx, id, p); err != nil {
		return nil, e.finish(op, false, err)
	}
	e.committed(ctx, evt)
	return e.result(ctx, op, id)
}

// AssignToMe claims an unassigned request for the calling employee.
func (e *TransitionEngine) AssignToMe(ctx context.Context, session models.Session, id string) (*dto.TransitionResult, error) {
	const op = "assign_to_me"
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionAssignToMe, snap); err != nil {
		return nil, e.finish(op, false, err)
	}
	claimed, err := e.requests.ClaimAssignee(ctx, id, session.UserID, e.now())
	if err != nil {
		return nil, e.finish(op, false, storeError(err, "request not found", "failed to claim request"))
	}
	if !claimed {
		return nil, e.finish(op, false, appErrors.Clone(appErrors.ErrConflict, "request was claimed by someone else"))
	}
	e.committed(ctx, e.event(models.EventRequestClaimed, snap.Request, session))
	return e.result(ctx, op, id)
}

// AssignLeadership sets the leadership member for a visit request, advancing a received
// request to under review and keeping an existing visit in step.
func (e *TransitionEngine) AssignLeadership(ctx context.Context, session models.Session, id string, payload dto.AssignLeadershipRequest) (*dto.TransitionResult, error) {
	const op = "assign_leadership"
	if err := e.validate(payload); err != nil {
		return nil, e.finish(op, false, err)
	}
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionAssignLeadership, snap); err != nil {
		return nil, e.finish(op, false, err)
	}

	req := snap.Request
	if sameString(req.UniversityLeadershipID, payload.LeadershipID) && req.Status != models.RequestStatusReceived {
		e.finish(op, true, nil)
		return &dto.TransitionResult{Request: req, Visit: snap.Visit, NoOp: true, Message: "leadership is already assigned"}, nil
	}

	p := models.RequestPatch{UniversityLeadershipID: stringPtr(payload.LeadershipID)}
	evt := e.event(models.EventLeadershipAssigned, req, session)
	evt.Details = map[string]interface{}{"leadershipId": payload.LeadershipID}
	if req.Status == models.RequestStatusReceived {
		p.Status = statusPtr(models.RequestStatusUnderReview)
		evt = statusMove(evt, req.Status, models.RequestStatusUnderReview)
	}

	seq := newSequence(op).step("update_request", func(ctx context.Context) error {
		return e.patch(ctx, id, p)
	})
	if snap.Visit != nil && snap.Visit.LeadershipID != payload.LeadershipID {
		visit := *snap.Visit
		visit.LeadershipID = payload.LeadershipID
		seq.step("update_visit", func(ctx context.Context) error {
			return e.saveVisit(ctx, &visit)
		})
	}
	if err := e.runSequence(ctx, seq); err != nil {
		return nil, e.finish(op, false, err)
	}
	e.committed(ctx, evt)
	return e.result(ctx, op, id)
}

// SubmitResolution records the staff reply and moves the request to replied.
func (e *TransitionEngine) SubmitResolution(ctx context.Context, session models.Session, id string, payload dto.ResolutionRequest) (*dto.TransitionResult, error) {
	const op = "submit_resolution"
	if err := e.validate(payload); err != nil {
		return nil, e.finish(op, false, err)
	}
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionSubmitResolution, snap); err != nil {
		return nil, e.finish(op, false, err)
	}

	req := snap.Request
	if req.AssignedDepartmentID == nil {
		return nil, e.finish(op, false, precondition("assign a department before submitting a resolution"))
	}
	if req.Status != models.RequestStatusUnderReview {
		return nil, e.finish(op, false, precondition("only requests under review can be resolved"))
	}
	if len(payload.Files) > 0 {
		if e.files == nil {
			return nil, e.finish(op, false, precondition("attachments are not enabled"))
		}
		for _, f := range payload.Files {
			if err := e.files.CheckFile(f); err != nil {
				return nil, e.finish(op, false, err)
			}
		}
	}

	now := e.now()
	p := models.RequestPatch{
		Status:              statusPtr(models.RequestStatusReplied),
		ResolutionDetailsAr: stringPtr(payload.TextAr),
		ResolvedBy:          stringPtr(session.UserID),
		ResolvedAt:          &now,
	}
	if payload.TextEn != "" {
		p.ResolutionDetailsEn = stringPtr(payload.TextEn)
	}

	seq := newSequence(op).step("resolve_request", func(ctx context.Context) error {
		return e.patch(ctx, id, p)
	})
	for i := range payload.Files {
		file := payload.Files[i]
		seq.step("attach_"+file.FileName, func(ctx context.Context) error {
			replied := *req
			p.Apply(&replied)
			att, err := e.files.Store(ctx, session, &replied, models.AttachmentTypeResolution, file)
			if err != nil {
				return err
			}
			seq.recordCreated("attachment:"+file.FileName, att.ID)
			return nil
		})
	}
	if err := e.runSequence(ctx, seq); err != nil {
		return nil, e.finish(op, false, err)
	}

	evt := statusMove(e.event(models.EventResolutionSubmitted, req, session), req.Status, models.RequestStatusReplied)
	evt.Details = map[string]interface{}{"attachments": len(payload.Files)}
	e.committed(ctx, evt)
	return e.result(ctx, op, id)
}

// SubmitRating stores the owner's rating and closes the request. A visit still open is
// completed alongside its parent.
func (e *TransitionEngine) SubmitRating(ctx context.Context, session models.Session, payload dto.RatingRequest) (*dto.TransitionResult, error) {
	const op = "submit_rating"
	if err := e.validate(payload); err != nil {
		return nil, e.finish(op, false, err)
	}
	snap, err := e.snapshot(ctx, payload.RequestID)
	if err != nil {
		return nil, e.finish(op, false, err)
	}
	if err := e.authorize(session, policy.ActionRate, snap); err != nil {
		return nil, e.finish(op, false, err)
	}

	req := snap.Request
	rating := &models.Rating{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		UserID:    session.UserID,
		Rating:    payload.Rating,
		Feedback:  payload.Feedback,
		RatedAt:   e.now(),
	}
	seq := newSequence(op)
	seq.step("create_rating", func(ctx context.Context) error {
		if err := e.ratings.Create(ctx, rating); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return appErrors.Clone(appErrors.ErrConflict, "request has already been rated")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save rating")
		}
		seq.recordCreated("ratingId", rating.ID)
		return nil
	}).step("close_request", func(ctx context.Context) error {
		return e.patch(ctx, req.ID, models.RequestPatch{Status: statusPtr(models.RequestStatusClosed)})
	})
	if snap.Visit != nil && snap.Visit.Status != models.VisitStatusCompleted {
		visit := *snap.Visit
		visit.Status = models.VisitStatusCompleted
		seq.step("complete_visit", func(ctx context.Context) error {
			return e.saveVisit(ctx, &visit)
		})
	}
	if err := e.runSequence(ctx, seq); err != nil {
		return nil, e.finish(op, false, err)
	}

	evt := statusMove(e.event(models.EventRatingSubmitted, req, session), req.Status, models.RequestStatusClosed)
	evt.Details = map[string]interface{}{"rating": payload.Rating}
	e.committed(ctx, evt)
	return e.result(ctx, op, req.ID)
}

// GetRating returns the rating of a request visible to session.
func (e *TransitionEngine) GetRating(ctx context.Context, session models.Session, id string) (*models.Rating, error) {
	snap, err := e.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	rating, err := e.ratings.GetByRequestID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request has not been rated")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rating")
	}
	return rating, nil
}
