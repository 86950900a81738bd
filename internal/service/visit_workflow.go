package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

// VisitWorkflow drives the appointment attached to a visit request. The parent request
// status stays authoritative: a visit only completes together with or after its parent closes.
type VisitWorkflow struct {
	*Workflow
}

// NewVisitWorkflow builds the visit sub-workflow.
func NewVisitWorkflow(w *Workflow) *VisitWorkflow {
	return &VisitWorkflow{Workflow: w}
}

// ScheduleOrUpdateVisit creates the visit or moves it to a new date. Either way the visit is
// Scheduled, the parent is Replied and the reschedule warning is cleared.
func (v *VisitWorkflow) ScheduleOrUpdateVisit(ctx context.Context, session models.Session, requestID string, payload dto.ScheduleVisitRequest) (*dto.TransitionResult, error) {
	const op = "schedule_visit"
	if err := v.validate(payload); err != nil {
		return nil, v.finish(op, false, err)
	}
	snap, err := v.snapshot(ctx, requestID)
	if err != nil {
		return nil, v.finish(op, false, err)
	}
	if err := v.authorize(session, policy.ActionScheduleVisit, snap); err != nil {
		return nil, v.finish(op, false, err)
	}

	req := snap.Request
	leadership := payload.LeadershipID
	if leadership == "" && req.UniversityLeadershipID != nil {
		leadership = *req.UniversityLeadershipID
	}
	if leadership == "" {
		return nil, v.finish(op, false, precondition("assign university leadership before scheduling a visit"))
	}
	if req.Status == models.RequestStatusReceived {
		return nil, v.finish(op, false, precondition("request must be under review before a visit is scheduled"))
	}
	if payload.VisitID != nil {
		if snap.Visit == nil {
			return nil, v.finish(op, false, appErrors.Clone(appErrors.ErrNotFound, "visit not found"))
		}
		if snap.Visit.ID != *payload.VisitID {
			return nil, v.finish(op, false, appErrors.FieldErrors("invalid payload", map[string]string{"visitId": "does not belong to this request"}))
		}
	}

	now := v.now()
	var visit models.Visit
	if snap.Visit != nil {
		visit = *snap.Visit
	} else {
		visit = models.Visit{ID: uuid.NewString(), RequestID: req.ID, CreatedAt: now}
	}
	visit.LeadershipID = leadership
	visit.VisitDate = payload.VisitDate.UTC()
	visit.Status = models.VisitStatusScheduled
	visit.UpdatedAt = now

	seq := newSequence(op)
	seq.step("save_visit", func(ctx context.Context) error {
		if snap.Visit != nil {
			return v.saveVisit(ctx, &visit)
		}
		if err := v.visits.Create(ctx, &visit); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create visit")
		}
		seq.recordCreated("visitId", visit.ID)
		return nil
	})

	p := models.RequestPatch{
		VisitID:            stringPtr(visit.ID),
		NeedDateReschedule: boolPtr(false),
	}
	if req.Status != models.RequestStatusReplied {
		p.Status = statusPtr(models.RequestStatusReplied)
	}
	if !sameString(req.UniversityLeadershipID, leadership) {
		p.UniversityLeadershipID = stringPtr(leadership)
	}
	seq.step("update_request", func(ctx context.Context) error {
		return v.patch(ctx, req.ID, p)
	})
	if err := v.runSequence(ctx, seq); err != nil {
		return nil, v.finish(op, false, err)
	}

	evt := statusMove(v.event(models.EventVisitScheduled, req, session), req.Status, models.RequestStatusReplied)
	evt.Details = map[string]interface{}{
		"visitId":     visit.ID,
		"visitDate":   visit.VisitDate,
		"rescheduled": snap.Visit != nil,
	}
	v.committed(ctx, evt)
	return v.result(ctx, op, req.ID)
}

// UpdateVisitStatus moves a visit by its own id. Scheduling goes through ScheduleOrUpdateVisit.
func (v *VisitWorkflow) UpdateVisitStatus(ctx context.Context, session models.Session, visitID string, payload dto.UpdateVisitStatusRequest) (*dto.TransitionResult, error) {
	if err := v.validate(payload); err != nil {
		return nil, v.finish("update_visit_status", false, err)
	}
	visit, err := v.visits.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, v.finish("update_visit_status", false, appErrors.Clone(appErrors.ErrNotFound, "visit not found"))
		}
		return nil, v.finish("update_visit_status", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visit"))
	}
	snap, err := v.snapshot(ctx, visit.RequestID)
	if err != nil {
		return nil, v.finish("update_visit_status", false, err)
	}
	if snap.Visit == nil || snap.Visit.ID != visit.ID {
		return nil, v.finish("update_visit_status", false, appErrors.Clone(appErrors.ErrNotFound, "visit not found"))
	}
	if err := v.authorize(session, policy.ActionView, snap); err != nil {
		return nil, v.finish("update_visit_status", false, err)
	}

	switch payload.Status {
	case models.VisitStatusScheduled:
		if snap.Visit.Status == models.VisitStatusScheduled {
			return v.noop("update_visit_status", snap, "visit is already scheduled")
		}
		return nil, v.finish("update_visit_status", false,
			appErrors.FieldErrors("invalid payload", map[string]string{"visitStatus": "pick a new date to schedule the visit"}))
	case models.VisitStatusAccepted:
		return v.accept(ctx, session, snap)
	case models.VisitStatusRescheduled:
		return v.requestReschedule(ctx, session, snap)
	case models.VisitStatusCompleted:
		return v.complete(ctx, session, snap)
	}
	return nil, v.finish("update_visit_status", false, appErrors.Clone(appErrors.ErrValidation, "unsupported visit status"))
}

// Accept confirms the scheduled appointment on behalf of the submitter. The parent stays Replied.
func (v *VisitWorkflow) Accept(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error) {
	snap, err := v.snapshot(ctx, requestID)
	if err != nil {
		return nil, v.finish("accept_visit", false, err)
	}
	return v.accept(ctx, session, snap)
}

// RequestReschedule asks staff for a new date and raises the reschedule warning on the parent.
func (v *VisitWorkflow) RequestReschedule(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error) {
	snap, err := v.snapshot(ctx, requestID)
	if err != nil {
		return nil, v.finish("request_reschedule", false, err)
	}
	return v.requestReschedule(ctx, session, snap)
}

// Complete closes the parent request and marks the visit completed.
func (v *VisitWorkflow) Complete(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error) {
	snap, err := v.snapshot(ctx, requestID)
	if err != nil {
		return nil, v.finish("complete_visit", false, err)
	}
	return v.complete(ctx, session, snap)
}

func (v *VisitWorkflow) accept(ctx context.Context, session models.Session, snap policy.Snapshot) (*dto.TransitionResult, error) {
	const op = "accept_visit"
	if snap.Visit != nil && snap.Visit.Status == models.VisitStatusAccepted && snap.Request.IsOwnedBy(session.UserID) {
		return v.noop(op, snap, "visit is already accepted")
	}
	if err := v.authorize(session, policy.ActionAcceptVisit, snap); err != nil {
		return nil, v.finish(op, false, err)
	}
	visit := *snap.Visit
	visit.Status = models.VisitStatusAccepted
	if err := v.saveVisit(ctx, &visit); err != nil {
		return nil, v.finish(op, false, err)
	}
	evt := v.event(models.EventVisitAccepted, snap.Request, session)
	evt.Details = map[string]interface{}{"visitId": visit.ID}
	v.committed(ctx, evt)
	return v.result(ctx, op, snap.Request.ID)
}

func (v *VisitWorkflow) requestReschedule(ctx context.Context, session models.Session, snap policy.Snapshot) (*dto.TransitionResult, error) {
	const op = "request_reschedule"
	if snap.Visit != nil && snap.Visit.Status == models.VisitStatusRescheduled && snap.Request.IsOwnedBy(session.UserID) {
		return v.noop(op, snap, "reschedule was already requested")
	}
	if err := v.authorize(session, policy.ActionRequestReschedule, snap); err != nil {
		return nil, v.finish(op, false, err)
	}
	visit := *snap.Visit
	visit.Status = models.VisitStatusRescheduled
	seq := newSequence(op).
		step("update_visit", func(ctx context.Context) error {
			return v.saveVisit(ctx, &visit)
		}).
		step("flag_request", func(ctx context.Context) error {
			return v.patch(ctx, snap.Request.ID, models.RequestPatch{NeedDateReschedule: boolPtr(true)})
		})
	if err := v.runSequence(ctx, seq); err != nil {
		return nil, v.finish(op, false, err)
	}
	evt := v.event(models.EventVisitRescheduleNeeded, snap.Request, session)
	evt.Details = map[string]interface{}{"visitId": visit.ID, "previousDate": visit.VisitDate}
	v.committed(ctx, evt)
	return v.result(ctx, op, snap.Request.ID)
}

func (v *VisitWorkflow) complete(ctx context.Context, session models.Session, snap policy.Snapshot) (*dto.TransitionResult, error) {
	const op = "complete_visit"
	if err := v.authorize(session, policy.ActionCompleteVisit, snap); err != nil {
		return nil, v.finish(op, false, err)
	}
	visit := *snap.Visit
	if visit.Status == models.VisitStatusScheduled && visit.VisitDate.After(v.now()) {
		return nil, v.finish(op, false, precondition("a scheduled visit can only be completed once its date has passed"))
	}
	visit.Status = models.VisitStatusCompleted
	seq := newSequence(op).
		step("close_request", func(ctx context.Context) error {
			return v.patch(ctx, snap.Request.ID, models.RequestPatch{Status: statusPtr(models.RequestStatusClosed)})
		}).
		step("complete_visit", func(ctx context.Context) error {
			return v.saveVisit(ctx, &visit)
		})
	if err := v.runSequence(ctx, seq); err != nil {
		return nil, v.finish(op, false, err)
	}
	evt := statusMove(v.event(models.EventVisitCompleted, snap.Request, session), snap.Request.Status, models.RequestStatusClosed)
	evt.Details = map[string]interface{}{"visitId": visit.ID}
	v.committed(ctx, evt)
	return v.result(ctx, op, snap.Request.ID)
}

func (v *VisitWorkflow) noop(op string, snap policy.Snapshot, msg string) (*dto.TransitionResult, error) {
	v.finish(op, true, nil)
	return &dto.TransitionResult{Request: snap.Request, Visit: snap.Visit, NoOp: true, Message: msg}, nil
}
