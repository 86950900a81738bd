package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

const (
	deptIT        = "0b8f4a0e-3c55-4f1e-9d6a-1a2b3c4d5e60"
	deptRegistrar = "0b8f4a0e-3c55-4f1e-9d6a-1a2b3c4d5e61"
	leaderX       = "0b8f4a0e-3c55-4f1e-9d6a-1a2b3c4d5e62"
	leaderY       = "0b8f4a0e-3c55-4f1e-9d6a-1a2b3c4d5e63"
)

func TestUpdateStatusSameStatusIsNoOp(t *testing.T) {
	req := newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview)
	f := newFixture([]*models.Request{req})

	res, err := f.engine.UpdateStatus(context.Background(), admin, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusUnderReview})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, alreadyInState, res.Message)

	stored := f.requests.get(t, "r1")
	assert.Equal(t, req.UpdatedAt, stored.UpdatedAt)
	assert.Zero(t, f.requests.updateCount())
	assert.Empty(t, f.events.types())
}

func TestUpdateStatusToReceivedClearsDepartmentFirst(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusReplied), deptIT)
	f := newFixture([]*models.Request{req})

	res, err := f.engine.UpdateStatus(context.Background(), admin, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusReceived})
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, models.RequestStatusReceived, res.Request.Status)
	assert.Nil(t, res.Request.AssignedDepartmentID)

	require.Len(t, f.requests.updates, 2)
	first, second := f.requests.updates[0], f.requests.updates[1]
	assert.True(t, first.ClearDepartment)
	assert.Nil(t, first.Status)
	require.NotNil(t, second.Status)
	assert.Equal(t, models.RequestStatusReceived, *second.Status)
	assert.False(t, second.ClearDepartment)

	require.Len(t, f.events.events, 1)
	evt := f.events.events[0]
	assert.Equal(t, models.EventStatusChanged, evt.Type)
	assert.Equal(t, models.RequestStatusReplied, evt.FromStatus)
	assert.Equal(t, models.RequestStatusReceived, evt.ToStatus)
	assert.Equal(t, true, evt.Details["departmentCleared"])
}

func TestUpdateStatusMovesBackwardsWithoutDepartment(t *testing.T) {
	req := newRequest("r1", models.RequestTypeInquiry, models.RequestStatusClosed)
	f := newFixture([]*models.Request{req})

	res, err := f.engine.UpdateStatus(context.Background(), super, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusUnderReview})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusUnderReview, res.Request.Status)
	assert.Equal(t, testNow, res.Request.UpdatedAt)
	assert.Equal(t, 1, f.requests.updateCount())
}

func TestUpdateStatusPartialFailureKeepsFirstStep(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview), deptIT)
	f := newFixture([]*models.Request{req})
	f.requests.failOn = func(id string, patch models.RequestPatch) error {
		if patch.Status != nil {
			return errBoom
		}
		return nil
	}

	_, err := f.engine.UpdateStatus(context.Background(), admin, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusReceived})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPartialSequence.Code, appErr.Code)
	assert.Equal(t, "set_status", appErr.Details["failedStep"])

	stored := f.requests.get(t, "r1")
	assert.Nil(t, stored.AssignedDepartmentID)
	assert.Equal(t, models.RequestStatusUnderReview, stored.Status)
	assert.Empty(t, f.events.types())
}

func TestUpdateStatusRejections(t *testing.T) {
	redirecting := newRequest("r2", models.RequestTypeVisit, models.RequestStatusClosed)
	redirecting.RedirectToNewRequest = true
	completed := newRequest("r3", models.RequestTypeVisit, models.RequestStatusClosed)
	f := newFixture(
		[]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusReceived), redirecting, completed},
		&models.Visit{ID: "v3", RequestID: "r3", Status: models.VisitStatusCompleted},
	)
	ctx := context.Background()

	_, err := f.engine.UpdateStatus(ctx, employee, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.engine.UpdateStatus(ctx, citizen, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.engine.UpdateStatus(ctx, models.Session{}, "r1", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = f.engine.UpdateStatus(ctx, admin, "r1", dto.UpdateStatusRequest{Status: "DONE"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.engine.UpdateStatus(ctx, admin, "missing", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.engine.UpdateStatus(ctx, admin, "r2", dto.UpdateStatusRequest{Status: models.RequestStatusUnderReview})
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.engine.UpdateStatus(ctx, admin, "r3", dto.UpdateStatusRequest{Status: models.RequestStatusReplied})
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	assert.Zero(t, f.requests.updateCount())
	assert.Empty(t, f.events.types())
}

func TestAssignDepartmentAdvancesReceived(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeComplaint, models.RequestStatusReceived)})

	res, err := f.engine.AssignDepartment(context.Background(), admin, "r1", dto.AssignDepartmentRequest{DepartmentID: stringPtr(deptIT)})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusUnderReview, res.Request.Status)
	require.NotNil(t, res.Request.AssignedDepartmentID)
	assert.Equal(t, deptIT, *res.Request.AssignedDepartmentID)
	assert.Equal(t, 1, f.requests.updateCount())

	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.RequestStatusReceived, f.events.events[0].FromStatus)
	assert.Equal(t, models.RequestStatusUnderReview, f.events.events[0].ToStatus)
}

func TestAssignDepartmentChangeAndClear(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeInquiry, models.RequestStatusUnderReview), deptIT)
	f := newFixture([]*models.Request{req})
	ctx := context.Background()

	res, err := f.engine.AssignDepartment(ctx, admin, "r1", dto.AssignDepartmentRequest{DepartmentID: stringPtr(deptIT)})
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	res, err = f.engine.AssignDepartment(ctx, admin, "r1", dto.AssignDepartmentRequest{DepartmentID: stringPtr(deptRegistrar)})
	require.NoError(t, err)
	assert.Equal(t, deptRegistrar, *res.Request.AssignedDepartmentID)
	assert.Equal(t, models.RequestStatusUnderReview, res.Request.Status)

	res, err = f.engine.AssignDepartment(ctx, admin, "r1", dto.AssignDepartmentRequest{})
	require.NoError(t, err)
	assert.Nil(t, res.Request.AssignedDepartmentID)
	assert.Equal(t, models.RequestStatusUnderReview, res.Request.Status, "clearing the department does not move the status back")

	res, err = f.engine.AssignDepartment(ctx, admin, "r1", dto.AssignDepartmentRequest{})
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, 2, f.requests.updateCount())
}

func TestAssignDepartmentDenied(t *testing.T) {
	f := newFixture([]*models.Request{
		newRequest("visit", models.RequestTypeVisit, models.RequestStatusReceived),
		newRequest("replied", models.RequestTypeComplaint, models.RequestStatusReplied),
		newRequest("open", models.RequestTypeComplaint, models.RequestStatusReceived),
	})
	ctx := context.Background()
	payload := dto.AssignDepartmentRequest{DepartmentID: stringPtr(deptIT)}

	_, err := f.engine.AssignDepartment(ctx, admin, "visit", payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.engine.AssignDepartment(ctx, admin, "replied", payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.engine.AssignDepartment(ctx, employee, "open", payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.engine.AssignDepartment(ctx, admin, "open", dto.AssignDepartmentRequest{DepartmentID: stringPtr("IT")})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, f.requests.updateCount())
}

type lostClaim struct{ *memRequests }

func (lostClaim) ClaimAssignee(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return false, nil
}

func TestAssignToMe(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview)})
	ctx := context.Background()

	res, err := f.engine.AssignToMe(ctx, employee, "r1")
	require.NoError(t, err)
	require.NotNil(t, res.Request.AssignedToUserID)
	assert.Equal(t, employee.UserID, *res.Request.AssignedToUserID)
	assert.Equal(t, []models.EventType{models.EventRequestClaimed}, f.events.types())

	other := models.Session{UserID: "emp-2", Roles: []models.UserRole{models.RoleEmployee}}
	_, err = f.engine.AssignToMe(ctx, other, "r1")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAssignToMeLostRaceIsConflict(t *testing.T) {
	requests := newMemRequests(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview))
	wf := NewWorkflow(lostClaim{requests}, newMemVisits(), newMemRatings(), &memEdges{}, nil)
	engine := NewTransitionEngine(wf, nil)

	_, err := engine.AssignToMe(context.Background(), employee, "r1")
	require.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestAssignLeadershipAdvancesVisit(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeVisit, models.RequestStatusReceived)})
	ctx := context.Background()

	res, err := f.engine.AssignLeadership(ctx, employee, "r1", dto.AssignLeadershipRequest{LeadershipID: leaderX})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusUnderReview, res.Request.Status)
	assert.Equal(t, leaderX, *res.Request.UniversityLeadershipID)

	res, err = f.engine.AssignLeadership(ctx, employee, "r1", dto.AssignLeadershipRequest{LeadershipID: leaderX})
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	_, err = f.engine.AssignLeadership(ctx, citizen, "r1", dto.AssignLeadershipRequest{LeadershipID: leaderY})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAssignLeadershipUpdatesScheduledVisit(t *testing.T) {
	req := withLeadership(newRequest("r1", models.RequestTypeVisit, models.RequestStatusReplied), leaderX)
	visit := &models.Visit{ID: "v1", RequestID: "r1", LeadershipID: leaderX, Status: models.VisitStatusScheduled, VisitDate: testNow.Add(24 * time.Hour)}
	f := newFixture([]*models.Request{req}, visit)

	res, err := f.engine.AssignLeadership(context.Background(), admin, "r1", dto.AssignLeadershipRequest{LeadershipID: leaderY})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusReplied, res.Request.Status)
	assert.Equal(t, leaderY, *res.Request.UniversityLeadershipID)
	require.NotNil(t, res.Visit)
	assert.Equal(t, leaderY, res.Visit.LeadershipID)
	assert.Equal(t, models.VisitStatusScheduled, res.Visit.Status)
}

func TestAssignLeadershipRejectsComplaint(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeComplaint, models.RequestStatusReceived)})

	_, err := f.engine.AssignLeadership(context.Background(), admin, "r1", dto.AssignLeadershipRequest{LeadershipID: leaderX})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestSubmitResolution(t *testing.T) {
	f := newFixture([]*models.Request{
		newRequest("nodept", models.RequestTypeInquiry, models.RequestStatusReceived),
		withDepartment(newRequest("r1", models.RequestTypeInquiry, models.RequestStatusUnderReview), deptIT),
	})
	ctx := context.Background()
	payload := dto.ResolutionRequest{TextAr: "تم الحل", TextEn: "Resolved"}

	_, err := f.engine.SubmitResolution(ctx, employee, "nodept", payload)
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	_, err = f.engine.SubmitResolution(ctx, employee, "r1", dto.ResolutionRequest{})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.engine.SubmitResolution(ctx, citizen, "r1", payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	res, err := f.engine.SubmitResolution(ctx, employee, "r1", payload)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusReplied, res.Request.Status)
	assert.Equal(t, "تم الحل", *res.Request.ResolutionDetailsAr)
	assert.Equal(t, "Resolved", *res.Request.ResolutionDetailsEn)
	assert.Equal(t, employee.UserID, *res.Request.ResolvedBy)
	assert.Equal(t, testNow, *res.Request.ResolvedAt)
	assert.Equal(t, []models.EventType{models.EventResolutionSubmitted}, f.events.types())

	_, err = f.engine.SubmitResolution(ctx, employee, "r1", payload)
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

type fileKeeperStub struct {
	stored []string
	failOn string
}

func (s *fileKeeperStub) CheckFile(file dto.FileUpload) error {
	if strings.HasSuffix(file.FileName, ".exe") {
		return appErrors.FieldErrors("invalid attachment", map[string]string{"contentType": "is not an allowed file type"})
	}
	return nil
}

func (s *fileKeeperStub) Store(ctx context.Context, session models.Session, req *models.Request, typ models.AttachmentType, file dto.FileUpload) (*models.Attachment, error) {
	if file.FileName == s.failOn {
		return nil, errors.New("disk full")
	}
	if req.Status != models.RequestStatusReplied || typ != models.AttachmentTypeResolution {
		return nil, errors.New("unexpected attachment state")
	}
	s.stored = append(s.stored, file.FileName)
	return &models.Attachment{ID: "att-" + file.FileName, RequestID: req.ID, Type: typ, FileName: file.FileName}, nil
}

func TestSubmitResolutionWithFiles(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview), deptIT)
	f := newFixture([]*models.Request{req})
	files := &fileKeeperStub{}
	engine := NewTransitionEngine(f.wf, files)
	ctx := context.Background()

	_, err := engine.SubmitResolution(ctx, employee, "r1", dto.ResolutionRequest{
		TextAr: "رد",
		Files:  []dto.FileUpload{{FileName: "virus.exe", Body: strings.NewReader("x")}},
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Zero(t, f.requests.updateCount())

	res, err := engine.SubmitResolution(ctx, employee, "r1", dto.ResolutionRequest{
		TextAr: "رد",
		Files: []dto.FileUpload{
			{FileName: "a.pdf", Body: strings.NewReader("a")},
			{FileName: "b.pdf", Body: strings.NewReader("b")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusReplied, res.Request.Status)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, files.stored)
}

func TestSubmitResolutionPartialWhenFileFails(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview), deptIT)
	f := newFixture([]*models.Request{req})
	files := &fileKeeperStub{failOn: "b.pdf"}
	engine := NewTransitionEngine(f.wf, files)

	_, err := engine.SubmitResolution(context.Background(), employee, "r1", dto.ResolutionRequest{
		TextAr: "رد",
		Files: []dto.FileUpload{
			{FileName: "a.pdf", Body: strings.NewReader("a")},
			{FileName: "b.pdf", Body: strings.NewReader("b")},
		},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPartialSequence.Code, appErr.Code)
	assert.Equal(t, "attach_b.pdf", appErr.Details["failedStep"])
	assert.Equal(t, []string{"resolve_request", "attach_a.pdf"}, appErr.Details["completedSteps"])

	assert.Equal(t, models.RequestStatusReplied, f.requests.get(t, "r1").Status)
	assert.Empty(t, f.events.types())
}

func TestSubmitResolutionWithoutFileKeeper(t *testing.T) {
	req := withDepartment(newRequest("r1", models.RequestTypeComplaint, models.RequestStatusUnderReview), deptIT)
	f := newFixture([]*models.Request{req})

	_, err := f.engine.SubmitResolution(context.Background(), employee, "r1", dto.ResolutionRequest{
		TextAr: "رد",
		Files:  []dto.FileUpload{{FileName: "a.pdf", Body: strings.NewReader("a")}},
	})
	require.ErrorIs(t, err, appErrors.ErrPreconditionFailed)
}

func TestSubmitRatingClosesRequest(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeComplaint, models.RequestStatusReplied)})
	ctx := context.Background()

	_, err := f.engine.SubmitRating(ctx, stranger, dto.RatingRequest{RequestID: "r1", Rating: 4})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.engine.SubmitRating(ctx, citizen, dto.RatingRequest{RequestID: "r1", Rating: 6})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	res, err := f.engine.SubmitRating(ctx, citizen, dto.RatingRequest{RequestID: "r1", Rating: 4, Feedback: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusClosed, res.Request.Status)

	rating, err := f.engine.GetRating(ctx, citizen, "r1")
	require.NoError(t, err)
	assert.Equal(t, 4, rating.Rating)
	assert.Equal(t, "ok", rating.Feedback)
	assert.Equal(t, testNow, rating.RatedAt)

	_, err = f.engine.SubmitRating(ctx, citizen, dto.RatingRequest{RequestID: "r1", Rating: 5})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestSubmitRatingDuplicateIsConflict(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusReplied)})
	require.NoError(t, f.ratings.Create(context.Background(), &models.Rating{ID: "x", RequestID: "r1", Rating: 3}))

	_, err := f.engine.SubmitRating(context.Background(), citizen, dto.RatingRequest{RequestID: "r1", Rating: 5})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.False(t, appErrors.HasCode(err, appErrors.ErrPartialSequence.Code))
	assert.Equal(t, models.RequestStatusReplied, f.requests.get(t, "r1").Status)
}

func TestSubmitRatingOnVisit(t *testing.T) {
	scheduled := withLeadership(newRequest("s", models.RequestTypeVisit, models.RequestStatusReplied), leaderX)
	accepted := withLeadership(newRequest("a", models.RequestTypeVisit, models.RequestStatusReplied), leaderX)
	f := newFixture([]*models.Request{scheduled, accepted},
		&models.Visit{ID: "vs", RequestID: "s", Status: models.VisitStatusScheduled},
		&models.Visit{ID: "va", RequestID: "a", Status: models.VisitStatusAccepted},
	)
	ctx := context.Background()

	_, err := f.engine.SubmitRating(ctx, citizen, dto.RatingRequest{RequestID: "s", Rating: 5})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	res, err := f.engine.SubmitRating(ctx, citizen, dto.RatingRequest{RequestID: "a", Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusClosed, res.Request.Status)
	require.NotNil(t, res.Visit)
	assert.Equal(t, models.VisitStatusCompleted, res.Visit.Status)
}

func TestGetRatingMissing(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusReplied)})

	_, err := f.engine.GetRating(context.Background(), citizen, "r1")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	_, err = f.engine.GetRating(context.Background(), stranger, "r1")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAllowedActionsMatchGate(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusReplied)})
	svc := NewRequestService(f.wf, nil, nil)

	actions, err := svc.AllowedActions(context.Background(), citizen, "r1")
	require.NoError(t, err)
	assert.Contains(t, actions, policy.ActionRate)
	assert.NotContains(t, actions, policy.ActionChangeStatus)
}
