package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	"github.com/noah-isme/univ-portal-api/internal/repository"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

type auditReaderStub struct {
	logs []models.AuditLog
}

func (s auditReaderStub) ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, l := range s.logs {
		if l.Resource == resource && l.ResourceID != nil && *l.ResourceID == resourceID {
			out = append(out, l)
		}
	}
	return out, nil
}

type blobRemoverStub struct {
	prefixes []string
}

func (s *blobRemoverStub) DeletePrefix(prefix string) error {
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func validSubmission(typ models.RequestType) dto.CreateRequestRequest {
	return dto.CreateRequestRequest{
		Type:      typ,
		TitleAr:   "  طلب  ",
		SubjectAr: "تفاصيل",
		FullName:  "Citizen One",
		Email:     "citizen@example.com",
	}
}

func TestSubmitRequest(t *testing.T) {
	f := newFixture(nil)
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	req, err := svc.Submit(ctx, citizen, validSubmission(models.RequestTypeInquiry))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusReceived, req.Status)
	assert.Equal(t, citizen.UserID, req.UserID)
	assert.Equal(t, "طلب", req.TitleAr)
	assert.Regexp(t, `^INQ-20260310-[0-9A-F]{6}$`, req.RequestNumber)
	assert.Equal(t, testNow, req.CreatedAt)
	assert.Equal(t, []models.EventType{models.EventRequestCreated}, f.events.types())

	visit := validSubmission(models.RequestTypeVisit)
	visit.LeadershipID = stringPtr(leaderX)
	req, err = svc.Submit(ctx, citizen, visit)
	require.NoError(t, err)
	assert.Regexp(t, `^VST-`, req.RequestNumber)
	assert.Equal(t, leaderX, *req.UniversityLeadershipID)
}

func TestSubmitRequestRejections(t *testing.T) {
	f := newFixture(nil)
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	misplaced := validSubmission(models.RequestTypeComplaint)
	misplaced.LeadershipID = stringPtr(leaderX)
	_, err := svc.Submit(ctx, citizen, misplaced)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	badEmail := validSubmission(models.RequestTypeInquiry)
	badEmail.Email = "nope"
	_, err = svc.Submit(ctx, citizen, badEmail)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	fields := appErrors.FromError(err).Details["fields"].(map[string]string)
	assert.Equal(t, "must be a valid email address", fields["email"])

	badType := validSubmission("PETITION")
	_, err = svc.Submit(ctx, citizen, badType)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	blank := validSubmission(models.RequestTypeComplaint)
	blank.TitleAr = "   "
	blank.SubjectAr = "\t\n"
	_, err = svc.Submit(ctx, citizen, blank)
	require.ErrorIs(t, err, appErrors.ErrValidation)
	fields = appErrors.FromError(err).Details["fields"].(map[string]string)
	assert.Equal(t, "is required", fields["titleAr"])
	assert.Equal(t, "is required", fields["subjectAr"])

	_, err = svc.Submit(ctx, models.Session{}, validSubmission(models.RequestTypeInquiry))
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	assert.Empty(t, f.requests.items)
}

func TestGetRequestDetail(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusReceived)})
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	detail, err := svc.Get(ctx, admin, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", detail.Request.ID)
	assert.Contains(t, detail.AllowedActions, policy.ActionAssignDepartment)
	assert.Contains(t, detail.AllowedActions, policy.ActionChangeStatus)

	detail, err = svc.Get(ctx, citizen, "r1")
	require.NoError(t, err)
	assert.Equal(t, []policy.Action{policy.ActionView, policy.ActionAttachRequestFile}, detail.AllowedActions)

	_, err = svc.Get(ctx, stranger, "r1")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = svc.Get(ctx, admin, "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListScopesUsersToOwnRequests(t *testing.T) {
	mine := newRequest("a", models.RequestTypeInquiry, models.RequestStatusReceived)
	theirs := newRequest("b", models.RequestTypeComplaint, models.RequestStatusReceived)
	theirs.UserID = stranger.UserID
	f := newFixture([]*models.Request{mine, theirs})
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	items, page, err := svc.List(ctx, citizen, dto.RequestQuery{UserID: stranger.UserID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)

	items, page, err = svc.List(ctx, employee, dto.RequestQuery{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 100, page.PageSize)

	items, _, err = svc.List(ctx, admin, dto.RequestQuery{Types: []models.RequestType{models.RequestTypeComplaint}})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].ID)

	_, _, err = svc.List(ctx, models.Session{}, dto.RequestQuery{})
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestDeleteRequest(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusClosed)})
	blobs := &blobRemoverStub{}
	svc := NewRequestService(f.wf, nil, blobs)
	ctx := context.Background()

	require.ErrorIs(t, svc.Delete(ctx, admin, "r1"), appErrors.ErrForbidden)
	require.ErrorIs(t, svc.Delete(ctx, citizen, "r1"), appErrors.ErrForbidden)

	require.NoError(t, svc.Delete(ctx, super, "r1"))
	assert.Empty(t, f.requests.items)
	assert.Equal(t, []string{"r1"}, blobs.prefixes)
	assert.Equal(t, []models.EventType{models.EventRequestDeleted}, f.events.types())

	require.ErrorIs(t, svc.Delete(ctx, super, "r1"), appErrors.ErrNotFound)
}

func TestHistoryDecodesAuditRows(t *testing.T) {
	f := newFixture([]*models.Request{newRequest("r1", models.RequestTypeInquiry, models.RequestStatusUnderReview)})
	values, err := json.Marshal(map[string]interface{}{"toStatus": "UNDER_REVIEW"})
	require.NoError(t, err)
	audit := auditReaderStub{logs: []models.AuditLog{
		{ID: "a1", UserID: stringPtr(admin.UserID), Action: string(models.EventDepartmentAssigned), Resource: models.AuditResourceRequest, ResourceID: stringPtr("r1"), NewValues: values, CreatedAt: testNow},
		{ID: "a2", Action: string(models.EventRequestCreated), Resource: models.AuditResourceRequest, ResourceID: stringPtr("other"), CreatedAt: testNow},
		{ID: "a3", Action: "BROKEN", Resource: models.AuditResourceRequest, ResourceID: stringPtr("r1"), NewValues: []byte("{"), CreatedAt: testNow},
	}}
	svc := NewRequestService(f.wf, audit, nil)

	entries, err := svc.History(context.Background(), citizen, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(models.EventDepartmentAssigned), entries[0].Action)
	assert.Equal(t, "UNDER_REVIEW", entries[0].Details["toStatus"])
	assert.Equal(t, admin.UserID, *entries[0].ActorID)
	assert.Nil(t, entries[1].Details)

	_, err = svc.History(context.Background(), stranger, "r1")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func newCachedFixture(t *testing.T, reqs []*models.Request) (*fixture, *miniredis.Miniredis, *MetricsService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	metrics := NewMetricsService()
	cache := NewCacheService(repository.NewCacheRepository(client, nil), metrics, time.Minute, nil, true)
	f := newFixture(reqs)
	f.wf = NewWorkflow(f.requests, f.visits, f.ratings, f.edges, nil,
		WithCache(cache),
		WithMetrics(metrics),
		WithEvents(f.events),
		WithClock(func() time.Time { return f.clock }),
	)
	f.engine = NewTransitionEngine(f.wf, nil)
	return f, mr, metrics
}

func TestListIsCachedUntilMutation(t *testing.T) {
	f, mr, metrics := newCachedFixture(t, []*models.Request{newRequest("a", models.RequestTypeComplaint, models.RequestStatusReceived)})
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	items, _, err := svc.List(ctx, admin, dto.RequestQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotEmpty(t, mr.Keys())

	extra := newRequest("b", models.RequestTypeComplaint, models.RequestStatusReceived)
	require.NoError(t, f.requests.Create(ctx, extra))

	items, _, err = svc.List(ctx, admin, dto.RequestQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 1, "second read is served from cache")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))

	_, err = f.engine.AssignDepartment(ctx, admin, "a", dto.AssignDepartmentRequest{DepartmentID: stringPtr(deptIT)})
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	items, _, err = svc.List(ctx, admin, dto.RequestQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestGetServesCachedSnapshot(t *testing.T) {
	f, _, _ := newCachedFixture(t, []*models.Request{newRequest("a", models.RequestTypeInquiry, models.RequestStatusReceived)})
	svc := NewRequestService(f.wf, nil, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, citizen, "a")
	require.NoError(t, err)

	_, err = f.engine.UpdateStatus(ctx, admin, "a", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.NoError(t, err)

	detail, err := svc.Get(ctx, citizen, "a")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusClosed, detail.Request.Status)
	assert.Contains(t, detail.AllowedActions, policy.ActionReactivate)
}

func TestWorkflowMetricsCountOutcomes(t *testing.T) {
	f, _, metrics := newCachedFixture(t, []*models.Request{newRequest("a", models.RequestTypeInquiry, models.RequestStatusReceived)})
	ctx := context.Background()

	_, err := f.engine.UpdateStatus(ctx, admin, "a", dto.UpdateStatusRequest{Status: models.RequestStatusReceived})
	require.NoError(t, err)
	_, err = f.engine.UpdateStatus(ctx, employee, "a", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.Error(t, err)
	_, err = f.engine.UpdateStatus(ctx, admin, "a", dto.UpdateStatusRequest{Status: models.RequestStatusClosed})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.workflowOps.WithLabelValues("update_status", OutcomeNoOp)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.workflowOps.WithLabelValues("update_status", OutcomeDenied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.workflowOps.WithLabelValues("update_status", OutcomeSuccess)))
}

func TestWorkflowOutcomeLabels(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, WorkflowOutcome(false, nil))
	assert.Equal(t, OutcomeNoOp, WorkflowOutcome(true, nil))
	assert.Equal(t, OutcomeDenied, WorkflowOutcome(false, appErrors.ErrUnauthorized))
	assert.Equal(t, OutcomePrecondition, WorkflowOutcome(false, precondition("x")))
	assert.Equal(t, OutcomePartial, WorkflowOutcome(false, appErrors.Clone(appErrors.ErrPartialSequence, "")))
	assert.Equal(t, OutcomeError, WorkflowOutcome(false, errBoom))
}
