package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, req *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	Update(ctx context.Context, id string, patch models.RequestPatch) error
	ClaimAssignee(ctx context.Context, id, userID string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

type visitStore interface {
	Create(ctx context.Context, visit *models.Visit) error
	GetByID(ctx context.Context, id string) (*models.Visit, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.Visit, error)
	Update(ctx context.Context, visit *models.Visit) error
}

type ratingStore interface {
	Create(ctx context.Context, rating *models.Rating) error
	GetByRequestID(ctx context.Context, requestID string) (*models.Rating, error)
}

type edgeStore interface {
	Create(ctx context.Context, edge *models.RequestEdge) error
	ListByRequest(ctx context.Context, requestID string) ([]models.RequestEdge, error)
	DeleteFrom(ctx context.Context, fromID string, kind models.EdgeKind) error
}

// EventSink receives every committed workflow event. Publish must not block on delivery.
type EventSink interface {
	Publish(ctx context.Context, event models.RequestEvent)
}

// WorkflowOption customises a Workflow.
type WorkflowOption func(*Workflow)

// WithCache enables read model invalidation after mutations.
func WithCache(cache *CacheService) WorkflowOption {
	return func(w *Workflow) { w.cache = cache }
}

// WithEvents routes committed events to sink.
func WithEvents(sink EventSink) WorkflowOption {
	return func(w *Workflow) { w.events = sink }
}

// WithMetrics counts operation outcomes.
func WithMetrics(metrics *MetricsService) WorkflowOption {
	return func(w *Workflow) { w.metrics = metrics }
}

// WithLogger sets the workflow logger.
func WithLogger(logger *zap.Logger) WorkflowOption {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithValidator overrides the payload validator.
func WithValidator(v *validator.Validate) WorkflowOption {
	return func(w *Workflow) {
		if v != nil {
			w.validator = v
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// Workflow holds the stores and collaborators shared by the lifecycle services.
type Workflow struct {
	requests  requestStore
	visits    visitStore
	ratings   ratingStore
	edges     edgeStore
	gate      policy.Gate
	cache     *CacheService
	events    EventSink
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflow wires the request store and the authorization gate.
func NewWorkflow(requests requestStore, visits visitStore, ratings ratingStore, edges edgeStore, gate policy.Gate, opts ...WorkflowOption) *Workflow {
	if gate == nil {
		gate = policy.NewRoleGate()
	}
	w := &Workflow{
		requests:  requests,
		visits:    visits,
		ratings:   ratings,
		edges:     edges,
		gate:      gate,
		validator: NewValidator(),
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Workflow) load(ctx context.Context, id string) (*models.Request, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request id is required")
	}
	req, err := w.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return req, nil
}

// loadVisit returns the visit of a visit request, or nil when none has been scheduled yet.
func (w *Workflow) loadVisit(ctx context.Context, req *models.Request) (*models.Visit, error) {
	if req.Type != models.RequestTypeVisit {
		return nil, nil
	}
	visit, err := w.visits.GetByRequestID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load visit")
	}
	return visit, nil
}

func (w *Workflow) snapshot(ctx context.Context, id string) (policy.Snapshot, error) {
	req, err := w.load(ctx, id)
	if err != nil {
		return policy.Snapshot{}, err
	}
	visit, err := w.loadVisit(ctx, req)
	if err != nil {
		return policy.Snapshot{}, err
	}
	return policy.Snapshot{Request: req, Visit: visit}, nil
}

func (w *Workflow) authorize(session models.Session, action policy.Action, snap policy.Snapshot) error {
	if session.UserID == "" {
		return appErrors.ErrUnauthorized
	}
	return w.gate.Authorize(session, action, snap)
}

func (w *Workflow) validate(payload interface{}) error {
	return validatePayload(w.validator, payload)
}

// patch stamps updatedAt and persists the change.
func (w *Workflow) patch(ctx context.Context, id string, p models.RequestPatch) error {
	p.UpdatedAt = w.now()
	if err := w.requests.Update(ctx, id, p); err != nil {
		return storeError(err, "request not found", "failed to update request")
	}
	return nil
}

func (w *Workflow) saveVisit(ctx context.Context, visit *models.Visit) error {
	visit.UpdatedAt = w.now()
	if err := w.visits.Update(ctx, visit); err != nil {
		return storeError(err, "visit not found", "failed to update visit")
	}
	return nil
}

func (w *Workflow) addEdge(ctx context.Context, kind models.EdgeKind, from, to, actor string) error {
	edge := &models.RequestEdge{Kind: kind, FromRequestID: from, ToRequestID: to, CreatedBy: actor, CreatedAt: w.now()}
	if err := w.edges.Create(ctx, edge); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record request relation")
	}
	return nil
}

// createRequest issues a request number and inserts req.
func (w *Workflow) createRequest(ctx context.Context, req *models.Request) error {
	now := w.now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.RequestNumber = newRequestNumber(req.Type, now)
	if req.Status == "" {
		req.Status = models.RequestStatusReceived
	}
	req.CreatedAt = now
	req.UpdatedAt = now
	if err := w.requests.Create(ctx, req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	return nil
}

func newRequestNumber(t models.RequestType, at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", t.NumberPrefix(), at.Format("20060102"), suffix)
}

func (w *Workflow) event(typ models.EventType, req *models.Request, session models.Session) models.RequestEvent {
	return models.RequestEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		RequestID:     req.ID,
		RequestNumber: req.RequestNumber,
		OwnerID:       req.UserID,
		ActorID:       session.UserID,
		OccurredAt:    w.now(),
	}
}

func statusMove(evt models.RequestEvent, from, to models.RequestStatus) models.RequestEvent {
	if from != to {
		evt.FromStatus = from
		evt.ToStatus = to
	}
	return evt
}

// committed invalidates cached reads and hands events to the sink.
func (w *Workflow) committed(ctx context.Context, events ...models.RequestEvent) {
	w.cache.InvalidateRequests(ctx)
	if w.events == nil {
		return
	}
	for _, evt := range events {
		w.events.Publish(ctx, evt)
	}
}

// finish records the outcome of operation and returns err unchanged.
func (w *Workflow) finish(operation string, noop bool, err error) error {
	w.metrics.RecordWorkflow(operation, noop, err)
	if err != nil && appErrors.HasCode(err, appErrors.ErrPartialSequence.Code) {
		w.logger.Error("workflow sequence partially applied", zap.String("operation", operation), zap.Error(err))
	}
	return err
}

// runSequence executes seq and invalidates caches when any step landed, even on failure.
func (w *Workflow) runSequence(ctx context.Context, seq *sequence) error {
	err := seq.run(ctx)
	if err != nil && seq.mutated() {
		w.cache.InvalidateRequests(ctx)
	}
	return err
}

// reload fetches the persisted state after a mutation.
func (w *Workflow) reload(ctx context.Context, id string) (*models.Request, *models.Visit, error) {
	snap, err := w.snapshot(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return snap.Request, snap.Visit, nil
}

// result reloads id and reports the operation as committed.
func (w *Workflow) result(ctx context.Context, op, id string) (*dto.TransitionResult, error) {
	w.finish(op, false, nil)
	req, visit, err := w.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{Request: req, Visit: visit}, nil
}

func storeError(err error, notFound, failed string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, failed)
}

func precondition(msg string) error {
	return appErrors.Clone(appErrors.ErrPreconditionFailed, msg)
}

func statusPtr(s models.RequestStatus) *models.RequestStatus { return &s }
func boolPtr(b bool) *bool                                   { return &b }
func stringPtr(s string) *string                             { return &s }

func sameString(a *string, b string) bool {
	return a != nil && *a == b
}
