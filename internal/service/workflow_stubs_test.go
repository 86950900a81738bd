package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	"github.com/noah-isme/univ-portal-api/internal/repository"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type memRequests struct {
	mu       sync.Mutex
	items    map[string]*models.Request
	updates  []models.RequestPatch
	failOn   func(id string, patch models.RequestPatch) error
	createFn func(req *models.Request) error
}

func newMemRequests(reqs ...*models.Request) *memRequests {
	m := &memRequests{items: map[string]*models.Request{}}
	for _, r := range reqs {
		cp := *r
		m.items[r.ID] = &cp
	}
	return m
}

func (m *memRequests) Create(ctx context.Context, req *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createFn != nil {
		if err := m.createFn(req); err != nil {
			return err
		}
	}
	cp := *req
	m.items[req.ID] = &cp
	return nil
}

func (m *memRequests) GetByID(ctx context.Context, id string) (*models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *req
	return &cp, nil
}

func (m *memRequests) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Request
	for _, r := range m.items {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, r.Type) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if filter.PageSize > 0 {
		start := (filter.Page - 1) * filter.PageSize
		if start > len(out) {
			start = len(out)
		}
		end := start + filter.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, total, nil
}

func containsType(types []models.RequestType, t models.RequestType) bool {
	for _, v := range types {
		if v == t {
			return true
		}
	}
	return false
}

func (m *memRequests) Update(ctx context.Context, id string, patch models.RequestPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(id, patch); err != nil {
			return err
		}
	}
	req, ok := m.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	patch.Apply(req)
	m.updates = append(m.updates, patch)
	return nil
}

func (m *memRequests) ClaimAssignee(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if req.AssignedToUserID != nil {
		return false, nil
	}
	req.AssignedToUserID = &userID
	req.UpdatedAt = at
	return true, nil
}

func (m *memRequests) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *memRequests) get(t *testing.T, id string) *models.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		t.Fatalf("request %s not stored", id)
	}
	cp := *req
	return &cp
}

func (m *memRequests) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

type memVisits struct {
	mu    sync.Mutex
	items map[string]*models.Visit
	fail  error
}

func newMemVisits(visits ...*models.Visit) *memVisits {
	m := &memVisits{items: map[string]*models.Visit{}}
	for _, v := range visits {
		cp := *v
		m.items[v.ID] = &cp
	}
	return m
}

func (m *memVisits) Create(ctx context.Context, visit *models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	cp := *visit
	m.items[visit.ID] = &cp
	return nil
}

func (m *memVisits) GetByID(ctx context.Context, id string) (*models.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *v
	return &cp, nil
}

func (m *memVisits) GetByRequestID(ctx context.Context, requestID string) (*models.Visit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.items {
		if v.RequestID == requestID {
			cp := *v
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memVisits) Update(ctx context.Context, visit *models.Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.items[visit.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *visit
	m.items[visit.ID] = &cp
	return nil
}

func (m *memVisits) forRequest(t *testing.T, requestID string) *models.Visit {
	t.Helper()
	v, err := m.GetByRequestID(context.Background(), requestID)
	if err != nil {
		t.Fatalf("no visit for request %s", requestID)
	}
	return v
}

type memRatings struct {
	mu    sync.Mutex
	items map[string]*models.Rating
}

func newMemRatings() *memRatings { return &memRatings{items: map[string]*models.Rating{}} }

func (m *memRatings) Create(ctx context.Context, rating *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[rating.RequestID]; ok {
		return repository.ErrDuplicate
	}
	cp := *rating
	m.items[rating.RequestID] = &cp
	return nil
}

func (m *memRatings) GetByRequestID(ctx context.Context, requestID string) (*models.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[requestID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

type memEdges struct {
	mu    sync.Mutex
	items []models.RequestEdge
	fail  error
}

func (m *memEdges) Create(ctx context.Context, edge *models.RequestEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.items = append(m.items, *edge)
	return nil
}

func (m *memEdges) ListByRequest(ctx context.Context, requestID string) ([]models.RequestEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RequestEdge
	for _, e := range m.items {
		if e.FromRequestID == requestID || e.ToRequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEdges) DeleteFrom(ctx context.Context, fromID string, kind models.EdgeKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, e := range m.items {
		if e.FromRequestID == fromID && e.Kind == kind {
			continue
		}
		kept = append(kept, e)
	}
	m.items = kept
	return nil
}

func (m *memEdges) kinds() []models.EdgeKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EdgeKind, 0, len(m.items))
	for _, e := range m.items {
		out = append(out, e.Kind)
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.RequestEvent
}

func (r *eventRecorder) Publish(ctx context.Context, evt models.RequestEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	requests *memRequests
	visits   *memVisits
	ratings  *memRatings
	edges    *memEdges
	events   *eventRecorder
	clock    time.Time
	wf       *Workflow
	engine   *TransitionEngine
	visit    *VisitWorkflow
	graph    *RelationshipService
}

func newFixture(reqs []*models.Request, visits ...*models.Visit) *fixture {
	f := &fixture{
		requests: newMemRequests(reqs...),
		visits:   newMemVisits(visits...),
		ratings:  newMemRatings(),
		edges:    &memEdges{},
		events:   &eventRecorder{},
		clock:    testNow,
	}
	f.wf = NewWorkflow(f.requests, f.visits, f.ratings, f.edges, policy.NewRoleGate(),
		WithEvents(f.events),
		WithClock(func() time.Time { return f.clock }),
	)
	f.engine = NewTransitionEngine(f.wf, nil)
	f.visit = NewVisitWorkflow(f.wf)
	f.graph = NewRelationshipService(f.wf)
	return f
}

var (
	citizen  = models.Session{UserID: "user-1", Roles: []models.UserRole{models.RoleUser}}
	stranger = models.Session{UserID: "user-2", Roles: []models.UserRole{models.RoleUser}}
	employee = models.Session{UserID: "emp-1", Roles: []models.UserRole{models.RoleEmployee}}
	admin    = models.Session{UserID: "admin-1", Roles: []models.UserRole{models.RoleAdmin}}
	super    = models.Session{UserID: "root-1", Roles: []models.UserRole{models.RoleSuperAdmin}}
)

func newRequest(id string, typ models.RequestType, status models.RequestStatus) *models.Request {
	return &models.Request{
		ID:            id,
		RequestNumber: typ.NumberPrefix() + "-20260301-AAAAAA",
		Type:          typ,
		Status:        status,
		UserID:        citizen.UserID,
		TitleAr:       "عنوان",
		TitleEn:       "Title",
		SubjectAr:     "موضوع",
		SubjectEn:     "Subject",
		FullName:      "Citizen One",
		Email:         "citizen@example.com",
		CreatedAt:     testNow.Add(-48 * time.Hour),
		UpdatedAt:     testNow.Add(-48 * time.Hour),
	}
}

func withDepartment(r *models.Request, dept string) *models.Request {
	r.AssignedDepartmentID = &dept
	return r
}

func withLeadership(r *models.Request, leader string) *models.Request {
	r.UniversityLeadershipID = &leader
	return r
}

var errBoom = errors.New("boom")
