package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/univ-portal-api/internal/models"
)

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	fail int
}

func (s *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("db down")
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *auditStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

type publisherStub struct {
	mu     sync.Mutex
	events []models.RequestEvent
}

func (p *publisherStub) Publish(ctx context.Context, evt models.RequestEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *publisherStub) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type counterStub struct {
	mu        sync.Mutex
	delivered map[string]int
}

func (c *counterStub) RecordEvent(eventType string, delivered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered == nil {
		c.delivered = map[string]int{}
	}
	if delivered {
		c.delivered[eventType]++
	}
}

func sampleEvent() models.RequestEvent {
	return models.RequestEvent{
		ID:            "8f7e2c52-8a8d-4c39-9b0e-0d2f3f1b8a10",
		Type:          models.EventStatusChanged,
		RequestID:     "4b1b0c1e-0f55-4a55-8a8c-2f0f9b8a6c11",
		RequestNumber: "CMP-20260101-ABC123",
		OwnerID:       "owner-1",
		ActorID:       "admin-1",
		FromStatus:    models.RequestStatusReceived,
		ToStatus:      models.RequestStatusUnderReview,
		Details:       map[string]interface{}{"departmentId": "dept-it"},
		OccurredAt:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublisherNilClientIsNoop(t *testing.T) {
	p := NewPublisher(nil, "")
	assert.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "portal:requests:user:u1", UserChannel("portal", "u1"))
	assert.Equal(t, "portal:requests:staff", StaffChannel("portal"))
}

func TestPublisherSendsToOwnerAndStaff(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, UserChannel("portal", "owner-1"), StaffChannel("portal"))
	defer func() { _ = sub.Close() }()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewPublisher(rdb, "portal").Publish(ctx, sampleEvent()))

	channels := map[string]models.RequestEvent{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var evt models.RequestEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
		channels[msg.Channel] = evt
	}
	require.Contains(t, channels, "portal:requests:user:owner-1")
	require.Contains(t, channels, "portal:requests:staff")
	assert.Equal(t, models.RequestStatusUnderReview, channels["portal:requests:staff"].ToStatus)
}

func TestDispatcherWritesAuditAndPublishes(t *testing.T) {
	audit := &auditStub{}
	pub := &publisherStub{}
	counter := &counterStub{}
	d := NewDispatcher(audit, pub, counter, DispatcherConfig{Workers: 2, RetryDelay: 5 * time.Millisecond}, nil)
	d.Start(context.Background())

	d.Publish(context.Background(), sampleEvent())
	d.Stop()

	require.Equal(t, 1, audit.count())
	require.Equal(t, 1, pub.count())
	log := audit.logs[0]
	assert.Equal(t, "REQUEST_STATUS_CHANGED", log.Action)
	assert.Equal(t, models.AuditResourceRequest, log.Resource)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "admin-1", *log.UserID)

	var values map[string]interface{}
	require.NoError(t, json.Unmarshal(log.NewValues, &values))
	assert.Equal(t, "dept-it", values["departmentId"])
	assert.Equal(t, "UNDER_REVIEW", values["toStatus"])
	assert.Equal(t, 1, counter.delivered["REQUEST_STATUS_CHANGED"])
}

func TestDispatcherRetriesAudit(t *testing.T) {
	audit := &auditStub{fail: 2}
	d := NewDispatcher(audit, nil, nil, DispatcherConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)
	d.Start(context.Background())
	defer d.Stop()

	d.Publish(context.Background(), sampleEvent())
	assert.Eventually(t, func() bool { return audit.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherDeliversInlineWhenNotStarted(t *testing.T) {
	audit := &auditStub{}
	pub := &publisherStub{}
	d := NewDispatcher(audit, pub, nil, DispatcherConfig{}, nil)

	d.Publish(context.Background(), sampleEvent())
	assert.Equal(t, 1, audit.count())
	assert.Equal(t, 1, pub.count())
}
