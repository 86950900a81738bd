package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/jobs"
)

const (
	jobAudit   = "audit"
	jobPublish = "publish"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type eventPublisher interface {
	Publish(ctx context.Context, evt models.RequestEvent) error
}

type eventCounter interface {
	RecordEvent(eventType string, delivered bool)
}

// DispatcherConfig tunes the worker pool behind the dispatcher.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// Dispatcher consumes workflow events asynchronously. Each event becomes an audit job and a
// publish job that are retried independently.
type Dispatcher struct {
	queue     *jobs.Queue
	audit     auditWriter
	publisher eventPublisher
	metrics   eventCounter
	logger    *zap.Logger
}

// NewDispatcher builds a dispatcher. publisher and metrics may be nil.
func NewDispatcher(audit auditWriter, publisher eventPublisher, metrics eventCounter, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{audit: audit, publisher: publisher, metrics: metrics, logger: logger}
	d.queue = jobs.NewQueue("request-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains queued events and stops the workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Publish queues evt. When the queue refuses it the event is handled inline so the audit trail
// keeps every committed transition.
func (d *Dispatcher) Publish(ctx context.Context, evt models.RequestEvent) {
	for _, typ := range []string{jobAudit, jobPublish} {
		job := jobs.Job{ID: evt.ID + ":" + typ, Type: typ, Payload: evt}
		if err := d.queue.Enqueue(job); err != nil {
			d.logger.Warn("event queue unavailable, delivering inline",
				zap.String("event_id", evt.ID), zap.String("type", typ), zap.Error(err))
			if err := d.handle(context.WithoutCancel(ctx), job); err != nil {
				d.logger.Warn("inline event delivery failed", zap.String("event_id", evt.ID), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	evt, ok := job.Payload.(models.RequestEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	var err error
	switch job.Type {
	case jobAudit:
		err = d.writeAudit(ctx, evt)
	case jobPublish:
		if d.publisher == nil {
			return nil
		}
		err = d.publisher.Publish(ctx, evt)
		if d.metrics != nil {
			d.metrics.RecordEvent(string(evt.Type), err == nil)
		}
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	return err
}

func (d *Dispatcher) writeAudit(ctx context.Context, evt models.RequestEvent) error {
	if d.audit == nil {
		return nil
	}
	values := map[string]interface{}{}
	for k, v := range evt.Details {
		values[k] = v
	}
	values["requestNumber"] = evt.RequestNumber
	if evt.FromStatus != "" {
		values["fromStatus"] = evt.FromStatus
		values["toStatus"] = evt.ToStatus
	}
	newValues, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode audit values: %w", err)
	}
	var oldValues []byte
	if evt.FromStatus != "" {
		oldValues, _ = json.Marshal(map[string]interface{}{"status": evt.FromStatus})
	}
	entry := &models.AuditLog{
		ID:         evt.ID,
		Action:     string(evt.Type),
		Resource:   models.AuditResourceRequest,
		ResourceID: stringRef(evt.RequestID),
		OldValues:  oldValues,
		NewValues:  newValues,
		CreatedAt:  evt.OccurredAt,
	}
	if evt.ActorID != "" {
		entry.UserID = stringRef(evt.ActorID)
	}
	if err := d.audit.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

func stringRef(v string) *string {
	return &v
}
