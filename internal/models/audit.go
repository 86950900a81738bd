package models

import "time"

// EventType names a request lifecycle event. The same values are stored as audit actions.
type EventType string

const (
	EventRequestCreated        EventType = "REQUEST_CREATED"
	EventStatusChanged         EventType = "REQUEST_STATUS_CHANGED"
	EventDepartmentAssigned    EventType = "REQUEST_DEPARTMENT_ASSIGNED"
	EventRequestClaimed        EventType = "REQUEST_CLAIMED"
	EventLeadershipAssigned    EventType = "REQUEST_LEADERSHIP_ASSIGNED"
	EventResolutionSubmitted   EventType = "REQUEST_RESOLVED"
	EventRatingSubmitted       EventType = "REQUEST_RATED"
	EventVisitScheduled        EventType = "VISIT_SCHEDULED"
	EventVisitAccepted         EventType = "VISIT_ACCEPTED"
	EventVisitRescheduleNeeded EventType = "VISIT_RESCHEDULE_REQUESTED"
	EventVisitCompleted        EventType = "VISIT_COMPLETED"
	EventRequestConverted      EventType = "REQUEST_CONVERTED"
	EventRelatedLinked         EventType = "REQUEST_RELATED_LINKED"
	EventRelatedUnlinked       EventType = "REQUEST_RELATED_UNLINKED"
	EventRequestReactivated    EventType = "REQUEST_REACTIVATED"
	EventRequestDeleted        EventType = "REQUEST_DELETED"
	EventAttachmentAdded       EventType = "ATTACHMENT_ADDED"
	EventAttachmentRemoved     EventType = "ATTACHMENT_REMOVED"
)

// AuditResourceRequest is the resource name recorded for request audit rows.
const AuditResourceRequest = "request"

// RequestEvent is emitted after every committed workflow mutation.
type RequestEvent struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	RequestID     string                 `json:"requestId"`
	RequestNumber string                 `json:"requestNumber"`
	OwnerID       string                 `json:"ownerId"`
	ActorID       string                 `json:"actorId"`
	FromStatus    RequestStatus          `json:"fromStatus,omitempty"`
	ToStatus      RequestStatus          `json:"toStatus,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	OccurredAt    time.Time              `json:"occurredAt"`
}

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
