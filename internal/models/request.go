package models

import (
	"fmt"
	"time"
)

// RequestType enumerates the kinds of citizen requests. Complaints also carry suggestions.
type RequestType string

const (
	RequestTypeInquiry   RequestType = "INQUIRY"
	RequestTypeComplaint RequestType = "COMPLAINT"
	RequestTypeVisit     RequestType = "VISIT"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeInquiry, RequestTypeComplaint, RequestTypeVisit:
		return true
	}
	return false
}

// NumberPrefix returns the prefix used in human readable request numbers.
func (t RequestType) NumberPrefix() string {
	switch t {
	case RequestTypeInquiry:
		return "INQ"
	case RequestTypeComplaint:
		return "CMP"
	case RequestTypeVisit:
		return "VST"
	}
	return "REQ"
}

// RequestStatus captures the four lifecycle states of a request.
type RequestStatus string

const (
	RequestStatusReceived    RequestStatus = "RECEIVED"
	RequestStatusUnderReview RequestStatus = "UNDER_REVIEW"
	RequestStatusReplied     RequestStatus = "REPLIED"
	RequestStatusClosed      RequestStatus = "CLOSED"
)

// Rank orders statuses along the forward path. Unknown statuses rank zero.
func (s RequestStatus) Rank() int {
	switch s {
	case RequestStatusReceived:
		return 1
	case RequestStatusUnderReview:
		return 2
	case RequestStatusReplied:
		return 3
	case RequestStatusClosed:
		return 4
	}
	return 0
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool { return s.Rank() > 0 }

// Open reports whether the request can still move forward.
func (s RequestStatus) Open() bool { return s.Valid() && s != RequestStatusClosed }

// ParseRequestStatus converts raw input into a status.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	s := RequestStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown request status %q", raw)
	}
	return s, nil
}

// VisitStatus captures the states of the visit sub-workflow.
type VisitStatus string

const (
	VisitStatusScheduled   VisitStatus = "SCHEDULED"
	VisitStatusAccepted    VisitStatus = "ACCEPTED"
	VisitStatusRescheduled VisitStatus = "RESCHEDULED"
	VisitStatusCompleted   VisitStatus = "COMPLETED"
)

// Valid reports whether s is a known visit status.
func (s VisitStatus) Valid() bool {
	switch s {
	case VisitStatusScheduled, VisitStatusAccepted, VisitStatusRescheduled, VisitStatusCompleted:
		return true
	}
	return false
}

// Request is a single citizen submission stored in the requests table.
type Request struct {
	ID                              string        `db:"id" json:"id"`
	RequestNumber                   string        `db:"request_number" json:"requestNumber"`
	Type                            RequestType   `db:"request_type" json:"requestType"`
	Status                          RequestStatus `db:"request_status" json:"requestStatus"`
	UserID                          string        `db:"user_id" json:"userId"`
	TitleAr                         string        `db:"title_ar" json:"titleAr"`
	TitleEn                         string        `db:"title_en" json:"titleEn"`
	SubjectAr                       string        `db:"subject_ar" json:"subjectAr"`
	SubjectEn                       string        `db:"subject_en" json:"subjectEn"`
	FullName                        string        `db:"full_name" json:"fullName"`
	Email                           string        `db:"email" json:"email"`
	Phone                           string        `db:"phone" json:"phone"`
	AssignedDepartmentID            *string       `db:"assigned_department_id" json:"assignedDepartmentId,omitempty"`
	AssignedToUserID                *string       `db:"assigned_to_user_id" json:"assignedToUserId,omitempty"`
	UniversityLeadershipID          *string       `db:"university_leadership_id" json:"universityLeadershipId,omitempty"`
	VisitID                         *string       `db:"visit_id" json:"visitId,omitempty"`
	NeedDateReschedule              bool          `db:"need_date_reschedule" json:"needDateReschedule"`
	RelatedRequestID                *string       `db:"related_request_id" json:"relatedRequestId,omitempty"`
	IsVisitRelatedToPreviousRequest bool          `db:"is_visit_related_to_previous_request" json:"isVisitRelatedToPreviousRequest"`
	RedirectToNewRequest            bool          `db:"redirect_to_new_request" json:"redirectToNewRequest"`
	ResolutionDetailsAr             *string       `db:"resolution_details_ar" json:"resolutionDetailsAr,omitempty"`
	ResolutionDetailsEn             *string       `db:"resolution_details_en" json:"resolutionDetailsEn,omitempty"`
	ResolvedBy                      *string       `db:"resolved_by" json:"resolvedBy,omitempty"`
	ResolvedAt                      *time.Time    `db:"resolved_at" json:"resolvedAt,omitempty"`
	CreatedAt                       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt                       time.Time     `db:"updated_at" json:"updatedAt"`
}

// IsOwnedBy reports whether userID submitted the request.
func (r *Request) IsOwnedBy(userID string) bool {
	return r != nil && userID != "" && r.UserID == userID
}

// RequestPatch lists the mutable attributes of a request. Nil pointers are left untouched.
// Clear flags null out nullable columns and win over the matching pointer.
type RequestPatch struct {
	Status                          *RequestStatus
	AssignedDepartmentID            *string
	ClearDepartment                 bool
	UniversityLeadershipID          *string
	VisitID                         *string
	NeedDateReschedule              *bool
	RelatedRequestID                *string
	ClearRelatedRequest             bool
	IsVisitRelatedToPreviousRequest *bool
	RedirectToNewRequest            *bool
	ResolutionDetailsAr             *string
	ResolutionDetailsEn             *string
	ResolvedBy                      *string
	ResolvedAt                      *time.Time
	UpdatedAt                       time.Time
}

// Empty reports whether the patch changes nothing.
func (p RequestPatch) Empty() bool {
	return p.Status == nil && p.AssignedDepartmentID == nil && !p.ClearDepartment &&
		p.UniversityLeadershipID == nil && p.VisitID == nil && p.NeedDateReschedule == nil &&
		p.RelatedRequestID == nil && !p.ClearRelatedRequest && p.IsVisitRelatedToPreviousRequest == nil &&
		p.RedirectToNewRequest == nil && p.ResolutionDetailsAr == nil && p.ResolutionDetailsEn == nil &&
		p.ResolvedBy == nil && p.ResolvedAt == nil
}

// Apply copies the patch onto r.
func (p RequestPatch) Apply(r *Request) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClearDepartment {
		r.AssignedDepartmentID = nil
	} else if p.AssignedDepartmentID != nil {
		r.AssignedDepartmentID = cloneString(p.AssignedDepartmentID)
	}
	if p.UniversityLeadershipID != nil {
		r.UniversityLeadershipID = cloneString(p.UniversityLeadershipID)
	}
	if p.VisitID != nil {
		r.VisitID = cloneString(p.VisitID)
	}
	if p.NeedDateReschedule != nil {
		r.NeedDateReschedule = *p.NeedDateReschedule
	}
	if p.ClearRelatedRequest {
		r.RelatedRequestID = nil
	} else if p.RelatedRequestID != nil {
		r.RelatedRequestID = cloneString(p.RelatedRequestID)
	}
	if p.IsVisitRelatedToPreviousRequest != nil {
		r.IsVisitRelatedToPreviousRequest = *p.IsVisitRelatedToPreviousRequest
	}
	if p.RedirectToNewRequest != nil {
		r.RedirectToNewRequest = *p.RedirectToNewRequest
	}
	if p.ResolutionDetailsAr != nil {
		r.ResolutionDetailsAr = cloneString(p.ResolutionDetailsAr)
	}
	if p.ResolutionDetailsEn != nil {
		r.ResolutionDetailsEn = cloneString(p.ResolutionDetailsEn)
	}
	if p.ResolvedBy != nil {
		r.ResolvedBy = cloneString(p.ResolvedBy)
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		r.ResolvedAt = &t
	}
	if !p.UpdatedAt.IsZero() {
		r.UpdatedAt = p.UpdatedAt
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

// RequestFilter constrains request listing queries.
type RequestFilter struct {
	Types            []RequestType
	Statuses         []RequestStatus
	DepartmentID     string
	AssignedToUserID string
	UserID           string
	Search           string
	Page             int
	PageSize         int
	SortBy           string
	SortOrder        string
}

// Visit is the appointment attached one-to-one to a visit request.
type Visit struct {
	ID           string      `db:"id" json:"visitId"`
	RequestID    string      `db:"request_id" json:"requestId"`
	LeadershipID string      `db:"leadership_id" json:"leadershipId"`
	VisitDate    time.Time   `db:"visit_date" json:"visitDate"`
	Status       VisitStatus `db:"visit_status" json:"visitStatus"`
	CreatedAt    time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updatedAt"`
}

// Rating is the citizen's single evaluation of a replied request.
type Rating struct {
	ID        string    `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"requestId"`
	UserID    string    `db:"user_id" json:"userId"`
	Rating    int       `db:"rating" json:"rating"`
	Feedback  string    `db:"feedback" json:"feedback"`
	RatedAt   time.Time `db:"rated_at" json:"ratedAt"`
}

// AttachmentType distinguishes citizen uploads from staff resolution files.
type AttachmentType string

const (
	AttachmentTypeRequest    AttachmentType = "REQUEST"
	AttachmentTypeResolution AttachmentType = "RESOLUTION"
)

// Valid reports whether t is a known attachment type.
func (t AttachmentType) Valid() bool {
	return t == AttachmentTypeRequest || t == AttachmentTypeResolution
}

// Attachment is an immutable file stored against a request.
type Attachment struct {
	ID          string         `db:"id" json:"id"`
	RequestID   string         `db:"request_id" json:"requestId"`
	Type        AttachmentType `db:"attachment_type" json:"attachmentType"`
	FileName    string         `db:"file_name" json:"fileName"`
	StoragePath string         `db:"storage_path" json:"-"`
	MimeType    string         `db:"mime_type" json:"mimeType"`
	SizeBytes   int64          `db:"size_bytes" json:"sizeBytes"`
	UploadedBy  string         `db:"uploaded_by" json:"uploadedBy"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}

// EdgeKind discriminates relationships between requests.
type EdgeKind string

const (
	// EdgeLinkedComplaint points from a visit to the prior complaint it concerns.
	EdgeLinkedComplaint EdgeKind = "LINKED_COMPLAINT"
	// EdgeConvertedFrom points from a complaint to the visit it was converted from.
	EdgeConvertedFrom EdgeKind = "CONVERTED_FROM"
	// EdgeReactivatedFrom points from a successor to the closed request it reactivates.
	EdgeReactivatedFrom EdgeKind = "REACTIVATED_FROM"
)

// RequestEdge is a typed directed relationship between two requests.
type RequestEdge struct {
	ID            string    `db:"id" json:"id"`
	Kind          EdgeKind  `db:"kind" json:"kind"`
	FromRequestID string    `db:"from_request_id" json:"fromRequestId"`
	ToRequestID   string    `db:"to_request_id" json:"toRequestId"`
	CreatedBy     string    `db:"created_by" json:"createdBy"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}
