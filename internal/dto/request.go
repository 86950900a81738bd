package dto

import (
	"io"
	"time"

	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
)

// CreateRequestRequest is the citizen submission payload.
type CreateRequestRequest struct {
	Type         models.RequestType `json:"requestType" validate:"required,request_type"`
	TitleAr      string             `json:"titleAr" validate:"required,notblank,max=300"`
	TitleEn      string             `json:"titleEn" validate:"max=300"`
	SubjectAr    string             `json:"subjectAr" validate:"required,notblank,max=5000"`
	SubjectEn    string             `json:"subjectEn" validate:"max=5000"`
	FullName     string             `json:"fullName" validate:"required,notblank,max=200"`
	Email        string             `json:"email" validate:"required,email"`
	Phone        string             `json:"phone" validate:"omitempty,max=32"`
	LeadershipID *string            `json:"universityLeadershipId" validate:"omitempty,uuid"`
}

// RequestQuery mirrors the supported listing filters.
type RequestQuery struct {
	Types            []models.RequestType
	Statuses         []models.RequestStatus
	DepartmentID     string
	AssignedToUserID string
	UserID           string
	Search           string
	Page             int
	PageSize         int
	SortBy           string
	SortOrder        string
}

// UpdateStatusRequest sets a status directly.
type UpdateStatusRequest struct {
	Status models.RequestStatus `json:"requestStatusId" validate:"required,request_status"`
	Note   string               `json:"note" validate:"max=2000"`
}

// AssignDepartmentRequest assigns or, with a null id, clears the department.
type AssignDepartmentRequest struct {
	DepartmentID *string `json:"departmentId" validate:"omitempty,uuid"`
}

// AssignLeadershipRequest assigns university leadership to a visit request.
type AssignLeadershipRequest struct {
	LeadershipID string `json:"universityLeadershipId" validate:"required,uuid"`
}

// FileUpload is one file carried by a multipart request.
type FileUpload struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ResolutionRequest is the staff reply to an inquiry or complaint.
type ResolutionRequest struct {
	TextAr string       `json:"resolutionDetailsAr" validate:"required,notblank,max=10000"`
	TextEn string       `json:"resolutionDetailsEn" validate:"max=10000"`
	Files  []FileUpload `json:"-"`
}

// RatingRequest rates a replied request.
type RatingRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Feedback  string `json:"feedback" validate:"max=2000"`
}

// ScheduleVisitRequest creates or updates the visit appointment.
type ScheduleVisitRequest struct {
	VisitDate    time.Time `json:"visitDate" validate:"required"`
	LeadershipID string    `json:"leadershipId" validate:"omitempty,uuid"`
	VisitID      *string   `json:"visitId" validate:"omitempty,uuid"`
}

// UpdateVisitStatusRequest moves a visit through its sub-workflow.
type UpdateVisitStatusRequest struct {
	Status models.VisitStatus `json:"visitStatus" validate:"required,visit_status"`
}

// ConvertRequest converts a visit into a complaint routed to a department.
type ConvertRequest struct {
	DepartmentID string `json:"departmentId" validate:"required,uuid"`
}

// AssignRelatedRequest links or, with a null id, unlinks a prior complaint.
type AssignRelatedRequest struct {
	RelatedRequestID *string `json:"relatedRequestId" validate:"omitempty,uuid"`
}

// ReactivateRequest carries the fresh text for a reactivated request.
type ReactivateRequest struct {
	TitleAr   string `json:"titleAr" validate:"required,notblank,max=300"`
	TitleEn   string `json:"titleEn" validate:"max=300"`
	SubjectAr string `json:"subjectAr" validate:"required,notblank,max=5000"`
	SubjectEn string `json:"subjectEn" validate:"max=5000"`
}

// TransitionResult reports the state after a workflow operation.
type TransitionResult struct {
	Request *models.Request `json:"request"`
	Visit   *models.Visit   `json:"visit,omitempty"`
	NoOp    bool            `json:"noOp"`
	Message string          `json:"message,omitempty"`
}

// ConvertResult reports both sides of a conversion.
type ConvertResult struct {
	Complaint *models.Request `json:"complaint"`
	Visit     *models.Request `json:"visit"`
}

// ReactivateResult reports the successor and the closed predecessor.
type ReactivateResult struct {
	Request     *models.Request `json:"request"`
	Predecessor *models.Request `json:"predecessor"`
}

// RequestDetail is the full read model of one request.
type RequestDetail struct {
	Request        *models.Request `json:"request"`
	Visit          *models.Visit   `json:"visit,omitempty"`
	AllowedActions []policy.Action `json:"allowedActions"`
}

// HistoryEntry is one audit trail row rendered for clients.
type HistoryEntry struct {
	Action    string                 `json:"action"`
	ActorID   *string                `json:"actorId,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// AttachmentLink is an attachment with a signed download URL.
type AttachmentLink struct {
	models.Attachment
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ExportFormat selects the export renderer.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered export.
type ExportFile struct {
	FileName    string
	ContentType string
	Body        []byte
}
