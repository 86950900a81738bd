package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
	"github.com/noah-isme/univ-portal-api/pkg/export"
)

const (
	exportPageSize = 100
	// exportMaxRows caps a single export.
	exportMaxRows = 5000
)

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
}

type csvRenderer interface {
	Render(table export.Table) ([]byte, error)
}

type pdfRenderer interface {
	Render(table export.Table, title string) ([]byte, error)
}

// ExportService renders filtered request lists for staff.
type ExportService struct {
	requests requestLister
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(requests requestLister, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		requests: requests,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var requestExportColumns = []export.Column{
	{Key: "number", Title: "Request Number", Width: 1.4},
	{Key: "type", Title: "Type", Width: 0.9},
	{Key: "status", Title: "Status", Width: 1},
	{Key: "title", Title: "Title", Width: 2.4},
	{Key: "name", Title: "Submitted By", Width: 1.4},
	{Key: "department", Title: "Department", Width: 1.2},
	{Key: "created", Title: "Created", Width: 1},
	{Key: "resolved", Title: "Resolved", Width: 1},
}

// Export renders every request matching query in the chosen format.
func (s *ExportService) Export(ctx context.Context, session models.Session, query dto.RequestQuery, format dto.ExportFormat) (*dto.ExportFile, error) {
	if session.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if !session.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can export requests")
	}
	if format == "" {
		format = dto.ExportFormatCSV
	}
	if format != dto.ExportFormatCSV && format != dto.ExportFormatPDF {
		return nil, appErrors.FieldErrors("invalid export", map[string]string{"format": "must be csv or pdf"})
	}

	items, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	table := export.Table{Columns: requestExportColumns, Rows: make([]map[string]string, 0, len(items))}
	for _, item := range items {
		table.Rows = append(table.Rows, exportRow(item))
	}

	stamp := s.now().Format("20060102-150405")
	var file dto.ExportFile
	switch format {
	case dto.ExportFormatPDF:
		body, err := s.pdf.Render(table, fmt.Sprintf("Requests (%d)", len(items)))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		file = dto.ExportFile{FileName: "requests-" + stamp + ".pdf", ContentType: "application/pdf", Body: body}
	case dto.ExportFormatCSV:
		body, err := s.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		file = dto.ExportFile{FileName: "requests-" + stamp + ".csv", ContentType: "text/csv; charset=utf-8", Body: body}
	}
	s.logger.Info("requests exported",
		zap.String("user_id", session.UserID),
		zap.String("format", string(format)),
		zap.Int("rows", len(items)),
	)
	return &file, nil
}

func (s *ExportService) collect(ctx context.Context, query dto.RequestQuery) ([]models.Request, error) {
	filter := models.RequestFilter{
		Types:            query.Types,
		Statuses:         query.Statuses,
		DepartmentID:     query.DepartmentID,
		AssignedToUserID: query.AssignedToUserID,
		UserID:           query.UserID,
		Search:           query.Search,
		SortBy:           query.SortBy,
		SortOrder:        query.SortOrder,
		PageSize:         exportPageSize,
	}
	var out []models.Request
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.requests.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests for export")
		}
		out = append(out, items...)
		if len(items) < exportPageSize || len(out) >= total || len(out) >= exportMaxRows {
			break
		}
	}
	if len(out) > exportMaxRows {
		out = out[:exportMaxRows]
	}
	return out, nil
}

func exportRow(r models.Request) map[string]string {
	title := r.TitleEn
	if title == "" {
		title = r.TitleAr
	}
	row := map[string]string{
		"number":  r.RequestNumber,
		"type":    string(r.Type),
		"status":  string(r.Status),
		"title":   title,
		"name":    r.FullName,
		"created": r.CreatedAt.Format("2006-01-02"),
	}
	if r.AssignedDepartmentID != nil {
		row["department"] = *r.AssignedDepartmentID
	}
	if r.ResolvedAt != nil {
		row["resolved"] = r.ResolvedAt.Format("2006-01-02")
	}
	return row
}
