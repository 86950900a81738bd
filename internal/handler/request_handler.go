package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/middleware"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

type requestService interface {
	Submit(ctx context.Context, session models.Session, payload dto.CreateRequestRequest) (*models.Request, error)
	Get(ctx context.Context, session models.Session, id string) (*dto.RequestDetail, error)
	AllowedActions(ctx context.Context, session models.Session, id string) ([]policy.Action, error)
	List(ctx context.Context, session models.Session, query dto.RequestQuery) ([]models.Request, *models.Pagination, error)
	Delete(ctx context.Context, session models.Session, id string) error
	History(ctx context.Context, session models.Session, id string) ([]dto.HistoryEntry, error)
}

type requestExporter interface {
	Export(ctx context.Context, session models.Session, query dto.RequestQuery, format dto.ExportFormat) (*dto.ExportFile, error)
}

// RequestHandler exposes request submission and read endpoints.
type RequestHandler struct {
	service  requestService
	exporter requestExporter
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(service requestService, exporter requestExporter) *RequestHandler {
	return &RequestHandler{service: service, exporter: exporter}
}

// Submit godoc
// @Summary Submit a service request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	var payload dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "request"))
		return
	}
	req, err := h.service.Submit(c.Request.Context(), sessionFromContext(c), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// List godoc
// @Summary List requests visible to the caller
// @Tags Requests
// @Produce json
// @Param types query string false "Comma separated request types"
// @Param statuses query string false "Comma separated request statuses"
// @Param departmentId query string false "Assigned department"
// @Param assignedToUserId query string false "Assigned employee"
// @Param userId query string false "Submitting user (staff only)"
// @Param search query string false "Matches request number, title or subject"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Param sortBy query string false "created_at, updated_at, request_number or status"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	query := requestQuery(c)
	items, pagination, err := h.service.List(c.Request.Context(), sessionFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a request with its visit and allowed actions
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil, middleware.ExtractMeta(c))
}

// AllowedActions godoc
// @Summary List the actions the caller may perform on a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/actions [get]
func (h *RequestHandler) AllowedActions(c *gin.Context) {
	actions, err := h.service.AllowedActions(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, actions, nil)
}

// History godoc
// @Summary Audit history of a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Delete godoc
// @Summary Delete a request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), sessionFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Export requests as CSV or PDF
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /requests/export [get]
func (h *RequestHandler) Export(c *gin.Context) {
	file, err := h.exporter.Export(c.Request.Context(), sessionFromContext(c), requestQuery(c), dto.ExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.FileName, file.ContentType, file.Body)
}

func requestQuery(c *gin.Context) dto.RequestQuery {
	query := dto.RequestQuery{
		DepartmentID:     c.Query("departmentId"),
		AssignedToUserID: c.Query("assignedToUserId"),
		UserID:           c.Query("userId"),
		Search:           c.Query("search"),
		Page:             intQuery(c, "page"),
		PageSize:         intQuery(c, "pageSize"),
		SortBy:           c.Query("sortBy"),
		SortOrder:        c.Query("sortOrder"),
	}
	for _, t := range splitQuery(c.Query("types")) {
		query.Types = append(query.Types, models.RequestType(t))
	}
	for _, s := range splitQuery(c.Query("statuses")) {
		query.Statuses = append(query.Statuses, models.RequestStatus(s))
	}
	return query
}
