package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

type visitService interface {
	ScheduleOrUpdateVisit(ctx context.Context, session models.Session, requestID string, payload dto.ScheduleVisitRequest) (*dto.TransitionResult, error)
	UpdateVisitStatus(ctx context.Context, session models.Session, visitID string, payload dto.UpdateVisitStatusRequest) (*dto.TransitionResult, error)
	Accept(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error)
	RequestReschedule(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error)
	Complete(ctx context.Context, session models.Session, requestID string) (*dto.TransitionResult, error)
}

// VisitHandler exposes the visit sub-workflow.
type VisitHandler struct {
	service visitService
}

// NewVisitHandler builds a new handler.
func NewVisitHandler(service visitService) *VisitHandler {
	return &VisitHandler{service: service}
}

// Schedule godoc
// @Summary Schedule or reschedule the visit of a request
// @Tags Visits
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ScheduleVisitRequest true "Visit"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/visit [post]
func (h *VisitHandler) Schedule(c *gin.Context) {
	var payload dto.ScheduleVisitRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "visit"))
		return
	}
	transitionResponder(c)(h.service.ScheduleOrUpdateVisit(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// Accept godoc
// @Summary Accept the scheduled visit
// @Tags Visits
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/visit/accept [post]
func (h *VisitHandler) Accept(c *gin.Context) {
	transitionResponder(c)(h.service.Accept(c.Request.Context(), sessionFromContext(c), c.Param("id")))
}

// Reschedule godoc
// @Summary Ask staff for another visit date
// @Tags Visits
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/visit/reschedule [post]
func (h *VisitHandler) Reschedule(c *gin.Context) {
	transitionResponder(c)(h.service.RequestReschedule(c.Request.Context(), sessionFromContext(c), c.Param("id")))
}

// Complete godoc
// @Summary Mark an accepted visit as held and close the request
// @Tags Visits
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/visit/complete [post]
func (h *VisitHandler) Complete(c *gin.Context) {
	transitionResponder(c)(h.service.Complete(c.Request.Context(), sessionFromContext(c), c.Param("id")))
}

// UpdateStatus godoc
// @Summary Move a visit to another status by visit id
// @Tags Visits
// @Accept json
// @Produce json
// @Param visitId path string true "Visit ID"
// @Param payload body dto.UpdateVisitStatusRequest true "Visit status"
// @Success 200 {object} response.Envelope
// @Router /visits/{visitId}/status [put]
func (h *VisitHandler) UpdateStatus(c *gin.Context) {
	var payload dto.UpdateVisitStatusRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "visit status"))
		return
	}
	transitionResponder(c)(h.service.UpdateVisitStatus(c.Request.Context(), sessionFromContext(c), c.Param("visitId"), payload))
}
