package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

type transitionService interface {
	UpdateStatus(ctx context.Context, session models.Session, id string, payload dto.UpdateStatusRequest) (*dto.TransitionResult, error)
	AssignDepartment(ctx context.Context, session models.Session, id string, payload dto.AssignDepartmentRequest) (*dto.TransitionResult, error)
	AssignToMe(ctx context.Context, session models.Session, id string) (*dto.TransitionResult, error)
	AssignLeadership(ctx context.Context, session models.Session, id string, payload dto.AssignLeadershipRequest) (*dto.TransitionResult, error)
	SubmitResolution(ctx context.Context, session models.Session, id string, payload dto.ResolutionRequest) (*dto.TransitionResult, error)
	SubmitRating(ctx context.Context, session models.Session, payload dto.RatingRequest) (*dto.TransitionResult, error)
	GetRating(ctx context.Context, session models.Session, id string) (*models.Rating, error)
}

// WorkflowHandler exposes status transitions, assignments, resolutions and ratings.
type WorkflowHandler struct {
	service transitionService
}

// NewWorkflowHandler builds a new handler.
func NewWorkflowHandler(service transitionService) *WorkflowHandler {
	return &WorkflowHandler{service: service}
}

// UpdateStatus godoc
// @Summary Move a request to another status
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.UpdateStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/status [put]
func (h *WorkflowHandler) UpdateStatus(c *gin.Context) {
	var payload dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "status"))
		return
	}
	transitionResponder(c)(h.service.UpdateStatus(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// AssignDepartment godoc
// @Summary Assign, change or clear the department of a request
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AssignDepartmentRequest true "Department; null clears"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/department [put]
func (h *WorkflowHandler) AssignDepartment(c *gin.Context) {
	var payload dto.AssignDepartmentRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "department"))
		return
	}
	transitionResponder(c)(h.service.AssignDepartment(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// AssignToMe godoc
// @Summary Claim a request for the calling employee
// @Tags Workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/assign-to-me [post]
func (h *WorkflowHandler) AssignToMe(c *gin.Context) {
	transitionResponder(c)(h.service.AssignToMe(c.Request.Context(), sessionFromContext(c), c.Param("id")))
}

// AssignLeadership godoc
// @Summary Assign the university leader of a visit or inquiry
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.AssignLeadershipRequest true "Leadership"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/leadership [put]
func (h *WorkflowHandler) AssignLeadership(c *gin.Context) {
	var payload dto.AssignLeadershipRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "leadership"))
		return
	}
	transitionResponder(c)(h.service.AssignLeadership(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// SubmitResolution godoc
// @Summary Submit the resolution of a request
// @Description Accepts JSON, or multipart/form-data with resolutionDetailsAr, resolutionDetailsEn and files.
// @Tags Workflow
// @Accept json
// @Accept mpfd
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ResolutionRequest false "Resolution"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/resolution [post]
func (h *WorkflowHandler) SubmitResolution(c *gin.Context) {
	var payload dto.ResolutionRequest
	if isMultipart(c) {
		files, closeFiles, err := formFiles(c, "files")
		if err != nil {
			response.Error(c, invalidPayload(err, "resolution"))
			return
		}
		defer closeFiles()
		payload.TextAr = c.PostForm("resolutionDetailsAr")
		payload.TextEn = c.PostForm("resolutionDetailsEn")
		payload.Files = files
	} else if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "resolution"))
		return
	}
	transitionResponder(c)(h.service.SubmitResolution(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// SubmitRating godoc
// @Summary Rate a replied request
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RatingRequest true "Rating"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/rating [post]
func (h *WorkflowHandler) SubmitRating(c *gin.Context) {
	var payload dto.RatingRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "rating"))
		return
	}
	payload.RequestID = c.Param("id")
	transitionResponder(c)(h.service.SubmitRating(c.Request.Context(), sessionFromContext(c), payload))
}

// GetRating godoc
// @Summary Get the rating of a request
// @Tags Workflow
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/rating [get]
func (h *WorkflowHandler) GetRating(c *gin.Context) {
	rating, err := h.service.GetRating(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rating, nil)
}

// transitionResponder writes a transition outcome. No-ops are still 200 with noOp set.
func transitionResponder(c *gin.Context) func(*dto.TransitionResult, error) {
	return func(result *dto.TransitionResult, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, result, nil)
	}
}
