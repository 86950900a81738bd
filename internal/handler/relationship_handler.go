package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

type relationshipService interface {
	Convert(ctx context.Context, session models.Session, id string, payload dto.ConvertRequest) (*dto.ConvertResult, error)
	AssignRelated(ctx context.Context, session models.Session, id string, payload dto.AssignRelatedRequest) (*dto.TransitionResult, error)
	Reactivate(ctx context.Context, session models.Session, id string, payload dto.ReactivateRequest) (*dto.ReactivateResult, error)
	Relations(ctx context.Context, session models.Session, id string) ([]models.RequestEdge, error)
}

// RelationshipHandler exposes conversion, linking and reactivation of requests.
type RelationshipHandler struct {
	service relationshipService
}

// NewRelationshipHandler builds a new handler.
func NewRelationshipHandler(service relationshipService) *RelationshipHandler {
	return &RelationshipHandler{service: service}
}

// Convert godoc
// @Summary Convert a visit into a complaint
// @Tags Relationships
// @Accept json
// @Produce json
// @Param id path string true "Visit request ID"
// @Param payload body dto.ConvertRequest true "Target department"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/convert [post]
func (h *RelationshipHandler) Convert(c *gin.Context) {
	var payload dto.ConvertRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "convert"))
		return
	}
	result, err := h.service.Convert(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// AssignRelated godoc
// @Summary Link a visit to a prior complaint, or unlink with null
// @Tags Relationships
// @Accept json
// @Produce json
// @Param id path string true "Visit request ID"
// @Param payload body dto.AssignRelatedRequest true "Related complaint"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/related [put]
func (h *RelationshipHandler) AssignRelated(c *gin.Context) {
	var payload dto.AssignRelatedRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "related request"))
		return
	}
	transitionResponder(c)(h.service.AssignRelated(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload))
}

// Reactivate godoc
// @Summary Open a successor for a closed request
// @Tags Relationships
// @Accept json
// @Produce json
// @Param id path string true "Closed request ID"
// @Param payload body dto.ReactivateRequest true "Successor content"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/reactivate [post]
func (h *RelationshipHandler) Reactivate(c *gin.Context) {
	var payload dto.ReactivateRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, invalidPayload(err, "reactivate"))
		return
	}
	result, err := h.service.Reactivate(c.Request.Context(), sessionFromContext(c), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Relations godoc
// @Summary List relationship edges touching a request
// @Tags Relationships
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/relations [get]
func (h *RelationshipHandler) Relations(c *gin.Context) {
	edges, err := h.service.Relations(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, edges, nil)
}
