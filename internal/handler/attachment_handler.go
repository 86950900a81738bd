package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
	"github.com/noah-isme/univ-portal-api/pkg/response"
)

type attachmentService interface {
	Upload(ctx context.Context, session models.Session, requestID string, typ models.AttachmentType, file dto.FileUpload) (*dto.AttachmentLink, error)
	List(ctx context.Context, session models.Session, requestID string) ([]dto.AttachmentLink, error)
	Open(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error)
	Delete(ctx context.Context, session models.Session, attachmentID string) error
}

// AttachmentHandler exposes file uploads and signed downloads.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler builds a new handler.
func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// Upload godoc
// @Summary Upload a file to a request
// @Tags Attachments
// @Accept mpfd
// @Produce json
// @Param id path string true "Request ID"
// @Param type formData string false "REQUEST (default) or RESOLUTION"
// @Param file formData file true "File"
// @Success 201 {object} response.Envelope
// @Router /requests/{id}/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, invalidPayload(err, "attachment"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, invalidPayload(err, "attachment"))
		return
	}
	defer file.Close() //nolint:errcheck

	typ := models.AttachmentType(c.DefaultPostForm("type", string(models.AttachmentTypeRequest)))
	link, err := h.service.Upload(c.Request.Context(), sessionFromContext(c), c.Param("id"), typ, dto.FileUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// List godoc
// @Summary List the attachments of a request with signed links
// @Tags Attachments
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/attachments [get]
func (h *AttachmentHandler) List(c *gin.Context) {
	links, err := h.service.List(c.Request.Context(), sessionFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, links, nil)
}

// Download godoc
// @Summary Download an attachment through a signed token
// @Tags Attachments
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /attachments/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	att, body, err := h.service.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close() //nolint:errcheck

	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, att.SizeBytes, att.MimeType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", att.FileName),
	})
}

// Delete godoc
// @Summary Delete an attachment
// @Tags Attachments
// @Param attachmentId path string true "Attachment ID"
// @Success 204
// @Router /attachments/{attachmentId} [delete]
func (h *AttachmentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), sessionFromContext(c), c.Param("attachmentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
