package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-portal-api/internal/dto"
	"github.com/noah-isme/univ-portal-api/internal/models"
	"github.com/noah-isme/univ-portal-api/internal/policy"
	appErrors "github.com/noah-isme/univ-portal-api/pkg/errors"
	"github.com/noah-isme/univ-portal-api/pkg/storage"
)

type attachmentStore interface {
	Create(ctx context.Context, att *models.Attachment) error
	GetByID(ctx context.Context, id string) (*models.Attachment, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.Attachment, error)
	Delete(ctx context.Context, id string) error
}

type blobStore interface {
	Put(key string, r io.Reader, limit int64) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type urlSigner interface {
	Sign(attachmentID, key string) (string, time.Time, error)
	Verify(token string) (storage.DownloadClaims, error)
}

// AttachmentConfig bounds what can be uploaded.
type AttachmentConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	// DownloadPath is the public path serving signed downloads, e.g. /api/v1/attachments/download.
	DownloadPath string
}

// AttachmentService stores files against requests and serves them through signed links.
type AttachmentService struct {
	*Workflow
	attachments attachmentStore
	blobs       blobStore
	signer      urlSigner
	cfg         AttachmentConfig
	allowed     map[string]struct{}
}

// NewAttachmentService builds the attachment service.
func NewAttachmentService(w *Workflow, attachments attachmentStore, blobs blobStore, signer urlSigner, cfg AttachmentConfig) *AttachmentService {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/attachments/download"
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &AttachmentService{
		Workflow:    w,
		attachments: attachments,
		blobs:       blobs,
		signer:      signer,
		cfg:         cfg,
		allowed:     allowed,
	}
}

// CheckFile validates name, size and content type before anything is written.
func (s *AttachmentService) CheckFile(file dto.FileUpload) error {
	fields := map[string]string{}
	if strings.TrimSpace(file.FileName) == "" {
		fields["fileName"] = "is required"
	}
	if file.Body == nil {
		fields["file"] = "is required"
	}
	if file.Size > s.cfg.MaxFileSize {
		fields["file"] = fmt.Sprintf("must be at most %d bytes", s.cfg.MaxFileSize)
	}
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[normalizeMIME(file.ContentType)]; !ok {
			fields["contentType"] = "is not an allowed file type"
		}
	}
	if len(fields) > 0 {
		return appErrors.FieldErrors("invalid attachment", fields)
	}
	return nil
}

// Upload attaches a file after checking the caller may add files of typ.
func (s *AttachmentService) Upload(ctx context.Context, session models.Session, requestID string, typ models.AttachmentType, file dto.FileUpload) (*dto.AttachmentLink, error) {
	const op = "upload_attachment"
	if !typ.Valid() {
		return nil, s.finish(op, false, appErrors.FieldErrors("invalid attachment", map[string]string{"attachmentType": "has an unsupported value"}))
	}
	if err := s.CheckFile(file); err != nil {
		return nil, s.finish(op, false, err)
	}
	snap, err := s.snapshot(ctx, requestID)
	if err != nil {
		return nil, s.finish(op, false, err)
	}
	if err := s.authorize(session, attachAction(typ), snap); err != nil {
		return nil, s.finish(op, false, err)
	}
	att, err := s.Store(ctx, session, snap.Request, typ, file)
	if err != nil {
		return nil, s.finish(op, false, err)
	}
	s.finish(op, false, nil)
	return s.link(*att)
}

// Store writes the blob and its metadata. Callers authorize beforehand.
func (s *AttachmentService) Store(ctx context.Context, session models.Session, req *models.Request, typ models.AttachmentType, file dto.FileUpload) (*models.Attachment, error) {
	id := uuid.NewString()
	key := req.ID + "/" + id + "-" + safeFileName(file.FileName)
	size, err := s.blobs.Put(key, file.Body, s.cfg.MaxFileSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to store attachment")
	}
	att := &models.Attachment{
		ID:          id,
		RequestID:   req.ID,
		Type:        typ,
		FileName:    filepath.Base(file.FileName),
		StoragePath: key,
		MimeType:    normalizeMIME(file.ContentType),
		SizeBytes:   size,
		UploadedBy:  session.UserID,
		CreatedAt:   s.now(),
	}
	if err := s.attachments.Create(ctx, att); err != nil {
		if delErr := s.blobs.Delete(key); delErr != nil {
			s.logger.Warn("failed to remove orphan attachment", zap.String("key", key), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attachment")
	}
	evt := s.event(models.EventAttachmentAdded, req, session)
	evt.Details = map[string]interface{}{"attachmentId": att.ID, "attachmentType": typ, "fileName": att.FileName}
	s.committed(ctx, evt)
	return att, nil
}

// List returns the attachments of a visible request with fresh download links.
func (s *AttachmentService) List(ctx context.Context, session models.Session, requestID string) ([]dto.AttachmentLink, error) {
	snap, err := s.snapshot(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, policy.ActionView, snap); err != nil {
		return nil, err
	}
	items, err := s.attachments.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	links := make([]dto.AttachmentLink, 0, len(items))
	for _, att := range items {
		link, err := s.link(att)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

// Open resolves a signed download token into the attachment and its content.
func (s *AttachmentService) Open(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	att, err := s.attachments.GetByID(ctx, claims.AttachmentID)
	if err != nil {
		return nil, nil, storeError(err, "attachment not found", "failed to load attachment")
	}
	if att.StoragePath != claims.Key {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	body, err := s.blobs.Open(att.StoragePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "attachment content missing")
	}
	return att, body, nil
}

// Delete removes an attachment. Owners remove request files, staff remove resolution files.
func (s *AttachmentService) Delete(ctx context.Context, session models.Session, attachmentID string) error {
	const op = "delete_attachment"
	att, err := s.attachments.GetByID(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.finish(op, false, appErrors.Clone(appErrors.ErrNotFound, "attachment not found"))
		}
		return s.finish(op, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment"))
	}
	snap, err := s.snapshot(ctx, att.RequestID)
	if err != nil {
		return s.finish(op, false, err)
	}
	if err := s.authorize(session, attachAction(att.Type), snap); err != nil {
		return s.finish(op, false, err)
	}
	if err := s.attachments.Delete(ctx, att.ID); err != nil {
		return s.finish(op, false, storeError(err, "attachment not found", "failed to delete attachment"))
	}
	if err := s.blobs.Delete(att.StoragePath); err != nil {
		s.logger.Warn("failed to remove attachment file", zap.String("key", att.StoragePath), zap.Error(err))
	}
	evt := s.event(models.EventAttachmentRemoved, snap.Request, session)
	evt.Details = map[string]interface{}{"attachmentId": att.ID, "attachmentType": att.Type, "fileName": att.FileName}
	s.committed(ctx, evt)
	s.finish(op, false, nil)
	return nil
}

func (s *AttachmentService) link(att models.Attachment) (*dto.AttachmentLink, error) {
	token, expires, err := s.signer.Sign(att.ID, att.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.AttachmentLink{
		Attachment:  att,
		DownloadURL: s.cfg.DownloadPath + "?token=" + token,
		ExpiresAt:   expires,
	}, nil
}

func attachAction(typ models.AttachmentType) policy.Action {
	if typ == models.AttachmentTypeResolution {
		return policy.ActionAttachResolutionFile
	}
	return policy.ActionAttachRequestFile
}

func normalizeMIME(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 || base == "." || base == "/" {
		return "file"
	}
	return b.String()
}
