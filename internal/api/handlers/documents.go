package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anders-planck/parseur/internal/api/middleware"
	"github.com/anders-planck/parseur/internal/business/pipeline"
	"github.com/anders-planck/parseur/internal/config"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/infrastructure/objectstore"
	"github.com/anders-planck/parseur/internal/infrastructure/repository"
	"github.com/anders-planck/parseur/internal/realtime"
)

// reviewedConfidence is assigned when a user saves corrected data.
const reviewedConfidence = 0.95

// Enqueuer publishes document/uploaded jobs to the broker.
type Enqueuer interface {
	Enqueue(job pipeline.UploadedEvent) error
}

// Forgetter clears a document's memoized pipeline steps before a retry.
type Forgetter interface {
	Forget(documentID string)
}

// ObjectStore is the slice of the object store the handlers need.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Bucket() string
}

// DocumentHandler serves the document entry points.
type DocumentHandler struct {
	cfg       *config.Config
	documents repository.DocumentStore
	audits    repository.AuditStore
	objects   ObjectStore
	queue     Enqueuer
	forget    Forgetter
	publisher *realtime.Publisher
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewDocumentHandler wires the handler.
func NewDocumentHandler(
	cfg *config.Config,
	documents repository.DocumentStore,
	audits repository.AuditStore,
	objects ObjectStore,
	queue Enqueuer,
	forget Forgetter,
	publisher *realtime.Publisher,
	logger *slog.Logger,
) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		cfg:       cfg,
		documents: documents,
		audits:    audits,
		objects:   objects,
		queue:     queue,
		forget:    forget,
		publisher: publisher,
		validate:  validator.New(),
		logger:    logger.With("component", "document_handler"),
	}
}

// Upload handles POST /api/v1/documents: multipart field "file".
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeError(w, h.logger, core.NewError(core.KindAuthentication, "not authenticated", nil))
		return
	}

	if err := r.ParseMultipartForm(h.cfg.Upload.MaxFileSize); err != nil {
		writeError(w, h.logger, core.ValidationError("file", "invalid multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, core.ValidationError("file", "file field is required"))
		return
	}
	defer file.Close()

	if header.Size > h.cfg.Upload.MaxFileSize {
		writeError(w, h.logger, core.ValidationError("file", "file exceeds the maximum allowed size"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = objectstore.InferMimeType(header.Filename)
	}
	if !h.cfg.MimeAllowed(mimeType) {
		writeError(w, h.logger, core.ValidationError("file", "unsupported content type "+mimeType))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.Upload.MaxFileSize+1))
	if err != nil {
		writeError(w, h.logger, core.NewError(core.KindInternal, "read upload", err))
		return
	}
	if int64(len(data)) > h.cfg.Upload.MaxFileSize {
		writeError(w, h.logger, core.ValidationError("file", "file exceeds the maximum allowed size"))
		return
	}

	now := time.Now().UTC()
	key := objectstore.BuildKey(user.ID, header.Filename, now)

	if err := h.objects.Upload(r.Context(), key, data, mimeType); err != nil {
		writeError(w, h.logger, err)
		return
	}

	doc := &core.Document{
		ID:               uuid.New().String(),
		OwnerID:          user.ID,
		ObjectKey:        key,
		Bucket:           h.objects.Bucket(),
		FileSize:         int64(len(data)),
		MimeType:         mimeType,
		OriginalFilename: header.Filename,
		Status:           core.StatusProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.documents.Create(r.Context(), doc); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.audits.Append(r.Context(), &core.AuditRecord{
		DocumentID: doc.ID,
		Stage:      core.StageUpload,
	}); err != nil {
		h.logger.Warn("failed to write upload audit record",
			"document_id", doc.ID, "error", err)
	}

	job := pipeline.UploadedEvent{
		DocumentID: doc.ID,
		UserID:     user.ID,
		ObjectKey:  key,
		Bucket:     doc.Bucket,
		MimeType:   mimeType,
		FileSize:   doc.FileSize,
	}
	if err := h.queue.Enqueue(job); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.publisher.PublishDocument(realtime.EventDocumentCreated, doc)
	h.logger.Info("document enqueued",
		"document_id", doc.ID,
		"owner_id", user.ID,
		"mime_type", mimeType,
		"size", doc.FileSize,
	)
	writeJSON(w, http.StatusAccepted, doc)
}

// Get handles GET /api/v1/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// List handles GET /api/v1/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeError(w, h.logger, core.NewError(core.KindAuthentication, "not authenticated", nil))
		return
	}

	filter := repository.ListFilter{
		Status: core.DocumentStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, h.logger, core.ValidationError("status", "unknown status filter"))
		return
	}

	docs, err := h.documents.List(r.Context(), user.ID, filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if docs == nil {
		docs = []*core.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Retry handles POST /api/v1/documents/{id}/retry.
func (h *DocumentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if !doc.Retryable() {
		writeError(w, h.logger, core.NewError(core.KindConflict,
			"only failed or review documents can be retried", nil))
		return
	}

	doc.Status = core.StatusProcessing
	doc.Confidence = nil
	doc.CompletedAt = nil
	doc.NeedsReview = false
	if err := h.documents.Update(r.Context(), doc); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.forget.Forget(doc.ID)
	if err := h.queue.Enqueue(pipeline.UploadedEvent{
		DocumentID: doc.ID,
		UserID:     doc.OwnerID,
		ObjectKey:  doc.ObjectKey,
		Bucket:     doc.Bucket,
		MimeType:   doc.MimeType,
		FileSize:   doc.FileSize,
	}); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.publisher.PublishDocument(realtime.EventDocumentProcessing, doc)
	writeJSON(w, http.StatusAccepted, doc)
}

type saveCorrectedRequest struct {
	Data core.JSONMap `json:"data" validate:"required"`
}

// SaveCorrected handles POST /api/v1/documents/{id}/corrections.
func (h *DocumentHandler) SaveCorrected(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if doc.Status != core.StatusNeedsReview {
		writeError(w, h.logger, core.NewError(core.KindConflict,
			"document is not awaiting review", nil))
		return
	}

	var req saveCorrectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, core.ValidationError("body", "invalid JSON body"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, h.logger, core.ValidationError("data", "data is required"))
		return
	}

	now := time.Now().UTC()
	conf := reviewedConfidence
	doc.ParsedData = req.Data
	doc.Confidence = &conf
	doc.ReviewedAt = &now
	if err := h.documents.Update(r.Context(), doc); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.publisher.PublishDocument(realtime.EventDocumentUpdated, doc)
	writeJSON(w, http.StatusOK, doc)
}

type approveRequest struct {
	Data core.JSONMap `json:"data"`
}

// Approve handles POST /api/v1/documents/{id}/approve.
func (h *DocumentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	if doc.Status != core.StatusNeedsReview {
		writeError(w, h.logger, core.NewError(core.KindConflict,
			"document is not awaiting review", nil))
		return
	}

	var req approveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, core.ValidationError("body", "invalid JSON body"))
			return
		}
	}

	now := time.Now().UTC()
	if req.Data != nil {
		doc.ParsedData = req.Data
	}
	// User-edited data, whether sent now or saved earlier, is approved at
	// full confidence.
	if req.Data != nil || doc.ReviewedAt != nil {
		conf := 1.0
		doc.Confidence = &conf
	}
	doc.Status = core.StatusCompleted
	doc.NeedsReview = false
	doc.CompletedAt = &now
	doc.ReviewedAt = &now
	if err := h.documents.Update(r.Context(), doc); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.publisher.PublishDocument(realtime.EventDocumentCompleted, doc)
	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /api/v1/documents/{id}: logical delete to ARCHIVED
// with best-effort asynchronous object cleanup.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}

	doc.Status = core.StatusArchived
	if err := h.documents.Update(r.Context(), doc); err != nil {
		writeError(w, h.logger, err)
		return
	}

	go func(key string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.objects.Delete(ctx, key); err != nil {
			h.logger.Warn("best-effort object deletion failed", "key", key, "error", err)
		}
	}(doc.ObjectKey)

	h.publisher.PublishDocument(realtime.EventDocumentDeleted, doc)
	writeJSON(w, http.StatusOK, map[string]any{"status": "archived"})
}

// Download handles GET /api/v1/documents/{id}/download with a presigned
// read URL.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	url, err := h.objects.SignedURL(r.Context(), doc.ObjectKey, 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(objectstore.DefaultSignedURLTTL.Seconds()),
	})
}

// Audit handles GET /api/v1/documents/{id}/audit.
func (h *DocumentHandler) Audit(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ownedDocument(w, r)
	if !ok {
		return
	}
	records, err := h.audits.ListByDocument(r.Context(), doc.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if records == nil {
		records = []*core.AuditRecord{}
	}

	metrics, err := h.audits.StageMetrics(r.Context(), doc.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"stages":  metrics,
	})
}

// ownedDocument resolves {id} scoped to the caller. Foreign and missing
// documents both answer 404.
func (h *DocumentHandler) ownedDocument(w http.ResponseWriter, r *http.Request) (*core.Document, bool) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeError(w, h.logger, core.NewError(core.KindAuthentication, "not authenticated", nil))
		return nil, false
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, h.logger, core.ValidationError("id", "document ID is required"))
		return nil, false
	}

	doc, err := h.documents.GetOwned(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return doc, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
