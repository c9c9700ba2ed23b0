package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/index"
)

// Handler holds API route handlers.
type Handler struct {
	svc        *index.Service
	rebuilder  *index.Rebuilder
	rebuilding atomic.Bool
}

// NewHandler creates a new Handler.
func NewHandler(svc *index.Service, rebuilder *index.Rebuilder) *Handler {
	return &Handler{svc: svc, rebuilder: rebuilder}
}

// documentPath extracts the document path from the URL (everything after
// /documents/). Supports encoded slashes from generated clients.
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	var transport *apperr.Transport
	switch {
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorDetail("base revision is stale, re-read and retry", err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrParse):
		writeJSON(w, http.StatusUnprocessableEntity, errorDetail("index file is corrupt", err.Error()))
	case errors.Is(err, apperr.ErrRevisionUnavailable):
		writeJSON(w, http.StatusBadGateway, errorDetail("branch revision unavailable", err.Error()))
	case errors.As(err, &transport):
		writeJSON(w, http.StatusBadGateway, errorDetail("repository host unreachable", err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Collections handles GET /api/collections.
func (h *Handler) Collections(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Collections(r.Context(), true)
	if err != nil {
		writeError(w, "read collections", err)
		return
	}
	writeJSON(w, http.StatusOK, CollectionsResponse{Data: data})
}

// Singletons handles GET /api/singletons.
func (h *Handler) Singletons(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Singletons(r.Context(), true)
	if err != nil {
		writeError(w, "read singletons", err)
		return
	}
	writeJSON(w, http.StatusOK, SingletonsResponse{Data: data})
}

// Media handles GET /api/media.
func (h *Handler) Media(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Media(r.Context(), true)
	if err != nil {
		writeError(w, "read media", err)
		return
	}
	writeJSON(w, http.StatusOK, MediaResponse{Data: data})
}

// Rebuild handles POST /api/rebuild. The rebuild runs in the background;
// progress is polled via GET /api/rebuild/progress.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if !h.rebuilding.CompareAndSwap(false, true) {
		writeJSON(w, http.StatusConflict, errorBody("rebuild already running"))
		return
	}
	go func() {
		// Detached from the request context: the UI polls for completion
		// rather than holding the request open.
		defer h.rebuilding.Store(false)
		if err := h.rebuilder.Rebuild(context.Background(), nil); err != nil {
			slog.Error("rebuild failed", slog.String("error", err.Error()))
		}
	}()
	writeJSON(w, http.StatusAccepted, RebuildProgressResponse{State: h.rebuilder.State().String()})
}

// RebuildProgress handles GET /api/rebuild/progress.
func (h *Handler) RebuildProgress(w http.ResponseWriter, _ *http.Request) {
	processed, total := h.rebuilder.Progress()
	writeJSON(w, http.StatusOK, RebuildProgressResponse{
		Processed: processed,
		Total:     total,
		State:     h.rebuilder.State().String(),
	})
}

// SaveDocument handles PUT /api/documents/*.
func (h *Handler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req SaveDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Collection == "" || req.Slug == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("collection, slug and content are required"))
		return
	}

	revision, err := h.svc.SaveDocument(r.Context(), index.SaveRequest{
		Collection:   req.Collection,
		Slug:         req.Slug,
		Path:         path,
		Content:      req.Content,
		PreviousSlug: req.PreviousSlug,
		PreviousPath: req.PreviousPath,
	})
	if err != nil {
		writeError(w, "save document", err)
		return
	}
	writeJSON(w, http.StatusOK, SaveDocumentResponse{Revision: revision})
}
