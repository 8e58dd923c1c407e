package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/moderation"
)

// Analyze scores content without queueing it.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var in models.ContentInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.Empty() {
		writeError(w, http.StatusBadRequest, "At least one of text, image_url or video_url is required")
		return
	}

	writeJSON(w, http.StatusOK, h.analyzer.Analyze(r.Context(), in))
}

// AddToQueue submits content for review on behalf of the caller.
func (h *Handler) AddToQueue(w http.ResponseWriter, r *http.Request) {
	var req models.AddToQueueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())

	item, err := h.queue.AddToQueue(r.Context(), moderation.Submission{
		ContentType: req.ContentType,
		ContentID:   req.ContentID,
		FirebaseUID: caller.UID,
		ContentData: req.ContentData,
		MediaURL:    req.MediaURL,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// ListQueue returns queue items, oldest first.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	filter := models.QueueFilter{
		Status: models.QueueStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	items, err := h.queue.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"count":  len(items),
		"offset": max(filter.Offset, 0),
	})
}

// GetQueueItem returns a single queue item.
func (h *Handler) GetQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateQueueStatus records a moderator decision.
func (h *Handler) UpdateQueueStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())

	item, err := h.queue.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req, caller.UID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ReopenQueueItem returns a decided item to pending.
func (h *Handler) ReopenQueueItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())

	item, err := h.queue.Reopen(r.Context(), chi.URLParam(r, "id"), caller.UID, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// UpdateVideoAnalysis polls the item's pending video job.
func (h *Handler) UpdateVideoAnalysis(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.UpdateVideoAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "No pending video analysis for this item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}
