package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/rs/zerolog/log"
)

// CreateChallenge stores a new draft owned by the caller.
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var in models.ChallengeInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())

	c, err := h.challenges.Create(r.Context(), caller, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListChallenges returns challenges, newest first.
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ChallengeFilter{
		Status:    models.ChallengeStatus(q.Get("status")),
		CreatorID: q.Get("creator"),
		Limit:     queryInt(r, "limit"),
		Offset:    queryInt(r, "offset"),
	}
	if raw := q.Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "featured must be true or false")
			return
		}
		filter.Featured = &featured
	}
	caller, _ := callerFrom(r.Context())

	list, err := h.challenges.List(r.Context(), caller, filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"challenges": list,
		"count":      len(list),
	})
}

// GetChallenge returns a challenge and counts the view.
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if caller.UID != c.CreatorID {
		if err := h.challenges.RecordView(r.Context(), c.ID); err != nil {
			log.Warn().Err(err).Str("id", c.ID).Msg("Failed to record challenge view")
		}
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateChallenge edits a challenge.
func (h *Handler) UpdateChallenge(w http.ResponseWriter, r *http.Request) {
	var in models.ChallengeInput
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())

	c, err := h.challenges.Update(r.Context(), caller, chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteChallenge removes a challenge.
func (h *Handler) DeleteChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	if err := h.challenges.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitChallenge sends a draft for approval.
func (h *Handler) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.SubmitForApproval(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondChallenge(w, r, c, err)
}

// ApproveChallenge accepts a pending challenge.
func (h *Handler) ApproveChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Approve(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondChallenge(w, r, c, err)
}

// RejectChallenge declines a pending challenge.
func (h *Handler) RejectChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Reject(r.Context(), caller, chi.URLParam(r, "id"), req.Reason)
	h.respondChallenge(w, r, c, err)
}

// FeatureChallenge sets the featured flag, defaulting to true.
func (h *Handler) FeatureChallenge(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Featured *bool `json:"featured"`
	}{}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	featured := req.Featured == nil || *req.Featured
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Feature(r.Context(), caller, chi.URLParam(r, "id"), featured)
	h.respondChallenge(w, r, c, err)
}

// CompleteChallenge closes an active challenge.
func (h *Handler) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Complete(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondChallenge(w, r, c, err)
}

// ArchiveChallenge retires a challenge.
func (h *Handler) ArchiveChallenge(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	c, err := h.challenges.Archive(r.Context(), caller, chi.URLParam(r, "id"))
	h.respondChallenge(w, r, c, err)
}

func (h *Handler) respondChallenge(w http.ResponseWriter, r *http.Request, c *models.Challenge, err error) {
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
