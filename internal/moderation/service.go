// Package moderation implements the human review queue and its state machine.
package moderation

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/errs"
	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// textFields are the content_data keys whose string values are moderated as text.
var textFields = []string{"title", "description", "text", "caption"}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true, ".m4v": true,
}

// transitions lists the statuses reachable from each status by a moderator decision.
var transitions = map[models.QueueStatus][]models.QueueStatus{
	models.QueueStatusPending: {models.QueueStatusApproved, models.QueueStatusRejected, models.QueueStatusFlagged},
	models.QueueStatusFlagged: {models.QueueStatusApproved, models.QueueStatusRejected},
}

// Analyzer scores content and completes pending video analyses.
type Analyzer interface {
	Analyze(ctx context.Context, in models.ContentInput) *models.ContentAnalysisResult
	PollVideo(ctx context.Context, existing *models.ContentAnalysisResult) (*models.ContentAnalysisResult, error)
}

// Submission is content entering review.
type Submission struct {
	ContentType models.ContentType
	ContentID   string
	FirebaseUID string
	ContentData map[string]any
	MediaURL    string
}

// Service manages moderation queue items.
type Service struct {
	store    database.Store
	analyzer Analyzer
	now      models.Clock
}

// NewService creates a moderation queue service.
func NewService(store database.Store, analyzer Analyzer) *Service {
	return &Service{
		store:    store,
		analyzer: analyzer,
		now:      time.Now,
	}
}

// WithClock overrides the clock used for timestamps.
func (s *Service) WithClock(now models.Clock) *Service {
	s.now = now
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

// AddToQueue scores the submission and stores it as a new queue item. Content
// the analysis flags enters the queue as flagged instead of pending.
func (s *Service) AddToQueue(ctx context.Context, sub Submission) (*models.ModerationQueueItem, error) {
	if !sub.ContentType.Valid() {
		return nil, errs.Invalid("invalid content type: %q", sub.ContentType)
	}
	if strings.TrimSpace(sub.ContentID) == "" {
		return nil, errs.Invalid("content id is required")
	}

	now := s.timestamp()
	item := &models.ModerationQueueItem{
		ID:          uuid.NewString(),
		ContentType: sub.ContentType,
		ContentID:   sub.ContentID,
		Status:      models.QueueStatusPending,
		ContentData: sub.ContentData,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sub.FirebaseUID != "" {
		item.FirebaseUID = &sub.FirebaseUID
	}
	if sub.MediaURL != "" {
		item.MediaURL = &sub.MediaURL
	}

	input := contentInput(sub)
	if !input.Empty() {
		applyAnalysis(item, s.analyzer.Analyze(ctx, input))
	} else {
		zero := 0.0
		item.RiskScore = &zero
		item.Flags = []string{}
	}
	if item.AIAnalysis != nil && item.AIAnalysis.Flagged {
		item.Status = models.QueueStatusFlagged
	}

	if err := s.store.CreateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s %s: %w", sub.ContentType, sub.ContentID, err)
	}

	metrics.QueueTransitions.WithLabelValues(string(item.Status)).Inc()
	log.Info().
		Str("id", item.ID).
		Str("content_type", string(item.ContentType)).
		Str("content_id", item.ContentID).
		Str("status", string(item.Status)).
		Msg("Content queued for moderation")
	return item, nil
}

// contentInput extracts the analysable parts of a submission.
func contentInput(sub Submission) models.ContentInput {
	var parts []string
	for _, field := range textFields {
		if v, ok := sub.ContentData[field].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}

	in := models.ContentInput{Text: strings.Join(parts, "\n")}
	if sub.MediaURL != "" {
		if isVideo(sub.MediaURL) {
			in.VideoURL = sub.MediaURL
		} else {
			in.ImageURL = sub.MediaURL
		}
	}
	return in
}

func isVideo(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return videoExtensions[strings.ToLower(path.Ext(p))]
}

func applyAnalysis(item *models.ModerationQueueItem, result *models.ContentAnalysisResult) {
	risk := result.RiskScore
	item.AIAnalysis = result
	item.RiskScore = &risk
	item.Flags = append([]string{}, result.FlaggedCategories...)
}

// Get returns a queue item.
func (s *Service) Get(ctx context.Context, id string) (*models.ModerationQueueItem, error) {
	item, err := s.store.GetQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errs.NotFound("queue item", id)
	}
	return item, nil
}

// List returns queue items, oldest first.
func (s *Service) List(ctx context.Context, filter models.QueueFilter) ([]*models.ModerationQueueItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errs.Invalid("invalid status filter: %q", filter.Status)
	}
	filter.Limit, filter.Offset = page(filter.Limit, filter.Offset)
	return s.store.ListQueueItems(ctx, filter)
}

func page(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return limit, max(offset, 0)
}

// CanTransition reports whether a moderator may move an item from one status to another.
func CanTransition(from, to models.QueueStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UpdateStatus records a moderator decision.
func (s *Service) UpdateStatus(ctx context.Context, id string, req models.StatusUpdateRequest, moderatorID string) (*models.ModerationQueueItem, error) {
	if !req.Status.Valid() {
		return nil, errs.Invalid("invalid status: %q", req.Status)
	}
	reason := strings.TrimSpace(req.RejectionReason)

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := item.Status
	if !CanTransition(from, req.Status) {
		if from.Decided() {
			return nil, errs.Invalid("queue item is already %s; reopen it first", from)
		}
		return nil, errs.Invalid("cannot move queue item from %s to %s", from, req.Status)
	}

	now := s.timestamp()
	item.Status = req.Status
	item.ModeratorID = &moderatorID
	item.ModeratedAt = &now
	item.UpdatedAt = now
	item.RejectionReason = nil
	if req.Status == models.QueueStatusRejected && reason != "" {
		item.RejectionReason = &reason
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		item.Notes = &notes
	}

	if err := s.save(ctx, item, from); err != nil {
		return nil, err
	}

	log.Info().
		Str("id", id).
		Str("from", string(from)).
		Str("to", string(item.Status)).
		Str("moderator_id", moderatorID).
		Msg("Moderation decision recorded")
	return item, nil
}

// Reopen returns a decided item to pending and clears the decision.
func (s *Service) Reopen(ctx context.Context, id, moderatorID, notes string) (*models.ModerationQueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := item.Status
	if !from.Decided() {
		return nil, errs.Invalid("only approved or rejected items can be reopened, item is %s", from)
	}

	item.Status = models.QueueStatusPending
	item.ModeratorID = nil
	item.ModeratedAt = nil
	item.RejectionReason = nil
	item.UpdatedAt = s.timestamp()
	if n := strings.TrimSpace(notes); n != "" {
		item.Notes = &n
	}

	if err := s.save(ctx, item, from); err != nil {
		return nil, err
	}

	log.Info().Str("id", id).Str("from", string(from)).Str("moderator_id", moderatorID).Msg("Queue item reopened")
	return item, nil
}

// UpdateVideoAnalysis polls the item's video job and merges the outcome into
// its analysis. It returns nil without error when no video job is pending.
func (s *Service) UpdateVideoAnalysis(ctx context.Context, id string) (*models.ModerationQueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.AIAnalysis.HasPendingVideo() {
		return nil, nil
	}

	merged, err := s.analyzer.PollVideo(ctx, item.AIAnalysis)
	if err != nil {
		return nil, err
	}

	from := item.Status
	applyAnalysis(item, merged)
	if merged.Flagged && from == models.QueueStatusPending {
		item.Status = models.QueueStatusFlagged
	}
	item.UpdatedAt = s.timestamp()

	if err := s.save(ctx, item, from); err != nil {
		return nil, err
	}

	log.Info().
		Str("id", id).
		Str("video_status", string(merged.VideoAnalysis.Status)).
		Float64("risk_score", merged.RiskScore).
		Msg("Video analysis updated")
	return item, nil
}

// RefreshPendingVideos polls up to limit items with running video jobs and
// returns how many of them finished.
func (s *Service) RefreshPendingVideos(ctx context.Context, limit int) (int, error) {
	items, err := s.store.ListPendingVideoItems(ctx, limit)
	if err != nil {
		return 0, err
	}

	finished := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return finished, ctx.Err()
		}
		updated, err := s.UpdateVideoAnalysis(ctx, item.ID)
		if err != nil {
			log.Warn().Err(err).Str("id", item.ID).Msg("Failed to refresh video analysis")
			continue
		}
		if updated != nil && !updated.AIAnalysis.HasPendingVideo() {
			finished++
		}
	}
	return finished, nil
}

func (s *Service) save(ctx context.Context, item *models.ModerationQueueItem, expected models.QueueStatus) error {
	ok, err := s.store.UpdateQueueItem(ctx, item, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("queue item %s changed concurrently: %w", item.ID, errs.ErrConflict)
	}
	if item.Status != expected {
		metrics.QueueTransitions.WithLabelValues(string(item.Status)).Inc()
	}
	return nil
}
