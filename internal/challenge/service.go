// Package challenge implements the challenge lifecycle and its approval workflow.
package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/lorepin/lorepin/internal/database"
	"github.com/lorepin/lorepin/internal/errs"
	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/moderation"
	"github.com/rs/zerolog/log"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Queue accepts content for human review.
type Queue interface {
	AddToQueue(ctx context.Context, sub moderation.Submission) (*models.ModerationQueueItem, error)
}

// Service manages challenges.
type Service struct {
	store database.Store
	queue Queue
	now   models.Clock
}

// NewService creates a challenge service.
func NewService(store database.Store, queue Queue) *Service {
	return &Service{
		store: store,
		queue: queue,
		now:   time.Now,
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

// Create stores a new draft owned by the caller.
func (s *Service) Create(ctx context.Context, caller models.Caller, in models.ChallengeInput) (*models.Challenge, error) {
	if caller.UID == "" {
		return nil, errs.Forbidden("authentication required")
	}

	now := s.timestamp()
	c := &models.Challenge{
		ID:          uuid.NewString(),
		Status:      models.ChallengeDraft,
		Difficulty:  models.DifficultyMedium,
		FirebaseUID: caller.UID,
		CreatorID:   caller.UID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := apply(c, in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.Title) == "" {
		return nil, errs.Invalid("title is required")
	}
	if strings.TrimSpace(c.Description) == "" {
		return nil, errs.Invalid("description is required")
	}

	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	metrics.ChallengeTransitions.WithLabelValues(string(c.Status)).Inc()
	log.Info().Str("id", c.ID).Str("creator_id", c.CreatorID).Msg("Challenge created")
	return c, nil
}

// apply copies the set fields of in onto c.
func apply(c *models.Challenge, in models.ChallengeInput) error {
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return errs.Invalid("title cannot be empty")
		}
		c.Title = t
	}
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d == "" {
			return errs.Invalid("description cannot be empty")
		}
		c.Description = d
	}
	if in.Difficulty != nil {
		if !in.Difficulty.Valid() {
			return errs.Invalid("invalid difficulty: %q", *in.Difficulty)
		}
		c.Difficulty = *in.Difficulty
	}
	if in.SponsorID != nil {
		c.SponsorID = in.SponsorID
	}
	if in.IsPrivate != nil {
		c.IsPrivate = *in.IsPrivate
	}
	if in.StartDate != nil {
		t := in.StartDate.UTC()
		c.StartDate = &t
	}
	if in.EndDate != nil {
		t := in.EndDate.UTC()
		c.EndDate = &t
	}
	if c.StartDate != nil && c.EndDate != nil && !c.EndDate.After(*c.StartDate) {
		return errs.Invalid("end date must be after start date")
	}

	for _, f := range []struct {
		name string
		src  json.RawMessage
		dst  *json.RawMessage
	}{
		{"location", in.Location, &c.Location},
		{"rules", in.Rules, &c.Rules},
		{"rewards", in.Rewards, &c.Rewards},
		{"media", in.Media, &c.Media},
		{"requirements", in.Requirements, &c.Requirements},
		{"tags", in.Tags, &c.Tags},
	} {
		if len(f.src) == 0 {
			continue
		}
		if !json.Valid(f.src) {
			return errs.Invalid("%s must be valid JSON", f.name)
		}
		*f.dst = append(json.RawMessage(nil), f.src...)
	}
	return nil
}

// Get returns a challenge. Private challenges are only visible to their
// creator and moderators.
func (s *Service) Get(ctx context.Context, caller models.Caller, id string) (*models.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(caller, c) {
		return nil, errs.NotFound("challenge", id)
	}
	return c, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Challenge, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errs.NotFound("challenge", id)
	}
	return c, nil
}

func visible(caller models.Caller, c *models.Challenge) bool {
	return !c.IsPrivate || caller.UID == c.CreatorID || caller.CanModerate()
}

// List returns challenges matching filter, newest first. Visibility is applied
// before paging.
func (s *Service) List(ctx context.Context, caller models.Caller, filter models.ChallengeFilter) ([]*models.Challenge, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errs.Invalid("invalid status filter: %q", filter.Status)
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	filter.Offset = max(filter.Offset, 0)
	filter.ViewerUID = caller.UID
	filter.IncludePrivate = caller.CanModerate()

	return s.store.ListChallenges(ctx, filter)
}

// authorizeEdit lets admins edit anything and creators edit their own drafts.
func authorizeEdit(caller models.Caller, c *models.Challenge) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.UID != c.CreatorID {
		return errs.Forbidden("only the creator can modify this challenge")
	}
	if c.Status != models.ChallengeDraft {
		return errs.Invalid("only draft challenges can be modified, challenge is %s", c.Status)
	}
	return nil
}

func authorizeOwner(caller models.Caller, c *models.Challenge) error {
	if caller.IsAdmin() || caller.UID == c.CreatorID {
		return nil
	}
	return errs.Forbidden("only the creator can manage this challenge")
}

// Update edits a challenge.
func (s *Service) Update(ctx context.Context, caller models.Caller, id string, in models.ChallengeInput) (*models.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeEdit(caller, c); err != nil {
		return nil, err
	}
	if err := apply(c, in); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.timestamp()

	if err := s.save(ctx, c, c.Status); err != nil {
		return nil, err
	}
	return c, nil
}

// Feature toggles whether a challenge is promoted.
func (s *Service) Feature(ctx context.Context, caller models.Caller, id string, featured bool) (*models.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeEdit(caller, c); err != nil {
		return nil, err
	}
	c.IsFeatured = featured
	c.UpdatedAt = s.timestamp()

	if err := s.save(ctx, c, c.Status); err != nil {
		return nil, err
	}
	return c, nil
}

// SubmitForApproval moves a draft to pending_approval and queues it for
// review. The status is rolled back if the challenge cannot be queued.
func (s *Service) SubmitForApproval(ctx context.Context, caller models.Caller, id string) (*models.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.UID != c.CreatorID {
		return nil, errs.Invalid("only the creator can submit this challenge")
	}
	if c.Status != models.ChallengeDraft {
		return nil, errs.Invalid("only draft challenges can be submitted, challenge is %s", c.Status)
	}

	c.Status = models.ChallengePendingApproval
	c.RejectionReason = nil
	c.UpdatedAt = s.timestamp()
	if err := s.save(ctx, c, models.ChallengeDraft); err != nil {
		return nil, err
	}

	_, err = s.queue.AddToQueue(ctx, moderation.Submission{
		ContentType: models.ContentTypeChallenge,
		ContentID:   c.ID,
		FirebaseUID: c.FirebaseUID,
		ContentData: snapshot(c),
		MediaURL:    firstMediaURL(c.Media),
	})
	if err != nil {
		c.Status = models.ChallengeDraft
		c.UpdatedAt = s.timestamp()
		if rbErr := s.save(ctx, c, models.ChallengePendingApproval); rbErr != nil {
			log.Error().Err(rbErr).Str("id", c.ID).Msg("Failed to roll back challenge submission")
		}
		return nil, fmt.Errorf("failed to queue challenge %s for review: %w", c.ID, err)
	}

	log.Info().Str("id", c.ID).Msg("Challenge submitted for approval")
	return c, nil
}

// snapshot captures the reviewable fields of a challenge for the queue.
func snapshot(c *models.Challenge) map[string]any {
	data := map[string]any{
		"title":       c.Title,
		"description": c.Description,
		"difficulty":  string(c.Difficulty),
	}
	for key, raw := range map[string]json.RawMessage{
		"location":     c.Location,
		"rules":        c.Rules,
		"rewards":      c.Rewards,
		"requirements": c.Requirements,
		"tags":         c.Tags,
	} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := sonic.Unmarshal(raw, &v); err == nil {
			data[key] = v
		}
	}
	return data
}

// firstMediaURL accepts a list of URLs or of objects with a "url" field.
func firstMediaURL(media json.RawMessage) string {
	if len(media) == 0 {
		return ""
	}
	var items []any
	if err := sonic.Unmarshal(media, &items); err != nil || len(items) == 0 {
		return ""
	}
	switch v := items[0].(type) {
	case string:
		return v
	case map[string]any:
		if u, ok := v["url"].(string); ok {
			return u
		}
	}
	return ""
}

// Approve accepts a pending challenge. Challenges without a future start date
// go live immediately.
func (s *Service) Approve(ctx context.Context, caller models.Caller, id string) (*models.Challenge, error) {
	if !caller.CanModerate() {
		return nil, errs.Forbidden("moderator role required")
	}
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ChallengePendingApproval {
		return nil, errs.Invalid("only challenges pending approval can be approved, challenge is %s", c.Status)
	}

	now := s.timestamp()
	c.Status = models.ChallengeApproved
	c.ApprovedBy = &caller.UID
	c.ApprovedAt = &now
	c.RejectionReason = nil
	if c.StartDate == nil || !c.StartDate.After(now) {
		c.Status = models.ChallengeActive
	}
	c.UpdatedAt = now

	if err := s.save(ctx, c, models.ChallengePendingApproval); err != nil {
		return nil, err
	}
	log.Info().Str("id", c.ID).Str("status", string(c.Status)).Str("approved_by", caller.UID).Msg("Challenge approved")
	return c, nil
}

// Reject declines a pending challenge with a reason.
func (s *Service) Reject(ctx context.Context, caller models.Caller, id, reason string) (*models.Challenge, error) {
	if !caller.CanModerate() {
		return nil, errs.Forbidden("moderator role required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errs.Invalid("rejection reason is required")
	}
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ChallengePendingApproval {
		return nil, errs.Invalid("only challenges pending approval can be rejected, challenge is %s", c.Status)
	}

	c.Status = models.ChallengeRejected
	c.RejectionReason = &reason
	c.UpdatedAt = s.timestamp()

	if err := s.save(ctx, c, models.ChallengePendingApproval); err != nil {
		return nil, err
	}
	log.Info().Str("id", c.ID).Str("rejected_by", caller.UID).Msg("Challenge rejected")
	return c, nil
}

// Complete closes an active challenge.
func (s *Service) Complete(ctx context.Context, caller models.Caller, id string) (*models.Challenge, error) {
	return s.transition(ctx, caller, id, models.ChallengeCompleted, models.ChallengeActive)
}

// Archive retires a challenge that is no longer in the approval pipeline.
func (s *Service) Archive(ctx context.Context, caller models.Caller, id string) (*models.Challenge, error) {
	return s.transition(ctx, caller, id, models.ChallengeArchived,
		models.ChallengeCompleted, models.ChallengeRejected, models.ChallengeApproved, models.ChallengeActive)
}

func (s *Service) transition(ctx context.Context, caller models.Caller, id string, to models.ChallengeStatus, from ...models.ChallengeStatus) (*models.Challenge, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(caller, c); err != nil {
		return nil, err
	}

	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errs.Invalid("cannot move challenge from %s to %s", c.Status, to)
	}

	prev := c.Status
	c.Status = to
	c.UpdatedAt = s.timestamp()
	if err := s.save(ctx, c, prev); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a challenge regardless of status. Queue items that refer to
// it are left in place.
func (s *Service) Delete(ctx context.Context, caller models.Caller, id string) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := authorizeOwner(caller, c); err != nil {
		return err
	}

	deleted, err := s.store.DeleteChallenge(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errs.NotFound("challenge", id)
	}
	log.Info().Str("id", id).Str("deleted_by", caller.UID).Msg("Challenge deleted")
	return nil
}

// RecordView increments the view counter.
func (s *Service) RecordView(ctx context.Context, id string) error {
	ok, err := s.store.IncrementChallengeViews(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotFound("challenge", id)
	}
	return nil
}

func (s *Service) save(ctx context.Context, c *models.Challenge, expected models.ChallengeStatus) error {
	ok, err := s.store.UpdateChallenge(ctx, c, expected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("challenge %s changed concurrently: %w", c.ID, errs.ErrConflict)
	}
	if c.Status != expected {
		metrics.ChallengeTransitions.WithLabelValues(string(c.Status)).Inc()
	}
	return nil
}
