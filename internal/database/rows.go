package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lorepin/lorepin/internal/models"
)

// queueRow mirrors the moderation_queue table.
type queueRow struct {
	ID              string          `db:"id"`
	ContentType     string          `db:"content_type"`
	ContentID       string          `db:"content_id"`
	Status          string          `db:"status"`
	FirebaseUID     sql.NullString  `db:"firebase_uid"`
	ContentData     sql.NullString  `db:"content_data"`
	MediaURL        sql.NullString  `db:"media_url"`
	AIAnalysis      sql.NullString  `db:"ai_analysis"`
	RiskScore       sql.NullFloat64 `db:"risk_score"`
	Flags           sql.NullString  `db:"flags"`
	ModeratorID     sql.NullString  `db:"moderator_id"`
	RejectionReason sql.NullString  `db:"rejection_reason"`
	Notes           sql.NullString  `db:"notes"`
	ModeratedAt     sql.NullTime    `db:"moderated_at"`
	VideoPending    bool            `db:"video_pending"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

const queueColumns = `id, content_type, content_id, status, firebase_uid, content_data, media_url,
	ai_analysis, risk_score, flags, moderator_id, rejection_reason, notes, moderated_at,
	video_pending, created_at, updated_at`

func toQueueRow(item *models.ModerationQueueItem) (*queueRow, error) {
	row := &queueRow{
		ID:              item.ID,
		ContentType:     string(item.ContentType),
		ContentID:       item.ContentID,
		Status:          string(item.Status),
		FirebaseUID:     nullString(item.FirebaseUID),
		MediaURL:        nullString(item.MediaURL),
		ModeratorID:     nullString(item.ModeratorID),
		RejectionReason: nullString(item.RejectionReason),
		Notes:           nullString(item.Notes),
		ModeratedAt:     nullTime(item.ModeratedAt),
		VideoPending:    item.AIAnalysis.HasPendingVideo(),
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
	if item.RiskScore != nil {
		row.RiskScore = sql.NullFloat64{Float64: *item.RiskScore, Valid: true}
	}

	var err error
	if item.ContentData != nil {
		if row.ContentData, err = encodeJSON(item.ContentData); err != nil {
			return nil, err
		}
	}
	if item.AIAnalysis != nil {
		if row.AIAnalysis, err = encodeJSON(item.AIAnalysis); err != nil {
			return nil, err
		}
	}
	if item.Flags != nil {
		if row.Flags, err = encodeJSON(item.Flags); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (r *queueRow) toModel() (*models.ModerationQueueItem, error) {
	item := &models.ModerationQueueItem{
		ID:              r.ID,
		ContentType:     models.ContentType(r.ContentType),
		ContentID:       r.ContentID,
		Status:          models.QueueStatus(r.Status),
		FirebaseUID:     stringPtr(r.FirebaseUID),
		MediaURL:        stringPtr(r.MediaURL),
		ModeratorID:     stringPtr(r.ModeratorID),
		RejectionReason: stringPtr(r.RejectionReason),
		Notes:           stringPtr(r.Notes),
		ModeratedAt:     timePtr(r.ModeratedAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.RiskScore.Valid {
		v := r.RiskScore.Float64
		item.RiskScore = &v
	}

	if r.ContentData.Valid {
		if err := sonic.UnmarshalString(r.ContentData.String, &item.ContentData); err != nil {
			return nil, fmt.Errorf("failed to decode content_data of %s: %w", r.ID, err)
		}
	}
	if r.AIAnalysis.Valid {
		item.AIAnalysis = &models.ContentAnalysisResult{}
		if err := sonic.UnmarshalString(r.AIAnalysis.String, item.AIAnalysis); err != nil {
			return nil, fmt.Errorf("failed to decode ai_analysis of %s: %w", r.ID, err)
		}
	}
	if r.Flags.Valid {
		if err := sonic.UnmarshalString(r.Flags.String, &item.Flags); err != nil {
			return nil, fmt.Errorf("failed to decode flags of %s: %w", r.ID, err)
		}
	}
	return item, nil
}

// challengeRow mirrors the challenges table.
type challengeRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Status           string         `db:"status"`
	Difficulty       string         `db:"difficulty"`
	FirebaseUID      string         `db:"firebase_uid"`
	CreatorID        string         `db:"creator_id"`
	SponsorID        sql.NullString `db:"sponsor_id"`
	Location         sql.NullString `db:"location"`
	Rules            sql.NullString `db:"rules"`
	Rewards          sql.NullString `db:"rewards"`
	Media            sql.NullString `db:"media"`
	Requirements     sql.NullString `db:"requirements"`
	Tags             sql.NullString `db:"tags"`
	StartDate        sql.NullTime   `db:"start_date"`
	EndDate          sql.NullTime   `db:"end_date"`
	IsFeatured       bool           `db:"is_featured"`
	IsPrivate        bool           `db:"is_private"`
	ApprovedBy       sql.NullString `db:"approved_by"`
	ApprovedAt       sql.NullTime   `db:"approved_at"`
	RejectionReason  sql.NullString `db:"rejection_reason"`
	SubmissionCount  int            `db:"submission_count"`
	ViewCount        int            `db:"view_count"`
	ParticipantCount int            `db:"participant_count"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const challengeColumns = `id, title, description, status, difficulty, firebase_uid, creator_id,
	sponsor_id, location, rules, rewards, media, requirements, tags, start_date, end_date,
	is_featured, is_private, approved_by, approved_at, rejection_reason, submission_count,
	view_count, participant_count, created_at, updated_at`

func toChallengeRow(c *models.Challenge) *challengeRow {
	return &challengeRow{
		ID:               c.ID,
		Title:            c.Title,
		Description:      c.Description,
		Status:           string(c.Status),
		Difficulty:       string(c.Difficulty),
		FirebaseUID:      c.FirebaseUID,
		CreatorID:        c.CreatorID,
		SponsorID:        nullString(c.SponsorID),
		Location:         nullRaw(c.Location),
		Rules:            nullRaw(c.Rules),
		Rewards:          nullRaw(c.Rewards),
		Media:            nullRaw(c.Media),
		Requirements:     nullRaw(c.Requirements),
		Tags:             nullRaw(c.Tags),
		StartDate:        nullTime(c.StartDate),
		EndDate:          nullTime(c.EndDate),
		IsFeatured:       c.IsFeatured,
		IsPrivate:        c.IsPrivate,
		ApprovedBy:       nullString(c.ApprovedBy),
		ApprovedAt:       nullTime(c.ApprovedAt),
		RejectionReason:  nullString(c.RejectionReason),
		SubmissionCount:  c.SubmissionCount,
		ViewCount:        c.ViewCount,
		ParticipantCount: c.ParticipantCount,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func (r *challengeRow) toModel() *models.Challenge {
	return &models.Challenge{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Status:           models.ChallengeStatus(r.Status),
		Difficulty:       models.Difficulty(r.Difficulty),
		FirebaseUID:      r.FirebaseUID,
		CreatorID:        r.CreatorID,
		SponsorID:        stringPtr(r.SponsorID),
		Location:         rawMessage(r.Location),
		Rules:            rawMessage(r.Rules),
		Rewards:          rawMessage(r.Rewards),
		Media:            rawMessage(r.Media),
		Requirements:     rawMessage(r.Requirements),
		Tags:             rawMessage(r.Tags),
		StartDate:        timePtr(r.StartDate),
		EndDate:          timePtr(r.EndDate),
		IsFeatured:       r.IsFeatured,
		IsPrivate:        r.IsPrivate,
		ApprovedBy:       stringPtr(r.ApprovedBy),
		ApprovedAt:       timePtr(r.ApprovedAt),
		RejectionReason:  stringPtr(r.RejectionReason),
		SubmissionCount:  r.SubmissionCount,
		ViewCount:        r.ViewCount,
		ParticipantCount: r.ParticipantCount,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func encodeJSON(v any) (sql.NullString, error) {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode column: %w", err)
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullRaw(m json.RawMessage) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(m), Valid: true}
}

func rawMessage(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}
