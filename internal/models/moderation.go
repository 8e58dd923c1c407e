package models

import "time"

// ContentType identifies what kind of content a queue item refers to.
type ContentType string

const (
	ContentTypeChallenge   ContentType = "challenge"
	ContentTypeSubmission  ContentType = "submission"
	ContentTypeUserProfile ContentType = "user_profile"
	ContentTypeComment     ContentType = "comment"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeChallenge, ContentTypeSubmission, ContentTypeUserProfile, ContentTypeComment:
		return true
	}
	return false
}

// QueueStatus is the moderation state of a queue item.
type QueueStatus string

const (
	QueueStatusPending  QueueStatus = "pending"
	QueueStatusApproved QueueStatus = "approved"
	QueueStatusRejected QueueStatus = "rejected"
	QueueStatusFlagged  QueueStatus = "flagged"
)

// Valid reports whether s is one of the four queue states.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusApproved, QueueStatusRejected, QueueStatusFlagged:
		return true
	}
	return false
}

// Decided reports whether a human decision has closed the item.
func (s QueueStatus) Decided() bool {
	return s == QueueStatusApproved || s == QueueStatusRejected
}

// ModerationQueueItem is a persisted piece of content under review.
type ModerationQueueItem struct {
	ID              string                 `json:"id"`
	ContentType     ContentType            `json:"content_type"`
	ContentID       string                 `json:"content_id"`
	Status          QueueStatus            `json:"status"`
	FirebaseUID     *string                `json:"firebase_uid,omitempty"`
	ContentData     map[string]any         `json:"content_data,omitempty"`
	MediaURL        *string                `json:"media_url,omitempty"`
	AIAnalysis      *ContentAnalysisResult `json:"ai_analysis,omitempty"`
	RiskScore       *float64               `json:"risk_score,omitempty"`
	Flags           []string               `json:"flags,omitempty"`
	ModeratorID     *string                `json:"moderator_id,omitempty"`
	RejectionReason *string                `json:"rejection_reason,omitempty"`
	Notes           *string                `json:"notes,omitempty"`
	ModeratedAt     *time.Time             `json:"moderated_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// AddToQueueRequest is the body of POST /moderation/queue.
type AddToQueueRequest struct {
	ContentType ContentType    `json:"contentType"`
	ContentID   string         `json:"contentId"`
	ContentData map[string]any `json:"contentData,omitempty"`
	MediaURL    string         `json:"mediaUrl,omitempty"`
}

// StatusUpdateRequest is the body of PUT /moderation/queue/{id}/status.
type StatusUpdateRequest struct {
	Status          QueueStatus `json:"status"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

// QueueFilter narrows queue listings.
type QueueFilter struct {
	Status QueueStatus
	Limit  int
	Offset int
}
