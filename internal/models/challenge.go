package models

import (
	"encoding/json"
	"time"
)

// ChallengeStatus is a state of the challenge approval workflow.
type ChallengeStatus string

const (
	ChallengeDraft           ChallengeStatus = "draft"
	ChallengePendingApproval ChallengeStatus = "pending_approval"
	ChallengeApproved        ChallengeStatus = "approved"
	ChallengeRejected        ChallengeStatus = "rejected"
	ChallengeActive          ChallengeStatus = "active"
	ChallengeCompleted       ChallengeStatus = "completed"
	ChallengeArchived        ChallengeStatus = "archived"
)

// Valid reports whether s is a known challenge state.
func (s ChallengeStatus) Valid() bool {
	switch s {
	case ChallengeDraft, ChallengePendingApproval, ChallengeApproved, ChallengeRejected,
		ChallengeActive, ChallengeCompleted, ChallengeArchived:
		return true
	}
	return false
}

// Difficulty grades how hard a challenge is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyExpert:
		return true
	}
	return false
}

// Challenge is a location-based task created by a user and approved by moderators.
type Challenge struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Status           ChallengeStatus `json:"status"`
	Difficulty       Difficulty      `json:"difficulty"`
	FirebaseUID      string          `json:"firebase_uid"`
	CreatorID        string          `json:"creator_id"`
	SponsorID        *string         `json:"sponsor_id,omitempty"`
	Location         json.RawMessage `json:"location,omitempty"`
	Rules            json.RawMessage `json:"rules,omitempty"`
	Rewards          json.RawMessage `json:"rewards,omitempty"`
	Media            json.RawMessage `json:"media,omitempty"`
	Requirements     json.RawMessage `json:"requirements,omitempty"`
	Tags             json.RawMessage `json:"tags,omitempty"`
	StartDate        *time.Time      `json:"start_date,omitempty"`
	EndDate          *time.Time      `json:"end_date,omitempty"`
	IsFeatured       bool            `json:"is_featured"`
	IsPrivate        bool            `json:"is_private"`
	ApprovedBy       *string         `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	SubmissionCount  int             `json:"submission_count"`
	ViewCount        int             `json:"view_count"`
	ParticipantCount int             `json:"participant_count"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ChallengeInput carries the editable fields of a challenge. Nil fields are left untouched on update.
type ChallengeInput struct {
	Title        *string         `json:"title,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Difficulty   *Difficulty     `json:"difficulty,omitempty"`
	SponsorID    *string         `json:"sponsor_id,omitempty"`
	Location     json.RawMessage `json:"location,omitempty"`
	Rules        json.RawMessage `json:"rules,omitempty"`
	Rewards      json.RawMessage `json:"rewards,omitempty"`
	Media        json.RawMessage `json:"media,omitempty"`
	Requirements json.RawMessage `json:"requirements,omitempty"`
	Tags         json.RawMessage `json:"tags,omitempty"`
	StartDate    *time.Time      `json:"start_date,omitempty"`
	EndDate      *time.Time      `json:"end_date,omitempty"`
	IsPrivate    *bool           `json:"is_private,omitempty"`
}

// ChallengeFilter narrows challenge listings.
type ChallengeFilter struct {
	Status    ChallengeStatus
	CreatorID string
	Featured  *bool
	// Private challenges are returned only when IncludePrivate is set or
	// they belong to ViewerUID.
	ViewerUID      string
	IncludePrivate bool
	Limit          int
	Offset         int
}
