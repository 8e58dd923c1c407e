// Package models defines the core data structures used throughout the application.
package models

import (
	"time"
)

// Likelihood is the five-level ordinal used by safe-search annotations.
type Likelihood string

const (
	LikelihoodUnknown      Likelihood = "UNKNOWN"
	LikelihoodVeryUnlikely Likelihood = "VERY_UNLIKELY"
	LikelihoodUnlikely     Likelihood = "UNLIKELY"
	LikelihoodPossible     Likelihood = "POSSIBLE"
	LikelihoodLikely       Likelihood = "LIKELY"
	LikelihoodVeryLikely   Likelihood = "VERY_LIKELY"
)

// Score maps a likelihood onto [0,1].
func (l Likelihood) Score() float64 {
	switch l {
	case LikelihoodUnlikely:
		return 0.25
	case LikelihoodPossible:
		return 0.5
	case LikelihoodLikely:
		return 0.75
	case LikelihoodVeryLikely:
		return 1
	default:
		return 0
	}
}

// JobStatus is the lifecycle state of an asynchronous video moderation job.
type JobStatus string

const (
	JobInProgress JobStatus = "IN_PROGRESS"
	JobSucceeded  JobStatus = "SUCCEEDED"
	JobFailed     JobStatus = "FAILED"
)

// TextCategory is a single moderation category verdict.
type TextCategory struct {
	Name    string  `json:"name"`
	Flagged bool    `json:"flagged"`
	Score   float64 `json:"score"`
}

// TextAnalysisResult is the outcome of moderating a piece of text.
type TextAnalysisResult struct {
	Flagged           bool           `json:"flagged"`
	Categories        []TextCategory `json:"categories"`
	ToxicityScore     float64        `json:"toxicity_score"`
	ProfanityDetected bool           `json:"profanity_detected"`
	SensitiveTopics   []string       `json:"sensitive_topics"`
}

// SafeSearch holds per-category likelihoods from image annotation.
type SafeSearch struct {
	Adult    Likelihood `json:"adult"`
	Spoof    Likelihood `json:"spoof"`
	Medical  Likelihood `json:"medical"`
	Violence Likelihood `json:"violence"`
	Racy     Likelihood `json:"racy"`
}

// ImageAnalysisResult is the outcome of moderating an image.
type ImageAnalysisResult struct {
	NSFWScore           float64    `json:"nsfw_score"`
	ViolenceScore       float64    `json:"violence_score"`
	GraphicContentScore float64    `json:"graphic_content_score"`
	DetectedObjects     []string   `json:"detected_objects"`
	SafeSearch          SafeSearch `json:"safe_search"`
	Labels              []string   `json:"labels"`
}

// ModerationLabel is a single video moderation hit.
type ModerationLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"` // 0-100
	ParentName string  `json:"parent_name,omitempty"`
	Timestamp  int64   `json:"timestamp"` // milliseconds into the video
}

// VideoAnalysisResult tracks an asynchronous video moderation job.
type VideoAnalysisResult struct {
	JobID                     string            `json:"job_id"`
	Status                    JobStatus         `json:"status"`
	ModerationLabels          []ModerationLabel `json:"moderation_labels"`
	NSFWDetected              bool              `json:"nsfw_detected"`
	ViolenceDetected          bool              `json:"violence_detected"`
	HighestNSFWConfidence     float64           `json:"highest_nsfw_confidence"`
	HighestViolenceConfidence float64           `json:"highest_violence_confidence"`
	Error                     string            `json:"error,omitempty"`
}

// ContentAnalysisResult is the aggregated risk assessment for a piece of content.
type ContentAnalysisResult struct {
	TextAnalysis      *TextAnalysisResult  `json:"text_analysis,omitempty"`
	ImageAnalysis     *ImageAnalysisResult `json:"image_analysis,omitempty"`
	VideoAnalysis     *VideoAnalysisResult `json:"video_analysis,omitempty"`
	RiskScore         float64              `json:"risk_score"`
	Flagged           bool                 `json:"flagged"`
	FlaggedCategories []string             `json:"flagged_categories"`
	Timestamp         string               `json:"timestamp"`
	Error             string               `json:"error,omitempty"`
}

// HasPendingVideo reports whether a video job still needs polling.
func (r *ContentAnalysisResult) HasPendingVideo() bool {
	return r != nil && r.VideoAnalysis != nil &&
		r.VideoAnalysis.Status == JobInProgress && r.VideoAnalysis.JobID != ""
}

// ContentInput is the request for a combined content analysis.
type ContentInput struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

// Empty reports whether no modality was supplied.
func (in ContentInput) Empty() bool {
	return in.Text == "" && in.ImageURL == "" && in.VideoURL == ""
}

// Role is the access level of a caller.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Caller identifies who is performing an operation.
type Caller struct {
	UID  string `json:"uid"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the caller has administrative rights.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanModerate reports whether the caller may take moderation decisions.
func (c Caller) CanModerate() bool { return c.Role == RoleAdmin || c.Role == RoleModerator }

// APIError is the JSON body returned for failed requests.
type APIError struct {
	Error string `json:"error"`
}

// Clock is the time source used by services; tests replace it.
type Clock func() time.Time
