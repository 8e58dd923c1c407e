// Package provider contains the moderation adapters for text, image and video content.
//
// Every adapter treats its external service as optional: missing credentials,
// exhausted rate limits and provider errors all degrade to a locally computed
// result with the same shape instead of an error.
package provider

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/models"
	"golang.org/x/net/idna"
)

// TextModerator scores text for toxicity and policy categories.
type TextModerator interface {
	AnalyzeText(ctx context.Context, text string) (*models.TextAnalysisResult, error)
}

// ImageModerator scores an image referenced by URL.
type ImageModerator interface {
	AnalyzeImage(ctx context.Context, imageURL string) (*models.ImageAnalysisResult, error)
}

// VideoModerator runs asynchronous video moderation jobs.
type VideoModerator interface {
	// StartJob submits the video and returns the job id without waiting for results.
	StartJob(ctx context.Context, videoURL string) (string, error)

	// PollJob returns the current state of a job. Calling it repeatedly is safe.
	PollJob(ctx context.Context, jobID string) (*models.VideoAnalysisResult, error)
}

// Reason tags how an adapter produced its result.
type Reason string

const (
	ReasonOK                  Reason = "ok"
	ReasonCached              Reason = "cached"
	ReasonInvalidInput        Reason = "invalid_input"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonRateLimited         Reason = "rate_limited"
	ReasonProviderError       Reason = "provider_error"
)

// Outcome describes the path an analysis took. Err carries the underlying
// provider error for ReasonProviderError and ReasonProviderUnavailable.
type Outcome struct {
	Reason Reason
	Err    error
}

// Fallback reports whether the result came from local heuristics.
func (o Outcome) Fallback() bool {
	switch o.Reason {
	case ReasonProviderUnavailable, ReasonRateLimited, ReasonProviderError:
		return true
	}
	return false
}

func record(provider string, o Outcome) {
	metrics.ProviderCalls.WithLabelValues(provider, string(o.Reason)).Inc()
}

// minTextLength is the shortest text worth sending to a provider.
const minTextLength = 3

func validText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	return trimmed, utf8.RuneCountInString(trimmed) >= minTextLength
}

// parseMediaURL validates a media URL against the allowed schemes and checks
// that its host is a well-formed (possibly internationalized) domain name.
func parseMediaURL(raw string, schemes ...string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, false
	}

	allowed := false
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, false
	}

	if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
		return nil, false
	}
	return u, true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
