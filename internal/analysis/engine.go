// Package analysis aggregates per-modality moderation results into one risk assessment.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/lorepin/lorepin/internal/metrics"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/provider"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// videoSubmitFailedID is the job id recorded when a video job could not be started.
const videoSubmitFailedID = "error"

// Engine runs the text, image and video moderators and combines their results.
type Engine struct {
	text  provider.TextModerator
	image provider.ImageModerator
	video provider.VideoModerator
	now   models.Clock
}

// NewEngine creates an analysis engine.
func NewEngine(text provider.TextModerator, image provider.ImageModerator, video provider.VideoModerator) *Engine {
	return &Engine{
		text:  text,
		image: image,
		video: video,
		now:   time.Now,
	}
}

// WithClock overrides the clock used for result timestamps.
func (e *Engine) WithClock(now models.Clock) *Engine {
	e.now = now
	return e
}

// Analyze moderates every supplied modality. Text and image run concurrently
// and complete before it returns; a video job is submitted after them and only
// the submission is awaited.
//
// A text analysis error aborts the whole call before any video job is
// started: the result then carries only Error and Timestamp. Image errors
// drop the image result and video submission errors produce a FAILED video
// analysis.
func (e *Engine) Analyze(ctx context.Context, in models.ContentInput) *models.ContentAnalysisResult {
	var (
		text  *models.TextAnalysisResult
		image *models.ImageAnalysisResult
		video *models.VideoAnalysisResult
	)

	g, gctx := errgroup.WithContext(ctx)

	if in.Text != "" {
		g.Go(func() error {
			res, err := e.text.AnalyzeText(gctx, in.Text)
			if err != nil {
				return fmt.Errorf("text analysis failed: %w", err)
			}
			text = res
			return nil
		})
	}

	if in.ImageURL != "" {
		g.Go(func() error {
			res, err := e.image.AnalyzeImage(gctx, in.ImageURL)
			if err != nil {
				log.Error().Err(err).Str("image_url", in.ImageURL).Msg("Image analysis failed")
				return nil
			}
			image = res
			return nil
		})
	}

	ts := e.now().UTC().Format(time.RFC3339)
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Content analysis aborted")
		return &models.ContentAnalysisResult{
			FlaggedCategories: []string{},
			Timestamp:         ts,
			Error:             err.Error(),
		}
	}

	// Video jobs are only started once the call can no longer abort, so an
	// aborted analysis never leaves an untracked job behind.
	if in.VideoURL != "" {
		video = e.submitVideo(ctx, in.VideoURL)
	}

	result := &models.ContentAnalysisResult{
		TextAnalysis:  text,
		ImageAnalysis: image,
		VideoAnalysis: video,
		Timestamp:     ts,
	}
	Score(result)

	metrics.Analyses.WithLabelValues(flaggedLabel(result.Flagged)).Inc()
	metrics.RiskScores.Observe(result.RiskScore)

	log.Debug().
		Float64("risk_score", result.RiskScore).
		Bool("flagged", result.Flagged).
		Strs("categories", result.FlaggedCategories).
		Msg("Content analysed")
	return result
}

func (e *Engine) submitVideo(ctx context.Context, videoURL string) *models.VideoAnalysisResult {
	jobID, err := e.video.StartJob(ctx, videoURL)
	if err != nil {
		log.Error().Err(err).Str("video_url", videoURL).Msg("Failed to submit video for moderation")
		return &models.VideoAnalysisResult{
			JobID:            videoSubmitFailedID,
			Status:           models.JobFailed,
			ModerationLabels: []models.ModerationLabel{},
			Error:            err.Error(),
		}
	}
	return &models.VideoAnalysisResult{
		JobID:            jobID,
		Status:           models.JobInProgress,
		ModerationLabels: []models.ModerationLabel{},
	}
}

// PollVideo fetches the current state of a video job and merges it into existing.
func (e *Engine) PollVideo(ctx context.Context, existing *models.ContentAnalysisResult) (*models.ContentAnalysisResult, error) {
	if !existing.HasPendingVideo() {
		return existing, nil
	}
	video, err := e.video.PollJob(ctx, existing.VideoAnalysis.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to poll video job %s: %w", existing.VideoAnalysis.JobID, err)
	}
	return UpdateWithVideoResults(existing, video), nil
}
