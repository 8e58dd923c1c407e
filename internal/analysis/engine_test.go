package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeText struct {
	res *models.TextAnalysisResult
	err error
}

func (f fakeText) AnalyzeText(context.Context, string) (*models.TextAnalysisResult, error) {
	return f.res, f.err
}

type fakeImage struct {
	res *models.ImageAnalysisResult
	err error
}

func (f fakeImage) AnalyzeImage(context.Context, string) (*models.ImageAnalysisResult, error) {
	return f.res, f.err
}

type fakeVideo struct {
	jobID    string
	startErr error
	poll     *models.VideoAnalysisResult
	pollErr  error
	started  *atomic.Int32
}

func (f fakeVideo) StartJob(context.Context, string) (string, error) {
	if f.started != nil {
		f.started.Add(1)
	}
	return f.jobID, f.startErr
}

func (f fakeVideo) PollJob(context.Context, string) (*models.VideoAnalysisResult, error) {
	return f.poll, f.pollErr
}

var fixedNow = time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)

func fallbackEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	jobs := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { _ = jobs.Close() })

	return NewEngine(
		provider.NewTextAnalyzer(&cfg.Providers.OpenAI, nil, nil),
		provider.NewImageAnalyzer(testContext(t), &cfg.Providers.Vision, nil, nil),
		provider.NewVideoAnalyzer(&cfg.Providers.Rekognition, jobs),
	).WithClock(func() time.Time { return fixedNow })
}

func TestAnalyzeInsultWithoutProvider(t *testing.T) {
	t.Parallel()
	res := fallbackEngine(t).Analyze(testContext(t), models.ContentInput{Text: "I hate you, you idiot"})

	require.NotNil(t, res.TextAnalysis)
	assert.Nil(t, res.ImageAnalysis)
	assert.Nil(t, res.VideoAnalysis)
	assert.False(t, res.TextAnalysis.ProfanityDetected)
	assert.Empty(t, res.TextAnalysis.SensitiveTopics)
	assert.InDelta(t, 0.2, res.TextAnalysis.ToxicityScore, 1e-9)
	assert.InDelta(t, 0.2, res.RiskScore, 1e-9)
	assert.False(t, res.Flagged)
	assert.Equal(t, "2025-05-04T10:30:00Z", res.Timestamp)
}

func TestAnalyzePortraitWithoutProvider(t *testing.T) {
	t.Parallel()
	res := fallbackEngine(t).Analyze(testContext(t), models.ContentInput{ImageURL: "https://x.com/person.jpg"})

	require.NotNil(t, res.ImageAnalysis)
	assert.Equal(t, []string{"person", "face", "clothing"}, res.ImageAnalysis.DetectedObjects)
	assert.InDelta(t, 0.1, res.ImageAnalysis.NSFWScore, 1e-9)
	assert.Equal(t, models.LikelihoodPossible, res.ImageAnalysis.SafeSearch.Racy)
	assert.InDelta(t, 0.1, res.RiskScore, 1e-9)
	assert.False(t, res.Flagged)
	assert.Empty(t, res.FlaggedCategories)
}

func TestAnalyzeVideoReturnsPendingJob(t *testing.T) {
	t.Parallel()
	res := fallbackEngine(t).Analyze(testContext(t), models.ContentInput{VideoURL: "https://x.com/v.mp4"})

	require.NotNil(t, res.VideoAnalysis)
	assert.Equal(t, models.JobInProgress, res.VideoAnalysis.Status)
	assert.NotEqual(t, "error", res.VideoAnalysis.JobID)
	assert.NotEmpty(t, res.VideoAnalysis.JobID)
	assert.Zero(t, res.RiskScore)
	assert.False(t, res.Flagged)
	assert.True(t, res.HasPendingVideo())
}

func TestAnalyzeEmptyInput(t *testing.T) {
	t.Parallel()
	res := fallbackEngine(t).Analyze(testContext(t), models.ContentInput{})

	assert.Zero(t, res.RiskScore)
	assert.False(t, res.Flagged)
	assert.NotNil(t, res.FlaggedCategories)
	assert.Empty(t, res.FlaggedCategories)
}

// Text failures abort the entire analysis while image and video failures are
// contained. This asymmetry is intentional and pinned here.
func TestAnalyzeTextErrorAbortsEverything(t *testing.T) {
	t.Parallel()
	var started atomic.Int32
	e := NewEngine(
		fakeText{err: errors.New("upstream exploded")},
		fakeImage{res: &models.ImageAnalysisResult{NSFWScore: 0.95}},
		fakeVideo{jobID: "job-1", started: &started},
	)

	res := e.Analyze(testContext(t), models.ContentInput{
		Text:     "some text",
		ImageURL: "https://x.com/a.jpg",
		VideoURL: "https://x.com/v.mp4",
	})

	assert.Contains(t, res.Error, "upstream exploded")
	assert.NotEmpty(t, res.Timestamp)
	assert.Nil(t, res.TextAnalysis)
	assert.Nil(t, res.ImageAnalysis)
	assert.Nil(t, res.VideoAnalysis)
	assert.Zero(t, res.RiskScore)
	assert.False(t, res.Flagged)
	assert.Zero(t, started.Load(), "no video job is started for an aborted analysis")
}

func TestAnalyzeImageErrorIsContained(t *testing.T) {
	t.Parallel()
	e := NewEngine(
		fakeText{res: &models.TextAnalysisResult{ToxicityScore: 0.4}},
		fakeImage{err: errors.New("vision down")},
		fakeVideo{},
	)

	res := e.Analyze(testContext(t), models.ContentInput{Text: "some text", ImageURL: "https://x.com/a.jpg"})

	assert.Empty(t, res.Error)
	assert.Nil(t, res.ImageAnalysis)
	assert.InDelta(t, 0.4, res.RiskScore, 1e-9)
}

func TestAnalyzeVideoSubmitFailure(t *testing.T) {
	t.Parallel()
	e := NewEngine(fakeText{}, fakeImage{}, fakeVideo{startErr: errors.New("bucket missing")})

	res := e.Analyze(testContext(t), models.ContentInput{VideoURL: "s3://b/v.mp4"})

	require.NotNil(t, res.VideoAnalysis)
	assert.Equal(t, "error", res.VideoAnalysis.JobID)
	assert.Equal(t, models.JobFailed, res.VideoAnalysis.Status)
	assert.Contains(t, res.VideoAnalysis.Error, "bucket missing")
	assert.Empty(t, res.Error)
	assert.False(t, res.HasPendingVideo())
}

func TestAnalyzeCombinesModalities(t *testing.T) {
	t.Parallel()
	e := NewEngine(
		fakeText{res: &models.TextAnalysisResult{
			ToxicityScore: 0.5,
			Categories:    []models.TextCategory{{Name: "harassment", Flagged: false, Score: 0.5}},
		}},
		fakeImage{res: &models.ImageAnalysisResult{NSFWScore: 0.2, ViolenceScore: 0.75, GraphicContentScore: 0.1}},
		fakeVideo{jobID: "job-1"},
	)

	res := e.Analyze(testContext(t), models.ContentInput{
		Text:     "borderline text",
		ImageURL: "https://x.com/a.jpg",
		VideoURL: "https://x.com/v.mp4",
	})

	// Pending video does not count: (0.3*0.5 + 0.4*0.75) / 0.7
	assert.InDelta(t, (0.15+0.3)/0.7, res.RiskScore, 1e-9)
	assert.False(t, res.Flagged)
	assert.Equal(t, []string{"image:violence"}, res.FlaggedCategories)
}

func TestPollVideo(t *testing.T) {
	t.Parallel()
	video := &models.VideoAnalysisResult{
		JobID:                 "job-1",
		Status:                models.JobSucceeded,
		NSFWDetected:          true,
		HighestNSFWConfidence: 90,
		ModerationLabels:      []models.ModerationLabel{{Name: "Nudity", Confidence: 90}},
	}
	e := NewEngine(fakeText{}, fakeImage{}, fakeVideo{poll: video})

	pending := &models.ContentAnalysisResult{
		VideoAnalysis: &models.VideoAnalysisResult{JobID: "job-1", Status: models.JobInProgress},
	}
	merged, err := e.PollVideo(testContext(t), pending)
	require.NoError(t, err)
	assert.True(t, merged.Flagged)
	assert.InDelta(t, 0.9, merged.RiskScore, 1e-9)
	assert.Equal(t, models.JobInProgress, pending.VideoAnalysis.Status, "input untouched")

	done, err := e.PollVideo(testContext(t), merged)
	require.NoError(t, err)
	assert.Same(t, merged, done, "nothing left to poll")

	_, err = NewEngine(fakeText{}, fakeImage{}, fakeVideo{pollErr: errors.New("timeout")}).PollVideo(testContext(t), pending)
	assert.Error(t, err)
}
