package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	mockJobPrefix    = "mock-"
	mockJobTTL       = 7 * 24 * time.Hour
	videoJobKeySpace = "moderation:video-job:"
)

var (
	nsfwFamily     = []string{"nudity", "explicit", "suggestive", "sexual", "revealing"}
	violenceFamily = []string{"violence", "weapon", "visually disturbing", "gore", "blood", "corpse"}
)

// rekognitionAPI is the subset of the Rekognition client used for video jobs.
type rekognitionAPI interface {
	StartContentModerationWithContext(aws.Context, *rekognition.StartContentModerationInput, ...request.Option) (*rekognition.StartContentModerationOutput, error)
	GetContentModerationWithContext(aws.Context, *rekognition.GetContentModerationInput, ...request.Option) (*rekognition.GetContentModerationOutput, error)
}

// VideoAnalyzer runs content moderation jobs on AWS Rekognition. Videos that are
// not stored in S3, or any video when credentials are missing, go to a mock job
// store whose results are derived from URL hints.
type VideoAnalyzer struct {
	client        rekognitionAPI
	minConfidence float64
	timeout       time.Duration
	jobs          cache.Cache
	newBackOff    func() backoff.BackOff
}

// NewVideoAnalyzer creates a video analyzer. Mock jobs are kept in c so they
// remain pollable across instances sharing the cache.
func NewVideoAnalyzer(cfg *config.RekognitionConfig, c cache.Cache) *VideoAnalyzer {
	if c == nil {
		c = cache.NewMemoryCache(time.Minute)
	}

	a := &VideoAnalyzer{
		minConfidence: cfg.MinConfidence,
		timeout:       cfg.Timeout,
		jobs:          c,
		newBackOff:    defaultBackOff,
	}
	if a.minConfidence <= 0 {
		a.minConfidence = 50
	}

	if !cfg.Configured() {
		log.Warn().Msg("Rekognition credentials not configured, video moderation will use mock jobs")
		return a
	}

	awsCfg := &aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create AWS session, video moderation will use mock jobs")
		return a
	}
	a.client = rekognition.New(sess)
	return a
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// StartJob implements VideoModerator.
func (a *VideoAnalyzer) StartJob(ctx context.Context, videoURL string) (string, error) {
	u, ok := parseMediaURL(videoURL, "http", "https", "s3")
	if !ok {
		return "", fmt.Errorf("invalid video url: %q", videoURL)
	}

	bucket, key, isS3 := s3Location(u)
	if a.client == nil || !isS3 {
		return a.startMockJob(ctx, u.String())
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	out, err := a.client.StartContentModerationWithContext(ctx, &rekognition.StartContentModerationInput{
		Video: &rekognition.Video{
			S3Object: &rekognition.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
		MinConfidence:      aws.Float64(a.minConfidence),
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start content moderation: %w", err)
	}
	if out.JobId == nil || *out.JobId == "" {
		return "", errors.New("Rekognition returned no job id")
	}

	log.Debug().Str("job_id", *out.JobId).Str("bucket", bucket).Msg("Started video moderation job")
	return *out.JobId, nil
}

// PollJob implements VideoModerator. Unknown jobs report FAILED; an error is
// returned only when the provider could not be reached, so callers can retry.
func (a *VideoAnalyzer) PollJob(ctx context.Context, jobID string) (*models.VideoAnalysisResult, error) {
	if strings.HasPrefix(jobID, mockJobPrefix) {
		return a.pollMockJob(ctx, jobID)
	}
	if a.client == nil {
		return failedJob(jobID, "video moderation provider not configured"), nil
	}

	var labels []models.ModerationLabel
	var token *string
	for {
		out, err := a.getPage(ctx, jobID, token)
		if err != nil {
			var aerr awserr.Error
			if errors.As(err, &aerr) && aerr.Code() == rekognition.ErrCodeResourceNotFoundException {
				return failedJob(jobID, "unknown job id"), nil
			}
			return nil, fmt.Errorf("failed to get content moderation: %w", err)
		}

		switch aws.StringValue(out.JobStatus) {
		case rekognition.VideoJobStatusInProgress:
			return &models.VideoAnalysisResult{
				JobID:            jobID,
				Status:           models.JobInProgress,
				ModerationLabels: []models.ModerationLabel{},
			}, nil
		case rekognition.VideoJobStatusFailed:
			return failedJob(jobID, aws.StringValue(out.StatusMessage)), nil
		}

		for _, d := range out.ModerationLabels {
			if d == nil || d.ModerationLabel == nil {
				continue
			}
			labels = append(labels, models.ModerationLabel{
				Name:       aws.StringValue(d.ModerationLabel.Name),
				Confidence: aws.Float64Value(d.ModerationLabel.Confidence),
				ParentName: aws.StringValue(d.ModerationLabel.ParentName),
				Timestamp:  aws.Int64Value(d.Timestamp),
			})
		}

		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		token = out.NextToken
	}

	return SummarizeLabels(jobID, labels, a.minConfidence), nil
}

func (a *VideoAnalyzer) getPage(ctx context.Context, jobID string, token *string) (*rekognition.GetContentModerationOutput, error) {
	var out *rekognition.GetContentModerationOutput
	op := func() error {
		callCtx, cancel := a.withTimeout(ctx)
		defer cancel()

		var err error
		out, err = a.client.GetContentModerationWithContext(callCtx, &rekognition.GetContentModerationInput{
			JobId:      aws.String(jobID),
			NextToken:  token,
			MaxResults: aws.Int64(1000),
			SortBy:     aws.String(rekognition.ContentModerationSortByTimestamp),
		})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(a.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func retryable(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return true
	}
	switch aerr.Code() {
	case rekognition.ErrCodeThrottlingException,
		rekognition.ErrCodeProvisionedThroughputExceededException,
		rekognition.ErrCodeInternalServerError,
		request.ErrCodeRequestError:
		return true
	}
	return false
}

func (a *VideoAnalyzer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

func (a *VideoAnalyzer) startMockJob(ctx context.Context, videoURL string) (string, error) {
	jobID := mockJobPrefix + uuid.NewString()
	if err := a.jobs.Set(ctx, videoJobKeySpace+jobID, []byte(videoURL), mockJobTTL); err != nil {
		return "", fmt.Errorf("failed to record video job: %w", err)
	}
	return jobID, nil
}

func (a *VideoAnalyzer) pollMockJob(ctx context.Context, jobID string) (*models.VideoAnalysisResult, error) {
	data, ok, err := a.jobs.Get(ctx, videoJobKeySpace+jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load video job: %w", err)
	}
	if !ok {
		return failedJob(jobID, "unknown job id"), nil
	}
	return SummarizeLabels(jobID, mockVideoLabels(string(data)), a.minConfidence), nil
}

// mockVideoLabels derives deterministic moderation labels from URL hints.
func mockVideoLabels(videoURL string) []models.ModerationLabel {
	lower := hintPath(videoURL)
	switch {
	case containsHint(lower, []string{"nsfw", "explicit", "nude", "adult"}):
		return []models.ModerationLabel{
			{Name: "Explicit Nudity", Confidence: 92.5, Timestamp: 1000},
			{Name: "Nudity", Confidence: 88, ParentName: "Explicit Nudity", Timestamp: 1000},
		}
	case containsHint(lower, []string{"violence", "violent", "fight", "weapon", "gun"}):
		return []models.ModerationLabel{
			{Name: "Violence", Confidence: 85, Timestamp: 2000},
			{Name: "Weapons", Confidence: 78, ParentName: "Violence", Timestamp: 2000},
		}
	case containsHint(lower, []string{"swim", "beach", "bikini"}):
		return []models.ModerationLabel{
			{Name: "Suggestive", Confidence: 62, Timestamp: 500},
		}
	default:
		return []models.ModerationLabel{}
	}
}

// SummarizeLabels builds a SUCCEEDED result, deriving the per-family detection
// flags from labels at or above minConfidence.
func SummarizeLabels(jobID string, labels []models.ModerationLabel, minConfidence float64) *models.VideoAnalysisResult {
	result := &models.VideoAnalysisResult{
		JobID:            jobID,
		Status:           models.JobSucceeded,
		ModerationLabels: append([]models.ModerationLabel{}, labels...),
	}
	sort.SliceStable(result.ModerationLabels, func(i, j int) bool {
		return result.ModerationLabels[i].Timestamp < result.ModerationLabels[j].Timestamp
	})

	for _, l := range labels {
		family := strings.ToLower(l.Name + " " + l.ParentName)
		switch {
		case containsHint(family, nsfwFamily):
			result.HighestNSFWConfidence = max(result.HighestNSFWConfidence, l.Confidence)
			if l.Confidence >= minConfidence {
				result.NSFWDetected = true
			}
		case containsHint(family, violenceFamily):
			result.HighestViolenceConfidence = max(result.HighestViolenceConfidence, l.Confidence)
			if l.Confidence >= minConfidence {
				result.ViolenceDetected = true
			}
		}
	}
	return result
}

func failedJob(jobID, msg string) *models.VideoAnalysisResult {
	if msg == "" {
		msg = "video moderation job failed"
	}
	return &models.VideoAnalysisResult{
		JobID:            jobID,
		Status:           models.JobFailed,
		ModerationLabels: []models.ModerationLabel{},
		Error:            msg,
	}
}

// s3Location extracts bucket and key from s3:// or virtual-hosted S3 URLs.
func s3Location(u *url.URL) (bucket, key string, ok bool) {
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}

	if strings.EqualFold(u.Scheme, "s3") {
		return u.Host, key, true
	}

	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return "", "", false
	}
	for _, marker := range []string{".s3.", ".s3-"} {
		if i := strings.Index(host, marker); i > 0 {
			return host[:i], key, true
		}
	}
	return "", "", false
}
