package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lorepin/lorepin/internal/cache"
	"github.com/lorepin/lorepin/internal/config"
	"github.com/lorepin/lorepin/internal/models"
	"github.com/lorepin/lorepin/internal/ratelimit"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

const imageCacheNamespace = "moderation:image"

// annotator is the subset of the Vision API used for image moderation.
type annotator interface {
	Annotate(ctx context.Context, req *vision.BatchAnnotateImagesRequest) (*vision.BatchAnnotateImagesResponse, error)
}

type visionAnnotator struct {
	svc *vision.Service
}

func (v visionAnnotator) Annotate(ctx context.Context, req *vision.BatchAnnotateImagesRequest) (*vision.BatchAnnotateImagesResponse, error) {
	return v.svc.Images.Annotate(req).Context(ctx).Do()
}

// ImageAnalyzer moderates images with Google Cloud Vision safe-search,
// label and object detection.
type ImageAnalyzer struct {
	client  annotator
	timeout time.Duration
	ttl     time.Duration
	limiter ratelimit.Limiter
	cache   cache.Cache
	breaker *gobreaker.CircuitBreaker
}

// NewImageAnalyzer creates an image analyzer. Missing credentials or a client
// construction failure leave the analyzer on its URL-hint fallback.
func NewImageAnalyzer(ctx context.Context, cfg *config.VisionConfig, c cache.Cache, limiter ratelimit.Limiter) *ImageAnalyzer {
	a := &ImageAnalyzer{
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		limiter: limiter,
		cache:   c,
		breaker: newBreaker("vision"),
	}

	if !cfg.Configured() {
		log.Warn().Msg("Vision API key not configured, image moderation will use mock results")
		return a
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create Vision client, image moderation will use mock results")
		return a
	}
	a.client = visionAnnotator{svc: svc}
	return a
}

// AnalyzeImage implements ImageModerator. It never returns an error.
func (a *ImageAnalyzer) AnalyzeImage(ctx context.Context, imageURL string) (*models.ImageAnalysisResult, error) {
	result, _ := a.AnalyzeImageDetailed(ctx, imageURL)
	return result, nil
}

// AnalyzeImageDetailed analyzes an image and reports which path produced the result.
func (a *ImageAnalyzer) AnalyzeImageDetailed(ctx context.Context, imageURL string) (*models.ImageAnalysisResult, Outcome) {
	result, outcome := a.analyze(ctx, imageURL)
	record("vision", outcome)
	return result, outcome
}

func (a *ImageAnalyzer) analyze(ctx context.Context, imageURL string) (*models.ImageAnalysisResult, Outcome) {
	u, ok := parseMediaURL(imageURL, "http", "https", "gs")
	if !ok {
		return emptyImage(), Outcome{Reason: ReasonInvalidInput}
	}
	normalized := u.String()

	if a.client == nil {
		return mockImage(normalized), Outcome{Reason: ReasonProviderUnavailable}
	}

	key := cache.Key(imageCacheNamespace, normalized)
	if a.cache != nil {
		cached, hit, err := cache.GetJSON[models.ImageAnalysisResult](ctx, a.cache, key)
		if err != nil {
			log.Warn().Err(err).Msg("Image cache lookup failed")
		}
		if hit {
			return cached, Outcome{Reason: ReasonCached}
		}
	}

	if a.limiter != nil {
		allowed, err := a.limiter.Allow(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Image rate limiter unavailable")
		}
		if !allowed {
			return mockImage(normalized), Outcome{Reason: ReasonRateLimited, Err: err}
		}
	}

	resp, err := a.annotate(ctx, normalized)
	if err != nil {
		reason := ReasonProviderError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = ReasonProviderUnavailable
		}
		log.Warn().Err(err).Str("url", normalized).Str("reason", string(reason)).Msg("Image moderation failed, using mock results")
		return mockImage(normalized), Outcome{Reason: reason, Err: err}
	}

	result := imageFromAnnotation(resp)
	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, result, a.ttl); err != nil {
			log.Warn().Err(err).Msg("Failed to cache image analysis")
		}
	}
	return result, Outcome{Reason: ReasonOK}
}

func (a *ImageAnalyzer) annotate(ctx context.Context, imageURL string) (*vision.AnnotateImageResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image: &vision.Image{Source: &vision.ImageSource{ImageUri: imageURL}},
			Features: []*vision.Feature{
				{Type: "SAFE_SEARCH_DETECTION"},
				{Type: "LABEL_DETECTION", MaxResults: 20},
				{Type: "OBJECT_LOCALIZATION", MaxResults: 20},
			},
		}},
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		resp, err := a.client.Annotate(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Responses) == 0 || resp.Responses[0] == nil {
			return nil, fmt.Errorf("Vision returned no annotations")
		}
		if e := resp.Responses[0].Error; e != nil && e.Code != 0 {
			return nil, fmt.Errorf("Vision annotation error %d: %s", e.Code, e.Message)
		}
		return resp.Responses[0], nil
	})
	if err != nil {
		return nil, fmt.Errorf("Vision request failed: %w", err)
	}
	return out.(*vision.AnnotateImageResponse), nil
}

func likelihood(v string) models.Likelihood {
	switch l := models.Likelihood(v); l {
	case models.LikelihoodVeryUnlikely, models.LikelihoodUnlikely, models.LikelihoodPossible,
		models.LikelihoodLikely, models.LikelihoodVeryLikely:
		return l
	default:
		return models.LikelihoodUnknown
	}
}

// imageScores derives the three headline scores from safe-search likelihoods.
func imageScores(s models.SafeSearch) (nsfw, violence, graphic float64) {
	nsfw = clamp01(0.7*s.Adult.Score() + 0.3*s.Racy.Score())
	violence = clamp01(s.Violence.Score())
	graphic = clamp01(0.8*s.Medical.Score() + 0.2*s.Violence.Score())
	return nsfw, violence, graphic
}

func imageFromAnnotation(resp *vision.AnnotateImageResponse) *models.ImageAnalysisResult {
	safe := models.SafeSearch{
		Adult:    models.LikelihoodUnknown,
		Spoof:    models.LikelihoodUnknown,
		Medical:  models.LikelihoodUnknown,
		Violence: models.LikelihoodUnknown,
		Racy:     models.LikelihoodUnknown,
	}
	if ss := resp.SafeSearchAnnotation; ss != nil {
		safe = models.SafeSearch{
			Adult:    likelihood(ss.Adult),
			Spoof:    likelihood(ss.Spoof),
			Medical:  likelihood(ss.Medical),
			Violence: likelihood(ss.Violence),
			Racy:     likelihood(ss.Racy),
		}
	}

	labels := []string{}
	for _, l := range resp.LabelAnnotations {
		if l != nil && l.Description != "" {
			labels = append(labels, l.Description)
		}
	}

	objects := []string{}
	seen := map[string]bool{}
	for _, o := range resp.LocalizedObjectAnnotations {
		if o == nil || o.Name == "" || seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		objects = append(objects, o.Name)
	}

	nsfw, violence, graphic := imageScores(safe)
	return &models.ImageAnalysisResult{
		NSFWScore:           nsfw,
		ViolenceScore:       violence,
		GraphicContentScore: graphic,
		DetectedObjects:     objects,
		SafeSearch:          safe,
		Labels:              labels,
	}
}

func emptyImage() *models.ImageAnalysisResult {
	return &models.ImageAnalysisResult{
		DetectedObjects: []string{},
		Labels:          []string{},
		SafeSearch: models.SafeSearch{
			Adult:    models.LikelihoodUnknown,
			Spoof:    models.LikelihoodUnknown,
			Medical:  models.LikelihoodUnknown,
			Violence: models.LikelihoodUnknown,
			Racy:     models.LikelihoodUnknown,
		},
	}
}
