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
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

const textCacheNamespace = "moderation:text"

// moderationClient is the subset of the OpenAI client used for text moderation.
type moderationClient interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// TextAnalyzer moderates text through the OpenAI moderation endpoint and falls
// back to keyword heuristics when the endpoint cannot be used.
type TextAnalyzer struct {
	client  moderationClient
	model   string
	timeout time.Duration
	ttl     time.Duration
	limiter ratelimit.Limiter
	cache   cache.Cache
	breaker *gobreaker.CircuitBreaker
}

// NewTextAnalyzer creates a text analyzer. Without an API key every call uses
// the heuristic path.
func NewTextAnalyzer(cfg *config.OpenAIConfig, c cache.Cache, limiter ratelimit.Limiter) *TextAnalyzer {
	a := &TextAnalyzer{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		ttl:     cfg.CacheTTL,
		limiter: limiter,
		cache:   c,
		breaker: newBreaker("openai"),
	}

	if !cfg.Configured() {
		log.Warn().Msg("OpenAI API key not configured, text moderation will use keyword heuristics")
		return a
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	a.client = openai.NewClientWithConfig(oc)
	return a
}

// newBreaker trips after repeated provider failures so a dead upstream is not
// hammered on every request.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// AnalyzeText implements TextModerator. It never returns an error.
func (a *TextAnalyzer) AnalyzeText(ctx context.Context, text string) (*models.TextAnalysisResult, error) {
	result, _ := a.AnalyzeTextDetailed(ctx, text)
	return result, nil
}

// AnalyzeTextDetailed analyzes text and reports which path produced the result.
func (a *TextAnalyzer) AnalyzeTextDetailed(ctx context.Context, text string) (*models.TextAnalysisResult, Outcome) {
	result, outcome := a.analyze(ctx, text)
	record("openai", outcome)
	return result, outcome
}

func (a *TextAnalyzer) analyze(ctx context.Context, text string) (*models.TextAnalysisResult, Outcome) {
	trimmed, ok := validText(text)
	if !ok {
		return neutralText(), Outcome{Reason: ReasonInvalidInput}
	}

	if a.client == nil {
		return fallbackText(trimmed), Outcome{Reason: ReasonProviderUnavailable}
	}

	key := cache.Key(textCacheNamespace, trimmed)
	if a.cache != nil {
		cached, hit, err := cache.GetJSON[models.TextAnalysisResult](ctx, a.cache, key)
		if err != nil {
			log.Warn().Err(err).Msg("Text cache lookup failed")
		}
		if hit {
			return cached, Outcome{Reason: ReasonCached}
		}
	}

	if a.limiter != nil {
		allowed, err := a.limiter.Allow(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Text rate limiter unavailable")
		}
		if !allowed {
			return fallbackText(trimmed), Outcome{Reason: ReasonRateLimited, Err: err}
		}
	}

	resp, err := a.moderate(ctx, trimmed)
	if err != nil {
		reason := ReasonProviderError
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = ReasonProviderUnavailable
		}
		log.Warn().Err(err).Str("reason", string(reason)).Msg("Text moderation failed, using heuristics")
		return fallbackText(trimmed), Outcome{Reason: reason, Err: err}
	}

	result := textFromModeration(resp.Results[0], trimmed)
	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, result, a.ttl); err != nil {
			log.Warn().Err(err).Msg("Failed to cache text analysis")
		}
	}
	return result, Outcome{Reason: ReasonOK}
}

func (a *TextAnalyzer) moderate(ctx context.Context, text string) (openai.ModerationResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := a.breaker.Execute(func() (interface{}, error) {
		resp, err := a.client.Moderations(ctx, openai.ModerationRequest{
			Input: text,
			Model: a.model,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Results) == 0 {
			return nil, fmt.Errorf("OpenAI returned no moderation results")
		}
		return resp, nil
	})
	if err != nil {
		return openai.ModerationResponse{}, fmt.Errorf("OpenAI moderation failed: %w", err)
	}
	return out.(openai.ModerationResponse), nil
}

func textFromModeration(r openai.Result, text string) *models.TextAnalysisResult {
	c, s := r.Categories, r.CategoryScores
	categories := []models.TextCategory{
		{Name: "hate", Flagged: c.Hate, Score: clamp01(float64(s.Hate))},
		{Name: "hate/threatening", Flagged: c.HateThreatening, Score: clamp01(float64(s.HateThreatening))},
		{Name: "harassment", Flagged: c.Harassment, Score: clamp01(float64(s.Harassment))},
		{Name: "harassment/threatening", Flagged: c.HarassmentThreatening, Score: clamp01(float64(s.HarassmentThreatening))},
		{Name: "self-harm", Flagged: c.SelfHarm, Score: clamp01(float64(s.SelfHarm))},
		{Name: "self-harm/intent", Flagged: c.SelfHarmIntent, Score: clamp01(float64(s.SelfHarmIntent))},
		{Name: "self-harm/instructions", Flagged: c.SelfHarmInstructions, Score: clamp01(float64(s.SelfHarmInstructions))},
		{Name: "sexual", Flagged: c.Sexual, Score: clamp01(float64(s.Sexual))},
		{Name: "sexual/minors", Flagged: c.SexualMinors, Score: clamp01(float64(s.SexualMinors))},
		{Name: "violence", Flagged: c.Violence, Score: clamp01(float64(s.Violence))},
		{Name: "violence/graphic", Flagged: c.ViolenceGraphic, Score: clamp01(float64(s.ViolenceGraphic))},
	}

	var total float64
	for _, cat := range categories {
		total += cat.Score
	}

	tokens := tokenize(text)
	topics := newTopicSet()
	if c.Hate || c.HateThreatening {
		topics.add(topicHateSpeech)
	}
	if c.Violence || c.ViolenceGraphic {
		topics.add(topicViolence)
	}
	if c.Sexual || c.SexualMinors {
		topics.add(topicSexual)
	}
	if c.SelfHarm || c.SelfHarmIntent || c.SelfHarmInstructions {
		topics.add(topicSelfHarm)
	}
	topics.addFrom(tokens)

	return &models.TextAnalysisResult{
		Flagged:           r.Flagged,
		Categories:        categories,
		ToxicityScore:     clamp01(total / float64(len(categories))),
		ProfanityDetected: c.Harassment || c.HarassmentThreatening || tokens.containsAny(profanityTerms),
		SensitiveTopics:   topics.list(),
	}
}

func neutralText() *models.TextAnalysisResult {
	return &models.TextAnalysisResult{
		Categories:      []models.TextCategory{},
		SensitiveTopics: []string{},
	}
}
