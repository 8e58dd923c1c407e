package analysis

import (
	"sort"
	"strconv"

	"github.com/lorepin/lorepin/internal/models"
)

// Modality weights. Only present modalities contribute to the denominator.
const (
	textWeight  = 0.3
	imageWeight = 0.4
	videoWeight = 0.5
)

const (
	// FlagThreshold is the aggregate risk at which content is flagged.
	FlagThreshold = 0.7

	flaggedTextFloor   = 0.8
	imageFlagThreshold = 0.8
	imageTagThreshold  = 0.7
	labelTagConfidence = 70
)

// TextScore is the toxicity score, raised to 0.8 when the provider flagged the text.
func TextScore(t *models.TextAnalysisResult) float64 {
	s := t.ToxicityScore
	if t.Flagged && s < flaggedTextFloor {
		s = flaggedTextFloor
	}
	return clamp01(s)
}

// ImageScore is the worst of the three image scores.
func ImageScore(i *models.ImageAnalysisResult) float64 {
	return clamp01(max(i.NSFWScore, i.ViolenceScore, i.GraphicContentScore))
}

// VideoScore converts the highest family confidence to [0,1].
func VideoScore(v *models.VideoAnalysisResult) float64 {
	return clamp01(max(v.HighestNSFWConfidence, v.HighestViolenceConfidence) / 100)
}

func videoCounts(v *models.VideoAnalysisResult) bool {
	return v != nil && v.Status == models.JobSucceeded
}

// RiskScore computes the weighted average of the present modality scores.
func RiskScore(r *models.ContentAnalysisResult) float64 {
	var sum, weights float64
	if r.TextAnalysis != nil {
		sum += textWeight * TextScore(r.TextAnalysis)
		weights += textWeight
	}
	if r.ImageAnalysis != nil {
		sum += imageWeight * ImageScore(r.ImageAnalysis)
		weights += imageWeight
	}
	if videoCounts(r.VideoAnalysis) {
		sum += videoWeight * VideoScore(r.VideoAnalysis)
		weights += videoWeight
	}
	if weights == 0 {
		return 0
	}
	return clamp01(sum / weights)
}

// Flagged decides whether the content needs human review given its risk score.
func Flagged(r *models.ContentAnalysisResult, risk float64) bool {
	if risk >= FlagThreshold {
		return true
	}
	if t := r.TextAnalysis; t != nil && t.Flagged {
		return true
	}
	if i := r.ImageAnalysis; i != nil && (i.NSFWScore >= imageFlagThreshold || i.ViolenceScore >= imageFlagThreshold) {
		return true
	}
	if v := r.VideoAnalysis; videoCounts(v) && (v.NSFWDetected || v.ViolenceDetected) {
		return true
	}
	return false
}

// FlaggedCategories lists the qualitative tags explaining a verdict, sorted.
func FlaggedCategories(r *models.ContentAnalysisResult) []string {
	set := map[string]struct{}{}
	add := func(tag string) { set[tag] = struct{}{} }

	if t := r.TextAnalysis; t != nil {
		for _, c := range t.Categories {
			if c.Flagged {
				add("text:" + c.Name)
			}
		}
		if t.ProfanityDetected {
			add("text:profanity")
		}
	}

	if i := r.ImageAnalysis; i != nil {
		if i.NSFWScore >= imageTagThreshold {
			add("image:nsfw")
		}
		if i.ViolenceScore >= imageTagThreshold {
			add("image:violence")
		}
		if i.GraphicContentScore >= imageTagThreshold {
			add("image:graphic")
		}
	}

	if v := r.VideoAnalysis; v != nil {
		if v.NSFWDetected {
			add("video:nsfw")
		}
		if v.ViolenceDetected {
			add("video:violence")
		}
		for _, l := range v.ModerationLabels {
			if l.Confidence >= labelTagConfidence {
				add("video:" + l.Name)
			}
		}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Score fills RiskScore, Flagged and FlaggedCategories from the sub-results.
func Score(r *models.ContentAnalysisResult) {
	r.RiskScore = RiskScore(r)
	r.Flagged = Flagged(r, r.RiskScore)
	r.FlaggedCategories = FlaggedCategories(r)
}

// UpdateWithVideoResults returns a copy of existing with its video analysis
// replaced and every derived field recomputed. existing is not modified.
func UpdateWithVideoResults(existing *models.ContentAnalysisResult, video *models.VideoAnalysisResult) *models.ContentAnalysisResult {
	merged := &models.ContentAnalysisResult{}
	if existing != nil {
		*merged = *existing
	}
	if video != nil {
		v := *video
		v.ModerationLabels = append([]models.ModerationLabel{}, video.ModerationLabels...)
		merged.VideoAnalysis = &v
	}
	Score(merged)
	return merged
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

func flaggedLabel(flagged bool) string {
	return strconv.FormatBool(flagged)
}
