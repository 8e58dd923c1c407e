package provider

import (
	"net/url"
	"strings"

	"github.com/lorepin/lorepin/internal/models"
)

// imageProfile is a canned analysis chosen from hints in the image URL.
type imageProfile struct {
	hints    []string
	objects  []string
	labels   []string
	safe     models.SafeSearch
	nsfw     float64
	violence float64
	graphic  float64
}

var (
	vu = models.LikelihoodVeryUnlikely
	un = models.LikelihoodUnlikely
	po = models.LikelihoodPossible
	li = models.LikelihoodLikely
	vl = models.LikelihoodVeryLikely
)

// imageProfiles are checked in order; the first profile with a matching hint wins.
var imageProfiles = []imageProfile{
	{
		hints:   []string{"nsfw", "explicit", "nude", "adult"},
		objects: []string{"person"},
		labels:  []string{"Person", "Skin"},
		safe:    models.SafeSearch{Adult: li, Spoof: vu, Medical: vu, Violence: vu, Racy: vl},
		nsfw:    0.85, violence: 0.05, graphic: 0.05,
	},
	{
		hints:   []string{"weapon", "gun", "knife", "fight", "blood"},
		objects: []string{"weapon", "person"},
		labels:  []string{"Weapon", "Person"},
		safe:    models.SafeSearch{Adult: vu, Spoof: vu, Medical: un, Violence: li, Racy: vu},
		nsfw:    0.05, violence: 0.75, graphic: 0.3,
	},
	{
		hints:   []string{"person", "people", "portrait", "selfie"},
		objects: []string{"person", "face", "clothing"},
		labels:  []string{"Person", "Face", "Clothing"},
		safe:    models.SafeSearch{Adult: vu, Spoof: un, Medical: vu, Violence: vu, Racy: po},
		nsfw:    0.1, violence: 0.05, graphic: 0.05,
	},
	{
		hints:   []string{"landscape", "beach", "nature", "park", "mountain", "forest"},
		objects: []string{"tree", "sky", "water"},
		labels:  []string{"Nature", "Landscape", "Sky"},
		safe:    models.SafeSearch{Adult: vu, Spoof: vu, Medical: vu, Violence: vu, Racy: vu},
		nsfw:    0.02, violence: 0.01, graphic: 0.01,
	},
	{
		hints:   []string{"food", "meal", "restaurant", "dish"},
		objects: []string{"food", "plate", "table"},
		labels:  []string{"Food", "Dish", "Cuisine"},
		safe:    models.SafeSearch{Adult: vu, Spoof: vu, Medical: vu, Violence: vu, Racy: vu},
		nsfw:    0.02, violence: 0.01, graphic: 0.02,
	},
}

var defaultImageProfile = imageProfile{
	objects: []string{},
	labels:  []string{"Image"},
	safe:    models.SafeSearch{Adult: vu, Spoof: vu, Medical: vu, Violence: vu, Racy: un},
	nsfw:    0.05, violence: 0.02, graphic: 0.02,
}

// mockImage returns a deterministic analysis derived from URL hints.
func mockImage(imageURL string) *models.ImageAnalysisResult {
	lower := hintPath(imageURL)

	p := defaultImageProfile
	for _, candidate := range imageProfiles {
		if containsHint(lower, candidate.hints) {
			p = candidate
			break
		}
	}

	return &models.ImageAnalysisResult{
		NSFWScore:           p.nsfw,
		ViolenceScore:       p.violence,
		GraphicContentScore: p.graphic,
		DetectedObjects:     append([]string{}, p.objects...),
		SafeSearch:          p.safe,
		Labels:              append([]string{}, p.labels...),
	}
}

// hintPath returns the lowercased path of a media URL. Hints never match the
// host, so a CDN or domain name cannot select a profile.
func hintPath(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return strings.ToLower(u.Path)
	}
	return strings.ToLower(raw)
}

func containsHint(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
