package provider

import (
	"strings"
	"unicode"

	"github.com/lorepin/lorepin/internal/models"
)

// Heuristic weights for the keyword fallback.
const (
	negativeWeight   = 0.1
	aggressiveWeight = 0.15
	toxicThreshold   = 0.7
)

var (
	negativeTerms = []string{
		"hate", "stupid", "idiot", "dumb", "ugly", "loser", "pathetic",
		"worthless", "terrible", "awful", "disgusting", "moron", "trash",
	}

	aggressiveTerms = []string{
		"kill", "die", "attack", "destroy", "hurt", "punch", "shoot", "stab", "beat", "fight",
	}

	profanityTerms = []string{
		"fuck", "fucking", "shit", "bitch", "asshole", "bastard", "cunt", "dick", "piss", "crap",
	}
)

const (
	topicPolitics   = "politics"
	topicReligion   = "religion"
	topicRace       = "race/ethnicity"
	topicHateSpeech = "hate speech"
	topicViolence   = "violence"
	topicSexual     = "sexual content"
	topicSelfHarm   = "self-harm"
)

// topicTerms maps each sensitive topic to its trigger words. A plain "hate"
// is an insult, not hate speech, so it is deliberately absent.
var topicTerms = []struct {
	topic string
	terms []string
}{
	{topicPolitics, []string{"election", "president", "government", "politics", "political", "democrat", "republican", "congress", "senate", "parliament"}},
	{topicReligion, []string{"religion", "religious", "church", "mosque", "synagogue", "temple", "bible", "quran", "islam", "christian", "jewish", "muslim", "hindu", "buddhist"}},
	{topicRace, []string{"race", "racial", "racist", "racism", "ethnic", "ethnicity", "immigrant", "immigrants"}},
	{topicHateSpeech, []string{"nazi", "supremacist", "white power", "genocide", "ethnic cleansing", "slur"}},
	{topicViolence, []string{"murder", "shooting", "bomb", "terrorist", "massacre", "weapon", "gun"}},
	{topicSexual, []string{"sex", "sexual", "porn", "nude", "naked", "nsfw"}},
	{topicSelfHarm, []string{"suicide", "suicidal", "self harm", "kill myself", "cutting myself"}},
}

// termSet is the normalized token stream of a text.
type termSet struct {
	words  map[string]struct{}
	joined string // " tok tok tok " for phrase lookups
}

func tokenize(text string) termSet {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		words[f] = struct{}{}
	}
	return termSet{words: words, joined: " " + strings.Join(fields, " ") + " "}
}

func (s termSet) contains(term string) bool {
	if strings.Contains(term, " ") {
		return strings.Contains(s.joined, " "+term+" ")
	}
	_, ok := s.words[term]
	return ok
}

func (s termSet) count(terms []string) int {
	n := 0
	for _, t := range terms {
		if s.contains(t) {
			n++
		}
	}
	return n
}

func (s termSet) containsAny(terms []string) bool {
	for _, t := range terms {
		if s.contains(t) {
			return true
		}
	}
	return false
}

// topicSet keeps topics unique in first-seen order.
type topicSet struct {
	seen   map[string]bool
	topics []string
}

func newTopicSet() *topicSet {
	return &topicSet{seen: make(map[string]bool), topics: []string{}}
}

func (t *topicSet) add(topic string) {
	if !t.seen[topic] {
		t.seen[topic] = true
		t.topics = append(t.topics, topic)
	}
}

func (t *topicSet) addFrom(tokens termSet) {
	for _, tt := range topicTerms {
		if tokens.containsAny(tt.terms) {
			t.add(tt.topic)
		}
	}
}

func (t *topicSet) list() []string { return t.topics }

// fallbackText scores text with keyword heuristics. Each distinct negative
// word adds 0.1 and each distinct aggressive word adds 0.15, capped at 1.
func fallbackText(text string) *models.TextAnalysisResult {
	tokens := tokenize(text)

	aggressive := float64(tokens.count(aggressiveTerms)) * aggressiveWeight
	toxicity := clamp01(float64(tokens.count(negativeTerms))*negativeWeight + aggressive)
	profanity := tokens.containsAny(profanityTerms)

	topics := newTopicSet()
	topics.addFrom(tokens)

	profanityScore := 0.0
	if profanity {
		profanityScore = 1
	}

	return &models.TextAnalysisResult{
		Flagged: profanity || toxicity >= toxicThreshold,
		Categories: []models.TextCategory{
			{Name: "toxicity", Flagged: toxicity >= toxicThreshold, Score: toxicity},
			{Name: "profanity", Flagged: profanity, Score: profanityScore},
			{Name: "violence", Flagged: aggressive >= 2*aggressiveWeight, Score: clamp01(aggressive)},
		},
		ToxicityScore:     toxicity,
		ProfanityDetected: profanity,
		SensitiveTopics:   topics.list(),
	}
}
