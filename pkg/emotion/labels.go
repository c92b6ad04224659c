// Package emotion defines the emotion taxonomy, classifier score types, and
// the text/voice fusion rule used throughout the serving core.
//
// The taxonomy follows the 28-category GoEmotions label set. Downstream
// consumers additionally recognise the aliases "stress" and "anxiety", which
// the classifier never emits but the fallback library keys on.
package emotion

import "strings"

// Label is one of the 28 recognised emotion categories.
type Label string

const (
	Admiration     Label = "admiration"
	Amusement      Label = "amusement"
	Anger          Label = "anger"
	Annoyance      Label = "annoyance"
	Approval       Label = "approval"
	Caring         Label = "caring"
	Confusion      Label = "confusion"
	Curiosity      Label = "curiosity"
	Desire         Label = "desire"
	Disappointment Label = "disappointment"
	Disapproval    Label = "disapproval"
	Disgust        Label = "disgust"
	Embarrassment  Label = "embarrassment"
	Excitement     Label = "excitement"
	Fear           Label = "fear"
	Gratitude      Label = "gratitude"
	Grief          Label = "grief"
	Joy            Label = "joy"
	Love           Label = "love"
	Nervousness    Label = "nervousness"
	Optimism       Label = "optimism"
	Pride          Label = "pride"
	Realization    Label = "realization"
	Relief         Label = "relief"
	Remorse        Label = "remorse"
	Sadness        Label = "sadness"
	Surprise       Label = "surprise"
	Neutral        Label = "neutral"
)

// Labels is the full taxonomy in canonical order. Classifier-path score
// vectors cover exactly this set.
var Labels = []Label{
	Admiration, Amusement, Anger, Annoyance, Approval, Caring, Confusion,
	Curiosity, Desire, Disappointment, Disapproval, Disgust, Embarrassment,
	Excitement, Fear, Gratitude, Grief, Joy, Love, Nervousness, Optimism,
	Pride, Realization, Relief, Remorse, Sadness, Surprise, Neutral,
}

// labelSet indexes Labels for O(1) membership checks.
var labelSet = func() map[Label]int {
	m := make(map[Label]int, len(Labels))
	for i, l := range Labels {
		m[l] = i
	}
	return m
}()

// IsValid reports whether l is a member of the taxonomy.
func (l Label) IsValid() bool {
	_, ok := labelSet[l]
	return ok
}

// Index returns the canonical position of l in [Labels], or -1.
func (l Label) Index() int {
	i, ok := labelSet[l]
	if !ok {
		return -1
	}
	return i
}

// Normalize maps a raw classifier label onto the taxonomy.
//
// Exact members are returned as-is except for "realization", which is folded
// into "neutral" (it is a technical label, not a useful emotion signal).
// Every other string becomes "neutral": the taxonomy is the model's native
// one, so no respelling or further remapping is attempted. The caller is
// expected to retain the raw label separately.
func Normalize(raw string) Label {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if l == Realization {
		return Neutral
	}
	if l.IsValid() {
		return l
	}
	return Neutral
}

// FallbackKey maps a taxonomy label onto the key set of the scripted fallback
// library (anxiety, nervousness, depression, sadness, stress, anger, fear,
// joy, admiration, general). Labels without a dedicated script fall through
// to "general".
func FallbackKey(l Label) string {
	switch l {
	case Nervousness:
		return "nervousness"
	case Fear:
		return "fear"
	case Sadness, Grief, Remorse, Disappointment:
		return "sadness"
	case Anger, Annoyance, Disgust, Disapproval:
		return "anger"
	case Joy, Amusement, Excitement, Optimism, Love, Gratitude, Pride, Relief:
		return "joy"
	case Admiration, Approval, Caring:
		return "admiration"
	default:
		return "general"
	}
}
