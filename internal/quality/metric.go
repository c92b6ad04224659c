package quality

import (
	"strings"

	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/types"
)

// Word sets behind the quality metric. Scores are additive per distinct hit
// with a floor reflecting that any coherent reply carries some value.
var (
	empathyWords = []string{
		"understand", "feel", "hear", "valid", "difficult", "support",
		"listen", "care", "acknowledge", "brave", "courage",
	}
	professionalWords = []string{
		"explore", "therapy", "coping", "strategies", "resources",
		"professional", "process", "together", "work through",
	}
	therapeuticWords = []string{
		"safe", "space", "feelings", "emotions", "experience", "important",
		"matter", "alone", "support",
	}
)

// Assess computes the three quality signals for a reply. The emotion label
// appearing verbatim earns an empathy bonus; a question earns a therapeutic
// engagement bonus.
func Assess(text string, label emotion.Label) types.QualitySignals {
	lower := strings.ToLower(text)

	empathy := capped(0.3 + 0.15*float64(hits(lower, empathyWords)))
	professionalism := capped(0.4 + 0.20*float64(hits(lower, professionalWords)))
	therapeutic := capped(0.5 + 0.20*float64(hits(lower, therapeuticWords)))

	if label != "" && strings.Contains(lower, string(label)) {
		empathy = capped(empathy + 0.1)
	}
	if strings.Contains(text, "?") {
		therapeutic = capped(therapeutic + 0.1)
	}

	return types.QualitySignals{
		Empathy:          empathy,
		Professionalism:  professionalism,
		TherapeuticValue: therapeutic,
	}
}

func hits(lower string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}

func capped(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
