// Package quality holds the response-quality gate, the quality metric, and
// the scripted fallback library. The gate decides whether a generated reply
// is worth sending; the metric annotates every reply, generated or scripted.
package quality

import "strings"

// fillerPrefixes are the openers of generic chatbot filler. A therapeutic
// reply that starts this way is nearly always a low-value generation.
var fillerPrefixes = []string{"i ", "that's ", "very ", "totally "}

// agreementBlacklist catches generic-agreement phrases anywhere in the reply.
var agreementBlacklist = []string{
	"great way", "good point", "totally agree", "exactly", "absolutely",
	"same here", "me too", "i know right",
}

// empathicKeywords: at least one must appear for the reply to pass.
var empathicKeywords = []string{
	"feel", "understand", "hear", "sorry", "listen", "support", "help",
	"valid", "difficult", "care", "acknowledge", "brave", "courage",
}

const minResponseLen = 20

// Verdict explains a gate decision.
type Verdict struct {
	Pass   bool
	Reason string
}

// Gate evaluates a candidate reply. It is a pure function of the text, so
// running it twice always yields the same verdict.
func Gate(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minResponseLen {
		return Verdict{Reason: "too short"}
	}

	lower := strings.ToLower(trimmed)
	for _, p := range fillerPrefixes {
		if strings.HasPrefix(lower, p) {
			return Verdict{Reason: "filler opener"}
		}
	}
	for _, phrase := range agreementBlacklist {
		if strings.Contains(lower, phrase) {
			return Verdict{Reason: "generic agreement"}
		}
	}
	for _, kw := range empathicKeywords {
		if strings.Contains(lower, kw) {
			return Verdict{Pass: true}
		}
	}
	return Verdict{Reason: "no empathic keyword"}
}
