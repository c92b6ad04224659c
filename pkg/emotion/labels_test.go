package emotion

import "testing"

func TestLabelsCover28Categories(t *testing.T) {
	if got := len(Labels); got != 28 {
		t.Fatalf("len(Labels) = %d, want 28", got)
	}
	seen := map[Label]bool{}
	for _, l := range Labels {
		if seen[l] {
			t.Errorf("duplicate label %q", l)
		}
		seen[l] = true
		if !l.IsValid() {
			t.Errorf("IsValid(%q) = false", l)
		}
	}
}

func TestLabelIndex(t *testing.T) {
	if got := Admiration.Index(); got != 0 {
		t.Errorf("Admiration.Index() = %d, want 0", got)
	}
	if got := Neutral.Index(); got != 27 {
		t.Errorf("Neutral.Index() = %d, want 27", got)
	}
	if got := Label("happiness").Index(); got != -1 {
		t.Errorf(`Label("happiness").Index() = %d, want -1`, got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Label
	}{
		{"joy", Joy},
		{" JOY \n", Joy},
		{"realization", Neutral},
		{"sadnes", Neutral}, // near-miss spellings stay unknown
		{"nervousnes", Neutral},
		{"grate", Neutral},
		{"", Neutral},
		{"completely-unknown", Neutral},
	}
	for _, tt := range tests {
		if got := Normalize(tt.raw); got != tt.want {
			t.Errorf("Normalize(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestFallbackKey(t *testing.T) {
	tests := []struct {
		label Label
		want  string
	}{
		{Nervousness, "nervousness"},
		{Fear, "fear"},
		{Grief, "sadness"},
		{Sadness, "sadness"},
		{Annoyance, "anger"},
		{Gratitude, "joy"},
		{Caring, "admiration"},
		{Neutral, "general"},
		{Confusion, "general"},
		{Surprise, "general"},
	}
	for _, tt := range tests {
		if got := FallbackKey(tt.label); got != tt.want {
			t.Errorf("FallbackKey(%s) = %q, want %q", tt.label, got, tt.want)
		}
	}
}
