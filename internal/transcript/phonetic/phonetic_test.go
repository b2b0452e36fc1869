package phonetic_test

import (
	"testing"

	"github.com/MrWong99/luna/internal/transcript/phonetic"
)

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Luna", "Deepgram"})

	corrected, conf, matched := m.Match("deepgram")
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "deepgram")
	}
	if corrected != "Deepgram" {
		t.Errorf("Match(%q): corrected=%q, want %q", "deepgram", corrected, "Deepgram")
	}
	if conf < 0.99 {
		t.Errorf("Match(%q): confidence=%f, want ~1 for exact match", "deepgram", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Luna"})

	corrected, _, matched := m.Match("LUNA")
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "LUNA")
	}
	if corrected != "Luna" {
		t.Errorf("Match(%q): corrected=%q, want the vocabulary casing %q", "LUNA", corrected, "Luna")
	}
}

func TestMatcher_MultiWordTerm(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Tower of Whispers", "Luna"})

	corrected, conf, matched := m.Match("tower of wispers")
	if !matched {
		t.Fatalf("Match(%q): matched=false, want true", "tower of wispers")
	}
	if corrected != "Tower of Whispers" {
		t.Errorf("Match(%q): corrected=%q, want %q", "tower of wispers", corrected, "Tower of Whispers")
	}
	if conf < 0.85 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.85", "tower of wispers", conf)
	}
}

func TestMatcher_SplitWords(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"ElevenLabs"})

	corrected, _, matched := m.Match("eleven labs")
	if !matched || corrected != "ElevenLabs" {
		t.Errorf("Match(%q) = %q, %v; want %q, true", "eleven labs", corrected, matched, "ElevenLabs")
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Luna", "Deepgram"})

	corrected, conf, matched := m.Match("hello")
	if matched {
		t.Fatalf("Match(%q): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want original phrase", "hello", corrected)
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_LengthMismatchRejected(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Tower of Whispers"})

	// A single shared word must not pull in the whole term.
	if corrected, _, matched := m.Match("tower"); matched {
		t.Errorf("Match(%q) = %q, want no match", "tower", corrected)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Whispers"},
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	if _, _, matched := m.Match("wispers"); matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	empty := phonetic.New(nil)
	if _, _, matched := empty.Match("luna"); matched {
		t.Error("empty vocabulary matched")
	}
	if got := empty.MaxWords(); got != 0 {
		t.Errorf("MaxWords() = %d, want 0", got)
	}

	m := phonetic.New([]string{"Luna", "  ", "Tower of Whispers"})
	if corrected, conf, matched := m.Match(""); matched || corrected != "" || conf != 0 {
		t.Errorf("Match(\"\") = %q, %f, %v", corrected, conf, matched)
	}
	if got := m.MaxWords(); got != 3 {
		t.Errorf("MaxWords() = %d, want 3", got)
	}
}
