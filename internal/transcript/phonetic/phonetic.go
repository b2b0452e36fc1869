// Package phonetic matches misheard phrases against a fixed vocabulary using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of the phrase and, once at construction, for each vocabulary
//     term. A term sharing any code with the phrase is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates the term with the
//     highest similarity wins, provided it reaches the phonetic threshold.
//     When no phonetic candidate qualifies, pure Jaro-Winkler similarity is
//     tested against all terms with a higher fuzzy threshold.
//
// Similarity is the better of the full-string and the space-stripped
// comparison, so "eleven labs" matches "ElevenLabs". Terms much longer or
// shorter than the phrase are never candidates.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minLengthRatio is the smallest accepted ratio between the shorter and
	// the longer of phrase and term, compared without spaces.
	minLengthRatio = 0.75
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

type term struct {
	text     string
	lower    string
	concat   string
	codes    map[string]struct{}
	runeSize int
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// New returns a Matcher over vocabulary. Blank terms are ignored.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		concat := strings.Join(tokens, "")
		m.terms = append(m.terms, term{
			text:     strings.TrimSpace(v),
			lower:    strings.Join(tokens, " "),
			concat:   concat,
			codes:    codesForTokens(tokens),
			runeSize: utf8.RuneCountInString(concat),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// MaxWords returns the word count of the longest vocabulary term, or 0 for an
// empty vocabulary.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Match returns the vocabulary term most similar to phrase. When matched is
// false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	tokens := strings.Fields(strings.ToLower(phrase))
	if len(m.terms) == 0 || len(tokens) == 0 {
		return phrase, 0, false
	}
	lower := strings.Join(tokens, " ")
	concat := strings.Join(tokens, "")
	size := utf8.RuneCountInString(concat)
	codes := codesForTokens(tokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.terms {
		t := &m.terms[i]
		if !comparableLength(size, t.runeSize) {
			continue
		}
		score := similarity(lower, concat, t)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}

	if best == nil {
		return phrase, 0, false
	}
	return best.text, bestScore, true
}

func comparableLength(a, b int) bool {
	if a == 0 || b == 0 {
		return false
	}
	return float64(min(a, b))/float64(max(a, b)) >= minLengthRatio
}

// similarity is the better Jaro-Winkler score of the full and the
// space-stripped comparison.
func similarity(lower, concat string, t *term) float64 {
	score := matchr.JaroWinkler(lower, t.lower, false)
	if concat != lower || t.concat != t.lower {
		if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
			score = s
		}
	}
	return score
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
