// Package transcript corrects recognizer output against a known vocabulary.
//
// Speech-to-text services regularly mishear proper nouns such as product,
// person or place names. A [Corrector] scans a finalized utterance with a
// sliding window of up to [Matcher.MaxWords] words and replaces every window
// that a [Matcher] resolves to a vocabulary term, preferring the longest
// window at each position. Trailing punctuation of the replaced words is
// kept.
package transcript

import (
	"strings"
	"unicode"
)

// Correction records one substitution.
type Correction struct {
	// Original is the text as produced by the recognizer.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score in [0, 1].
	Confidence float64
}

// Matcher resolves a phrase to a vocabulary term. The phonetic subpackage
// provides the default implementation.
//
// Implementations must be safe for concurrent use.
type Matcher interface {
	// Match returns the best term for phrase. When matched is false,
	// corrected equals phrase.
	Match(phrase string) (corrected string, confidence float64, matched bool)

	// MaxWords is the word count of the longest term.
	MaxWords() int
}

// Corrector applies a Matcher to whole utterances. Safe for concurrent use.
type Corrector struct {
	matcher Matcher
}

// NewCorrector returns a Corrector using m.
func NewCorrector(m Matcher) *Corrector {
	return &Corrector{matcher: m}
}

type token struct {
	core  string
	trail string
}

// Correct returns text with every recognized vocabulary term normalized, and
// the list of substitutions in order. Text without matches is returned
// unchanged; whitespace is collapsed only when something was replaced.
func (c *Corrector) Correct(text string) (string, []Correction) {
	maxWords := c.matcher.MaxWords()
	fields := strings.Fields(text)
	if maxWords == 0 || len(fields) == 0 {
		return text, nil
	}

	tokens := make([]token, len(fields))
	for i, f := range fields {
		core := strings.TrimRightFunc(f, unicode.IsPunct)
		tokens[i] = token{core: core, trail: f[len(core):]}
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := c.matchAt(tokens[i:], min(maxWords, len(tokens)-i), &out, &corrections)
		if n == 0 {
			out = append(out, fields[i])
			n = 1
		}
		i += n
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows from maxN words down to one at the start of tokens
// and returns how many tokens the accepted window consumed, or 0.
func (c *Corrector) matchAt(tokens []token, maxN int, out *[]string, corrections *[]Correction) int {
	for n := maxN; n >= 1; n-- {
		cores := make([]string, n)
		for j := range n {
			cores[j] = tokens[j].core
		}
		window := strings.TrimSpace(strings.Join(cores, " "))
		if window == "" {
			continue
		}
		term, conf, ok := c.matcher.Match(window)
		if !ok {
			continue
		}
		*out = append(*out, term+tokens[n-1].trail)
		if term != window {
			*corrections = append(*corrections, Correction{Original: window, Corrected: term, Confidence: conf})
		}
		return n
	}
	return 0
}
