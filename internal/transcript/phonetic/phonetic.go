// Package phonetic matches misrecognized dictation words against a custom
// vocabulary using Double Metaphone codes ranked by Jaro-Winkler similarity.
//
// Speech recognizers are weakest on exactly the words a user cares most
// about: product names, jargon and proper nouns the acoustic model rarely
// saw. Their mistakes are phonetically close to the intended term even when
// the spelling is far off ("gruffana" for "Grafana"), so spelling-based
// fuzzy matching alone misses them. The matcher therefore works in two
// stages:
//
//  1. Candidate filtering: a vocabulary term whose Double Metaphone code
//     overlaps any code of the input phrase is a phonetic candidate.
//  2. Ranking: among phonetic candidates the highest Jaro-Winkler score wins,
//     provided it clears the phonetic threshold. When no candidate exists at
//     all, a pure Jaro-Winkler pass runs with a stricter fuzzy threshold to
//     still catch plain misspellings.
//
// Multi-word terms ("visual studio code") are supported; similarity is taken
// as the best of full-string, space-stripped and pairwise per-word scores,
// which covers recognizers splitting one term into several words and vice
// versa.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score a phonetic
// candidate must reach to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required on the
// fallback pass used when no term is phonetically close. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher ranks vocabulary terms against a spoken phrase. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary term most phonetically similar to phrase.
//
// phrase may be a single word or a space-separated n-gram. When matched is
// false, corrected equals phrase unchanged and confidence is 0; when matched
// is true, corrected carries the term's own casing so "postgresql" can be
// corrected to "PostgreSQL".
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	if len(terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := metaphoneCodes(phraseTokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)

	for _, term := range terms {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		score := similarity(phraseTokens, termTokens, phraseLower, termLower)
		if sharesCode(phraseCodes, metaphoneCodes(termTokens)) {
			// Phonetic candidates always outrank fuzzy-only ones.
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = term, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = term, score
		}
	}

	if bestTerm == "" {
		return phrase, 0, false
	}
	return bestTerm, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes over tokens.
// Tokens too short to produce a code contribute nothing.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func sharesCode(a, b map[string]struct{}) bool {
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

// similarity is the best Jaro-Winkler score across three comparisons: the
// full strings, the space-stripped strings (for terms the recognizer split
// into several words) and the best per-token pair.
func similarity(phraseTokens, termTokens []string, phraseFull, termFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, termFull, false)

	if len(phraseTokens) > 1 || len(termTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(phraseTokens, ""), strings.Join(termTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, pt := range phraseTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(pt, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
