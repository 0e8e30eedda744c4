package transcript

import (
	"strings"
	"unicode"
)

// Matcher resolves a spoken phrase to a custom-vocabulary term by
// pronunciation similarity. It is the pluggable core of [VocabCorrector];
// see the phonetic subpackage for the stock implementation.
//
// When matched is false, corrected must equal phrase unchanged and
// confidence must be 0. Implementations must be safe for concurrent use.
type Matcher interface {
	Match(phrase string, terms []string) (corrected string, confidence float64, matched bool)
}

// Correction records a single vocabulary substitution applied to a committed
// text increment.
type Correction struct {
	// Original is the phrase as produced by the recognizer, without its
	// surrounding punctuation.
	Original string

	// Corrected is the vocabulary term that replaced it, in the term's own
	// casing.
	Corrected string

	// Confidence is the matcher's similarity score in [0.0, 1.0].
	Confidence float64
}

// VocabCorrector rewrites committed text increments against a user-supplied
// vocabulary of proper nouns and jargon the recognizer tends to mangle.
//
// It runs on each increment exactly once, before the text is surfaced or
// accumulated, so the append-only property of committed text is preserved:
// corrected text is never revisited. The corrector is read-only after
// construction and safe for concurrent use.
type VocabCorrector struct {
	matcher      Matcher
	terms        []string
	maxTermWords int
}

// NewVocabCorrector creates a corrector over the given vocabulary terms.
// Blank terms are ignored. A corrector with no terms (or a nil receiver)
// passes text through unchanged.
func NewVocabCorrector(matcher Matcher, terms []string) *VocabCorrector {
	c := &VocabCorrector{matcher: matcher}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		c.terms = append(c.terms, t)
		if n := len(strings.Fields(t)); n > c.maxTermWords {
			c.maxTermWords = n
		}
	}
	return c
}

// Apply corrects text against the vocabulary and returns the corrected text
// together with the substitutions made.
//
// The text is scanned left to right. At each position n-gram windows are
// tried longest-first (up to the word count of the longest term) so that
// multi-word terms win over partial single-word matches. Edge punctuation is
// detached before matching and reattached afterwards, and a leading space on
// text — the spacing prefix committed increments carry — survives untouched.
func (c *VocabCorrector) Apply(text string) (string, []Correction) {
	if c == nil || c.matcher == nil || len(c.terms) == 0 {
		return text, nil
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, nil
	}

	var out []string
	var corrections []Correction

	i := 0
	for i < len(words) {
		maxN := c.maxTermWords
		if i+maxN > len(words) {
			maxN = len(words) - i
		}

		consumed := 0
		for n := maxN; n >= 1; n-- {
			window := strings.Join(words[i:i+n], " ")
			lead, core, trail := splitEdgePunct(window)
			if core == "" {
				break
			}
			term, conf, ok := c.matcher.Match(core, c.terms)
			if !ok {
				continue
			}
			if term != core {
				corrections = append(corrections, Correction{
					Original:   core,
					Corrected:  term,
					Confidence: conf,
				})
			}
			out = append(out, lead+term+trail)
			consumed = n
			break
		}

		if consumed == 0 {
			out = append(out, words[i])
			i++
		} else {
			i += consumed
		}
	}

	result := strings.Join(out, " ")
	if strings.HasPrefix(text, " ") {
		result = " " + result
	}
	return result, corrections
}

// splitEdgePunct detaches punctuation and symbols from both ends of s.
// Punctuation inside s (apostrophes, hyphens) stays put.
func splitEdgePunct(s string) (lead, core, trail string) {
	isEdge := func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}
	rest := strings.TrimLeftFunc(s, isEdge)
	lead = s[:len(s)-len(rest)]
	core = strings.TrimRightFunc(rest, isEdge)
	trail = rest[len(core):]
	return lead, core, trail
}
