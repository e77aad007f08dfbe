// Package phonetic scores how closely a transcribed utterance matches a set of
// known phrases, using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity.
//
// Scoring a phrase proceeds in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for each word in
//     the utterance and in the phrase. A phrase whose codes overlap the
//     utterance's codes is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: candidates are scored by the best of full-string,
//     space-stripped and pairwise-word similarity. Phonetic candidates must
//     reach the phonetic threshold (default 0.70); phrases without phonetic
//     overlap must reach the stricter fuzzy threshold (default 0.85).
//
// [Matcher.Rank] orders the phrases that pass. [Matcher.Spot] looks for a
// phrase anywhere inside a longer utterance by sliding a word window over it,
// which is how wake phrases are found in free-running transcripts.
package phonetic

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when a
// phrase shares no phonetic code with the utterance. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher scores utterances against phrases. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
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

// Match is one accepted phrase.
type Match struct {
	// Index of the phrase in the slice passed to Rank.
	Index int

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Phonetic reports whether the phrase shared a Double Metaphone code with
	// the utterance.
	Phonetic bool
}

// Score compares utterance with phrase. ok is false when the score does not
// reach the applicable threshold.
func (m *Matcher) Score(utterance, phrase string) (match Match, ok bool) {
	uTokens := Tokens(utterance)
	pTokens := Tokens(phrase)
	if len(uTokens) == 0 || len(pTokens) == 0 {
		return Match{}, false
	}
	return m.score(uTokens, pTokens)
}

func (m *Matcher) score(uTokens, pTokens []string) (Match, bool) {
	phonetic := codesOverlap(codesForTokens(uTokens), codesForTokens(pTokens))
	jw := bestJWScore(uTokens, pTokens)
	threshold := m.fuzzyThreshold
	if phonetic {
		threshold = m.phoneticThreshold
	}
	if jw < threshold {
		return Match{}, false
	}
	return Match{Score: jw, Phonetic: phonetic}, true
}

// Rank scores utterance against every phrase and returns the accepted
// matches, best first. Phonetic matches outrank fuzzy-only matches.
func (m *Matcher) Rank(utterance string, phrases []string) []Match {
	uTokens := Tokens(utterance)
	if len(uTokens) == 0 {
		return nil
	}
	var out []Match
	for i, p := range phrases {
		pTokens := Tokens(p)
		if len(pTokens) == 0 {
			continue
		}
		if mt, ok := m.score(uTokens, pTokens); ok {
			mt.Index = i
			out = append(out, mt)
		}
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if a.Phonetic != b.Phonetic {
			if a.Phonetic {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// Spot reports whether phrase occurs anywhere in utterance. It slides a
// window of the phrase's word count across the utterance and returns the
// best accepted window score.
func (m *Matcher) Spot(utterance, phrase string) (score float64, ok bool) {
	uTokens := Tokens(utterance)
	pTokens := Tokens(phrase)
	if len(uTokens) == 0 || len(pTokens) == 0 {
		return 0, false
	}
	width := min(len(pTokens), len(uTokens))
	for start := 0; start+width <= len(uTokens); start++ {
		if mt, hit := m.score(uTokens[start:start+width], pTokens); hit && mt.Score > score {
			score, ok = mt.Score, true
		}
	}
	return score, ok
}

// Codes returns the distinct Double Metaphone codes of text's words. An empty
// result means the text cannot be matched phonetically.
func Codes(text string) []string {
	set := codesForTokens(Tokens(text))
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Tokens lower-cases text, strips punctuation and splits it into words.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
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

// codesOverlap returns true if the two code sets share at least one code.
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

// bestJWScore is the highest Jaro-Winkler similarity among the full strings,
// the space-stripped strings, and every pair of single words. Pairwise word
// scores only count for single-word phrases, otherwise "what time" would
// fully match any utterance containing "time".
func bestJWScore(uTokens, pTokens []string) float64 {
	score := matchr.JaroWinkler(strings.Join(uTokens, " "), strings.Join(pTokens, " "), false)

	if len(uTokens) > 1 || len(pTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(uTokens, ""), strings.Join(pTokens, ""), false); s > score {
			score = s
		}
	}

	if len(pTokens) == 1 {
		for _, ut := range uTokens {
			if s := matchr.JaroWinkler(ut, pTokens[0], false); s > score {
				score = s
			}
		}
	}
	return score
}
