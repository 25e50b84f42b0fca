package catalog

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a name that
// also sounds like the query. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a name that
// does not sound like the query. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher scores product names against free text using Double Metaphone
// codes to find names that sound alike and Jaro-Winkler similarity to rank
// them. It is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a Matcher with the default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score rates how well query names the product called name, in [0, 1].
// Zero means no match.
func (m *Matcher) Score(query, name string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	n := strings.ToLower(strings.TrimSpace(name))
	if q == "" || n == "" {
		return 0
	}
	if strings.Contains(n, q) || strings.Contains(q, n) {
		return 1
	}
	qTokens, nTokens := strings.Fields(q), strings.Fields(n)
	jw := similarity(qTokens, nTokens, q, n)
	if codesOverlap(codesForTokens(qTokens), codesForTokens(nTokens)) {
		if jw >= m.phoneticThreshold {
			return jw
		}
		return 0
	}
	if jw >= m.fuzzyThreshold {
		// Names that only look alike rank below names that also sound alike.
		return jw * 0.9
	}
	return 0
}

// Best returns the product whose name best matches spoken.
func (m *Matcher) Best(spoken string, products []Product) (Product, bool) {
	var best Product
	var bestScore float64
	for _, p := range products {
		if s := m.Score(spoken, p.Name); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best, bestScore > 0
}

// Rank returns up to limit products matching query, best first. Name
// matches outrank matches on description, category or pet type.
func (m *Matcher) Rank(query string, products []Product, limit int) []Product {
	type scored struct {
		p     Product
		score float64
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var hits []scored
	for _, p := range products {
		s := m.Score(q, p.Name)
		if s == 0 {
			s = fieldScore(q, p)
		}
		if s > 0 {
			hits = append(hits, scored{p, s})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int { return cmp.Compare(b.score, a.score) })

	out := make([]Product, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.p)
	}
	return out
}

// fieldScore matches every query word against the other text fields.
func fieldScore(q string, p Product) float64 {
	hay := strings.ToLower(p.Description + " " + p.Category + " " + p.PetType)
	words := strings.Fields(q)
	if len(words) == 0 {
		return 0
	}
	found := 0
	for _, w := range words {
		if strings.Contains(hay, w) {
			found++
		}
	}
	return 0.5 * float64(found) / float64(len(words))
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
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

// similarity is the best of the Jaro-Winkler score of the full strings, of
// the strings without spaces, and of name coverage: the mean over name
// tokens of their closest query token.
func similarity(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}
	if len(nameTokens) == 0 {
		return score
	}
	var cover float64
	for _, nt := range nameTokens {
		var best float64
		for _, it := range inputTokens {
			best = max(best, matchr.JaroWinkler(it, nt, false))
		}
		cover += best
	}
	return max(score, cover/float64(len(nameTokens)))
}
