// Package parser turns a free-text query into a QueryPlan: its distinct
// terms, the edit distance each term tolerates, and how many terms a field
// must match for the document to count as a hit.
package parser

import (
	"math"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/Paperless-Document-Pipeline/internal/indexer/tokenizer"
)

// DefaultMinimumShouldMatch is the fraction of query terms a field must match.
const DefaultMinimumShouldMatch = 0.75

// QueryTerm is one analysed query term.
type QueryTerm struct {
	Text      string
	Fuzziness int
}

type QueryPlan struct {
	Terms         []QueryTerm
	RequiredMatch int
	RawQuery      string
}

// Parse analyses query. minimumShouldMatch is a fraction in (0, 1]; other
// values fall back to DefaultMinimumShouldMatch.
func Parse(query string, minimumShouldMatch float64) *QueryPlan {
	if minimumShouldMatch <= 0 || minimumShouldMatch > 1 {
		minimumShouldMatch = DefaultMinimumShouldMatch
	}
	plan := &QueryPlan{
		Terms:    make([]QueryTerm, 0),
		RawQuery: query,
	}
	for _, term := range tokenizer.Terms(query) {
		plan.Terms = append(plan.Terms, QueryTerm{Text: term, Fuzziness: AutoFuzziness(term)})
	}
	plan.RequiredMatch = RequiredMatches(len(plan.Terms), minimumShouldMatch)
	return plan
}

// AutoFuzziness is the edit distance allowed for term: none up to two
// characters, one up to five, two beyond.
func AutoFuzziness(term string) int {
	switch n := utf8.RuneCountInString(term); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

// RequiredMatches rounds fraction*n down, but never below one when there is
// at least one term.
func RequiredMatches(n int, fraction float64) int {
	if n == 0 {
		return 0
	}
	required := int(math.Floor(float64(n) * fraction))
	if required < 1 {
		required = 1
	}
	if required > n {
		required = n
	}
	return required
}
