// Package tokenizer splits document fields and queries into terms. Text is
// lower-cased and cut on every rune that is neither a letter nor a digit.
// Terms are not stemmed: fuzzy matching at query time absorbs small
// inflection differences, and stemming would skew edit distances.
package tokenizer

import (
	"strings"
	"unicode"
)

// MaxTermLength bounds indexed terms; longer runs (base64 blobs, OCR noise)
// are truncated.
const MaxTermLength = 64

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into lower-cased Tokens in order of appearance.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	tokens := make([]Token, 0, len(words))
	for pos, word := range words {
		tokens = append(tokens, Token{Term: truncate(word), Position: pos})
	}
	return tokens
}

// Terms returns the distinct terms of text in first-seen order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok.Term]; ok {
			continue
		}
		seen[tok.Term] = struct{}{}
		terms = append(terms, tok.Term)
	}
	return terms
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func truncate(term string) string {
	if len(term) <= MaxTermLength {
		return term
	}
	runes := []rune(term)
	if len(runes) <= MaxTermLength {
		return term
	}
	return string(runes[:MaxTermLength])
}
