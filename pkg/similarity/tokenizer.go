// Package similarity provides text similarity and clustering utilities.
package similarity

import (
	"regexp"
	"strings"
)

// minTokenLength is the longest token (in bytes) that is still discarded.
const minTokenLength = 2

// nonWordRegex matches everything outside [A-Za-z0-9_] and ASCII whitespace.
var nonWordRegex = regexp.MustCompile(`[^\w\s]`)

// stopWords holds the function words ignored when comparing questions.
// Built once; never mutated.
var stopWords = map[string]struct{}{
	"how": {}, "what": {}, "when": {}, "where": {}, "why": {}, "who": {}, "which": {},
	"whose": {}, "whom": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "should": {}, "could": {}, "can": {}, "may": {},
	"might": {}, "must": {}, "to": {}, "of": {}, "for": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "at": {}, "on": {}, "in": {}, "the": {}, "a": {}, "an": {},
	"and": {}, "or": {}, "but": {}, "not": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"me": {}, "him": {}, "her": {}, "us": {}, "them": {}, "my": {}, "your": {}, "his": {},
	"its": {}, "our": {}, "their": {},
}

// IsStopWord reports whether word (already lower-cased) is ignored by Tokenize.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Tokenize lower-cases text, turns every non-word rune into a space, splits on
// whitespace and drops short tokens and stop words. Token order is preserved.
func Tokenize(text string) []string {
	normalized := nonWordRegex.ReplaceAllString(strings.ToLower(text), " ")

	fields := strings.Fields(normalized)
	tokens := make([]string, 0, len(fields))
	for _, word := range fields {
		if len(word) <= minTokenLength || IsStopWord(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}
