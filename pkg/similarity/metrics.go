// Package similarity provides text similarity and clustering utilities.
package similarity

import (
	"math"
	"strings"
)

// Weights of the combined question score.
const (
	tokenWeight  = 0.5
	bigramWeight = 0.3
	lengthWeight = 0.2
)

// JaccardSimilarity returns |A ∩ B| / |A ∪ B| over the distinct tokens of a and b.
// Two empty inputs score 0.
func JaccardSimilarity(a, b []string) float64 {
	set1 := toSet(a)
	set2 := toSet(b)
	if len(set1) == 0 && len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if _, ok := set2[term]; ok {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// CosineSimilarity compares the term-frequency vectors of a and b.
// Returns 0 when either side has no tokens.
func CosineSimilarity(a, b []string) float64 {
	freq1 := termFrequencies(a)
	freq2 := termFrequencies(b)

	var dot, sq1, sq2 int
	for term, n := range freq1 {
		dot += n * freq2[term]
		sq1 += n * n
	}
	for _, n := range freq2 {
		sq2 += n * n
	}
	if sq1 == 0 || sq2 == 0 {
		return 0.0
	}
	// sqrt(sq1*sq2) keeps identical inputs at exactly 1.
	return float64(dot) / math.Sqrt(float64(sq1)*float64(sq2))
}

// GenerateNGrams returns every run of n consecutive tokens joined by a single space,
// sliding one token at a time.
func GenerateNGrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		ngrams = append(ngrams, strings.Join(tokens[i:i+n], " "))
	}
	return ngrams
}

// LengthSimilarity returns 1 - |a-b| / max(a, b), or 1 when both lengths are zero.
func LengthSimilarity(a, b int) float64 {
	longest := a
	if b > longest {
		longest = b
	}
	if longest == 0 {
		return 1.0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1.0 - float64(diff)/float64(longest)
}

// SemanticSimilarity scores two raw question texts in [0, 1] by combining token
// cosine similarity, bigram overlap and a token-count penalty.
func SemanticSimilarity(text1, text2 string) float64 {
	return newProfile(text1).similarity(newProfile(text2))
}

// profile caches the tokens and bigrams of one question so that a clustering pass
// tokenizes every question once.
type profile struct {
	tokens  []string
	bigrams []string
}

func newProfile(text string) profile {
	tokens := Tokenize(text)
	return profile{
		tokens:  tokens,
		bigrams: GenerateNGrams(tokens, 2),
	}
}

func (p profile) similarity(other profile) float64 {
	tokenSim := CosineSimilarity(p.tokens, other.tokens)
	bigramSim := JaccardSimilarity(p.bigrams, other.bigrams)
	lengthSim := LengthSimilarity(len(p.tokens), len(other.tokens))
	return tokenSim*tokenWeight + bigramSim*bigramWeight + lengthSim*lengthWeight
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}
