package similarity

import "strings"

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct values of a and b.
// Two empty sets score 0, never NaN.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		setB[v] = struct{}{}
	}

	intersection := 0
	for v := range setB {
		if _, ok := setA[v]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
	"via": true, "from": true, "into": true, "about": true,
}

// WordTokens splits text into lower-cased significant words for heading matching.
func WordTokens(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", " ", "_", " ", "/", " ", ":", " ", ",", " ", ".", " ").Replace(s)

	var tokens []string
	for _, w := range strings.Fields(s) {
		if len(w) > 1 && !stopWords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}
