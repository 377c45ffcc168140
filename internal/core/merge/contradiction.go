package merge

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agenthands/consolidator/internal/core/model"
	"github.com/agenthands/consolidator/internal/core/similarity"
)

const (
	KindNegation = "negation"
	KindNumeric  = "numeric"
)

// subjectMatch is how close two subject keys must be to count as the same claim.
const subjectMatch = 0.75

var (
	numberRe  = regexp.MustCompile(`[-+]?\d+(?:[.,]\d+)*`)
	wordRe    = regexp.MustCompile(`[a-z][a-z']*`)
	bulletRe  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	negations = map[string]bool{
		"not": true, "no": true, "never": true, "none": true, "without": true,
		"cannot": true, "can't": true, "isn't": true, "aren't": true, "wasn't": true,
		"weren't": true, "doesn't": true, "don't": true, "didn't": true, "won't": true,
		"hasn't": true, "haven't": true, "shouldn't": true, "nor": true,
	}
	fillers = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
		"to": true, "in": true, "on": true, "at": true, "for": true, "by": true,
		"with": true, "is": true, "are": true, "was": true, "were": true, "be": true,
		"been": true, "it": true, "its": true, "this": true, "that": true, "as": true,
		"do": true, "does": true, "did": true, "has": true, "have": true, "had": true,
		"can": true, "will": true, "would": true, "should": true, "about": true,
		"than": true, "now": true, "currently": true, "approximately": true, "around": true,
	}
)

// claim is the comparable shape of one statement.
type claim struct {
	normalized string
	subject    []string
	negated    bool
	numbers    []string
}

func parseClaim(statement string) claim {
	text := strings.ToLower(bulletRe.ReplaceAllString(statement, ""))
	c := claim{normalized: normalizeStatement(statement)}

	c.numbers = numberRe.FindAllString(text, -1)
	for i, n := range c.numbers {
		c.numbers[i] = strings.ReplaceAll(strings.TrimLeft(n, "+"), ",", "")
	}
	sort.Strings(c.numbers)
	text = numberRe.ReplaceAllString(text, " ")

	neg := 0
	seen := map[string]bool{}
	for _, w := range wordRe.FindAllString(text, -1) {
		if negations[w] {
			neg++
			continue
		}
		if fillers[w] || len(w) < 2 {
			continue
		}
		w = stem(w)
		if !seen[w] {
			seen[w] = true
			c.subject = append(c.subject, w)
		}
	}
	c.negated = neg%2 == 1
	return c
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

// normalizeStatement is the identity used to spot a statement that is already present.
func normalizeStatement(s string) string {
	s = bulletRe.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRight(s, ".;:!")
}

// contradicts reports whether next makes a claim about the same subject as
// existing that flips its polarity or changes its figures.
func contradicts(existing, next claim) (string, bool) {
	if existing.normalized == next.normalized {
		return "", false
	}
	if len(existing.subject) < 2 || len(next.subject) < 2 {
		return "", false
	}
	if similarity.Jaccard(existing.subject, next.subject) < subjectMatch {
		return "", false
	}
	if existing.negated != next.negated {
		return KindNegation, true
	}
	if len(existing.numbers) > 0 && len(next.numbers) > 0 && !equalStrings(existing.numbers, next.numbers) {
		return KindNumeric, true
	}
	return "", false
}

// findContradiction checks statement against every existing statement of a section.
func findContradiction(sectionID string, existing []string, statement string) (model.Contradiction, bool) {
	next := parseClaim(statement)
	for _, e := range existing {
		if kind, ok := contradicts(parseClaim(e), next); ok {
			return model.Contradiction{
				SectionID:         sectionID,
				ExistingStatement: e,
				NewStatement:      statement,
				Kind:              kind,
			}, true
		}
	}
	return model.Contradiction{}, false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
