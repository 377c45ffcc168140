package merge

import (
	"fmt"
	"regexp"
	"strings"
)

// PreambleID names the text before the first heading.
const PreambleID = "_preamble"

var headingRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)

// section is one heading and the lines under it. Joining every section's
// lines with "\n" reproduces the original document byte for byte.
type section struct {
	id      string
	title   string
	level   int
	heading string // raw heading line, empty for the preamble
	body    []string
}

func (s section) lines() []string {
	if s.heading == "" {
		return s.body
	}
	return append([]string{s.heading}, s.body...)
}

func (s section) text() string {
	return strings.Join(s.lines(), "\n")
}

// statements are the non-blank lines of the body, with fenced code blocks
// kept whole.
func (s section) statements() []string {
	var out []string
	var fence []string
	inFence := false
	for _, line := range s.body {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			fence = append(fence, line)
			if inFence {
				out = append(out, strings.Join(fence, "\n"))
				fence = nil
			}
			inFence = !inFence
			continue
		}
		if inFence {
			fence = append(fence, line)
			continue
		}
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(fence) > 0 {
		out = append(out, strings.Join(fence, "\n"))
	}
	return out
}

// appendLines adds lines at the end of the section's text, before any
// trailing blank lines so spacing to the next heading is kept.
func (s *section) appendLines(add []string) {
	end := len(s.body)
	for end > 0 && strings.TrimSpace(s.body[end-1]) == "" {
		end--
	}
	tail := append([]string(nil), s.body[end:]...)
	s.body = append(append(s.body[:end], add...), tail...)
}

// parseSections splits markdown by ATX headings. Headings inside fenced code
// blocks are ignored. Repeated titles get "-2", "-3" suffixes.
func parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	var out []section
	cur := section{id: PreambleID}
	seen := map[string]int{}
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				if cur.heading != "" || len(cur.body) > 0 {
					out = append(out, cur)
				}
				title := strings.TrimSpace(m[2])
				id := slug(title)
				seen[id]++
				if n := seen[id]; n > 1 {
					id = fmt.Sprintf("%s-%d", id, n)
				}
				cur = section{id: id, title: title, level: len(m[1]), heading: line}
				continue
			}
		}
		cur.body = append(cur.body, line)
	}
	if cur.heading != "" || len(cur.body) > 0 {
		out = append(out, cur)
	}
	return out
}

func renderSections(sections []section) string {
	var lines []string
	for _, s := range sections {
		lines = append(lines, s.lines()...)
	}
	return strings.Join(lines, "\n")
}

// hasText reports whether the section carries anything but whitespace.
func (s section) hasText() bool {
	if s.heading != "" {
		return true
	}
	for _, l := range s.body {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slug(title string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "section"
	}
	return s
}

// joinBlocks concatenates two documents with one blank line between them.
func joinBlocks(existing, addition string) string {
	existing = strings.TrimRight(existing, "\n")
	if strings.TrimSpace(existing) == "" {
		return addition
	}
	return existing + "\n\n" + addition
}
