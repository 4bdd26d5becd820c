package parser

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRuns = regexp.MustCompile(`[ \t]{2,}`)

	// structuralLine matches lines made only of repeated structural
	// punctuation (separators, underlines, dot leaders).
	structuralLine = regexp.MustCompile(`^[-=_*.~#]{3,}$`)

	blankRuns       = regexp.MustCompile(`\n{3,}`)
	blankRunsGentle = regexp.MustCompile(`\n{4,}`)
)

// CleanText normalizes extracted plain text. Skipped entirely for markdown
// extractions. When the text carries [TABLE] markers the gentler blank-line
// rule applies so table fencing survives.
func CleanText(text string, hasTables bool) string {
	text = stripControl(text)

	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = spaceRuns.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if structuralLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	text = strings.Join(out, "\n")

	if hasTables || strings.Contains(text, "[TABLE]") {
		text = blankRunsGentle.ReplaceAllString(text, "\n\n\n")
	} else {
		text = blankRuns.ReplaceAllString(text, "\n\n")
	}

	return strings.TrimSpace(text)
}

// stripControl removes control characters except newline and tab.
func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
