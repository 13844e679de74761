package usecase

import (
	"regexp"
	"strings"
)

// defaultSearchQuery is used when the model omits the marker line.
const defaultSearchQuery = "lawyer Jamaica"

var searchQueryPattern = regexp.MustCompile(`(?i)SEARCH_QUERY:\s*(.+)`)

// extractSearchQuery scans the generated advice for the first line carrying a
// SEARCH_QUERY marker. The whole marker line is stripped from the returned
// text. Absence of the marker is a normal case, not an error: the text comes
// back unmodified with the default query.
func extractSearchQuery(advice string) (text, query string) {
	lines := strings.Split(advice, "\n")
	for i, line := range lines {
		m := searchQueryPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		query = strings.TrimSpace(m[1])
		if query == "" {
			query = defaultSearchQuery
		}
		remaining := make([]string, 0, len(lines)-1)
		remaining = append(remaining, lines[:i]...)
		remaining = append(remaining, lines[i+1:]...)
		text = strings.TrimSpace(strings.Join(remaining, "\n"))
		return text, query
	}
	return advice, defaultSearchQuery
}
