package queryengine

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery rejects any statement that is not a plain read.
type ErrUnsafeQuery struct {
	Reason string
}

func (e *ErrUnsafeQuery) Error() string {
	return fmt.Sprintf("unsafe query rejected: %s", e.Reason)
}

var (
	fenceRe = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)\\s*```")
	limitRe = regexp.MustCompile(`(?i)\blimit\s+\d+`)
	writeRe = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|grant|revoke|attach|copy|pragma)\b`)
)

const defaultRowLimit = 1000

// SanitizeQuery normalizes a generated SQL statement and enforces the
// read-only contract. Markdown fences are stripped, backtick identifier
// quoting is rewritten to standard double quotes, and a row limit is
// appended when the statement carries none. Anything that is not a
// single SELECT or WITH statement is rejected.
func SanitizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if m := fenceRe.FindStringSubmatch(q); m != nil {
		q = m[1]
	}
	q = strings.ReplaceAll(q, "`", `"`)
	q = strings.TrimSuffix(strings.TrimSpace(q), ";")

	if q == "" {
		return "", &ErrUnsafeQuery{Reason: "empty statement"}
	}

	lower := strings.ToLower(q)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", &ErrUnsafeQuery{Reason: "only SELECT statements are allowed"}
	}
	if strings.Contains(q, ";") {
		return "", &ErrUnsafeQuery{Reason: "multiple statements are not allowed"}
	}
	if m := writeRe.FindString(lower); m != "" {
		return "", &ErrUnsafeQuery{Reason: fmt.Sprintf("write keyword %q is not allowed", m)}
	}

	if !limitRe.MatchString(q) {
		q = fmt.Sprintf("%s LIMIT %d", q, defaultRowLimit)
	}
	return q, nil
}
