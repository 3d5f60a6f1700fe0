package ingest

import "regexp"

// Sensitive number scrubbing runs before anything touches the database. The
// patterns only need to catch obvious card and government identifier shapes;
// they must never panic or depend on external services.
var (
	cardPattern  = regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`)
	govIDPattern = regexp.MustCompile(`\b\d{3}[ -]?\d{3}[ -]?\d{3}\b`)
)

const (
	cardPlaceholder  = "[redacted-card]"
	govIDPlaceholder = "[redacted-id]"
)

// Scrub replaces card-like and government-id-like number sequences. Card
// shapes are matched first so a long digit run is not half-eaten by the
// shorter id pattern.
func Scrub(s string) string {
	s = cardPattern.ReplaceAllString(s, cardPlaceholder)
	return govIDPattern.ReplaceAllString(s, govIDPlaceholder)
}
