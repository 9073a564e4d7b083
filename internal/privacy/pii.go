package privacy

import (
	"regexp"
)

// Replacement markers left in scrubbed text.
const (
	MarkURL      = "[url]"
	MarkEmail    = "[email]"
	MarkIP       = "[ip]"
	MarkPath     = "[path]"
	MarkRedacted = "[redacted]"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Rules run in order: URLs first since file URLs embed paths, credentials
// before IPs so that "host=10.0.0.1" keeps its key.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b(?:https?|wss?|ftp|file)://[^\s"'<>]*`), MarkURL},
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), MarkEmail},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`), "Bearer " + MarkRedacted},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|auth|authorization|bearer|session)(\s*[:=]\s*)[^\s,;&"']+`), "${1}${2}" + MarkRedacted},
	{regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1?\d?\d)(?:\.(?:25[0-5]|2[0-4]\d|1?\d?\d)){3}\b`), MarkIP},
	{regexp.MustCompile(`(?i)\b(?:[0-9a-f]{1,4}:){7}[0-9a-f]{1,4}\b`), MarkIP},
	{regexp.MustCompile(`\b[A-Za-z]:\\[^\s"'<>|]*`), MarkPath},
	{regexp.MustCompile(`(^|[^\w.~-])~/[^\s"'<>]*`), "${1}" + MarkPath},
	{regexp.MustCompile(`(^|[^\w.~-])(?:/[\w.@+-]+){2,}/?`), "${1}" + MarkPath},
}

// Scrub replaces emails, IP addresses, URLs, credential assignments and
// absolute filesystem paths in s.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}
