package domains

import (
	"fmt"
	"strings"
)

var disallowedSubstrings = []string{"/", "\\", ".."}

// normalize lower-cases, trims whitespace, and strips a leading protocol
// and "www." prefix from a user-supplied domain string.
func normalize(input string) string {
	d := strings.ToLower(strings.TrimSpace(input))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimSuffix(d, "/")
	return d
}

// validate rejects malformed domain names: too short, containing path
// separators or parent-directory sequences, or missing a dot (unless it's
// the special-cased "localhost").
func validate(d string) error {
	if len(d) < 3 {
		return fmt.Errorf("domain %q is too short", d)
	}
	for _, bad := range disallowedSubstrings {
		if strings.Contains(d, bad) {
			return fmt.Errorf("domain %q contains disallowed sequence %q", d, bad)
		}
	}
	if d != "localhost" && !strings.Contains(d, ".") {
		return fmt.Errorf("domain %q must contain a dot", d)
	}
	return nil
}

// parentOf reports whether d is a direct or nested subdomain of parent,
// returning the leading label that would be folded into parent.subdomain.
// A nested subdomain folds as one multi-label entry: "a.b.example.com"
// under parent "example.com" folds as label "a.b".
func parentOf(d, parent string) (label string, ok bool) {
	suffix := "." + parent
	if !strings.HasSuffix(d, suffix) {
		return "", false
	}
	label = strings.TrimSuffix(d, suffix)
	if label == "" {
		return "", false
	}
	return label, true
}
