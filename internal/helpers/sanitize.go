package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	plainPolicyOnce sync.Once
	plainPolicy     *bluemonday.Policy
)

// PlainTextPolicy returns a shared bluemonday policy that strips every HTML
// element and attribute.
func PlainTextPolicy() *bluemonday.Policy {
	plainPolicyOnce.Do(func() {
		plainPolicy = bluemonday.StrictPolicy()
	})
	return plainPolicy
}

// PlainText removes markup from s, unescapes entities and collapses runs of
// whitespace. Feed titles and descriptions pass through it before they reach
// a prompt.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	stripped := html.UnescapeString(PlainTextPolicy().Sanitize(s))
	return strings.Join(strings.Fields(stripped), " ")
}
