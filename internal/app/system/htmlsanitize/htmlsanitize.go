// Package htmlsanitize cleans user-supplied rich text before it is stored.
//
// Text content blocks may carry a constrained subset of HTML (formatting,
// lists, links, tables, code). Everything else - scripts, event handlers,
// iframes, forms - is stripped at the API boundary so store code never sees
// unsafe markup.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// policy is built once; bluemonday policies are safe for concurrent use.
var policy = buildPolicy()

func buildPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	// Tables, with the handful of layout attributes clients actually send.
	p.AllowElements("table", "thead", "tbody", "tfoot", "tr", "th", "td")
	p.AllowAttrs("colspan", "rowspan").OnElements("th", "td")
	p.AllowAttrs("class").OnElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("style").OnElements("table", "tr", "th", "td")

	p.AllowElements("u", "s", "sub", "sup", "mark", "hr")
	p.AllowAttrs("class").OnElements("p", "span", "code", "pre")

	return p
}

// Sanitize returns html with disallowed elements and attributes removed.
// Plain text passes through unchanged.
func Sanitize(html string) string {
	if html == "" {
		return ""
	}
	return policy.Sanitize(html)
}

// IsPlainText reports whether s contains no HTML tags at all.
func IsPlainText(s string) bool {
	return !(strings.Contains(s, "<") && strings.Contains(s, ">"))
}
