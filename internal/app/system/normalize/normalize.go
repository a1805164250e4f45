// Package normalize provides input normalization helpers applied at the
// boundary before values reach stores or policies. Normalization is done
// once, up front; store code assumes already-normalized values.
package normalize

import "strings"

// Email lowercases and trims an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims a display name, preserving case.
func Name(s string) string {
	return strings.TrimSpace(s)
}

// Role lowercases and trims a membership role value.
func Role(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
