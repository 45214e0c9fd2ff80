package utils

import "github.com/microcosm-cc/bluemonday"

// Titles are plain text; the strict policy strips all markup.
var sanitizer = bluemonday.StrictPolicy()

// Sanitize cleans client-supplied text to prevent stored XSS in titles.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}
