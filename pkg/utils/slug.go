package utils

import (
	"github.com/gosimple/slug"
)

// NormalizeSlug creates a lookup key for a dictionary title using the
// gosimple/slug library. Titles that differ only in case, spacing or
// punctuation share a key.
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}

	return slug.Make(text)
}
