// Package prune bounds outbound message text to provider size limits.
package prune

import "unicode/utf8"

// Ellipsis marks text that was cut to fit a provider limit.
const Ellipsis = "..."

// Clamp bounds s to maxBytes. Oversized input is cut on a rune boundary and
// suffixed with Ellipsis; the result never exceeds maxBytes.
func Clamp(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= len(Ellipsis) {
		return runePrefix(s, maxBytes)
	}
	return runePrefix(s, maxBytes-len(Ellipsis)) + Ellipsis
}

// runePrefix returns the longest prefix of s within maxBytes that does not
// split a rune.
func runePrefix(s string, maxBytes int) string {
	if maxBytes >= len(s) {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
