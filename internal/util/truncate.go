package util

import "unicode/utf8"

// TruncateBytes trims a string to at most maxBytes without splitting a UTF-8 sequence.
func TruncateBytes(input string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(input) <= maxBytes {
		return input, false
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(input[cut]) {
		cut--
	}
	return input[:cut], true
}
