package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrUtteranceEmpty is returned when the assistant question is empty or whitespace-only after trim.
var ErrUtteranceEmpty = errors.New("question is required")

// ErrUtteranceTooLong is returned when the question exceeds the maximum length.
var ErrUtteranceTooLong = errors.New("question too long")

// ErrUtteranceInvalidChars is returned when the question contains control characters.
var ErrUtteranceInvalidChars = errors.New("question contains invalid characters")

// ValidateUtterance trims the input, enforces maxLen (in runes) and rejects
// control characters. Returns the trimmed string or an error suitable for
// 400 INVALID_PARAMETER responses.
func ValidateUtterance(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrUtteranceEmpty
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrUtteranceTooLong
	}
	for _, c := range r {
		if !isAllowedUtteranceRune(c) {
			return "", ErrUtteranceInvalidChars
		}
	}
	return s, nil
}

// isAllowedUtteranceRune returns true for printable runes and plain spaces.
func isAllowedUtteranceRune(r rune) bool {
	if r == ' ' {
		return true
	}
	return unicode.IsPrint(r) && !unicode.IsControl(r)
}
