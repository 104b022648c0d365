// Package security screens raw user input before it reaches the inference
// pipeline. Queries are untrusted text headed for a prompt, so pathological
// payloads are cut off at the door instead of burning tokens.
package security

import (
	"errors"
	"unicode"
)

var (
	ErrQueryTooLarge       = errors.New("query exceeds maximum size")
	ErrNullByteDetected    = errors.New("null byte detected in query")
	ErrHighWhitespaceRatio = errors.New("suspicious whitespace ratio")
	ErrRepetitiveContent   = errors.New("excessive repetition detected")
)

// QueryValidator bounds the shape of one chat query.
type QueryValidator struct {
	MaxSize            int
	MaxWhitespaceRatio float64
	MaxRepetition      int
}

// NewQueryValidator returns a validator with limits sized for conversational
// questions, not documents.
func NewQueryValidator() *QueryValidator {
	return &QueryValidator{
		MaxSize:            8 * 1024,
		MaxWhitespaceRatio: 0.8,
		MaxRepetition:      100,
	}
}

func (v *QueryValidator) Validate(query string) error {
	if len(query) > v.MaxSize {
		return ErrQueryTooLarge
	}

	for i := 0; i < len(query); i++ {
		if query[i] == 0 {
			return ErrNullByteDetected
		}
	}

	if v.MaxWhitespaceRatio > 0 && len(query) > 0 {
		whitespace := 0
		for _, r := range query {
			if unicode.IsSpace(r) {
				whitespace++
			}
		}
		if float64(whitespace)/float64(len(query)) > v.MaxWhitespaceRatio {
			return ErrHighWhitespaceRatio
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(query, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

func hasExcessiveRepetition(query string, maxRun int) bool {
	if len(query) < maxRun {
		return false
	}

	runes := []rune(query)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run > maxRun {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// ValidateQuery runs the default validator.
func ValidateQuery(query string) error {
	return NewQueryValidator().Validate(query)
}
