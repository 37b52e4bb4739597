// Package pitch holds the generated pitch content and its stored encoding.
package pitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Content is what the generation webhook produced. It is persisted as a JSON
// string in the store's content column.
type Content struct {
	Idea  string `json:"idea"`
	Tone  string `json:"tone"`
	Pitch string `json:"pitch"`
}

var ErrMalformedContent = errors.New("malformed pitch content")

func Encode(c Content) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode pitch content: %w", err)
	}
	return string(raw), nil
}

func Decode(raw string) (Content, error) {
	var c Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return c, nil
}

// Tones offered for generation.
var Tones = []string{"professional", "investor-focused", "technical", "casual", "friendly"}

// NormalizeTone lowercases and trims a tone and reports whether it is offered.
func NormalizeTone(tone string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(tone))
	for _, known := range Tones {
		if normalized == known {
			return normalized, true
		}
	}
	return normalized, false
}

// ToneLabel renders a tone for display, e.g. "investor-focused" becomes
// "Investor-focused tone".
func ToneLabel(tone string) string {
	if tone == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(tone)
	return string(unicode.ToUpper(first)) + tone[size:] + " tone"
}
