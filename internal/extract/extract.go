// Package extract pulls fenced code blocks out of free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "```"

var (
	// ErrNotFound is returned when the text holds no fenced block.
	ErrNotFound = errors.New("extract: no fenced block")
	// ErrMalformed is returned when the block cannot be parsed as the requested format.
	ErrMalformed = errors.New("extract: malformed block")
)

// Block returns the body of the first ```<format> fence in text, falling back
// to the first bare ``` fence when no tagged fence exists.
func Block(text, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	start := -1
	if format != "" {
		if idx := strings.Index(text, fence+format); idx >= 0 {
			start = idx + len(fence) + len(format)
			if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 && strings.TrimSpace(text[start:start+nl]) == "" {
				start += nl + 1
			}
		}
	}
	if start < 0 {
		idx := strings.Index(text, fence)
		if idx < 0 {
			return "", ErrNotFound
		}
		start = idx + len(fence)
	}
	end := strings.Index(text[start:], fence)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated fence", ErrNotFound)
	}
	return text[start : start+end], nil
}

// Extract locates the block for format and decodes it. json and yaml blocks
// are parsed into generic values; every other format yields the trimmed block
// text as a string.
func Extract(text, format string) (any, error) {
	body, err := Block(text, format)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty %s block", ErrMalformed, format)
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
		}
		return value, nil
	case "yaml", "yml":
		var value any
		if err := yaml.Unmarshal([]byte(trimmed), &value); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrMalformed, err)
		}
		if value == nil {
			return nil, fmt.Errorf("%w: yaml block decoded to nothing", ErrMalformed)
		}
		return value, nil
	default:
		return trimmed, nil
	}
}

// String extracts a block and requires a textual result.
func String(text, format string) (string, error) {
	value, err := Extract(text, format)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	default:
		body, err := Block(text, format)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(body), nil
	}
}
