package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadSample reads a role memory-sample file and flattens it to text.
//
// A list contributes the non-empty string "content" of each object element,
// one per line. An object contributes its "content" field, or its own text
// form when the field is absent. Any other value contributes its text form.
// A blank result is returned as "" with no error.
func LoadSample(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the role registry
	if err != nil {
		return "", fmt.Errorf("read memory sample: %w", err)
	}
	return ParseSample(data)
}

// ParseSample flattens raw memory-sample JSON; see LoadSample.
func ParseSample(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse memory sample: %w", err)
	}

	var text string
	switch val := v.(type) {
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := obj["content"].(string); ok && s != "" {
				lines = append(lines, s)
			}
		}
		text = strings.Join(lines, "\n")
	case map[string]any:
		if c, ok := val["content"]; ok {
			text = textOf(c)
		} else {
			text = textOf(val)
		}
	default:
		text = textOf(val)
	}

	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return text, nil
}

func textOf(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
