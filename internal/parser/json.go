package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// parseJSON reads an array of flat objects. The header order follows
// the key order of the first object; keys seen only in later objects
// are appended in first-seen order. Nested values are flattened to
// their JSON text.
func parseJSON(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, fmt.Errorf("invalid JSON input: expected an array of objects")
	}

	doc := &Document{}
	seen := make(map[string]bool)

	for dec.More() {
		row, keys, err := decodeObject(dec)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				doc.Headers = append(doc.Headers, k)
			}
		}
		doc.Rows = append(doc.Rows, row)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if len(doc.Rows) == 0 {
		return nil, ErrEmptyInput
	}
	return doc, nil
}

// decodeObject consumes one object from the stream, returning its
// values and key order.
func decodeObject(dec *json.Decoder) (Row, []string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("invalid JSON input: expected an object, got %v", tok)
	}

	row := make(Row)
	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid JSON input: %w", err)
		}
		key := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON value for %q: %w", key, err)
		}
		row[key] = stringifyValue(raw)
		keys = append(keys, key)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	return row, keys, nil
}

func stringifyValue(raw json.RawMessage) string {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		// Nested structure: keep its JSON text
		return string(raw)
	}
}
