package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// writeJSON prints v as indented JSON. A non-empty query is applied as a JMESPath projection
// to the JSON form of v first.
func writeJSON(w io.Writer, v any, query string) error {
	out := v
	if q := strings.TrimSpace(query); q != "" {
		projected, err := project(v, q)
		if err != nil {
			return err
		}
		out = projected
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func project(v any, query string) (any, error) {
	if _, err := jmespath.Compile(query); err != nil {
		return nil, fmt.Errorf("invalid -query %q: %w", query, err)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}

	result, err := jmespath.Search(query, doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate -query %q: %w", query, err)
	}
	return result, nil
}
