package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// decodeIDs parses a JSON array of identifiers. Strings are taken as-is;
// integral numbers (written by older deployments) are converted. Anything
// else fails with ErrCorrupt.
func decodeIDs(b []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if raw == nil {
		// "null" is not an array.
		return nil, fmt.Errorf("%w: expected JSON array", ErrCorrupt)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after array", ErrCorrupt)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for i, v := range raw {
		var id string
		switch x := v.(type) {
		case string:
			id = strings.TrimSpace(x)
		case json.Number:
			if _, err := x.Int64(); err != nil {
				return nil, fmt.Errorf("%w: element %d is not an integer id", ErrCorrupt, i)
			}
			id = x.String()
		default:
			return nil, fmt.Errorf("%w: element %d has type %T", ErrCorrupt, i, v)
		}
		if id == "" {
			return nil, fmt.Errorf("%w: element %d is empty", ErrCorrupt, i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// encodeIDs renders ids as an indented, sorted JSON array of strings.
func encodeIDs(ids []string) ([]byte, error) {
	cp := append([]string{}, ids...)
	sort.Strings(cp)
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
