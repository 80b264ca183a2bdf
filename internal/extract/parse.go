package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/dictation/internal/schema"
)

var errEmptyResponse = errors.New("empty response")

// ParseItems decodes a backend reply into raw items. It accepts a bare JSON
// array, an object with an "items" array, and either form wrapped in a
// markdown code fence.
func ParseItems(raw string) ([]schema.RawItem, error) {
	body := strings.TrimSpace(stripFence(raw))
	if body == "" {
		return nil, errEmptyResponse
	}

	var elems []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal([]byte(body), &elems); err != nil {
			return nil, fmt.Errorf("decode item array: %w", err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, fmt.Errorf("decode response object: %w", err)
		}
		list, ok := obj["items"]
		if !ok {
			return nil, errors.New(`response object has no "items" field`)
		}
		if bytes.Equal(bytes.TrimSpace(list), []byte("null")) {
			return []schema.RawItem{}, nil
		}
		if err := json.Unmarshal(list, &elems); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
	default:
		return nil, fmt.Errorf("response is not JSON: %.40q", body)
	}

	items := make([]schema.RawItem, 0, len(elems))
	for i, e := range elems {
		var item schema.RawItem
		if err := json.Unmarshal(e, &item); err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		if item == nil {
			item = schema.RawItem{}
		}
		items = append(items, item)
	}
	return items, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
