package db

import (
	"encoding/json"
)

func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMeta(s string) map[string]string {
	m := make(map[string]string)
	if s == "" {
		return m
	}
	// a corrupt metadata blob is not worth failing a read over
	_ = json.Unmarshal([]byte(s), &m)
	return m
}
