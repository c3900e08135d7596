package store

import (
	"encoding/base64"
	"errors"
)

// ErrInvalidCursor indicates a cursor token that did not decode.
var ErrInvalidCursor = errors.New("invalid cursor")

// EncodeCursor wraps the last returned record id in an opaque token.
func EncodeCursor(id string) string {
	if id == "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(id))
}

// DecodeCursor unwraps a cursor token back to a record id. An empty token
// means the first page.
func DecodeCursor(token string) (string, error) {
	if token == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidCursor
	}
	if len(raw) == 0 {
		return "", ErrInvalidCursor
	}
	return string(raw), nil
}
