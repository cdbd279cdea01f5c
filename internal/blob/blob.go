// Package blob stores raw callback payloads. Writes are acknowledged
// before any record row referencing them is created, so a key must
// never be overwritten: Key folds a nanosecond timestamp into the path.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	// Put writes data under key and returns only after the bytes are
	// durably acknowledged.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Key builds a unique per-delivery blob key. Redeliveries of the same
// exam get distinct keys rather than overwriting earlier payloads.
func Key(externalID string, kind string, at time.Time) string {
	ext := "json"
	if kind == "html" {
		ext = "html"
	}
	id := sanitize(externalID)
	if id == "" {
		id = "unresolved"
	}
	return fmt.Sprintf("%s/%d.%s", id, at.UnixNano(), ext)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
