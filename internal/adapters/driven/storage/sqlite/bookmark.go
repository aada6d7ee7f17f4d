package sqlite

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// BookmarkVersion is the current bookmark schema version.
const BookmarkVersion = 1

// Bookmark is a causally consistent read position: the commit sequence
// number a session has observed or written.
type Bookmark struct {
	// Version is the schema version for future migrations.
	Version int `json:"v"`

	// Seq is the store's commit sequence number.
	Seq uint64 `json:"seq"`
}

// Encode serialises the bookmark to a header-safe base64 JSON string.
func (b Bookmark) Encode() string {
	b.Version = BookmarkVersion
	data, err := json.Marshal(b)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// sessionStart describes where a session's first read may be served from.
type sessionStart struct {
	seq         uint64
	primaryOnly bool
}

// parseBookmark accepts an encoded bookmark or one of the constraint
// keywords. An empty string is unconstrained.
func parseBookmark(s string) (sessionStart, error) {
	switch s {
	case "", driven.BookmarkFirstUnconstrained:
		return sessionStart{}, nil
	case driven.BookmarkFirstPrimary:
		return sessionStart{primaryOnly: true}, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return sessionStart{}, fmt.Errorf("%w: %v", ErrInvalidBookmark, err)
	}
	var b Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return sessionStart{}, fmt.Errorf("%w: %v", ErrInvalidBookmark, err)
	}
	if b.Version != BookmarkVersion {
		return sessionStart{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidBookmark, b.Version)
	}
	return sessionStart{seq: b.Seq}, nil
}
