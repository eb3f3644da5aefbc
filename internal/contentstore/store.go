// Package contentstore is the content-addressed store for auxiliary course
// assets such as transcripts. Assets are addressed by an opaque location
// computed from (course key, filename).
package contentstore

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned by Get for missing locations.
var ErrNotFound = errors.New("contentstore: asset not found")

// Location is an opaque storage key for one asset.
type Location string

// Locate computes the deterministic location for an asset of a course.
func Locate(courseKey, filename string) Location {
	course := strings.ReplaceAll(strings.Trim(courseKey, "/"), "/", "_")
	return Location(path.Join("assets", course, path.Clean("/"+filename)[1:]))
}

// Store is the read/write contract the engine depends on.
type Store interface {
	Get(ctx context.Context, loc Location) ([]byte, error)
	Put(ctx context.Context, loc Location, data []byte, mimeType string) error
	Delete(ctx context.Context, loc Location) error
}
