// Package store defines the document-collection contract shared by the
// MongoDB and in-memory backends.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("store: document not found")
	ErrDuplicate   = errors.New("store: duplicate key")
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Document is a schema-less record. Values are JSON-compatible: string,
// float64, bool, nil, []any, map[string]any and time.Time.
type Document map[string]any

// Filter matches documents whose top-level fields equal every given value.
type Filter map[string]any

// FindOptions narrows a Find call. Search is matched case-insensitively as a
// substring against any of SearchFields. A zero Limit means no limit.
type FindOptions struct {
	Search       string
	SearchFields []string
	Skip         int64
	Limit        int64
}

// Index describes a single-field index. ExpireAt marks the field as the
// instant after which the backend may drop the document.
type Index struct {
	Collection string
	Field      string
	Unique     bool
	ExpireAt   bool
}

type Collection interface {
	FindOne(ctx context.Context, f Filter) (Document, error)
	Find(ctx context.Context, f Filter, opts FindOptions) ([]Document, error)
	Insert(ctx context.Context, doc Document) error
	// Update sets every field of set on the first matching document.
	Update(ctx context.Context, f Filter, set Document) error
	Delete(ctx context.Context, f Filter) error
	DeleteMany(ctx context.Context, f Filter) (int64, error)
	// Push appends value to the array field of the matching document,
	// creating the document from f when none matches. It is a single atomic
	// operation: concurrent first pushes never create two documents.
	Push(ctx context.Context, f Filter, field string, value any) error
	// PullFirst removes the first element of the array field whose key
	// equals value. It reports whether an element was removed.
	PullFirst(ctx context.Context, f Filter, field, key string, value any) (bool, error)
}

// Backend is the process-wide storage handle.
type Backend interface {
	Name() string
	Collection(name string) Collection
	EnsureIndexes(ctx context.Context, idx []Index) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Clone returns a deep copy of d.
func Clone(d Document) Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices inside v.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// StringSlice reads a string slice field, tolerating []any from JSON decoding.
func (d Document) StringSlice(key string) []string {
	switch t := d[key].(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// StringField reads a string field, returning "" when absent or not a string.
func (d Document) StringField(key string) string {
	s, _ := d[key].(string)
	return s
}
