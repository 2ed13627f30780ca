// Package memstore is an ephemeral, process-local store.Backend. It serves
// the explicit "memory" storage mode, the logged Mongo fallback, and tests.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

type Backend struct {
	mu    sync.Mutex
	colls map[string]*collection
}

func New() *Backend {
	return &Backend{colls: map[string]*collection{}}
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Collection(name string) store.Collection {
	return b.coll(name)
}

func (b *Backend) coll(name string) *collection {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.colls[name]
	if !ok {
		c = &collection{name: name, unique: map[string]bool{}}
		b.colls[name] = c
	}
	return c
}

// EnsureIndexes records unique constraints. Expiry indexes are accepted and
// ignored; callers check expiry themselves.
func (b *Backend) EnsureIndexes(_ context.Context, idx []store.Index) error {
	for _, ix := range idx {
		if !ix.Unique {
			continue
		}
		c := b.coll(ix.Collection)
		c.mu.Lock()
		c.unique[ix.Field] = true
		c.mu.Unlock()
	}
	return nil
}

func (b *Backend) Ping(context.Context) error { return nil }

func (b *Backend) Close(context.Context) error { return nil }

// collection keeps documents in insertion order.
type collection struct {
	name   string
	mu     sync.RWMutex
	docs   []store.Document
	unique map[string]bool
}

func (c *collection) FindOne(_ context.Context, f store.Filter) (store.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(f); i >= 0 {
		return store.Clone(c.docs[i]), nil
	}
	return nil, store.ErrNotFound
}

func (c *collection) Find(_ context.Context, f store.Filter, opts store.FindOptions) ([]store.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q := strings.ToLower(opts.Search)
	var out []store.Document
	var skipped int64
	for _, d := range c.docs {
		if !matches(d, f) {
			continue
		}
		if q != "" && !searchMatches(d, q, opts.SearchFields) {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		out = append(out, store.Clone(d))
		if opts.Limit > 0 && int64(len(out)) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (c *collection) Insert(_ context.Context, doc store.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := store.Clone(doc)
	if err := c.checkUnique(d, -1); err != nil {
		return err
	}
	c.docs = append(c.docs, d)
	return nil
}

func (c *collection) Update(_ context.Context, f store.Filter, set store.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(f)
	if i < 0 {
		return store.ErrNotFound
	}
	next := store.Clone(c.docs[i])
	for k, v := range set {
		next[k] = v
	}
	next = store.Clone(next)
	if err := c.checkUnique(next, i); err != nil {
		return err
	}
	c.docs[i] = next
	return nil
}

func (c *collection) Delete(_ context.Context, f store.Filter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(f)
	if i < 0 {
		return store.ErrNotFound
	}
	c.docs = append(c.docs[:i], c.docs[i+1:]...)
	return nil
}

func (c *collection) DeleteMany(_ context.Context, f store.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.docs[:0]
	var n int64
	for _, d := range c.docs {
		if matches(d, f) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(c.docs); i++ {
		c.docs[i] = nil
	}
	c.docs = kept
	return n, nil
}

func (c *collection) Push(_ context.Context, f store.Filter, field string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexOf(f); i >= 0 {
		d := c.docs[i]
		arr, _ := d[field].([]any)
		d[field] = append(arr, store.CloneValue(value))
		return nil
	}
	d := store.Document{}
	for k, v := range f {
		d[k] = v
	}
	d[field] = []any{store.CloneValue(value)}
	d = store.Clone(d)
	if err := c.checkUnique(d, -1); err != nil {
		return err
	}
	c.docs = append(c.docs, d)
	return nil
}

func (c *collection) PullFirst(_ context.Context, f store.Filter, field, key string, value any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(f)
	if i < 0 {
		return false, nil
	}
	arr, _ := c.docs[i][field].([]any)
	for j, e := range arr {
		m, ok := e.(map[string]any)
		if !ok || !equal(m[key], value) {
			continue
		}
		next := make([]any, 0, len(arr)-1)
		next = append(next, arr[:j]...)
		next = append(next, arr[j+1:]...)
		c.docs[i][field] = next
		return true, nil
	}
	return false, nil
}

func (c *collection) indexOf(f store.Filter) int {
	for i, d := range c.docs {
		if matches(d, f) {
			return i
		}
	}
	return -1
}

// checkUnique rejects d when a unique field collides with another document.
// Documents missing the field never collide.
func (c *collection) checkUnique(d store.Document, self int) error {
	for field := range c.unique {
		v, ok := d[field]
		if !ok || v == nil {
			continue
		}
		for i, other := range c.docs {
			if i == self {
				continue
			}
			if ov, ok := other[field]; ok && equal(ov, v) {
				return fmt.Errorf("%s.%s: %w", c.name, field, store.ErrDuplicate)
			}
		}
	}
	return nil
}

func matches(d store.Document, f store.Filter) bool {
	for k, v := range f {
		dv, ok := d[k]
		if !ok || !equal(dv, v) {
			return false
		}
	}
	return true
}

func searchMatches(d store.Document, q string, fields []string) bool {
	for _, f := range fields {
		switch v := d[f].(type) {
		case string:
			if strings.Contains(strings.ToLower(v), q) {
				return true
			}
		case []any:
			for _, e := range v {
				if s, ok := e.(string); ok && strings.Contains(strings.ToLower(s), q) {
					return true
				}
			}
		}
	}
	return false
}

func equal(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
