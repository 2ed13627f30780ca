// Package crud is the resource-agnostic list/get/create/update/delete engine
// behind every collection-backed REST family.
package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	ErrConflict = errors.New("conflict")
)

// SearchFields are the fields the q parameter is matched against.
var SearchFields = []string{"name", "shortDescription", "email", "number"}

// Auditor receives one record per successful mutation.
type Auditor interface {
	Record(ctx context.Context, action, target string)
}

// Resource binds a REST family to its collection and write policy.
type Resource struct {
	Name       string
	Collection string
	Policy     auth.Policy
	// BeforeWrite may rewrite a create payload or an update patch in place.
	BeforeWrite func(doc store.Document) error
	// Hidden fields are stripped from every document the engine returns.
	Hidden []string
}

type Engine struct {
	res   Resource
	coll  store.Collection
	audit Auditor
}

func New(backend store.Backend, res Resource, audit Auditor) *Engine {
	return &Engine{res: res, coll: backend.Collection(res.Collection), audit: audit}
}

func (e *Engine) Resource() Resource { return e.res }

func (e *Engine) Get(ctx context.Context, id string) (store.Document, error) {
	doc, err := e.coll.FindOne(ctx, store.Filter{"id": id})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s get %q: %w", e.res.Name, id, err)
	}
	return e.present(doc), nil
}

// List returns one page in storage order. An empty q matches everything.
func (e *Engine) List(ctx context.Context, q string, page Page) ([]store.Document, error) {
	opts := store.FindOptions{Skip: page.Skip(), Limit: int64(page.Size)}
	if q = strings.TrimSpace(q); q != "" {
		opts.Search = q
		opts.SearchFields = SearchFields
	}
	docs, err := e.coll.Find(ctx, store.Filter{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s list: %w", e.res.Name, err)
	}
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, e.present(d))
	}
	return out, nil
}

// Create stores doc as supplied, minus the storage identity field, and
// returns the stored form.
func (e *Engine) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	doc = store.Clone(doc)
	delete(doc, "_id")
	id, _ := doc["id"].(string)
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if e.res.BeforeWrite != nil {
		if err := e.res.BeforeWrite(doc); err != nil {
			return nil, err
		}
	}
	if err := e.coll.Insert(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s %q already exists", ErrConflict, e.res.Name, id)
		}
		return nil, fmt.Errorf("%s create: %w", e.res.Name, err)
	}
	e.record(ctx, "create", id)
	stored, err := e.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		// deleted again before the re-read
		return e.present(doc), nil
	case err != nil:
		return nil, fmt.Errorf("%s create %q: stored but not readable: %w", e.res.Name, id, err)
	}
	return stored, nil
}

// Update merges the non-null fields of patch into the stored document.
// Null cannot unset a field; it is skipped like an absent key. The id and
// storage identity fields are never rewritten.
func (e *Engine) Update(ctx context.Context, id string, patch store.Document) (store.Document, error) {
	set := store.Document{}
	for k, v := range patch {
		if v == nil || k == "_id" || k == "id" {
			continue
		}
		set[k] = store.CloneValue(v)
	}
	if e.res.BeforeWrite != nil && len(set) > 0 {
		if err := e.res.BeforeWrite(set); err != nil {
			return nil, err
		}
	}
	if len(set) == 0 {
		return e.Get(ctx, id)
	}
	err := e.coll.Update(ctx, store.Filter{"id": id}, set)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrDuplicate):
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	case err != nil:
		return nil, fmt.Errorf("%s update %q: %w", e.res.Name, id, err)
	}
	e.record(ctx, "update", id)
	return e.Get(ctx, id)
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.coll.Delete(ctx, store.Filter{"id": id})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s delete %q: %w", e.res.Name, id, err)
	}
	e.record(ctx, "delete", id)
	return nil
}

func (e *Engine) present(doc store.Document) store.Document {
	delete(doc, "_id")
	for _, f := range e.res.Hidden {
		delete(doc, f)
	}
	return doc
}

func (e *Engine) record(ctx context.Context, action, id string) {
	if e.audit != nil {
		e.audit.Record(ctx, e.res.Name+"."+action, id)
	}
}
