package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
)

// mountResource registers the list/get/create/update/delete family of one
// resource behind its write policy.
func (s *Server) mountResource(r chi.Router, e *crud.Engine) {
	res := e.Resource()
	h := resourceHandler{engine: e}
	r.Route("/"+res.Name, func(r chi.Router) {
		r.Use(res.Policy.Enforce(writeError))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type resourceHandler struct {
	engine *crud.Engine
}

func (h resourceHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := crud.ParsePage(q.Get("page"), q.Get("page_size"))
	docs, err := h.engine.List(r.Context(), q.Get("q"), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, docs)
}

func (h resourceHandler) get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, doc)
}

func (h resourceHandler) create(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.engine.Create(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, created)
}

func (h resourceHandler) update(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeDocument(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.engine.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, updated)
}

func (h resourceHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeDocument reads a JSON object body.
func decodeDocument(r *http.Request) (store.Document, error) {
	var doc map[string]any
	if err := decodeJSON(r, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", errBadRequest)
	}
	plainNumbers(doc)
	return store.Document(doc), nil
}
