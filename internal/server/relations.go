package server

import (
	"fmt"
	"net/http"

	"github.com/crud6/crud6/internal"
)

// handleRelated serves GET /v1/{model}/{id}/{relation}: the rows of the
// related model reachable from the parent row, through the foreign key or
// the pivot table depending on the relation type.
func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	rel := m.Relation(r.PathValue("relation"))
	if rel == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("model %s has no relation %s", m.Name, r.PathValue("relation")))
		return
	}
	related, err := s.registry.Model(rel.Model)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	// reading through a relation needs read on both ends
	if !s.authorize(w, r, m, internal.OpRead) || !s.authorize(w, r, related, internal.OpRead) {
		return
	}
	pk, ok := s.pathPK(w, r, m)
	if !ok {
		return
	}
	q, errs := internal.ParseListQuery(related, r.URL.Query())
	if len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	parent, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "related", m, err)
		return
	}
	if parent == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	rows, err := s.store.Select(ctx, related, dialect.SelectRelated(m, rel, related, pk, q))
	if err != nil {
		s.fail(w, "related", m, err)
		return
	}
	if wantsCSV(r) {
		respondCSV(w, related, rows)
		return
	}
	count, err := s.store.Count(ctx, dialect.CountRelated(m, rel, related, pk, q, false))
	if err != nil {
		s.fail(w, "related", m, err)
		return
	}
	filtered := count
	if len(q.Filters) > 0 || q.Search != "" {
		filtered, err = s.store.Count(ctx, dialect.CountRelated(m, rel, related, pk, q, true))
		if err != nil {
			s.fail(w, "related", m, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, listEnvelope{Count: count, Filtered: filtered, Rows: rows})
}

// resolvePivot resolves the model, relation and related model for the pivot
// endpoints and rejects relations that are not many_to_many.
func (s *Server) resolvePivot(w http.ResponseWriter, r *http.Request) (*internal.Model, *internal.Relation, *internal.Model, bool) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return nil, nil, nil, false
	}
	rel := m.Relation(r.PathValue("relation"))
	if rel == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("model %s has no relation %s", m.Name, r.PathValue("relation")))
		return nil, nil, nil, false
	}
	if rel.Type != internal.RelationManyToMany {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("relation %s is not many_to_many", rel.Name))
		return nil, nil, nil, false
	}
	related, err := s.registry.Model(rel.Model)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, nil, nil, false
	}
	return m, rel, related, true
}

// pathRelatedPK coerces the related path segment to the related model's
// primary key type.
func pathRelatedPK(w http.ResponseWriter, r *http.Request, related *internal.Model) (any, bool) {
	f := related.PrimaryKeyField()
	pk, err := internal.CoerceValue(f.Type, r.PathValue("related"))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %s: %s", related.Name, f.Name, err))
		return nil, false
	}
	return pk, true
}

// handleAttach serves POST /v1/{model}/{id}/{relation}/{related}: writes a
// pivot row linking the two records. Attaching an existing pair is a no-op.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	m, rel, related, ok := s.resolvePivot(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpUpdate) {
		return
	}
	pk, ok := s.pathPK(w, r, m)
	if !ok {
		return
	}
	relatedPK, ok := pathRelatedPK(w, r, related)
	if !ok {
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	parent, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "attach", m, err)
		return
	}
	if parent == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	other, err := s.store.SelectOne(ctx, related, dialect.SelectByPK(related, relatedPK, false))
	if err != nil {
		s.fail(w, "attach", m, err)
		return
	}
	if other == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", related.Name))
		return
	}
	if _, err := s.store.Exec(ctx, dialect.AttachPivot(m, rel, pk, relatedPK)); err != nil {
		s.fail(w, "attach", m, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleDetach serves DELETE /v1/{model}/{id}/{relation}/{related}: removes
// the pivot row linking the two records.
func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	m, rel, related, ok := s.resolvePivot(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpUpdate) {
		return
	}
	pk, ok := s.pathPK(w, r, m)
	if !ok {
		return
	}
	relatedPK, ok := pathRelatedPK(w, r, related)
	if !ok {
		return
	}
	affected, err := s.store.Exec(r.Context(), s.store.Dialect().DetachPivot(m, rel, pk, relatedPK))
	if err != nil {
		s.fail(w, "detach", m, err)
		return
	}
	if affected == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s %v is not attached to %s %v", related.Name, relatedPK, m.Name, pk))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
