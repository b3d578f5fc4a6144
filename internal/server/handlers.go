package server

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
)

// handleList serves GET /v1/{model}.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpRead) {
		return
	}
	q, errs := internal.ParseListQuery(m, r.URL.Query())
	if len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	rows, err := s.store.Select(ctx, m, dialect.SelectList(m, q))
	if err != nil {
		s.fail(w, "list", m, err)
		return
	}
	if wantsCSV(r) {
		respondCSV(w, m, rows)
		return
	}
	count, err := s.store.Count(ctx, dialect.Count(m, q, false))
	if err != nil {
		s.fail(w, "count", m, err)
		return
	}
	filtered := count
	if len(q.Filters) > 0 || q.Search != "" {
		filtered, err = s.store.Count(ctx, dialect.Count(m, q, true))
		if err != nil {
			s.fail(w, "count", m, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, listEnvelope{Count: count, Filtered: filtered, Rows: rows})
}

// handleGet serves GET /v1/{model}/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpRead) {
		return
	}
	pk, ok := s.pathPK(w, r, m)
	if !ok {
		return
	}
	includeDeleted := m.SoftDelete && r.URL.Query().Get("deleted") == "true"
	row, err := s.store.SelectOne(r.Context(), m, s.store.Dialect().SelectByPK(m, pk, includeDeleted))
	if err != nil {
		s.fail(w, "get", m, err)
		return
	}
	if row == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	respondJSON(w, http.StatusOK, row)
}

// handleCreate serves POST /v1/{model}: coerce, default, validate, insert
// and return the stored row.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpCreate) {
		return
	}
	input, ok := decodeBody(w, r)
	if !ok {
		return
	}
	rec, errs := internal.CoerceRecord(m, input)
	if len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}
	pk, err := internal.ApplyCreateDefaults(m, rec, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := internal.ValidateRecord(m, rec, false); len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}
	if pk == nil && m.PrimaryKeyField().Auto != internal.AutoIncrement {
		respondFieldErrors(w, []internal.FieldError{internal.NewFieldError(m.PrimaryKeyName(), "is required")})
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	generated, err := s.store.Insert(ctx, m, dialect.Insert(m, rec))
	if err != nil {
		s.fail(w, "create", m, err)
		return
	}
	if generated != nil {
		pk = generated
	}
	row, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "create", m, err)
		return
	}
	s.publish(internal.OperationInsert, m, pk, nil, row, nil)
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "row": row})
}

// handleUpdate serves PUT /v1/{model}/{id}. Updates are partial: only the
// submitted columns whose values actually differ from the stored row are
// written, and the change event carries that diff.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
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
	input, ok := decodeBody(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	before, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "update", m, err)
		return
	}
	if before == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	rec, errs := internal.CoerceRecord(m, input)
	if len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}
	delete(rec, m.PrimaryKeyName()) // the key is immutable
	if errs := internal.ValidateRecord(m, rec, true); len(errs) > 0 {
		respondFieldErrors(w, errs)
		return
	}

	shaped := make(internal.Record, len(rec))
	var submitted []string
	for _, col := range m.Columns() {
		val, present := rec[col]
		if !present {
			continue
		}
		t, _ := m.ColumnType(col)
		shaped[col] = internal.ShapeValue(t, val)
		submitted = append(submitted, col)
	}
	changed := internal.ChangedColumns(before, shaped, submitted)
	if len(changed) == 0 {
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "row": before, "changed": []string{}})
		return
	}
	internal.StampUpdate(m, rec, time.Now())
	columns := changed
	if m.Timestamps {
		columns = append(columns, internal.UpdatedAtColumn)
	}
	affected, err := s.store.Exec(ctx, dialect.Update(m, pk, rec, columns))
	if err != nil {
		s.fail(w, "update", m, err)
		return
	}
	if affected == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	after, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "update", m, err)
		return
	}
	s.publish(internal.OperationUpdate, m, pk, before, after, changed)
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "row": after, "changed": changed})
}

// handleDelete serves DELETE /v1/{model}/{id}. Models with soft delete get
// their deleted_at column stamped instead of losing the row.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpDelete) {
		return
	}
	pk, ok := s.pathPK(w, r, m)
	if !ok {
		return
	}
	ctx := r.Context()
	dialect := s.store.Dialect()
	before, err := s.store.SelectOne(ctx, m, dialect.SelectByPK(m, pk, false))
	if err != nil {
		s.fail(w, "delete", m, err)
		return
	}
	if before == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	affected, err := s.store.Exec(ctx, dialect.Delete(m, pk))
	if err != nil {
		s.fail(w, "delete", m, err)
		return
	}
	if affected == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("%s not found", m.Name))
		return
	}
	s.publish(internal.OperationDelete, m, pk, before, nil, nil)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleModelSchema serves GET /v1/{model}/schema: the schema document the
// model was loaded from, for admin tooling.
func (s *Server) handleModelSchema(w http.ResponseWriter, r *http.Request) {
	m, ok := s.resolveModel(w, r)
	if !ok {
		return
	}
	if !s.authorize(w, r, m, internal.OpRead) {
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// handleModels serves GET /v1/models: the index of loaded models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	models, err := s.registry.Models()
	if err != nil {
		s.logger.Error("models failed: %s", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]map[string]any, 0, len(names))
	for _, name := range names {
		m := models[name]
		rows = append(rows, map[string]any{
			"name":        m.Name,
			"table":       m.TableName(),
			"title":       m.Title,
			"description": m.Description,
			"fingerprint": m.Fingerprint,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(rows), "rows": rows})
}

// handleStats serves GET /v1/stats: process identity, uptime and a snapshot
// of the aggregate metrics and system load.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}
	stats, err := internal.GetSystemStats()
	if err != nil {
		s.logger.Error("stats failed: %s", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	sysinfo, err := util.GetSystemInfo()
	if err != nil {
		s.logger.Error("stats failed: %s", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ipAddress, _ := util.GetLocalIP() // containers may have no private address
	respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"serverId":  s.serverID,
		"version":   s.version,
		"ipAddress": ipAddress,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"system":    sysinfo,
		"stats":     stats,
	})
}
