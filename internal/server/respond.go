package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/crud6/crud6/internal"
)

// maxBodySize caps request bodies so a bad client cannot exhaust memory.
const maxBodySize = 4 << 20

// listEnvelope is the response shape of list endpoints: the total row count
// of the model, the count after filters and search, and the page of rows.
type listEnvelope struct {
	Count    int64             `json:"count"`
	Filtered int64             `json:"filtered"`
	Rows     []internal.Record `json:"rows"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "message": message})
}

func respondFieldErrors(w http.ResponseWriter, errs []internal.FieldError) {
	respondJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": "validation failed",
		"errors":  errs,
	})
}

// decodeBody reads a JSON object request body.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var input map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return nil, false
	}
	return input, true
}

// wantsCSV reports whether the client asked for a CSV export, either with
// ?format=csv or an Accept header.
func wantsCSV(r *http.Request) bool {
	if r.URL.Query().Get("format") == "csv" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}

// respondCSV writes the listable columns of the rows as a CSV attachment.
func respondCSV(w http.ResponseWriter, m *internal.Model, rows []internal.Record) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Name+".csv"))
	cw := csv.NewWriter(w)
	columns := m.ListableColumns()
	_ = cw.Write(columns)
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = csvValue(row[col])
		}
		_ = cw.Write(record)
	}
	cw.Flush()
}

func csvValue(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		buf, _ := json.Marshal(v)
		return string(buf)
	}
}
