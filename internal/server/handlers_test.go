package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crud6/crud6/internal"
	_ "github.com/crud6/crud6/internal/dialects/postgresql"
	"github.com/crud6/crud6/internal/registry"
	"github.com/crud6/crud6/internal/store"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

const authorDoc = `{
	"model": "author",
	"fields": [
		{"name": "id", "type": "integer", "auto": "increment"},
		{"name": "name", "type": "string", "required": true, "searchable": true, "filterable": true},
		{"name": "email", "type": "string", "nullable": true}
	],
	"relations": [
		{"name": "books", "type": "has_many", "model": "book", "foreign_key": "author_id"}
	]
}`

const bookDoc = `{
	"model": "book",
	"timestamps": true,
	"fields": [
		{"name": "id", "type": "integer", "auto": "increment"},
		{"name": "title", "type": "string", "required": true},
		{"name": "author_id", "type": "integer", "required": true}
	],
	"relations": [
		{"name": "author", "type": "belongs_to", "model": "author", "foreign_key": "author_id"},
		{"name": "tags", "type": "many_to_many", "model": "tag", "pivot": {"table": "book_tags", "local_key": "book_id", "related_key": "tag_id"}}
	]
}`

const tagDoc = `{
	"model": "tag",
	"fields": [
		{"name": "id", "type": "integer", "auto": "increment"},
		{"name": "name", "type": "string", "required": true}
	]
}`

// eventRecorder captures published change events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []internal.ChangeEvent
}

func (p *eventRecorder) Publish(event internal.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *eventRecorder) Events() []internal.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]internal.ChangeEvent(nil), p.events...)
}

func newTestRegistry(t *testing.T) internal.SchemaRegistry {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range map[string]string{"author.json": authorDoc, "book.json": bookDoc, "tag.json": tagDoc} {
		assert.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0644))
	}
	reg, err := registry.NewFileRegistry(logger.NewTestLogger(), dir)
	if err != nil {
		t.Fatalf("an error '%s' was not expected loading the test schemas", err)
	}
	return reg
}

func newTestServer(t *testing.T, auth *Authenticator) (*httptest.Server, sqlmock.Sqlmock, *eventRecorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	dialect, scheme, err := internal.LookupDialect("postgres://localhost:5432/test")
	assert.NoError(t, err)
	pub := &eventRecorder{}
	srv := New(Config{
		Logger:    logger.NewTestLogger(),
		Registry:  newTestRegistry(t),
		Store:     store.NewWithDB(logger.NewTestLogger(), dialect, scheme, db),
		Publisher: pub,
		Auth:      auth,
		ServerID:  "srv_test",
		Version:   "test",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mock, pub
}

func doRequest(t *testing.T, method string, url string, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	assert.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	status, out := doRequest(t, "GET", ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}

func TestList(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,name,email FROM author ORDER BY id ASC LIMIT 25 OFFSET 0`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).
			AddRow(1, "Ada", nil).
			AddRow(2, "Grace", "grace@example.com"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM author`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	status, out := doRequest(t, "GET", ts.URL+"/v1/author", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), out["count"])
	assert.Equal(t, float64(2), out["filtered"])
	rows := out["rows"].([]any)
	assert.Len(t, rows, 2)
	first := rows[0].(map[string]any)
	assert.Equal(t, float64(1), first["id"])
	assert.Equal(t, "Ada", first["name"])
	assert.Nil(t, first["email"])
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestListFiltered(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,name,email FROM author WHERE name LIKE $1 ORDER BY id ASC LIMIT 25 OFFSET 0`)).
		WithArgs("%Ada%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow(1, "Ada", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM author`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM author WHERE name LIKE $1`)).
		WithArgs("%Ada%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status, out := doRequest(t, "GET", ts.URL+"/v1/author?filter[name:like]=Ada", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(5), out["count"])
	assert.Equal(t, float64(1), out["filtered"])
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestListBadQuery(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	status, out := doRequest(t, "GET", ts.URL+"/v1/author?page=zero", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "validation failed", out["message"])
	assert.NotEmpty(t, out["errors"])
}

func TestListUnknownModel(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	status, out := doRequest(t, "GET", ts.URL+"/v1/publisher", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "model not found: publisher", out["message"])
}

func TestListCSV(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,name,email FROM author ORDER BY id ASC LIMIT 25 OFFSET 0`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow(1, "Ada", nil))

	resp, err := http.Get(ts.URL + "/v1/author?format=csv")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "author.csv")
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, "id,name,email\n1,Ada,\n", string(body))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGet(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,name,email FROM author WHERE id = $1`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow(1, "Ada", nil))

	status, out := doRequest(t, "GET", ts.URL+"/v1/author/1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), out["id"])
	assert.Equal(t, "Ada", out["name"])
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,name,email FROM author WHERE id = $1`)).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))

	status, out := doRequest(t, "GET", ts.URL+"/v1/author/99", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "author not found", out["message"])
}

func TestGetBadKey(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	status, out := doRequest(t, "GET", ts.URL+"/v1/author/abc", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["message"], "invalid id")
}

func TestCreate(t *testing.T) {
	ts, mock, pub := newTestServer(t, nil)
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO book (title,"author_id","created_at","updated_at") VALUES ($1,$2,$3,$4) RETURNING id`)).
		WithArgs("Dune", 7, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}).
			AddRow(3, "Dune", 7, t0, t0))

	status, out := doRequest(t, "POST", ts.URL+"/v1/book", `{"title":"Dune","author_id":7}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, out["success"])
	row := out["row"].(map[string]any)
	assert.Equal(t, float64(3), row["id"])
	assert.Equal(t, "Dune", row["title"])

	events := pub.Events()
	assert.Len(t, events, 1)
	assert.Equal(t, internal.OperationInsert, events[0].Operation)
	assert.Equal(t, "book", events[0].Model)
	assert.Equal(t, "3", events[0].Key)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateValidation(t *testing.T) {
	ts, _, pub := newTestServer(t, nil)

	status, out := doRequest(t, "POST", ts.URL+"/v1/book", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation failed", out["message"])
	assert.Len(t, out["errors"], 2)

	status, out = doRequest(t, "POST", ts.URL+"/v1/book", `{"title":"Dune","author_id":"seven"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	errs := out["errors"].([]any)
	assert.Len(t, errs, 1)
	assert.Equal(t, "author_id", errs[0].(map[string]any)["field"])

	assert.Empty(t, pub.Events())
}

func TestCreateInvalidJSON(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	status, out := doRequest(t, "POST", ts.URL+"/v1/book", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid JSON payload", out["message"])
}

func TestUpdate(t *testing.T) {
	ts, mock, pub := newTestServer(t, nil)
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}).
			AddRow(3, "Dune", 7, t0, t0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE book SET title = $1, "updated_at" = $2 WHERE id = $3`)).
		WithArgs("Dune Messiah", sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}).
			AddRow(3, "Dune Messiah", 7, t0, time.Now().UTC()))

	status, out := doRequest(t, "PUT", ts.URL+"/v1/book/3", `{"title":"Dune Messiah"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{"title"}, out["changed"])
	row := out["row"].(map[string]any)
	assert.Equal(t, "Dune Messiah", row["title"])

	events := pub.Events()
	assert.Len(t, events, 1)
	assert.Equal(t, internal.OperationUpdate, events[0].Operation)
	assert.Equal(t, []string{"title"}, events[0].Diff)
	assert.Contains(t, string(events[0].Before), "Dune")
	assert.Contains(t, string(events[0].After), "Dune Messiah")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateNoChange(t *testing.T) {
	ts, mock, pub := newTestServer(t, nil)
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}).
			AddRow(3, "Dune", 7, t0, t0))

	status, out := doRequest(t, "PUT", ts.URL+"/v1/book/3", `{"title":"Dune"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []any{}, out["changed"])
	assert.Empty(t, pub.Events())
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	ts, mock, _ := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}))

	status, out := doRequest(t, "PUT", ts.URL+"/v1/book/99", `{"title":"Ghost"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "book not found", out["message"])
}

func TestDelete(t *testing.T) {
	ts, mock, pub := newTestServer(t, nil)
	t0 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}).
			AddRow(3, "Dune", 7, t0, t0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM book WHERE id = $1`)).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status, out := doRequest(t, "DELETE", ts.URL+"/v1/book/3", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])

	events := pub.Events()
	assert.Len(t, events, 1)
	assert.Equal(t, internal.OperationDelete, events[0].Operation)
	assert.Contains(t, string(events[0].Before), "Dune")
	assert.Empty(t, events[0].After)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	ts, mock, pub := newTestServer(t, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id,title,"author_id","created_at","updated_at" FROM book WHERE id = $1`)).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id", "created_at", "updated_at"}))

	status, out := doRequest(t, "DELETE", ts.URL+"/v1/book/99", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "book not found", out["message"])
	assert.Empty(t, pub.Events())
}

func TestModels(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	status, out := doRequest(t, "GET", ts.URL+"/v1/models", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), out["count"])
	rows := out["rows"].([]any)
	assert.Len(t, rows, 3)
	first := rows[0].(map[string]any)
	assert.Equal(t, "author", first["name"])
	assert.Equal(t, "author", first["table"])
	assert.NotEmpty(t, first["fingerprint"])
}

func TestModelSchema(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	status, out := doRequest(t, "GET", ts.URL+"/v1/book/schema", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "book", out["model"])
	assert.Len(t, out["fields"], 3)
	assert.Len(t, out["relations"], 2)
}

func TestStats(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)

	status, out := doRequest(t, "GET", ts.URL+"/v1/stats", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "srv_test", out["serverId"])
	assert.Equal(t, "test", out["version"])
	assert.Contains(t, out, "ipAddress")
	assert.Contains(t, out, "uptime")
	assert.Contains(t, out, "system")
	assert.Contains(t, out, "stats")
}
