package migrate

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crud6/crud6/internal"
	_ "github.com/crud6/crud6/internal/dialects/sqlite"
	"github.com/crud6/crud6/internal/store"
	"github.com/crud6/crud6/internal/tracker"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

type staticRegistry struct {
	models internal.ModelMap
}

func (r *staticRegistry) Models() (internal.ModelMap, error) { return r.models, nil }

func (r *staticRegistry) Model(name string) (*internal.Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model not found: %s", name)
	}
	return m, nil
}

func (r *staticRegistry) Fingerprint(name string) (string, error) {
	m, err := r.Model(name)
	if err != nil {
		return "", err
	}
	return m.Fingerprint, nil
}

func (r *staticRegistry) Save(string) error { return nil }

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	dialect, _, err := internal.LookupDialect("sqlite://test.db")
	assert.NoError(t, err)
	return store.NewWithDB(logger.NewTestLogger(), dialect, "sqlite", db), mock
}

func ticketModel() *internal.Model {
	return &internal.Model{
		Name:       "ticket",
		PrimaryKey: "id",
		SoftDelete: true,
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "title", Type: internal.FieldTypeString, Required: true},
		},
		Fingerprint: "fp-ticket-1",
	}
}

func pragmaRows(columns ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"name", "type", "notnull"})
	for _, name := range columns {
		rows.AddRow(name, "TEXT", 0)
	}
	return rows
}

func TestMigrateCreatesTable(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows())
	mock.ExpectExec("CREATE TABLE ticket").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX ticket_deleted_at_idx ON ticket").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := Run(context.Background(), Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"ticket": ticketModel()}},
		Store:       st,
		Concurrency: 1,
	})
	assert.NoError(t, err)
	assert.Len(t, res.Tables, 1)
	assert.True(t, res.Tables[0].Created)
	assert.Equal(t, 2, res.Statements)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMigrateAddsMissingColumns(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	m := ticketModel()
	m.Fields = append(m.Fields, internal.Field{Name: "status", Type: internal.FieldTypeString})

	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows("id", "title", "deleted_at"))
	mock.ExpectExec("ALTER TABLE ticket ADD COLUMN status").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := Run(context.Background(), Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"ticket": m}},
		Store:       st,
		Concurrency: 1,
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"status"}, res.Tables[0].Added)
	assert.False(t, res.Tables[0].Created)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMigrateReportsExtraColumns(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows("id", "title", "legacy", "deleted_at"))

	res, err := Run(context.Background(), Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"ticket": ticketModel()}},
		Store:       st,
		Concurrency: 1,
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, res.Tables[0].Extra)
	assert.Empty(t, res.Tables[0].Dropped)
	assert.Equal(t, 0, res.Statements)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMigrateDropsExtraColumns(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows("id", "title", "legacy", "deleted_at"))
	mock.ExpectExec("ALTER TABLE ticket DROP COLUMN legacy").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := Run(context.Background(), Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"ticket": ticketModel()}},
		Store:       st,
		Drop:        true,
		Concurrency: 1,
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"legacy"}, res.Tables[0].Dropped)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMigrateSkipsUnchangedFingerprint(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	track, err := tracker.NewTracker(tracker.TrackerConfig{
		Logger:  logger.NewTestLogger(),
		Context: context.Background(),
		Dir:     t.TempDir(),
	})
	assert.NoError(t, err)
	defer track.Close()

	opts := Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"ticket": ticketModel()}},
		Store:       st,
		Tracker:     track,
		URL:         "sqlite://test.db",
		Concurrency: 1,
	}

	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows())
	mock.ExpectExec("CREATE TABLE ticket").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX ticket_deleted_at_idx ON ticket").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := Run(context.Background(), opts)
	assert.NoError(t, err)
	assert.True(t, res.Tables[0].Created)

	// second run: the fingerprint is current so nothing touches the database
	res, err = Run(context.Background(), opts)
	assert.NoError(t, err)
	assert.True(t, res.Tables[0].Skipped)
	assert.Equal(t, 0, res.Statements)

	// force re-checks the live table
	mock.ExpectQuery("SELECT name, type").WithArgs("ticket").WillReturnRows(pragmaRows("id", "title", "deleted_at"))
	opts.Force = true
	res, err = Run(context.Background(), opts)
	assert.NoError(t, err)
	assert.False(t, res.Tables[0].Skipped)
	assert.Equal(t, 0, res.Statements)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestMigrateCreatesPivotTable(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	author := &internal.Model{
		Name:       "author",
		PrimaryKey: "id",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeUUID, Auto: internal.AutoUUID},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
		Relations: []internal.Relation{
			{Name: "tags", Type: internal.RelationManyToMany, Model: "tag", Pivot: &internal.Pivot{
				Table:      "author_tags",
				LocalKey:   "author_id",
				RelatedKey: "tag_id",
			}},
		},
		Fingerprint: "fp-author-1",
	}
	tag := &internal.Model{
		Name:       "tag",
		PrimaryKey: "id",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeUUID, Auto: internal.AutoUUID},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
		Fingerprint: "fp-tag-1",
	}

	mock.ExpectQuery("SELECT name, type").WithArgs("author").WillReturnRows(pragmaRows("id", "name"))
	mock.ExpectQuery("SELECT name, type").WithArgs("tag").WillReturnRows(pragmaRows("id", "name"))
	mock.ExpectQuery("SELECT name, type").WithArgs("author_tags").WillReturnRows(pragmaRows())
	mock.ExpectExec("CREATE TABLE author_tags").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX author_tags_tag_id_idx ON author_tags").WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := Run(context.Background(), Options{
		Logger:      logger.NewTestLogger(),
		Registry:    &staticRegistry{models: internal.ModelMap{"author": author, "tag": tag}},
		Store:       st,
		Concurrency: 1,
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"author_tags"}, res.Pivots)
	assert.Equal(t, 2, res.Statements)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
