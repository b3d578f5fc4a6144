package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crud6/crud6/internal"
	_ "github.com/crud6/crud6/internal/dialects/sqlite"
	"github.com/crud6/crud6/internal/store"
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

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func authorModel() *internal.Model {
	return &internal.Model{
		Name:       "author",
		PrimaryKey: "id",
		Timestamps: true,
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
		Relations: []internal.Relation{
			{Name: "books", Type: internal.RelationHasMany, Model: "book", ForeignKey: "author_id"},
		},
		Fingerprint: "fp-author-1",
	}
}

func bookModel() *internal.Model {
	return &internal.Model{
		Name:       "book",
		PrimaryKey: "id",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "title", Type: internal.FieldTypeString, Required: true, Validate: &internal.FieldValidation{MaxLength: intp(12)}},
			{Name: "status", Type: internal.FieldTypeString, Required: true, Validate: &internal.FieldValidation{Enum: []string{"draft", "published"}}},
			{Name: "qty", Type: internal.FieldTypeInteger, Required: true, Validate: &internal.FieldValidation{Min: floatp(1), Max: floatp(10)}},
			{Name: "author_id", Type: internal.FieldTypeInteger, Required: true},
		},
		Relations: []internal.Relation{
			{Name: "author", Type: internal.RelationBelongsTo, Model: "author", ForeignKey: "author_id"},
			{Name: "tags", Type: internal.RelationManyToMany, Model: "tag", Pivot: &internal.Pivot{Table: "book_tags", LocalKey: "book_id", RelatedKey: "tag_id"}},
		},
		Fingerprint: "fp-book-1",
	}
}

func tagModel() *internal.Model {
	return &internal.Model{
		Name:       "tag",
		PrimaryKey: "id",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
		Fingerprint: "fp-tag-1",
	}
}

func libraryModels() internal.ModelMap {
	return internal.ModelMap{
		"author": authorModel(),
		"book":   bookModel(),
		"tag":    tagModel(),
	}
}

func TestSeedOrder(t *testing.T) {
	order, err := Order(libraryModels())
	assert.NoError(t, err)
	assert.Equal(t, []string{"author", "book", "tag"}, order)
}

func TestSeedLevels(t *testing.T) {
	levels, err := Levels(libraryModels())
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"author", "tag"}, {"book"}}, levels)

	// a chain spanning three levels
	chapter := &internal.Model{Name: "chapter", Relations: []internal.Relation{
		{Name: "book", Type: internal.RelationBelongsTo, Model: "book", ForeignKey: "book_id"},
	}}
	models := libraryModels()
	models["chapter"] = chapter
	levels, err = Levels(models)
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"author", "tag"}, {"book"}, {"chapter"}}, levels)
}

func TestSeedLevelsCycle(t *testing.T) {
	a := &internal.Model{Name: "a", Relations: []internal.Relation{
		{Name: "b", Type: internal.RelationBelongsTo, Model: "b", ForeignKey: "b_id"},
	}}
	b := &internal.Model{Name: "b", Relations: []internal.Relation{
		{Name: "a", Type: internal.RelationBelongsTo, Model: "a", ForeignKey: "a_id"},
	}}
	_, err := Levels(internal.ModelMap{"a": a, "b": b})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestSeedOrderCycle(t *testing.T) {
	a := &internal.Model{Name: "a", Relations: []internal.Relation{
		{Name: "b", Type: internal.RelationBelongsTo, Model: "b", ForeignKey: "b_id"},
	}}
	b := &internal.Model{Name: "b", Relations: []internal.Relation{
		{Name: "a", Type: internal.RelationBelongsTo, Model: "a", ForeignKey: "a_id"},
	}}
	_, err := Order(internal.ModelMap{"a": a, "b": b})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestSeedOrderSelfReference(t *testing.T) {
	m := &internal.Model{Name: "employee", Relations: []internal.Relation{
		{Name: "manager", Type: internal.RelationBelongsTo, Model: "employee", ForeignKey: "manager_id"},
	}}
	order, err := Order(internal.ModelMap{"employee": m})
	assert.NoError(t, err)
	assert.Equal(t, []string{"employee"}, order)
}

func TestGenerateDeterministic(t *testing.T) {
	models := libraryModels()
	first := Generate(models["book"], models, 5, 2)
	second := Generate(models["book"], models, 5, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(3), first["id"])

	other := Generate(models["book"], models, 5, 3)
	assert.NotEqual(t, first["id"], other["id"])
}

func TestGenerateRespectsValidation(t *testing.T) {
	models := libraryModels()
	for i := 0; i < 20; i++ {
		rec := Generate(models["book"], models, 5, i)
		assert.Contains(t, []string{"draft", "published"}, rec["status"])
		qty := rec["qty"].(int64)
		assert.GreaterOrEqual(t, qty, int64(1))
		assert.LessOrEqual(t, qty, int64(10))
		title := rec["title"].(string)
		assert.LessOrEqual(t, len(title), 12)
		// foreign keys point at a parent row that exists
		fk := rec["author_id"].(int64)
		assert.GreaterOrEqual(t, fk, int64(1))
		assert.LessOrEqual(t, fk, int64(5))
	}
}

func TestGenerateTimestamps(t *testing.T) {
	models := libraryModels()
	rec := Generate(models["author"], models, 5, 2)
	assert.Equal(t, seedEpoch.Add(2*time.Minute), rec[internal.CreatedAtColumn])
	assert.Equal(t, seedEpoch.Add(2*time.Minute), rec[internal.UpdatedAtColumn])
	_, ok := rec[internal.DeletedAtColumn]
	assert.False(t, ok)
}

func TestSeedRunWritesFile(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	dir := t.TempDir()
	opts := Options{
		Logger:   logger.NewTestLogger(),
		Registry: &staticRegistry{models: libraryModels()},
		Store:    st,
		Rows:     3,
		Out:      filepath.Join(dir, "seed.sql"),
	}
	res, err := Run(context.Background(), opts)
	assert.NoError(t, err)
	assert.Equal(t, 9, res.Rows)
	assert.Equal(t, 6, res.PivotRows)

	buf, err := os.ReadFile(opts.Out)
	assert.NoError(t, err)
	content := string(buf)
	assert.Contains(t, content, "INSERT INTO author ")
	assert.Contains(t, content, "INSERT INTO book ")
	assert.Contains(t, content, `INSERT OR IGNORE INTO "book_tags"`)
	// parents come before the rows that reference them
	assert.Less(t, strings.Index(content, "INSERT INTO author "), strings.Index(content, "INSERT INTO book "))

	// the same schemas produce the same file
	opts.Out = filepath.Join(dir, "seed2.sql")
	_, err = Run(context.Background(), opts)
	assert.NoError(t, err)
	buf2, err := os.ReadFile(opts.Out)
	assert.NoError(t, err)
	assert.Equal(t, string(buf), string(buf2))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSeedRunExecutes(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	mock.ExpectExec("INSERT INTO author").WillReturnResult(sqlmock.NewResult(0, 2))

	res, err := Run(context.Background(), Options{
		Logger:   logger.NewTestLogger(),
		Registry: &staticRegistry{models: internal.ModelMap{"author": authorModel()}},
		Store:    st,
		Rows:     2,
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 0, res.PivotRows)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestSeedRunDryRun(t *testing.T) {
	st, mock := newTestStore(t)
	defer st.Close()

	res, err := Run(context.Background(), Options{
		Logger:   logger.NewTestLogger(),
		Registry: &staticRegistry{models: internal.ModelMap{"author": authorModel()}},
		Store:    st,
		Rows:     2,
		DryRun:   true,
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
