package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crud6/crud6/internal"
	_ "github.com/crud6/crud6/internal/dialects/postgresql"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

func testModel() *internal.Model {
	return &internal.Model{
		Name: "author",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
	}
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	dialect, scheme, err := internal.LookupDialect("postgres://localhost:5432/test")
	assert.NoError(t, err)
	return NewWithDB(logger.NewTestLogger(), dialect, scheme, db), mock
}

func TestStoreSelect(t *testing.T) {
	s, mock := newTestStore(t)
	m := testModel()

	mock.ExpectQuery(`SELECT "id","name" FROM "author"`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Ada").AddRow(2, "Grace"))

	recs, err := s.Select(context.Background(), m, internal.Statement{SQL: `SELECT "id","name" FROM "author"`})
	assert.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0]["id"])
	assert.Equal(t, "Ada", recs[0]["name"])
	assert.Equal(t, "Grace", recs[1]["name"])
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreSelectOne(t *testing.T) {
	s, mock := newTestStore(t)
	m := testModel()

	mock.ExpectQuery(`SELECT "id","name" FROM "author" WHERE "id" = \$1`).WithArgs(1).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Ada"))

	rec, err := s.SelectOne(context.Background(), m, internal.Statement{
		SQL:  `SELECT "id","name" FROM "author" WHERE "id" = $1`,
		Args: []any{1},
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), rec["id"])

	// no row matched: nil record, no error
	mock.ExpectQuery(`SELECT "id","name" FROM "author" WHERE "id" = \$1`).WithArgs(99).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}))

	rec, err = s.SelectOne(context.Background(), m, internal.Statement{
		SQL:  `SELECT "id","name" FROM "author" WHERE "id" = $1`,
		Args: []any{99},
	})
	assert.NoError(t, err)
	assert.Nil(t, rec)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreCount(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "author"`).WillReturnRows(
		sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.Count(context.Background(), internal.Statement{SQL: `SELECT COUNT(*) FROM "author"`})
	assert.NoError(t, err)
	assert.Equal(t, int64(42), count)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreExec(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE "author" SET "name" = \$1 WHERE "id" = \$2`).WithArgs("Ada Lovelace", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := s.Exec(context.Background(), internal.Statement{
		SQL:  `UPDATE "author" SET "name" = $1 WHERE "id" = $2`,
		Args: []any{"Ada Lovelace", 1},
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreInsertScanPK(t *testing.T) {
	s, mock := newTestStore(t)
	m := testModel()

	mock.ExpectQuery(`INSERT INTO "author" \("name"\) VALUES \(\$1\) RETURNING "id"`).WithArgs("Ada").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	pk, err := s.Insert(context.Background(), m, internal.Statement{
		SQL:    `INSERT INTO "author" ("name") VALUES ($1) RETURNING "id"`,
		Args:   []any{"Ada"},
		PKFrom: internal.PKScan,
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(7), pk)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreInsertLastInsertID(t *testing.T) {
	s, mock := newTestStore(t)
	m := testModel()

	mock.ExpectExec(`INSERT INTO .author. \(.name.\) VALUES \(\?\)`).WithArgs("Ada").
		WillReturnResult(sqlmock.NewResult(9, 1))

	pk, err := s.Insert(context.Background(), m, internal.Statement{
		SQL:    "INSERT INTO `author` (`name`) VALUES (?)",
		Args:   []any{"Ada"},
		PKFrom: internal.PKLastInsert,
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(9), pk)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreInsertCallerKey(t *testing.T) {
	s, mock := newTestStore(t)
	m := testModel()

	mock.ExpectExec(`INSERT INTO "author" \("id","name"\) VALUES \(\$1,\$2\)`).WithArgs(1, "Ada").
		WillReturnResult(sqlmock.NewResult(0, 1))

	pk, err := s.Insert(context.Background(), m, internal.Statement{
		SQL:  `INSERT INTO "author" ("id","name") VALUES ($1,$2)`,
		Args: []any{1, "Ada"},
	})
	assert.NoError(t, err)
	assert.Nil(t, pk)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreExecuter(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec(`CREATE TABLE "author"`).WillReturnResult(sqlmock.NewResult(0, 0))
	exec := s.Executer(context.Background(), false)
	assert.NoError(t, exec(`CREATE TABLE "author" ("id" BIGINT)`))

	// dry run logs instead of executing
	dry := s.Executer(context.Background(), true)
	assert.NoError(t, dry(`DROP TABLE "author"`))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestStoreDescribe(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT column_name, data_type, is_nullable FROM information_schema.columns").WithArgs("author").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}).
			AddRow("id", "bigint", "NO").
			AddRow("name", "text", "YES"))

	td, err := s.Describe(context.Background(), "author")
	assert.NoError(t, err)
	assert.Equal(t, "author", td.Name)
	assert.Len(t, td.Columns, 2)
	assert.True(t, td.HasColumn("id"))
	assert.False(t, td.HasColumn("zzz"))
	assert.True(t, td.Columns[1].Nullable)

	// missing table: nil description, no error
	mock.ExpectQuery("SELECT column_name, data_type, is_nullable FROM information_schema.columns").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable"}))

	td, err = s.Describe(context.Background(), "ghost")
	assert.NoError(t, err)
	assert.Nil(t, td)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
