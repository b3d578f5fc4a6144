package sqlite

import (
	"testing"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func boolp(v bool) *bool { return &v }

func ticketModel() *internal.Model {
	return &internal.Model{
		Name:       "ticket",
		Timestamps: true,
		SoftDelete: true,
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "subject", Type: internal.FieldTypeString, Required: true, Sortable: true, Filterable: true, Searchable: true, Validate: &internal.FieldValidation{MaxLength: intp(80)}},
			{Name: "status", Type: internal.FieldTypeString, Default: "open", Filterable: true},
			{Name: "priority", Type: internal.FieldTypeInteger, Sortable: true, Filterable: true},
			{Name: "body", Type: internal.FieldTypeText, Nullable: true, Listable: boolp(false)},
			{Name: "reporter_id", Type: internal.FieldTypeInteger, Required: true},
		},
		Relations: []internal.Relation{
			{Name: "reporter", Type: internal.RelationBelongsTo, Model: "user", ForeignKey: "reporter_id"},
			{Name: "comments", Type: internal.RelationHasMany, Model: "comment", ForeignKey: "ticket_id"},
			{Name: "tags", Type: internal.RelationManyToMany, Model: "tag", Pivot: &internal.Pivot{Table: "ticket_tags", LocalKey: "ticket_id", RelatedKey: "tag_id"}},
		},
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "subject", quoteIdentifier("subject"))
	assert.Equal(t, `"reporter_id"`, quoteIdentifier("reporter_id"))
	assert.Equal(t, `"order"`, quoteIdentifier("order"))
	assert.Equal(t, `"transaction"`, quoteIdentifier("transaction"))
	assert.Equal(t, `"Ticket"`, quoteIdentifier("Ticket"))
}

func TestQuoteValue(t *testing.T) {
	assert.Equal(t, "NULL", quoteValue(nil))
	assert.Equal(t, "42", quoteValue(42))
	assert.Equal(t, "1", quoteValue(true))
	assert.Equal(t, "0", quoteValue(false))
	assert.Equal(t, "'open'", quoteValue("open"))
	assert.Equal(t, "'it''s'", quoteValue("it's"))
	assert.Equal(t, "X'deadbeef'", quoteValue([]byte{0xde, 0xad, 0xbe, 0xef}))
	assert.Equal(t, "'2024-01-02 03:04:05'", quoteValue(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestSelectByPK(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	st := d.SelectByPK(m, 7, false)
	assert.Equal(t, `SELECT id,subject,status,priority,body,"reporter_id","created_at","updated_at","deleted_at" FROM ticket WHERE id = ? AND "deleted_at" IS NULL`, st.SQL)
	assert.Equal(t, []any{7}, st.Args)

	st = d.SelectByPK(m, 7, true)
	assert.Equal(t, `SELECT id,subject,status,priority,body,"reporter_id","created_at","updated_at","deleted_at" FROM ticket WHERE id = ?`, st.SQL)
}

func TestSelectList(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	q := &internal.ListQuery{
		Page:    2,
		PerPage: 10,
		Sorts:   []internal.Sort{{Field: "priority", Dir: "desc"}},
		Filters: []internal.Filter{{Field: "status", Op: internal.FilterEq, Value: "open"}},
		Search:  "pump",
	}
	st := d.SelectList(m, q)
	assert.Equal(t, `SELECT id,subject,status,priority,"reporter_id","created_at","updated_at","deleted_at" FROM ticket WHERE "deleted_at" IS NULL AND status = ? AND (subject LIKE ?) ORDER BY priority DESC LIMIT 10 OFFSET 10`, st.SQL)
	assert.Equal(t, []any{"open", "%pump%"}, st.Args)
}

func TestCount(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	q := &internal.ListQuery{
		Page:    1,
		PerPage: 25,
		Filters: []internal.Filter{{Field: "status", Op: internal.FilterNeq, Value: "closed"}},
	}
	st := d.Count(m, q, false)
	assert.Equal(t, `SELECT COUNT(*) FROM ticket WHERE "deleted_at" IS NULL`, st.SQL)
	assert.Empty(t, st.Args)

	st = d.Count(m, q, true)
	assert.Equal(t, `SELECT COUNT(*) FROM ticket WHERE "deleted_at" IS NULL AND status <> ?`, st.SQL)
	assert.Equal(t, []any{"closed"}, st.Args)
}

func TestInsert(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	st := d.Insert(m, internal.Record{"subject": "Car won't start", "status": "open", "reporter_id": 1})
	assert.Equal(t, `INSERT INTO ticket (subject,status,"reporter_id") VALUES (?,?,?)`, st.SQL)
	assert.Equal(t, []any{"Car won't start", "open", 1}, st.Args)
	assert.Equal(t, internal.PKLastInsert, st.PKFrom)

	// a generated uuid key is supplied by the caller, nothing to read back
	m.Fields[0] = internal.Field{Name: "id", Type: internal.FieldTypeUUID, Auto: internal.AutoUUID}
	st = d.Insert(m, internal.Record{"id": "2f0b1c34-5a7d-4d38-9a43-0a9d4f3c21ab", "subject": "Flat tire", "reporter_id": 1})
	assert.Equal(t, `INSERT INTO ticket (id,subject,"reporter_id") VALUES (?,?,?)`, st.SQL)
	assert.Equal(t, internal.PKNone, st.PKFrom)
}

func TestUpdate(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	st := d.Update(m, 7, internal.Record{"status": "closed"}, []string{"status"})
	assert.Equal(t, `UPDATE ticket SET status = ? WHERE id = ? AND "deleted_at" IS NULL`, st.SQL)
	assert.Equal(t, []any{"closed", 7}, st.Args)
}

func TestDelete(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	st := d.Delete(m, 7)
	assert.Equal(t, `UPDATE ticket SET "deleted_at" = ? WHERE id = ? AND "deleted_at" IS NULL`, st.SQL)
	assert.Len(t, st.Args, 2)

	m.SoftDelete = false
	st = d.Delete(m, 7)
	assert.Equal(t, `DELETE FROM ticket WHERE id = ?`, st.SQL)
	assert.Equal(t, []any{7}, st.Args)
}

func TestAttachDetachPivot(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	st := d.AttachPivot(m, &m.Relations[2], 7, 3)
	assert.Equal(t, `INSERT OR IGNORE INTO "ticket_tags" ("ticket_id","tag_id") VALUES (?,?)`, st.SQL)
	assert.Equal(t, []any{7, 3}, st.Args)

	st = d.DetachPivot(m, &m.Relations[2], 7, 3)
	assert.Equal(t, `DELETE FROM "ticket_tags" WHERE "ticket_id" = ? AND "tag_id" = ?`, st.SQL)
	assert.Equal(t, []any{7, 3}, st.Args)
}

func TestUpsertLiteral(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	sql := d.UpsertLiteral(m, internal.Record{"id": 1, "subject": "Flat tire", "priority": 3})
	assert.Equal(t, "INSERT INTO ticket (id,subject,priority) VALUES (1,'Flat tire',3) ON CONFLICT(id) DO UPDATE SET subject='Flat tire',priority=3;\n", sql)

	// a record carrying only the key has nothing to update on conflict
	sql = d.UpsertLiteral(m, internal.Record{"id": 1})
	assert.Equal(t, "INSERT INTO ticket (id) VALUES (1) ON CONFLICT(id) DO NOTHING;\n", sql)
}

func TestCreateTable(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	// AUTOINCREMENT requires the inline INTEGER PRIMARY KEY form
	assert.Equal(t, `CREATE TABLE ticket (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject TEXT NOT NULL,
	status TEXT,
	priority INTEGER,
	body TEXT,
	"reporter_id" INTEGER NOT NULL,
	"created_at" DATETIME NOT NULL,
	"updated_at" DATETIME NOT NULL,
	"deleted_at" DATETIME
)`, d.CreateTable(m))

	m.Fields[0] = internal.Field{Name: "id", Type: internal.FieldTypeUUID, Auto: internal.AutoUUID}
	assert.Equal(t, `CREATE TABLE ticket (
	id TEXT NOT NULL,
	subject TEXT NOT NULL,
	status TEXT,
	priority INTEGER,
	body TEXT,
	"reporter_id" INTEGER NOT NULL,
	"created_at" DATETIME NOT NULL,
	"updated_at" DATETIME NOT NULL,
	"deleted_at" DATETIME,
	PRIMARY KEY (id)
)`, d.CreateTable(m))
}

func TestAddColumns(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	assert.Equal(t, "ALTER TABLE ticket ADD COLUMN priority INTEGER;\nALTER TABLE ticket ADD COLUMN \"reporter_id\" INTEGER;\n", d.AddColumns(m, []string{"priority", "reporter_id"}))
}

func TestCreatePivot(t *testing.T) {
	var d sqliteDialect
	m := ticketModel()
	tag := &internal.Model{
		Name: "tag",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "name", Type: internal.FieldTypeString, Required: true},
		},
	}
	stmts := d.CreatePivot(&m.Relations[2], m, tag)
	assert.Len(t, stmts, 2)
	assert.Equal(t, `CREATE TABLE "ticket_tags" (
	"ticket_id" INTEGER NOT NULL,
	"tag_id" INTEGER NOT NULL,
	PRIMARY KEY ("ticket_id", "tag_id")
)`, stmts[0])
	assert.Equal(t, "CREATE INDEX \"ticket_tags_tag_id_idx\" ON \"ticket_tags\" (\"tag_id\");\n", stmts[1])
}

func TestConnectionString(t *testing.T) {
	name, err := getFilenameFromURL("sqlite://crud6.db")
	assert.NoError(t, err)
	assert.Equal(t, "crud6.db", name)

	name, err = getFilenameFromURL("sqlite:///var/lib/crud6.db")
	assert.NoError(t, err)
	assert.Equal(t, "/var/lib/crud6.db", name)

	name, err = getFilenameFromURL("sqlite:crud6.db")
	assert.NoError(t, err)
	assert.Equal(t, "crud6.db", name)

	name, err = getFilenameFromURL("sqlite://")
	assert.NoError(t, err)
	assert.Equal(t, ":memory:", name)

	dsn, err := getConnectionStringFromURL("sqlite://crud6.db")
	assert.NoError(t, err)
	assert.Equal(t, "file:crud6.db?_foreign_keys=on", dsn)

	// in-memory databases take no file: prefix or options
	dsn, err = getConnectionStringFromURL("sqlite://")
	assert.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)
}
