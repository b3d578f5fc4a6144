package sqlite

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
)

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|SUM|TOTAL|START|END|BEGIN|COMMIT|ROLLBACK|PRIMARY|TRANSACTION)\b`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return `"` + val + `"`
	}
	return val
}

const timestampFormat = "2006-01-02 15:04:05.999999999"

func quoteString(str string) string {
	return "'" + strings.ReplaceAll(str, "'", "''") + "'"
}

func quoteValue(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + v.UTC().Format(timestampFormat) + "'"
	case *time.Time:
		return "'" + v.UTC().Format(timestampFormat) + "'"
	case json.RawMessage:
		return quoteString(string(v))
	case []byte:
		if v == nil {
			return "NULL"
		}
		return "X'" + hex.EncodeToString(v) + "'"
	case string:
		return quoteString(v)
	case map[string]interface{}:
		jv, _ := json.Marshal(v)
		return quoteString(string(jv))
	case []interface{}:
		jv, _ := json.Marshal(v)
		return quoteString(string(jv))
	default:
		return quoteString(fmt.Sprintf("%v", v))
	}
}

type args struct {
	vals []any
}

func (a *args) add(val any) string {
	a.vals = append(a.vals, val)
	return "?"
}

func columnList(columns []string, qualifier string) string {
	quoted := make([]string, 0, len(columns))
	for _, name := range columns {
		quoted = append(quoted, qualifier+quoteIdentifier(name))
	}
	return strings.Join(quoted, ",")
}

var filterOps = map[internal.FilterOp]string{
	internal.FilterEq:   "=",
	internal.FilterNeq:  "<>",
	internal.FilterGt:   ">",
	internal.FilterGte:  ">=",
	internal.FilterLt:   "<",
	internal.FilterLte:  "<=",
	internal.FilterLike: "LIKE",
}

func wherePredicates(m *internal.Model, q *internal.ListQuery, qualifier string, a *args) []string {
	var preds []string
	if m.SoftDelete && (q == nil || !q.IncludeDeleted) {
		preds = append(preds, qualifier+quoteIdentifier(internal.DeletedAtColumn)+" IS NULL")
	}
	if q == nil {
		return preds
	}
	for _, f := range q.Filters {
		t, _ := m.ColumnType(f.Field)
		if f.Op == internal.FilterLike {
			preds = append(preds, fmt.Sprintf("%s LIKE %s", qualifier+quoteIdentifier(f.Field), a.add(fmt.Sprintf("%%%v%%", f.Value))))
			continue
		}
		preds = append(preds, fmt.Sprintf("%s %s %s", qualifier+quoteIdentifier(f.Field), filterOps[f.Op], a.add(internal.ArgValue(t, f.Value))))
	}
	if q.Search != "" {
		var ors []string
		for _, name := range m.SearchFields() {
			ors = append(ors, fmt.Sprintf("%s LIKE %s", qualifier+quoteIdentifier(name), a.add(fmt.Sprintf("%%%s%%", q.Search))))
		}
		if len(ors) > 0 {
			preds = append(preds, "("+strings.Join(ors, " OR ")+")")
		}
	}
	return preds
}

func whereClause(preds []string) string {
	if len(preds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(preds, " AND ")
}

func orderBy(sorts []internal.Sort, qualifier string) string {
	if len(sorts) == 0 {
		return ""
	}
	var terms []string
	for _, s := range sorts {
		dir := "ASC"
		if s.Descending() {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf("%s %s", qualifier+quoteIdentifier(s.Field), dir))
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func limitOffset(q *internal.ListQuery) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", q.PerPage, q.Offset())
}

// fieldSQLType is advisory only since sqlite uses type affinity, but the
// DATE and DATETIME decltypes matter: the driver uses them to scan values
// back into time.Time.
func fieldSQLType(f *internal.Field) string {
	switch f.Type {
	case internal.FieldTypeString, internal.FieldTypeText:
		return "TEXT"
	case internal.FieldTypeInteger:
		return "INTEGER"
	case internal.FieldTypeFloat:
		return "REAL"
	case internal.FieldTypeDecimal:
		return "NUMERIC"
	case internal.FieldTypeBoolean:
		return "BOOLEAN"
	case internal.FieldTypeDate:
		return "DATE"
	case internal.FieldTypeDatetime:
		return "DATETIME"
	case internal.FieldTypeUUID:
		return "TEXT"
	case internal.FieldTypeJSON:
		return "TEXT" // for JSON
	default:
		return "TEXT"
	}
}

func columnSQLType(m *internal.Model, name string) string {
	if f := m.Field(name); f != nil {
		return fieldSQLType(f)
	}
	// maintained timestamp columns
	return "DATETIME"
}

func createSQL(m *internal.Model) string {
	pk := m.PrimaryKeyName()
	pkf := m.PrimaryKeyField()
	rowidPK := pkf != nil && pkf.Auto == internal.AutoIncrement
	var sql strings.Builder
	sql.WriteString("CREATE TABLE ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" (\n")
	for _, name := range m.Columns() {
		sql.WriteString("\t")
		sql.WriteString(quoteIdentifier(name))
		sql.WriteString(" ")
		if name == pk && rowidPK {
			// AUTOINCREMENT is only valid on an inline INTEGER PRIMARY KEY
			sql.WriteString("INTEGER PRIMARY KEY AUTOINCREMENT")
		} else {
			sql.WriteString(columnSQLType(m, name))
			if !m.ColumnNullable(name) {
				sql.WriteString(" NOT NULL")
			}
		}
		sql.WriteString(",\n")
	}
	if rowidPK {
		s := sql.String()
		return s[:len(s)-2] + "\n)"
	}
	sql.WriteString("\tPRIMARY KEY (")
	sql.WriteString(quoteIdentifier(pk))
	sql.WriteString(")\n)")
	return sql.String()
}

func addColumnsSQL(m *internal.Model, columns []string) string {
	var sql strings.Builder
	for _, column := range columns {
		sql.WriteString("ALTER TABLE ")
		sql.WriteString(quoteIdentifier(m.TableName()))
		sql.WriteString(" ADD COLUMN ")
		sql.WriteString(quoteIdentifier(column))
		sql.WriteString(" ")
		sql.WriteString(columnSQLType(m, column))
		sql.WriteString(";\n")
	}
	return sql.String()
}

func upsertSQL(m *internal.Model, rec internal.Record) string {
	pk := m.PrimaryKeyName()
	var columns []string
	var values []string
	var sets []string
	for _, name := range m.Columns() {
		val, ok := rec[name]
		if !ok {
			continue
		}
		columns = append(columns, quoteIdentifier(name))
		values = append(values, quoteValue(val))
		if name != pk {
			sets = append(sets, fmt.Sprintf("%s=%s", quoteIdentifier(name), quoteValue(val)))
		}
	}
	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" (")
	sql.WriteString(strings.Join(columns, ","))
	sql.WriteString(") VALUES (")
	sql.WriteString(strings.Join(values, ","))
	sql.WriteString(") ON CONFLICT(")
	sql.WriteString(quoteIdentifier(pk))
	sql.WriteString(")")
	if len(sets) > 0 {
		sql.WriteString(" DO UPDATE SET ")
		sql.WriteString(strings.Join(sets, ","))
	} else {
		sql.WriteString(" DO NOTHING")
	}
	sql.WriteString(";\n")
	return sql.String()
}

func getFilenameFromURL(urlstr string) (string, error) {
	// Example input: "sqlite://crud6.db" or "sqlite:///var/lib/crud6.db"
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing url: %w", err)
	}
	if u.Opaque != "" {
		return u.Opaque, nil
	}
	name := u.Host + u.Path
	if name == "" {
		return ":memory:", nil
	}
	return name, nil
}

func getConnectionStringFromURL(urlstr string) (string, error) {
	name, err := getFilenameFromURL(urlstr)
	if err != nil {
		return "", err
	}
	if name == ":memory:" {
		return ":memory:", nil
	}
	return "file:" + name + "?_foreign_keys=on", nil
}

func createIndexesSQL(m *internal.Model) []string {
	var res []string
	for _, column := range internal.IndexColumns(m) {
		name := internal.GenerateIndexName(m.TableName(), []string{column}, "idx")
		res = append(res, fmt.Sprintf("CREATE INDEX %s ON %s (%s);\n", quoteIdentifier(name), quoteIdentifier(m.TableName()), quoteIdentifier(column)))
	}
	return res
}

// pivotKeySQLType maps a model's primary key to the column type a pivot
// reference uses.
func pivotKeySQLType(m *internal.Model) string {
	f := m.PrimaryKeyField()
	if f == nil {
		return "INTEGER"
	}
	return fieldSQLType(f)
}

func createPivotSQL(rel *internal.Relation, local *internal.Model, related *internal.Model) []string {
	p := rel.Pivot
	var sql strings.Builder
	sql.WriteString("CREATE TABLE ")
	sql.WriteString(quoteIdentifier(p.Table))
	sql.WriteString(" (\n\t")
	sql.WriteString(quoteIdentifier(p.LocalKey))
	sql.WriteString(" ")
	sql.WriteString(pivotKeySQLType(local))
	sql.WriteString(" NOT NULL,\n\t")
	sql.WriteString(quoteIdentifier(p.RelatedKey))
	sql.WriteString(" ")
	sql.WriteString(pivotKeySQLType(related))
	sql.WriteString(" NOT NULL,\n\tPRIMARY KEY (")
	sql.WriteString(quoteIdentifier(p.LocalKey))
	sql.WriteString(", ")
	sql.WriteString(quoteIdentifier(p.RelatedKey))
	sql.WriteString(")\n)")
	index := internal.GenerateIndexName(p.Table, []string{p.RelatedKey}, "idx")
	return []string{
		sql.String(),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);\n", quoteIdentifier(index), quoteIdentifier(p.Table), quoteIdentifier(p.RelatedKey)),
	}
}
