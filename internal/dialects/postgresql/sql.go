package postgresql

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/lib/pq"
)

const magicEscape = "$_H_$"

var safeCharacters = regexp.MustCompile(`^["/.,;:$%/@!#$%^&*(){}\[\]|\\<>?~a-zA-Z0-9_\- ]+$`)

var badCharacters = regexp.MustCompile(`\x00`)

func quoteString(str string) string {
	if len(str) != 0 && badCharacters.MatchString(str) {
		str = badCharacters.ReplaceAllString(str, "")
	}
	if len(str) == 0 || safeCharacters.MatchString(str) {
		return `'` + str + `'`
	}
	return magicEscape + str + magicEscape
}

func quoteBytes(buf []byte) string {
	return `'\x` + hex.EncodeToString(buf) + "'"
}

func quoteValue(arg any) (str string) {
	switch arg := arg.(type) {
	case nil:
		str = "null"
	case int:
		str = strconv.FormatInt(int64(arg), 10)
	case int32:
		str = strconv.FormatInt(int64(arg), 10)
	case int64:
		str = strconv.FormatInt(arg, 10)
	case float32:
		str = strconv.FormatFloat(float64(arg), 'f', -1, 32)
	case float64:
		str = strconv.FormatFloat(arg, 'f', -1, 64)
	case bool:
		str = strconv.FormatBool(arg)
	case []byte:
		str = quoteBytes(arg)
	case string:
		str = quoteString(arg)
	case time.Time:
		str = arg.Truncate(time.Microsecond).Format("'2006-01-02 15:04:05.999999999Z07:00:00'")
	case []string:
		var ns []string
		for _, thes := range arg {
			ns = append(ns, pq.QuoteLiteral(thes))
		}
		str = quoteString(util.JSONStringify(ns))
	case []interface{}:
		str = quoteString(util.JSONStringify(arg))
	default:
		value := reflect.ValueOf(arg)
		if value.Kind() == reflect.Ptr {
			if value.IsNil() {
				str = "null"
			} else if value.Elem().Kind() == reflect.Struct {
				str = quoteString(util.JSONStringify(arg))
			} else {
				str = quoteValue(value.Elem().Interface())
			}
		} else {
			str = quoteString(util.JSONStringify(arg))
		}
	}
	return str
}

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(USER|SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|SUM|TOTAL|START|END|BEGIN|COMMIT|ROLLBACK|PRIMARY|AUTHORIZATION)\b`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return pq.QuoteIdentifier(val)
	}
	return val
}

// args collects bind values and hands out $n placeholders.
type args struct {
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return fmt.Sprintf("$%d", len(a.vals))
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

// wherePredicates renders the query's soft delete guard, filters and search
// as predicate strings. qualifier prefixes column names for joined queries.
func wherePredicates(m *internal.Model, q *internal.ListQuery, qualifier string, a *args) []string {
	var preds []string
	if m.SoftDelete && (q == nil || !q.IncludeDeleted) {
		preds = append(preds, qualifier+quoteIdentifier(internal.DeletedAtColumn)+" IS NULL")
	}
	if q == nil {
		return preds
	}
	for _, f := range q.Filters {
		val := f.Value
		if f.Op == internal.FilterLike {
			val = "%" + fmt.Sprintf("%v", val) + "%"
		}
		field := m.Field(f.Field)
		var t internal.FieldType
		if field != nil {
			t = field.Type
		}
		preds = append(preds, fmt.Sprintf("%s%s %s %s", qualifier, quoteIdentifier(f.Field), filterOps[f.Op], a.add(internal.ArgValue(t, val))))
	}
	if q.Search != "" {
		var terms []string
		for _, name := range m.SearchFields() {
			terms = append(terms, fmt.Sprintf("%s%s ILIKE %s", qualifier, quoteIdentifier(name), a.add("%"+q.Search+"%")))
		}
		if len(terms) > 0 {
			preds = append(preds, "("+strings.Join(terms, " OR ")+")")
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
		dir := " ASC"
		if s.Descending() {
			dir = " DESC"
		}
		terms = append(terms, qualifier+quoteIdentifier(s.Field)+dir)
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func limitOffset(q *internal.ListQuery) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", q.PerPage, q.Offset())
}

func fieldSQLType(f *internal.Field) string {
	switch f.Type {
	case internal.FieldTypeString:
		if f.Validate != nil && f.Validate.MaxLength != nil {
			return fmt.Sprintf("VARCHAR(%d)", *f.Validate.MaxLength)
		}
		return "TEXT"
	case internal.FieldTypeText:
		return "TEXT"
	case internal.FieldTypeInteger:
		if f.Auto == internal.AutoIncrement {
			return "BIGINT GENERATED BY DEFAULT AS IDENTITY"
		}
		return "BIGINT"
	case internal.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case internal.FieldTypeDecimal:
		return "NUMERIC(19,4)"
	case internal.FieldTypeBoolean:
		return "BOOLEAN"
	case internal.FieldTypeDate:
		return "DATE"
	case internal.FieldTypeDatetime:
		return "TIMESTAMP WITH TIME ZONE"
	case internal.FieldTypeUUID:
		return "UUID"
	case internal.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func columnSQLType(m *internal.Model, name string) string {
	if f := m.Field(name); f != nil {
		return fieldSQLType(f)
	}
	// maintained timestamp columns
	return "TIMESTAMP WITH TIME ZONE"
}

func createSQL(m *internal.Model) string {
	var sql strings.Builder
	sql.WriteString("CREATE TABLE ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" (\n")
	pk := m.PrimaryKeyName()
	for _, name := range m.Columns() {
		sql.WriteString("\t")
		sql.WriteString(quoteIdentifier(name))
		sql.WriteString(" ")
		sql.WriteString(columnSQLType(m, name))
		if name == pk || !m.ColumnNullable(name) {
			sql.WriteString(" NOT NULL")
		}
		sql.WriteString(",\n")
	}
	sql.WriteString("\tPRIMARY KEY (")
	sql.WriteString(quoteIdentifier(pk))
	sql.WriteString(")\n);\n")
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

// upsertSQL renders a single upsert statement with quoted literals, used by
// the seed and load paths which execute (or emit) plain SQL.
func upsertSQL(m *internal.Model, rec internal.Record) string {
	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	pk := m.PrimaryKeyName()
	var columns []string
	var insertVals []string
	var updateValues []string
	for _, name := range m.Columns() {
		val, ok := rec[name]
		if !ok {
			continue
		}
		t, _ := m.ColumnType(name)
		conv := quoteValue(internal.ArgValue(t, val))
		columns = append(columns, quoteIdentifier(name))
		insertVals = append(insertVals, conv)
		if name != pk {
			updateValues = append(updateValues, fmt.Sprintf("%s=%s", quoteIdentifier(name), conv))
		}
	}
	sql.WriteString(" (")
	sql.WriteString(strings.Join(columns, ","))
	sql.WriteString(") VALUES (")
	sql.WriteString(strings.Join(insertVals, ","))
	sql.WriteString(") ON CONFLICT (")
	sql.WriteString(quoteIdentifier(pk))
	sql.WriteString(") DO ")
	if len(updateValues) == 0 {
		sql.WriteString("NOTHING")
	} else {
		sql.WriteString("UPDATE SET ")
		sql.WriteString(strings.Join(updateValues, ","))
	}
	sql.WriteString(";\n")
	return sql.String()
}

func getConnectionStringFromURL(urlstr string) (string, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing postgres db url: %w", err)
	}
	u.Scheme = "postgresql"
	if u.Port() == "" {
		u.Host = u.Host + ":5432"
	}
	var reencode bool
	q := u.Query()
	if !u.Query().Has("application_name") {
		q.Set("application_name", "crud6")
		reencode = true
	}
	if util.IsLocalhost(u.Host) && !u.Query().Has("sslmode") {
		q.Set("sslmode", "disable")
		reencode = true
	}
	if reencode {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
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
// reference uses. Identity rendering never applies to a reference column.
func pivotKeySQLType(m *internal.Model) string {
	f := m.PrimaryKeyField()
	if f == nil {
		return "BIGINT"
	}
	k := *f
	k.Auto = ""
	return fieldSQLType(&k)
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
	sql.WriteString(")\n);\n")
	index := internal.GenerateIndexName(p.Table, []string{p.RelatedKey}, "idx")
	return []string{
		sql.String(),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);\n", quoteIdentifier(index), quoteIdentifier(p.Table), quoteIdentifier(p.RelatedKey)),
	}
}
