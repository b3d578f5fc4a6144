package mysql

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
)

var needsQuote = regexp.MustCompile(`[A-Z0-9_\s]`)
var keywords = regexp.MustCompile(`(?i)\b(USER|SELECT|INSERT|UPDATE|DELETE|FROM|WHERE|JOIN|LEFT|RIGHT|INNER|GROUP BY|ORDER BY|HAVING|AND|OR|CREATE|DROP|ALTER|TABLE|INDEX|ON|INTO|VALUES|SET|AS|DISTINCT|TYPE|DEFAULT|ORDER|GROUP|LIMIT|SUM|TOTAL|START|END|BEGIN|COMMIT|ROLLBACK|PRIMARY|AUTHORIZATION)\b`)

func quoteIdentifier(val string) string {
	if needsQuote.MatchString(val) || keywords.MatchString(val) {
		return "`" + val + "`"
	}
	return val
}

// args collects bind values and hands out ? placeholders.
type args struct {
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
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
			terms = append(terms, fmt.Sprintf("%s%s LIKE %s", qualifier, quoteIdentifier(name), a.add("%"+q.Search+"%")))
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

func fieldSQLType(f *internal.Field, isPrimaryKey bool) string {
	switch f.Type {
	case internal.FieldTypeString:
		if isPrimaryKey {
			return "VARCHAR(64)"
		}
		if f.Validate != nil && f.Validate.MaxLength != nil {
			return fmt.Sprintf("VARCHAR(%d)", *f.Validate.MaxLength)
		}
		return "TEXT"
	case internal.FieldTypeText:
		return "TEXT"
	case internal.FieldTypeInteger:
		if f.Auto == internal.AutoIncrement {
			return "BIGINT AUTO_INCREMENT"
		}
		return "BIGINT"
	case internal.FieldTypeFloat:
		return "DOUBLE"
	case internal.FieldTypeDecimal:
		return "DECIMAL(19,4)"
	case internal.FieldTypeBoolean:
		return "BOOLEAN"
	case internal.FieldTypeDate:
		return "DATE"
	case internal.FieldTypeDatetime:
		return "DATETIME(6)"
	case internal.FieldTypeUUID:
		return "VARCHAR(36)"
	case internal.FieldTypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

func columnSQLType(m *internal.Model, name string) string {
	if f := m.Field(name); f != nil {
		return fieldSQLType(f, name == m.PrimaryKeyName())
	}
	return "DATETIME(6)"
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
	sql.WriteString(")\n) CHARACTER SET=utf8mb4;\n")
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

// upsertSQL renders a REPLACE INTO with quoted literals for the seed and
// load paths.
func upsertSQL(m *internal.Model, rec internal.Record) string {
	var sql strings.Builder
	sql.WriteString("REPLACE INTO ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	var columns []string
	var insertVals []string
	for _, name := range m.Columns() {
		val, ok := rec[name]
		if !ok {
			continue
		}
		t, _ := m.ColumnType(name)
		columns = append(columns, quoteIdentifier(name))
		insertVals = append(insertVals, quoteValue(internal.ArgValue(t, val)))
	}
	sql.WriteString(" (")
	sql.WriteString(strings.Join(columns, ","))
	sql.WriteString(") VALUES (")
	sql.WriteString(strings.Join(insertVals, ","))
	sql.WriteString(");\n")
	return sql.String()
}

func parseURLToDSN(urlstr string) (string, error) {
	//username:password@protocol(address)/dbname?param=value
	u, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("error parsing url: %w", err)
	}
	vals := u.Query()
	vals.Set("multiStatements", "true")
	vals.Set("parseTime", "true")
	var dsn strings.Builder
	if u.User != nil {
		dsn.WriteString(util.ToUserPass(u))
		dsn.WriteString("@")
	}
	dsn.WriteString("tcp(")
	dsn.WriteString(u.Host)
	dsn.WriteString(")")
	dsn.WriteString(u.Path)
	dsn.WriteString("?")
	dsn.WriteString(vals.Encode())
	return dsn.String(), nil
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
// reference uses. The key participates in the composite primary key so the
// bounded pk mapping applies, and auto increment never carries over.
func pivotKeySQLType(m *internal.Model) string {
	f := m.PrimaryKeyField()
	if f == nil {
		return "BIGINT"
	}
	k := *f
	k.Auto = ""
	return fieldSQLType(&k, true)
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
	sql.WriteString(")\n) CHARACTER SET=utf8mb4;\n")
	index := internal.GenerateIndexName(p.Table, []string{p.RelatedKey}, "idx")
	return []string{
		sql.String(),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);\n", quoteIdentifier(index), quoteIdentifier(p.Table), quoteIdentifier(p.RelatedKey)),
	}
}
