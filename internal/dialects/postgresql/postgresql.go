package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	_ "github.com/lib/pq"
	"github.com/shopmonkeyus/go-common/logger"
)

type pgDialect struct {
}

var _ internal.Dialect = (*pgDialect)(nil)
var _ internal.DialectAlias = (*pgDialect)(nil)
var _ internal.DialectHelp = (*pgDialect)(nil)
var _ internal.DialectMigration = (*pgDialect)(nil)

func (p *pgDialect) Connect(ctx context.Context, logger logger.Logger, urlString string) (*sql.DB, error) {
	urlstr, err := getConnectionStringFromURL(urlString)
	if err != nil {
		return nil, err
	}
	masked, _ := util.MaskURL(urlstr)
	logger.Trace("connecting to %s", masked)
	db, err := sql.Open("postgres", urlstr)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *pgDialect) QuoteIdentifier(val string) string {
	return quoteIdentifier(val)
}

func (p *pgDialect) QuoteValue(val any) string {
	return quoteValue(val)
}

func (p *pgDialect) SelectByPK(m *internal.Model, pk any, includeDeleted bool) internal.Statement {
	var a args
	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(columnList(m.Columns(), ""))
	sql.WriteString(" FROM ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" WHERE ")
	sql.WriteString(quoteIdentifier(m.PrimaryKeyName()))
	sql.WriteString(" = ")
	sql.WriteString(a.add(pk))
	if m.SoftDelete && !includeDeleted {
		sql.WriteString(" AND ")
		sql.WriteString(quoteIdentifier(internal.DeletedAtColumn))
		sql.WriteString(" IS NULL")
	}
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) SelectList(m *internal.Model, q *internal.ListQuery) internal.Statement {
	var a args
	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(columnList(m.ListableColumns(), ""))
	sql.WriteString(" FROM ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(whereClause(wherePredicates(m, q, "", &a)))
	sql.WriteString(orderBy(q.Sorts, ""))
	sql.WriteString(limitOffset(q))
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) Count(m *internal.Model, q *internal.ListQuery, filtered bool) internal.Statement {
	if !filtered {
		q = &internal.ListQuery{IncludeDeleted: q != nil && q.IncludeDeleted}
	}
	var a args
	var sql strings.Builder
	sql.WriteString("SELECT COUNT(*) FROM ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(whereClause(wherePredicates(m, q, "", &a)))
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) Insert(m *internal.Model, rec internal.Record) internal.Statement {
	var a args
	var columns []string
	var values []string
	for _, name := range m.Columns() {
		val, ok := rec[name]
		if !ok {
			continue
		}
		t, _ := m.ColumnType(name)
		columns = append(columns, quoteIdentifier(name))
		values = append(values, a.add(internal.ArgValue(t, val)))
	}
	var sql strings.Builder
	sql.WriteString("INSERT INTO ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" (")
	sql.WriteString(strings.Join(columns, ","))
	sql.WriteString(") VALUES (")
	sql.WriteString(strings.Join(values, ","))
	sql.WriteString(")")
	pkFrom := internal.PKNone
	if f := m.PrimaryKeyField(); f != nil && f.Auto == internal.AutoIncrement {
		sql.WriteString(" RETURNING ")
		sql.WriteString(quoteIdentifier(m.PrimaryKeyName()))
		pkFrom = internal.PKScan
	}
	return internal.Statement{SQL: sql.String(), Args: a.vals, PKFrom: pkFrom}
}

func (p *pgDialect) Update(m *internal.Model, pk any, rec internal.Record, columns []string) internal.Statement {
	var a args
	var sql strings.Builder
	sql.WriteString("UPDATE ")
	sql.WriteString(quoteIdentifier(m.TableName()))
	sql.WriteString(" SET ")
	var sets []string
	for _, name := range columns {
		t, _ := m.ColumnType(name)
		sets = append(sets, fmt.Sprintf("%s = %s", quoteIdentifier(name), a.add(internal.ArgValue(t, rec[name]))))
	}
	sql.WriteString(strings.Join(sets, ", "))
	sql.WriteString(" WHERE ")
	sql.WriteString(quoteIdentifier(m.PrimaryKeyName()))
	sql.WriteString(" = ")
	sql.WriteString(a.add(pk))
	if m.SoftDelete {
		sql.WriteString(" AND ")
		sql.WriteString(quoteIdentifier(internal.DeletedAtColumn))
		sql.WriteString(" IS NULL")
	}
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) Delete(m *internal.Model, pk any) internal.Statement {
	var a args
	var sql strings.Builder
	if m.SoftDelete {
		sql.WriteString("UPDATE ")
		sql.WriteString(quoteIdentifier(m.TableName()))
		sql.WriteString(" SET ")
		sql.WriteString(quoteIdentifier(internal.DeletedAtColumn))
		sql.WriteString(" = ")
		sql.WriteString(a.add(time.Now().UTC()))
		sql.WriteString(" WHERE ")
		sql.WriteString(quoteIdentifier(m.PrimaryKeyName()))
		sql.WriteString(" = ")
		sql.WriteString(a.add(pk))
		sql.WriteString(" AND ")
		sql.WriteString(quoteIdentifier(internal.DeletedAtColumn))
		sql.WriteString(" IS NULL")
	} else {
		sql.WriteString("DELETE FROM ")
		sql.WriteString(quoteIdentifier(m.TableName()))
		sql.WriteString(" WHERE ")
		sql.WriteString(quoteIdentifier(m.PrimaryKeyName()))
		sql.WriteString(" = ")
		sql.WriteString(a.add(pk))
	}
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

// relatedFrom builds the FROM/JOIN/parent predicate part shared by
// SelectRelated and CountRelated. It returns the FROM clause (without the
// SELECT list) and the predicate list seeded with the parent key match.
func (p *pgDialect) relatedFrom(m *internal.Model, rel *internal.Relation, related *internal.Model, pk any, q *internal.ListQuery, a *args) (string, []string, string) {
	rt := quoteIdentifier(related.TableName()) + "."
	var from strings.Builder
	var preds []string
	switch rel.Type {
	case internal.RelationBelongsTo:
		pt := quoteIdentifier(m.TableName()) + "."
		from.WriteString(quoteIdentifier(related.TableName()))
		from.WriteString(" INNER JOIN ")
		from.WriteString(quoteIdentifier(m.TableName()))
		from.WriteString(" ON ")
		from.WriteString(pt + quoteIdentifier(rel.ForeignKey))
		from.WriteString(" = ")
		from.WriteString(rt + quoteIdentifier(related.PrimaryKeyName()))
		preds = append(preds, fmt.Sprintf("%s = %s", pt+quoteIdentifier(m.PrimaryKeyName()), a.add(pk)))
	case internal.RelationHasMany:
		rt = ""
		from.WriteString(quoteIdentifier(related.TableName()))
		preds = append(preds, fmt.Sprintf("%s = %s", quoteIdentifier(rel.ForeignKey), a.add(pk)))
	case internal.RelationManyToMany:
		pivot := quoteIdentifier(rel.Pivot.Table) + "."
		from.WriteString(quoteIdentifier(related.TableName()))
		from.WriteString(" INNER JOIN ")
		from.WriteString(quoteIdentifier(rel.Pivot.Table))
		from.WriteString(" ON ")
		from.WriteString(pivot + quoteIdentifier(rel.Pivot.RelatedKey))
		from.WriteString(" = ")
		from.WriteString(rt + quoteIdentifier(related.PrimaryKeyName()))
		preds = append(preds, fmt.Sprintf("%s = %s", pivot+quoteIdentifier(rel.Pivot.LocalKey), a.add(pk)))
	}
	preds = append(preds, wherePredicates(related, q, rt, a)...)
	return from.String(), preds, rt
}

func (p *pgDialect) SelectRelated(m *internal.Model, rel *internal.Relation, related *internal.Model, pk any, q *internal.ListQuery) internal.Statement {
	var a args
	from, preds, rt := p.relatedFrom(m, rel, related, pk, q, &a)
	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(columnList(related.ListableColumns(), rt))
	sql.WriteString(" FROM ")
	sql.WriteString(from)
	sql.WriteString(whereClause(preds))
	if rel.Type != internal.RelationBelongsTo {
		sql.WriteString(orderBy(q.Sorts, rt))
		sql.WriteString(limitOffset(q))
	}
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) CountRelated(m *internal.Model, rel *internal.Relation, related *internal.Model, pk any, q *internal.ListQuery, filtered bool) internal.Statement {
	if !filtered {
		q = &internal.ListQuery{IncludeDeleted: q != nil && q.IncludeDeleted}
	}
	var a args
	from, preds, _ := p.relatedFrom(m, rel, related, pk, q, &a)
	var sql strings.Builder
	sql.WriteString("SELECT COUNT(*) FROM ")
	sql.WriteString(from)
	sql.WriteString(whereClause(preds))
	return internal.Statement{SQL: sql.String(), Args: a.vals}
}

func (p *pgDialect) AttachPivot(m *internal.Model, rel *internal.Relation, pk any, relatedPK any) internal.Statement {
	var a args
	sql := fmt.Sprintf("INSERT INTO %s (%s,%s) VALUES (%s,%s) ON CONFLICT DO NOTHING",
		quoteIdentifier(rel.Pivot.Table),
		quoteIdentifier(rel.Pivot.LocalKey),
		quoteIdentifier(rel.Pivot.RelatedKey),
		a.add(pk),
		a.add(relatedPK),
	)
	return internal.Statement{SQL: sql, Args: a.vals}
}

func (p *pgDialect) DetachPivot(m *internal.Model, rel *internal.Relation, pk any, relatedPK any) internal.Statement {
	var a args
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		quoteIdentifier(rel.Pivot.Table),
		quoteIdentifier(rel.Pivot.LocalKey),
		a.add(pk),
		quoteIdentifier(rel.Pivot.RelatedKey),
		a.add(relatedPK),
	)
	return internal.Statement{SQL: sql, Args: a.vals}
}

func (p *pgDialect) UpsertLiteral(m *internal.Model, rec internal.Record) string {
	return upsertSQL(m, rec)
}

func (p *pgDialect) AttachPivotLiteral(rel *internal.Relation, pk any, relatedPK any) string {
	return fmt.Sprintf("INSERT INTO %s (%s,%s) VALUES (%s,%s) ON CONFLICT DO NOTHING;\n",
		quoteIdentifier(rel.Pivot.Table),
		quoteIdentifier(rel.Pivot.LocalKey),
		quoteIdentifier(rel.Pivot.RelatedKey),
		quoteValue(pk),
		quoteValue(relatedPK),
	)
}

func (p *pgDialect) CreateTable(m *internal.Model) string {
	return createSQL(m)
}

func (p *pgDialect) AddColumns(m *internal.Model, columns []string) string {
	return addColumnsSQL(m, columns)
}

func (p *pgDialect) CreateIndexes(m *internal.Model) []string {
	return createIndexesSQL(m)
}

func (p *pgDialect) CreatePivot(rel *internal.Relation, local *internal.Model, related *internal.Model) []string {
	return createPivotSQL(rel, local, related)
}

func (p *pgDialect) Describe(ctx context.Context, db *sql.DB, table string) (*internal.TableDescription, error) {
	rows, err := db.QueryContext(ctx, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position", table)
	if err != nil {
		return nil, fmt.Errorf("error querying information_schema for table %s: %w", table, err)
	}
	defer rows.Close()
	td := &internal.TableDescription{Name: table}
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, err
		}
		td.Columns = append(td.Columns, internal.ColumnDescription{
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(td.Columns) == 0 {
		return nil, nil
	}
	return td, nil
}

func (p *pgDialect) Name() string {
	return "PostgreSQL"
}

func (p *pgDialect) Description() string {
	return "Serves CRUD models from a PostgreSQL database."
}

func (p *pgDialect) ExampleURL() string {
	return "postgres://localhost:5432/database"
}

func (p *pgDialect) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Connection", "Localhost connections automatically disable TLS unless sslmode is set in the URL.\n"))
	return help.String()
}

func (p *pgDialect) Aliases() []string {
	return []string{"postgresql"}
}

func init() {
	internal.RegisterDialect("postgres", &pgDialect{})
}
