package internal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/shopmonkeyus/go-common/logger"
)

// PKSource says how the generated primary key of an INSERT is obtained.
type PKSource int

const (
	// PKNone means the statement returns no generated key (the key was
	// provided by the caller or generated client side).
	PKNone PKSource = iota

	// PKScan means the statement yields the generated key as a result row
	// (RETURNING / OUTPUT) and must be run with QueryRow.
	PKScan

	// PKLastInsert means the generated key comes from sql.Result.LastInsertId.
	PKLastInsert
)

// Statement is a built SQL statement with its bind arguments.
type Statement struct {
	SQL    string
	Args   []any
	PKFrom PKSource
}

// ColumnDescription is one column of a live table.
type ColumnDescription struct {
	Name     string
	DataType string
	Nullable bool
}

// TableDescription is the shape of a live table as reported by the backend.
type TableDescription struct {
	Name    string
	Columns []ColumnDescription
}

// HasColumn reports whether the table has the named column.
func (t *TableDescription) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Dialect is the interface implemented by every SQL backend. A dialect is a
// stateless statement builder plus the backend-specific connection handling;
// execution happens in the store.
type Dialect interface {

	// Connect opens the database handle for the given URL.
	Connect(ctx context.Context, logger logger.Logger, urlString string) (*sql.DB, error)

	// QuoteIdentifier quotes a table or column name when the backend
	// requires it.
	QuoteIdentifier(val string) string

	// QuoteValue renders a value as a SQL literal for generated SQL files.
	QuoteValue(val any) string

	// SelectByPK builds the single row fetch.
	SelectByPK(model *Model, pk any, includeDeleted bool) Statement

	// SelectList builds the list query for the parsed query options.
	SelectList(model *Model, q *ListQuery) Statement

	// Count builds the row count. When filtered is false the statement
	// counts all rows of the model (minus soft deleted); when true it
	// applies the query's filters and search.
	Count(model *Model, q *ListQuery, filtered bool) Statement

	// Insert builds the INSERT for the record's columns.
	Insert(model *Model, rec Record) Statement

	// Update builds a partial UPDATE of the given columns.
	Update(model *Model, pk any, rec Record, columns []string) Statement

	// Delete builds the delete; models with soft delete get an UPDATE of
	// the deleted_at column instead.
	Delete(model *Model, pk any) Statement

	// SelectRelated builds the relationship query: a filtered select on the
	// related model joined back to the parent row. For many_to_many the
	// join goes through the pivot table.
	SelectRelated(model *Model, rel *Relation, related *Model, pk any, q *ListQuery) Statement

	// CountRelated counts the relationship rows.
	CountRelated(model *Model, rel *Relation, related *Model, pk any, q *ListQuery, filtered bool) Statement

	// AttachPivot and DetachPivot maintain many_to_many pivot rows.
	AttachPivot(model *Model, rel *Relation, pk any, relatedPK any) Statement
	DetachPivot(model *Model, rel *Relation, pk any, relatedPK any) Statement

	// UpsertLiteral renders an idempotent insert with quoted literals. The
	// seed and load paths emit or execute these as plain SQL.
	UpsertLiteral(model *Model, rec Record) string

	// AttachPivotLiteral renders an idempotent pivot row insert with quoted
	// literals, the seed path's counterpart to AttachPivot.
	AttachPivotLiteral(rel *Relation, pk any, relatedPK any) string

	// CreateTable builds the DDL for the model's table.
	CreateTable(model *Model) string

	// AddColumns builds the DDL to add the named columns to an existing
	// table.
	AddColumns(model *Model, columns []string) string

	// CreateIndexes builds the secondary index DDL for a freshly created
	// table: the foreign key columns of belongs_to relations plus the
	// deleted_at column for soft delete models.
	CreateIndexes(model *Model) []string

	// CreatePivot builds the DDL statements for a many_to_many pivot
	// table: the two key columns with a composite primary key plus a
	// reverse lookup index on the related key.
	CreatePivot(rel *Relation, local *Model, related *Model) []string
}

// DialectAlias is implemented by dialects that answer to additional URL
// schemes beyond the one they registered under.
type DialectAlias interface {
	Aliases() []string
}

// DialectHelp is implemented by dialects that document themselves.
type DialectHelp interface {

	// Name is a unique name for the dialect.
	Name() string

	// Description is the description of the dialect.
	Description() string

	// ExampleURL should return an example URL for configuring the dialect.
	ExampleURL() string

	// Help should return detailed help documentation for the dialect.
	Help() string
}

// DialectMigration is implemented by dialects that support schema
// migration.
type DialectMigration interface {

	// Describe returns the live shape of a table, or nil if the table does
	// not exist.
	Describe(ctx context.Context, db *sql.DB, table string) (*TableDescription, error)
}

// DialectMetadata describes a registered dialect for help output.
type DialectMetadata struct {
	Scheme            string `json:"scheme"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	ExampleURL        string `json:"exampleURL"`
	Help              string `json:"help"`
	SupportsMigration bool   `json:"supportsMigration"`
}

var dialectRegistry = map[string]Dialect{}
var dialectAliasRegistry = map[string]string{}

// RegisterDialect registers a dialect for a given URL scheme.
func RegisterDialect(scheme string, dialect Dialect) {
	dialectRegistry[scheme] = dialect
	if p, ok := dialect.(DialectAlias); ok {
		for _, alias := range p.Aliases() {
			dialectAliasRegistry[alias] = scheme
		}
	}
}

func dialectSupportsMigration(dialect Dialect) bool {
	_, ok := dialect.(DialectMigration)
	return ok
}

// GetDialectMetadata returns the metadata for all registered dialects.
func GetDialectMetadata() []DialectMetadata {
	var res []DialectMetadata
	for scheme, dialect := range dialectRegistry {
		if help, ok := dialect.(DialectHelp); ok {
			res = append(res, DialectMetadata{
				Scheme:            scheme,
				Name:              help.Name(),
				Description:       help.Description(),
				ExampleURL:        help.ExampleURL(),
				Help:              ansi.Strip(help.Help()),
				SupportsMigration: dialectSupportsMigration(dialect),
			})
		} else {
			res = append(res, DialectMetadata{
				Scheme: scheme,
				Name:   scheme,
			})
		}
	}
	return res
}

// LookupDialect returns the dialect registered for the URL's scheme.
func LookupDialect(urlString string) (Dialect, string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse URL: %w", err)
	}
	scheme := u.Scheme
	dialect := dialectRegistry[scheme]
	if dialect == nil {
		if protocol := dialectAliasRegistry[scheme]; protocol != "" {
			scheme = protocol
			dialect = dialectRegistry[protocol]
		}
		if dialect == nil {
			return nil, "", fmt.Errorf("no dialect registered for scheme %s", u.Scheme)
		}
	}
	return dialect, scheme, nil
}

// GenerateIndexName builds an index name from the table and columns,
// truncated so that name plus suffix stays inside the 63 byte identifier
// limit.
func GenerateIndexName(table string, columns []string, suffix string) string {
	name := table + "_"
	name += strings.Join(columns, "_")
	if len(name)+len(suffix)+1 > 63 {
		trim := len(name) + len(suffix) + 1 - 63
		name = name[0 : len(name)-trim]
	}
	if len(columns) > 0 {
		name += "_" + suffix
	} else {
		name += suffix
	}
	return name
}

// IndexColumns returns the columns of a model worth a secondary index.
func IndexColumns(m *Model) []string {
	var res []string
	for i := range m.Relations {
		r := &m.Relations[i]
		if r.Type == RelationBelongsTo {
			res = append(res, r.ForeignKey)
		}
	}
	if m.SoftDelete {
		res = append(res, DeletedAtColumn)
	}
	return res
}

// FieldError is a validation error tied to a specific field.
type FieldError struct {
	Field   string `json:"field" msgpack:"field"`
	Message string `json:"error" msgpack:"error"`
}

func (f FieldError) Error() string {
	return f.Message
}

func NewFieldError(field, message string) FieldError {
	return FieldError{
		Field:   field,
		Message: message,
	}
}
