package internal

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldType is the logical type of a model field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeInteger  FieldType = "integer"
	FieldTypeFloat    FieldType = "float"
	FieldTypeDecimal  FieldType = "decimal"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeUUID     FieldType = "uuid"
	FieldTypeJSON     FieldType = "json"
)

// AutoIncrement and AutoUUID are the supported values for Field.Auto.
const (
	AutoIncrement = "increment"
	AutoUUID      = "uuid"
)

// Column names maintained by the service when the model opts in.
const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
	DeletedAtColumn = "deleted_at"
)

// Operation names used for permission slugs.
const (
	OpRead   = "read"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

var identifierRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s is safe to use as a model, field or
// table name. Anything else never reaches generated SQL.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// FieldValidation are the value constraints for a field.
type FieldValidation struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// Field is one column of a model.
type Field struct {
	Name       string           `json:"name"`
	Type       FieldType        `json:"type"`
	Title      string           `json:"title,omitempty"`
	Required   bool             `json:"required,omitempty"`
	Nullable   bool             `json:"nullable,omitempty"`
	Default    any              `json:"default,omitempty"`
	Auto       string           `json:"auto,omitempty"`
	ReadOnly   bool             `json:"readonly,omitempty"`
	Listable   *bool            `json:"listable,omitempty"`
	Sortable   bool             `json:"sortable,omitempty"`
	Filterable bool             `json:"filterable,omitempty"`
	Searchable bool             `json:"searchable,omitempty"`
	Validate   *FieldValidation `json:"validate,omitempty"`
}

// IsListable reports whether a field appears in list rows. Fields are
// listable unless the schema opts them out.
func (f *Field) IsListable() bool {
	return f.Listable == nil || *f.Listable
}

// Relation types.
const (
	RelationBelongsTo  = "belongs_to"
	RelationHasMany    = "has_many"
	RelationManyToMany = "many_to_many"
)

// Pivot describes the join table of a many_to_many relation.
type Pivot struct {
	Table      string `json:"table"`
	LocalKey   string `json:"local_key"`
	RelatedKey string `json:"related_key"`
}

// Relation is a named link from one model to another. For belongs_to the
// foreign key lives on this model's table, for has_many on the related
// model's table, and many_to_many goes through the pivot table.
type Relation struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Model      string `json:"model"`
	ForeignKey string `json:"foreign_key,omitempty"`
	Pivot      *Pivot `json:"pivot,omitempty"`
}

// Sort is one ordering term.
type Sort struct {
	Field string `json:"field"`
	Dir   string `json:"dir,omitempty"`
}

// Descending reports whether the sort direction is descending.
func (s Sort) Descending() bool {
	return strings.EqualFold(s.Dir, "desc")
}

// Model is the schema document for one model. One schema file maps to one
// model and one table.
type Model struct {
	Name        string            `json:"model"`
	Table       string            `json:"table,omitempty"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	PrimaryKey  string            `json:"primary_key,omitempty"`
	Timestamps  bool              `json:"timestamps,omitempty"`
	SoftDelete  bool              `json:"soft_delete,omitempty"`
	PerPage     int               `json:"per_page,omitempty"`
	DefaultSort []Sort            `json:"default_sort,omitempty"`
	Permissions map[string]string `json:"permissions,omitempty"`
	Fields      []Field           `json:"fields"`
	Relations   []Relation        `json:"relations,omitempty"`

	// Fingerprint is the canonical hash of the schema document, set by the
	// registry at load time.
	Fingerprint string `json:"-"`
}

// TableName returns the SQL table, defaulting to the model name.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// PrimaryKeyName returns the primary key column, defaulting to id.
func (m *Model) PrimaryKeyName() string {
	if m.PrimaryKey != "" {
		return m.PrimaryKey
	}
	return "id"
}

// Field returns the named field or nil.
func (m *Model) Field(name string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// Relation returns the named relation or nil.
func (m *Model) Relation(name string) *Relation {
	for i := range m.Relations {
		if m.Relations[i].Name == name {
			return &m.Relations[i]
		}
	}
	return nil
}

// PrimaryKeyField returns the field backing the primary key or nil.
func (m *Model) PrimaryKeyField() *Field {
	return m.Field(m.PrimaryKeyName())
}

// Columns returns the column names in deterministic order: the primary key
// first, the remaining fields in declared order, then any maintained
// timestamp columns the schema did not declare itself.
func (m *Model) Columns() []string {
	pk := m.PrimaryKeyName()
	columns := make([]string, 0, len(m.Fields)+3)
	columns = append(columns, pk)
	for _, f := range m.Fields {
		if f.Name != pk {
			columns = append(columns, f.Name)
		}
	}
	if m.Timestamps {
		if m.Field(CreatedAtColumn) == nil {
			columns = append(columns, CreatedAtColumn)
		}
		if m.Field(UpdatedAtColumn) == nil {
			columns = append(columns, UpdatedAtColumn)
		}
	}
	if m.SoftDelete && m.Field(DeletedAtColumn) == nil {
		columns = append(columns, DeletedAtColumn)
	}
	return columns
}

// ColumnType returns the field type for a column, covering the maintained
// timestamp columns whether or not the schema declares them.
func (m *Model) ColumnType(name string) (FieldType, bool) {
	if f := m.Field(name); f != nil {
		return f.Type, true
	}
	switch name {
	case CreatedAtColumn, UpdatedAtColumn:
		if m.Timestamps {
			return FieldTypeDatetime, true
		}
	case DeletedAtColumn:
		if m.SoftDelete {
			return FieldTypeDatetime, true
		}
	}
	return "", false
}

// ColumnNullable reports whether a column may hold NULL.
func (m *Model) ColumnNullable(name string) bool {
	if f := m.Field(name); f != nil {
		if name == m.PrimaryKeyName() {
			return false
		}
		return f.Nullable || !f.Required
	}
	// maintained timestamps: deleted_at is NULL until soft deleted
	return name == DeletedAtColumn
}

// SearchFields returns the fields participating in full-text style search.
func (m *Model) SearchFields() []string {
	var res []string
	for _, f := range m.Fields {
		if f.Searchable {
			res = append(res, f.Name)
		}
	}
	return res
}

// ListableColumns returns the columns included in list rows.
func (m *Model) ListableColumns() []string {
	var res []string
	for _, name := range m.Columns() {
		if f := m.Field(name); f != nil && !f.IsListable() {
			continue
		}
		res = append(res, name)
	}
	return res
}

// PerPageOrDefault returns the page size bounded to [1, 200].
func (m *Model) PerPageOrDefault() int {
	if m.PerPage <= 0 {
		return 25
	}
	if m.PerPage > 200 {
		return 200
	}
	return m.PerPage
}

// PermissionFor returns the permission slug for an operation, defaulting to
// model:op when the schema does not override it.
func (m *Model) PermissionFor(op string) string {
	if slug, ok := m.Permissions[op]; ok && slug != "" {
		return slug
	}
	return m.Name + ":" + op
}

// Validate performs the model-local semantic checks that the meta schema
// cannot express. Cross-model checks (relation targets) are done by the
// registry once all models are loaded.
func (m *Model) Validate() error {
	if !ValidIdentifier(m.Name) {
		return fmt.Errorf("model name %q is not a valid identifier", m.Name)
	}
	if m.Table != "" && !ValidIdentifier(m.Table) {
		return fmt.Errorf("model %s: table %q is not a valid identifier", m.Name, m.Table)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("model %s: must declare at least one field", m.Name)
	}
	seen := make(map[string]bool, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if !ValidIdentifier(f.Name) {
			return fmt.Errorf("model %s: field %q is not a valid identifier", m.Name, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("model %s: duplicate field %s", m.Name, f.Name)
		}
		seen[f.Name] = true
		if !validFieldType(f.Type) {
			return fmt.Errorf("model %s: field %s has unknown type %q", m.Name, f.Name, f.Type)
		}
		switch f.Auto {
		case "":
		case AutoUUID:
			if f.Type != FieldTypeUUID && f.Type != FieldTypeString {
				return fmt.Errorf("model %s: field %s: auto uuid requires a uuid or string field", m.Name, f.Name)
			}
		case AutoIncrement:
			if f.Type != FieldTypeInteger {
				return fmt.Errorf("model %s: field %s: auto increment requires an integer field", m.Name, f.Name)
			}
		default:
			return fmt.Errorf("model %s: field %s has unknown auto value %q", m.Name, f.Name, f.Auto)
		}
		if f.Validate != nil && len(f.Validate.Enum) > 0 {
			switch f.Type {
			case FieldTypeString, FieldTypeText:
			default:
				return fmt.Errorf("model %s: field %s: enum requires a string field", m.Name, f.Name)
			}
		}
	}
	pk := m.PrimaryKeyName()
	if m.Field(pk) == nil {
		return fmt.Errorf("model %s: primary key %s is not a declared field", m.Name, pk)
	}
	for op := range m.Permissions {
		switch op {
		case OpRead, OpCreate, OpUpdate, OpDelete:
		default:
			return fmt.Errorf("model %s: permissions: unknown operation %q", m.Name, op)
		}
	}
	rseen := make(map[string]bool, len(m.Relations))
	for i := range m.Relations {
		r := &m.Relations[i]
		if !ValidIdentifier(r.Name) {
			return fmt.Errorf("model %s: relation %q is not a valid identifier", m.Name, r.Name)
		}
		if rseen[r.Name] {
			return fmt.Errorf("model %s: duplicate relation %s", m.Name, r.Name)
		}
		rseen[r.Name] = true
		if seen[r.Name] {
			return fmt.Errorf("model %s: relation %s collides with a field name", m.Name, r.Name)
		}
		switch r.Type {
		case RelationBelongsTo, RelationHasMany:
			if r.ForeignKey == "" {
				return fmt.Errorf("model %s: relation %s: foreign_key is required", m.Name, r.Name)
			}
			if !ValidIdentifier(r.ForeignKey) {
				return fmt.Errorf("model %s: relation %s: foreign_key %q is not a valid identifier", m.Name, r.Name, r.ForeignKey)
			}
			if r.Type == RelationBelongsTo && m.Field(r.ForeignKey) == nil {
				return fmt.Errorf("model %s: relation %s: foreign_key %s is not a declared field", m.Name, r.Name, r.ForeignKey)
			}
		case RelationManyToMany:
			if r.Pivot == nil {
				return fmt.Errorf("model %s: relation %s: pivot is required for many_to_many", m.Name, r.Name)
			}
			for col, val := range map[string]string{
				"table":       r.Pivot.Table,
				"local_key":   r.Pivot.LocalKey,
				"related_key": r.Pivot.RelatedKey,
			} {
				if val == "" {
					return fmt.Errorf("model %s: relation %s: pivot %s is required", m.Name, r.Name, col)
				}
				if !ValidIdentifier(val) {
					return fmt.Errorf("model %s: relation %s: pivot %s %q is not a valid identifier", m.Name, r.Name, col, val)
				}
			}
		default:
			return fmt.Errorf("model %s: relation %s has unknown type %q", m.Name, r.Name, r.Type)
		}
		if !ValidIdentifier(r.Model) {
			return fmt.Errorf("model %s: relation %s: model %q is not a valid identifier", m.Name, r.Name, r.Model)
		}
	}
	return nil
}

func validFieldType(t FieldType) bool {
	switch t {
	case FieldTypeString, FieldTypeText, FieldTypeInteger, FieldTypeFloat,
		FieldTypeDecimal, FieldTypeBoolean, FieldTypeDate, FieldTypeDatetime,
		FieldTypeUUID, FieldTypeJSON:
		return true
	}
	return false
}

// ModelMap is a map of model names to models.
type ModelMap map[string]*Model

// SchemaRegistry is the interface for a model schema registry.
type SchemaRegistry interface {

	// Models returns all loaded models keyed by name.
	Models() (ModelMap, error)

	// Model returns the named model.
	Model(name string) (*Model, error)

	// Fingerprint returns the schema fingerprint of the named model.
	Fingerprint(name string) (string, error)

	// Save writes the combined model snapshot to a file.
	Save(filename string) error
}
