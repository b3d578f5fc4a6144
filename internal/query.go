package internal

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// FilterOp is a list filter operator.
type FilterOp string

const (
	FilterEq   FilterOp = "eq"
	FilterNeq  FilterOp = "neq"
	FilterGt   FilterOp = "gt"
	FilterGte  FilterOp = "gte"
	FilterLt   FilterOp = "lt"
	FilterLte  FilterOp = "lte"
	FilterLike FilterOp = "like"
)

// Filter is one WHERE term of a list query. Value is already coerced to the
// field's type.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// ListQuery is the parsed, validated query for a list endpoint. Everything
// in it has been checked against the model: only sortable fields sort, only
// filterable fields filter, and values carry the field's type. Dialects can
// consume it without further checks.
type ListQuery struct {
	Page           int
	PerPage        int
	Sorts          []Sort
	Filters        []Filter
	Search         string
	IncludeDeleted bool
}

// Offset returns the row offset for the page.
func (q *ListQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// DefaultListQuery returns the query used when no options are given.
func DefaultListQuery(m *Model) *ListQuery {
	return &ListQuery{
		Page:    1,
		PerPage: m.PerPageOrDefault(),
		Sorts:   defaultSorts(m),
	}
}

func defaultSorts(m *Model) []Sort {
	if len(m.DefaultSort) > 0 {
		return m.DefaultSort
	}
	return []Sort{{Field: m.PrimaryKeyName()}}
}

// sortableColumn reports whether ordering by the column is allowed: fields
// that opt in, the primary key, and the maintained timestamp columns.
func sortableColumn(m *Model, name string) bool {
	if f := m.Field(name); f != nil {
		return f.Sortable || name == m.PrimaryKeyName()
	}
	switch name {
	case CreatedAtColumn, UpdatedAtColumn:
		return m.Timestamps
	case DeletedAtColumn:
		return m.SoftDelete
	}
	return false
}

// ParseListQuery builds a ListQuery for the model from URL query values:
// ?page= ?per_page= ?sort=name,-created_at ?filter[field]=v
// ?filter[field:op]=v ?q=search ?deleted=true. Invalid options accumulate
// as field errors; unrelated query parameters are ignored.
func ParseListQuery(m *Model, values url.Values) (*ListQuery, []FieldError) {
	var errs []FieldError
	q := DefaultListQuery(m)

	if v := values.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			errs = append(errs, NewFieldError("page", "must be a positive integer"))
		} else {
			q.Page = page
		}
	}
	if v := values.Get("per_page"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			errs = append(errs, NewFieldError("per_page", "must be a positive integer"))
		} else {
			if size > 200 {
				size = 200
			}
			q.PerPage = size
		}
	}

	if v := values.Get("sort"); v != "" {
		var sorts []Sort
		for _, term := range strings.Split(v, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			s := Sort{Field: term}
			if strings.HasPrefix(term, "-") {
				s = Sort{Field: term[1:], Dir: "desc"}
			}
			if !sortableColumn(m, s.Field) {
				errs = append(errs, NewFieldError("sort", fmt.Sprintf("field %s is not sortable", s.Field)))
				continue
			}
			sorts = append(sorts, s)
		}
		if len(sorts) > 0 {
			q.Sorts = sorts
		}
	}

	for key, vals := range values {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		term := key[len("filter[") : len(key)-1]
		name, op := term, FilterEq
		if i := strings.IndexByte(term, ':'); i >= 0 {
			name = term[:i]
			op = FilterOp(term[i+1:])
		}
		f := m.Field(name)
		if f == nil || !f.Filterable {
			errs = append(errs, NewFieldError(name, "field is not filterable"))
			continue
		}
		switch op {
		case FilterEq, FilterNeq, FilterGt, FilterGte, FilterLt, FilterLte:
		case FilterLike:
			if f.Type != FieldTypeString && f.Type != FieldTypeText {
				errs = append(errs, NewFieldError(name, "like requires a string field"))
				continue
			}
		default:
			errs = append(errs, NewFieldError(name, fmt.Sprintf("unknown filter operator %s", op)))
			continue
		}
		for _, raw := range vals {
			var value any
			if op == FilterLike {
				value = raw
			} else {
				coerced, err := CoerceValue(f.Type, raw)
				if err != nil {
					errs = append(errs, NewFieldError(name, err.Error()))
					continue
				}
				value = coerced
			}
			q.Filters = append(q.Filters, Filter{Field: name, Op: op, Value: value})
		}
	}

	if v := values.Get("q"); v != "" {
		if len(m.SearchFields()) == 0 {
			errs = append(errs, NewFieldError("q", "model has no searchable fields"))
		} else {
			q.Search = v
		}
	}

	if v := values.Get("deleted"); v != "" && m.SoftDelete {
		q.IncludeDeleted = v == "true" || v == "1"
	}

	return q, errs
}
