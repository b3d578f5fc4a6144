package internal

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListQueryDefaults(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{})
	assert.Empty(t, errs)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 25, q.PerPage)
	assert.Equal(t, []Sort{{Field: "id"}}, q.Sorts)
	assert.Empty(t, q.Filters)
	assert.Equal(t, 0, q.Offset())

	m.DefaultSort = []Sort{{Field: "priority", Dir: "desc"}}
	q, _ = ParseListQuery(m, url.Values{})
	assert.Equal(t, m.DefaultSort, q.Sorts)
	assert.True(t, q.Sorts[0].Descending())
}

func TestParseListQueryPaging(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{"page": {"3"}, "per_page": {"10"}})
	assert.Empty(t, errs)
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 10, q.PerPage)
	assert.Equal(t, 20, q.Offset())

	q, errs = ParseListQuery(m, url.Values{"per_page": {"9999"}})
	assert.Empty(t, errs)
	assert.Equal(t, 200, q.PerPage)

	_, errs = ParseListQuery(m, url.Values{"page": {"0"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "page", errs[0].Field)

	_, errs = ParseListQuery(m, url.Values{"per_page": {"lots"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "per_page", errs[0].Field)
}

func TestParseListQuerySort(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{"sort": {"-created_at,subject"}})
	assert.Empty(t, errs)
	assert.Equal(t, []Sort{{Field: "created_at", Dir: "desc"}, {Field: "subject"}}, q.Sorts)

	// status never opted into sorting
	q, errs = ParseListQuery(m, url.Values{"sort": {"status"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "sort", errs[0].Field)
	assert.Equal(t, []Sort{{Field: "id"}}, q.Sorts)

	// the primary key is always sortable
	_, errs = ParseListQuery(m, url.Values{"sort": {"id"}})
	assert.Empty(t, errs)
}

func TestParseListQueryFilters(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{"filter[status]": {"open"}})
	assert.Empty(t, errs)
	assert.Equal(t, []Filter{{Field: "status", Op: FilterEq, Value: "open"}}, q.Filters)

	q, errs = ParseListQuery(m, url.Values{"filter[priority:gte]": {"3"}})
	assert.Empty(t, errs)
	assert.Equal(t, []Filter{{Field: "priority", Op: FilterGte, Value: int64(3)}}, q.Filters)

	q, errs = ParseListQuery(m, url.Values{"filter[subject:like]": {"printer%"}})
	assert.Empty(t, errs)
	assert.Equal(t, []Filter{{Field: "subject", Op: FilterLike, Value: "printer%"}}, q.Filters)

	_, errs = ParseListQuery(m, url.Values{"filter[priority:like]": {"3"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "like requires a string field", errs[0].Message)

	_, errs = ParseListQuery(m, url.Values{"filter[body]": {"x"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "field is not filterable", errs[0].Message)

	_, errs = ParseListQuery(m, url.Values{"filter[priority:between]": {"1"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "unknown filter operator between", errs[0].Message)

	_, errs = ParseListQuery(m, url.Values{"filter[priority]": {"high"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "must be an integer", errs[0].Message)
}

func TestParseListQuerySearch(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{"q": {"fire"}})
	assert.Empty(t, errs)
	assert.Equal(t, "fire", q.Search)

	m.Fields[1].Searchable = false
	_, errs = ParseListQuery(m, url.Values{"q": {"fire"}})
	assert.Len(t, errs, 1)
	assert.Equal(t, "model has no searchable fields", errs[0].Message)
}

func TestParseListQueryDeleted(t *testing.T) {
	m := testModel()
	q, errs := ParseListQuery(m, url.Values{"deleted": {"true"}})
	assert.Empty(t, errs)
	assert.True(t, q.IncludeDeleted)

	m.SoftDelete = false
	q, _ = ParseListQuery(m, url.Values{"deleted": {"true"}})
	assert.False(t, q.IncludeDeleted)
}
