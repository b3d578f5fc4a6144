package util

import (
	"testing"

	"github.com/crud6/crud6/internal"
	"github.com/stretchr/testify/assert"
)

func TestBatcher(t *testing.T) {
	b := NewBatcher()
	b.Add("user", "1", internal.Record{"id": "1", "name": "John", "age": 19})
	assert.NotEmpty(t, b.Rows())
	assert.Equal(t, "John", b.Rows()[0].Record["name"])

	b.Add("user", "2", internal.Record{"id": "2", "name": "Foo", "age": 21})
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, "2", b.Rows()[1].Key)

	// same key replaces the pending row in place
	b.Add("user", "2", internal.Record{"id": "2", "name": "Foo", "age": 22})
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 22, b.Rows()[1].Record["age"])

	// same key on a different model is a different row
	b.Add("ticket", "2", internal.Record{"id": "2", "title": "broken"})
	assert.Equal(t, 3, b.Len())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	b.Add("user", "2", internal.Record{"id": "2", "name": "Bar"})
	assert.Equal(t, 1, b.Len())
}
