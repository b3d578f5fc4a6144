package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewChangeEvent(t *testing.T) {
	m := testModel()
	m.Fingerprint = "abc123"
	before := Record{"subject": "a", "priority": int64(1)}
	after := Record{"subject": "a", "priority": int64(2)}

	evt := NewChangeEvent(OperationUpdate, m, "7", before, after, []string{"priority"}, "srv_1")
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, OperationUpdate, evt.Operation)
	assert.Equal(t, "ticket", evt.Model)
	assert.Equal(t, "ticket", evt.Table)
	assert.Equal(t, "7", evt.Key)
	assert.Equal(t, []string{"priority"}, evt.Diff)
	assert.Equal(t, "abc123", evt.Fingerprint)
	assert.Equal(t, "srv_1", evt.ServerID)
	assert.NotZero(t, evt.Timestamp)
	assert.Equal(t, "crud6.ticket.UPDATE", evt.Subject())
	assert.JSONEq(t, `{"subject":"a","priority":2}`, string(evt.After))

	obj, err := evt.GetObject()
	assert.NoError(t, err)
	assert.Equal(t, "a", obj["subject"])

	del := NewChangeEvent(OperationDelete, m, "7", before, nil, nil, "srv_1")
	assert.Nil(t, del.After)
	obj, err = del.GetObject()
	assert.NoError(t, err)
	assert.Equal(t, float64(1), obj["priority"]) // falls back to the before image
}
