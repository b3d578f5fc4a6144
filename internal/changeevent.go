package internal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Change operations.
const (
	OperationInsert = "INSERT"
	OperationUpdate = "UPDATE"
	OperationDelete = "DELETE"
)

// ChangeEvent is emitted after every successful mutation. Before carries the
// row as it was (updates and deletes), After the row as it is now (inserts
// and updates), and Diff the columns an update actually changed.
type ChangeEvent struct {
	ID          string          `json:"id" msgpack:"id"`
	Operation   string          `json:"operation" msgpack:"operation"`
	Model       string          `json:"model" msgpack:"model"`
	Table       string          `json:"table" msgpack:"table"`
	Key         string          `json:"key" msgpack:"key"`
	Before      json.RawMessage `json:"before,omitempty" msgpack:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty" msgpack:"after,omitempty"`
	Diff        []string        `json:"diff,omitempty" msgpack:"diff,omitempty"`
	Timestamp   int64           `json:"timestamp" msgpack:"timestamp"`
	Fingerprint string          `json:"fingerprint" msgpack:"fingerprint"`
	ServerID    string          `json:"serverId" msgpack:"serverId"`

	object map[string]any
}

func (c *ChangeEvent) String() string {
	return "ChangeEvent[op=" + c.Operation + ",model=" + c.Model + ",key=" + c.Key + "]"
}

// Subject returns the routing key for broker sinks: crud6.<model>.<op>.
func (c *ChangeEvent) Subject() string {
	return "crud6." + c.Model + "." + c.Operation
}

// GetObject returns the row the event describes, preferring After.
func (c *ChangeEvent) GetObject() (map[string]any, error) {
	raw := c.After
	if raw == nil {
		raw = c.Before
	}
	if raw == nil {
		return nil, nil
	}
	if c.object == nil {
		res := make(map[string]any)
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, err
		}
		c.object = res
	}
	return c.object, nil
}

// NewChangeEvent assembles an event for a mutation on the model. before and
// after may be nil depending on the operation.
func NewChangeEvent(op string, m *Model, key string, before Record, after Record, diff []string, serverID string) ChangeEvent {
	evt := ChangeEvent{
		ID:          uuid.New().String(),
		Operation:   op,
		Model:       m.Name,
		Table:       m.TableName(),
		Key:         key,
		Diff:        diff,
		Timestamp:   time.Now().UnixMilli(),
		Fingerprint: m.Fingerprint,
		ServerID:    serverID,
	}
	if before != nil {
		evt.Before, _ = json.Marshal(before)
	}
	if after != nil {
		evt.After, _ = json.Marshal(after)
	}
	return evt
}
