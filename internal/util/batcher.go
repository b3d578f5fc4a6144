package util

import (
	"github.com/crud6/crud6/internal"
)

// Batcher accumulates rows for a bulk write, deduplicating by model and
// primary key so the last version of a row wins within a batch.
type Batcher struct {
	rows []*Row
	pks  map[string]int
}

// Row is one pending row of a bulk write.
type Row struct {
	Model  string          `json:"model"`
	Key    string          `json:"key"`
	Record internal.Record `json:"record"`
}

func (r *Row) String() string {
	return JSONStringify(r)
}

// Rows returns the pending rows in insertion order.
func (b *Batcher) Rows() []*Row {
	return b.rows
}

// Add will add a row, replacing any pending row with the same model and key.
func (b *Batcher) Add(model string, key string, record internal.Record) {
	id := model + "/" + key
	if i, ok := b.pks[id]; ok {
		b.rows[i] = &Row{Model: model, Key: key, Record: record}
		return
	}
	b.pks[id] = len(b.rows)
	b.rows = append(b.rows, &Row{Model: model, Key: key, Record: record})
}

// Clear will clear the batcher and reset the internal state.
func (b *Batcher) Clear() {
	b.rows = nil
	b.pks = make(map[string]int)
}

// Len will return the number of rows pending in the batcher.
func (b *Batcher) Len() int {
	return len(b.rows)
}

// NewBatcher creates a new batcher instance.
func NewBatcher() *Batcher {
	return &Batcher{
		pks: make(map[string]int),
	}
}
