package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crud6/crud6/internal"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

func TestGetPathFromURL(t *testing.T) {
	var sink fileSink
	tmpdir, err := os.MkdirTemp("", "test")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpdir)

	dir, err := sink.getPathFromURL("file://" + tmpdir)
	assert.NoError(t, err)
	assert.Equal(t, tmpdir, dir)

	_, err = sink.getPathFromURL("file://")
	assert.Error(t, err)

	// a missing directory is created
	missing := filepath.Join(tmpdir, "sub")
	dir, err = sink.getPathFromURL("file://" + missing)
	assert.NoError(t, err)
	assert.Equal(t, missing, dir)
	assert.DirExists(t, missing)
}

func TestProcess(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "test")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpdir)

	var sink fileSink
	assert.NoError(t, sink.Start(internal.SinkConfig{
		Context: context.Background(),
		Logger:  logger.NewTestLogger(),
		URL:     "file://" + tmpdir,
	}))

	m := &internal.Model{
		Name: "ticket",
		Fields: []internal.Field{
			{Name: "id", Type: internal.FieldTypeInteger, Auto: internal.AutoIncrement},
			{Name: "subject", Type: internal.FieldTypeString, Required: true},
		},
	}
	ev1 := internal.NewChangeEvent("INSERT", m, "7", nil, internal.Record{"id": 7, "subject": "Flat tire"}, nil, "test")
	ev2 := internal.NewChangeEvent("DELETE", m, "7", internal.Record{"id": 7, "subject": "Flat tire"}, nil, nil, "test")
	for _, ev := range []internal.ChangeEvent{ev1, ev2} {
		flush, err := sink.Process(ev)
		assert.NoError(t, err)
		assert.False(t, flush)
	}
	assert.NoError(t, sink.Stop())

	buf, err := os.ReadFile(filepath.Join(tmpdir, "ticket.ndjson"))
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(buf), "\n"), "\n")
	assert.Len(t, lines, 2)

	var got internal.ChangeEvent
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, ev1.ID, got.ID)
	assert.Equal(t, "INSERT", got.Operation)
	assert.Equal(t, "ticket", got.Model)
	assert.Equal(t, "7", got.Key)
}
