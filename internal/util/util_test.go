package util

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFileURI(t *testing.T) {
	fileURL := ToFileURI("/var/folders/60/rf284h4d67g343wcswq6jwmr0000gn/T/crud6-events2764310919", "*.ndjson.gz")
	assert.Equal(t, "file:///var/folders/60/rf284h4d67g343wcswq6jwmr0000gn/T/crud6-events2764310919/*.ndjson.gz", fileURL)
	fileURL = ToFileURI("/var/folders/60/rf284h4d67g343wcswq6jwmr0000gn/T/crud6-events2764310919/", "*.ndjson.gz")
	assert.Equal(t, "file:///var/folders/60/rf284h4d67g343wcswq6jwmr0000gn/T/crud6-events2764310919/*.ndjson.gz", fileURL)
}

func TestSliceContains(t *testing.T) {
	assert.True(t, SliceContains([]string{"a", "b"}, "a"))
	assert.False(t, SliceContains([]string{"a", "b"}, "c"))
	assert.False(t, SliceContains(nil, "a"))
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, IsLocalhost("nats://localhost:4222"))
	assert.True(t, IsLocalhost("postgres://127.0.0.1:5432/db"))
	assert.True(t, IsLocalhost("http://0.0.0.0:3000"))
	assert.False(t, IsLocalhost("nats://connect.example.com"))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, Exists(dir))
	fn := filepath.Join(dir, "x.json")
	assert.False(t, Exists(fn))
	assert.NoError(t, os.WriteFile(fn, []byte("{}"), 0644))
	assert.True(t, Exists(fn))
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0644))
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.json"), []byte("{}"), 0644))
	files, err := ListDir(dir)
	assert.NoError(t, err)
	sort.Strings(files)
	assert.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.json"), files[0])
	assert.Equal(t, filepath.Join(dir, "sub", "b.json"), files[1])
}

func TestJSONStringify(t *testing.T) {
	assert.Equal(t, `{"a":1}`, JSONStringify(map[string]int{"a": 1}))
}
