package registry

import (
	"context"
	"testing"
	"time"

	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "author.json", authorSchema)
	reg, err := NewFileRegistry(logger.NewTestLogger(), dir)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()

	// give the watcher a moment to attach before touching the directory
	time.Sleep(100 * time.Millisecond)
	writeSchema(t, dir, "book.json", bookSchema)

	assert.Eventually(t, func() bool {
		_, err := reg.Model("book")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchKeepsModelsOnBadWrite(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, "author.json", authorSchema)
	reg, err := NewFileRegistry(logger.NewTestLogger(), dir)
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeSchema(t, dir, "author.json", "{ busted")

	// the failed reload keeps the previous snapshot serving
	time.Sleep(watchSettle + 250*time.Millisecond)
	m, err := reg.Model("author")
	assert.NoError(t, err)
	assert.Equal(t, "author", m.TableName())

	cancel()
	assert.NoError(t, <-done)
}
