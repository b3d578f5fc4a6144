package util

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheCloseIdempotent(t *testing.T) {
	cache := NewCache(context.Background(), time.Second)
	assert.NoError(t, cache.Close())
	assert.NoError(t, cache.Close())
}

func TestCacheSetGetExpire(t *testing.T) {
	cache := NewCache(context.Background(), time.Minute)
	defer cache.Close()

	found, val, err := cache.Get("token")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, cache.Set("token", "value", time.Millisecond*10))
	found, val, err = cache.Get("token")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value", val)

	// lazy expiry on read, independent of the sweeper
	time.Sleep(time.Millisecond * 15)
	found, val, err = cache.Get("token")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestCacheBackgroundSweep(t *testing.T) {
	cache := NewCache(context.Background(), time.Millisecond*50)
	defer cache.Close()

	assert.NoError(t, cache.Set("token", "value", time.Millisecond*40))
	time.Sleep(time.Millisecond * 150)

	c := cache.(*memoryCache)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.entries)
}
