package util

import (
	"context"
	"sync"
	"time"
)

// Cache is a small expiring key-value cache.
type Cache interface {
	// Get returns whether the key was found and, if so, its value.
	Get(key string) (bool, any, error)

	// Set stores a value under key until it expires.
	Set(key string, val any, expires time.Duration) error

	// Close stops the background sweeper.
	Close() error
}

type cacheEntry struct {
	val     any
	expires time.Time
}

type memoryCache struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	entries map[string]cacheEntry
	done    sync.WaitGroup
	once    sync.Once
}

var _ Cache = (*memoryCache)(nil)

func (c *memoryCache) Get(key string) (bool, any, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil, nil
	}
	if time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return false, nil, nil
	}
	return true, entry.val, nil
}

func (c *memoryCache) Set(key string, val any, expires time.Duration) error {
	c.mu.Lock()
	c.entries[key] = cacheEntry{val, time.Now().Add(expires)}
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.done.Wait()
	})
	return nil
}

func (c *memoryCache) sweep(interval time.Duration) {
	defer c.done.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if entry.expires.Before(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// NewCache returns an in-memory Cache which sweeps expired entries every
// expiryCheck interval until the parent context is cancelled or Close is
// called.
func NewCache(parent context.Context, expiryCheck time.Duration) Cache {
	ctx, cancel := context.WithCancel(parent)
	c := &memoryCache{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cacheEntry),
	}
	c.done.Add(1)
	go c.sweep(expiryCheck)
	return c
}
