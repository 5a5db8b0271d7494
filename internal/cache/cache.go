// SPDX-License-Identifier: MIT

// Package cache keeps resolved check results per report so repeated status
// checks do not round-trip through the automation worker.
package cache

import (
	"sync"
	"time"

	"github.com/frontlogic/taqbridge/internal/metrics"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// Cache stores the worker's last successful check result per report.
type Cache interface {
	// Get returns the cached check result for a report. False on absence
	// or expiry.
	Get(reportID string) (worker.Message, bool)
	// Set stores a check result with the given TTL.
	Set(reportID string, msg worker.Message, ttl time.Duration)
	// Delete drops a report's cached result. Macro edits invalidate it.
	Delete(reportID string)
	// Clear drops every cached result.
	Clear()
}

type entry struct {
	msg        worker.Message
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// memoryCache is the in-process fallback used when no redis is configured.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	janitor *janitor
}

// NewMemoryCache creates an in-memory cache. A positive cleanupInterval
// starts a janitor that evicts expired entries in the background.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*entry),
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}
	return c
}

func (c *memoryCache) Get(reportID string) (worker.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[reportID]
	if !found || e.isExpired() {
		metrics.CheckCacheOpsTotal.WithLabelValues("memory", "miss").Inc()
		return worker.Message{}, false
	}
	metrics.CheckCacheOpsTotal.WithLabelValues("memory", "hit").Inc()
	return e.msg, true
}

func (c *memoryCache) Set(reportID string, msg worker.Message, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[reportID] = &entry{
		msg:        msg,
		expiration: time.Now().Add(ttl),
	}
	metrics.CheckCacheOpsTotal.WithLabelValues("memory", "set").Inc()
}

func (c *memoryCache) Delete(reportID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, reportID)
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Close stops the background janitor.
func (c *memoryCache) Close() error {
	if c.janitor != nil {
		close(c.janitor.stop)
	}
	return nil
}

func (c *memoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *memoryCache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.isExpired() {
			delete(c.entries, key)
			metrics.CheckCacheOpsTotal.WithLabelValues("memory", "eviction").Inc()
		}
	}
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(c *memoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}
