// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/worker"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	c := &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		logger: zerolog.Nop(),
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCacheSetGet(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("R7", worker.Message{Status: worker.StatusSuccess, ReportID: "R7"}, time.Minute)

	got, ok := c.Get("R7")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Status != worker.StatusSuccess || got.ReportID != "R7" {
		t.Fatalf("unexpected cached result %+v", got)
	}
}

func TestRedisCacheMissCounted(t *testing.T) {
	_, c := setupMiniRedis(t)

	before := opCount(t, "redis", "miss")
	if _, ok := c.Get("absent"); ok {
		t.Fatal("expected miss")
	}
	if got := opCount(t, "redis", "miss") - before; got != 1 {
		t.Fatalf("miss counter delta = %v, want 1", got)
	}
}

func TestRedisCacheExpiration(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("R1", worker.Message{Status: worker.StatusSuccess}, time.Second)
	mr.FastForward(2 * time.Second)

	if _, ok := c.Get("R1"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestRedisCacheDelete(t *testing.T) {
	_, c := setupMiniRedis(t)

	c.Set("R1", worker.Message{Status: worker.StatusSuccess}, time.Minute)
	c.Delete("R1")

	if _, ok := c.Get("R1"); ok {
		t.Fatal("expected deleted entry to miss")
	}
}

func TestRedisCacheClearLeavesForeignKeys(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("R1", worker.Message{}, time.Minute)
	c.Set("R2", worker.Message{}, time.Minute)
	if err := mr.Set("session:other", "x"); err != nil {
		t.Fatal(err)
	}

	c.Clear()

	if _, ok := c.Get("R1"); ok {
		t.Fatal("expected cleared entry to miss")
	}
	if _, ok := c.Get("R2"); ok {
		t.Fatal("expected cleared entry to miss")
	}
	if !mr.Exists("session:other") {
		t.Fatal("clear must not touch keys outside the check prefix")
	}
}

func TestRedisCacheHealthCheck(t *testing.T) {
	mr, c := setupMiniRedis(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("healthcheck: %v", err)
	}

	mr.Close()
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected healthcheck failure after server close")
	}
}
