package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"eventflyer/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := NewRedisCacheWithClient(client)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetMissing(t *testing.T) {
	c, _ := newTestCache(t)
	value, err := c.Get(context.Background(), "missing")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, value, "")
}

func TestRedisCacheLockOwnership(t *testing.T) {
	ctx := context.Background()
	first, mr := newTestCache(t)
	second, err := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	testutil.AssertNoError(t, err)

	ok, err := first.TryLock(ctx, "lease", time.Minute)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, ok, "first owner should acquire")

	ok, err = second.TryLock(ctx, "lease", time.Minute)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, ok, "second owner should not acquire a held lock")

	// Unlock by a non-owner leaves the lock in place.
	testutil.AssertNoError(t, second.Unlock(ctx, "lease"))
	testutil.AssertTrue(t, mr.Exists("lease"), "lock should survive foreign unlock")

	if err := second.ExtendLock(ctx, "lease", time.Hour); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("expected ErrLockNotHeld, got %v", err)
	}
	testutil.AssertNoError(t, first.ExtendLock(ctx, "lease", time.Hour))
	testutil.AssertTrue(t, mr.TTL("lease") > time.Minute, "owner extend should raise ttl")

	testutil.AssertNoError(t, first.Unlock(ctx, "lease"))
	testutil.AssertFalse(t, mr.Exists("lease"), "owner unlock should delete the key")
}

func TestRedisCacheLockExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	ok, err := c.TryLock(ctx, "lease", time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, ok, "should acquire")

	mr.FastForward(2 * time.Second)
	ok, err = c.TryLock(ctx, "lease", time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, ok, "should reacquire after expiry")
}

func TestRedisCacheIncrWindow(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)
	for want := int64(1); want <= 3; want++ {
		n, err := c.IncrWindow(ctx, "rate:k", time.Minute)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, n, want)
	}
	testutil.AssertTrue(t, mr.TTL("rate:k") > 0, "window expiry should be set")

	mr.FastForward(time.Minute + time.Second)
	n, err := c.IncrWindow(ctx, "rate:k", time.Minute)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, n, int64(1))
}

func TestGetWithCached(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	calls := 0
	fetch := func(value int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			calls++
			return value, nil
		}
	}
	isEmpty := func(v int) bool { return v == 0 }
	marshal := func(v int) string { return strconv.Itoa(v) }
	unmarshal := func(s string) (int, error) { return strconv.Atoi(s) }

	got, err := GetWithCached(ctx, c, "k", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(7))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, 7)

	got, err = GetWithCached(ctx, c, "k", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(9))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, 7)
	testutil.AssertEqual(t, calls, 1)

	got, err = GetWithCached(ctx, c, "empty", time.Minute, time.Second, isEmpty, marshal, unmarshal, fetch(0))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got, 0)
	cached, _ := mr.Get("empty")
	testutil.AssertEqual(t, cached, NullCacheValue)

	err = UpdateCached(ctx, c, "k", func(context.Context) error { return nil })
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, mr.Exists("k"), "update should invalidate")

	failing := errors.New("boom")
	_, err = GetWithCached(ctx, c, "other", time.Minute, time.Second, isEmpty, marshal, unmarshal,
		func(context.Context) (int, error) { return 0, failing })
	testutil.AssertTrue(t, errors.Is(err, failing), "fetch error should propagate")
}

func TestJitterTTL(t *testing.T) {
	for i := 0; i < 50; i++ {
		got := JitterTTL(time.Minute)
		testutil.AssertTrue(t, got <= time.Minute && got >= 54*time.Second, "jitter within 10%")
	}
	testutil.AssertEqual(t, JitterTTL(0), time.Duration(0))
}
