package cache

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCache_GetMissing(t *testing.T) {
	ch := NewCache(CacheConfig{})

	for _, key := range []string{"", "missing", "another"} {
		if v, ok := ch.Get(key); ok {
			t.Errorf("Get(%q) = %q, want absent", key, v)
		}
	}
}

func TestCache_SetWithoutTTLNeverExpires(t *testing.T) {
	clock := newFakeClock()
	ch := NewCache(CacheConfig{Now: clock.Now})

	ch.Set("foo", []byte("bar"), 0)
	clock.Advance(10 * 365 * 24 * time.Hour)

	v, ok := ch.Get("foo")

	if !ok || string(v) != "bar" {
		t.Fatalf("Get(foo) = (%q, %v), want (bar, true)", v, ok)
	}
}

func TestCache_SetOverwrites(t *testing.T) {
	clock := newFakeClock()
	ch := NewCache(CacheConfig{Now: clock.Now})

	ch.Set("k", []byte("v1"), 100*time.Millisecond)
	ch.Set("k", []byte("v2"), 0)
	clock.Advance(time.Second)

	v, ok := ch.Get("k")

	if !ok || string(v) != "v2" {
		t.Fatalf("Get(k) = (%q, %v), want (v2, true)", v, ok)
	}

	if ch.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ch.Len())
	}
}

func TestCache_LazyExpiration(t *testing.T) {
	clock := newFakeClock()
	ch := NewCache(CacheConfig{Now: clock.Now})

	ch.Set("session", []byte("token"), 100*time.Millisecond)

	clock.Advance(99 * time.Millisecond)

	if v, ok := ch.Get("session"); !ok || string(v) != "token" {
		t.Fatalf("before expiry Get() = (%q, %v), want (token, true)", v, ok)
	}

	clock.Advance(time.Millisecond)

	if ch.Len() != 1 {
		t.Fatalf("expired entry removed before access, Len() = %d", ch.Len())
	}

	if v, ok := ch.Get("session"); ok {
		t.Fatalf("at expiry Get() = %q, want absent", v)
	}

	if ch.Len() != 0 {
		t.Errorf("Len() after expired access = %d, want 0", ch.Len())
	}

	if ch.Expired() != 1 {
		t.Errorf("Expired() = %d, want 1", ch.Expired())
	}
}

func TestCache_ValuesAreCopied(t *testing.T) {
	ch := NewCache(CacheConfig{})
	value := []byte("abc")

	ch.Set("k", value, 0)
	value[0] = 'x'

	got, _ := ch.Get("k")
	got[1] = 'y'

	again, _ := ch.Get("k")

	if string(again) != "abc" {
		t.Errorf("stored value = %q, want abc", again)
	}
}

func TestCache_EmptyValueIsPresent(t *testing.T) {
	ch := NewCache(CacheConfig{})
	ch.Set("empty", nil, 0)

	v, ok := ch.Get("empty")

	if !ok || len(v) != 0 {
		t.Errorf("Get(empty) = (%q, %v), want (\"\", true)", v, ok)
	}
}

func TestCache_Restore(t *testing.T) {
	clock := newFakeClock()
	ch := NewCache(CacheConfig{Now: clock.Now})

	if ok := ch.Restore("old", []byte("v"), clock.Now().Add(-time.Second)); ok {
		t.Error("Restore() of an expired entry returned true")
	}

	if ok := ch.Restore("live", []byte("v"), clock.Now().Add(time.Second)); !ok {
		t.Error("Restore() of a live entry returned false")
	}

	if ok := ch.Restore("forever", []byte("v"), time.Time{}); !ok {
		t.Error("Restore() without expiry returned false")
	}

	if _, ok := ch.Get("old"); ok {
		t.Error("expired snapshot entry is readable")
	}

	clock.Advance(2 * time.Second)

	if _, ok := ch.Get("live"); ok {
		t.Error("restored entry did not expire")
	}

	if _, ok := ch.Get("forever"); !ok {
		t.Error("restored entry without expiry is missing")
	}
}

func TestNewCache_ShardCount(t *testing.T) {
	tests := []struct {
		shards int
		want   int
	}{
		{shards: 0, want: DefaultShards},
		{shards: -4, want: DefaultShards},
		{shards: 1, want: 1},
		{shards: 5, want: 8},
		{shards: 64, want: 64},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.shards), func(t *testing.T) {
			ch := NewCache(CacheConfig{Shards: tt.shards})

			if len(ch.shards) != tt.want {
				t.Errorf("shards = %d, want %d", len(ch.shards), tt.want)
			}
		})
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ch := NewCache(CacheConfig{Shards: 4})

	const (
		workers = 16
		rounds  = 500
	)

	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range rounds {
				ch.Set("shared", []byte(fmt.Sprintf("w%d-%d", w, i)), 0)
				ch.Set(fmt.Sprintf("own-%d", w), []byte(strconv.Itoa(i)), 0)

				if v, ok := ch.Get("shared"); !ok || len(v) < 4 || v[0] != 'w' {
					t.Errorf("torn read of shared key: (%q, %v)", v, ok)
					return
				}
			}
		}()
	}

	wg.Wait()

	for w := range workers {
		v, ok := ch.Get(fmt.Sprintf("own-%d", w))

		if !ok || string(v) != strconv.Itoa(rounds-1) {
			t.Errorf("own-%d = (%q, %v), want last write %d", w, v, ok, rounds-1)
		}
	}
}

func TestCache_ConcurrentExpiryAndSet(t *testing.T) {
	clock := newFakeClock()
	ch := NewCache(CacheConfig{Now: clock.Now})

	ch.Set("k", []byte("old"), time.Millisecond)
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		ch.Get("k")
	}()

	go func() {
		defer wg.Done()
		ch.Set("k", []byte("new"), 0)
	}()

	wg.Wait()

	// Whichever ran first, the write must survive the lazy delete.
	if v, ok := ch.Get("k"); !ok || string(v) != "new" {
		t.Fatalf("Get(k) = (%q, %v), want (new, true)", v, ok)
	}
}
