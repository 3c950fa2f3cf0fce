package cache

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newClock() *clock {
	return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestArena_EvictsLeastRecentlyUsed(t *testing.T) {
	rows, err := NewArena[string, int](3, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	rows.Put("1-5-5-5-0", 1)
	rows.Put("2-5-5-5-0", 2)
	rows.Put("3-5-5-5-0", 3)
	rows.Get("1-5-5-5-0")

	if evicted := rows.Put("4-5-5-5-0", 4); !evicted {
		t.Fatal("Put past capacity should evict")
	}
	if _, ok := rows.Peek("2-5-5-5-0"); ok {
		t.Error("least recently used row should be gone")
	}
	if v, ok := rows.Peek("1-5-5-5-0"); !ok || v != 1 {
		t.Errorf("Peek(1-5-5-5-0) = (%v, %v), want (1, true)", v, ok)
	}
	if got := rows.Counters(); got.Evicted != 1 || got.Size != 3 {
		t.Errorf("Counters() = %+v, want size 3 evicted 1", got)
	}
}

func TestArena_PeekKeepsOrder(t *testing.T) {
	rows, err := NewArena[string, int](2, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	rows.Put("a", 1)
	rows.Put("b", 2)
	rows.Peek("a")
	rows.Put("c", 3)

	if _, ok := rows.Peek("a"); ok {
		t.Error("Peek must not refresh recency")
	}
	keys := rows.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Errorf("Keys() = %v, want [b c]", keys)
	}
}

func TestArena_Unbounded(t *testing.T) {
	rows, err := NewArena[int, int](0, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	for i := 0; i < 5000; i++ {
		rows.Put(i, i)
	}
	if rows.Len() != 5000 {
		t.Errorf("Len() = %d, want 5000", rows.Len())
	}
	if got := rows.Counters().Evicted; got != 0 {
		t.Errorf("Evicted = %d, want 0", got)
	}
}

func TestArena_StaleEntriesHidden(t *testing.T) {
	c := newClock()
	rows, err := NewArena[string, string](10, time.Minute, WithClock(c.now))
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	rows.Put("s", "row")
	if _, ok := rows.Get("s"); !ok {
		t.Error("fresh row should be visible")
	}

	c.t = c.t.Add(2 * time.Minute)
	if _, ok := rows.Get("s"); ok {
		t.Error("stale row should be hidden")
	}
	if keys := rows.Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want none", keys)
	}
	if rows.Len() != 1 {
		t.Errorf("Len() = %d, stale rows stay until Sweep", rows.Len())
	}
}

func TestArena_PutRestartsTTL(t *testing.T) {
	c := newClock()
	rows, err := NewArena[string, int](10, time.Minute, WithClock(c.now))
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	rows.Put("s", 1)
	c.t = c.t.Add(50 * time.Second)
	rows.Put("s", 2)
	c.t = c.t.Add(50 * time.Second)

	if v, ok := rows.Get("s"); !ok || v != 2 {
		t.Errorf("Get(s) = (%v, %v), want (2, true)", v, ok)
	}
}

func TestArena_Sweep(t *testing.T) {
	tests := []struct {
		name    string
		ttl     time.Duration
		advance time.Duration
		want    int
	}{
		{"disabled", 0, time.Hour, 0},
		{"nothing stale", time.Minute, 10 * time.Second, 0},
		{"two stale", time.Minute, 45 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock()
			rows, err := NewArena[string, int](10, tt.ttl, WithClock(c.now))
			if err != nil {
				t.Fatalf("NewArena: %v", err)
			}

			rows.Put("a", 1)
			rows.Put("b", 2)
			c.t = c.t.Add(30 * time.Second)
			rows.Put("c", 3)
			c.t = c.t.Add(tt.advance)

			if got := rows.Sweep(); got != tt.want {
				t.Errorf("Sweep() = %d, want %d", got, tt.want)
			}
			counters := rows.Counters()
			if counters.Expired != uint64(tt.want) {
				t.Errorf("Expired = %d, want %d", counters.Expired, tt.want)
			}
			if counters.Size != 3-tt.want {
				t.Errorf("Size = %d, want %d", counters.Size, 3-tt.want)
			}
		})
	}
}

func TestArena_RemoveAndReset(t *testing.T) {
	rows, err := NewArena[string, int](5, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}

	rows.Put("a", 1)
	rows.Remove("a")
	if _, ok := rows.Get("a"); ok {
		t.Error("removed row should be gone")
	}

	rows.Put("b", 2)
	rows.Put("c", 3)
	rows.Reset()
	if rows.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", rows.Len())
	}
	if got := rows.Counters(); got.Evicted != 0 || got.Expired != 0 {
		t.Errorf("Remove and Reset must not count as drops, got %+v", got)
	}
}
