package health

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEmptyMonitorIsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() = %q, want %q", got, Unknown)
	}
	if lines := m.Lines(); len(lines) != 1 || lines[0] != "status: unknown" {
		t.Fatalf("Lines() = %v", lines)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	m := NewMonitor()
	m.Update(Hooks, Healthy, "")
	m.Update(Surface, Degraded, "GetBuffer failed")
	m.Update(Window, Healthy, "")

	if got := m.Overall(); got != Degraded {
		t.Fatalf("Overall() = %q, want %q", got, Degraded)
	}

	m.Update(Scripts, Unhealthy, "closed")
	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %q, want %q", got, Unhealthy)
	}
}

func TestUnknownComponentIsWorst(t *testing.T) {
	m := NewMonitor()
	m.Update(Hooks, Unhealthy, "")
	m.Update(Host, Unknown, "singleton not resolved")
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() = %q, want %q", got, Unknown)
	}
}

func TestUpdateCountsTransitionsOnly(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 10; i++ {
		m.Update(Surface, Degraded, "retrying")
	}
	m.Update(Surface, Healthy, "")
	m.Update(Surface, Healthy, "")

	c, ok := m.Get(Surface)
	if !ok {
		t.Fatal("surface check missing")
	}
	if c.Changes != 2 {
		t.Fatalf("Changes = %d, want 2", c.Changes)
	}
	if c.Status != Healthy || c.Message != "" {
		t.Fatalf("check = %+v", c)
	}
}

func TestUpdateStampsTime(t *testing.T) {
	m := NewMonitor()
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	m.Update(Overlay, Healthy, "")
	if c, _ := m.Get(Overlay); !c.UpdatedAt.Equal(fixed) {
		t.Fatalf("UpdatedAt = %v", c.UpdatedAt)
	}
}

func TestLinesSortedWithMessages(t *testing.T) {
	m := NewMonitor()
	m.Update(Window, Healthy, "")
	m.Update(Hooks, Degraded, "log hook disabled")

	got := strings.Join(m.Lines(), "|")
	want := "status: degraded|  hooks: degraded (log hook disabled)|  wndproc: healthy"
	if got != want {
		t.Fatalf("Lines() = %q, want %q", got, want)
	}
}

func TestGetMissing(t *testing.T) {
	if _, ok := NewMonitor().Get("nope"); ok {
		t.Fatal("Get on missing component returned ok")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					m.Update(Surface, Healthy, "")
				} else {
					m.Update(Surface, Degraded, "x")
				}
				m.Lines()
			}
		}(i)
	}
	wg.Wait()
	if _, ok := m.Get(Surface); !ok {
		t.Fatal("surface check missing")
	}
}
