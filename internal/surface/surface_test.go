package surface

import (
	"errors"
	"testing"

	"github.com/luaconsole/overlay/internal/d3d"
)

type fakeNative struct {
	next     uintptr
	live     map[uintptr]string
	released []string

	failAt     string
	nilBackBuf bool
}

func newFakeNative() *fakeNative {
	return &fakeNative{next: 0x1000, live: make(map[uintptr]string)}
}

func (f *fakeNative) create(kind string) (uintptr, error) {
	if f.failAt == kind {
		return 0, errors.New(kind + " failed")
	}
	f.next += 0x10
	f.live[f.next] = kind
	return f.next, nil
}

func (f *fakeNative) Device(uintptr) (uintptr, error)           { return f.create("device") }
func (f *fakeNative) ImmediateContext(uintptr) (uintptr, error) { return f.create("context") }

func (f *fakeNative) Desc(uintptr) (d3d.SwapChainDesc, error) {
	if f.failAt == "desc" {
		return d3d.SwapChainDesc{}, errors.New("desc failed")
	}
	return d3d.SwapChainDesc{Window: 0xBEEF, Width: 1280, Height: 720, BufferCount: 2}, nil
}

func (f *fakeNative) BackBuffer(uintptr) (uintptr, error) {
	if f.nilBackBuf {
		return 0, nil
	}
	return f.create("backbuffer")
}

func (f *fakeNative) CreateRenderTargetView(uintptr, uintptr) (uintptr, error) {
	return f.create("rtv")
}

func (f *fakeNative) Release(obj uintptr) {
	kind, ok := f.live[obj]
	if !ok {
		panic("release of unknown handle")
	}
	delete(f.live, obj)
	f.released = append(f.released, kind)
}

func TestAcquireAndRelease(t *testing.T) {
	n := newFakeNative()
	c := NewController(n)

	if err := c.Acquire(0x5000); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	st := c.State()
	if !st.Ready || st.Device == 0 || st.Context == 0 || st.RTV == 0 {
		t.Fatalf("state after Acquire = %+v", st)
	}
	if st.Window != 0xBEEF || st.Width != 1280 || st.Height != 720 {
		t.Fatalf("desc not recorded: %+v", st)
	}
	if len(n.live) != 3 {
		t.Fatalf("live handles = %v, back buffer should be released", n.live)
	}

	if err := c.Acquire(0x5000); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if len(n.live) != 3 {
		t.Fatal("Acquire while ready must not create handles")
	}

	n.released = nil
	c.Release()
	if c.Ready() || c.State() != (State{}) {
		t.Fatalf("state after Release = %+v", c.State())
	}
	want := []string{"rtv", "context", "device"}
	if len(n.released) != 3 || n.released[0] != want[0] || n.released[1] != want[1] || n.released[2] != want[2] {
		t.Fatalf("release order = %v, want %v", n.released, want)
	}
	if len(n.live) != 0 {
		t.Fatalf("leaked handles: %v", n.live)
	}

	c.Release()
}

func TestAcquireFailureReleasesPartialHandles(t *testing.T) {
	for _, step := range []string{"device", "context", "desc", "backbuffer", "rtv"} {
		t.Run(step, func(t *testing.T) {
			n := newFakeNative()
			n.failAt = step
			c := NewController(n)

			if err := c.Acquire(0x5000); err == nil {
				t.Fatal("expected error")
			}
			if c.Ready() || c.State() != (State{}) {
				t.Fatalf("state after failed Acquire = %+v", c.State())
			}
			if len(n.live) != 0 {
				t.Fatalf("leaked handles: %v", n.live)
			}
			if _, failed := c.Stats(); failed != 1 {
				t.Fatalf("failed = %d, want 1", failed)
			}
		})
	}
}

func TestAcquireNilBackBuffer(t *testing.T) {
	n := newFakeNative()
	n.nilBackBuf = true
	c := NewController(n)

	err := c.Acquire(0x5000)
	if !errors.Is(err, d3d.ErrNilBackBuffer) {
		t.Fatalf("err = %v, want ErrNilBackBuffer", err)
	}
	if c.Ready() || len(n.live) != 0 {
		t.Fatalf("ready=%v live=%v", c.Ready(), n.live)
	}
}

func TestAcquireNilSwapChain(t *testing.T) {
	c := NewController(newFakeNative())
	if err := c.Acquire(0); !errors.Is(err, ErrNoSwapChain) {
		t.Fatalf("err = %v, want ErrNoSwapChain", err)
	}
}

func TestResizeCyclesDoNotLeak(t *testing.T) {
	n := newFakeNative()
	c := NewController(n)

	for i := 0; i < 25; i++ {
		if err := c.Acquire(0x5000); err != nil {
			t.Fatalf("cycle %d Acquire: %v", i, err)
		}
		c.Release()
	}
	if len(n.live) != 0 {
		t.Fatalf("leaked handles after cycles: %v", n.live)
	}
	if acquired, _ := c.Stats(); acquired != 25 {
		t.Fatalf("acquired = %d, want 25", acquired)
	}
}
