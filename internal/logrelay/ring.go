package logrelay

import "sync"

// DefaultCapacity is the number of lines the console keeps.
const DefaultCapacity = 1000

// Ring keeps the most recent lines, evicting the oldest when full. Append
// runs on host logging threads and Snapshot on the render thread.
type Ring struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
	total uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

// Append implements logging.Sink.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.lines)
	if r.count < capacity {
		r.lines[(r.start+r.count)%capacity] = line
		r.count++
	} else {
		r.lines[r.start] = line
		r.start = (r.start + 1) % capacity
	}
	r.total++
}

// Snapshot copies the lines oldest first.
func (r *Ring) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, r.count)
	capacity := len(r.lines)
	for i := 0; i < r.count; i++ {
		out[i] = r.lines[(r.start+i)%capacity]
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Ring) Cap() int { return len(r.lines) }

// Total counts every line ever appended, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lines {
		r.lines[i] = ""
	}
	r.start, r.count = 0, 0
}
