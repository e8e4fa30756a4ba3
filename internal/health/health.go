// Package health keeps the latest status of each overlay component for the
// console's status lines.
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/luaconsole/overlay/internal/logging"
)

var log = logging.L("health")

// Status is a component's health.
type Status string

const (
	Unknown   Status = "unknown"
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Component names reported by the session.
const (
	Hooks   = "hooks"
	Surface = "surface"
	Window  = "wndproc"
	Overlay = "overlay"
	Scripts = "scripts"
	Host    = "host"
)

// Check is the latest result for one component.
type Check struct {
	Name      string
	Status    Status
	Message   string
	UpdatedAt time.Time
	// Changes counts status transitions.
	Changes int
}

// Monitor is written from the render and watch threads and read by the UI.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Update records a status. Only transitions are logged, since the render
// thread reports the surface every frame.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	prev, seen := m.checks[name]
	c := Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: m.now(),
		Changes:   prev.Changes,
	}
	changed := !seen || prev.Status != status
	if changed {
		c.Changes++
	}
	m.checks[name] = c
	m.mu.Unlock()

	if !changed {
		return
	}
	if status == Healthy {
		if seen {
			log.Info("component recovered", logging.KeyComponent, name)
		}
		return
	}
	log.Warn("component not healthy", logging.KeyComponent, name, "status", string(status), "message", message)
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status, or Unknown when nothing has reported.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns every check sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lines renders the checks for the console, overall first.
func (m *Monitor) Lines() []string {
	checks := m.All()
	lines := make([]string, 0, len(checks)+1)
	lines = append(lines, "status: "+string(m.Overall()))
	for _, c := range checks {
		if c.Message == "" {
			lines = append(lines, fmt.Sprintf("  %s: %s", c.Name, c.Status))
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s: %s (%s)", c.Name, c.Status, c.Message))
	}
	return lines
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
