// Package hotkey polls virtual keys for the toggle and unload bindings.
package hotkey

// Keyboard reports whether a virtual key is currently held.
type Keyboard interface {
	Down(vk int) bool
}

// Edge fires once per press: on the first poll that sees the key down
// after a poll that saw it up.
type Edge struct {
	kb   Keyboard
	key  int
	down bool
}

func NewEdge(kb Keyboard, vk int) *Edge {
	return &Edge{kb: kb, key: vk}
}

func (e *Edge) Pressed() bool {
	now := e.kb.Down(e.key)
	fired := now && !e.down
	e.down = now
	return fired
}

// Level fires on every poll while the key is held.
type Level struct {
	kb  Keyboard
	key int
}

func NewLevel(kb Keyboard, vk int) *Level {
	return &Level{kb: kb, key: vk}
}

func (l *Level) Held() bool { return l.kb.Down(l.key) }
