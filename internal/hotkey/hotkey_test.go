package hotkey

import "testing"

type scripted struct {
	seq []bool
	i   int
}

func (s *scripted) Down(int) bool {
	v := s.seq[s.i]
	if s.i < len(s.seq)-1 {
		s.i++
	}
	return v
}

func TestEdgeFiresOncePerPress(t *testing.T) {
	kb := &scripted{seq: []bool{false, true, true, true, false, true, false}}
	e := NewEdge(kb, 0x2D)

	var fired []int
	for i := 0; i < 7; i++ {
		if e.Pressed() {
			fired = append(fired, i)
		}
	}
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 5 {
		t.Fatalf("fired at %v, want [1 5]", fired)
	}
}

func TestEdgeHeldAtStartFiresOnce(t *testing.T) {
	kb := &scripted{seq: []bool{true, true}}
	e := NewEdge(kb, 0x2D)
	if !e.Pressed() || e.Pressed() {
		t.Fatal("held key should fire exactly once")
	}
}

func TestLevelFollowsKey(t *testing.T) {
	kb := &scripted{seq: []bool{false, true, true}}
	l := NewLevel(kb, 0x22)
	if l.Held() || !l.Held() || !l.Held() {
		t.Fatal("Level should mirror key state")
	}
}
