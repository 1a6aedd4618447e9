package optimistic

import (
	"github.com/anonto42/nano-midea/engagement/internal/models"
)

// Phase is the lifecycle phase of a tracked control
type Phase int

const (
	// Unknown means no server state has been loaded for the key yet
	Unknown Phase = iota
	// Known means Active and Count are displayable
	Known
)

func (p Phase) String() string {
	if p == Known {
		return "known"
	}
	return "unknown"
}

// Key identifies one toggle control: a relation kind on a target
type Key struct {
	TargetID string
	Kind     models.RelationKind
}

// State is what the presentation layer renders for a key
type State struct {
	Phase  Phase
	Active bool
	Count  int
	// Pending is set while a toggle is in flight; the control must stay disabled
	Pending bool
	// Gone is set once the server reported the target missing
	Gone bool
}

// predict returns the state shown immediately after a toggle action
func (s State) predict() State {
	next := s
	next.Active = !s.Active
	if next.Active {
		next.Count++
	} else if next.Count > 0 {
		next.Count--
	}
	next.Pending = true
	return next
}

// Outcome reports how an in-flight toggle resolved
type Outcome struct {
	Key   Key
	State State
	Err   error
	// RolledBack is set when State is the pre-toggle snapshot
	RolledBack bool
	// Discarded is set when the key was forgotten before the call resolved
	Discarded bool
}
