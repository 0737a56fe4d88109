package launch

import (
	"fmt"

	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

// Phase is the variant of a State
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePending:
		return "pending"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is a snapshot of the launch lifecycle. Its fields are only set through the
// constructors below, so a value always carries the data of exactly one phase.
type State struct {
	phase       Phase
	requestedOS models.OSIdentifier
	session     models.SessionDescriptor
	message     string
}

// Idle is the initial state: nothing requested, nothing shown
func Idle() State { return State{phase: PhaseIdle} }

// Pending is the state while the request for os is in flight
func Pending(os models.OSIdentifier) State {
	return State{phase: PhasePending, requestedOS: os}
}

// Ready holds the session a launch produced
func Ready(session models.SessionDescriptor) State {
	return State{phase: PhaseReady, session: session}
}

// Failed holds a user-presentable message for a failed launch
func Failed(message string) State {
	return State{phase: PhaseFailed, message: message}
}

func (s State) Phase() Phase { return s.phase }

// RequestedOS returns the profile being launched while Pending
func (s State) RequestedOS() (models.OSIdentifier, bool) {
	return s.requestedOS, s.phase == PhasePending
}

// Session returns a copy of the session while Ready
func (s State) Session() (models.SessionDescriptor, bool) {
	return s.session, s.phase == PhaseReady
}

// Message returns the failure message while Failed
func (s State) Message() (string, bool) {
	return s.message, s.phase == PhaseFailed
}

func (s State) String() string {
	switch s.phase {
	case PhasePending:
		return fmt.Sprintf("pending(%s)", s.requestedOS)
	case PhaseReady:
		return fmt.Sprintf("ready(%s)", s.session.InstanceID)
	case PhaseFailed:
		return fmt.Sprintf("failed(%q)", s.message)
	default:
		return s.phase.String()
	}
}
