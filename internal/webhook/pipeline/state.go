package pipeline

import (
	"github.com/qmuntal/stateless"
)

// State is a delivery's position in the pipeline.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateAuthenticated State = "AUTHENTICATED"
	StateDeduped       State = "DEDUPED"
	StateDispatched    State = "DISPATCHED"
	StateRejected      State = "REJECTED"
)

type trigger string

const (
	triggerAuthenticate trigger = "authenticate"
	triggerDedupe       trigger = "dedupe"
	triggerDispatch     trigger = "dispatch"
	triggerReject       trigger = "reject"
)

// newMachine builds the per-delivery state machine. DISPATCHED and REJECTED
// are terminal.
func newMachine() *stateless.StateMachine {
	m := stateless.NewStateMachine(StateReceived)

	m.Configure(StateReceived).
		Permit(triggerAuthenticate, StateAuthenticated).
		Permit(triggerReject, StateRejected)

	m.Configure(StateAuthenticated).
		Permit(triggerDedupe, StateDeduped).
		Permit(triggerReject, StateRejected)

	m.Configure(StateDeduped).
		Permit(triggerDispatch, StateDispatched).
		Permit(triggerReject, StateRejected)

	m.Configure(StateDispatched)
	m.Configure(StateRejected)
	return m
}
