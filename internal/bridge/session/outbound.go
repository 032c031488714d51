package session

import (
	"context"

	"github.com/looplab/fsm"
)

// Outbound call states.
const (
	StateIdle          = "idle"
	StateInitiating    = "initiating"
	StateWaitingForSDP = "waiting-for-sdp"
	StateRinging       = "ringing"
	StateConnected     = "connected"
)

// Transition events.
const (
	eventStart     = "start"
	eventAwaitSDP  = "await-sdp"
	eventInitiated = "initiated"
	eventConnect   = "connect"
	eventReset     = "reset"
)

// OutboundCall is the provider-side state machine for an outbound call:
//
//	idle -> initiating -> waiting-for-sdp -> ringing -> connected
//
// with reset back to idle from any non-idle state. Transitions outside
// the table return an error and leave the state unchanged.
type OutboundCall struct {
	PhoneNumber string
	CallerName  string

	machine *fsm.FSM
}

// NewOutboundCall creates the state machine in the idle state.
func NewOutboundCall(phoneNumber, callerName string) *OutboundCall {
	nonIdle := []string{StateInitiating, StateWaitingForSDP, StateRinging, StateConnected}

	return &OutboundCall{
		PhoneNumber: phoneNumber,
		CallerName:  callerName,
		machine: fsm.NewFSM(
			StateIdle,
			fsm.Events{
				{Name: eventStart, Src: []string{StateIdle}, Dst: StateInitiating},
				{Name: eventAwaitSDP, Src: []string{StateInitiating}, Dst: StateWaitingForSDP},
				{Name: eventInitiated, Src: []string{StateWaitingForSDP}, Dst: StateRinging},
				{Name: eventConnect, Src: []string{StateRinging}, Dst: StateConnected},
				{Name: eventReset, Src: nonIdle, Dst: StateIdle},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current state.
func (o *OutboundCall) State() string {
	return o.machine.Current()
}

// Is reports whether the machine is in the given state.
func (o *OutboundCall) Is(state string) bool {
	return o.machine.Is(state)
}

// AwaitingSDP reports whether the call can accept a browser offer for
// provider initiation.
func (o *OutboundCall) AwaitingSDP() bool {
	return o.machine.Is(StateWaitingForSDP)
}

// Start moves idle -> initiating.
func (o *OutboundCall) Start() error {
	return o.machine.Event(context.Background(), eventStart)
}

// AwaitSDP moves initiating -> waiting-for-sdp.
func (o *OutboundCall) AwaitSDP() error {
	return o.machine.Event(context.Background(), eventAwaitSDP)
}

// Initiated moves waiting-for-sdp -> ringing once the provider accepted
// the call request.
func (o *OutboundCall) Initiated() error {
	return o.machine.Event(context.Background(), eventInitiated)
}

// Connect moves ringing -> connected on the provider's connect event.
func (o *OutboundCall) Connect() error {
	return o.machine.Event(context.Background(), eventConnect)
}

// Reset returns the machine to idle from any non-idle state.
func (o *OutboundCall) Reset() error {
	return o.machine.Event(context.Background(), eventReset)
}
