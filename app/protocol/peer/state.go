package peer

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

// SyncState is where a peer is in the sync session.
type SyncState uint32

// Sync session states.
const (
	StateIdle SyncState = iota
	StateAwaitingGreetingResponse
	StateReceivingInitialBatch
	StateCatchingUp
)

var syncStateStrings = map[SyncState]string{
	StateIdle:                     "Idle",
	StateAwaitingGreetingResponse: "AwaitingGreetingResponse",
	StateReceivingInitialBatch:    "ReceivingInitialBatch",
	StateCatchingUp:               "CatchingUp",
}

func (s SyncState) String() string {
	if str, ok := syncStateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("SyncState(%d)", uint32(s))
}

// ErrInvalidTransition is returned for a sync state change the session does
// not allow.
var ErrInvalidTransition = errors.New("invalid sync state transition")

// validTransitions lists the states reachable from each state. Every state
// may return to Idle.
var validTransitions = map[SyncState][]SyncState{
	StateIdle:                     {StateAwaitingGreetingResponse},
	StateAwaitingGreetingResponse: {StateReceivingInitialBatch, StateIdle},
	StateReceivingInitialBatch:    {StateCatchingUp, StateIdle},
	StateCatchingUp:               {StateIdle},
}

// State returns the current sync state of the peer.
func (p *Peer) State() SyncState {
	return SyncState(atomic.LoadUint32(&p.state))
}

// Transition moves the peer from the from state to the to state.
func (p *Peer) Transition(from, to SyncState) error {
	allowed := false
	for _, state := range validTransitions[from] {
		if state == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s", from, to)
	}
	if !atomic.CompareAndSwapUint32(&p.state, uint32(from), uint32(to)) {
		return errors.Wrapf(ErrInvalidTransition, "%s to %s while %s", from, to, p.State())
	}
	log.Debugf("Peer %s moved from %s to %s", p, from, to)
	return nil
}

// Reset returns the peer to Idle from whatever state it is in.
func (p *Peer) Reset() {
	previous := SyncState(atomic.SwapUint32(&p.state, uint32(StateIdle)))
	if previous != StateIdle {
		log.Debugf("Peer %s reset from %s", p, previous)
	}
}
