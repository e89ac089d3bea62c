package transport

import "sync/atomic"

// connState enumerates the Connection State machine. Set by the
// Supervisor and by Shutdown; every other component only reads it.
type connState int32

const (
	stateDisconnected connState = iota
	stateDialing
	stateAuthenticating
	stateReady
	stateDraining
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateDialing:
		return "dialing"
	case stateAuthenticating:
		return "authenticating"
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v int32
}

func (a *atomicState) set(s connState) {
	atomic.StoreInt32(&a.v, int32(s))
}

func (a *atomicState) get() connState {
	return connState(atomic.LoadInt32(&a.v))
}
