package camera

import "sync/atomic"

// State is the lifecycle state of a Stream.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateCapturing
	StateReconnecting
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateOpening:      "opening",
	StateCapturing:    "capturing",
	StateReconnecting: "reconnecting",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
	StateFailed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Running reports whether an acquisition loop is live in this state.
func (s State) Running() bool {
	return s == StateCapturing || s == StateReconnecting
}

type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) load() State {
	return State(b.v.Load())
}

func (b *stateBox) store(s State) {
	b.v.Store(int32(s))
}
