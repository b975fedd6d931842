package gateway

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// State tracks the gateway through its install/activate lifecycle. Until the
// gateway is Active, intercepted requests bypass the cache entirely.
type State int32

const (
	StateUninstalled State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// lifecycle is a compare-and-swap state machine; transitions only move
// forward, and a failed install rolls back to uninstalled.
type lifecycle struct {
	state  atomic.Int32
	logger *slog.Logger
}

func newLifecycle(logger *slog.Logger) *lifecycle {
	return &lifecycle{logger: logger.With(slog.String("agent", "lifecycle"))}
}

func (l *lifecycle) current() State {
	return State(l.state.Load())
}

func (l *lifecycle) transition(from, to State) error {
	if !l.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("gateway: invalid transition %s -> %s (current %s)", from, to, l.current())
	}
	l.logger.Info("lifecycle transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return nil
}

// rollback forces the state back without logging a forward transition; used
// when a strict install fails mid-flight.
func (l *lifecycle) rollback(from, to State) {
	if l.state.CompareAndSwap(int32(from), int32(to)) {
		l.logger.Warn("lifecycle rolled back",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}
