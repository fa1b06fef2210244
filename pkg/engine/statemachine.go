// Package engine composes the slot clock, decode/encode pipelines, audio
// path, radio control and operator management into one supervised daemon
// core. The StateMachine here is the supervisor: it owns the
// idle/starting/running/stopping/error lifecycle and drives the resource
// manager through it; CoreEngine (engine.go) is the wiring.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// StateChange is published on the event bus at every supervisor transition.
type StateChange struct {
	From             model.EngineState
	To               model.EngineState
	Err              error    // set when To == EngineError
	StartedResources []string // resources that had started when an error hit
	Reason           string   // e.g. "start", "stop", "radio_disconnected"
	At               time.Time
}

// StateMachine tracks the engine lifecycle and enforces legal transitions.
// It holds no resources itself; CoreEngine performs the actual work inside
// each transition and reports the outcome back.
type StateMachine struct {
	mu               sync.Mutex
	state            model.EngineState
	err              error
	startedResources []string
	forcedStop       bool
	bus              *eventbus.Bus
}

// NewStateMachine returns a machine in EngineIdle. bus may be nil.
func NewStateMachine(bus *eventbus.Bus) *StateMachine {
	return &StateMachine{state: model.EngineIdle, bus: bus}
}

// State returns the current lifecycle phase.
func (s *StateMachine) State() model.EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error context recorded when the machine last entered
// EngineError, or nil.
func (s *StateMachine) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StartedResources returns the resources recorded by the last failed start.
func (s *StateMachine) StartedResources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.startedResources...)
}

// ForcedStop reports whether the last stop came from a radio disconnect
// rather than an operator request.
func (s *StateMachine) ForcedStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forcedStop
}

// transition moves to the target state if the current state is one of from,
// publishing the change. Returns an error naming the illegal edge otherwise.
func (s *StateMachine) transition(to model.EngineState, reason string, from ...model.EngineState) error {
	s.mu.Lock()
	legal := false
	for _, f := range from {
		if s.state == f {
			legal = true
			break
		}
	}
	if !legal {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("engine: illegal transition %s -> %s (%s)", cur, to, reason)
	}
	change := StateChange{From: s.state, To: to, Reason: reason, At: time.Now().UTC()}
	s.state = to
	if to != model.EngineError {
		s.err = nil
	}
	bus := s.bus
	s.mu.Unlock()

	if bus != nil {
		bus.Publish(eventbus.TopicEngineState, change)
	}
	return nil
}

// BeginStart moves IDLE -> STARTING.
func (s *StateMachine) BeginStart() error {
	s.mu.Lock()
	s.forcedStop = false
	s.mu.Unlock()
	return s.transition(model.EngineStarting, "start", model.EngineIdle)
}

// StartSucceeded moves STARTING -> RUNNING.
func (s *StateMachine) StartSucceeded() error {
	return s.transition(model.EngineRunning, "start_succeeded", model.EngineStarting)
}

// StartFailed moves STARTING -> ERROR, recording the failure and which
// resources had already started before rollback.
func (s *StateMachine) StartFailed(err error, started []string) error {
	s.mu.Lock()
	s.err = err
	s.startedResources = append([]string(nil), started...)
	s.mu.Unlock()

	if terr := s.transition(model.EngineError, "start_failed", model.EngineStarting); terr != nil {
		return terr
	}
	return nil
}

// BeginStop moves RUNNING or ERROR -> STOPPING. forced marks a stop driven
// by a radio disconnect.
func (s *StateMachine) BeginStop(forced bool) error {
	s.mu.Lock()
	s.forcedStop = forced
	s.mu.Unlock()
	reason := "stop"
	if forced {
		reason = "radio_disconnected"
	}
	return s.transition(model.EngineStopping, reason, model.EngineRunning, model.EngineError)
}

// StopFinished moves STOPPING -> IDLE.
func (s *StateMachine) StopFinished() error {
	return s.transition(model.EngineIdle, "stop_finished", model.EngineStopping)
}

// WaitFor polls until the machine reaches want or timeout elapses. The stop
// path is asynchronous (resources wind down on their own goroutines), so
// callers that need a settled engine poll rather than subscribe.
func (s *StateMachine) WaitFor(want model.EngineState, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("engine: timed out after %v waiting for state %s (now %s)", timeout, want, s.State())
}
