// Package resource implements the priority- and dependency-ordered
// resource lifecycle the engine state machine drives through STARTING and
// STOPPING. It replaces a hand-written, fixed-order Start()/Stop() pair
// with a registry: resources declare their own priority and
// dependencies, startAll resolves an order that respects both and rolls
// back on the first non-optional failure, stopAll always runs in reverse
// start order and aggregates every stop error instead of stopping short.
package resource

import (
	"context"
	"fmt"
	"sort"
)

// Resource is one lifecycled engine dependency: the radio link, an audio
// stream, the slot clock, the operator manager, and so on.
type Resource struct {
	Name         string
	Priority     int // ascending start order among resources with no dependency ordering constraint
	Dependencies []string
	Optional     bool // a failure here does not trigger rollback
	Start        func(ctx context.Context) error
	Stop         func() error
}

// Manager holds the registered resources and the order they were last
// started in, so Stop can always run in exact reverse regardless of
// priority/dependency recomputation.
type Manager struct {
	resources map[string]Resource
	started   []string // names, in the order Start succeeded, most recent last
}

// NewManager returns an empty Manager. Register resources before calling
// StartAll.
func NewManager() *Manager {
	return &Manager{resources: make(map[string]Resource)}
}

// Register adds r to the set StartAll/StopAll operate on. Registering a
// name a second time replaces the earlier entry.
func (m *Manager) Register(r Resource) {
	m.resources[r.Name] = r
}

// StartedResources returns the names of resources that completed Start
// successfully during the most recent StartAll call, in start order.
func (m *Manager) StartedResources() []string {
	return append([]string(nil), m.started...)
}

// order topologically sorts registered resources by ascending priority,
// promoting a resource after all of its dependencies regardless of its own
// priority number; a dependency edge always wins a tie against priority.
func (m *Manager) order() ([]string, error) {
	names := make([]string, 0, len(m.resources))
	for name := range m.resources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.resources[names[i]].Priority < m.resources[names[j]].Priority
	})

	placed := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		if placed[name] {
			return nil
		}
		for _, c := range chain {
			if c == name {
				return fmt.Errorf("resource: dependency cycle involving %q", name)
			}
		}
		r, ok := m.resources[name]
		if !ok {
			return fmt.Errorf("resource: unknown dependency %q", name)
		}
		for _, dep := range r.Dependencies {
			if err := visit(dep, append(chain, name)); err != nil {
				return err
			}
		}
		if !placed[name] {
			placed[name] = true
			out = append(out, name)
		}
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// StartResult is the outcome of StartAll: either every resource started (Err
// nil) or a non-optional resource failed, in which case every resource that
// had already started was stopped in reverse order and FailedResource/Err
// describe the trigger.
type StartResult struct {
	Started         []string
	FailedResource  string
	Err             error
	RollbackErrors  []error // non-fatal: errors encountered while rolling back
}

// StartAll starts every registered resource in dependency-respecting
// priority order. On the first non-optional failure it stops everything
// already started, in reverse start order, collecting (not stopping on)
// rollback errors, and returns the original failure.
func (m *Manager) StartAll(ctx context.Context) StartResult {
	order, err := m.order()
	if err != nil {
		return StartResult{Err: err}
	}

	m.started = nil
	for _, name := range order {
		r := m.resources[name]
		if err := r.Start(ctx); err != nil {
			if r.Optional {
				continue
			}
			startedBefore := append([]string(nil), m.started...)
			rollbackErrs := m.stopStarted()
			return StartResult{
				Started:        startedBefore,
				FailedResource: name,
				Err:            fmt.Errorf("resource: start %q: %w", name, err),
				RollbackErrors: rollbackErrs,
			}
		}
		m.started = append(m.started, name)
	}
	return StartResult{Started: append([]string(nil), m.started...)}
}

// stopStarted stops every resource in m.started, in reverse order, clearing
// m.started as it goes. It never stops early on an error; every stop is
// attempted and every error collected.
func (m *Manager) stopStarted() []error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		name := m.started[i]
		r, ok := m.resources[name]
		if !ok || r.Stop == nil {
			continue
		}
		if err := r.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("resource: stop %q: %w", name, err))
		}
	}
	m.started = nil
	return errs
}

// StopAll stops every currently-started resource in reverse start order,
// regardless of individual failures, returning the aggregate of every stop
// error encountered (nil if none).
func (m *Manager) StopAll() error {
	errs := m.stopStarted()
	if len(errs) == 0 {
		return nil
	}
	msg := fmt.Sprintf("resource: stopAll: %d error(s)", len(errs))
	for _, e := range errs {
		msg += "; " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
