// Package subset owns each layer's current subset expression and its
// undo/reset history. Transitions for a given layer are linearizable: a
// per-layer exclusive section guarantees no two concurrent callers mutate
// the same layer's state simultaneously.
package subset

import (
	"sync"
)

// Applier pushes a subset expression to the host layer. It is invoked inside
// the layer's exclusive section, so implementations must not call back into
// the Manager for the same layer.
type Applier func(layerID, expression string) error

// Manager tracks subset state per layer. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	layers  map[string]*state
	applier Applier
}

// state is one layer's subset bookkeeping. history is append-only until an
// explicit reset; baseline is the pre-filter expression captured on the
// first apply.
type state struct {
	mu       sync.Mutex
	current  string
	baseline string
	history  []string
	filtered bool
}

// NewManager creates a Manager. applier is OPTIONAL; if nil, expressions are
// tracked without being pushed to a host.
func NewManager(applier Applier) *Manager {
	return &Manager{
		layers:  make(map[string]*state),
		applier: applier,
	}
}

// Register seeds a layer with its pre-filter baseline expression. Calling
// Register for an already-known layer is a no-op, preserving the original
// baseline.
func (m *Manager) Register(layerID, baseline string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[layerID]; !ok {
		m.layers[layerID] = &state{current: baseline, baseline: baseline}
	}
}

// Remove discards a layer's state when the layer leaves the working set.
func (m *Manager) Remove(layerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.layers, layerID)
}

// get returns the layer state, creating an empty-baseline entry on demand.
func (m *Manager) get(layerID string) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.layers[layerID]
	if !ok {
		st = &state{}
		m.layers[layerID] = st
	}
	return st
}

// Apply sets the layer's current expression, pushing the previous one onto
// the history stack, and returns the previous expression.
func (m *Manager) Apply(layerID, expression string) (previous string, err error) {
	st := m.get(layerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if m.applier != nil {
		if err := m.applier(layerID, expression); err != nil {
			return "", err
		}
	}

	previous = st.current
	st.history = append(st.history, st.current)
	st.current = expression
	st.filtered = true
	return previous, nil
}

// Unfilter undoes a single step, restoring the immediately preceding history
// entry. Unfilter with empty history is a no-op, not an error.
func (m *Manager) Unfilter(layerID string) error {
	st := m.get(layerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.history) == 0 {
		return nil
	}

	prev := st.history[len(st.history)-1]
	if m.applier != nil {
		if err := m.applier(layerID, prev); err != nil {
			return err
		}
	}
	st.history = st.history[:len(st.history)-1]
	st.current = prev
	return nil
}

// Reset restores the original pre-filter baseline regardless of history
// depth, in constant time, and clears the history.
func (m *Manager) Reset(layerID string) error {
	st := m.get(layerID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if m.applier != nil {
		if err := m.applier(layerID, st.baseline); err != nil {
			return err
		}
	}
	st.history = st.history[:0]
	st.current = st.baseline
	st.filtered = false
	return nil
}

// Current returns the layer's current expression.
func (m *Manager) Current(layerID string) string {
	st := m.get(layerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.current
}

// HistoryDepth returns how many apply steps can be undone.
func (m *Manager) HistoryDepth(layerID string) int {
	st := m.get(layerID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.history)
}
