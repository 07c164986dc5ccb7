package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned by MemoryRegistry for an unknown broadcast id.
	ErrNotFound = errors.New("broadcast not found")
	// ErrImmutable is returned by MemoryRegistry when mutating a live or complete broadcast.
	ErrImmutable = errors.New("broadcast is live or complete")
)

// MemoryRegistry is an in-process Registry. It backs REGISTRY_BACKEND=memory
// for rehearsals and is the registry used by tests. Failures can be injected
// per operation.
type MemoryRegistry struct {
	mu     sync.Mutex
	items  []ManagedBroadcast
	nextID int
	fails  map[string]error
	calls  []string
}

// NewMemoryRegistry returns a registry holding seed, in order.
func NewMemoryRegistry(seed ...ManagedBroadcast) *MemoryRegistry {
	return &MemoryRegistry{items: append([]ManagedBroadcast(nil), seed...), fails: map[string]error{}}
}

// FailOn makes op ("list", "create", "update" or "delete") fail with err. A
// non-empty id limits the failure to that broadcast. A nil err clears it.
func (m *MemoryRegistry) FailOn(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := op + ":" + id
	if err == nil {
		delete(m.fails, k)
		return
	}
	m.fails[k] = err
}

func (m *MemoryRegistry) failure(op, id string) error {
	if err, ok := m.fails[op+":"+id]; ok {
		return err
	}
	return m.fails[op+":"]
}

// Calls returns the mutations issued so far, e.g. "create <title>", "delete <id>".
func (m *MemoryRegistry) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// SetState moves a broadcast to a lifecycle state, as the platform would when
// the stream starts or ends.
func (m *MemoryRegistry) SetState(id string, state LifecycleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return ErrNotFound
	}
	m.items[i].State = state
	return nil
}

func (m *MemoryRegistry) index(id string) int {
	for i, b := range m.items {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func (m *MemoryRegistry) List(ctx context.Context) ([]ManagedBroadcast, error) {
	if err := ctx.Err(); err != nil {
		return nil, Transient("list", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("list", ""); err != nil {
		return nil, err
	}
	return append([]ManagedBroadcast(nil), m.items...), nil
}

func (m *MemoryRegistry) Create(ctx context.Context, title, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Transient("create", "", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("create", ""); err != nil {
		return "", err
	}
	m.nextID++
	id := fmt.Sprintf("mem-%d", m.nextID)
	m.items = append(m.items, ManagedBroadcast{ID: id, Title: title, Description: description, State: StateReady, Privacy: PrivacyUnlisted})
	m.calls = append(m.calls, "create "+title)
	return id, nil
}

func (m *MemoryRegistry) Update(ctx context.Context, id, title, description string) error {
	if err := ctx.Err(); err != nil {
		return Transient("update", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("update", id); err != nil {
		return err
	}
	i := m.index(id)
	if i < 0 {
		return Permanent("update", id, ErrNotFound)
	}
	if m.items[i].State.Terminal() {
		return Permanent("update", id, ErrImmutable)
	}
	m.items[i].Title, m.items[i].Description = title, description
	m.calls = append(m.calls, "update "+id)
	return nil
}

func (m *MemoryRegistry) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return Transient("delete", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("delete", id); err != nil {
		return err
	}
	i := m.index(id)
	if i < 0 {
		return Permanent("delete", id, ErrNotFound)
	}
	if m.items[i].State.Terminal() {
		return Permanent("delete", id, ErrImmutable)
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	m.calls = append(m.calls, "delete "+id)
	return nil
}
