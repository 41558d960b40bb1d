package lockmgr

import "sync"

// Txn is a per-transaction handle into the lock manager: it remembers
// every object the transaction has acquired so ReleaseAll can drop them
// together at commit/abort, satisfying strict 2PL (spec.md §4.4: "all
// locks are released together at commit or abort").
type Txn struct {
	id  uint64
	mgr *Manager

	mu      sync.Mutex
	held    []Object
	heldSet map[Object]struct{}
}

func (m *Manager) NewTxn(id uint64) *Txn {
	return &Txn{id: id, mgr: m, heldSet: make(map[Object]struct{})}
}

func (t *Txn) ID() uint64 { return t.id }

func (t *Txn) Acquire(obj Object, mode Mode) error {
	if err := t.mgr.Acquire(t.id, obj, mode); err != nil {
		return err
	}
	t.mu.Lock()
	if _, ok := t.heldSet[obj]; !ok {
		t.heldSet[obj] = struct{}{}
		t.held = append(t.held, obj)
	}
	t.mu.Unlock()
	return nil
}

// ReleaseAll drops every lock this transaction holds. Idempotent.
func (t *Txn) ReleaseAll() {
	t.mu.Lock()
	objs := t.held
	t.held = nil
	t.heldSet = make(map[Object]struct{})
	t.mu.Unlock()
	t.mgr.ReleaseAll(t.id, objs)
}

func (t *Txn) HeldObjects() []Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Object(nil), t.held...)
}
