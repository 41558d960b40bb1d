package lockmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"strictdb/dberr"
)

const numPartitions = 16

type request struct {
	txnID   uint64
	obj     Object
	mode    Mode
	granted bool
	aborted bool
	done    chan struct{}
}

type queue struct {
	reqs []*request
}

type partition struct {
	mu     sync.Mutex
	queues map[Object]*queue
}

// Manager is the lock manager: a hash-partitioned lock table plus a
// single global wait-for graph guarded by its own mutex (deadlocks can
// span objects that hash to different partitions).
type Manager struct {
	partitions [numPartitions]*partition

	gmu     sync.Mutex
	graph   *waitForGraph
	pending map[uint64]*pendingWait // txnID -> the one request it's currently blocked on

	timeout time.Duration
	log     *logrus.Entry
}

type pendingWait struct {
	part *partition
	obj  Object
	req  *request
}

func NewManager(timeout time.Duration, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		graph:   newWaitForGraph(),
		pending: make(map[uint64]*pendingWait),
		timeout: timeout,
		log:     logger.WithField("component", "lockmgr"),
	}
	for i := range m.partitions {
		m.partitions[i] = &partition{queues: make(map[Object]*queue)}
	}
	return m
}

func (m *Manager) partitionFor(obj Object) *partition {
	h := xxhash.Sum64(obj.bytes())
	return m.partitions[h%numPartitions]
}

// Acquire blocks until mode is granted on obj for txnID, or returns
// dberr.ErrDeadlockVictim / dberr.ErrLockTimeout (the latter "treated as
// deadlock" per spec.md §4.4).
func (m *Manager) Acquire(txnID uint64, obj Object, mode Mode) error {
	part := m.partitionFor(obj)

	part.mu.Lock()
	q := part.queues[obj]
	if q == nil {
		q = &queue{}
		part.queues[obj] = q
	}

	var r *request
	for _, existing := range q.reqs {
		if existing.txnID == txnID {
			r = existing
			break
		}
	}

	if r != nil {
		if r.granted && StrongerOrEqual(r.mode, mode) {
			part.mu.Unlock()
			return nil
		}
		r.mode = strongerMode(r.mode, mode)
		if canGrantIgnoring(q, r, txnID) {
			r.granted = true
			part.mu.Unlock()
			m.log.WithFields(logrus.Fields{"txn_id": txnID, "object": obj, "mode": mode}).Debug("lock upgraded")
			return nil
		}
		r.granted = false
		moveToFront(q, r)
	} else {
		r = &request{txnID: txnID, obj: obj, mode: mode, done: make(chan struct{})}
		q.reqs = append(q.reqs, r)
		if canGrantAt(q, len(q.reqs)-1) {
			r.granted = true
			part.mu.Unlock()
			m.log.WithFields(logrus.Fields{"txn_id": txnID, "object": obj, "mode": mode}).Debug("lock granted")
			return nil
		}
	}

	// Must wait. Compute blockers: granted holders incompatible with r,
	// plus any earlier still-waiting request (FIFO no-bypass).
	blockers := m.blockersFor(q, r)
	part.mu.Unlock()

	m.gmu.Lock()
	m.pending[txnID] = &pendingWait{part: part, obj: obj, req: r}
	for _, b := range blockers {
		m.graph.addEdge(txnID, b)
	}
	cycle := m.graph.findCycleThrough(txnID)
	var selfVictim bool
	if cycle != nil {
		victim := youngest(cycle)
		m.log.WithFields(logrus.Fields{"cycle": cycle, "victim": victim}).Warn("deadlock detected")
		if victim == txnID {
			selfVictim = true
		} else {
			m.abortPendingLocked(victim)
		}
	}
	m.gmu.Unlock()

	if selfVictim {
		part.mu.Lock()
		removeRequest(q, r)
		part.mu.Unlock()
		m.gmu.Lock()
		m.graph.removeWaiter(txnID)
		delete(m.pending, txnID)
		m.gmu.Unlock()
		return dberr.Wrap(dberr.KindConcurrency, "Acquire", dberr.ErrDeadlockVictim)
	}

	select {
	case <-r.done:
		if r.aborted {
			return dberr.Wrap(dberr.KindConcurrency, "Acquire", dberr.ErrDeadlockVictim)
		}
		return nil
	case <-time.After(m.timeout):
		part.mu.Lock()
		removeRequest(q, r)
		regrant(q)
		part.mu.Unlock()
		m.gmu.Lock()
		m.graph.removeWaiter(txnID)
		delete(m.pending, txnID)
		m.gmu.Unlock()
		return dberr.Wrap(dberr.KindConcurrency, "Acquire", dberr.ErrLockTimeout)
	}
}

// abortPendingLocked marks victim's outstanding wait as aborted and wakes
// it. Caller holds m.gmu.
func (m *Manager) abortPendingLocked(victim uint64) {
	pw, ok := m.pending[victim]
	if !ok {
		return
	}
	pw.part.mu.Lock()
	pw.req.aborted = true
	close(pw.req.done)
	removeRequest(pw.part.queues[pw.obj], pw.req)
	regrant(pw.part.queues[pw.obj])
	pw.part.mu.Unlock()
	m.graph.removeWaiter(victim)
	delete(m.pending, victim)
}

// Release drops one txn's lock on one object (used internally); ReleaseAll
// is the strict-2PL path used by commit/abort.
func (m *Manager) Release(txnID uint64, obj Object) {
	part := m.partitionFor(obj)
	part.mu.Lock()
	q := part.queues[obj]
	if q != nil {
		removeRequest(q, &request{txnID: txnID})
		regrant(q)
	}
	part.mu.Unlock()

	m.gmu.Lock()
	m.graph.removeAsBlocker(txnID)
	m.gmu.Unlock()
}

// ReleaseAll drops every lock txnID holds, across every object it has
// acquired. Strict 2PL: called only at commit or abort.
func (m *Manager) ReleaseAll(txnID uint64, objects []Object) {
	for _, obj := range objects {
		m.Release(txnID, obj)
	}
}

func (m *Manager) Timeout() time.Duration { return m.timeout }

func strongerMode(a, b Mode) Mode {
	if strength[a] >= strength[b] {
		return a
	}
	return b
}

func moveToFront(q *queue, r *request) {
	idx := -1
	for i, x := range q.reqs {
		if x == r {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return
	}
	q.reqs = append(q.reqs[:idx], q.reqs[idx+1:]...)
	q.reqs = append([]*request{r}, q.reqs...)
}

func removeRequest(q *queue, r *request) {
	for i, x := range q.reqs {
		if x.txnID == r.txnID {
			q.reqs = append(q.reqs[:i], q.reqs[i+1:]...)
			return
		}
	}
}

// canGrantAt reports whether the request at index idx can be granted
// given every already-granted holder and no earlier waiter blocking it.
func canGrantAt(q *queue, idx int) bool {
	r := q.reqs[idx]
	for i := 0; i < idx; i++ {
		other := q.reqs[i]
		if other.txnID == r.txnID {
			continue
		}
		if !other.granted {
			return false // earlier waiter — no bypass
		}
		if !Compatible(other.mode, r.mode) {
			return false
		}
	}
	// Also must be compatible with holders positioned after it that were
	// already granted (upgrades can leave granted entries anywhere).
	for i := idx + 1; i < len(q.reqs); i++ {
		other := q.reqs[i]
		if other.txnID == r.txnID || !other.granted {
			continue
		}
		if !Compatible(other.mode, r.mode) {
			return false
		}
	}
	return true
}

func canGrantIgnoring(q *queue, r *request, txnID uint64) bool {
	for _, other := range q.reqs {
		if other.txnID == txnID || !other.granted {
			continue
		}
		if !Compatible(other.mode, r.mode) {
			return false
		}
	}
	return true
}

// regrant walks the queue front-to-back granting every request that has
// become satisfiable, stopping at the first that still isn't (FIFO order
// means nothing after it can jump ahead).
func regrant(q *queue) {
	for i, r := range q.reqs {
		if r.granted {
			continue
		}
		if canGrantAt(q, i) {
			r.granted = true
			close(r.done)
		} else {
			break
		}
	}
}

func (m *Manager) blockersFor(q *queue, r *request) []uint64 {
	var blockers []uint64
	seen := map[uint64]bool{}
	for _, other := range q.reqs {
		if other.txnID == r.txnID {
			continue
		}
		blocks := (other.granted && !Compatible(other.mode, r.mode)) || !other.granted
		if blocks && !seen[other.txnID] {
			seen[other.txnID] = true
			blockers = append(blockers, other.txnID)
		}
	}
	return blockers
}

func (m *Manager) String() string {
	return fmt.Sprintf("lockmgr{partitions=%d}", numPartitions)
}
