package llrb

import (
	"sync"
	"sync/atomic"

	"github.com/gholt/lsmkv"
)

// root bundles one immutable, publishable view of the tree: the node
// reachable from it, the seqno at publish time, and the live key
// count (spec §4.3's "MvccRoot bundling {root-node, seqno, count}").
type root struct {
	node  *node
	seqno uint64
	count int64
}

// Mvcc extends the LLRB core with copy-on-write writes and lock-free
// reader snapshots (spec §4.3). There is exactly one writer handle in
// practice; concurrent callers must serialize externally, but Mvcc
// also holds writeMu internally so a misbehaving caller cannot corrupt
// the tree, only serialize unnecessarily.
//
// Node reclamation: spec §4.3 describes an explicit retire-list
// drained once reader ref-counts fall to zero, a necessity in a
// non-GC'd language. Go already reclaims any node unreachable from a
// live *root once nothing references it; Snapshot.Release's job is
// only to drop this goroutine's reference so the garbage collector can
// do that reclaim — the same external contract (acquire a consistent
// view, release it when done) without hand-rolled bookkeeping.
type Mvcc struct {
	current atomic.Pointer[root]
	writeMu sync.Mutex
	lsm     bool
}

// NewMvcc constructs an empty Mvcc index.
func NewMvcc(lsm bool) *Mvcc {
	m := &Mvcc{lsm: lsm}
	m.current.Store(&root{})
	return m
}

// Snapshot is an immutable, consistent view of the index acquired at
// a point in time: it reflects exactly those writes whose
// root-publish preceded acquisition (spec §4.3/§5).
type Snapshot struct {
	r *root
}

// Acquire returns a Snapshot of the index as of now. Acquiring never
// blocks on, or is blocked by, concurrent writers.
func (m *Mvcc) Acquire() *Snapshot {
	return &Snapshot{r: m.current.Load()}
}

// Release relinquishes this snapshot handle.
func (s *Snapshot) Release() { s.r = nil }

// Count returns the number of live keys visible in this snapshot.
func (s *Snapshot) Count() int64 { return s.r.count }

// Seqno returns the seqno at which this snapshot was published.
func (s *Snapshot) Seqno() uint64 { return s.r.seqno }

// Get looks up key in this snapshot.
func (s *Snapshot) Get(key lsmkv.Key) (*lsmkv.Entry, bool) {
	n := s.r.node
	for n != nil {
		c := key.Compare(n.entry.Key())
		switch {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.entry, true
		}
	}
	return nil, false
}

// Iter returns an ascending iterator over this snapshot.
func (s *Snapshot) Iter() *Iterator { return iterFrom(s.r.node) }

// Range returns an ascending, bounded iterator over this snapshot.
func (s *Snapshot) Range(low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	return rangeFrom(s.r.node, low, high, lowIncl, highIncl)
}

// Reverse returns a descending, bounded iterator over this snapshot.
func (s *Snapshot) Reverse(low, high lsmkv.Key, lowIncl, highIncl bool) *Iterator {
	return reverseFrom(s.r.node, low, high, lowIncl, highIncl)
}

// Set inserts or updates key with value under copy-on-write,
// publishing a new root. Returns the prior entry state, if any.
func (m *Mvcc) Set(key lsmkv.Key, value lsmkv.Payload) (*lsmkv.Entry, error) {
	return m.setCAS(key, value, 0, false)
}

// SetCAS is the copy-on-write counterpart of Tree.SetCAS.
func (m *Mvcc) SetCAS(key lsmkv.Key, value lsmkv.Payload, cas uint64) (*lsmkv.Entry, error) {
	return m.setCAS(key, value, cas, true)
}

func (m *Mvcc) setCAS(key lsmkv.Key, value lsmkv.Payload, cas uint64, checkCAS bool) (*lsmkv.Entry, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur := m.current.Load()
	newSeqno := cur.seqno + 1
	newRootNode, prior, err := m.cowUpsert(cur.node, key, value, newSeqno, cas, checkCAS)
	if err != nil {
		return nil, err
	}
	newRootNode.color = black
	count := cur.count
	if prior == nil {
		count++
	}
	m.current.Store(&root{node: newRootNode, seqno: newSeqno, count: count})
	return prior, nil
}

// The rebalancing primitives in tree.go (rotateLeft, rotateRight,
// flip, moveRedLeft, moveRedRight, fixup) mutate node fields in place,
// which is correct for Tree's single owned tree but not here: a node
// touched only by rebalancing (not by the key-search descent) may
// still be shared with an older, already-published root. The cow*
// variants below give the same 2-3 LLRB rebalancing but first
// shallow-clone any node before changing its color or children, so a
// write only ever mutates nodes it has itself cloned in this call.

func cowRotateLeft(n *node) *node {
	r := n.right.shallowClone()
	n.right = r.left
	r.left = n
	r.color = n.color
	n.color = red
	return r
}

func cowRotateRight(n *node) *node {
	l := n.left.shallowClone()
	n.left = l.right
	l.right = n
	l.color = n.color
	n.color = red
	return l
}

func cowFlip(n *node) {
	n.color = !n.color
	left := n.left.shallowClone()
	left.color = !left.color
	n.left = left
	right := n.right.shallowClone()
	right.color = !right.color
	n.right = right
}

func cowMoveRedLeft(n *node) *node {
	cowFlip(n)
	if isRed(n.right.left) {
		n.right = cowRotateRight(n.right)
		n = cowRotateLeft(n)
		cowFlip(n)
	}
	return n
}

func cowMoveRedRight(n *node) *node {
	cowFlip(n)
	if isRed(n.left.left) {
		n = cowRotateRight(n)
		cowFlip(n)
	}
	return n
}

func cowFixup(n *node) *node {
	if isRed(n.right) && !isRed(n.left) {
		n = cowRotateLeft(n)
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = cowRotateRight(n)
	}
	if isRed(n.left) && isRed(n.right) {
		cowFlip(n)
	}
	return n
}

// cowUpsert mirrors Tree.upsert but shallow-clones every node on the
// path to the target key instead of mutating in place, so nodes still
// reachable from older published roots are untouched.
func (m *Mvcc) cowUpsert(n *node, key lsmkv.Key, value lsmkv.Payload, seqno, cas uint64, checkCAS bool) (*node, *lsmkv.Entry, error) {
	if n == nil {
		if checkCAS && cas != 0 {
			return nil, nil, lsmkv.ErrInvalidCAS
		}
		e := lsmkv.NewEntry(key, lsmkv.NewUpsertValue(value, seqno))
		return newNode(e), nil, nil
	}
	cp := n.shallowClone()
	var prior *lsmkv.Entry
	var err error
	c := key.Compare(n.entry.Key())
	switch {
	case c < 0:
		cp.left, prior, err = m.cowUpsert(n.left, key, value, seqno, cas, checkCAS)
		if err != nil {
			return n, nil, err
		}
	case c > 0:
		cp.right, prior, err = m.cowUpsert(n.right, key, value, seqno, cas, checkCAS)
		if err != nil {
			return n, nil, err
		}
	default:
		if checkCAS && cas != n.entry.Value().Seqno() {
			return n, nil, lsmkv.ErrInvalidCAS
		}
		prior = n.entry.Clone()
		newEntry := n.entry.Clone()
		newVal := lsmkv.NewEntry(key, lsmkv.NewUpsertValue(value, seqno))
		if _, err := newEntry.PrependVersion(newVal, m.lsm); err != nil {
			return n, nil, err
		}
		cp.entry = newEntry
	}
	return cowFixup(cp), prior, nil
}

// Delete removes key under copy-on-write, per the same lsm/non-lsm
// rules as Tree.Delete.
func (m *Mvcc) Delete(key lsmkv.Key) (*lsmkv.Entry, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.lsm {
		return m.deleteLSM(key)
	}
	cur := m.current.Load()
	newRootNode, deleted := m.cowDelete(cur.node, key)
	count := cur.count
	seqno := cur.seqno
	if deleted != nil {
		count--
		seqno++
	}
	if newRootNode != nil {
		newRootNode.color = black
	}
	m.current.Store(&root{node: newRootNode, seqno: seqno, count: count})
	return deleted, nil
}

func (m *Mvcc) deleteLSM(key lsmkv.Key) (*lsmkv.Entry, error) {
	cur := m.current.Load()
	existingEntry, ok := (&Snapshot{r: cur}).Get(key)
	if ok && existingEntry.Value().IsTombstone() {
		return existingEntry, nil
	}
	newSeqno := cur.seqno + 1
	if ok {
		newRootNode, prior := m.cowTombstone(cur.node, key, newSeqno)
		newRootNode.color = black
		m.current.Store(&root{node: newRootNode, seqno: newSeqno, count: cur.count})
		return prior, nil
	}
	e := lsmkv.NewEntry(key, lsmkv.NewTombstoneValue(newSeqno))
	newRootNode := m.cowInsertRaw(cur.node, e)
	newRootNode.color = black
	m.current.Store(&root{node: newRootNode, seqno: newSeqno, count: cur.count + 1})
	return e, nil
}

func (m *Mvcc) cowTombstone(n *node, key lsmkv.Key, seqno uint64) (*node, *lsmkv.Entry) {
	cp := n.shallowClone()
	c := key.Compare(n.entry.Key())
	var result *lsmkv.Entry
	switch {
	case c < 0:
		cp.left, result = m.cowTombstone(n.left, key, seqno)
	case c > 0:
		cp.right, result = m.cowTombstone(n.right, key, seqno)
	default:
		newEntry := n.entry.Clone()
		newEntry.Delete(seqno)
		cp.entry = newEntry
		result = newEntry
	}
	return cowFixup(cp), result
}

func (m *Mvcc) cowInsertRaw(n *node, e *lsmkv.Entry) *node {
	if n == nil {
		return newNode(e)
	}
	cp := n.shallowClone()
	c := e.Key().Compare(n.entry.Key())
	switch {
	case c < 0:
		cp.left = m.cowInsertRaw(n.left, e)
	case c > 0:
		cp.right = m.cowInsertRaw(n.right, e)
	default:
		cp.entry = e
	}
	return cowFixup(cp)
}

func (m *Mvcc) cowDelete(n *node, key lsmkv.Key) (*node, *lsmkv.Entry) {
	if n == nil {
		return nil, nil
	}
	cp := n.shallowClone()
	var deleted *lsmkv.Entry
	if key.Compare(n.entry.Key()) < 0 {
		if n.left == nil {
			return cp, nil
		}
		if !isRed(n.left) && !isRed(n.left.left) {
			cp = cowMoveRedLeft(cp)
		}
		cp.left, deleted = m.cowDelete(cp.left, key)
	} else {
		if isRed(cp.left) {
			cp = cowRotateRight(cp)
		}
		if key.Compare(cp.entry.Key()) == 0 && cp.right == nil {
			return nil, cp.entry
		}
		if cp.right == nil {
			return cp, nil
		}
		if !isRed(cp.right) && !isRed(cp.right.left) {
			cp = cowMoveRedRight(cp)
		}
		if key.Compare(cp.entry.Key()) == 0 {
			deleted = cp.entry
			mn := min(cp.right)
			cp.entry = mn.entry
			cp.right = m.cowDeleteMin(cp.right)
		} else {
			cp.right, deleted = m.cowDelete(cp.right, key)
		}
	}
	return cowFixup(cp), deleted
}

func (m *Mvcc) cowDeleteMin(n *node) *node {
	if n.left == nil {
		return nil
	}
	cp := n.shallowClone()
	if !isRed(cp.left) && !isRed(cp.left.left) {
		cp = cowMoveRedLeft(cp)
	}
	cp.left = m.cowDeleteMin(cp.left)
	return cowFixup(cp)
}
