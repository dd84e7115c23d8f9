// Package llrb implements the single-writer, ordered in-memory index
// described in spec §4.2: a left-leaning red-black tree keyed by
// lsmkv.Key, storing one *lsmkv.Entry per node with its full version
// chain. Package mvcc.go in this package extends Tree with
// copy-on-write snapshots and lock-free reader handles (spec §4.3).
package llrb

import (
	"github.com/gholt/lsmkv"
)

type color bool

const (
	red   color = true
	black color = false
)

// node is a boxed tree node; children are exclusively owned by
// whichever root(s) can currently reach them (see mvcc.go for the
// copy-on-write sharing rules).
type node struct {
	entry       *lsmkv.Entry
	left, right *node
	color       color
}

func newNode(e *lsmkv.Entry) *node {
	return &node{entry: e, color: red}
}

func isRed(n *node) bool {
	if n == nil {
		return false
	}
	return n.color == red
}

// shallowClone makes a shallow copy of n (same children pointers); used by
// the copy-on-write write path in mvcc.go so that unmodified subtrees
// are shared between snapshots.
func (n *node) shallowClone() *node {
	cp := *n
	return &cp
}

// Tree is a single-writer LLRB index. Use New to construct one
// directly for non-MVCC use, or Mvcc (mvcc.go) for copy-on-write
// snapshots with concurrent readers.
type Tree struct {
	root  *node
	seqno uint64
	count int64
	lsm   bool
}

// New constructs an empty Tree. lsm selects whether Delete tombstones
// (true) or physically removes (false) keys, and whether Set prepends
// a version (true) or overwrites in place (false), per spec §4.2/§4.1.
func New(lsm bool) *Tree {
	return &Tree{lsm: lsm}
}

// Count returns the number of live keys in the tree.
func (t *Tree) Count() int64 { return t.count }

// Seqno returns the most recently assigned sequence number.
func (t *Tree) Seqno() uint64 { return t.seqno }

// Get returns the entry for key, if present.
func (t *Tree) Get(key lsmkv.Key) (*lsmkv.Entry, bool) {
	n := t.root
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

// Set inserts or updates key with value, returning the entry's prior
// state (nil if key was absent).
func (t *Tree) Set(key lsmkv.Key, value lsmkv.Payload) (*lsmkv.Entry, error) {
	return t.setCAS(key, value, 0, false)
}

// SetCAS inserts or updates key with value only if cas matches the
// key's current seqno (0 meaning "key must be absent"), per spec
// §4.2. Returns the entry's prior state.
func (t *Tree) SetCAS(key lsmkv.Key, value lsmkv.Payload, cas uint64) (*lsmkv.Entry, error) {
	return t.setCAS(key, value, cas, true)
}

func (t *Tree) setCAS(key lsmkv.Key, value lsmkv.Payload, cas uint64, checkCAS bool) (*lsmkv.Entry, error) {
	var prior *lsmkv.Entry
	var err error
	newSeqno := t.seqno + 1
	t.root, prior, err = t.upsert(t.root, key, value, newSeqno, cas, checkCAS)
	if err != nil {
		return nil, err
	}
	t.root.color = black
	t.seqno = newSeqno
	if prior == nil {
		t.count++
	}
	return prior, nil
}

func (t *Tree) upsert(n *node, key lsmkv.Key, value lsmkv.Payload, seqno, cas uint64, checkCAS bool) (*node, *lsmkv.Entry, error) {
	if n == nil {
		if checkCAS && cas != 0 {
			return nil, nil, lsmkv.ErrInvalidCAS
		}
		e := lsmkv.NewEntry(key, lsmkv.NewUpsertValue(value, seqno))
		return newNode(e), nil, nil
	}
	var prior *lsmkv.Entry
	var err error
	c := key.Compare(n.entry.Key())
	switch {
	case c < 0:
		n.left, prior, err = t.upsert(n.left, key, value, seqno, cas, checkCAS)
		if err != nil {
			return n, nil, err
		}
	case c > 0:
		n.right, prior, err = t.upsert(n.right, key, value, seqno, cas, checkCAS)
		if err != nil {
			return n, nil, err
		}
	default:
		if checkCAS && cas != n.entry.Value().Seqno() {
			return n, nil, lsmkv.ErrInvalidCAS
		}
		snapshot := n.entry.Clone()
		newEntry := lsmkv.NewEntry(key, lsmkv.NewUpsertValue(value, seqno))
		if _, err := n.entry.PrependVersion(newEntry, t.lsm); err != nil {
			return n, nil, err
		}
		prior = snapshot
	}
	return fixup(n), prior, nil
}

// Delete removes key. In lsm mode this marks a tombstone (creating a
// fresh tombstoned entry if the key was absent, per spec §4.2); a
// delete on an already-tombstoned entry is a no-op returning the
// existing tombstone without advancing seqno (the "back-to-back
// delete collapse" in spec §4.2). In non-lsm mode the key is
// physically removed from the tree.
func (t *Tree) Delete(key lsmkv.Key) (*lsmkv.Entry, error) {
	if t.lsm {
		return t.deleteLSM(key)
	}
	if t.root == nil {
		return nil, nil
	}
	var deleted *lsmkv.Entry
	t.root, deleted = deleteNode(t.root, key)
	if t.root != nil {
		t.root.color = black
	}
	if deleted != nil {
		t.count--
		t.seqno++
	}
	return deleted, nil
}

func (t *Tree) deleteLSM(key lsmkv.Key) (*lsmkv.Entry, error) {
	existing, ok := t.Get(key)
	if ok && existing.Value().IsTombstone() {
		return existing, nil
	}
	newSeqno := t.seqno + 1
	if ok {
		existing.Delete(newSeqno)
		t.seqno = newSeqno
		return existing, nil
	}
	e := lsmkv.NewEntry(key, lsmkv.NewTombstoneValue(newSeqno))
	t.root = insertRaw(t.root, e)
	t.root.color = black
	t.seqno = newSeqno
	t.count++
	return e, nil
}

func insertRaw(n *node, e *lsmkv.Entry) *node {
	if n == nil {
		return newNode(e)
	}
	c := e.Key().Compare(n.entry.Key())
	switch {
	case c < 0:
		n.left = insertRaw(n.left, e)
	case c > 0:
		n.right = insertRaw(n.right, e)
	default:
		n.entry = e
	}
	return fixup(n)
}

// deleteNode physically removes key from the subtree rooted at n,
// implementing the standard LLRB delete (move-red-left/right during
// descent, then fixup on the way back up).
func deleteNode(n *node, key lsmkv.Key) (*node, *lsmkv.Entry) {
	var deleted *lsmkv.Entry
	if key.Compare(n.entry.Key()) < 0 {
		if n.left == nil {
			return n, nil
		}
		if !isRed(n.left) && !isRed(n.left.left) {
			n = moveRedLeft(n)
		}
		n.left, deleted = deleteNode(n.left, key)
	} else {
		if isRed(n.left) {
			n = rotateRight(n)
		}
		if key.Compare(n.entry.Key()) == 0 && n.right == nil {
			return nil, n.entry
		}
		if n.right == nil {
			return n, nil
		}
		if !isRed(n.right) && !isRed(n.right.left) {
			n = moveRedRight(n)
		}
		if key.Compare(n.entry.Key()) == 0 {
			deleted = n.entry
			m := min(n.right)
			n.entry = m.entry
			n.right = deleteMin(n.right)
		} else {
			n.right, deleted = deleteNode(n.right, key)
		}
	}
	return fixup(n), deleted
}

func min(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func deleteMin(n *node) *node {
	if n.left == nil {
		return nil
	}
	if !isRed(n.left) && !isRed(n.left.left) {
		n = moveRedLeft(n)
	}
	n.left = deleteMin(n.left)
	return fixup(n)
}

// --- rebalancing primitives (2-3 LLRB, spec §4.2) ---

func rotateLeft(n *node) *node {
	r := n.right
	n.right = r.left
	r.left = n
	r.color = n.color
	n.color = red
	return r
}

func rotateRight(n *node) *node {
	l := n.left
	n.left = l.right
	l.right = n
	l.color = n.color
	n.color = red
	return l
}

func flip(n *node) {
	n.color = !n.color
	n.left.color = !n.left.color
	n.right.color = !n.right.color
}

func moveRedLeft(n *node) *node {
	flip(n)
	if isRed(n.right.left) {
		n.right = rotateRight(n.right)
		n = rotateLeft(n)
		flip(n)
	}
	return n
}

func moveRedRight(n *node) *node {
	flip(n)
	if isRed(n.left.left) {
		n = rotateRight(n)
		flip(n)
	}
	return n
}

func fixup(n *node) *node {
	if isRed(n.right) && !isRed(n.left) {
		n = rotateLeft(n)
	}
	if isRed(n.left) && isRed(n.left.left) {
		n = rotateRight(n)
	}
	if isRed(n.left) && isRed(n.right) {
		flip(n)
	}
	return n
}
