package bubt

import (
	"os"
	"sync"

	"github.com/gholt/lsmkv"
	"github.com/gholt/lsmkv/vlog"
)

// Snapshot is a read-only handle onto a built BUBT index, optionally
// paired with its value log (spec §4.5). A Snapshot is immutable and
// safe for concurrent use by multiple goroutines, mirroring the
// teacher's read-only *os.File usage in valuestorefile_GEN_.go (reads
// go through ReadAt and need no lock).
type Snapshot struct {
	indexFP *os.File
	vr      *vlog.Reader

	ser lsmkv.Serializer
	kc  KeyCodec

	stats    Stats
	metadata []byte

	cache struct {
		sync.Mutex
		m map[int64][]byte
	}
}

// Open opens a BUBT snapshot previously written by a Builder. vlogPath
// may be empty if the snapshot keeps all values inline.
func Open(indexPath, vlogPath string, opts ...func(*config)) (*Snapshot, error) {
	cfg := resolveConfig(opts...)

	fp, err := os.Open(indexPath)
	if err != nil {
		return nil, lsmkv.NewIoError("bubt.Open: open index", err)
	}
	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, lsmkv.NewIoError("bubt.Open: stat index", err)
	}

	readAt := func(off int64, n int) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := fp.ReadAt(buf, off); err != nil {
			return nil, lsmkv.NewIoError("bubt: trailer read", err)
		}
		return buf, nil
	}
	st, metadata, _, err := decodeTrailer(fi.Size(), readAt)
	if err != nil {
		fp.Close()
		return nil, err
	}

	s := &Snapshot{
		indexFP:  fp,
		ser:      cfg.serializer,
		kc:       cfg.keyCodec,
		stats:    st,
		metadata: metadata,
	}
	s.cache.m = make(map[int64][]byte)

	if vlogPath != "" {
		vr, err := vlog.Open(vlogPath)
		if err != nil {
			fp.Close()
			return nil, err
		}
		s.vr = vr
	}

	return s, nil
}

// Stats reports the snapshot's structural statistics, uniformly with
// *llrb.Tree.Validate and *wal.WAL.Stats.
func (s *Snapshot) Stats() Stats { return s.stats }

// Metadata returns the opaque application blob the builder was given,
// if any.
func (s *Snapshot) Metadata() []byte { return s.metadata }

// Close releases the snapshot's open file handles.
func (s *Snapshot) Close() error {
	var first error
	if err := s.indexFP.Close(); err != nil {
		first = err
	}
	if s.vr != nil {
		if err := s.vr.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Snapshot) readBlock(fp int64, size int) ([]byte, error) {
	s.cache.Lock()
	if b, ok := s.cache.m[fp]; ok {
		s.cache.Unlock()
		return b, nil
	}
	s.cache.Unlock()

	buf := make([]byte, size)
	if _, err := s.indexFP.ReadAt(buf, fp); err != nil {
		return nil, lsmkv.NewIoError("bubt: block read", err)
	}

	s.cache.Lock()
	s.cache.m[fp] = buf
	s.cache.Unlock()
	return buf, nil
}

// resolveEntry materializes an entry's value and deltas that may carry vlog references,
// fetching and decoding the referenced record when a reader is
// attached. Entries are returned as-is (reference intact) when there is
// no value log, matching the spec's "caller fetches lazily" contract.
func (s *Snapshot) resolveEntry(e *lsmkv.Entry) (*lsmkv.Entry, error) {
	if s.vr == nil {
		return e, nil
	}
	if ref, ok := e.Value().Reference(); ok {
		_, payload, err := s.vr.Fetch(ref)
		if err != nil {
			return nil, err
		}
		native, err := s.ser.DecodePayload(payload)
		if err != nil {
			return nil, err
		}
		cp := e.Clone()
		cp.RestoreValue(lsmkv.NewUpsertValue(native, e.Value().Seqno()))
		e = cp
	}
	for i, d := range e.Deltas() {
		ref, ok := d.Reference()
		if !ok {
			continue
		}
		kind, payload, err := s.vr.Fetch(ref)
		if err != nil {
			return nil, err
		}
		var native lsmkv.Delta
		if kind == vlog.KindValue {
			p, err := s.ser.DecodePayload(payload)
			if err != nil {
				return nil, err
			}
			native = lsmkv.WrapAbsolutePayload(p)
		} else {
			dd, err := s.ser.DecodeDelta(payload)
			if err != nil {
				return nil, err
			}
			native = dd
		}
		e.RestoreDelta(i, native)
	}
	return e, nil
}

// descendToLeaf walks from the root to the Z-block that would contain
// key, returning its decoded entries. ok is false for an empty
// snapshot.
func (s *Snapshot) descendToLeaf(key lsmkv.Key) ([]*lsmkv.Entry, bool, error) {
	if s.stats.RootFP < 0 {
		return nil, false, nil
	}
	fp := s.stats.RootFP
	isLeaf := s.stats.RootIsLeaf
	for !isLeaf {
		block, err := s.readBlock(fp, s.stats.MBlockSize)
		if err != nil {
			return nil, false, err
		}
		entries, err := decodeMBlock(block, s.kc)
		if err != nil {
			return nil, false, err
		}
		child, ok := findChild(entries, key)
		if !ok {
			return nil, false, nil
		}
		fp = child.childFP
		isLeaf = child.isLeaf
	}
	block, err := s.readBlock(fp, s.stats.ZBlockSize)
	if err != nil {
		return nil, false, err
	}
	entries, err := decodeZBlock(block, s.ser, s.kc)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// Get performs a point lookup, returning (entry, true) if key is
// present (spec §4.5).
func (s *Snapshot) Get(key lsmkv.Key) (*lsmkv.Entry, bool, error) {
	entries, ok, err := s.descendToLeaf(key)
	if err != nil || !ok {
		return nil, false, err
	}
	e, ok := findInZBlock(entries, key)
	if !ok {
		return nil, false, nil
	}
	resolved, err := s.resolveEntry(e)
	if err != nil {
		return nil, false, err
	}
	return resolved, true, nil
}

// pathFrame is one level of the descent stack used by the forward
// iterator: the decoded entries at that M-block level and the index of
// the child currently being visited.
type pathFrame struct {
	entries []mEntry
	idx     int
}

// Iterator is a forward cursor over a Snapshot's entries in ascending
// key order, implementing lsmkv.EntryIterator so it composes with
// lsmkv.MergeIterators (spec §4.5).
type Iterator struct {
	snap *Snapshot
	path []pathFrame

	leaf    []*lsmkv.Entry
	leafIdx int

	done bool
	err  error
}

// Iter returns a forward iterator positioned at the snapshot's first
// entry.
func (s *Snapshot) Iter() (*Iterator, error) {
	it := &Iterator{snap: s}
	if s.stats.RootFP < 0 {
		it.done = true
		return it, nil
	}
	if err := it.descendLeftFrom(s.stats.RootFP, s.stats.RootIsLeaf); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) descendLeftFrom(fp int64, isLeaf bool) error {
	for !isLeaf {
		block, err := it.snap.readBlock(fp, it.snap.stats.MBlockSize)
		if err != nil {
			return err
		}
		entries, err := decodeMBlock(block, it.snap.kc)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			it.done = true
			return nil
		}
		it.path = append(it.path, pathFrame{entries: entries, idx: 0})
		fp, isLeaf = entries[0].childFP, entries[0].isLeaf
	}
	block, err := it.snap.readBlock(fp, it.snap.stats.ZBlockSize)
	if err != nil {
		return err
	}
	entries, err := decodeZBlock(block, it.snap.ser, it.snap.kc)
	if err != nil {
		return err
	}
	it.leaf, it.leafIdx = entries, 0
	if len(entries) == 0 {
		it.done = true
	}
	return nil
}

// advanceToNextLeaf walks back up the path stack to the nearest
// ancestor with an unvisited right sibling, then descends left again
// from there; it marks the iterator done once the stack is exhausted.
func (it *Iterator) advanceToNextLeaf() error {
	for len(it.path) > 0 {
		top := &it.path[len(it.path)-1]
		top.idx++
		if top.idx < len(top.entries) {
			child := top.entries[top.idx]
			return it.descendLeftFrom(child.childFP, child.isLeaf)
		}
		it.path = it.path[:len(it.path)-1]
	}
	it.done = true
	return nil
}

// Next returns the next entry in ascending key order, or (nil, false)
// once exhausted or once an error has occurred; after (nil, false)
// callers should check Err, and every later call also returns
// (nil, false).
func (it *Iterator) Next() (*lsmkv.Entry, bool) {
	if it.done || it.err != nil {
		return nil, false
	}
	for it.leafIdx >= len(it.leaf) {
		if err := it.advanceToNextLeaf(); err != nil {
			it.err = err
			return nil, false
		}
		if it.done {
			return nil, false
		}
	}
	e := it.leaf[it.leafIdx]
	it.leafIdx++
	resolved, err := it.snap.resolveEntry(e)
	if err != nil {
		it.err = err
		return nil, false
	}
	return resolved, true
}

// Err returns the first error Next encountered, if any.
func (it *Iterator) Err() error { return it.err }
