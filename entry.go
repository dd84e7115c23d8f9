package lsmkv

// Entry is the primary record of the engine: a key, its current
// Value slot, and an ordered, newest-first chain of DeltaRecords each
// of which reconstructs one older version (spec §3).
type Entry struct {
	key    Key
	value  Value
	deltas []DeltaRecord
}

// NewEntry constructs a fresh Entry for key with the given initial Value.
func NewEntry(key Key, value Value) *Entry {
	return &Entry{key: key, value: value}
}

// Key returns the entry's key.
func (e *Entry) Key() Key { return e.key }

// Value returns the entry's current Value slot.
func (e *Entry) Value() Value { return e.value }

// Deltas returns the entry's delta chain, newest-first. The returned
// slice must not be mutated by the caller.
func (e *Entry) Deltas() []DeltaRecord { return e.deltas }

// Footprint estimates this entry's in-memory size in bytes.
func (e *Entry) Footprint() int64 {
	total := e.value.Footprint()
	for _, d := range e.deltas {
		total += d.Footprint()
	}
	return total
}

// Clone returns a deep, independent copy of e.
func (e *Entry) Clone() *Entry {
	cp := &Entry{key: e.key.Clone(), value: e.value.clone()}
	if len(e.deltas) > 0 {
		cp.deltas = make([]DeltaRecord, len(e.deltas))
		for i, d := range e.deltas {
			cp.deltas[i] = d.clone()
		}
	}
	return cp
}

// absoluteDelta adapts a Payload so it can be carried inside a
// DeltaRecord and recovered directly (without a merge target) when
// version-reconstruction starts from nothing — the "old_value -> ∅"
// delta synthesized by Delete (spec §4.1).
type absoluteDelta struct{ payload Payload }

func (a absoluteDelta) Footprint() int64 { return a.payload.Footprint() }

// WrapAbsolutePayload adapts a Payload as a Delta suitable for
// NewUpsertDelta, for reconstructing the "old_value -> ∅" delta a
// serialized DeltaRecord.AbsolutePayload() reported (spec §4.1 Delete).
func WrapAbsolutePayload(p Payload) Delta { return absoluteDelta{payload: p} }

// AbsolutePayload reports whether d carries an absolute payload rather
// than a relative diff (the "old_value -> ∅" delta synthesized by
// Delete when the entry had no prior diff target), returning it if so.
func (d DeltaRecord) AbsolutePayload() (Payload, bool) {
	if d.native == nil {
		return nil, false
	}
	ad, ok := d.native.(absoluteDelta)
	if !ok {
		return nil, false
	}
	return ad.payload, true
}

// PrependVersion applies a create/update per spec §4.1. When lsm is
// false this simply replaces the current value. When lsm is true it
// synthesizes a Delta representing the entry's previous value
// relative to newEntry's value, pushes it onto the front of the delta
// chain, then installs newEntry's value as current. It returns the
// resulting change in Footprint.
func (e *Entry) PrependVersion(newEntry *Entry, lsm bool) (int64, error) {
	before := e.Footprint()
	if !lsm {
		e.value = newEntry.value
		return e.Footprint() - before, nil
	}
	prev := e.value
	if prev.IsReference() {
		return 0, NewUnreachable("prepend_version: previous value is a reference; materialize before diff")
	}
	var dr DeltaRecord
	if prev.IsTombstone() {
		dr = NewDeleteDelta(prev.Seqno())
	} else {
		oldNative, ok := prev.Native()
		if !ok {
			return 0, NewUnreachable("prepend_version: previous value has no native payload")
		}
		newNative, ok := newEntry.value.Native()
		if !ok {
			return 0, NewUnreachable("prepend_version: new value has no native payload")
		}
		d := newNative.Diff(oldNative)
		dr = NewUpsertDelta(d, prev.Seqno())
	}
	e.deltas = append([]DeltaRecord{dr}, e.deltas...)
	e.value = newEntry.value
	return e.Footprint() - before, nil
}

// Delete applies an LSM-mode deletion per spec §4.1: if the entry is
// already tombstoned, a fresh delete-delta is pushed preserving the
// old tombstone's seqno; otherwise a delta reconstructing the live
// value is pushed and the slot becomes a Tombstone at seqno.
func (e *Entry) Delete(seqno uint64) {
	if e.value.IsTombstone() {
		e.deltas = append([]DeltaRecord{NewDeleteDelta(e.value.Seqno())}, e.deltas...)
		e.value = NewTombstoneValue(seqno)
		return
	}
	var dr DeltaRecord
	if ref, ok := e.value.Reference(); ok {
		dr = NewUpsertRefDelta(ref, e.value.Seqno())
	} else {
		old, _ := e.value.Native()
		dr = NewUpsertDelta(absoluteDelta{payload: old}, e.value.Seqno())
	}
	e.deltas = append([]DeltaRecord{dr}, e.deltas...)
	e.value = NewTombstoneValue(seqno)
}

// RelocateValue replaces e's current native value with a vlog
// reference at the same seqno, for builders that move payloads out of
// the index into a companion value log (spec §4.4).
func (e *Entry) RelocateValue(ref ValueRef) {
	e.value = NewUpsertRefValue(ref, e.value.Seqno())
}

// RelocateDelta replaces deltas[i]'s native payload with a vlog
// reference at the same seqno.
func (e *Entry) RelocateDelta(i int, ref ValueRef) {
	e.deltas[i] = NewUpsertRefDelta(ref, e.deltas[i].Seqno())
}

// RestoreValue replaces e's current value slot outright, for readers
// that have fetched a reference's native payload out of a value log
// and want to hand back an entry with the reference resolved.
func (e *Entry) RestoreValue(v Value) { e.value = v }

// RestoreDelta replaces deltas[i]'s native payload outright, mirroring
// RestoreValue for the delta chain.
func (e *Entry) RestoreDelta(i int, native Delta) {
	e.deltas[i] = NewUpsertDelta(native, e.deltas[i].Seqno())
}

// AppendRawDelta appends d to the end of the delta chain without any
// validation, for use by decoders reconstructing an Entry from its
// on-disk form (the chain is already newest-first by construction).
func (e *Entry) AppendRawDelta(d DeltaRecord) {
	e.deltas = append(e.deltas, d)
}

// Purge drops versions according to cutoff (spec §4.1). It reports
// whether the entry should be dropped entirely by the caller.
func (e *Entry) Purge(c Cutoff) bool {
	switch c.Mode {
	case CutoffMono:
		if e.value.IsTombstone() {
			return true
		}
		e.deltas = nil
		return false
	case CutoffTombstone:
		if c.Bound.empty() {
			return false
		}
		return e.value.IsTombstone() && c.Bound.Purgeable(e.value.Seqno())
	case CutoffLsm:
		allPurgeable := c.Bound.Purgeable(e.value.Seqno())
		if allPurgeable {
			for _, d := range e.deltas {
				if !c.Bound.Purgeable(d.Seqno()) {
					allPurgeable = false
					break
				}
			}
		}
		if allPurgeable {
			return true
		}
		i := len(e.deltas)
		for i > 0 && c.Bound.Purgeable(e.deltas[i-1].Seqno()) {
			i--
		}
		e.deltas = e.deltas[:i]
		return false
	default:
		return false
	}
}

// fromDelta recovers an absolute Payload from a DeltaRecord that has
// no merge target yet (curr == nil in nextValue below). Only the
// delete-synthesized absoluteDelta is expected here; anything else
// indicates a broken invariant.
func fromDelta(d DeltaRecord) (Payload, error) {
	native, ok := d.Native()
	if !ok {
		return nil, NewUnreachable("fromDelta: delta has no native payload to recover")
	}
	ad, ok := native.(absoluteDelta)
	if !ok {
		return nil, NewUnreachable("fromDelta: delta is a relative diff with no reconstruction target")
	}
	return ad.payload, nil
}

// nextValue implements spec §4.1's next_value: given the currently
// reconstructed value (nil if none yet) and the next delta in the
// chain, produces the version that delta encodes plus the new running
// "curr" for folding further deltas (nil once a tombstone or
// reference is hit).
func nextValue(curr *Value, d DeltaRecord) (Value, *Value, error) {
	if d.IsTombstone() {
		v := NewTombstoneValue(d.Seqno())
		return v, nil, nil
	}
	if ref, ok := d.Reference(); ok {
		v := NewUpsertRefValue(ref, d.Seqno())
		return v, nil, nil
	}
	if curr == nil {
		p, err := fromDelta(d)
		if err != nil {
			return Value{}, nil, err
		}
		v := NewUpsertValue(p, d.Seqno())
		return v, &v, nil
	}
	if curr.IsReference() {
		return Value{}, nil, NewUnreachable("nextValue: cannot fold past a reference-typed value")
	}
	curNative, ok := curr.Native()
	if !ok {
		return Value{}, nil, NewUnreachable("nextValue: current value has no native payload")
	}
	dNative, _ := d.Native()
	prev := curNative.Merge(dNative)
	v := NewUpsertValue(prev, d.Seqno())
	return v, &v, nil
}

// Versions reconstructs the newest-first sequence of historical
// values for this entry: the current value followed by each older
// version recovered by folding the delta chain via nextValue. The
// sequence stops early if it encounters a reference-typed value,
// since older history beyond that point lives in a value log not yet
// fetched (spec §4.1).
func (e *Entry) Versions() []Value {
	out := make([]Value, 0, len(e.deltas)+1)
	out = append(out, e.value)
	if e.value.IsReference() {
		return out
	}
	var curr *Value
	if !e.value.IsTombstone() {
		v := e.value
		curr = &v
	}
	for _, d := range e.deltas {
		v, nc, err := nextValue(curr, d)
		if err != nil {
			break
		}
		out = append(out, v)
		if v.IsReference() {
			break
		}
		curr = nc
	}
	return out
}

// FilterWithin produces a projection of e containing only versions
// whose seqno falls within the range described by start (lower) and
// end (upper), per spec §4.1. It returns nil if no version of e
// satisfies end at all. The receiver is never mutated.
func (e *Entry) FilterWithin(start, end Bound) *Entry {
	cp := e.Clone()
	if !end.Purgeable(cp.value.Seqno()) {
		var curr *Value
		if !cp.value.IsTombstone() {
			v := cp.value
			curr = &v
		}
		matched := false
		for i, d := range cp.deltas {
			v, nc, err := nextValue(curr, d)
			if err != nil {
				return nil
			}
			if end.Purgeable(v.Seqno()) {
				cp.value = v
				cp.deltas = cp.deltas[i+1:]
				matched = true
				break
			}
			curr = nc
		}
		if !matched {
			return nil
		}
	}
	cp.Purge(NewLsmCutoff(start))
	return cp
}

// Xmerge cross-merges two version chains for the same key drawn from
// different snapshots (spec §4.1). The seqno ranges of a and b must
// be disjoint and neither may contain a reference-typed value; both
// are validated here (the spec calls this "debug-time validation" but
// this implementation always validates, since the check is cheap
// relative to the merge itself). Returns the older of the two
// entries, mutated in place to carry the combined history, matching
// the spec's "return b" where b is the older chain.
func Xmerge(a, b *Entry) (*Entry, error) {
	newer, older := a, b
	if b.value.Seqno() > a.value.Seqno() {
		newer, older = b, a
	}
	newerVersions := newer.Versions()
	olderVersions := older.Versions()
	if len(newerVersions) == 0 || len(olderVersions) == 0 {
		return nil, NewUnreachable("xmerge: empty version chain")
	}
	if newerVersions[len(newerVersions)-1].IsReference() {
		return nil, NewUnreachable("xmerge: newer chain contains a reference-typed value")
	}
	if olderVersions[len(olderVersions)-1].IsReference() {
		return nil, NewUnreachable("xmerge: older chain contains a reference-typed value")
	}
	minNewer := newerVersions[len(newerVersions)-1].Seqno()
	maxOlder := olderVersions[0].Seqno()
	if minNewer <= maxOlder {
		return nil, NewUnreachable("xmerge: seqno ranges are not disjoint")
	}
	for i := len(newerVersions) - 1; i >= 0; i-- {
		v := newerVersions[i]
		wrapper := &Entry{key: newer.key, value: v}
		if _, err := older.PrependVersion(wrapper, true); err != nil {
			return nil, err
		}
	}
	return older, nil
}
