package lsmkv

// Payload is the user's value type. It must be cloneable and support
// the Diff contract described in spec §3: for any newer version
// new and older version old of the same key,
//
//	d := new.Diff(old)
//	new.Merge(d) == old
//
// i.e. a Delta recovers the older version from the newer one. Diff and
// Merge are never called by this package directly on reference-typed
// slots (see ValueRef); callers must materialize a value out of the
// value log first.
type Payload interface {
	// Clone returns an independent deep copy.
	Clone() Payload
	// Diff computes a Delta such that new.Merge(new.Diff(old)) == old,
	// called as new.Diff(old).
	Diff(old Payload) Delta
	// Merge applies a Delta produced by Diff and returns the older
	// version it encodes.
	Merge(d Delta) Payload
	// Footprint estimates the in-memory size of this payload in bytes.
	Footprint() int64
}

// Delta is the logical difference between two successive Payload
// versions, produced by Payload.Diff and consumed by Payload.Merge.
type Delta interface {
	// Footprint estimates the in-memory size of this delta in bytes.
	Footprint() int64
}

// ValueRef is a {fpos,length} pointer into a value log, used when a
// Value or DeltaRecord's payload has been relocated out of the memory
// index / BUBT leaf and into a companion vlog file (spec §3, §4.4).
type ValueRef struct {
	Fpos   int64
	Length int64
}

// Value is the "current" slot of an Entry: either a live Upsert
// (native payload or a vlog reference) or a Tombstone, each carrying
// the seqno of the mutation that produced it (spec §3).
type Value struct {
	tombstone bool
	seqno     uint64
	native    Payload
	ref       *ValueRef
}

// NewUpsertValue constructs a live, natively-held Value.
func NewUpsertValue(p Payload, seqno uint64) Value {
	return Value{tombstone: false, seqno: seqno, native: p}
}

// NewUpsertRefValue constructs a live Value whose payload lives in a
// value log at the given fpos/length.
func NewUpsertRefValue(ref ValueRef, seqno uint64) Value {
	return Value{tombstone: false, seqno: seqno, ref: &ref}
}

// NewTombstoneValue constructs a deleted Value.
func NewTombstoneValue(seqno uint64) Value {
	return Value{tombstone: true, seqno: seqno}
}

// IsTombstone reports whether this slot represents a deletion.
func (v Value) IsTombstone() bool { return v.tombstone }

// Seqno returns the mutation sequence number that produced this slot.
func (v Value) Seqno() uint64 { return v.seqno }

// IsReference reports whether the payload (for an Upsert) lives in a
// value log rather than inline.
func (v Value) IsReference() bool { return !v.tombstone && v.ref != nil }

// Reference returns the vlog pointer, if any.
func (v Value) Reference() (ValueRef, bool) {
	if v.ref == nil {
		return ValueRef{}, false
	}
	return *v.ref, true
}

// Native returns the inline payload, if any (false for tombstones and
// for reference-valued upserts not yet fetched).
func (v Value) Native() (Payload, bool) {
	if v.tombstone || v.native == nil {
		return nil, false
	}
	return v.native, true
}

// Footprint estimates this slot's in-memory size.
func (v Value) Footprint() int64 {
	if v.native != nil {
		return v.native.Footprint()
	}
	return 0
}

// clone returns an independent copy of v, deep-copying any native payload.
func (v Value) clone() Value {
	cp := v
	if v.native != nil {
		cp.native = v.native.Clone()
	}
	if v.ref != nil {
		r := *v.ref
		cp.ref = &r
	}
	return cp
}

// DeltaRecord is one link of an Entry's delta chain: either an
// UpsertDelta (the logical diff needed to reconstruct the previous
// version) or a DeleteDelta (the previous version was a tombstone),
// each tagged with the seqno of the version it reconstructs (spec
// §3/§4.1).
type DeltaRecord struct {
	tombstone bool
	seqno     uint64
	native    Delta
	ref       *ValueRef
}

// NewUpsertDelta constructs a delta reconstructing a prior Upsert.
func NewUpsertDelta(d Delta, seqno uint64) DeltaRecord {
	return DeltaRecord{tombstone: false, seqno: seqno, native: d}
}

// NewUpsertRefDelta constructs a delta whose payload lives in a value log.
func NewUpsertRefDelta(ref ValueRef, seqno uint64) DeltaRecord {
	return DeltaRecord{tombstone: false, seqno: seqno, ref: &ref}
}

// NewDeleteDelta constructs a delta reconstructing a prior Tombstone.
func NewDeleteDelta(seqno uint64) DeltaRecord {
	return DeltaRecord{tombstone: true, seqno: seqno}
}

// IsTombstone reports whether this delta reconstructs a tombstone.
func (d DeltaRecord) IsTombstone() bool { return d.tombstone }

// Seqno returns the sequence number this delta reconstructs.
func (d DeltaRecord) Seqno() uint64 { return d.seqno }

// IsReference reports whether this delta's payload lives in a value log.
func (d DeltaRecord) IsReference() bool { return !d.tombstone && d.ref != nil }

// Reference returns the vlog pointer, if any.
func (d DeltaRecord) Reference() (ValueRef, bool) {
	if d.ref == nil {
		return ValueRef{}, false
	}
	return *d.ref, true
}

// Native returns the inline delta payload, if any.
func (d DeltaRecord) Native() (Delta, bool) {
	if d.tombstone || d.native == nil {
		return nil, false
	}
	return d.native, true
}

// Footprint estimates this delta's in-memory size.
func (d DeltaRecord) Footprint() int64 {
	if d.native != nil {
		return d.native.Footprint()
	}
	return 0
}

func (d DeltaRecord) clone() DeltaRecord {
	cp := d
	if d.ref != nil {
		r := *d.ref
		cp.ref = &r
	}
	return cp
}
