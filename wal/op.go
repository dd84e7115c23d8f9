package wal

import (
	"encoding/binary"

	"github.com/gholt/lsmkv"
)

// opKind tags an Op's wire form, carried in the high 24 bits of the
// first u64 of its encoding (spec §4.6 Op format).
type opKind uint32

const (
	opSet opKind = iota + 1
	opSetCAS
	opDelete
)

// Op is one mutation recorded in the log: a Set, a CAS-gated Set, or a
// Delete (spec §4.6).
type Op struct {
	Kind  opKind
	Key   []byte
	Value []byte
	CAS   uint64
}

// NewSetOp builds a plain upsert Op.
func NewSetOp(key, value []byte) Op { return Op{Kind: opSet, Key: key, Value: value} }

// NewSetCASOp builds a CAS-gated upsert Op.
func NewSetCASOp(key, value []byte, cas uint64) Op {
	return Op{Kind: opSetCAS, Key: key, Value: value, CAS: cas}
}

// NewDeleteOp builds a delete Op.
func NewDeleteOp(key []byte) Op { return Op{Kind: opDelete, Key: key} }

// packHeader packs a 24-bit kind tag into the high bits of a u64 alongside
// a 32-bit length, matching spec §4.6's "[tag|u32 klen]".
func packHeader(k opKind, klen uint32) uint64 {
	return uint64(k)<<40 | uint64(klen)
}

func unpackHeader(h uint64) (opKind, uint32) {
	return opKind(h >> 40), uint32(h & 0xFFFFFFFF)
}

func encodeOp(o Op, dst []byte) []byte {
	dst = appendU64(dst, packHeader(o.Kind, uint32(len(o.Key))))
	switch o.Kind {
	case opSet:
		dst = appendU64(dst, uint64(len(o.Value)))
		dst = append(dst, o.Key...)
		dst = append(dst, o.Value...)
	case opSetCAS:
		dst = appendU64(dst, uint64(len(o.Value)))
		dst = appendU64(dst, o.CAS)
		dst = append(dst, o.Key...)
		dst = append(dst, o.Value...)
	case opDelete:
		dst = append(dst, o.Key...)
	}
	return dst
}

func decodeOp(src []byte) (Op, int, error) {
	if len(src) < 8 {
		return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: header", 8, int64(len(src)))
	}
	kind, klen := unpackHeader(binary.BigEndian.Uint64(src[:8]))
	pos := 8
	switch kind {
	case opSet:
		if len(src) < pos+8 {
			return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: set vlen", int64(pos+8), int64(len(src)))
		}
		vlen := binary.BigEndian.Uint64(src[pos : pos+8])
		pos += 8
		if len(src) < pos+int(klen)+int(vlen) {
			return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: set body", int64(pos+int(klen)+int(vlen)), int64(len(src)))
		}
		key := append([]byte(nil), src[pos:pos+int(klen)]...)
		pos += int(klen)
		value := append([]byte(nil), src[pos:pos+int(vlen)]...)
		pos += int(vlen)
		return Op{Kind: opSet, Key: key, Value: value}, pos, nil
	case opSetCAS:
		if len(src) < pos+16 {
			return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: setcas vlen/cas", int64(pos+16), int64(len(src)))
		}
		vlen := binary.BigEndian.Uint64(src[pos : pos+8])
		cas := binary.BigEndian.Uint64(src[pos+8 : pos+16])
		pos += 16
		if len(src) < pos+int(klen)+int(vlen) {
			return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: setcas body", int64(pos+int(klen)+int(vlen)), int64(len(src)))
		}
		key := append([]byte(nil), src[pos:pos+int(klen)]...)
		pos += int(klen)
		value := append([]byte(nil), src[pos:pos+int(vlen)]...)
		pos += int(vlen)
		return Op{Kind: opSetCAS, Key: key, Value: value, CAS: cas}, pos, nil
	case opDelete:
		if len(src) < pos+int(klen) {
			return Op{}, 0, lsmkv.NewPartialRead("wal.decodeOp: delete key", int64(pos+int(klen)), int64(len(src)))
		}
		key := append([]byte(nil), src[pos:pos+int(klen)]...)
		pos += int(klen)
		return Op{Kind: opDelete, Key: key}, pos, nil
	default:
		return Op{}, 0, lsmkv.NewUnreachable("wal.decodeOp: unknown op kind")
	}
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func appendU16(dst []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(dst, b[:]...)
}
