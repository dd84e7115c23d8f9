package bubt

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/gholt/lsmkv"
)

// verifyChecksum confirms block's trailing murmur3 checksum matches
// its content, guarding against a truncated or corrupted read of a
// fixed-size Z/M block.
func verifyChecksum(block []byte) error {
	boundary := len(block) - checksumSize
	want := binary.BigEndian.Uint64(block[boundary:])
	got := murmur3.Sum64(block[:boundary])
	if want != got {
		return lsmkv.NewUnreachable("bubt: block checksum mismatch; snapshot is corrupt")
	}
	return nil
}

// KeyCodec decodes a Key from its canonical Bytes() encoding, the
// inverse half of the lsmkv.Key contract that Key.Bytes() provides
// (spec §3's "byte-serializable" requirement, read back on the
// reader side).
type KeyCodec interface {
	DecodeKey(b []byte) (lsmkv.Key, error)
}

type keyCodecFunc func([]byte) (lsmkv.Key, error)

func (f keyCodecFunc) DecodeKey(b []byte) (lsmkv.Key, error) { return f(b) }

// Int64KeyCodec decodes lsmkv.Int64 keys from their Bytes() encoding.
var Int64KeyCodec KeyCodec = keyCodecFunc(func(b []byte) (lsmkv.Key, error) {
	if len(b) != 8 {
		return nil, lsmkv.NewUnreachable("bubt: int64 key must be 8 bytes")
	}
	u := binary.BigEndian.Uint64(b)
	return lsmkv.Int64(int64(u ^ (1 << 63))), nil
})

// BytesKeyCodec decodes lsmkv.Bytes keys verbatim.
var BytesKeyCodec KeyCodec = keyCodecFunc(func(b []byte) (lsmkv.Key, error) {
	cp := make(lsmkv.Bytes, len(b))
	copy(cp, b)
	return cp, nil
})

const (
	valKindTombstone = 0
	valKindNative    = 1
	valKindRef       = 2
)

const (
	deltaKindTombstone = 0
	deltaKindRelative  = 1
	deltaKindRef       = 2
	deltaKindAbsolute  = 3
)

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func readU32(src []byte) uint32 { return binary.BigEndian.Uint32(src) }
func readU64(src []byte) uint64 { return binary.BigEndian.Uint64(src) }

// encodeValue serializes one Value slot: kind tag, seqno, then a
// kind-specific payload.
func encodeValue(v lsmkv.Value, ser lsmkv.Serializer, dst []byte) []byte {
	if v.IsTombstone() {
		dst = append(dst, valKindTombstone)
		return appendU64(dst, v.Seqno())
	}
	if ref, ok := v.Reference(); ok {
		dst = append(dst, valKindRef)
		dst = appendU64(dst, v.Seqno())
		dst = appendU64(dst, uint64(ref.Fpos))
		return appendU64(dst, uint64(ref.Length))
	}
	native, _ := v.Native()
	enc := ser.EncodePayload(native, nil)
	dst = append(dst, valKindNative)
	dst = appendU64(dst, v.Seqno())
	dst = appendU32(dst, uint32(len(enc)))
	return append(dst, enc...)
}

// decodeValue is the inverse of encodeValue, returning the Value and
// the number of bytes consumed from src.
func decodeValue(src []byte, ser lsmkv.Serializer) (lsmkv.Value, int, error) {
	if len(src) < 1 {
		return lsmkv.Value{}, 0, lsmkv.NewPartialRead("bubt.decodeValue: kind", 1, int64(len(src)))
	}
	kind := src[0]
	switch kind {
	case valKindTombstone:
		if len(src) < 9 {
			return lsmkv.Value{}, 0, lsmkv.NewPartialRead("bubt.decodeValue: tombstone", 9, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		return lsmkv.NewTombstoneValue(seqno), 9, nil
	case valKindRef:
		if len(src) < 25 {
			return lsmkv.Value{}, 0, lsmkv.NewPartialRead("bubt.decodeValue: ref", 25, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		fpos := int64(readU64(src[9:17]))
		length := int64(readU64(src[17:25]))
		return lsmkv.NewUpsertRefValue(lsmkv.ValueRef{Fpos: fpos, Length: length}, seqno), 25, nil
	case valKindNative:
		if len(src) < 13 {
			return lsmkv.Value{}, 0, lsmkv.NewPartialRead("bubt.decodeValue: native header", 13, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		plen := int(readU32(src[9:13]))
		if len(src) < 13+plen {
			return lsmkv.Value{}, 0, lsmkv.NewPartialRead("bubt.decodeValue: native payload", int64(13+plen), int64(len(src)))
		}
		p, err := ser.DecodePayload(src[13 : 13+plen])
		if err != nil {
			return lsmkv.Value{}, 0, err
		}
		return lsmkv.NewUpsertValue(p, seqno), 13 + plen, nil
	default:
		return lsmkv.Value{}, 0, lsmkv.NewUnreachable("bubt.decodeValue: unknown value kind")
	}
}

// encodeDelta serializes one DeltaRecord.
func encodeDelta(d lsmkv.DeltaRecord, ser lsmkv.Serializer, dst []byte) []byte {
	if d.IsTombstone() {
		dst = append(dst, deltaKindTombstone)
		return appendU64(dst, d.Seqno())
	}
	if ref, ok := d.Reference(); ok {
		dst = append(dst, deltaKindRef)
		dst = appendU64(dst, d.Seqno())
		dst = appendU64(dst, uint64(ref.Fpos))
		return appendU64(dst, uint64(ref.Length))
	}
	if p, ok := d.AbsolutePayload(); ok {
		enc := ser.EncodePayload(p, nil)
		dst = append(dst, deltaKindAbsolute)
		dst = appendU64(dst, d.Seqno())
		dst = appendU32(dst, uint32(len(enc)))
		return append(dst, enc...)
	}
	native, _ := d.Native()
	enc := ser.EncodeDelta(native, nil)
	dst = append(dst, deltaKindRelative)
	dst = appendU64(dst, d.Seqno())
	dst = appendU32(dst, uint32(len(enc)))
	return append(dst, enc...)
}

// decodeDelta is the inverse of encodeDelta.
func decodeDelta(src []byte, ser lsmkv.Serializer) (lsmkv.DeltaRecord, int, error) {
	if len(src) < 1 {
		return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: kind", 1, int64(len(src)))
	}
	kind := src[0]
	switch kind {
	case deltaKindTombstone:
		if len(src) < 9 {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: tombstone", 9, int64(len(src)))
		}
		return lsmkv.NewDeleteDelta(readU64(src[1:9])), 9, nil
	case deltaKindRef:
		if len(src) < 25 {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: ref", 25, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		fpos := int64(readU64(src[9:17]))
		length := int64(readU64(src[17:25]))
		return lsmkv.NewUpsertRefDelta(lsmkv.ValueRef{Fpos: fpos, Length: length}, seqno), 25, nil
	case deltaKindAbsolute:
		if len(src) < 13 {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: absolute header", 13, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		plen := int(readU32(src[9:13]))
		if len(src) < 13+plen {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: absolute payload", int64(13+plen), int64(len(src)))
		}
		p, err := ser.DecodePayload(src[13 : 13+plen])
		if err != nil {
			return lsmkv.DeltaRecord{}, 0, err
		}
		return lsmkv.NewUpsertDelta(lsmkv.WrapAbsolutePayload(p), seqno), 13 + plen, nil
	case deltaKindRelative:
		if len(src) < 13 {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: relative header", 13, int64(len(src)))
		}
		seqno := readU64(src[1:9])
		dlen := int(readU32(src[9:13]))
		if len(src) < 13+dlen {
			return lsmkv.DeltaRecord{}, 0, lsmkv.NewPartialRead("bubt.decodeDelta: relative payload", int64(13+dlen), int64(len(src)))
		}
		d, err := ser.DecodeDelta(src[13 : 13+dlen])
		if err != nil {
			return lsmkv.DeltaRecord{}, 0, err
		}
		return lsmkv.NewUpsertDelta(d, seqno), 13 + dlen, nil
	default:
		return lsmkv.DeltaRecord{}, 0, lsmkv.NewUnreachable("bubt.decodeDelta: unknown delta kind")
	}
}

// encodeZEntry serializes one leaf entry: key length + bytes, the
// current value slot, then the delta chain (spec §4.4 ZEntry).
func encodeZEntry(e *lsmkv.Entry, ser lsmkv.Serializer, dst []byte) []byte {
	kb := e.Key().Bytes()
	dst = appendU32(dst, uint32(len(kb)))
	dst = append(dst, kb...)
	dst = encodeValue(e.Value(), ser, dst)
	deltas := e.Deltas()
	dst = appendU32(dst, uint32(len(deltas)))
	for _, d := range deltas {
		dst = encodeDelta(d, ser, dst)
	}
	return dst
}

// decodeZEntry is the inverse of encodeZEntry.
func decodeZEntry(src []byte, ser lsmkv.Serializer, kc KeyCodec) (*lsmkv.Entry, int, error) {
	if len(src) < 4 {
		return nil, 0, lsmkv.NewPartialRead("bubt.decodeZEntry: keylen", 4, int64(len(src)))
	}
	pos := 0
	klen := int(readU32(src))
	pos += 4
	if len(src) < pos+klen {
		return nil, 0, lsmkv.NewPartialRead("bubt.decodeZEntry: key", int64(pos+klen), int64(len(src)))
	}
	key, err := kc.DecodeKey(src[pos : pos+klen])
	if err != nil {
		return nil, 0, err
	}
	pos += klen
	value, n, err := decodeValue(src[pos:], ser)
	if err != nil {
		return nil, 0, err
	}
	pos += n
	if len(src) < pos+4 {
		return nil, 0, lsmkv.NewPartialRead("bubt.decodeZEntry: ndeltas", int64(pos+4), int64(len(src)))
	}
	ndeltas := int(readU32(src[pos:]))
	pos += 4
	e := lsmkv.NewEntry(key, value)
	for i := 0; i < ndeltas; i++ {
		d, n, err := decodeDelta(src[pos:], ser)
		if err != nil {
			return nil, 0, err
		}
		pos += n
		e.AppendRawDelta(d)
	}
	return e, pos, nil
}
