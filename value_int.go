package lsmkv

import "encoding/binary"

// IntValue is a minimal Payload implementation over a signed 64-bit
// integer, used by this module's own tests and by the scenarios in
// spec §8 (i64->i64, i32->i32 stores). Diff/Merge round-trip exactly
// as required by the merge-inverse property: new.Merge(new.Diff(old))
// == old.
type IntValue int64

// Clone implements Payload.
func (v IntValue) Clone() Payload { return v }

// Footprint implements Payload.
func (v IntValue) Footprint() int64 { return 8 }

// Diff implements Payload.
func (v IntValue) Diff(old Payload) Delta {
	o := old.(IntValue)
	return IntDelta(int64(v) - int64(o))
}

// Merge implements Payload.
func (v IntValue) Merge(d Delta) Payload {
	return IntValue(int64(v) - int64(d.(IntDelta)))
}

// IntDelta is the Delta counterpart of IntValue: the numeric
// difference new-old, such that new-d == old.
type IntDelta int64

// Footprint implements Delta.
func (d IntDelta) Footprint() int64 { return 8 }

// IntSerializer implements Serializer for IntValue/IntDelta, encoding
// each as a big-endian int64.
type IntSerializer struct{}

// EncodePayload implements Serializer.
func (IntSerializer) EncodePayload(p Payload, dst []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(p.(IntValue)))
	return append(dst, buf[:]...)
}

// DecodePayload implements Serializer.
func (IntSerializer) DecodePayload(src []byte) (Payload, error) {
	if len(src) < 8 {
		return nil, NewPartialRead("IntSerializer.DecodePayload", 8, int64(len(src)))
	}
	return IntValue(binary.BigEndian.Uint64(src)), nil
}

// EncodeDelta implements Serializer.
func (IntSerializer) EncodeDelta(d Delta, dst []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(d.(IntDelta)))
	return append(dst, buf[:]...)
}

// DecodeDelta implements Serializer.
func (IntSerializer) DecodeDelta(src []byte) (Delta, error) {
	if len(src) < 8 {
		return nil, NewPartialRead("IntSerializer.DecodeDelta", 8, int64(len(src)))
	}
	return IntDelta(binary.BigEndian.Uint64(src)), nil
}
