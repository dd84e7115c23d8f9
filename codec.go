package lsmkv

// Serializer converts a concrete Payload/Delta pair to and from wire
// bytes. Value-type-specific Diff/Serialize implementations are
// treated as trait contracts supplied by the caller (spec §1,
// Out of scope) — this interface is the Serialize half of that
// contract; Payload itself carries the Diff half.
type Serializer interface {
	EncodePayload(p Payload, dst []byte) []byte
	DecodePayload(src []byte) (Payload, error)
	EncodeDelta(d Delta, dst []byte) []byte
	DecodeDelta(src []byte) (Delta, error)
}
