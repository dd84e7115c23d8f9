package bubt

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/gholt/lsmkv"
)

// checksumSize is the trailing murmur3 checksum every fixed-size block
// carries, grounded on the teacher's checksummed value-file reader in
// valuestorefile_GEN_.go.
const checksumSize = 8

// zEncoder accumulates entries for one leaf (Z) block, tracking the
// running encoded size so the builder can detect overflow before
// committing an entry (spec §4.4: "attempt z.insert(entry); on
// ZBlockOverflow, finalize z, flush ...").
type zEncoder struct {
	blockSize int
	entries   []*lsmkv.Entry
	encoded   [][]byte
	size      int // 4 (n_entries) + 4*len(entries) (offsets) + sum(len(encoded)) + checksumSize
}

func newZEncoder(blockSize int) *zEncoder {
	return &zEncoder{blockSize: blockSize, size: 4 + checksumSize}
}

func (z *zEncoder) empty() bool { return len(z.entries) == 0 }

func (z *zEncoder) firstKey() lsmkv.Key { return z.entries[0].Key() }

// insert attempts to add e to this block. On overflow it returns
// *lsmkv.Error with KindZBlockOverflow and leaves z unchanged.
func (z *zEncoder) insert(e *lsmkv.Entry, ser lsmkv.Serializer) error {
	enc := encodeZEntry(e, ser, nil)
	newSize := z.size + 4 + len(enc)
	if newSize > z.blockSize {
		return lsmkv.NewZBlockOverflow(newSize - z.blockSize)
	}
	z.entries = append(z.entries, e)
	z.encoded = append(z.encoded, enc)
	z.size = newSize
	return nil
}

// finalize renders the padded, fixed-size Z-block, with a trailing
// murmur3 checksum over everything preceding it.
func (z *zEncoder) finalize() []byte {
	block := make([]byte, z.blockSize)
	binary.BigEndian.PutUint32(block[0:4], uint32(len(z.entries)))
	offsetsEnd := 4 + 4*len(z.entries)
	cursor := offsetsEnd
	for i, enc := range z.encoded {
		binary.BigEndian.PutUint32(block[4+4*i:8+4*i], uint32(cursor))
		copy(block[cursor:cursor+len(enc)], enc)
		cursor += len(enc)
	}
	sum := murmur3.Sum64(block[:z.blockSize-checksumSize])
	binary.BigEndian.PutUint64(block[z.blockSize-checksumSize:], sum)
	return block
}

// decodeZBlock parses a padded Z-block back into its entries, after
// verifying the trailing checksum.
func decodeZBlock(block []byte, ser lsmkv.Serializer, kc KeyCodec) ([]*lsmkv.Entry, error) {
	if len(block) < 4+checksumSize {
		return nil, lsmkv.NewPartialRead("bubt.decodeZBlock: header", 4+checksumSize, int64(len(block)))
	}
	if err := verifyChecksum(block); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(block[0:4]))
	if n == 0 {
		return nil, nil
	}
	offsets := make([]int, n)
	for i := 0; i < n; i++ {
		offsets[i] = int(binary.BigEndian.Uint32(block[4+4*i : 8+4*i]))
	}
	out := make([]*lsmkv.Entry, n)
	for i := 0; i < n; i++ {
		start := offsets[i]
		var end int
		if i+1 < n {
			end = offsets[i+1]
		} else {
			end = len(block) - checksumSize
		}
		e, _, err := decodeZEntry(block[start:end], ser, kc)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// findInZBlock binary-searches a decoded Z-block's entries for an
// exact key match.
func findInZBlock(entries []*lsmkv.Entry, key lsmkv.Key) (*lsmkv.Entry, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := entries[mid].Key().Compare(key)
		switch {
		case c == 0:
			return entries[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return nil, false
}
