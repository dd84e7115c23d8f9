package bubt

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/gholt/lsmkv"
)

// mEntry is one child pointer held by an internal (M) block: the
// child's first key, its file position, and whether the child is a
// leaf (spec §4.4 MEntry).
type mEntry struct {
	firstKey lsmkv.Key
	childFP  int64
	isLeaf   bool
}

func encodeMEntry(e mEntry, dst []byte) []byte {
	kb := e.firstKey.Bytes()
	dst = appendU32(dst, uint32(len(kb)))
	dst = append(dst, kb...)
	dst = appendU64(dst, uint64(e.childFP))
	if e.isLeaf {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	return dst
}

func decodeMEntry(src []byte, kc KeyCodec) (mEntry, int, error) {
	if len(src) < 4 {
		return mEntry{}, 0, lsmkv.NewPartialRead("bubt.decodeMEntry: keylen", 4, int64(len(src)))
	}
	klen := int(readU32(src))
	pos := 4
	if len(src) < pos+klen+9 {
		return mEntry{}, 0, lsmkv.NewPartialRead("bubt.decodeMEntry: body", int64(pos+klen+9), int64(len(src)))
	}
	key, err := kc.DecodeKey(src[pos : pos+klen])
	if err != nil {
		return mEntry{}, 0, err
	}
	pos += klen
	childFP := int64(readU64(src[pos : pos+8]))
	pos += 8
	isLeaf := src[pos] == 1
	pos++
	return mEntry{firstKey: key, childFP: childFP, isLeaf: isLeaf}, pos, nil
}

// mEncoder accumulates child pointers for one internal (M) block,
// mirroring zEncoder's overflow-detection shape.
type mEncoder struct {
	blockSize int
	entries   []mEntry
	encoded   [][]byte
	size      int
}

func newMEncoder(blockSize int) *mEncoder {
	return &mEncoder{blockSize: blockSize, size: 4 + checksumSize}
}

func (m *mEncoder) empty() bool { return len(m.entries) == 0 }

func (m *mEncoder) firstKey() lsmkv.Key { return m.entries[0].firstKey }

func (m *mEncoder) insert(e mEntry) error {
	enc := encodeMEntry(e, nil)
	newSize := m.size + 4 + len(enc)
	if newSize > m.blockSize {
		return lsmkv.NewMBlockOverflow(newSize - m.blockSize)
	}
	m.entries = append(m.entries, e)
	m.encoded = append(m.encoded, enc)
	m.size = newSize
	return nil
}

func (m *mEncoder) finalize() []byte {
	block := make([]byte, m.blockSize)
	binary.BigEndian.PutUint32(block[0:4], uint32(len(m.entries)))
	cursor := 4 + 4*len(m.entries)
	for i, enc := range m.encoded {
		binary.BigEndian.PutUint32(block[4+4*i:8+4*i], uint32(cursor))
		copy(block[cursor:cursor+len(enc)], enc)
		cursor += len(enc)
	}
	sum := murmur3.Sum64(block[:m.blockSize-checksumSize])
	binary.BigEndian.PutUint64(block[m.blockSize-checksumSize:], sum)
	return block
}

// decodeMBlock parses a padded M-block back into its child entries,
// after verifying the trailing checksum.
func decodeMBlock(block []byte, kc KeyCodec) ([]mEntry, error) {
	if len(block) < 4+checksumSize {
		return nil, lsmkv.NewPartialRead("bubt.decodeMBlock: header", 4+checksumSize, int64(len(block)))
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
	out := make([]mEntry, n)
	for i := 0; i < n; i++ {
		start := offsets[i]
		var end int
		if i+1 < n {
			end = offsets[i+1]
		} else {
			end = len(block) - checksumSize
		}
		e, _, err := decodeMEntry(block[start:end], kc)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// findChild binary-searches entries (sorted by firstKey) for the
// largest firstKey <= key, per spec §4.5's point-lookup descent.
func findChild(entries []mEntry, key lsmkv.Key) (mEntry, bool) {
	result := -1
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if entries[mid].firstKey.Compare(key) <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if result == -1 {
		return mEntry{}, false
	}
	return entries[result], true
}
