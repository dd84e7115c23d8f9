package wal

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/gholt/lsmkv"
)

// isTruncatedBatch reports whether err signals a batch that failed its
// checksum or ran off the end of the file — the "stop replay at the
// previous good batch" case (spec §4.6/§7), as opposed to a genuine
// I/O failure that should propagate.
func isTruncatedBatch(err error) bool {
	var e *lsmkv.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == lsmkv.KindInvalidWAL || e.Kind == lsmkv.KindPartialRead
}

// Batch is one flushed unit of the journal wire format (spec §4.6):
// a length-prefixed body carrying raft-bookkeeping fields this engine
// leaves at their zero/sentinel values (no consensus layer), the
// Entries actually written, and a trailing xxhash checksum.
type Batch struct {
	Term           uint64
	CommittedIndex uint64
	PersistedIndex uint64
	Config         []string
	VotedFor       string
	Entries        []Entry
}

// lastIndex returns the highest Index carried by any entry in the
// batch, used to decide which journals purge_till may delete.
func (b Batch) lastIndex() uint64 {
	var last uint64
	for _, e := range b.Entries {
		if e.Index > last {
			last = e.Index
		}
	}
	return last
}

// encodeBatch renders b as length-prefixed bytes followed by an
// 8-byte xxhash checksum of everything preceding it (spec §4.6: "u64
// checksum // xxhash of the preceding bytes").
func encodeBatch(b Batch) []byte {
	var body []byte
	body = appendU64(body, b.Term)
	body = appendU64(body, b.CommittedIndex)
	body = appendU64(body, b.PersistedIndex)
	body = appendU64(body, uint64(len(b.Config)))
	for _, c := range b.Config {
		body = appendU16(body, uint16(len(c)))
		body = append(body, c...)
	}
	body = appendU16(body, uint16(len(b.VotedFor)))
	body = append(body, b.VotedFor...)
	body = appendU64(body, uint64(len(b.Entries)))
	for _, e := range b.Entries {
		body = encodeEntry(e, body)
	}

	out := appendU64(nil, uint64(len(body)))
	out = append(out, body...)
	sum := xxhash.Sum64(out)
	out = appendU64(out, sum)
	return out
}

// decodeBatch parses one batch from the head of src, returning the
// batch and the number of bytes it consumed. A checksum mismatch
// (truncated or corrupted trailing batch, spec §4.6/§7) is reported as
// *lsmkv.Error with KindInvalidWAL (a short buffer as KindPartialRead)
// so replay can stop at the last good batch.
func decodeBatch(src []byte) (Batch, int, error) {
	if len(src) < 8 {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: length", 8, int64(len(src)))
	}
	length := binary.BigEndian.Uint64(src[:8])
	total := 8 + int(length) + 8
	if len(src) < total {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: body", int64(total), int64(len(src)))
	}
	wantSum := binary.BigEndian.Uint64(src[8+int(length) : total])
	gotSum := xxhash.Sum64(src[:8+int(length)])
	if wantSum != gotSum {
		return Batch{}, 0, lsmkv.NewInvalidWAL("batch checksum mismatch")
	}

	body := src[8 : 8+length]
	pos := 0
	if len(body) < pos+24 {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: header", int64(pos+24), int64(len(body)))
	}
	term := binary.BigEndian.Uint64(body[pos : pos+8])
	committed := binary.BigEndian.Uint64(body[pos+8 : pos+16])
	persisted := binary.BigEndian.Uint64(body[pos+16 : pos+24])
	pos += 24

	if len(body) < pos+8 {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: config_count", int64(pos+8), int64(len(body)))
	}
	configCount := binary.BigEndian.Uint64(body[pos : pos+8])
	pos += 8
	config := make([]string, 0, configCount)
	for i := uint64(0); i < configCount; i++ {
		if len(body) < pos+2 {
			return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: config len", int64(pos+2), int64(len(body)))
		}
		clen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
		pos += 2
		if len(body) < pos+clen {
			return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: config bytes", int64(pos+clen), int64(len(body)))
		}
		config = append(config, string(body[pos:pos+clen]))
		pos += clen
	}

	if len(body) < pos+2 {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: votedfor len", int64(pos+2), int64(len(body)))
	}
	vlen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
	pos += 2
	if len(body) < pos+vlen {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: votedfor bytes", int64(pos+vlen), int64(len(body)))
	}
	votedFor := string(body[pos : pos+vlen])
	pos += vlen

	if len(body) < pos+8 {
		return Batch{}, 0, lsmkv.NewPartialRead("wal.decodeBatch: n_entries", int64(pos+8), int64(len(body)))
	}
	nEntries := binary.BigEndian.Uint64(body[pos : pos+8])
	pos += 8
	entries := make([]Entry, 0, nEntries)
	for i := uint64(0); i < nEntries; i++ {
		e, n, err := decodeEntry(body[pos:])
		if err != nil {
			return Batch{}, 0, err
		}
		entries = append(entries, e)
		pos += n
	}

	return Batch{
		Term: term, CommittedIndex: committed, PersistedIndex: persisted,
		Config: config, VotedFor: votedFor, Entries: entries,
	}, total, nil
}
