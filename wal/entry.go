package wal

import (
	"encoding/binary"

	"github.com/gholt/lsmkv"
)

// entryKind distinguishes a raft-style Term marker entry from a
// Client-submitted mutation entry (spec §4.6 Entry format).
type entryKind uint64

const (
	entryTerm entryKind = iota
	entryClient
)

// NilTerm is the sentinel written for Batch.Term and Entry.Term when
// this WAL is used outside a Raft-replicated deployment (spec §4.6:
// "raft-term; NIL_TERM when unused"). This engine has no consensus
// layer (replication is out of scope); every batch and entry carries
// NilTerm.
const NilTerm = ^uint64(0)

// Entry is one record inside a Batch: the mutation's term/index
// bookkeeping plus its Op. ClientID/ClientSeqno are populated only
// for Kind == entryClient.
type Entry struct {
	Kind        entryKind
	Term        uint64
	Index       uint64
	ClientID    uint64
	ClientSeqno uint64
	Op          Op
}

// newClientEntry builds the Kind == entryClient form this engine
// always writes (there is no Term-marker use case without Raft).
func newClientEntry(index uint64, op Op) Entry {
	return Entry{Kind: entryClient, Term: NilTerm, Index: index, Op: op}
}

func encodeEntry(e Entry, dst []byte) []byte {
	dst = appendU64(dst, uint64(e.Kind))
	dst = appendU64(dst, e.Term)
	dst = appendU64(dst, e.Index)
	if e.Kind == entryClient {
		dst = appendU64(dst, e.ClientID)
		dst = appendU64(dst, e.ClientSeqno)
	}
	dst = encodeOp(e.Op, dst)
	return dst
}

func decodeEntry(src []byte) (Entry, int, error) {
	if len(src) < 24 {
		return Entry{}, 0, lsmkv.NewPartialRead("wal.decodeEntry: header", 24, int64(len(src)))
	}
	kind := entryKind(binary.BigEndian.Uint64(src[0:8]))
	term := binary.BigEndian.Uint64(src[8:16])
	index := binary.BigEndian.Uint64(src[16:24])
	pos := 24
	var clientID, clientSeqno uint64
	if kind == entryClient {
		if len(src) < pos+16 {
			return Entry{}, 0, lsmkv.NewPartialRead("wal.decodeEntry: client header", int64(pos+16), int64(len(src)))
		}
		clientID = binary.BigEndian.Uint64(src[pos : pos+8])
		clientSeqno = binary.BigEndian.Uint64(src[pos+8 : pos+16])
		pos += 16
	}
	op, n, err := decodeOp(src[pos:])
	if err != nil {
		return Entry{}, 0, err
	}
	pos += n
	return Entry{
		Kind: kind, Term: term, Index: index,
		ClientID: clientID, ClientSeqno: clientSeqno, Op: op,
	}, pos, nil
}
