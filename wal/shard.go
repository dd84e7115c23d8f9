package wal

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gholt/lsmkv"
)

// reqKind tags a shard request: the three kinds of spec §4.6 (op,
// purge-till, close) plus reqInfo for Shards().
type reqKind int

const (
	reqOp reqKind = iota
	reqPurgeTill
	reqClose
	reqInfo
)

type request struct {
	kind   reqKind
	op     Op
	before uint64
	reply  chan response
}

type response struct {
	index uint64
	err   error
	info  ShardInfo
}

// journalMeta tracks one journal file's disposition for purge_till.
type journalMeta struct {
	seq       uint32
	path      string
	lastIndex uint64
}

// shard owns one journal file, a single-producer/single-consumer
// request channel, and a dedicated goroutine processing it in order
// (spec §4.6). Grounded on the teacher's per-file writer-goroutine
// idiom in valuestorefile_GEN_.go, one goroutine owning one *os.File.
type shard struct {
	id           uint32
	dbName       string
	dir          string
	journalLimit int64
	sharedIndex  *uint64

	reqCh chan request
	done  chan struct{}

	fp       *os.File
	seq      uint32
	size     int64
	journals []journalMeta
}

func newShard(id uint32, dbName, dir string, journalLimit int64, sharedIndex *uint64) (*shard, error) {
	s := &shard{
		id: id, dbName: dbName, dir: dir,
		journalLimit: journalLimit, sharedIndex: sharedIndex,
		reqCh: make(chan request, 64),
		done:  make(chan struct{}),
	}
	if err := s.openSeq(0); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

func (s *shard) openSeq(seq uint32) error {
	path := filepath.Join(s.dir, formatJournalName(s.dbName, s.id, seq))
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return lsmkv.NewIoError("wal: open journal", err)
	}
	info, err := fp.Stat()
	if err != nil {
		fp.Close()
		return lsmkv.NewIoError("wal: stat journal", err)
	}
	s.fp = fp
	s.seq = seq
	s.size = info.Size()
	s.journals = append(s.journals, journalMeta{seq: seq, path: path})
	return nil
}

func (s *shard) currentMeta() *journalMeta {
	return &s.journals[len(s.journals)-1]
}

func (s *shard) run() {
	defer close(s.done)
	for req := range s.reqCh {
		switch req.kind {
		case reqOp:
			idx, err := s.appendOp(req.op)
			req.reply <- response{index: idx, err: err}
		case reqPurgeTill:
			req.reply <- response{err: s.purgeTill(req.before)}
		case reqClose:
			req.reply <- response{err: s.closeFile()}
			return
		case reqInfo:
			req.reply <- response{info: ShardInfo{
				Shard:       s.id,
				Journals:    len(s.journals),
				CurrentSeq:  s.seq,
				CurrentSize: s.size,
			}}
		}
	}
}

// appendOp assigns the next globally-shared index, encodes a
// single-entry batch, rotates the journal if needed, and flushes
// (spec §4.6: batches fill "when the batch fills, or on a fsync
// policy trigger"; this shard flushes every op immediately, the
// simplest policy satisfying that contract).
func (s *shard) appendOp(op Op) (uint64, error) {
	idx := atomic.AddUint64(s.sharedIndex, 1)
	entry := newClientEntry(idx, op)
	batch := Batch{Term: NilTerm, Entries: []Entry{entry}}
	encoded := encodeBatch(batch)

	if s.size+int64(len(encoded)) > s.journalLimit && s.size > 0 {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := s.fp.Write(encoded)
	if err != nil {
		return 0, lsmkv.NewIoError("wal: append batch", err)
	}
	s.size += int64(n)
	s.currentMeta().lastIndex = idx
	return idx, nil
}

func (s *shard) rotate() error {
	if err := s.fp.Close(); err != nil {
		return lsmkv.NewIoError("wal: close journal on rotate", err)
	}
	return s.openSeq(s.seq + 1)
}

// purgeTill deletes every journal (other than the current, writable
// one) whose lastIndex < before. If the current journal's lastIndex <
// before it is rotated first so it, too, is deleted in this same pass
// (spec §4.6: "The current (writable) journal is never deleted; if
// its last_index < before, it is rotated first").
func (s *shard) purgeTill(before uint64) error {
	if cur := s.currentMeta(); cur.lastIndex > 0 && cur.lastIndex < before {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	kept := s.journals[:0]
	for _, j := range s.journals {
		if j.path == s.currentMeta().path {
			kept = append(kept, j)
			continue
		}
		if j.lastIndex < before {
			if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
				return lsmkv.NewIoError("wal: purge journal", err)
			}
			continue
		}
		kept = append(kept, j)
	}
	s.journals = kept
	return nil
}

func (s *shard) closeFile() error {
	if err := s.fp.Sync(); err != nil {
		return lsmkv.NewIoError("wal: sync journal", err)
	}
	if err := s.fp.Close(); err != nil {
		return lsmkv.NewIoError("wal: close journal", err)
	}
	return nil
}

func (s *shard) send(req request) response {
	req.reply = make(chan response, 1)
	s.reqCh <- req
	return <-req.reply
}
