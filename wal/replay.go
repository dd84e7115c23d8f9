package wal

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/gholt/lsmkv"
)

// ReplayHandler receives each replayed op in commit order, dispatched
// to one of three callbacks by op kind (spec §4.6 Replay step 3: "set_index",
// "set_cas_index", "delete_index", "All three receive the op's seqno").
type ReplayHandler interface {
	SetIndex(index uint64, key, value []byte) error
	SetCASIndex(index uint64, key, value []byte, cas uint64) error
	DeleteIndex(index uint64, key []byte) error
}

// Replay enumerates every journal for dbName under dir, grouped by
// shard and ordered by sequence number within a shard, and dispatches
// every op with index >= replayFrom to h. Shards are streamed
// concurrently (order across shards is not defined by the spec; order
// within a shard is preserved), using errgroup the way bubt's builder
// coordinates its flusher goroutine.
func Replay(dir, dbName string, replayFrom uint64, h ReplayHandler) error {
	byShard, err := listJournals(dir, dbName)
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, journals := range byShard {
		journals := journals
		g.Go(func() error {
			return replayShard(dir, journals, replayFrom, h)
		})
	}
	return g.Wait()
}

func replayShard(dir string, journals []journalName, replayFrom uint64, h ReplayHandler) error {
	for _, jn := range journals {
		path := filepath.Join(dir, formatJournalName(jn.dbName, jn.shard, jn.seq))
		if err := replayJournal(path, replayFrom, h); err != nil {
			return err
		}
	}
	return nil
}

// replayJournal streams batches out of one journal file, skipping
// batches whose last index is entirely below replayFrom, and stops at
// the first truncated/corrupt batch rather than failing the whole
// replay (spec §4.6 step 2, §7: "fails checksum on replay stops replay
// at the previous good batch").
func replayJournal(path string, replayFrom uint64, h ReplayHandler) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return lsmkv.NewIoError("wal: read journal for replay", err)
	}

	pos := 0
	for pos < len(buf) {
		batch, n, err := decodeBatch(buf[pos:])
		if err != nil {
			if isTruncatedBatch(err) {
				break
			}
			return err
		}
		if batch.lastIndex() >= replayFrom {
			if err := dispatchBatch(batch, replayFrom, h); err != nil {
				return err
			}
		}
		pos += n
	}
	return nil
}

func dispatchBatch(b Batch, replayFrom uint64, h ReplayHandler) error {
	for _, e := range b.Entries {
		if e.Kind != entryClient || e.Index < replayFrom {
			continue
		}
		switch e.Op.Kind {
		case opSet:
			if err := h.SetIndex(e.Index, e.Op.Key, e.Op.Value); err != nil {
				return err
			}
		case opSetCAS:
			if err := h.SetCASIndex(e.Index, e.Op.Key, e.Op.Value, e.Op.CAS); err != nil {
				return err
			}
		case opDelete:
			if err := h.DeleteIndex(e.Index, e.Op.Key); err != nil {
				return err
			}
		}
	}
	return nil
}
