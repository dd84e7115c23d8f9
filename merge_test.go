package lsmkv_test

import (
	"path/filepath"
	"testing"

	"github.com/gholt/lsmkv"
	"github.com/gholt/lsmkv/bubt"
	"github.com/gholt/lsmkv/llrb"
)

// TestMergeIteratorsAcrossLevels reproduces the compaction data-flow
// narrated in spec §2: an on-disk BUBT snapshot (older) merged against
// a live in-memory Mvcc snapshot (newer) through the shared Entry
// iteration contract, with overlapping keys cross-merged via Xmerge
// and disjoint keys from either side passed through untouched.
func TestMergeIteratorsAcrossLevels(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "level.indx")

	// Older level: keys 0..99 at seqno 1..100, built once and closed
	// off, standing in for a flushed BUBT snapshot.
	b, err := bubt.New(indexPath, "", bubt.OptZBlockSize(4096), bubt.OptMBlockSize(4096))
	if err != nil {
		t.Fatalf("bubt.New: %v", err)
	}
	const n = 100
	for i := 0; i < n; i++ {
		e := lsmkv.NewEntry(lsmkv.Int64(i), lsmkv.NewUpsertValue(lsmkv.IntValue(i*10), uint64(i+1)))
		if err := b.Insert(e); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if _, err := b.Finish(nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	older, err := bubt.Open(indexPath, "", bubt.OptZBlockSize(4096), bubt.OptMBlockSize(4096))
	if err != nil {
		t.Fatalf("bubt.Open: %v", err)
	}
	defer older.Close()

	// Newer level: keys 0..49 updated at seqno 101..150 (disjoint
	// from the older side's 1..100), plus brand-new keys 100..119
	// only present in memory. Mvcc assigns seqnos from one global
	// counter starting at 1, so key 0 is repeatedly burned first to
	// advance the counter past the older level's range without
	// leaving any extra node behind (every burn overwrites the same
	// key, and the real loop below overwrites it again with its
	// intended final value). The index runs in non-LSM mode so each
	// overwrite replaces key 0's value in place; an LSM chain would
	// keep the burned seqnos 1..100, overlapping the older level's
	// seqno 1 for key 0, which Xmerge rejects.
	m := llrb.NewMvcc(false)
	for i := 0; i < n; i++ {
		if _, err := m.Set(lsmkv.Int64(0), lsmkv.IntValue(0)); err != nil {
			t.Fatalf("burn Set(%d): %v", i, err)
		}
	}
	for i := 0; i < 50; i++ {
		if _, err := m.Set(lsmkv.Int64(i), lsmkv.IntValue(int64(i*1000))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	for i := n; i < n+20; i++ {
		if _, err := m.Set(lsmkv.Int64(i), lsmkv.IntValue(int64(i*10))); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	newer := m.Acquire()
	defer newer.Release()

	olderIter, err := older.Iter()
	if err != nil {
		t.Fatalf("older.Iter: %v", err)
	}
	merged, err := lsmkv.MergeIterators(olderIter, newer.Iter())
	if err != nil {
		t.Fatalf("MergeIterators: %v", err)
	}
	if err := olderIter.Err(); err != nil {
		t.Fatalf("older iterator error: %v", err)
	}

	if len(merged) != n+20 {
		t.Fatalf("merged %d entries, want %d", len(merged), n+20)
	}

	prev := int64(-1)
	for _, e := range merged {
		k := int64(e.Key().(lsmkv.Int64))
		if k <= prev {
			t.Fatalf("merged output out of order: %d after %d", k, prev)
		}
		prev = k

		v, ok := e.Value().Native()
		if !ok {
			t.Fatalf("entry %d: value has no native payload", k)
		}
		got := int64(v.(lsmkv.IntValue))

		switch {
		case k < 50:
			// Overwritten in memory: newer value wins, but Xmerge
			// must have kept the older version reachable underneath.
			if got != k*1000 {
				t.Fatalf("entry %d: merged value = %d, want %d (newer should win)", k, got, k*1000)
			}
			versions := e.Versions()
			if len(versions) < 2 {
				t.Fatalf("entry %d: expected merged chain to retain both versions, got %d", k, len(versions))
			}
			oldestSeqno := versions[len(versions)-1].Seqno()
			if oldestSeqno != uint64(k+1) {
				t.Fatalf("entry %d: oldest retained seqno = %d, want %d", k, oldestSeqno, k+1)
			}
		case k < n:
			// Untouched in memory: only the older, on-disk version.
			if got != k*10 {
				t.Fatalf("entry %d: merged value = %d, want %d (older untouched)", k, got, k*10)
			}
		default:
			// New key only ever in memory.
			if got != k*10 {
				t.Fatalf("entry %d: merged value = %d, want %d (new in-memory key)", k, got, k*10)
			}
		}
	}
}
