package lsmkv

// EntryIterator is the minimal ascending-order entry cursor both
// llrb.Tree snapshots and bubt.Snapshot readers satisfy, used by
// MergeIterators to drive an LSM compaction pass over two levels.
type EntryIterator interface {
	// Next returns the next entry in ascending key order, or false
	// once exhausted.
	Next() (*Entry, bool)
}

// MergeIterators walks two ascending entry iterators — typically one
// over a *bubt.Snapshot (older, on disk) and one over an *llrb.Tree
// snapshot (newer, in memory) — and merges them key by key, applying
// Xmerge whenever both sides hold the same key. This is glue over the
// Entry-level primitives specified in §4.1, implementing the
// compaction data-flow narrated in spec §2 ("older BUBT snapshots can
// be merged with newer memory data through the Entry xmerge
// operation"), not a new primitive of its own.
func MergeIterators(older, newer EntryIterator) ([]*Entry, error) {
	out := make([]*Entry, 0)
	oe, ook := older.Next()
	ne, nok := newer.Next()
	for ook || nok {
		switch {
		case ook && nok && oe.Key().Compare(ne.Key()) == 0:
			merged, err := Xmerge(ne, oe)
			if err != nil {
				return nil, err
			}
			out = append(out, merged)
			oe, ook = older.Next()
			ne, nok = newer.Next()
		case nok && (!ook || ne.Key().Compare(oe.Key()) < 0):
			out = append(out, ne)
			ne, nok = newer.Next()
		default:
			out = append(out, oe)
			oe, ook = older.Next()
		}
	}
	return out, nil
}
