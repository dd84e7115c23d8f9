package wal

import (
	"encoding/binary"
	"fmt"
	"testing"
)

type recordedOp struct {
	kind  string
	index uint64
	key   []byte
	value []byte
	cas   uint64
}

type collectingHandler struct {
	ops []recordedOp
}

func (h *collectingHandler) SetIndex(index uint64, key, value []byte) error {
	h.ops = append(h.ops, recordedOp{kind: "set", index: index, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (h *collectingHandler) SetCASIndex(index uint64, key, value []byte, cas uint64) error {
	h.ops = append(h.ops, recordedOp{kind: "setcas", index: index, key: append([]byte(nil), key...), value: append([]byte(nil), value...), cas: cas})
	return nil
}

func (h *collectingHandler) DeleteIndex(index uint64, key []byte) error {
	h.ops = append(h.ops, recordedOp{kind: "delete", index: index, key: append([]byte(nil), key...)})
	return nil
}

func i32key(i int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(i))
	return b[:]
}

// TestWALRoundTripAndPurge reproduces spec §8 Scenario D's shape: 300
// sets, 300 set-cas, 10 deletes against a single shard, yielding 610
// total ops spread across more than one journal under a small journal
// limit, then checks purge_till leaves replay still producing every
// op from the purge point onward in original order.
func TestWALRoundTripAndPurge(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, "testdb", OptShards(1), OptJournalLimit(4096))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	type want struct {
		kind  string
		index uint64
		key   []byte
		value []byte
		cas   uint64
	}
	var wantOps []want

	for i := 0; i < 300; i++ {
		key := i32key(int32(i))
		val := i32key(int32(i * 10))
		idx, err := w.Set(key, val)
		if err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
		wantOps = append(wantOps, want{kind: "set", index: idx, key: key, value: val})
	}
	for i := 0; i < 300; i++ {
		key := i32key(int32(i))
		val := i32key(int32(i * 100))
		idx, err := w.SetCAS(key, val, uint64(i))
		if err != nil {
			t.Fatalf("SetCAS(%d): %v", i, err)
		}
		wantOps = append(wantOps, want{kind: "setcas", index: idx, key: key, value: val, cas: uint64(i)})
	}
	for i := 0; i < 10; i++ {
		key := i32key(int32(i))
		idx, err := w.Delete(key)
		if err != nil {
			t.Fatalf("Delete(%d): %v", i, err)
		}
		wantOps = append(wantOps, want{kind: "delete", index: idx, key: key})
	}

	st := w.Stats()
	if st.Index != 610 {
		t.Fatalf("Stats.Index = %d, want 610", st.Index)
	}
	if st.Journals < 2 {
		t.Fatalf("Stats.Journals = %d, want more than one journal under a small journal limit", st.Journals)
	}

	h := &collectingHandler{}
	if err := Replay(dir, "testdb", 1, h); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(h.ops) != len(wantOps) {
		t.Fatalf("replayed %d ops, want %d", len(h.ops), len(wantOps))
	}
	for i, got := range h.ops {
		w := wantOps[i]
		if got.kind != w.kind || got.index != w.index || string(got.key) != string(w.key) ||
			string(got.value) != string(w.value) || got.cas != w.cas {
			t.Fatalf("op %d: got %+v, want %+v", i, got, w)
		}
	}

	// purge_till splits the journal set: every journal whose entries
	// all lie below index 214 should be gone, but replay from 214 must still see
	// every remaining op in order (spec §8 properties 9/10).
	if err := w.PurgeTill(214); err != nil {
		t.Fatalf("PurgeTill: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h2 := &collectingHandler{}
	if err := Replay(dir, "testdb", 214, h2); err != nil {
		t.Fatalf("Replay after purge: %v", err)
	}
	var wantAfter []want
	for _, o := range wantOps {
		if o.index >= 214 {
			wantAfter = append(wantAfter, o)
		}
	}
	if len(h2.ops) != len(wantAfter) {
		t.Fatalf("replayed after purge %d ops, want %d", len(h2.ops), len(wantAfter))
	}
	for i, got := range h2.ops {
		w := wantAfter[i]
		if got.index != w.index || got.kind != w.kind {
			t.Fatalf("post-purge op %d: got %+v, want %+v", i, got, w)
		}
		if got.index < 214 {
			t.Fatalf("post-purge op %d has index %d < 214", i, got.index)
		}
	}
}

// TestJournalNameRoundTrip checks parts<->name is an exact inverse
// across a few shapes, including a db name containing the journal
// infix itself.
func TestJournalNameRoundTrip(t *testing.T) {
	cases := []struct {
		dbName string
		shard  uint32
		seq    uint32
	}{
		{"mydb", 0, 0},
		{"mydb", 3, 17},
		{"db-with-journal-in-it", 1, 2},
	}
	for _, c := range cases {
		name := formatJournalName(c.dbName, c.shard, c.seq)
		jn, ok := parseJournalName(name)
		if !ok {
			t.Fatalf("parseJournalName(%q) failed", name)
		}
		if jn.dbName != c.dbName || jn.shard != c.shard || jn.seq != c.seq {
			t.Fatalf("round trip %q -> %+v, want {%q %d %d}", name, jn, c.dbName, c.shard, c.seq)
		}
	}
}

func TestOpEncodeDecodeRoundTrip(t *testing.T) {
	ops := []Op{
		NewSetOp([]byte("k1"), []byte("v1")),
		NewSetCASOp([]byte("k2"), []byte("v2"), 42),
		NewDeleteOp([]byte("k3")),
	}
	for i, o := range ops {
		enc := encodeOp(o, nil)
		dec, n, err := decodeOp(enc)
		if err != nil {
			t.Fatalf("op %d: decodeOp: %v", i, err)
		}
		if n != len(enc) {
			t.Fatalf("op %d: consumed %d, want %d", i, n, len(enc))
		}
		if dec.Kind != o.Kind || string(dec.Key) != string(o.Key) || string(dec.Value) != string(o.Value) || dec.CAS != o.CAS {
			t.Fatalf("op %d: round trip mismatch: got %+v, want %+v", i, dec, o)
		}
	}
}

func TestBatchChecksumDetectsCorruption(t *testing.T) {
	b := Batch{Term: NilTerm, Entries: []Entry{newClientEntry(1, NewSetOp([]byte("a"), []byte("b")))}}
	enc := encodeBatch(b)
	enc[len(enc)-1] ^= 0xFF // flip a byte in the trailing checksum
	if _, _, err := decodeBatch(enc); err == nil {
		t.Fatalf("decodeBatch accepted a corrupted checksum")
	}
}

func ExampleOp_encoding() {
	o := NewSetOp([]byte("k"), []byte("v"))
	fmt.Println(len(encodeOp(o, nil)))
	// Output: 18
}
