package llrb

import (
	"testing"

	"github.com/gholt/lsmkv"
)

// TestSnapshotStability checks property #7: a Snapshot acquired before
// a write observes neither the write's key nor its mutation of an
// existing key, even though the live Mvcc has moved on.
func TestSnapshotStability(t *testing.T) {
	m := NewMvcc(true)
	m.Set(lsmkv.Int64(1), lsmkv.IntValue(10))
	m.Set(lsmkv.Int64(2), lsmkv.IntValue(20))

	snap := m.Acquire()
	defer snap.Release()

	if _, err := m.Set(lsmkv.Int64(1), lsmkv.IntValue(999)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Set(lsmkv.Int64(3), lsmkv.IntValue(30)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Delete(lsmkv.Int64(2)); err != nil {
		t.Fatal(err)
	}

	e, ok := snap.Get(lsmkv.Int64(1))
	if !ok {
		t.Fatal("key 1 should still be visible in snapshot")
	}
	v, _ := e.Value().Native()
	if int64(v.(lsmkv.IntValue)) != 10 {
		t.Fatalf("snapshot should see the pre-write value, got %v", v)
	}

	if _, ok := snap.Get(lsmkv.Int64(3)); ok {
		t.Fatal("snapshot should not see a key inserted after acquisition")
	}

	e2, ok := snap.Get(lsmkv.Int64(2))
	if !ok || e2.Value().IsTombstone() {
		t.Fatal("snapshot should still see key 2 as live")
	}

	latest := m.Acquire()
	defer latest.Release()
	e3, _ := latest.Get(lsmkv.Int64(1))
	v3, _ := e3.Value().Native()
	if int64(v3.(lsmkv.IntValue)) != 999 {
		t.Fatalf("latest snapshot should see the new write, got %v", v3)
	}
	if _, ok := latest.Get(lsmkv.Int64(3)); !ok {
		t.Fatal("latest snapshot should see the new key")
	}
	e4, _ := latest.Get(lsmkv.Int64(2))
	if !e4.Value().IsTombstone() {
		t.Fatal("latest snapshot should see key 2 tombstoned")
	}
}

// TestMvccIterRange checks that Snapshot.Iter walks every key in
// ascending order and that Snapshot.Range with both bounds inclusive
// yields as many keys as the closed range [5,10] holds.
func TestMvccIterRange(t *testing.T) {
	m := NewMvcc(false)
	for i := int64(0); i < 20; i++ {
		if _, err := m.Set(lsmkv.Int64(i), lsmkv.IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	snap := m.Acquire()
	defer snap.Release()

	var got []int64
	it := snap.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, int64(e.Key().(lsmkv.Int64)))
	}
	if len(got) != 20 {
		t.Fatalf("iter len = %d, want 20", len(got))
	}
	for i, v := range got {
		if v != int64(i) {
			t.Fatalf("iter[%d] = %d, want %d", i, v, i)
		}
	}

	rit := snap.Range(lsmkv.Int64(5), lsmkv.Int64(10), true, true)
	got = nil
	for {
		e, ok := rit.Next()
		if !ok {
			break
		}
		got = append(got, int64(e.Key().(lsmkv.Int64)))
	}
	want := []int64{5, 6, 7, 8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("range = %v, want %v", got, want)
	}
}

// TestMvccCAS checks that SetCAS under copy-on-write rejects a stale
// cas the same way the plain Tree does.
func TestMvccCAS(t *testing.T) {
	m := NewMvcc(true)
	if _, err := m.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(1), 0); err != nil {
		t.Fatal(err)
	}
	snap := m.Acquire()
	e, _ := snap.Get(lsmkv.Int64(1))
	cas := e.Value().Seqno()
	snap.Release()

	if _, err := m.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(2), cas); err != nil {
		t.Fatalf("matching cas should succeed: %v", err)
	}
	if _, err := m.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(3), cas); err == nil {
		t.Fatal("stale cas should fail")
	}
}

// TestMvccValidate checks that the copy-on-write path preserves the
// LLRB invariants across many published roots.
func TestMvccValidate(t *testing.T) {
	m := NewMvcc(false)
	for i := int64(0); i < 200; i++ {
		if _, err := m.Set(lsmkv.Int64((i*37)%200), lsmkv.IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(0); i < 200; i += 3 {
		if _, err := m.Delete(lsmkv.Int64((i * 37) % 200)); err != nil {
			t.Fatal(err)
		}
	}
	snap := m.Acquire()
	defer snap.Release()
	st, err := snap.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if st.Count != snap.Count() {
		t.Fatalf("validate count = %d, snapshot count = %d", st.Count, snap.Count())
	}
}

// TestMvccOldSnapshotSurvivesRebalancing guards against a write
// mutating a node still reachable from an older, already-published
// snapshot: it acquires a snapshot partway through a long run of
// inserts/deletes (forcing many further rotations and color flips on
// nodes the held snapshot shares), then validates both the held
// snapshot and its recorded contents after all the later writes land.
func TestMvccOldSnapshotSurvivesRebalancing(t *testing.T) {
	m := NewMvcc(true)
	const n = 150
	for i := int64(0); i < n; i++ {
		if _, err := m.Set(lsmkv.Int64((i*73)%n), lsmkv.IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	snap := m.Acquire()
	defer snap.Release()
	wantCount := snap.Count()
	wantVals := make(map[int64]int64, n)
	it := snap.Iter()
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		k := int64(e.Key().(lsmkv.Int64))
		v, _ := e.Value().Native()
		wantVals[k] = int64(v.(lsmkv.IntValue))
	}

	for i := int64(0); i < n; i++ {
		if _, err := m.Set(lsmkv.Int64((i*41+7)%n), lsmkv.IntValue(-i)); err != nil {
			t.Fatal(err)
		}
		if i%5 == 0 {
			if _, err := m.Delete(lsmkv.Int64((i * 17) % n)); err != nil {
				t.Fatal(err)
			}
		}
	}

	if _, err := snap.Validate(); err != nil {
		t.Fatalf("old snapshot invariants broken by later writes: %v", err)
	}
	if snap.Count() != wantCount {
		t.Fatalf("old snapshot count changed: got %d, want %d", snap.Count(), wantCount)
	}
	for k, want := range wantVals {
		e, ok := snap.Get(lsmkv.Int64(k))
		if !ok {
			t.Fatalf("old snapshot lost key %d after later writes", k)
		}
		v, _ := e.Value().Native()
		if int64(v.(lsmkv.IntValue)) != want {
			t.Fatalf("old snapshot value for key %d changed: got %v, want %d", k, v, want)
		}
	}
}
