package llrb

import (
	"testing"

	"github.com/gholt/lsmkv"
)

// TestScenarioB_CASGate reproduces spec §8 Scenario B: SetCAS must
// reject a stale cas and accept the matching one.
func TestScenarioB_CASGate(t *testing.T) {
	tr := New(true)
	if _, err := tr.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(100), 0); err != nil {
		t.Fatalf("initial insert with cas=0 should succeed: %v", err)
	}
	if _, err := tr.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(999), 0); err == nil {
		t.Fatal("cas=0 against an existing key should fail")
	}
	e, ok := tr.Get(lsmkv.Int64(1))
	if !ok {
		t.Fatal("key should still be present")
	}
	goodCAS := e.Value().Seqno()
	if _, err := tr.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(200), goodCAS); err != nil {
		t.Fatalf("cas matching current seqno should succeed: %v", err)
	}
	e, _ = tr.Get(lsmkv.Int64(1))
	v, _ := e.Value().Native()
	if int64(v.(lsmkv.IntValue)) != 200 {
		t.Fatalf("value = %v, want 200", v)
	}
	if _, err := tr.SetCAS(lsmkv.Int64(1), lsmkv.IntValue(300), goodCAS); err == nil {
		t.Fatal("stale cas should fail after the key advanced")
	}
}

// TestScenarioE_Range reproduces spec §8 Scenario E: bounded ascending
// and descending range scans over a populated tree.
func TestScenarioE_Range(t *testing.T) {
	tr := New(false)
	for i := int64(0); i < 10; i++ {
		if _, err := tr.Set(lsmkv.Int64(i), lsmkv.IntValue(i*10)); err != nil {
			t.Fatal(err)
		}
	}

	it := tr.Range(lsmkv.Int64(3), lsmkv.Int64(7), true, false)
	var got []int64
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, int64(e.Key().(lsmkv.Int64)))
	}
	want := []int64{3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("ascending range = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending range = %v, want %v", got, want)
		}
	}

	rit := tr.Reverse(lsmkv.Int64(3), lsmkv.Int64(7), true, false)
	got = nil
	for {
		e, ok := rit.Next()
		if !ok {
			break
		}
		got = append(got, int64(e.Key().(lsmkv.Int64)))
	}
	wantRev := []int64{6, 5, 4, 3}
	if len(got) != len(wantRev) {
		t.Fatalf("descending range = %v, want %v", got, wantRev)
	}
	for i := range wantRev {
		if got[i] != wantRev[i] {
			t.Fatalf("descending range = %v, want %v", got, wantRev)
		}
	}
}

// TestLLRBInvariants checks property #6: after a mix of inserts and
// deletes the tree still satisfies the LLRB 2-3 invariants.
func TestLLRBInvariants(t *testing.T) {
	tr := New(false)
	for i := int64(0); i < 200; i++ {
		if _, err := tr.Set(lsmkv.Int64((i*37)%200), lsmkv.IntValue(i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(0); i < 200; i += 3 {
		if _, err := tr.Delete(lsmkv.Int64((i * 37) % 200)); err != nil {
			t.Fatal(err)
		}
	}
	st, err := tr.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if st.Count != tr.Count() {
		t.Fatalf("validate count = %d, tree count = %d", st.Count, tr.Count())
	}
}

// TestDeleteLSMBackToBackCollapse checks that deleting an
// already-tombstoned key in lsm mode is a no-op: it returns the
// existing tombstone without advancing seqno.
func TestDeleteLSMBackToBackCollapse(t *testing.T) {
	tr := New(true)
	tr.Set(lsmkv.Int64(1), lsmkv.IntValue(10))
	tr.Delete(lsmkv.Int64(1))
	seqnoAfterFirstDelete := tr.Seqno()

	e, err := tr.Delete(lsmkv.Int64(1))
	if err != nil {
		t.Fatal(err)
	}
	if !e.Value().IsTombstone() {
		t.Fatal("expected tombstone")
	}
	if tr.Seqno() != seqnoAfterFirstDelete {
		t.Fatalf("back-to-back delete advanced seqno: %d -> %d", seqnoAfterFirstDelete, tr.Seqno())
	}
}
