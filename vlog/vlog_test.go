package vlog

import (
	"path/filepath"
	"testing"

	"github.com/gholt/lsmkv"
)

func TestAppendFetchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.vlog")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	type want struct {
		kind    Kind
		payload []byte
		ref     lsmkv.ValueRef
	}
	var wants []want
	for i := 0; i < 50; i++ {
		kind := KindValue
		if i%2 == 0 {
			kind = KindDelta
		}
		payload := []byte{byte(i), byte(i + 1), byte(i + 2)}
		ref, err := w.Append(kind, payload)
		if err != nil {
			t.Fatal(err)
		}
		wants = append(wants, want{kind, payload, ref})
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i, wnt := range wants {
		kind, payload, err := r.Fetch(wnt.ref)
		if err != nil {
			t.Fatalf("fetch[%d]: %v", i, err)
		}
		if kind != wnt.kind {
			t.Fatalf("fetch[%d] kind = %v, want %v", i, kind, wnt.kind)
		}
		if string(payload) != string(wnt.payload) {
			t.Fatalf("fetch[%d] payload = %v, want %v", i, payload, wnt.payload)
		}
	}
}

func TestCreateAppendResumesAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "incremental.vlog")

	w, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Append(KindValue, []byte("first")); err != nil {
		t.Fatal(err)
	}
	firstOffset := w.Offset()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := CreateAppend(path)
	if err != nil {
		t.Fatal(err)
	}
	if w2.Offset() != firstOffset {
		t.Fatalf("incremental writer offset = %d, want %d", w2.Offset(), firstOffset)
	}
	ref, err := w2.Append(KindDelta, []byte("second"))
	if err != nil {
		t.Fatal(err)
	}
	if ref.Fpos != firstOffset {
		t.Fatalf("second record fpos = %d, want %d", ref.Fpos, firstOffset)
	}
	w2.Close()
}
