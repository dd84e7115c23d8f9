package lsmkv_test

import (
	"testing"

	"github.com/gholt/lsmkv"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := lsmkv.NewConfig("")
	if cfg.ZBlockSize != 4096 {
		t.Fatalf("ZBlockSize = %d, want 4096", cfg.ZBlockSize)
	}
	if cfg.MBlockSize != 4096 {
		t.Fatalf("MBlockSize = %d, want 4096", cfg.MBlockSize)
	}
	if cfg.WALShards == 0 {
		t.Fatalf("WALShards = 0, want > 0 (defaults to Cores)")
	}
	if cfg.WALJournalLimit != 64<<20 {
		t.Fatalf("WALJournalLimit = %d, want %d", cfg.WALJournalLimit, 64<<20)
	}
	if cfg.MaxValueSize != 4*1024*1024 {
		t.Fatalf("MaxValueSize = %d, want %d", cfg.MaxValueSize, 4*1024*1024)
	}
}

func TestNewConfigEnvOverride(t *testing.T) {
	t.Setenv("LSMKV_TEST_ZBLOCKSIZE", "8192")
	t.Setenv("LSMKV_TEST_WAL_SHARDS", "7")
	cfg := lsmkv.NewConfig("LSMKV_TEST_")
	if cfg.ZBlockSize != 8192 {
		t.Fatalf("ZBlockSize = %d, want 8192", cfg.ZBlockSize)
	}
	if cfg.WALShards != 7 {
		t.Fatalf("WALShards = %d, want 7", cfg.WALShards)
	}
}
