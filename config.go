package lsmkv

import (
	"os"
	"runtime"
	"strconv"
)

// Config mirrors the teacher's ValuesStoreOpts/NewValuesStoreOpts
// pattern (valuesstore.go): an env-seeded options struct for the
// coarse, whole-engine knobs, read once at startup. Subsystem-local
// detail (block sizes as functional options, journal rotation,
// hashers) stays on bubt's and wal's own resolveConfig, matching the
// teacher's two-tier shape (ValuesStoreOpts up top, valuelocmap's
// resolveConfig underneath it) — Config exists to seed those, not to
// replace them, so it holds plain data with no dependency on either
// subsystem package.
type Config struct {
	Cores           int
	ZBlockSize      int
	MBlockSize      int
	WALShards       uint32
	WALJournalLimit int64
	MaxValueSize    int
}

// NewConfig seeds Config from envPrefix+"<FIELD>" environment
// variables, falling back to hard-coded defaults when unset or
// unparseable, exactly as NewValuesStoreOpts does. envPrefix defaults
// to "LSMKV_" when empty.
func NewConfig(envPrefix string) *Config {
	if envPrefix == "" {
		envPrefix = "LSMKV_"
	}
	cfg := &Config{}

	if env := os.Getenv(envPrefix + "CORES"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.Cores = v
		}
	}
	if cfg.Cores <= 0 {
		cfg.Cores = runtime.GOMAXPROCS(0)
	}

	if env := os.Getenv(envPrefix + "ZBLOCKSIZE"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.ZBlockSize = v
		}
	}
	if cfg.ZBlockSize <= 0 {
		cfg.ZBlockSize = 4096
	}

	if env := os.Getenv(envPrefix + "MBLOCKSIZE"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.MBlockSize = v
		}
	}
	if cfg.MBlockSize <= 0 {
		cfg.MBlockSize = 4096
	}

	if env := os.Getenv(envPrefix + "WAL_SHARDS"); env != "" {
		if v, err := strconv.Atoi(env); err == nil && v > 0 {
			cfg.WALShards = uint32(v)
		}
	}
	if cfg.WALShards == 0 {
		cfg.WALShards = uint32(cfg.Cores)
	}

	if env := os.Getenv(envPrefix + "WAL_JOURNAL_LIMIT"); env != "" {
		if v, err := strconv.ParseInt(env, 10, 64); err == nil {
			cfg.WALJournalLimit = v
		}
	}
	if cfg.WALJournalLimit <= 0 {
		cfg.WALJournalLimit = 64 << 20
	}

	if env := os.Getenv(envPrefix + "MAX_VALUE_SIZE"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.MaxValueSize = v
		}
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = 4 * 1024 * 1024
	}

	return cfg
}
