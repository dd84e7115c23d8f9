// Package bubt implements the immutable, bottoms-up B-tree described
// in spec §4.4/§4.5/§6: a write-once on-disk index built by streaming
// a sorted cursor, with values and deltas optionally relocated to a
// companion value log, and a meta trailer enabling readers to bootstrap
// from the end of the file. Grounded on the teacher's on-disk value
// store (valuestorefile_GEN_.go, valuesstore.go) for the
// header/block/trailer shape and the functional-options config pattern
// from valuelocmap.resolveConfig.
package bubt

import (
	"os"
	"strconv"

	"github.com/gholt/lsmkv"
	"github.com/gholt/lsmkv/vlog"
)

// MarkerBlockSize is the fixed size of each trailer block (spec §6).
const MarkerBlockSize = 4096

type config struct {
	zBlockSize  int
	mBlockSize  int
	valueInVlog bool
	vlogOk      bool
	tombPurge   *uint64
	incremental bool
	serializer  lsmkv.Serializer
	keyCodec    KeyCodec
}

func resolveConfig(opts ...func(*config)) *config {
	cfg := &config{}
	if env := os.Getenv("LSMKV_BUBT_ZBLOCKSIZE"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.zBlockSize = v
		}
	}
	if cfg.zBlockSize <= 0 {
		cfg.zBlockSize = 4096
	}
	if env := os.Getenv("LSMKV_BUBT_MBLOCKSIZE"); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			cfg.mBlockSize = v
		}
	}
	if cfg.mBlockSize <= 0 {
		cfg.mBlockSize = 4096
	}
	cfg.serializer = lsmkv.IntSerializer{}
	cfg.keyCodec = Int64KeyCodec
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.zBlockSize < 256 {
		cfg.zBlockSize = 256
	}
	if cfg.mBlockSize < 256 {
		cfg.mBlockSize = 256
	}
	return cfg
}

// OptZBlockSize sets the fixed leaf block size. Defaults to env
// LSMKV_BUBT_ZBLOCKSIZE or 4096.
func OptZBlockSize(n int) func(*config) {
	return func(cfg *config) { cfg.zBlockSize = n }
}

// OptMBlockSize sets the fixed internal block size. Defaults to env
// LSMKV_BUBT_MBLOCKSIZE or 4096.
func OptMBlockSize(n int) func(*config) {
	return func(cfg *config) { cfg.mBlockSize = n }
}

// OptValueInVlog routes live Upsert payloads to the companion value
// log, storing a {fpos,length} reference in the leaf entry instead of
// the payload inline (spec §4.4).
func OptValueInVlog(b bool) func(*config) {
	return func(cfg *config) { cfg.valueInVlog = b }
}

// OptVlogOk allows delta payloads to be routed to the value log; when
// set, deltas are always relocated regardless of OptValueInVlog, since
// they are historical and rarely read (spec §4.4).
func OptVlogOk(b bool) func(*config) {
	return func(cfg *config) { cfg.vlogOk = b }
}

// OptTombPurge enables purging purely-historical tombstones at build
// time: before each insert, Entry.Purge(Tombstone(Excluded(seqno))) is
// applied (spec §4.4).
func OptTombPurge(seqno uint64) func(*config) {
	return func(cfg *config) { cfg.tombPurge = &seqno }
}

// OptIncremental opens an existing value log for further appends
// instead of truncating it, per the incremental-vlog-reuse semantics
// in spec §9's Open Questions: earlier bytes are never rewritten, and
// the builder's starting offset becomes its n_abytes stat.
func OptIncremental() func(*config) {
	return func(cfg *config) { cfg.incremental = true }
}

// OptSerializer overrides the Payload/Delta wire codec. Defaults to
// lsmkv.IntSerializer, matching the i64->i64 scenarios this spec's
// tests are built around.
func OptSerializer(s lsmkv.Serializer) func(*config) {
	return func(cfg *config) { cfg.serializer = s }
}

// OptKeyCodec overrides the on-disk key decoder. Defaults to
// Int64KeyCodec.
func OptKeyCodec(c KeyCodec) func(*config) {
	return func(cfg *config) { cfg.keyCodec = c }
}

func (c *config) openVlogWriter(path string) (*vlog.Writer, error) {
	if c.incremental {
		return vlog.CreateAppend(path)
	}
	return vlog.Create(path)
}
