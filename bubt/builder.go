package bubt

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/gholt/lsmkv"
	"github.com/gholt/lsmkv/vlog"
)

// blockChanCapacity bounds the index-block channel between the
// producer (Insert) and the flusher goroutine, providing the
// backpressure spec §5 calls for ("a bounded channel, capacity 16
// blocks"). Grounded on the teacher's staged writer/checksummer
// channels in valuestorefile_GEN_.go, replaced here with the
// errgroup-coordinated idiom the rest of the retrieved pack prefers.
const blockChanCapacity = 16

// Builder streams a sorted entry cursor into an immutable BUBT
// snapshot: an index file of fixed-size Z/M blocks plus an optional
// companion value log (spec §4.4).
type Builder struct {
	cfg *config

	indexFP     *os.File
	indexOffset int64
	blockChan   chan []byte

	vlogWriter *vlog.Writer
	vlogStart  int64

	zEnc   *zEncoder
	mStack []*mEncoder

	haveLastKey bool
	lastKey     lsmkv.Key

	stats Stats

	g       *errgroup.Group
	gctx    context.Context
	flushed bool
}

// New creates a Builder writing to indexPath and, if vlogPath is
// non-empty, a companion value log at vlogPath.
func New(indexPath, vlogPath string, opts ...func(*config)) (*Builder, error) {
	cfg := resolveConfig(opts...)

	indexFP, err := os.OpenFile(indexPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, lsmkv.NewIoError("bubt.New: open index", err)
	}

	b := &Builder{
		cfg:       cfg,
		indexFP:   indexFP,
		blockChan: make(chan []byte, blockChanCapacity),
		zEnc:      newZEncoder(cfg.zBlockSize),
		mStack:    []*mEncoder{newMEncoder(cfg.mBlockSize)},
	}

	if vlogPath != "" {
		vw, err := cfg.openVlogWriter(vlogPath)
		if err != nil {
			indexFP.Close()
			return nil, err
		}
		b.vlogWriter = vw
		b.vlogStart = vw.Offset()
		b.stats.HasVlog = true
	}

	g, gctx := errgroup.WithContext(context.Background())
	b.g = g
	b.gctx = gctx
	g.Go(b.flushIndexLoop)
	return b, nil
}

func (b *Builder) flushIndexLoop() error {
	for block := range b.blockChan {
		if _, err := b.indexFP.Write(block); err != nil {
			return lsmkv.NewIoError("bubt: index flush", err)
		}
	}
	return nil
}

func (b *Builder) enqueueBlock(block []byte) {
	b.blockChan <- block
	b.indexOffset += int64(len(block))
}

// Insert adds the next entry to the snapshot under construction. The
// input stream must be strictly ascending by key (spec §5: "builds
// are monotone"); out-of-order keys fail the build.
func (b *Builder) Insert(e *lsmkv.Entry) error {
	if b.haveLastKey && e.Key().Compare(b.lastKey) <= 0 {
		return lsmkv.NewUnreachable("bubt: input entries out of order; builds must be monotone")
	}
	cp := e.Clone()

	if b.cfg.tombPurge != nil {
		cutoff := lsmkv.NewTombstoneCutoff(lsmkv.ExcludedBound(*b.cfg.tombPurge))
		if cp.Purge(cutoff) {
			b.haveLastKey, b.lastKey = true, e.Key()
			return nil
		}
	}

	if err := b.relocate(cp); err != nil {
		return err
	}

	if err := b.insertZ(cp); err != nil {
		return err
	}

	b.haveLastKey, b.lastKey = true, e.Key()
	b.stats.Count++
	return nil
}

// relocate moves the current value and/or delta payloads to the value
// log per config, replacing them with {fpos,length} references.
func (b *Builder) relocate(e *lsmkv.Entry) error {
	if b.vlogWriter == nil {
		return nil
	}
	if b.cfg.valueInVlog {
		v := e.Value()
		if native, ok := v.Native(); ok {
			enc := b.cfg.serializer.EncodePayload(native, nil)
			ref, err := b.vlogWriter.Append(vlog.KindValue, enc)
			if err != nil {
				return err
			}
			e.RelocateValue(ref)
			b.stats.VlogBytes += int64(len(enc)) + 8
		}
	}
	if b.cfg.vlogOk {
		for i, d := range e.Deltas() {
			if _, isRef := d.Reference(); isRef {
				continue
			}
			if d.IsTombstone() {
				continue
			}
			var enc []byte
			if p, ok := d.AbsolutePayload(); ok {
				enc = b.cfg.serializer.EncodePayload(p, nil)
			} else {
				native, _ := d.Native()
				enc = b.cfg.serializer.EncodeDelta(native, nil)
			}
			ref, err := b.vlogWriter.Append(vlog.KindDelta, enc)
			if err != nil {
				return err
			}
			e.RelocateDelta(i, ref)
			b.stats.VlogBytes += int64(len(enc)) + 8
		}
	}
	return nil
}

func (b *Builder) insertZ(e *lsmkv.Entry) error {
	if err := b.zEnc.insert(e, b.cfg.serializer); err == nil {
		return nil
	} else if !lsmkv.AsOverflow(err) {
		return err
	}
	if err := b.flushZ(); err != nil {
		return err
	}
	b.zEnc = newZEncoder(b.cfg.zBlockSize)
	return b.zEnc.insert(e, b.cfg.serializer)
}

// flushZ finalizes the current Z-block, writes it, and inserts its
// (first_key, fpos) pair into the bottom of the M-stack, cascading up
// on overflow (spec §4.4).
func (b *Builder) flushZ() error {
	if b.zEnc.empty() {
		return nil
	}
	fpos := b.indexOffset
	firstKey := b.zEnc.firstKey()
	block := b.zEnc.finalize()
	b.enqueueBlock(block)
	b.stats.ZBlocks++
	b.stats.IndexBytes += int64(len(block))
	return b.insertM(0, mEntry{firstKey: firstKey, childFP: fpos, isLeaf: true})
}

func (b *Builder) insertM(level int, me mEntry) error {
	if level >= len(b.mStack) {
		b.mStack = append(b.mStack, newMEncoder(b.cfg.mBlockSize))
	}
	enc := b.mStack[level]
	if err := enc.insert(me); err == nil {
		return nil
	} else if !lsmkv.AsOverflow(err) {
		return err
	}
	if err := b.flushM(level); err != nil {
		return err
	}
	b.mStack[level] = newMEncoder(b.cfg.mBlockSize)
	return b.mStack[level].insert(me)
}

func (b *Builder) flushM(level int) error {
	enc := b.mStack[level]
	if enc.empty() {
		return nil
	}
	fpos := b.indexOffset
	firstKey := enc.firstKey()
	block := enc.finalize()
	b.enqueueBlock(block)
	b.stats.MBlocks++
	b.stats.IndexBytes += int64(len(block))
	return b.insertM(level+1, mEntry{firstKey: firstKey, childFP: fpos, isLeaf: false})
}

// Finish flushes any partial blocks, cascades the M-stack into a
// single root block, writes the meta trailer, and closes both files.
// metadata, if non-nil, is persisted as an opaque application blob in
// the trailer's metadata block.
func (b *Builder) Finish(metadata []byte) (Stats, error) {
	if err := b.flushZ(); err != nil {
		return Stats{}, err
	}
	// Cascade every level except the topmost currently populated one:
	// flushing it would just wrap its lone surviving pointer in another
	// singleton parent, forever. len(b.mStack) can grow as lower levels
	// flush, so the loop bound is re-read each iteration.
	for level := 0; level < len(b.mStack)-1; level++ {
		if err := b.flushM(level); err != nil {
			return Stats{}, err
		}
	}

	var rootFP int64 = -1
	var rootIsLeaf bool
	top := b.mStack[len(b.mStack)-1]
	switch {
	case top.empty():
		// No entries at all: an empty snapshot has no root block.
	case len(top.entries) == 1:
		// A lone child pointer needs no wrapping parent block; it
		// becomes the root directly, which may itself be a leaf for
		// snapshots small enough to fit in a single Z-block.
		rootFP = top.entries[0].childFP
		rootIsLeaf = top.entries[0].isLeaf
	default:
		fpos := b.indexOffset
		block := top.finalize()
		b.enqueueBlock(block)
		b.stats.MBlocks++
		b.stats.IndexBytes += int64(len(block))
		rootFP = fpos
	}

	b.stats.ZBlockSize = b.cfg.zBlockSize
	b.stats.MBlockSize = b.cfg.mBlockSize
	b.stats.RootFP = rootFP
	b.stats.RootIsLeaf = rootIsLeaf
	if b.vlogWriter != nil {
		b.stats.NAbytes = b.vlogStart
	}

	trailer, err := encodeTrailer(b.stats, metadata)
	if err != nil {
		close(b.blockChan)
		b.g.Wait()
		return Stats{}, err
	}
	b.enqueueBlock(trailer)

	close(b.blockChan)
	if err := b.g.Wait(); err != nil {
		return Stats{}, err
	}
	if err := b.indexFP.Sync(); err != nil {
		return Stats{}, lsmkv.NewIoError("bubt.Finish: sync index", err)
	}
	if err := b.indexFP.Close(); err != nil {
		return Stats{}, lsmkv.NewIoError("bubt.Finish: close index", err)
	}
	if b.vlogWriter != nil {
		if err := b.vlogWriter.Sync(); err != nil {
			return Stats{}, err
		}
		if err := b.vlogWriter.Close(); err != nil {
			return Stats{}, err
		}
	}
	b.flushed = true
	return b.stats, nil
}
