package bubt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/gholt/lsmkv"
)

// Stats reports structural statistics about a built BUBT snapshot,
// persisted as JSON in the stats trailer block (spec §6) and returned
// by Snapshot.Stats(). RootFP is stored here rather than recomputed
// from file-size arithmetic (spec §6 derives it as "eof - 3*BLOCK_SIZE
// - metadata_blocks*BLOCK_SIZE", which silently assumes the root
// m-block is itself exactly one MARKER_BLOCK_SIZE — true only when
// m_blocksize==MarkerBlockSize; storing it explicitly removes that
// coupling and is cheap since the stats block is already free-form
// JSON).
type Stats struct {
	Count      int64 `json:"count"`
	ZBlocks    int64 `json:"z_blocks"`
	MBlocks    int64 `json:"m_blocks"`
	ZBlockSize int   `json:"z_blocksize"`
	MBlockSize int   `json:"m_blocksize"`
	IndexBytes int64 `json:"index_bytes"`
	VlogBytes  int64 `json:"vlog_bytes"`
	NAbytes    int64 `json:"n_abytes"`
	RootFP     int64 `json:"root_fp"`
	RootIsLeaf bool  `json:"root_is_leaf"`
	HasVlog    bool  `json:"has_vlog"`
}

var markerFill = bytes.Repeat([]byte{0xAB}, MarkerBlockSize)

// encodeTrailer renders the stats block, an optional single metadata
// block, and the marker block (spec §6), each MarkerBlockSize bytes.
func encodeTrailer(st Stats, metadata []byte) ([]byte, error) {
	js, err := json.Marshal(st)
	if err != nil {
		return nil, lsmkv.NewUnreachable("bubt: stats marshal: " + err.Error())
	}
	if len(js)+8 > MarkerBlockSize {
		return nil, lsmkv.NewUnreachable("bubt: stats JSON exceeds marker block size")
	}
	statsBlock := make([]byte, MarkerBlockSize)
	binary.BigEndian.PutUint64(statsBlock[:8], uint64(len(js)))
	copy(statsBlock[8:], js)

	var out []byte
	out = append(out, statsBlock...)
	if len(metadata) > 0 {
		if len(metadata)+8 > MarkerBlockSize {
			return nil, lsmkv.NewUnreachable("bubt: metadata exceeds one marker block")
		}
		metaBlock := make([]byte, MarkerBlockSize)
		copy(metaBlock, metadata)
		binary.BigEndian.PutUint64(metaBlock[MarkerBlockSize-8:], uint64(len(metadata)))
		out = append(out, metaBlock...)
	}
	out = append(out, markerFill...)
	return out, nil
}

// decodeTrailer reads the trailer from the tail of an index file's
// bytes (the caller supplies the whole file or at least its tail) and
// returns the parsed Stats and any application metadata.
func decodeTrailer(fileSize int64, readAt func(off int64, n int) ([]byte, error)) (Stats, []byte, int64, error) {
	marker, err := readAt(fileSize-MarkerBlockSize, MarkerBlockSize)
	if err != nil {
		return Stats{}, nil, 0, err
	}
	if !bytes.Equal(marker, markerFill) {
		return Stats{}, nil, 0, lsmkv.NewUnreachable("bubt: marker block missing or corrupt; snapshot is incomplete")
	}

	// Try treating the block immediately before the marker as a
	// metadata block (its tail u64 gives a plausible length) before
	// falling back to "no metadata block present".
	candidate, err := readAt(fileSize-2*MarkerBlockSize, MarkerBlockSize)
	if err != nil {
		return Stats{}, nil, 0, err
	}
	metaLen := binary.BigEndian.Uint64(candidate[MarkerBlockSize-8:])
	trailerBlocks := int64(1) // marker
	var metadata []byte
	if metaLen > 0 && metaLen <= MarkerBlockSize-8 {
		metadata = append([]byte(nil), candidate[:metaLen]...)
		trailerBlocks++ // metadata block consumed
	}

	statsOffset := fileSize - (trailerBlocks+1)*MarkerBlockSize
	statsBlock, err := readAt(statsOffset, MarkerBlockSize)
	if err != nil {
		return Stats{}, nil, 0, err
	}
	statsLen := binary.BigEndian.Uint64(statsBlock[:8])
	if statsLen == 0 || statsLen > MarkerBlockSize-8 {
		// No metadata block after all; the candidate block we
		// consumed as metadata was in fact the stats block.
		statsLen = binary.BigEndian.Uint64(candidate[:8])
		if statsLen == 0 || statsLen > MarkerBlockSize-8 {
			return Stats{}, nil, 0, lsmkv.NewUnreachable("bubt: could not locate stats block")
		}
		var st Stats
		if err := json.Unmarshal(candidate[8:8+statsLen], &st); err != nil {
			return Stats{}, nil, 0, lsmkv.NewUnreachable("bubt: stats unmarshal: " + err.Error())
		}
		return st, nil, fileSize - 2*MarkerBlockSize, nil
	}
	var st Stats
	if err := json.Unmarshal(statsBlock[8:8+statsLen], &st); err != nil {
		return Stats{}, nil, 0, lsmkv.NewUnreachable("bubt: stats unmarshal: " + err.Error())
	}
	return st, metadata, statsOffset, nil
}
