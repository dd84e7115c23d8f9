package wal

import (
	"fmt"
	"strconv"
	"strings"
)

// journalName is the parsed form of one journal filename, spec §4.6:
// "<name>-wal-shard-<sid>-journal-<seq>.wal". Parts-to-name and
// name-to-parts must be exact inverses.
type journalName struct {
	dbName string
	shard  uint32
	seq    uint32
}

const (
	shardInfix  = "-wal-shard-"
	journalInfix = "-journal-"
	journalExt   = ".wal"
)

func formatJournalName(dbName string, shard, seq uint32) string {
	return fmt.Sprintf("%s%s%d%s%d%s", dbName, shardInfix, shard, journalInfix, seq, journalExt)
}

// parseJournalName is the inverse of formatJournalName.
func parseJournalName(fname string) (journalName, bool) {
	if !strings.HasSuffix(fname, journalExt) {
		return journalName{}, false
	}
	body := strings.TrimSuffix(fname, journalExt)
	head, tail, ok := cutLast(body, shardInfix)
	if !ok {
		return journalName{}, false
	}
	shardStr, seqStr, ok := cutLast(tail, journalInfix)
	if !ok {
		return journalName{}, false
	}
	shard, err := strconv.ParseUint(shardStr, 10, 32)
	if err != nil {
		return journalName{}, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return journalName{}, false
	}
	return journalName{dbName: head, shard: uint32(shard), seq: uint32(seq)}, true
}

// cutLast splits s on the last occurrence of sep, since dbName itself
// may legally contain either infix as a substring.
func cutLast(s, sep string) (before, after string, ok bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}
