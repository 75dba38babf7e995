// Package wal implements a per-chunk write-ahead log: every write accepted
// by the in-memory primary chunk is appended here first, so a process
// restart before the next checkpoint can replay it. Checkpoint (not the
// WAL) remains the sole mechanism by which a chunk's backing file becomes
// crash-durable; the WAL only shortens the window a tree must replay at
// open.
package wal

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ncw/directio"

	"boulder/internal/base"
	"boulder/pkg/storage"
)

// WAL stores all the changes made to a specific primary chunk. The tree
// closes and removes it once Switch has flushed the chunk's memtable to the
// chunk file, or when the tree is dropped; this type just appends and
// replays records.
type WAL struct {
	path   string
	writer *storage.Writer
}

// record layout: 1-byte kind, 8-byte trailer, 4-byte key length, 4-byte
// value length, key bytes, value bytes.
const recordHeaderSize = 1 + 8 + 4 + 4

func New(path string) (*WAL, error) {
	writer, err := storage.NewWriter(path, os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, err
	}

	return &WAL{path: path, writer: writer}, nil
}

// Append serializes one internal KV and writes it to the log. The record is
// not guaranteed durable until Flush.
func (w *WAL) Append(kv base.InternalKV) error {
	buf := make([]byte, recordHeaderSize+len(kv.K.UserKey)+len(kv.V))
	buf[0] = byte(kv.Kind())
	binary.BigEndian.PutUint64(buf[1:9], uint64(kv.K.Trailer))
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(kv.K.UserKey)))
	n := copy(buf[recordHeaderSize:], kv.K.UserKey)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(kv.V)))
	copy(buf[recordHeaderSize+n:], kv.V)

	_, err := w.writer.Write(buf)
	return err
}

// Flush makes every Append so far durable.
func (w *WAL) Flush() error {
	return w.writer.Sync()
}

// Close flushes and releases the underlying file. It is idempotent from the
// caller's perspective: the owning tree calls it exactly once, at close or
// after Switch has flushed the chunk's memtable to its chunk file.
func (w *WAL) Close() error {
	if err := w.writer.Sync(); err != nil {
		w.writer.Close()
		return err
	}
	return w.writer.Close()
}

// Remove deletes the log file from disk. Called after Switch has written
// the log's contents to the chunk file, and by Drop.
func (w *WAL) Remove() error {
	return os.Remove(w.path)
}

// Replay reads the log at path, if present, and calls fn with every record
// in append order. A missing file replays zero records: a tree whose
// primary chunk was never written to, or whose log was already removed
// after a checkpoint, has nothing to replay. Unlike Append, Replay reads
// with the plain os package rather than directio — it runs once at Open,
// not on the write hot path, so page-aligned I/O buys nothing here.
//
// Each Append is one independent storage.Writer.Write call, and that writer
// pads every call's buffer up to its own multiple of the block size; the
// file on disk is therefore a sequence of (record, zero-padding) pairs, not
// tightly packed records. Replay must skip each record's padding, not just
// its own bytes, to find the next one.
func Replay(path string, fn func(base.InternalKV) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: replay %s: %w", path, err)
	}

	block := directio.BlockSize
	for off := 0; off < len(data); {
		if off+recordHeaderSize > len(data) {
			return fmt.Errorf("wal: replay %s: truncated record header", path)
		}
		kind := base.InternalKeyKind(data[off])
		trailer := base.InternalKeyTrailer(binary.BigEndian.Uint64(data[off+1 : off+9]))
		keyLen := int(binary.BigEndian.Uint32(data[off+9 : off+13]))
		valLen := int(binary.BigEndian.Uint32(data[off+13 : off+17]))

		recLen := recordHeaderSize + keyLen + valLen
		if off+recLen > len(data) {
			return fmt.Errorf("wal: replay %s: truncated record body", path)
		}
		key := data[off+recordHeaderSize : off+recordHeaderSize+keyLen]
		val := data[off+recordHeaderSize+keyLen : off+recLen]

		kv := base.InternalKV{K: base.InternalKey{UserKey: key, Trailer: trailer}, V: val}
		_ = kind
		if err := fn(kv); err != nil {
			return err
		}

		written := recLen
		if rem := written % block; rem != 0 {
			written += block - rem
		}
		off += written
	}
	return nil
}
