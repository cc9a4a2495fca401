package wal_manager

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

const (
	RecordHeaderSize   = 17
	DefaultSegmentSize = 16 * 1024 * 1024

	// record flags
	flagSnappy = 1 << 0
)

var (
	ErrChecksumMismatch = errors.New("wal record checksum mismatch")
	ErrSegmentClosed    = errors.New("segment not opened")
	ErrWALClosed        = errors.New("wal is closed")
)

// Options tune a WAL instance. Zero values fall back to defaults.
type Options struct {
	SegmentSize int64
	Compress    bool
}

type WALManager struct {
	Directory   string
	CurrSegment *WALSegment
	CurrentLSN  uint64
	Segments    map[uint64]*WALSegment

	opts       Options
	flushedLSN uint64
	closed     bool
	mu         sync.RWMutex
}

type WALSegment struct {
	SegmentId uint64
	FilePath  string
	File      *os.File
	Size      int64
	maxSize   int64
	mu        sync.Mutex
}

type WALRecord struct {
	LSN   uint64
	Flags byte
	Data  []byte // as stored, possibly compressed
	Sum   uint32
}
