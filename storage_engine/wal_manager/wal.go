package wal_manager

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"PruneDB/logger"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*

WAL Segment File
────────────────────────────────────
| Record | Record | Record | ...   |
────────────────────────────────────

Each Record:
──────────────────────────────────────────────────────────────
| LSN (8) | LEN (4) | SUM (4) | FLAGS (1) | DATA (LEN)        |
──────────────────────────────────────────────────────────────

SUM is xxhash32 over LSN, FLAGS and DATA. FLAGS bit 0 marks DATA as snappy
compressed. DATA decodes to one types.Operation.

A crash can leave a partially written record at the end of the newest
segment. Opening the WAL cuts that tail off; a bad record anywhere else is
corruption and fails replay.

*/

var log = logger.Component("wal")

func OpenWAL(directory string, opts Options) (*WALManager, error) {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create wal dir %s", directory)
	}

	wal := &WALManager{
		Directory: directory,
		Segments:  make(map[uint64]*WALSegment),
		opts:      opts,
	}

	if err := wal.recoverWALEntries(); err != nil {
		return nil, err
	}

	if wal.CurrSegment == nil {
		if err := wal.createNewSegment(); err != nil {
			return nil, err
		}
	}

	return wal, nil
}

// recoverWALEntries opens existing segments, restores the current LSN and
// trims a torn tail from the newest segment.
func (w *WALManager) recoverWALEntries() error {
	files, err := filepath.Glob(filepath.Join(w.Directory, "wal_*.log"))
	if err != nil {
		return err
	}

	var segmentIDs []uint64
	for _, file := range files {
		hexPart := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(file), "wal_"), ".log")
		segmentID, err := strconv.ParseUint(hexPart, 16, 64)
		if err != nil {
			continue
		}
		segmentIDs = append(segmentIDs, segmentID)
	}
	if len(segmentIDs) == 0 {
		return nil
	}
	slices.Sort(segmentIDs)

	maxLSN := uint64(0)
	for i, segmentID := range segmentIDs {
		segment := InitializeWALSegment(segmentID, w.Directory, w.opts.SegmentSize)
		if err := segment.Open(); err != nil {
			return err
		}
		w.Segments[segmentID] = segment

		validEnd, err := scanSegment(segment.FilePath, func(rec *WALRecord) error {
			if rec.LSN > maxLSN {
				maxLSN = rec.LSN
			}
			return nil
		})
		last := i == len(segmentIDs)-1
		if err != nil && !(last && isTornTail(err)) {
			return errors.Wrapf(err, "segment %d", segmentID)
		}
		if last && validEnd < segment.Size {
			log.Warnf("truncating torn tail of segment %d at offset %d (size %d)", segmentID, validEnd, segment.Size)
			if err := segment.Truncate(validEnd); err != nil {
				return err
			}
		}
	}

	w.CurrSegment = w.Segments[segmentIDs[len(segmentIDs)-1]]
	w.CurrentLSN = maxLSN
	w.flushedLSN = maxLSN

	log.Infof("recovered %d segment(s), current LSN %d", len(segmentIDs), maxLSN)
	return nil
}

func isTornTail(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrChecksumMismatch)
}

// scanSegment calls fn for every valid record in order and returns the
// offset just past the last valid one.
func scanSegment(path string, fn func(*WALRecord) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	header := make([]byte, RecordHeaderSize)
	offset := int64(0)

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF {
				return offset, nil
			}
			return offset, err
		}

		lsn, dataLen, sum, flags := decodeHeader(header)
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(reader, data); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return offset, err
		}

		rec := &WALRecord{LSN: lsn, Flags: flags, Data: data, Sum: sum}
		if !rec.Valid() {
			return offset, errors.Wrapf(ErrChecksumMismatch, "at LSN %d", lsn)
		}
		if err := fn(rec); err != nil {
			return offset, err
		}
		offset += int64(RecordHeaderSize) + int64(dataLen)
	}
}

func (w *WALManager) createNewSegment() error {
	segmentID := uint64(0)
	if w.CurrSegment != nil {
		segmentID = w.CurrSegment.SegmentId + 1
	}
	segment := InitializeWALSegment(segmentID, w.Directory, w.opts.SegmentSize)
	if err := segment.Open(); err != nil {
		return err
	}

	w.Segments[segmentID] = segment
	w.CurrSegment = segment
	return nil
}

// ReplayFromLSN feeds every operation with LSN >= startLSN to applyFunc in
// log order.
func (wm *WALManager) ReplayFromLSN(startLSN uint64, applyFunc func(*types.Operation) error) error {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	var segmentIDs []uint64
	for id := range wm.Segments {
		segmentIDs = append(segmentIDs, id)
	}
	slices.Sort(segmentIDs)

	for _, segmentID := range segmentIDs {
		segment := wm.Segments[segmentID]
		_, err := scanSegment(segment.FilePath, func(rec *WALRecord) error {
			if rec.LSN < startLSN {
				return nil
			}
			payload, err := rec.Payload()
			if err != nil {
				return err
			}
			op, err := types.DecodeOperation(payload)
			if err != nil {
				return errors.Wrapf(err, "failed to decode operation at LSN %d", rec.LSN)
			}
			op.LSN = rec.LSN
			if err := applyFunc(op); err != nil {
				return errors.Wrapf(err, "failed to apply %s at LSN %d", op.Type, rec.LSN)
			}
			return nil
		})
		if err != nil {
			return errors.Wrapf(err, "failed to replay segment %d", segmentID)
		}
	}
	return nil
}

// AppendOperation assigns the next LSN and writes the record. The record is
// not durable until Sync.
func (wm *WALManager) AppendOperation(op *types.Operation) (uint64, error) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.closed {
		return 0, ErrWALClosed
	}

	if wm.CurrSegment.IsFull() {
		if err := wm.CurrSegment.Sync(); err != nil {
			return 0, err
		}
		if err := wm.createNewSegment(); err != nil {
			return 0, err
		}
	}

	lsn := wm.CurrentLSN + 1
	record := newRecord(lsn, op.Encode(), wm.opts.Compress)
	if _, err := wm.CurrSegment.Append(record.Encode()); err != nil {
		return 0, err
	}
	wm.CurrentLSN = lsn
	return lsn, nil
}

// LogPrune writes a page prune record.
func (wm *WALManager) LogPrune(rec *types.PruneRecord) (uint64, error) {
	return wm.AppendOperation(&types.Operation{
		Type:  types.OpPrune,
		RelID: rec.RelID,
		Prune: rec,
	})
}

// Sync makes everything appended so far durable.
func (wm *WALManager) Sync() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.closed {
		return ErrWALClosed
	}
	if err := wm.CurrSegment.Sync(); err != nil {
		return err
	}
	wm.flushedLSN = wm.CurrentLSN
	return nil
}

func (wm *WALManager) GetFlushedLSN() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.flushedLSN
}

func (wm *WALManager) GetCurrentLSN() uint64 {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.CurrentLSN
}

func (wm *WALManager) Close() error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if wm.closed {
		return nil
	}
	for _, seg := range wm.Segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	wm.flushedLSN = wm.CurrentLSN
	wm.closed = true
	return nil
}
