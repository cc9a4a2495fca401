package wal_manager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

/*
This file contains the actual internal operation wal segment

WALSegment.Append is the lowest level. It writes raw bytes to the file and
tracks size. No fsync: data sits in the OS buffer, not guaranteed durable.

WALSegment.Sync calls File.Sync() which forces OS buffer -> disk.
After this, data is durable even if process crashes.
*/

func InitializeWALSegment(segmentId uint64, basePath string, maxSize int64) *WALSegment {
	fileName := fmt.Sprintf("wal_%016x.log", segmentId)
	return &WALSegment{
		SegmentId: segmentId,
		FilePath:  filepath.Join(basePath, fileName),
		maxSize:   maxSize,
	}
}

// opens the segment file in append-only mode
func (ws *WALSegment) Open() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File != nil {
		return nil
	}

	// O_APPEND keeps appends atomic at the OS level
	file, err := os.OpenFile(ws.FilePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open segment %s", ws.FilePath)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "failed to stat segment %s", ws.FilePath)
	}

	ws.File = file
	ws.Size = stat.Size()
	return nil
}

func (ws *WALSegment) Append(data []byte) (int, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return 0, ErrSegmentClosed
	}

	n, err := ws.File.Write(data)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to append to segment %d", ws.SegmentId)
	}

	ws.Size += int64(n)
	return n, nil
}

func (ws *WALSegment) Sync() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return ErrSegmentClosed
	}
	return ws.File.Sync()
}

// Truncate cuts a torn tail off the segment.
func (ws *WALSegment) Truncate(size int64) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return ErrSegmentClosed
	}
	if err := ws.File.Truncate(size); err != nil {
		return errors.Wrapf(err, "failed to truncate segment %d", ws.SegmentId)
	}
	ws.Size = size
	return nil
}

// Close closes the segment file
func (ws *WALSegment) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.File == nil {
		return nil
	}
	if err := ws.File.Sync(); err != nil {
		return err
	}
	err := ws.File.Close()
	ws.File = nil
	return err
}

// IsFull checks if segment has reached size limit
func (ws *WALSegment) IsFull() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.Size >= ws.maxSize
}
