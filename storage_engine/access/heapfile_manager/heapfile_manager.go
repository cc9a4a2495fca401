package heapfile

import (
	"fmt"
	"os"
	"path/filepath"

	"PruneDB/logger"
	"PruneDB/storage_engine/bufferpool"
	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
This file is the start of the heapfile manager.
It creates and opens the heap file of a relation. The first page is
initialised lazily by the first insert.

The heapfile manager knows the Disk Manager for file handles and the Buffer
Pool for page access; every change it makes is written to the WAL before
the page is released.
*/

var log = logger.Component("heap")

// NewHeapFileManager creates a new heap file manager
func NewHeapFileManager(baseDir string, diskManager *diskmanager.DiskManager, bufferPool *bufferpool.BufferPool,
	wal ChangeLog, clog XidStatusSource) *HeapFileManager {
	return &HeapFileManager{
		baseDir:     baseDir,
		files:       make(map[uint32]*HeapFile),
		relIndex:    make(map[string]uint32),
		diskManager: diskManager,
		bufferPool:  bufferPool,
		wal:         wal,
		clog:        clog,
	}
}

// SetPageAccessHook installs fn on the manager and every open heap file.
func (hfm *HeapFileManager) SetPageAccessHook(fn PageAccessHook) {
	hfm.mu.Lock()
	defer hfm.mu.Unlock()
	hfm.onAccess = fn
	for _, hf := range hfm.files {
		hf.mu.Lock()
		hf.onAccess = fn
		hf.mu.Unlock()
	}
}

func (hfm *HeapFileManager) heapPath(fileID uint32) string {
	return filepath.Join(hfm.baseDir, fmt.Sprintf("%d.heap", fileID))
}

// CreateHeapFile creates the (empty) heap file of a relation.
func (hfm *HeapFileManager) CreateHeapFile(rel *types.RelationDef) (*HeapFile, error) {
	hfm.mu.Lock()
	defer hfm.mu.Unlock()

	if _, exists := hfm.relIndex[rel.Name]; exists {
		return nil, errors.Wrapf(ErrHeapFileExists, "relation %q already open", rel.Name)
	}

	heapPath := hfm.heapPath(rel.FileID)
	if _, err := os.Stat(heapPath); err == nil {
		return nil, errors.Wrapf(ErrHeapFileExists, "heap file %d", rel.FileID)
	}
	if err := os.MkdirAll(hfm.baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create heap directory")
	}
	if _, err := hfm.diskManager.OpenFileWithID(heapPath, rel.FileID); err != nil {
		return nil, errors.Wrap(err, "failed to create heap file")
	}

	hf := hfm.registerLocked(rel, heapPath)
	log.Infof("created heap file relation=%s fileID=%d", rel.Name, rel.FileID)
	return hf, nil
}

// OpenHeapFile opens the heap file of an existing relation, creating the
// file if it was never written (a crash right after the relation was
// registered).
func (hfm *HeapFileManager) OpenHeapFile(rel *types.RelationDef) (*HeapFile, error) {
	hfm.mu.Lock()
	defer hfm.mu.Unlock()

	if hf, exists := hfm.files[rel.FileID]; exists {
		return hf, nil
	}

	if err := os.MkdirAll(hfm.baseDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create heap directory")
	}
	heapPath := hfm.heapPath(rel.FileID)
	if _, err := hfm.diskManager.OpenFileWithID(heapPath, rel.FileID); err != nil {
		return nil, errors.Wrap(err, "failed to open heap file")
	}
	n, _ := hfm.diskManager.NumPages(rel.FileID)
	log.Infof("opened heap file relation=%s fileID=%d pages=%d", rel.Name, rel.FileID, n)

	return hfm.registerLocked(rel, heapPath), nil
}

func (hfm *HeapFileManager) registerLocked(rel *types.RelationDef, heapPath string) *HeapFile {
	hf := &HeapFile{
		rel:         rel,
		fileID:      rel.FileID,
		filePath:    heapPath,
		diskManager: hfm.diskManager,
		bufferPool:  hfm.bufferPool,
		wal:         hfm.wal,
		clog:        hfm.clog,
		onAccess:    hfm.onAccess,
	}
	hfm.files[rel.FileID] = hf
	hfm.relIndex[rel.Name] = rel.FileID
	return hf
}
