package diskmanager

import (
	"encoding/binary"
	"os"

	"PruneDB/logger"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

/*
DiskManager owns:
  - OS file handles, one per relation (the fileID comes from the catalog)
  - reading/writing raw pages at page-aligned offsets
  - page allocation (NextPageID per file)
  - the globalPageID <-> (fileID, localPage) mapping

Page ID encoding:
globalPageID = int64(fileID) << 32 | localPageNum
Global IDs are deterministic, so no counter has to survive a restart.

Every page written is stamped with an xxhash32 checksum over the whole page
(checksum field zeroed). Reads verify it; an all-zero page is a page that was
allocated but never written and is accepted as is.
*/

var log = logger.Component("disk_manager")

func NewDiskManager() *DiskManager {
	return &DiskManager{
		files:         make(map[uint32]*FileDescriptor),
		globalPageMap: make(map[int64]uint32),
		localToGlobal: make(map[PageKey]int64),
	}
}

// PageChecksum computes the checksum of a page image, skipping the checksum
// field itself.
func PageChecksum(data []byte) uint32 {
	var zero [page.ChecksumSize]byte
	h := xxhash.New32()
	h.Write(data[:page.ChecksumOffset])
	h.Write(zero[:])
	h.Write(data[page.ChecksumOffset+page.ChecksumSize:])
	return h.Sum32()
}

func stampChecksum(data []byte) {
	binary.LittleEndian.PutUint32(data[page.ChecksumOffset:], PageChecksum(data))
}

func verifyChecksum(data []byte) bool {
	stored := binary.LittleEndian.Uint32(data[page.ChecksumOffset:])
	if stored == 0 && isZeroPage(data) {
		return true
	}
	return stored == PageChecksum(data)
}

func isZeroPage(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// OpenFileWithID opens (or creates) a relation file under the catalog's
// stable fileID, registering every page already present in it.
func (dm *DiskManager) OpenFileWithID(filePath string, fileID uint32) (uint32, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if fd, ok := dm.files[fileID]; ok {
		if fd.FilePath != filePath {
			return 0, errors.Errorf("fileID %d already bound to %s", fileID, fd.FilePath)
		}
		return fileID, nil
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open file %s", filePath)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, errors.Wrapf(err, "failed to stat file %s", filePath)
	}

	numPages := stat.Size() / int64(page.PageSize)
	dm.files[fileID] = &FileDescriptor{
		FileID:     fileID,
		FilePath:   filePath,
		File:       file,
		NextPageID: numPages,
	}
	for local := int64(0); local < numPages; local++ {
		dm.registerLocked(fileID, local)
	}

	log.Debugf("open path=%s fileID=%d pages=%d", filePath, fileID, numPages)
	return fileID, nil
}

func (dm *DiskManager) fileFor(fileID uint32) (*FileDescriptor, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	fd, ok := dm.files[fileID]
	if !ok {
		return nil, errors.Wrapf(ErrFileNotFound, "file %d", fileID)
	}
	return fd, nil
}

// ReadPage reads a page from disk and verifies its checksum.
func (dm *DiskManager) ReadPage(globalPageID int64) (*page.Page, error) {
	dm.mu.RLock()
	fileID, exists := dm.globalPageMap[globalPageID]
	dm.mu.RUnlock()
	if !exists {
		return nil, errors.Wrapf(ErrPageNotFound, "page %d", globalPageID)
	}

	fd, err := dm.fileFor(fileID)
	if err != nil {
		return nil, err
	}

	fd.mu.RLock()
	defer fd.mu.RUnlock()
	if fd.File == nil {
		return nil, errors.Wrapf(ErrFileClosed, "file %d", fileID)
	}

	localPageID := LocalPageID(globalPageID)
	pg := page.New(globalPageID, fileID, types.PageTypeUnknown)
	n, err := fd.File.ReadAt(pg.Data, localPageID*int64(page.PageSize))
	if err != nil && n == 0 {
		// allocated but never flushed: a fresh zero page
		if localPageID < fd.NextPageID {
			return pg, nil
		}
		return nil, errors.Wrapf(err, "failed to read page %d from file %d", localPageID, fileID)
	}

	if !verifyChecksum(pg.Data) {
		return nil, errors.Wrapf(ErrChecksumMismatch, "file %d page %d", fileID, localPageID)
	}

	pg.PageType = types.PageType(pg.Data[page.PageTypeOffset])
	pg.SyncLSN()
	return pg, nil
}

// WritePage stamps the checksum and writes the page at its offset. The LSN
// written is the one in the page bytes; the caller must hold at least a
// shared content lock.
func (dm *DiskManager) WritePage(pg *page.Page) error {
	fd, err := dm.fileFor(pg.FileID)
	if err != nil {
		return err
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return errors.Wrapf(ErrFileClosed, "file %d", pg.FileID)
	}
	if len(pg.Data) != page.PageSize {
		return errors.Errorf("page data size %d does not match page size %d", len(pg.Data), page.PageSize)
	}

	// stamp a private copy so concurrent shared-lock readers never see the
	// header change under them
	image := make([]byte, page.PageSize)
	copy(image, pg.Data)
	image[page.PageTypeOffset] = byte(pg.PageType)
	stampChecksum(image)

	localPageID := LocalPageID(pg.ID)
	if _, err := fd.File.WriteAt(image, localPageID*int64(page.PageSize)); err != nil {
		return errors.Wrapf(err, "failed to write page %d to file %d", localPageID, pg.FileID)
	}
	if localPageID >= fd.NextPageID {
		fd.NextPageID = localPageID + 1
	}

	pg.SetDirty(false)
	return nil
}

// AllocatePage reserves the next page number of a file. Nothing is written;
// the buffer pool flushes the page later.
func (dm *DiskManager) AllocatePage(fileID uint32) (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	fd, exists := dm.files[fileID]
	if !exists {
		return 0, errors.Wrapf(ErrFileNotFound, "file %d", fileID)
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	if fd.File == nil {
		return 0, errors.Wrapf(ErrFileClosed, "file %d", fileID)
	}

	localPageNum := fd.NextPageID
	fd.NextPageID++
	return dm.registerLocked(fileID, localPageNum), nil
}

func (dm *DiskManager) registerLocked(fileID uint32, localPageNum int64) int64 {
	globalPageID := GlobalPageID(fileID, localPageNum)
	dm.globalPageMap[globalPageID] = fileID
	dm.localToGlobal[PageKey{FileID: fileID, LocalNum: localPageNum}] = globalPageID
	return globalPageID
}

func GlobalPageID(fileID uint32, localPageNum int64) int64 {
	return int64(fileID)<<32 | localPageNum
}

func LocalPageID(globalPageID int64) int64 {
	return globalPageID & 0xFFFFFFFF
}

// NumPages returns how many pages a file has, allocated ones included.
func (dm *DiskManager) NumPages(fileID uint32) (int64, error) {
	fd, err := dm.fileFor(fileID)
	if err != nil {
		return 0, err
	}
	fd.mu.RLock()
	defer fd.mu.RUnlock()
	return fd.NextPageID, nil
}

// Sync flushes all file buffers to disk
func (dm *DiskManager) Sync() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	for _, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				fd.mu.Unlock()
				return errors.Wrapf(err, "failed to sync file %d", fd.FileID)
			}
		}
		fd.mu.Unlock()
	}
	return nil
}

// CloseAll closes all open files
func (dm *DiskManager) CloseAll() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var lastErr error
	for fileID, fd := range dm.files {
		fd.mu.Lock()
		if fd.File != nil {
			if err := fd.File.Sync(); err != nil {
				lastErr = err
			}
			if err := fd.File.Close(); err != nil {
				lastErr = err
			}
			fd.File = nil
		}
		fd.mu.Unlock()
		delete(dm.files, fileID)
	}
	return lastErr
}

// TotalPages returns the total number of pages across all files
func (dm *DiskManager) TotalPages() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()

	total := int64(0)
	for _, fd := range dm.files {
		total += fd.NextPageID
	}
	return total
}
