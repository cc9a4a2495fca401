package heapfile

import (
	"PruneDB/storage_engine/bufferpool"
	diskmanager "PruneDB/storage_engine/disk_manager"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
This file contains helpers related to HeapFileManager and HeapFile
*/

func (hfm *HeapFileManager) GetHeapFileByName(name string) (*HeapFile, error) {
	hfm.mu.RLock()
	defer hfm.mu.RUnlock()

	fileID, exists := hfm.relIndex[name]
	if !exists {
		return nil, errors.Wrapf(ErrHeapFileNotFound, "relation %q", name)
	}
	return hfm.files[fileID], nil
}

func (hfm *HeapFileManager) GetHeapFileByID(fileID uint32) (*HeapFile, error) {
	hfm.mu.RLock()
	hf, exists := hfm.files[fileID]
	hfm.mu.RUnlock()

	if !exists {
		return nil, errors.Wrapf(ErrHeapFileNotFound, "file %d", fileID)
	}
	return hf, nil
}

func (hf *HeapFile) Relation() *types.RelationDef { return hf.rel }
func (hf *HeapFile) FileID() uint32 { return hf.fileID }

// NumPages is the number of pages in the file, allocated ones included.
func (hf *HeapFile) NumPages() (int64, error) {
	return hf.diskManager.NumPages(hf.fileID)
}

func (hf *HeapFile) globalPageID(pageNo uint32) int64 {
	return diskmanager.GlobalPageID(hf.fileID, int64(pageNo))
}

// ReadBuffer pins page pageNo of the file.
func (hf *HeapFile) ReadBuffer(pageNo uint32) (*bufferpool.Buffer, error) {
	n, err := hf.NumPages()
	if err != nil {
		return nil, err
	}
	if int64(pageNo) >= n {
		return nil, errors.Wrapf(diskmanager.ErrPageNotFound, "page %d of file %d (pages=%d)", pageNo, hf.fileID, n)
	}
	return hf.bufferPool.ReadBuffer(hf.globalPageID(pageNo))
}

// RedoBuffer pins and exclusively locks page pageNo for recovery, extending
// the file when the page never reached disk and initialising a page that
// was allocated but never written.
func (hf *HeapFile) RedoBuffer(pageNo uint32) (*bufferpool.Buffer, error) {
	for {
		n, err := hf.NumPages()
		if err != nil {
			return nil, err
		}
		if int64(pageNo) < n {
			break
		}
		buf, err := hf.bufferPool.ExtendBuffer(hf.fileID, types.PageTypeHeapData)
		if err != nil {
			return nil, errors.Wrap(err, "failed to extend heap file for redo")
		}
		buf.LockExclusive()
		InitHeapPage(buf.Page(), buf.Page().PageNo())
		buf.Release()
	}

	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return nil, err
	}
	buf.LockExclusive()
	if !IsInitialized(buf.Page()) {
		InitHeapPage(buf.Page(), pageNo)
	}
	return buf, nil
}

// pinForAccess pins a page and runs the access hook before any lock is taken.
func (hf *HeapFile) pinForAccess(pageNo uint32) (*bufferpool.Buffer, error) {
	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return nil, err
	}
	if hf.onAccess != nil && IsInitialized(buf.Page()) {
		hf.onAccess(hf.rel, buf)
	}
	return buf, nil
}

// findSuitablePage returns an exclusively locked page with room for a tuple
// of tupLen bytes plus a new line pointer, extending the file when none has.
// Page skip is never returned.
func (hf *HeapFile) findSuitablePage(tupLen int, skip int64) (*bufferpool.Buffer, error) {
	n, err := hf.NumPages()
	if err != nil {
		return nil, err
	}

	try := func(pageNo int64) *bufferpool.Buffer {
		buf, err := hf.ReadBuffer(uint32(pageNo))
		if err != nil {
			return nil
		}
		buf.LockExclusive()
		pg := buf.Page()
		if !IsInitialized(pg) {
			InitHeapPage(pg, uint32(pageNo))
		}
		if HeapFreeSpace(pg) >= tupLen {
			return buf
		}
		buf.Release()
		return nil
	}

	if hf.lastPage >= 0 && hf.lastPage < n && hf.lastPage != skip {
		if buf := try(hf.lastPage); buf != nil {
			return buf, nil
		}
	}
	for pageNo := int64(0); pageNo < n; pageNo++ {
		if pageNo == skip || pageNo == hf.lastPage {
			continue
		}
		if buf := try(pageNo); buf != nil {
			hf.lastPage = pageNo
			return buf, nil
		}
	}

	buf, err := hf.bufferPool.ExtendBuffer(hf.fileID, types.PageTypeHeapData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extend heap file")
	}
	buf.LockExclusive()
	InitHeapPage(buf.Page(), buf.Page().PageNo())
	hf.lastPage = int64(buf.Page().PageNo())
	log.Debugf("extended fileID=%d to page %d", hf.fileID, hf.lastPage)
	return buf, nil
}

// logChange appends op to the WAL and stamps the LSN on every page it
// touched. On failure every page is restored from its before image.
func (hf *HeapFile) logChange(op *types.Operation, bufs []*bufferpool.Buffer, before [][]byte) error {
	lsn, err := hf.wal.AppendOperation(op)
	if err != nil {
		for i, buf := range bufs {
			copy(buf.Page().Data, before[i])
		}
		return errors.Wrapf(err, "failed to log %s", op.Type)
	}
	for _, buf := range bufs {
		buf.Page().SetLSN(lsn)
		buf.MarkDirty()
	}
	return nil
}

func pageImage(buf *bufferpool.Buffer) []byte {
	return append([]byte(nil), buf.Page().Data...)
}

// Flush flushes all dirty pages of the pool.
func (hf *HeapFile) Flush() error {
	return hf.bufferPool.FlushAllPages()
}
