package heapfile

import (
	"PruneDB/types"

	"github.com/pkg/errors"
)

func (hf *HeapFile) checkRow(row types.Row) error {
	if hf.rel.NumAttributes > 0 && len(row.Values) != hf.rel.NumAttributes {
		return errors.Wrapf(ErrColumnCount, "relation %s has %d columns, row has %d", hf.rel.Name, hf.rel.NumAttributes, len(row.Values))
	}
	return nil
}

// Insert adds a row version created by xid.
func (hf *HeapFile) Insert(xid types.TransactionID, row types.Row) (types.RowPointer, error) {
	if err := hf.checkRow(row); err != nil {
		return types.RowPointer{}, err
	}
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.insertRow(xid, row)
}

// Update replaces the version of tid visible to vis with a new version
// created by xid. tid may be a chain root or a version.
func (hf *HeapFile) Update(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker, row types.Row) (*UpdateResult, error) {
	if err := hf.checkRow(row); err != nil {
		return nil, err
	}
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.updateRow(tid, xid, vis, row)
}

// Delete marks the version of tid visible to vis as deleted by xid and
// returns the version it hit.
func (hf *HeapFile) Delete(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker) (types.RowPointer, error) {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.deleteRow(tid, xid, vis)
}

// Fetch resolves a chain root to the version vis can see, the way an index
// lookup does. It returns the row and the version's own pointer.
func (hf *HeapFile) Fetch(root types.RowPointer, vis VisibilityChecker) (types.Row, types.RowPointer, error) {
	return hf.fetchRow(root, vis)
}

// Scan visits every version visible to vis in physical order. fn returning
// false stops the scan. fn runs without any page lock held.
func (hf *HeapFile) Scan(vis VisibilityChecker, fn func(tid types.RowPointer, row types.Row) bool) error {
	n, err := hf.NumPages()
	if err != nil {
		return err
	}
	for pageNo := int64(0); pageNo < n; pageNo++ {
		tids, rows, err := hf.scanPage(uint32(pageNo), vis)
		if err != nil {
			return errors.Wrapf(err, "scan page %d", pageNo)
		}
		for i := range tids {
			if !fn(tids[i], rows[i]) {
				return nil
			}
		}
	}
	return nil
}

// ############################################# MANAGER SHORTCUTS #########################################

func (hfm *HeapFileManager) InsertRow(fileID uint32, xid types.TransactionID, row types.Row) (types.RowPointer, error) {
	hf, err := hfm.GetHeapFileByID(fileID)
	if err != nil {
		return types.RowPointer{}, err
	}
	return hf.Insert(xid, row)
}

func (hfm *HeapFileManager) UpdateRow(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker, row types.Row) (*UpdateResult, error) {
	hf, err := hfm.GetHeapFileByID(tid.FileID)
	if err != nil {
		return nil, err
	}
	return hf.Update(tid, xid, vis, row)
}

func (hfm *HeapFileManager) DeleteRow(tid types.RowPointer, xid types.TransactionID, vis VisibilityChecker) (types.RowPointer, error) {
	hf, err := hfm.GetHeapFileByID(tid.FileID)
	if err != nil {
		return types.RowPointer{}, err
	}
	return hf.Delete(tid, xid, vis)
}

func (hfm *HeapFileManager) GetRow(tid types.RowPointer, vis VisibilityChecker) (types.Row, error) {
	hf, err := hfm.GetHeapFileByID(tid.FileID)
	if err != nil {
		return types.Row{}, err
	}
	row, _, err := hf.Fetch(tid, vis)
	return row, err
}
