package pruneheap

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

// Execute applies the line pointer changes of rec to pg and repacks the
// page storage. It is the only code that performs a prune, both live and
// during WAL replay, and its result depends only on pg and rec.
//
// Order of application:
//  1. plain redirects
//  2. redirects with data; the record overwrites the storage the slot
//     already owns, a slot owning none is parked as a plain redirect
//  3. dead, then unused
//  4. storage repacked
//  5. records of the parked slots appended after the packed storage
//
// Caller holds the cleanup lock and restores the page if Execute fails.
func Execute(pg *page.Page, rec *types.PruneRecord) error {
	maxOff := heapfile.MaxOffsetNumber(pg)
	inRange := func(off types.OffsetNumber) error {
		if off < types.FirstOffsetNumber || off > maxOff {
			return errors.Wrapf(ErrBadPruneRecord, "slot %d outside 1..%d", off, maxOff)
		}
		return nil
	}

	for _, r := range rec.Redirected {
		if err := inRange(r.From); err != nil {
			return err
		}
		if err := inRange(r.To); err != nil {
			return err
		}
		heapfile.SetItemID(pg, r.From, heapfile.Redirect{Target: r.To})
	}

	var parked []types.RedirectWithData
	for _, r := range rec.RedirectedData {
		if err := inRange(r.From); err != nil {
			return err
		}
		if err := inRange(r.To); err != nil {
			return err
		}
		if _, _, err := heapfile.DecodeRedirectHeader(r.Data); err != nil {
			return errors.Wrapf(ErrCorruptRedirectData, "slot %d: %v", r.From, err)
		}
		if !heapfile.OwnsStorage(pg, r.From) {
			heapfile.SetItemID(pg, r.From, heapfile.Redirect{Target: r.To})
			parked = append(parked, r)
			continue
		}
		if err := heapfile.SetRedirectWithData(pg, r.From, r.To, r.Data); err != nil {
			return errors.Wrapf(err, "redirect %d->%d", r.From, r.To)
		}
	}

	for _, off := range rec.NowDead {
		if err := inRange(off); err != nil {
			return err
		}
		heapfile.SetItemID(pg, off, heapfile.Dead{})
	}
	for _, off := range rec.NowUnused {
		if err := inRange(off); err != nil {
			return err
		}
		heapfile.SetItemID(pg, off, heapfile.Unused{})
	}

	if err := heapfile.RepairFragmentation(pg); err != nil {
		return err
	}

	for _, r := range parked {
		if err := heapfile.AppendRedirectWithData(pg, r.From, r.To, r.Data); err != nil {
			return errors.Wrapf(err, "redirect %d->%d", r.From, r.To)
		}
	}
	return nil
}

// ApplyRecord is Execute plus the header changes a prune makes: the new
// prune hint and a cleared full flag. Recovery calls it for OpPrune
// records.
func ApplyRecord(pg *page.Page, rec *types.PruneRecord) error {
	if err := Execute(pg, rec); err != nil {
		return err
	}
	heapfile.SetPruneXID(pg, rec.NewPruneXID)
	heapfile.ClearPageFull(pg)
	return nil
}
