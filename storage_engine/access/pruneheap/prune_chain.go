package pruneheap

import (
	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/page"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
pruneChain prunes the update chain starting at root and returns the number
of tuple versions it removed.

A chain is walked forward from root through redirects and HOT/PHOT ctid
links while its members are DEAD. The walk stops at the first member that
is not DEAD, at a broken link (xmin of the next member not equal to the
xmax of the previous), at a slot already handled this pass, or at an
Unused or Dead slot.

If nothing in the chain is DEAD the chain is left alone. Otherwise it is
collapsed from the newest member back to the root:

  - an entirely dead chain becomes Dead/Unused throughout
  - a pure HOT chain keeps only its live tail; root redirects to it
  - a chain with partial (PHOT) members keeps "key" members for the points
    an index may still arrive at, each a redirect carrying the columns that
    changed since the next key toward the tail

Members that were never reachable from an index become Unused; members an
index may still point at become Dead.
*/
func (p *Pruner) pruneChain(pg *page.Page, root types.OffsetNumber, ps *pruneState) (int, error) {
	ndeleted := 0
	maxOff := heapfile.MaxOffsetNumber(pg)
	pageNo := heapfile.GetPageNo(pg)
	rootID := heapfile.GetItemID(pg, root)

	if _, ok := rootID.(heapfile.Normal); ok {
		hdr, err := heapfile.TupleHeaderAt(pg, root)
		if err != nil {
			return 0, errors.Wrapf(err, "chain root %d", root)
		}
		if hdr.IsHeapOnly() || hdr.IsPartialHeapOnly() {
			// Not a chain start. Reached here only when its own root did
			// not lead to it, so it can go if it is DEAD and has no
			// successor. A partial member may still have index entries.
			res, err := p.satisfiesVacuum(ps, &hdr)
			if err != nil {
				return 0, errors.Wrapf(err, "slot %d", root)
			}
			if res == HeapTupleDead && !hdr.IsHotUpdated() && !hdr.IsPartialHotUpdated() {
				if hdr.IsHeapOnly() {
					err = ps.recordUnused(root)
				} else {
					err = ps.recordDead(root)
				}
				if err != nil {
					return 0, err
				}
				p.advanceLatestRemovedXID(ps, &hdr)
				ndeleted++
			}
			return ndeleted, nil
		}
	}

	var (
		chain      []types.OffsetNumber
		partial    []bool // member may still be referenced by an index
		latestDead = types.InvalidOffsetNumber
		priorXmax  = types.InvalidTransactionID
		off        = root
	)

	for len(chain) < int(maxOff) {
		if off < types.FirstOffsetNumber || off > maxOff || ps.marked[off] {
			break
		}
		id := heapfile.GetItemID(pg, off)

		if target, ok := heapfile.RedirectTarget(id); ok {
			chain = append(chain, off)
			if off == root {
				partial = append(partial, heapfile.IsPartialHotRedirected(id))
			} else {
				partial = append(partial, true)
			}
			off = target
			priorXmax = types.InvalidTransactionID
			continue
		}
		if id.State() != heapfile.LPNormal {
			break
		}

		hdr, err := heapfile.TupleHeaderAt(pg, off)
		if err != nil {
			return 0, errors.Wrapf(err, "chain member %d", off)
		}
		if priorXmax.IsValid() && hdr.Xmin != priorXmax {
			break
		}
		chain = append(chain, off)
		partial = append(partial, hdr.IsPartialHeapOnly() || (!hdr.IsHeapOnly() && hdr.IsPartialHotUpdated()))

		res, err := p.satisfiesVacuum(ps, &hdr)
		if err != nil {
			return 0, errors.Wrapf(err, "slot %d", off)
		}
		tupDead := false
		switch res {
		case HeapTupleDead:
			tupDead = true
			latestDead = off
			p.advanceLatestRemovedXID(ps, &hdr)
		case HeapTupleRecentlyDead, HeapTupleDeleteInProgress:
			ps.recordPrunable(hdr.Xmax)
		case HeapTupleLive, HeapTupleInsertInProgress:
		default:
			return 0, errors.Wrapf(ErrUnexpectedVisibility, "slot %d classified %s", off, res)
		}

		if !tupDead {
			break
		}
		if !hdr.IsHotUpdated() && !hdr.IsPartialHotUpdated() {
			break
		}
		if hdr.CtidPage != pageNo {
			break
		}
		off = hdr.CtidSlot
		priorXmax = hdr.Xmax
	}

	if latestDead.IsValid() {
		n, err := p.collapseChain(pg, chain, partial, latestDead, ps)
		if err != nil {
			return 0, err
		}
		ndeleted += n
	} else if len(chain) < 2 && heapfile.IsRedirected(rootID) {
		// the redirect's target went away earlier in this pass or never
		// linked up; nothing can be reached through it any more
		if err := ps.recordDead(root); err != nil {
			return 0, err
		}
	}
	return ndeleted, nil
}

func (p *Pruner) collapseChain(pg *page.Page, chain []types.OffsetNumber, partial []bool, latestDead types.OffsetNumber, ps *pruneState) (int, error) {
	var (
		ndeleted   int
		n          = len(chain)
		root       = chain[0]
		lastOff    = chain[n-1]
		hasPartial = partial[n-1]
		chainDead  = lastOff == latestDead

		// keys are the retained members, newest first
		keys []types.OffsetNumber
		// columns changed since the newest key, carried by the next one
		intermediate = heapfile.NewAttrSet()
		// columns changed anywhere between the tail and the current member
		modifiedAttrs = heapfile.NewAttrSet()
	)
	isNormal := func(off types.OffsetNumber) bool {
		return heapfile.GetItemID(pg, off).State() == heapfile.LPNormal
	}

	switch {
	case chainDead:
		if isNormal(lastOff) {
			ndeleted++
		}
		var err error
		if n == 1 || hasPartial {
			err = ps.recordDead(lastOff)
		} else {
			err = ps.recordUnused(lastOff)
		}
		if err != nil {
			return 0, err
		}
	case hasPartial && n > 1:
		keys = append(keys, lastOff)
		ps.interestingColumns(pg, chain)
		mod, err := ps.modifiedColumns(pg, chain[n-2], lastOff, true)
		if err != nil {
			return 0, err
		}
		intermediate = mod
		modifiedAttrs = mod.Clone()
	}

	for i := n - 2; i >= 1; i-- {
		off := chain[i]
		if isNormal(off) {
			ndeleted++
		}

		if chainDead || (!hasPartial && !partial[i]) {
			var err error
			if partial[i] {
				err = ps.recordDead(off)
			} else {
				err = ps.recordUnused(off)
			}
			if err != nil {
				return 0, err
			}
			continue
		}

		interesting := ps.interestingColumns(pg, chain)
		mod, err := ps.modifiedColumns(pg, chain[i-1], off, partial[i])
		if err != nil {
			return 0, err
		}

		switch {
		case mod.IsEmpty():
			err = ps.recordUnused(off)
		case partial[i] && !hasPartial:
			// first member with index obligations: it becomes the newest key
			err = ps.recordRedirect(off, lastOff)
			keys = append(keys, off)
			intermediate = mod
			modifiedAttrs = mod.Clone()
			hasPartial = true
		case !partial[i]:
			err = ps.recordUnused(off)
		case mod.SubsetOf(modifiedAttrs):
			err = ps.recordDead(off)
			intermediate = intermediate.Union(mod)
		default:
			err = ps.recordRedirectWithData(off, keys[len(keys)-1], intermediate)
			keys = append(keys, off)
			intermediate = mod
			modifiedAttrs = modifiedAttrs.Union(mod)
			// once every column has changed no older version can match
			// an index lookup the newer keys do not already answer
			chainDead = modifiedAttrs.Equal(interesting)
		}
		if err != nil {
			return 0, err
		}
	}

	if n > 1 {
		if isNormal(root) {
			ndeleted++
		}
		var err error
		switch {
		case chainDead:
			err = ps.recordDead(root)
		case len(keys) > 0:
			err = ps.recordRedirectWithData(root, keys[len(keys)-1], intermediate)
		default:
			err = ps.recordRedirect(root, lastOff)
		}
		if err != nil {
			return 0, err
		}
	}
	return ndeleted, nil
}
