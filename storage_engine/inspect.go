package storageengine

import (
	"fmt"
	"io"
	"strings"

	heapfile "PruneDB/storage_engine/access/heapfile_manager"
	"PruneDB/storage_engine/access/pruneheap"
	"PruneDB/storage_engine/page"
	"PruneDB/types"
)

// InspectPage writes a human readable dump of one heap page to w: the page
// header, every line pointer with its tuple header or redirect bitmap, and
// the chain root each slot resolves to.
func (se *StorageEngine) InspectPage(w io.Writer, relName string, pageNo uint32) error {
	rel, hf, err := se.heapFile(relName)
	if err != nil {
		return err
	}
	buf, err := hf.ReadBuffer(pageNo)
	if err != nil {
		return err
	}
	defer buf.Release()
	buf.LockShared()
	pg := buf.Page()

	p := func(format string, args ...interface{}) { fmt.Fprintf(w, format, args...) }

	p("Relation %s (id=%d file=%d) page %d\n", rel.Name, rel.ID, hf.FileID(), pageNo)
	if !heapfile.IsInitialized(pg) {
		p("  (uninitialized)\n")
		return nil
	}
	p("  lsn=%d prune_xid=%d slots=%d free=%d flags=%s\n",
		pg.LSN(), heapfile.GetPruneXID(pg), heapfile.MaxOffsetNumber(pg), heapfile.FreeSpace(pg), pageFlags(pg))

	roots, err := pruneheap.GetRootTuples(pg)
	if err != nil {
		p("  root mapping unavailable: %v\n", err)
	}

	p("  ---\n")
	for off := types.FirstOffsetNumber; off <= heapfile.MaxOffsetNumber(pg); off = off.Next() {
		id := heapfile.GetItemID(pg, off)
		p("  [%3d] %-28s", off, id)

		switch id.(type) {
		case heapfile.Normal:
			hdr, err := heapfile.TupleHeaderAt(pg, off)
			if err != nil {
				p(" bad tuple: %v\n", err)
				continue
			}
			p(" xmin=%d xmax=%d ctid=(%d,%d) %s", hdr.Xmin, hdr.Xmax, hdr.CtidPage, hdr.CtidSlot, infomask(hdr.Infomask))
		case heapfile.RedirectWithData:
			attrs, err := heapfile.RedirectAttrsAt(pg, off)
			if err != nil {
				p(" bad redirect data: %v\n", err)
				continue
			}
			p(" modified=%s", attrs)
		}
		if int(off) < len(roots) && roots[off].IsValid() {
			p(" root=%d", roots[off])
		}
		p("\n")
	}
	return nil
}

func pageFlags(pg *page.Page) string {
	var parts []string
	if heapfile.IsPageFull(pg) {
		parts = append(parts, "FULL")
	}
	if heapfile.HasFreeLines(pg) {
		parts = append(parts, "HAS_FREE_LINES")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

func infomask(mask uint16) string {
	var parts []string
	for _, f := range []struct {
		bit  uint16
		name string
	}{
		{heapfile.HeapOnly, "HEAP_ONLY"},
		{heapfile.PartialHeapOnly, "PARTIAL_HEAP_ONLY"},
		{heapfile.HotUpdated, "HOT_UPDATED"},
		{heapfile.PartialHotUpdated, "PARTIAL_HOT_UPDATED"},
	} {
		if mask&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}
