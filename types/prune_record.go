package types

// RedirectPair is one plain redirect: From becomes a redirect to To.
type RedirectPair struct {
	From OffsetNumber `json:"from"`
	To   OffsetNumber `json:"to"`
}

// RedirectWithData is a redirect that also stores an auxiliary record
// (header + modified-column bitmap) in the page storage of From.
type RedirectWithData struct {
	From OffsetNumber `json:"from"`
	To   OffsetNumber `json:"to"`
	Data []byte       `json:"data"`
}

// PruneRecord is everything needed to redo one prune of one heap page.
// Applying the same record to the same page image must always produce
// the same bytes, live or during recovery.
type PruneRecord struct {
	RelID  uint32 `json:"rel_id"`
	FileID uint32 `json:"file_id"`
	PageNo uint32 `json:"page_no"`

	Redirected     []RedirectPair     `json:"redirected,omitempty"`
	RedirectedData []RedirectWithData `json:"redirected_data,omitempty"`
	NowDead        []OffsetNumber     `json:"now_dead,omitempty"`
	NowUnused      []OffsetNumber     `json:"now_unused,omitempty"`

	// LatestRemovedXID is the newest xid whose effects were removed;
	// recovery conflicts against snapshots that could still see it.
	LatestRemovedXID TransactionID `json:"latest_removed_xid,omitempty"`
	NewPruneXID      TransactionID `json:"new_prune_xid,omitempty"`
}

func (r *PruneRecord) IsEmpty() bool {
	return len(r.Redirected) == 0 && len(r.RedirectedData) == 0 &&
		len(r.NowDead) == 0 && len(r.NowUnused) == 0
}
