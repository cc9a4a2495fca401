package pruneheap

import "github.com/pkg/errors"

// All of these mean a broken invariant. The pass that hits one is abandoned
// and the page is left as it was.
var (
	ErrUnexpectedVisibility = errors.New("unexpected visibility result")
	ErrSlotAlreadyFinalized = errors.New("slot already finalized in this pass")
	ErrWorkspaceFull        = errors.New("prune workspace capacity exceeded")
	ErrCorruptRedirectData  = errors.New("corrupt redirect data")
	ErrBadPruneRecord       = errors.New("prune record does not match page")
)
