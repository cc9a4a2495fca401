package types

// TransactionID identifies a transaction. IDs are handed out monotonically
// by the transaction manager and never wrap, so plain integer comparison
// gives the logical order.
type TransactionID uint64

const (
	InvalidTransactionID   TransactionID = 0
	BootstrapTransactionID TransactionID = 1
	FirstNormalTransaction TransactionID = 2
)

func (x TransactionID) IsValid() bool {
	return x != InvalidTransactionID
}

func (x TransactionID) IsNormal() bool {
	return x >= FirstNormalTransaction
}

// Precedes reports whether x is logically older than y.
func (x TransactionID) Precedes(y TransactionID) bool {
	return x < y
}

// Follows reports whether x is logically newer than y.
func (x TransactionID) Follows(y TransactionID) bool {
	return x > y
}

// XidStatus is the commit log state of a transaction.
type XidStatus uint8

const (
	XidInProgress XidStatus = iota
	XidCommitted
	XidAborted
)

func (s XidStatus) String() string {
	switch s {
	case XidInProgress:
		return "in-progress"
	case XidCommitted:
		return "committed"
	case XidAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
