package types

import "encoding/json"

type OperationType byte

const (
	// Heap operations
	OpInsert OperationType = 1
	OpUpdate OperationType = 2
	OpDelete OperationType = 3

	// Relation DDL
	OpCreateRelation OperationType = 4

	// Transaction operations
	OpTxnBegin  OperationType = 5
	OpTxnCommit OperationType = 6
	OpTxnAbort  OperationType = 7

	// Page maintenance: prune/defragment, also used to release dead slots
	OpPrune OperationType = 8
)

func (t OperationType) String() string {
	switch t {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpCreateRelation:
		return "CREATE_RELATION"
	case OpTxnBegin:
		return "BEGIN"
	case OpTxnCommit:
		return "COMMIT"
	case OpTxnAbort:
		return "ABORT"
	case OpPrune:
		return "PRUNE"
	default:
		return "UNKNOWN"
	}
}

// Operation is the logical payload of one WAL record.
type Operation struct {
	Type  OperationType `json:"type"`
	LSN   uint64        `json:"lsn,omitempty"` // filled in on replay
	TxnID TransactionID `json:"txn_id,omitempty"`

	// Heap DML. Target is the slot written by the operation, Source the
	// previous version for UPDATE/DELETE.
	RelID  uint32      `json:"rel_id,omitempty"`
	Target *RowPointer `json:"target,omitempty"`
	Source *RowPointer `json:"source,omitempty"`
	Tuple  []byte      `json:"tuple,omitempty"`
	// UpdateFlags carries the infomask bits set on Source by an UPDATE
	// (HOT / PHOT updated) so redo can restore the chain link.
	UpdateFlags uint16 `json:"update_flags,omitempty"`
	PageFull    bool   `json:"page_full,omitempty"`

	// Relation DDL
	Relation *RelationDef `json:"relation,omitempty"`

	// Page maintenance
	Prune *PruneRecord `json:"prune,omitempty"`
}

func (op *Operation) Encode() []byte {
	data, _ := json.Marshal(op)
	return data
}

func DecodeOperation(data []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// RelationDef is the durable description of a relation.
type RelationDef struct {
	ID             uint32   `json:"id"`
	Name           string   `json:"name"`
	FileID         uint32   `json:"file_id"`
	NumAttributes  int      `json:"num_attributes"`
	IndexedColumns []int    `json:"indexed_columns,omitempty"` // attribute numbers, 1-based
	FillFactor     int      `json:"fill_factor"`
	IsCatalog      bool     `json:"is_catalog,omitempty"`
	Columns        []string `json:"columns,omitempty"`
}
