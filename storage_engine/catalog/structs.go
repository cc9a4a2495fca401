package catalog

import (
	"sync"

	"PruneDB/types"

	"github.com/pkg/errors"
)

var (
	ErrRelationExists   = errors.New("relation already exists")
	ErrRelationNotFound = errors.New("relation not found")
	ErrInvalidRelation  = errors.New("invalid relation definition")
)

type CatalogManager struct {
	dbRoot    string
	byName    map[string]*types.RelationDef
	byID      map[uint32]*types.RelationDef
	nextRelID uint32
	mu        sync.RWMutex
}

// counters persisted next to the relation files
type catalogMeta struct {
	NextRelID uint32 `json:"next_rel_id"`
}
