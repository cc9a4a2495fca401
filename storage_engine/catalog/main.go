package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"PruneDB/logger"
	"PruneDB/types"

	"github.com/pkg/errors"
)

/*
Catalog manager keeps relation descriptors: attribute count, which columns
are indexed (this decides HOT vs partial-HOT updates), fill factor and
whether the relation is a catalog relation (never subject to the old
snapshot threshold). Each descriptor is one JSON file under
<dbRoot>/relations, the id counter lives in <dbRoot>/metadata.

A relation's heap file id is its relation id.
*/

var log = logger.Component("catalog")

const (
	relationsDir = "relations"
	metadataDir  = "metadata"
	metaFile     = "catalog_meta.json"
)

func NewCatalogManager(dbRoot string) (*CatalogManager, error) {
	cm := &CatalogManager{
		dbRoot:    dbRoot,
		byName:    make(map[string]*types.RelationDef),
		byID:      make(map[uint32]*types.RelationDef),
		nextRelID: 1,
	}
	if err := cm.load(); err != nil {
		return nil, err
	}
	return cm, nil
}

// Validate checks a definition and fills defaults.
func Validate(def *types.RelationDef) error {
	if def.Name == "" {
		return errors.Wrap(ErrInvalidRelation, "empty name")
	}
	if def.NumAttributes < 1 || def.NumAttributes > types.MaxHeapAttributes {
		return errors.Wrapf(ErrInvalidRelation, "%s: %d attributes, must be 1..%d",
			def.Name, def.NumAttributes, types.MaxHeapAttributes)
	}
	for _, col := range def.IndexedColumns {
		if col < 1 || col > def.NumAttributes {
			return errors.Wrapf(ErrInvalidRelation, "%s: indexed column %d out of range", def.Name, col)
		}
	}
	if def.FillFactor == 0 {
		def.FillFactor = 100
	}
	if def.FillFactor < 10 || def.FillFactor > 100 {
		return errors.Wrapf(ErrInvalidRelation, "%s: fill factor %d", def.Name, def.FillFactor)
	}
	if len(def.Columns) != 0 && len(def.Columns) != def.NumAttributes {
		return errors.Wrapf(ErrInvalidRelation, "%s: %d column names for %d attributes",
			def.Name, len(def.Columns), def.NumAttributes)
	}
	return nil
}

// RegisterRelation assigns an id to def and persists it.
func (cm *CatalogManager) RegisterRelation(def types.RelationDef) (*types.RelationDef, error) {
	if err := Validate(&def); err != nil {
		return nil, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.byName[def.Name]; exists {
		return nil, errors.Wrapf(ErrRelationExists, "%s", def.Name)
	}

	def.ID = cm.nextRelID
	def.FileID = def.ID
	cm.nextRelID++

	if err := cm.persistRelation(&def); err != nil {
		return nil, err
	}
	if err := cm.persistMeta(); err != nil {
		return nil, err
	}
	cm.addLocked(&def)

	log.Infof("registered relation %s id=%d natts=%d indexed=%v", def.Name, def.ID, def.NumAttributes, def.IndexedColumns)
	return &def, nil
}

// RestoreRelation re-registers a relation seen in the WAL during recovery.
// Known relations are left alone.
func (cm *CatalogManager) RestoreRelation(def types.RelationDef) (*types.RelationDef, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.byID[def.ID]; ok {
		return existing, nil
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	if err := cm.persistRelation(&def); err != nil {
		return nil, err
	}
	if def.ID >= cm.nextRelID {
		cm.nextRelID = def.ID + 1
		if err := cm.persistMeta(); err != nil {
			return nil, err
		}
	}
	cm.addLocked(&def)
	return &def, nil
}

func (cm *CatalogManager) addLocked(def *types.RelationDef) {
	cm.byName[def.Name] = def
	cm.byID[def.ID] = def
}

func (cm *CatalogManager) GetRelation(name string) (*types.RelationDef, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	def, ok := cm.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrRelationNotFound, "%s", name)
	}
	return def, nil
}

func (cm *CatalogManager) GetRelationByID(id uint32) (*types.RelationDef, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	def, ok := cm.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrRelationNotFound, "id %d", id)
	}
	return def, nil
}

// Relations lists all relations ordered by id.
func (cm *CatalogManager) Relations() []*types.RelationDef {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make([]*types.RelationDef, 0, len(cm.byID))
	for _, def := range cm.byID {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (cm *CatalogManager) persistRelation(def *types.RelationDef) error {
	dir := filepath.Join(cm.dbRoot, relationsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal relation %s", def.Name)
	}
	return errors.Wrapf(os.WriteFile(filepath.Join(dir, def.Name+".json"), data, 0644),
		"failed to write relation %s", def.Name)
}

func (cm *CatalogManager) persistMeta() error {
	dir := filepath.Join(cm.dbRoot, metadataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}
	data, err := json.MarshalIndent(catalogMeta{NextRelID: cm.nextRelID}, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, metaFile), data, 0644), "failed to write catalog metadata")
}

// load reads every persisted relation.
func (cm *CatalogManager) load() error {
	entries, err := os.ReadDir(filepath.Join(cm.dbRoot, relationsDir))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to read relations directory")
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(cm.dbRoot, relationsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", path)
		}
		var def types.RelationDef
		if err := json.Unmarshal(data, &def); err != nil {
			return errors.Wrapf(err, "invalid relation file %s", path)
		}
		cm.addLocked(&def)
		if def.ID >= cm.nextRelID {
			cm.nextRelID = def.ID + 1
		}
	}

	data, err := os.ReadFile(filepath.Join(cm.dbRoot, metadataDir, metaFile))
	if err == nil {
		var meta catalogMeta
		if json.Unmarshal(data, &meta) == nil && meta.NextRelID > cm.nextRelID {
			cm.nextRelID = meta.NextRelID
		}
	}
	return nil
}
