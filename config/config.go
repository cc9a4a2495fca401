package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

/*
Engine configuration.

Defaults come from NewCfg; an ini file passed to Load overrides them:

	[storage]
	data_dir           = data
	buffer_pool_pages  = 256
	victim_cache_bytes = 4194304
	fill_factor        = 100

	[wal]
	dir          = wal
	segment_size = 16777216
	compress     = true

	[prune]
	old_snapshot_threshold = -1     ; duration ("5m"), -1 disables
	recovery_prune         = false

	[log]
	level = info
	path  =
*/

// DisabledThreshold turns the old-snapshot threshold off.
const DisabledThreshold time.Duration = -1

type Cfg struct {
	Raw *ini.File

	// storage
	DataDir          string
	BufferPoolPages  int
	VictimCacheBytes int64
	FillFactor       int

	// wal
	WALDir         string
	WALSegmentSize int64
	WALCompress    bool

	// prune
	OldSnapshotThreshold time.Duration
	RecoveryPrune        bool

	// log
	LogLevel string
	LogPath  string
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:                  ini.Empty(),
		DataDir:              "data",
		BufferPoolPages:      256,
		VictimCacheBytes:     4 << 20,
		FillFactor:           100,
		WALDir:               "wal",
		WALSegmentSize:       16 * 1024 * 1024,
		WALCompress:          true,
		OldSnapshotThreshold: DisabledThreshold,
		LogLevel:             "info",
	}
}

// Load reads an ini file on top of the defaults.
func Load(path string) (*Cfg, error) {
	cfg := NewCfg()
	if path == "" {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config %s", path)
	}
	cfg.Raw = iniFile

	cfg.parseStorageCfg(iniFile.Section("storage"))
	cfg.parseWALCfg(iniFile.Section("wal"))
	if err := cfg.parsePruneCfg(iniFile.Section("prune")); err != nil {
		return nil, err
	}
	cfg.parseLogCfg(iniFile.Section("log"))

	return cfg, cfg.Validate()
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) {
	cfg.DataDir = section.Key("data_dir").MustString(cfg.DataDir)
	cfg.BufferPoolPages = section.Key("buffer_pool_pages").MustInt(cfg.BufferPoolPages)
	cfg.VictimCacheBytes = section.Key("victim_cache_bytes").MustInt64(cfg.VictimCacheBytes)
	cfg.FillFactor = section.Key("fill_factor").MustInt(cfg.FillFactor)
}

func (cfg *Cfg) parseWALCfg(section *ini.Section) {
	cfg.WALDir = section.Key("dir").MustString(cfg.WALDir)
	cfg.WALSegmentSize = section.Key("segment_size").MustInt64(cfg.WALSegmentSize)
	cfg.WALCompress = section.Key("compress").MustBool(cfg.WALCompress)
}

func (cfg *Cfg) parsePruneCfg(section *ini.Section) error {
	if section.HasKey("old_snapshot_threshold") {
		raw := section.Key("old_snapshot_threshold").String()
		if raw == "-1" {
			cfg.OldSnapshotThreshold = DisabledThreshold
		} else {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return errors.Wrapf(err, "invalid old_snapshot_threshold %q", raw)
			}
			cfg.OldSnapshotThreshold = d
		}
	}
	cfg.RecoveryPrune = section.Key("recovery_prune").MustBool(cfg.RecoveryPrune)
	return nil
}

func (cfg *Cfg) parseLogCfg(section *ini.Section) {
	cfg.LogLevel = section.Key("level").MustString(cfg.LogLevel)
	cfg.LogPath = section.Key("path").MustString(cfg.LogPath)
}

func (cfg *Cfg) Validate() error {
	if cfg.BufferPoolPages < 2 {
		return errors.Errorf("buffer_pool_pages must be at least 2, got %d", cfg.BufferPoolPages)
	}
	if cfg.FillFactor < 10 || cfg.FillFactor > 100 {
		return errors.Errorf("fill_factor must be between 10 and 100, got %d", cfg.FillFactor)
	}
	if cfg.WALSegmentSize <= 0 {
		return errors.Errorf("wal segment_size must be positive, got %d", cfg.WALSegmentSize)
	}
	return nil
}

// ThresholdActive reports whether the old-snapshot threshold is enabled.
func (cfg *Cfg) ThresholdActive() bool {
	return cfg.OldSnapshotThreshold >= 0
}

// WALPath resolves the WAL directory against the data directory.
func (cfg *Cfg) WALPath() string {
	if filepath.IsAbs(cfg.WALDir) {
		return cfg.WALDir
	}
	return filepath.Join(cfg.DataDir, cfg.WALDir)
}
