package diskmanager

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ############################################# ERRORS ####################################################

var (
	ErrFileNotFound     = errors.New("file not open")
	ErrFileClosed       = errors.New("file is closed")
	ErrPageNotFound     = errors.New("page not found in global page map")
	ErrChecksumMismatch = errors.New("page checksum mismatch")
)

// ############################################# FILE DESCRIPTOR ###########################################

type PageKey struct {
	FileID   uint32
	LocalNum int64
}

// FileDescriptor represents an open file managed by the disk manager
type FileDescriptor struct {
	FileID     uint32
	FilePath   string
	File       *os.File
	NextPageID int64 // Next available page number within this file
	mu         sync.RWMutex
}

// ############################################# DISK MANAGER #############################################

// DiskManager manages all disk I/O operations and file handles
type DiskManager struct {
	files         map[uint32]*FileDescriptor // fileID -> file descriptor
	globalPageMap map[int64]uint32           // globalPageID -> fileID mapping
	localToGlobal map[PageKey]int64          // (fileID, localNum) -> globalPageID
	mu            sync.RWMutex
}
