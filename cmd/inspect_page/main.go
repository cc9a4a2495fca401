// Inspect heap pages of a relation: line pointers, tuple headers, redirect
// bitmaps and the chain root of every slot.
// Usage: go run ./cmd/inspect_page --data-dir <dir> --rel <relation> [--page N]
// Example: go run ./cmd/inspect_page --data-dir databases/demo --rel accounts
package main

import (
	"fmt"
	"os"

	"PruneDB/config"
	"PruneDB/logger"
	storageengine "PruneDB/storage_engine"

	flags "github.com/jessevdk/go-flags"
)

func main() {
	var opts struct {
		DataDir string `long:"data-dir" default:"databases/demo" description:"database directory"`
		Rel     string `long:"rel" required:"true" description:"relation name"`
		Page    int64  `long:"page" default:"-1" description:"page number, -1 for every page"`
	}
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	logger.Init(logger.LogConfig{LogLevel: "error"})

	cfg := config.NewCfg()
	cfg.DataDir = opts.DataDir
	se, err := storageengine.NewStorageEngine(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer se.Close()

	pages := []uint32{uint32(opts.Page)}
	if opts.Page < 0 {
		n, err := se.NumPages(opts.Rel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		pages = pages[:0]
		for p := int64(0); p < n; p++ {
			pages = append(pages, uint32(p))
		}
	}
	for _, p := range pages {
		if err := se.InspectPage(os.Stdout, opts.Rel, p); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
	}
}
