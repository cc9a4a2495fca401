package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"

	"PruneDB/config"
	"PruneDB/logger"
	storageengine "PruneDB/storage_engine"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type options struct {
	Config      string `long:"config" description:"ini config file"`
	DataDir     string `long:"data-dir" description:"database directory, overrides the config file"`
	MetricsAddr string `long:"metrics-addr" description:"serve prometheus metrics on this address, e.g. :9187"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if err := logger.Init(logger.LogConfig{LogLevel: cfg.LogLevel, LogPath: cfg.LogPath}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	se, err := storageengine.NewStorageEngine(cfg, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer se.Close()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(opts.MetricsAddr, mux); err != nil {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	sess := newSession(se, os.Stdout)
	defer sess.rollback()

	scanner := bufio.NewScanner(os.Stdin)
	// REPL
	for {
		fmt.Print(sess.prompt())

		if !scanner.Scan() { // Ctrl+D pressed
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") {
			break
		}
		if line == "" {
			continue
		}

		if err := sess.execute(line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}
