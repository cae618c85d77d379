package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"dmarcmon/internal/config"
	"dmarcmon/internal/dmarc"
	"dmarcmon/internal/dns"
	"dmarcmon/internal/ingest"
	"dmarcmon/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	reset := flag.Bool("reset", false, "Drop and recreate the schema before ingesting (full reprocess)")
	configFile := flag.String("config", "", "Config File to use")
	flag.Parse()

	logger := newLogger(*debug)

	if *configFile == "" {
		logger.Error("please supply a config file")
		os.Exit(1)
	}

	defaults := config.Configuration{
		ReportDir:     "./reports",
		DatabasePath:  "./results/dmarc.sqlite",
		RDNSCacheFile: "./results/rdns.json",
		DNSConnectTimeout: config.Duration{
			Duration: 1 * time.Second,
		},
		DNSTimeout: config.Duration{
			Duration: 10 * time.Second,
		},
	}

	settings, err := config.GetConfig(defaults, *configFile)
	if err != nil {
		logger.Error("could not read config", "file", *configFile, "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, settings, *reset, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if debug {
		handler.SetLevel(log.DebugLevel)
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		handler.SetFormatter(log.JSONFormatter)
	}
	return slog.New(handler)
}

func run(ctx context.Context, settings *config.Configuration, reset bool, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(settings.DatabasePath), 0o750); err != nil {
		return err
	}

	store, err := storage.New(settings.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if reset {
		logger.Info("resetting schema")
		if err := store.Reset(); err != nil {
			return err
		}
	}

	resolver := dns.NewCachedResolver(ctx, settings.DNSServer, settings.DNSConnectTimeout.Duration, settings.DNSTimeout.Duration, logger)
	resolver.Load(settings.RDNSCacheFile)

	parser := dmarc.NewParser(resolver, logger)
	driver := ingest.New(store, parser, logger)

	result, err := driver.IngestDirectory(settings.ReportDir)

	// the cache is worth keeping even after a failed run
	if saveErr := resolver.Save(settings.RDNSCacheFile); saveErr != nil {
		logger.Error("could not save rdns cache", "err", saveErr)
	}

	if err != nil {
		return err
	}

	if ferr := result.Err(); ferr != nil {
		logger.Warn("some files could not be ingested", "err", ferr)
	}

	return nil
}
