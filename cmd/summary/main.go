package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"dmarcmon/internal/config"
	"dmarcmon/internal/storage"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// summary is the JSON shape handed to reporting and plotting consumers.
type summary struct {
	Reports               int            `json:"reports"`
	WindowStart           *time.Time     `json:"window_start,omitempty"`
	WindowEnd             *time.Time     `json:"window_end,omitempty"`
	MessagesBySource      map[string]int `json:"messages_by_source"`
	MessagesByReceiver    map[string]int `json:"messages_by_receiver"`
	MessagesByDKIMDomain  map[string]int `json:"messages_by_dkim_domain"`
	MessagesByDisposition map[string]int `json:"messages_by_disposition"`
	MessagesByStatus      map[string]int `json:"messages_by_status"`
}

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
	configFile := flag.String("config", "", "Config File to use")
	flag.Parse()

	logger := newLogger(*debug)

	if *configFile == "" {
		logger.Error("please supply a config file")
		os.Exit(1)
	}

	settings, err := config.GetConfig(config.Configuration{}, *configFile)
	if err != nil {
		logger.Error("could not read config", "file", *configFile, "err", err)
		os.Exit(1)
	}

	if err := run(settings, logger); err != nil {
		logger.Error("summary failed", "err", err)
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

func run(settings *config.Configuration, logger *slog.Logger) error {
	store, err := storage.New(settings.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	s := summary{}

	if s.Reports, err = store.ReportCount(); err != nil {
		return err
	}

	start, end, err := store.ReportingDateRange()
	switch {
	case errors.Is(err, storage.ErrNoReports):
		logger.Info("no reports stored yet")
	case err != nil:
		return err
	default:
		s.WindowStart = &start
		s.WindowEnd = &end
	}

	if s.MessagesBySource, err = store.MessageCountBySource(); err != nil {
		return err
	}
	if s.MessagesByReceiver, err = store.MessageCountByReceiver(); err != nil {
		return err
	}
	if s.MessagesByDKIMDomain, err = store.MessageCountByDKIMDomain(); err != nil {
		return err
	}
	if s.MessagesByDisposition, err = store.MessageCountByDisposition(); err != nil {
		return err
	}
	if s.MessagesByStatus, err = store.MessageCountByStatus(); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
