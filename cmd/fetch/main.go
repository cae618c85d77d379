package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"dmarcmon/internal/config"
	"dmarcmon/internal/imap"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"

	// needed to handle other charsets too
	_ "github.com/emersion/go-message/charset"
)

func main() {
	debug := flag.Bool("debug", false, "Print debug output")
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
		ImapConfig: config.IMAPConfig{
			SSL:        true,
			UnreadOnly: true,
			Timeout: config.Duration{
				Duration: 30 * time.Second,
			},
		},
	}

	settings, err := config.GetConfig(defaults, *configFile)
	if err != nil {
		logger.Error("could not read config", "file", *configFile, "err", err)
		os.Exit(1)
	}

	if settings.ImapConfig.Host == "" {
		logger.Error("no imap host configured")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	downloader := imap.NewDownloader(settings.ImapConfig, logger)
	if _, err := downloader.Download(ctx, settings.ReportDir); err != nil {
		logger.Error("mailbox sweep failed", "err", err)
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
