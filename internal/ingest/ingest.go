package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"dmarcmon/internal/dmarc"

	"github.com/hashicorp/go-multierror"
)

// Storage is the subset of the storage engine the driver needs.
type Storage interface {
	ReportExists(filename string) (bool, error)
	SaveReport(report *dmarc.Report) error
}

// FileError records why a single file could not be ingested.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Result holds the counts of one batch run. Counts are reported even
// when some files failed.
type Result struct {
	FilesExamined   int
	ReportsIngested int
	Failures        []FileError
}

// Err aggregates the per-file failures, nil when every file went
// through.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

// Driver walks a directory tree of report archives and feeds new
// reports into storage. Files whose name was ingested before are
// skipped without re-extraction, so running the driver twice over an
// unchanged directory inserts nothing the second time.
type Driver struct {
	store  Storage
	parser *dmarc.Parser
	logger *slog.Logger
}

func New(store Storage, parser *dmarc.Parser, logger *slog.Logger) *Driver {
	return &Driver{
		store:  store,
		parser: parser,
		logger: logger,
	}
}

// IngestDirectory recursively processes every file under dir. A broken
// archive, malformed report or rejected insert fails that file only and
// is recorded in the result; the walk continues. Files with extensions
// other than .zip and .gz are silently ignored.
func (d *Driver) IngestDirectory(dir string) (*Result, error) {
	result := &Result{}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		result.FilesExamined++

		name := entry.Name()
		exists, err := d.store.ReportExists(name)
		if err != nil {
			return fmt.Errorf("could not check for %s: %w", name, err)
		}
		if exists {
			d.logger.Debug("already ingested", "file", name)
			return nil
		}

		switch filepath.Ext(name) {
		case ".zip", ".gz":
		default:
			return nil
		}

		ingested, err := d.ingestFile(path)
		if err != nil {
			d.logger.Error("could not ingest file", "file", path, "err", err)
			result.Failures = append(result.Failures, FileError{Path: path, Err: err})
			return nil
		}
		if ingested {
			result.ReportsIngested++
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("could not walk %s: %w", dir, err)
	}

	d.logger.Info("batch run finished",
		"files", result.FilesExamined,
		"new_reports", result.ReportsIngested,
		"failures", len(result.Failures))

	return result, nil
}

func (d *Driver) ingestFile(path string) (bool, error) {
	xmlContent, reportFilename, found, err := dmarc.ExtractFile(path)
	if err != nil {
		return false, fmt.Errorf("could not extract: %w", err)
	}
	if !found {
		d.logger.Debug("no report found in archive", "file", path)
		return false, nil
	}

	report, err := d.parser.Parse(reportFilename, xmlContent)
	if err != nil {
		return false, fmt.Errorf("could not parse: %w", err)
	}

	if err := d.store.SaveReport(report); err != nil {
		return false, fmt.Errorf("could not save: %w", err)
	}

	return true, nil
}
