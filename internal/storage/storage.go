package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	"dmarcmon/internal/dmarc"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the relational backend for parsed reports. Reports own
// records, records own spf results and dkim signatures; all dependents
// are keyed by (report_id, record_id[, signature_id]) and cascade on
// delete.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) (*Store, error) {
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	// the pipeline is a single threaded batch, a second connection
	// would only risk SQLITE_BUSY on overlapping transactions
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, logger: logger}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("could not initialise schema: %w", err)
	}

	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dmarc_reports (
		report_id TEXT PRIMARY KEY,
		receiver TEXT,
		report_filename TEXT,
		report_start INTEGER,
		report_end INTEGER
	);

	CREATE TABLE IF NOT EXISTS dmarc_records (
		report_id TEXT REFERENCES dmarc_reports(report_id) ON DELETE CASCADE,
		record_id INTEGER,
		ip_address TEXT NOT NULL,
		hostname TEXT,
		disposition TEXT NOT NULL,
		reason TEXT,
		spf_pass INTEGER,
		dkim_pass INTEGER NOT NULL,
		header_from TEXT,
		envelope_from TEXT,
		count INTEGER NOT NULL,
		PRIMARY KEY (report_id, record_id)
	);

	CREATE TABLE IF NOT EXISTS spf_results (
		report_id TEXT,
		record_id INTEGER,
		domain TEXT,
		result TEXT,
		PRIMARY KEY (report_id, record_id),
		FOREIGN KEY (report_id, record_id)
			REFERENCES dmarc_records(report_id, record_id)
			ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS dkim_signatures (
		report_id TEXT,
		record_id INTEGER,
		signature_id INTEGER,
		domain TEXT,
		result TEXT,
		selector TEXT,
		PRIMARY KEY (report_id, record_id, signature_id),
		FOREIGN KEY (report_id, record_id)
			REFERENCES dmarc_records(report_id, record_id)
			ON DELETE CASCADE,
		CONSTRAINT unique_dkim_sig
			UNIQUE (report_id, record_id, domain, result, selector)
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Reset drops all four tables and recreates them empty. Dependents go
// first so the foreign keys never dangle.
func (s *Store) Reset() error {
	drops := `
	DROP TABLE IF EXISTS dkim_signatures;
	DROP TABLE IF EXISTS spf_results;
	DROP TABLE IF EXISTS dmarc_records;
	DROP TABLE IF EXISTS dmarc_reports;
	`
	if _, err := s.conn.Exec(drops); err != nil {
		return fmt.Errorf("could not drop tables: %w", err)
	}
	return s.init()
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// ReportExists checks whether a report from the archive named filename
// was ingested before. The filename is the sole dedup key, content is
// never compared.
func (s *Store) ReportExists(filename string) (bool, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM dmarc_reports WHERE report_filename = ?", filename).Scan(&count)
	return count > 0, err
}

// SaveReport persists a report with all of its records, spf results and
// dkim signatures in a single transaction. Record ids are assigned in
// document order starting at zero, signature ids per record the same
// way. Any failure, including a constraint violation on a duplicate
// report id or signature tuple, rolls the whole report back.
func (s *Store) SaveReport(report *dmarc.Report) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint: errcheck

	_, err = tx.Exec(
		"INSERT INTO dmarc_reports (report_id, receiver, report_filename, report_start, report_end) VALUES (?, ?, ?, ?, ?)",
		report.ID, report.Receiver, report.Filename,
		report.StartDate.Unix(), report.EndDate.Unix(),
	)
	if err != nil {
		return fmt.Errorf("could not insert report %s: %w", report.ID, err)
	}

	for recID, rec := range report.Records {
		_, err = tx.Exec(
			`INSERT INTO dmarc_records (report_id, record_id, ip_address, hostname, disposition, reason, spf_pass, dkim_pass, header_from, envelope_from, count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.ID, recID, rec.IPAddress, nullString(rec.Hostname),
			rec.Disposition, nullString(rec.Reason), nullBool(rec.SPFPass),
			rec.DKIMPass, nullString(rec.HeaderFrom), nullString(rec.EnvelopeFrom),
			rec.Count,
		)
		if err != nil {
			return fmt.Errorf("could not insert record %d of report %s: %w", recID, report.ID, err)
		}

		if rec.SPFResult != nil {
			_, err = tx.Exec(
				"INSERT INTO spf_results (report_id, record_id, domain, result) VALUES (?, ?, ?, ?)",
				report.ID, recID, rec.SPFResult.Domain, rec.SPFResult.Result,
			)
			if err != nil {
				return fmt.Errorf("could not insert spf result of record %d: %w", recID, err)
			}
		}

		for sigID, sig := range rec.DKIMSignatures {
			_, err = tx.Exec(
				"INSERT INTO dkim_signatures (report_id, record_id, signature_id, domain, result, selector) VALUES (?, ?, ?, ?, ?, ?)",
				report.ID, recID, sigID, sig.Domain, sig.Result, nullString(sig.Selector),
			)
			if err != nil {
				return fmt.Errorf("could not insert dkim signature %d of record %d: %w", sigID, recID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit report %s: %w", report.ID, err)
	}

	s.logger.Debug("saved report", "id", report.ID, "records", len(report.Records))
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
