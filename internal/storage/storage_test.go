package storage

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"dmarcmon/internal/dmarc"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := New(filepath.Join(t.TempDir(), "dmarc.sqlite"), logger)
	if err != nil {
		t.Fatalf("could not open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func boolPtr(b bool) *bool {
	return &b
}

func testReport() *dmarc.Report {
	return &dmarc.Report{
		ID:        "8293631894213125362",
		Filename:  "google.com!example.com!1538092800!1538179199.zip",
		Receiver:  "google.com",
		StartDate: time.Unix(1538092800, 0).UTC(),
		EndDate:   time.Unix(1538179199, 0).UTC(),
		Records: []dmarc.Record{
			{
				IPAddress:   "203.0.113.7",
				Hostname:    "mail.example.com",
				Disposition: "none",
				SPFPass:     boolPtr(true),
				DKIMPass:    true,
				HeaderFrom:  "example.com",
				Count:       10,
				SPFResult:   &dmarc.SPFResult{Domain: "example.com", Result: "pass"},
				DKIMSignatures: []dmarc.DKIMSignature{
					{Domain: "example.com", Result: "pass", Selector: "sel1"},
				},
			},
			{
				IPAddress:   "203.0.113.8",
				Disposition: "none",
				SPFPass:     boolPtr(true),
				DKIMPass:    true,
				Count:       5,
				SPFResult:   &dmarc.SPFResult{Domain: "example.com", Result: "pass"},
				DKIMSignatures: []dmarc.DKIMSignature{
					{Domain: "example.com", Result: "pass", Selector: "sel2"},
					{Domain: "other.example.net", Result: "fail"},
				},
			},
			{
				IPAddress:   "203.0.113.9",
				Disposition: "quarantine",
				SPFPass:     boolPtr(false),
				DKIMPass:    true,
				Count:       3,
			},
		},
	}
}

func TestReportExists(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	report := testReport()

	exists, err := store.ReportExists(report.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("report should not exist yet")
	}

	if err := store.SaveReport(report); err != nil {
		t.Fatalf("could not save report: %v", err)
	}

	exists, err = store.ReportExists(report.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Fatal("report should exist after save")
	}

	// dedup is by filename, a different filename is a new report even
	// with identical content
	exists, err = store.ReportExists("renamed-" + report.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("renamed report must not count as ingested")
	}
}

func TestSaveReportDuplicateID(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	if err := store.SaveReport(testReport()); err != nil {
		t.Fatalf("could not save report: %v", err)
	}

	dup := testReport()
	dup.Filename = "different-filename.zip"
	if err := store.SaveReport(dup); err == nil {
		t.Fatal("expected constraint error on duplicate report id")
	}

	// the failed report must not have been committed
	exists, err := store.ReportExists(dup.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("failed report leaked into the store")
	}

	// the first report is unaffected
	count, err := store.ReportCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 report, got %d", count)
	}
}

func TestSaveReportAtomic(t *testing.T) {
	t.Parallel()

	store := testStore(t)

	// two identical signature tuples violate the dkim uniqueness
	// constraint mid transaction, after the report row and first
	// records were already inserted
	report := testReport()
	report.Records[1].DKIMSignatures = []dmarc.DKIMSignature{
		{Domain: "example.com", Result: "pass", Selector: "sel2"},
		{Domain: "example.com", Result: "pass", Selector: "sel2"},
	}

	if err := store.SaveReport(report); err == nil {
		t.Fatal("expected constraint error on duplicate signature tuple")
	}

	exists, err := store.ReportExists(report.Filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Fatal("partially inserted report must be rolled back completely")
	}

	count, err := store.ReportCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty store, got %d reports", count)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	if err := store.SaveReport(testReport()); err != nil {
		t.Fatalf("could not save report: %v", err)
	}

	if err := store.Reset(); err != nil {
		t.Fatalf("could not reset schema: %v", err)
	}

	count, err := store.ReportCount()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 reports after reset, got %d", count)
	}

	for name, query := range map[string]func() (map[string]int, error){
		"records":         store.MessageCountBySource,
		"dkim signatures": store.MessageCountByDKIMDomain,
		"receivers":       store.MessageCountByReceiver,
	} {
		counts, err := query()
		if err != nil {
			t.Fatalf("%s query failed after reset: %v", name, err)
		}
		if len(counts) != 0 {
			t.Errorf("orphaned %s left after reset: %v", name, counts)
		}
	}

	// the store stays usable after a reset
	if err := store.SaveReport(testReport()); err != nil {
		t.Fatalf("could not save report after reset: %v", err)
	}
}
