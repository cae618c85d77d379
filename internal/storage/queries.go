package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoReports is returned by queries that cannot produce a result from
// an empty store.
var ErrNoReports = errors.New("no reports stored")

// StatusSample is one raw (reporting window start, pass, message count)
// tuple. Time series aggregation, for example bucketing by day, is left
// to the caller.
type StatusSample struct {
	Timestamp time.Time
	Pass      bool
	Count     int
}

// ReportCount returns the number of stored reports.
func (s *Store) ReportCount() (int, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM dmarc_reports").Scan(&count)
	return count, err
}

// ReportingDateRange returns the earliest window start and the latest
// window end over all stored reports.
func (s *Store) ReportingDateRange() (time.Time, time.Time, error) {
	var start, end sql.NullInt64
	err := s.conn.QueryRow("SELECT MIN(report_start), MAX(report_end) FROM dmarc_reports").Scan(&start, &end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !start.Valid || !end.Valid {
		return time.Time{}, time.Time{}, ErrNoReports
	}
	return time.Unix(start.Int64, 0).UTC(), time.Unix(end.Int64, 0).UTC(), nil
}

// MessageCountBySource sums message counts per sending host. Records
// without a resolved hostname are keyed by their IP address.
func (s *Store) MessageCountBySource() (map[string]int, error) {
	return s.countQuery("SELECT COALESCE(hostname, ip_address), SUM(count) FROM dmarc_records GROUP BY COALESCE(hostname, ip_address)")
}

// MessageCountByReceiver sums message counts per reporting organization.
func (s *Store) MessageCountByReceiver() (map[string]int, error) {
	return s.countQuery(`SELECT receiver, SUM(count) FROM dmarc_reports
		JOIN dmarc_records ON dmarc_reports.report_id = dmarc_records.report_id
		GROUP BY receiver`)
}

// MessageCountByDKIMDomain sums message counts per dkim signing domain.
func (s *Store) MessageCountByDKIMDomain() (map[string]int, error) {
	return s.countQuery(`SELECT domain, SUM(count) FROM dmarc_records
		JOIN dkim_signatures ON dmarc_records.report_id = dkim_signatures.report_id
			AND dmarc_records.record_id = dkim_signatures.record_id
		GROUP BY domain`)
}

// MessageCountByDisposition sums message counts per applied policy
// action.
func (s *Store) MessageCountByDisposition() (map[string]int, error) {
	return s.countQuery("SELECT disposition, SUM(count) FROM dmarc_records GROUP BY disposition")
}

// MessageCountByStatus sums message counts over the cross of SPF state
// (pass, fail or n/a when not evaluated) and DKIM state (pass or fail).
// Keys look like "SPF:pass, DKIM:fail".
func (s *Store) MessageCountByStatus() (map[string]int, error) {
	rows, err := s.conn.Query("SELECT spf_pass, dkim_pass, SUM(count) FROM dmarc_records GROUP BY spf_pass, dkim_pass")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var spf sql.NullBool
		var dkim bool
		var count int
		if err := rows.Scan(&spf, &dkim, &count); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("SPF:%s, DKIM:%s", triState(spf), passFail(dkim))
		counts[key] += count
	}
	return counts, rows.Err()
}

// SPFStatusByTimestamp returns the raw per-window SPF tuples. A record
// without an SPF evaluation counts as a failure here, matching the
// status the receiver acted on.
func (s *Store) SPFStatusByTimestamp() ([]StatusSample, error) {
	return s.statusQuery(`SELECT report_start, COALESCE(spf_pass, 0), count
		FROM dmarc_reports JOIN dmarc_records ON dmarc_reports.report_id = dmarc_records.report_id`)
}

// DKIMStatusByTimestamp returns the raw per-window DKIM tuples.
func (s *Store) DKIMStatusByTimestamp() ([]StatusSample, error) {
	return s.statusQuery(`SELECT report_start, dkim_pass, count
		FROM dmarc_reports JOIN dmarc_records ON dmarc_reports.report_id = dmarc_records.report_id`)
}

// DMARCStatusByTimestamp returns the raw per-window DMARC tuples. A
// message passes DMARC when SPF or DKIM passed; an unknown SPF state
// counts as a failure on the SPF side.
func (s *Store) DMARCStatusByTimestamp() ([]StatusSample, error) {
	return s.statusQuery(`SELECT report_start, COALESCE(spf_pass, 0) OR dkim_pass, count
		FROM dmarc_reports JOIN dmarc_records ON dmarc_reports.report_id = dmarc_records.report_id`)
}

func (s *Store) countQuery(query string) (map[string]int, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] += count
	}
	return counts, rows.Err()
}

func (s *Store) statusQuery(query string) ([]StatusSample, error) {
	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []StatusSample
	for rows.Next() {
		var ts int64
		var pass bool
		var count int
		if err := rows.Scan(&ts, &pass, &count); err != nil {
			return nil, err
		}
		samples = append(samples, StatusSample{
			Timestamp: time.Unix(ts, 0).UTC(),
			Pass:      pass,
			Count:     count,
		})
	}
	return samples, rows.Err()
}

func triState(b sql.NullBool) string {
	if !b.Valid {
		return "n/a"
	}
	return passFail(b.Bool)
}

func passFail(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}
