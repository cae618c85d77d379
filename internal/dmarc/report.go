package dmarc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// dkimDomainNotEvaluated is a sentinel domain some reporters emit for
// signatures they never checked. Such entries carry no signal.
const dkimDomainNotEvaluated = "not.evaluated"

// HostResolver maps a source IP address to a hostname. The second return
// value is false when no hostname is known for the address.
type HostResolver interface {
	LookupHost(ip string) (string, bool)
}

// Report is one aggregate DMARC report submission, normalized from the
// reporter's XML. ID is the reporter assigned report id, Filename the
// archive filename the report arrived in. The reporting window bounds
// are UTC instants.
type Report struct {
	ID        string
	Filename  string
	Receiver  string
	StartDate time.Time
	EndDate   time.Time
	Records   []Record
}

// Record is one sender/IP row within a report. Rows are pre-aggregated
// by the reporter, Count is the number of messages the row represents.
//
// SPFPass is nil when the published policy included no SPF evaluation.
// DKIMPass has no unknown state: a missing DKIM evaluation means the
// message carried no valid signature, so it is normalized to false.
type Record struct {
	IPAddress      string
	Hostname       string // empty if reverse lookup yielded nothing
	Disposition    string
	Reason         string // policy override reason types, empty if none
	SPFPass        *bool
	DKIMPass       bool
	HeaderFrom     string
	EnvelopeFrom   string
	Count          int
	SPFResult      *SPFResult
	DKIMSignatures []DKIMSignature
}

// SPFResult is the single auth_results spf entry of a record.
type SPFResult struct {
	Domain string
	Result string
}

// DKIMSignature is one surviving auth_results dkim entry of a record.
type DKIMSignature struct {
	Domain   string
	Result   string
	Selector string // empty if the reporter omitted it
}

// Parser turns raw report XML into Report objects. The resolver is used
// to annotate each record with the hostname behind its source IP and is
// shared across all parses of a batch run.
type Parser struct {
	resolver HostResolver
	logger   *slog.Logger
}

func NewParser(resolver HostResolver, logger *slog.Logger) *Parser {
	return &Parser{
		resolver: resolver,
		logger:   logger,
	}
}

// Parse parses one XML document into a Report. filename is the external
// identifier of the report (the archive filename) and becomes the dedup
// key in storage.
func (p *Parser) Parse(filename string, xmlContent []byte) (*Report, error) {
	// some xmls contain invalid XML by adding an unclosed xs tag
	xmlContent = bytes.ReplaceAll(xmlContent, []byte(xsTag), []byte(""))

	var doc xmlReport
	if err := xml.Unmarshal(xmlContent, &doc); err != nil {
		return nil, fmt.Errorf("error on xml unmarshal: %w", err)
	}

	if doc.ReportMetadata.ReportID == "" {
		return nil, errors.New("report has no report_id")
	}

	report := Report{
		ID:        doc.ReportMetadata.ReportID,
		Filename:  filename,
		Receiver:  doc.ReportMetadata.OrgName,
		StartDate: time.Unix(doc.ReportMetadata.DateRange.Begin, 0).UTC(),
		EndDate:   time.Unix(doc.ReportMetadata.DateRange.End, 0).UTC(),
	}

	for i, rec := range doc.Records {
		record, err := p.parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		report.Records = append(report.Records, *record)
	}

	return &report, nil
}

func (p *Parser) parseRecord(rec xmlRecord) (*Record, error) {
	if rec.Row.SourceIP == "" {
		return nil, errors.New("record has no source_ip")
	}
	if rec.Row.Count <= 0 {
		return nil, fmt.Errorf("record has invalid count %d", rec.Row.Count)
	}
	if rec.Row.PolicyEvaluated.Disposition == "" {
		return nil, errors.New("record has no disposition")
	}

	spfPass, err := evaluatedResult(rec.Row.PolicyEvaluated.Spf)
	if err != nil {
		return nil, fmt.Errorf("policy_evaluated spf: %w", err)
	}
	dkimEval, err := evaluatedResult(rec.Row.PolicyEvaluated.Dkim)
	if err != nil {
		return nil, fmt.Errorf("policy_evaluated dkim: %w", err)
	}
	// sanitise missing data: if DKIM wasn't included, it failed
	dkimPass := dkimEval != nil && *dkimEval

	hostname, ok := p.resolver.LookupHost(rec.Row.SourceIP)
	if !ok {
		p.logger.Debug("no hostname for source ip", "ip", rec.Row.SourceIP)
	}

	record := Record{
		IPAddress:    rec.Row.SourceIP,
		Hostname:     hostname,
		Disposition:  rec.Row.PolicyEvaluated.Disposition,
		Reason:       overrideReasons(rec.Row.PolicyEvaluated.Reason),
		SPFPass:      spfPass,
		DKIMPass:     dkimPass,
		HeaderFrom:   rec.Identifiers.HeaderFrom,
		EnvelopeFrom: rec.Identifiers.EnvelopeFrom,
		Count:        rec.Row.Count,
	}

	if spf := rec.AuthResults.Spf; spf != nil {
		record.SPFResult = &SPFResult{
			Domain: spf.Domain,
			Result: spf.Result,
		}
	}

	// keep only signatures that carry signal and collapse duplicate
	// (domain, result, selector) tuples within the record
	seen := make(map[DKIMSignature]struct{})
	for _, sig := range rec.AuthResults.Dkim {
		if sig.Result == "none" || sig.Result == "neutral" {
			continue
		}
		if sig.Domain == dkimDomainNotEvaluated {
			continue
		}
		entry := DKIMSignature{
			Domain:   sig.Domain,
			Result:   sig.Result,
			Selector: sig.Selector,
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		record.DKIMSignatures = append(record.DKIMSignatures, entry)
	}

	return &record, nil
}

// evaluatedResult maps an optional policy_evaluated result element to a
// tri-state. An empty string means the element was absent. Everything
// besides the literals pass and fail is malformed input.
func evaluatedResult(s string) (*bool, error) {
	switch s {
	case "":
		return nil, nil
	case "pass":
		b := true
		return &b, nil
	case "fail":
		b := false
		return &b, nil
	default:
		return nil, fmt.Errorf("unexpected result %q", s)
	}
}

func overrideReasons(reasons []xmlPolicyOverrideReason) string {
	var types []string
	for _, r := range reasons {
		if r.Type != "" {
			types = append(types, r.Type)
		}
	}
	return strings.Join(types, ",")
}
