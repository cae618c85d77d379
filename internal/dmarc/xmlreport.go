package dmarc

// xmlReport represents the top element of a DMARC aggregate report
// https://tools.ietf.org/html/rfc7489#appendix-C
type xmlReport struct {
	Version        string `xml:"version"`
	ReportMetadata struct {
		OrgName          string `xml:"org_name"`
		Email            string `xml:"email"`
		ExtraContactInfo string `xml:"extra_contact_info"`
		ReportID         string `xml:"report_id"`
		DateRange        struct {
			Begin int64 `xml:"begin"`
			End   int64 `xml:"end"`
		} `xml:"date_range"`
		Error []string `xml:"error"`
	} `xml:"report_metadata"`
	PolicyPublished struct {
		Domain string `xml:"domain"`
		Adkim  string `xml:"adkim"`
		Aspf   string `xml:"aspf"`
		P      string `xml:"p"`
		Sp     string `xml:"sp"`
		Pct    string `xml:"pct"`
		Fo     string `xml:"fo"`
	} `xml:"policy_published"`
	Records []xmlRecord `xml:"record"`
}

// xmlRecord represents the record element of a DMARC aggregate report.
// The policy_evaluated spf and dkim elements are optional, as is the
// whole auth_results spf element. A report may carry any number of dkim
// signature evaluations per record, so dkim is a slice.
type xmlRecord struct {
	Row struct {
		SourceIP        string `xml:"source_ip"`
		Count           int    `xml:"count"`
		PolicyEvaluated struct {
			Disposition string                    `xml:"disposition"`
			Dkim        string                    `xml:"dkim"`
			Spf         string                    `xml:"spf"`
			Reason      []xmlPolicyOverrideReason `xml:"reason"`
		} `xml:"policy_evaluated"`
	} `xml:"row"`
	Identifiers struct {
		EnvelopeTo   string `xml:"envelope_to"`
		HeaderFrom   string `xml:"header_from"`
		EnvelopeFrom string `xml:"envelope_from"`
	} `xml:"identifiers"`
	AuthResults struct {
		Spf *struct {
			Domain string `xml:"domain"`
			Scope  string `xml:"scope"`
			Result string `xml:"result"`
		} `xml:"spf"`
		Dkim []struct {
			Domain      string `xml:"domain"`
			Selector    string `xml:"selector"`
			Result      string `xml:"result"`
			HumanResult string `xml:"human_result"`
		} `xml:"dkim"`
	} `xml:"auth_results"`
}

// xmlPolicyOverrideReason represents the reason element of a DMARC report
type xmlPolicyOverrideReason struct {
	Type    string `xml:"type"`
	Comment string `xml:"comment"`
}
