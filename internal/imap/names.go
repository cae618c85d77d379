package imap

import "regexp"

// ruaNameFormat matches the report filenames recommended by RFC 7489,
// Section 7.2.1.1:
//
//	receiver "!" policy-domain "!" begin "!" end [ "!" unique-id ] "." extension
var ruaNameFormat = regexp.MustCompile(`^[^!\s]+![^!\s]+![0-9]+![0-9]+(?:![^!\s]+)?\.(?:zip|xml\.gz)$`)

// IsReportAttachment reports whether filename looks like a DMARC
// aggregate report attachment. Attachments named differently are not
// downloaded; genuine reports follow the convention.
func IsReportAttachment(filename string) bool {
	return ruaNameFormat.MatchString(filename)
}
