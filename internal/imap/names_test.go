package imap

import "testing"

func TestIsReportAttachment(t *testing.T) {
	t.Parallel()

	valid := []string{
		"google.com!example.com!1538092800!1538179199.zip",
		"protection.outlook.com!example.com!1538092800!1538179199.xml.gz",
		"google.com!example.com!1538092800!1538179199!001.zip",
	}
	for _, name := range valid {
		if !IsReportAttachment(name) {
			t.Errorf("%q should match", name)
		}
	}

	invalid := []string{
		"report.zip",
		"google.com!example.com!1538092800.zip",
		"google.com!example.com!begin!end.zip",
		"google.com!example.com!1538092800!1538179199.xml",
		"google.com!example.com!1538092800!1538179199.tar.gz",
		"invoice.pdf",
		"",
	}
	for _, name := range invalid {
		if IsReportAttachment(name) {
			t.Errorf("%q should not match", name)
		}
	}
}
