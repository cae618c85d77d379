package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func writeZipArchive(t *testing.T, dir, name string, members map[string][]byte, order []string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, member := range order {
		f, err := w.Create(member)
		if err != nil {
			t.Fatalf("could not create zip member: %v", err)
		}
		if _, err := f.Write(members[member]); err != nil {
			t.Fatalf("could not write zip member: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("could not close zip: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("could not write archive: %v", err)
	}
	return path
}

func writeGzArchive(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(content); err != nil {
		t.Fatalf("could not write gzip: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("could not close gzip: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("could not write archive: %v", err)
	}
	return path
}

func TestExtractZip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeZipArchive(t, dir, "report.zip",
		map[string][]byte{"report.xml": []byte("<feedback/>")},
		[]string{"report.xml"})

	content, name, found, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a report")
	}
	// the archive's own filename identifies the report, not the member name
	if name != "report.zip" {
		t.Errorf("wrong report filename: %s", name)
	}
	if string(content) != "<feedback/>" {
		t.Errorf("wrong content: %s", content)
	}
}

func TestExtractZipFirstXMLMemberWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeZipArchive(t, dir, "multi.zip",
		map[string][]byte{
			"readme.txt": []byte("ignore me"),
			"one.xml":    []byte("<one/>"),
			"two.xml":    []byte("<two/>"),
		},
		[]string{"readme.txt", "one.xml", "two.xml"})

	content, _, found, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a report")
	}
	if string(content) != "<one/>" {
		t.Errorf("expected first xml member, got: %s", content)
	}
}

func TestExtractZipWithoutXMLMember(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeZipArchive(t, dir, "noxml.zip",
		map[string][]byte{"readme.txt": []byte("nothing here")},
		[]string{"readme.txt"})

	_, _, found, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("zip without xml member must yield no report")
	}
}

func TestExtractGz(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeGzArchive(t, dir, "report.xml.gz", []byte("<feedback/>"))

	content, name, found, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a report")
	}
	if name != "report.xml.gz" {
		t.Errorf("wrong report filename: %s", name)
	}
	if string(content) != "<feedback/>" {
		t.Errorf("wrong content: %s", content)
	}
}

func TestExtractGzNonXMLInnerName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeGzArchive(t, dir, "report.txt.gz", []byte("not a report"))

	_, _, found, err := ExtractFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("gz with non-xml inner name must yield no report")
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.zip")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0o644); err != nil {
		t.Fatalf("could not write file: %v", err)
	}
	if _, _, _, err := ExtractFile(path); err == nil {
		t.Fatal("expected error on corrupt archive")
	}

	path = filepath.Join(dir, "broken.xml.gz")
	if err := os.WriteFile(path, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatalf("could not write file: %v", err)
	}
	if _, _, _, err := ExtractFile(path); err == nil {
		t.Fatal("expected error on corrupt gzip")
	}
}
