package dmarc

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

func readGZ(content []byte) ([]byte, error) {
	buf := bytes.NewBuffer(content)
	gz, err := gzip.NewReader(buf)
	if err != nil {
		return nil, fmt.Errorf("could not gzip read: %w", err)
	}
	defer gz.Close()

	xmlContent, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read: %w", err)
	}
	return xmlContent, nil
}

func readZIP(content []byte) ([]byte, bool, error) {
	buf := bytes.NewReader(content)
	r, err := zip.NewReader(buf, int64(len(content)))
	if err != nil {
		return nil, false, fmt.Errorf("could not open zip: %w", err)
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, false, fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
		}
		xmlContent, err := io.ReadAll(x)
		x.Close()
		if err != nil {
			return nil, false, fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
		}
		// only use the first xml file in the zip file, reports are
		// assumed to contain a single document
		return xmlContent, true, nil
	}
	return nil, false, nil
}

// ExtractFile reads the archive at path and returns the embedded XML
// document plus the archive's own filename, which serves as the
// report's external identifier. The boolean is false when the archive
// contains no report: a zip without an xml member, or a gz whose name
// minus the .gz suffix is not an xml file.
func ExtractFile(path string) ([]byte, string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("could not read %s: %w", path, err)
	}

	archiveName := filepath.Base(path)
	switch filepath.Ext(archiveName) {
	case ".gz":
		// standard gzip archives carry a single subfile named the
		// same minus the .gz suffix
		if !strings.HasSuffix(strings.TrimSuffix(archiveName, ".gz"), ".xml") {
			return nil, "", false, nil
		}
		xmlContent, err := readGZ(content)
		if err != nil {
			return nil, "", false, err
		}
		return xmlContent, archiveName, true, nil
	case ".zip":
		xmlContent, found, err := readZIP(content)
		if err != nil || !found {
			return nil, "", false, err
		}
		return xmlContent, archiveName, true, nil
	default:
		return nil, "", false, fmt.Errorf("unknown extension on %s", archiveName)
	}
}
