package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// AllowedFiletypes are the Slack filetypes routed to ingestion.
var AllowedFiletypes = []string{"pdf", "text", "binary", "docx", "txt"}

func Allowed(filetype string) bool {
	for _, t := range AllowedFiletypes {
		if t == filetype {
			return true
		}
	}
	return false
}

var ErrUnsupportedType = errors.New("unsupported file type")

// Extract returns the plain text of a file, chosen by extension. Slack
// "text" snippets without a known extension are read as plain text.
func Extract(name, filetype string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	case ".txt":
		return extractPlain(data), nil
	}

	if filetype == "text" || filetype == "txt" {
		return extractPlain(data), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(name))
}

func extractPlain(data []byte) string {
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "")
	}
	return string(data)
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return string(b), nil
}

// extractDOCX reads the <w:t> runs of word/document.xml, one line per
// paragraph.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx container: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("docx open: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var out strings.Builder
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx xml: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				var v string
				if err := dec.DecodeElement(&v, &el); err == nil {
					out.WriteString(v)
				}
			}
			if el.Name.Local == "tab" {
				out.WriteString("\t")
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				out.WriteString("\n")
			}
		}
	}

	return out.String(), nil
}
