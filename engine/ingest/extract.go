package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/aviov/largo-chat/engine/domain"
)

// ExtractPDF returns the text of a PDF, page by page. When the primary
// reader cannot parse the file the raw content streams are scanned
// instead. A document with no text yields domain.ErrEmptyDocument.
func ExtractPDF(data []byte) (string, error) {
	if !isPDF(data) {
		return "", fmt.Errorf("ingest: extract: %w (detected %s)", domain.ErrNotPDF, mimetype.Detect(data).String())
	}

	text, err := readPages(data)
	if err != nil || strings.TrimSpace(text) == "" {
		fallback, ferr := scanContent(data)
		if ferr != nil {
			if err == nil {
				err = ferr
			}
			return "", fmt.Errorf("ingest: extract: %w", err)
		}
		text = fallback
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("ingest: extract: %w", domain.ErrEmptyDocument)
	}
	return text, nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-")) || mimetype.Detect(data).Is("application/pdf")
}

func readPages(data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pt, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if b.Len() > 0 && pt != "" {
			b.WriteByte('\n')
		}
		b.WriteString(pt)
	}
	return b.String(), nil
}

var (
	literalString = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
	hexString     = regexp.MustCompile(`<([0-9A-Fa-f\s]+)>`)
)

// scanContent extracts page content streams with pdfcpu and pulls the
// string operands out of them.
func scanContent(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu: %v", r)
		}
	}()

	dir, err := os.MkdirTemp("", "largo-pdf-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if err := api.ExtractContent(bytes.NewReader(data), dir, "extracted", nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("pdfcpu: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "extracted*"))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		if s := contentStrings(string(content)); s != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

func contentStrings(content string) string {
	var parts []string
	for _, m := range literalString.FindAllStringSubmatch(content, -1) {
		parts = append(parts, unescapeLiteral(m[1]))
	}
	for _, m := range hexString.FindAllStringSubmatch(content, -1) {
		if s := decodeHex(m[1]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func unescapeLiteral(s string) string {
	r := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, " ")
	return r.Replace(s)
}

func decodeHex(s string) string {
	s = strings.Join(strings.Fields(s), "")
	var b strings.Builder
	for i := 0; i+1 < len(s); i += 2 {
		c, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return ""
		}
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(byte(c))
		}
	}
	return b.String()
}
