package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

// DefaultExtractors wires the three office/PDF extractors against the
// libraries present in the example corpus. Each is fail-soft: a parse error
// becomes an explanatory TextBlock rather than an error return, matching the
// contract every extractor must honor.
func DefaultExtractors() Extractors {
	return Extractors{
		PDF:  extractPDF,
		DOCX: extractDOCX,
		XLSX: extractXLSX,
	}
}

func extractPDF(data []byte, filename string) canon.TextBlock {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return canon.TextBlock{Text: fmt.Sprintf("[%s] PDF-Extraktion fehlgeschlagen: %v", filename, err)}
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, fmt.Sprintf("--- Seite %d ---\n%s", i, strings.TrimSpace(text)))
		}
	}

	if len(pages) == 0 {
		return canon.TextBlock{Text: fmt.Sprintf(
			"[%s] PDF konnte nicht als Text extrahiert werden (möglicherweise rein bildbasiert). "+
				"Bitte einen Provider mit nativem PDF-Support verwenden (Anthropic, Google).", filename)}
	}
	return canon.TextBlock{Text: fmt.Sprintf("[%s — PDF-Inhalt]\n\n%s", filename, strings.Join(pages, "\n\n"))}
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)

func extractDOCX(data []byte, filename string) canon.TextBlock {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return canon.TextBlock{Text: fmt.Sprintf("[%s] DOCX-Extraktion fehlgeschlagen: %v", filename, err)}
	}
	defer r.Close()

	doc := r.Editable()
	raw := doc.GetContent()
	text := strings.TrimSpace(xmlTagRe.ReplaceAllString(raw, "\n"))
	text = collapseBlankLines(text)
	return canon.TextBlock{Text: fmt.Sprintf("[%s — Word-Dokument]\n\n%s", filename, text)}
}

func extractXLSX(data []byte, filename string) canon.TextBlock {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return canon.TextBlock{Text: fmt.Sprintf("[%s] XLSX-Extraktion fehlgeschlagen: %v", filename, err)}
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			if nonEmpty(row) {
				lines = append(lines, strings.Join(row, "\t"))
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, fmt.Sprintf("=== Tabelle: %s ===\n%s", name, strings.Join(lines, "\n")))
		}
	}

	body := "(leer)"
	if len(sheets) > 0 {
		body = strings.Join(sheets, "\n\n")
	}
	return canon.TextBlock{Text: fmt.Sprintf("[%s — Excel]\n\n%s", filename, body)}
}

func nonEmpty(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimSpace(l))
		}
	}
	return strings.Join(out, "\n")
}
