// Package ingest classifies uploaded blobs by MIME/extension and produces
// canonical content blocks, routing non-native formats to text extractors.
package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cuber-it/heinzel-gateway/pkg/canon"
)

var nativeImageTypes = map[string]bool{
	"image/jpeg": true, "image/jpg": true, "image/png": true,
	"image/gif": true, "image/webp": true,
}

// ProviderNative is the authoritative native-capability table: which MIME
// families each translator can accept as a binary content block without
// falling back to an extractor.
var ProviderNative = map[string]map[string]bool{
	"anthropic": union(nativeImageTypes, map[string]bool{"application/pdf": true}),
	"google":    union(nativeImageTypes, map[string]bool{"application/pdf": true}),
	"openai":    nativeImageTypes,
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

var textMimeTypes = map[string]bool{
	"text/plain": true, "text/html": true, "text/markdown": true, "text/csv": true,
	"text/xml": true, "application/xml": true,
	"application/json": true, "application/javascript": true,
	"application/x-yaml": true, "text/yaml": true,
	"text/x-python": true, "text/x-java-source": true, "text/x-c": true, "text/x-c++": true,
	"text/x-shellscript": true, "application/x-sh": true,
	"text/x-sql": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".rst": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true, ".cfg": true, ".conf": true,
	".xml": true, ".html": true, ".htm": true, ".svg": true,
	".csv": true, ".tsv": true,
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".vue": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".cs": true, ".go": true, ".rs": true, ".rb": true, ".php": true,
	".sh": true, ".bash": true, ".zsh": true, ".fish": true,
	".sql": true, ".graphql": true,
	".log": true, ".env": true,
}

var unsupportedPrefixes = []string{"video/", "audio/", "application/octet-stream", "application/x-executable"}

// Extractors collects the pluggable (bytes, filename, mime) -> TextBlock
// extractors for office/PDF formats. Each must never fail the request: a
// missing dependency or parse error becomes an explanatory TextBlock.
type Extractors struct {
	PDF  func(data []byte, filename string) canon.TextBlock
	DOCX func(data []byte, filename string) canon.TextBlock
	XLSX func(data []byte, filename string) canon.TextBlock
}

func isTextExtension(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	return textExtensions[strings.ToLower(filename[idx:])]
}

// ProcessFile converts one uploaded file into exactly one ContentBlock,
// following the decision order pinned in SPEC_FULL.md §4.1.
func ProcessFile(data []byte, filename, mimeType, providerName string, ex Extractors) canon.ContentBlock {
	mime := normalizeMIME(mimeType)
	native := ProviderNative[providerName]
	if native == nil {
		native = nativeImageTypes
	}

	if nativeImageTypes[mime] && native[mime] {
		mt := mime
		if mt == "image/jpg" {
			mt = "image/jpeg"
		}
		return canon.ImageBlock{MediaType: mt, Data: encodeBase64(data)}
	}

	if mime == "application/pdf" && native[mime] {
		return canon.DocumentBlock{MediaType: "application/pdf", Data: encodeBase64(data)}
	}

	if textMimeTypes[mime] || isTextExtension(filename) {
		return canon.TextBlock{Text: fmt.Sprintf("[%s]\n%s", filename, decodeLossy(data))}
	}

	switch mime {
	case "application/pdf":
		if ex.PDF != nil {
			return ex.PDF(data, filename)
		}
		return canon.TextBlock{Text: fmt.Sprintf("[%s] PDF-Extraktion nicht verfügbar.", filename)}
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/msword":
		if ex.DOCX != nil {
			return ex.DOCX(data, filename)
		}
		return canon.TextBlock{Text: fmt.Sprintf("[%s] DOCX-Extraktion nicht verfügbar.", filename)}
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
		if ex.XLSX != nil {
			return ex.XLSX(data, filename)
		}
		return canon.TextBlock{Text: fmt.Sprintf("[%s] XLSX-Extraktion nicht verfügbar.", filename)}
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation", "application/vnd.ms-powerpoint":
		return canon.TextBlock{Text: fmt.Sprintf("[%s] PPTX-Extraktion nicht verfügbar.", filename)}
	}

	for _, prefix := range unsupportedPrefixes {
		if strings.HasPrefix(mime, prefix) {
			return canon.TextBlock{Text: fmt.Sprintf("[%s] Dieser Dateityp (%s) wird von keinem Provider unterstützt.", filename, mime)}
		}
	}

	if utf8.Valid(data) {
		return canon.TextBlock{Text: fmt.Sprintf("[%s]\n%s", filename, string(data))}
	}
	return canon.TextBlock{Text: fmt.Sprintf(
		"[%s] Unbekannter Dateityp (%s). Dateigröße: %d Bytes. Dieser Typ kann nicht verarbeitet werden.",
		filename, mime, len(data),
	)}
}

func normalizeMIME(mimeType string) string {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	mime := strings.ToLower(mimeType)
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.TrimSpace(mime)
}
