package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/serisow/ragone/pipeline_type"
)

var mimeTypes = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".json":     "application/json",
	".csv":      "text/csv",
	".pdf":      "application/pdf",
	".doc":      "application/msword",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":      "application/vnd.ms-excel",
	".xlsx":     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":      "application/vnd.ms-powerpoint",
	".pptx":     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// GetMimeType maps a filename extension to its MIME type.
func GetMimeType(filename string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// SupportedExtensions lists the extensions with a dedicated extraction path.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(mimeTypes))
	for ext := range mimeTypes {
		exts = append(exts, ext)
	}
	return exts
}

// Converter turns a file into Markdown with structure preserved. It is an
// optional higher-fidelity path consulted before the local heuristics.
type Converter interface {
	Convert(ctx context.Context, data []byte, filename string) (string, error)
}

type ExtractResult struct {
	Text     string
	Markdown bool
	Strategy string
}

// strategy returns ok=false when its output is insufficient, letting the
// extractor fall through to the next one.
type strategy struct {
	name string
	run  func(ctx context.Context, data []byte, filename string) (string, bool)
}

type DocumentExtractor struct {
	logger      *slog.Logger
	converter   Converter
	minReadable int
}

// NewDocumentExtractor builds an extractor. converter may be nil.
func NewDocumentExtractor(logger *slog.Logger, converter Converter, minReadable int) *DocumentExtractor {
	if minReadable <= 0 {
		minReadable = 50
	}
	return &DocumentExtractor{
		logger:      logger,
		converter:   converter,
		minReadable: minReadable,
	}
}

func (e *DocumentExtractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	res, err := e.ExtractDetailed(ctx, data, filename)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// ExtractDetailed is Extract plus the strategy that produced the text.
// The returned text is always valid UTF-8 without NUL bytes.
func (e *DocumentExtractor) ExtractDetailed(ctx context.Context, data []byte, filename string) (ExtractResult, error) {
	res, err := e.extract(ctx, data, filename)
	if err != nil {
		return res, err
	}
	res.Text = strings.ReplaceAll(strings.ToValidUTF8(res.Text, ""), "\x00", "")
	return res, nil
}

func (e *DocumentExtractor) extract(ctx context.Context, data []byte, filename string) (ExtractResult, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	if _, supported := mimeTypes[ext]; supported && e.converter != nil {
		if md, ok := e.tryConverter(ctx, data, filename); ok {
			return ExtractResult{Text: md, Markdown: true, Strategy: "conversion_service"}, nil
		}
	}

	switch ext {
	case ".txt", ".json":
		return ExtractResult{Text: decodeUTF8(data), Strategy: "text"}, nil
	case ".md", ".markdown":
		return ExtractResult{Text: decodeUTF8(data), Markdown: true, Strategy: "text"}, nil
	case ".csv":
		return ExtractResult{Text: extractCSV(data), Strategy: "csv"}, nil
	case ".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx":
		return e.runChain(ctx, data, filename, e.chainFor(ext)), nil
	default:
		if !utf8.Valid(data) {
			return ExtractResult{}, &pipeline_type.ExtractionError{
				Filename: filename,
				Reason:   "unsupported file type and content is not valid UTF-8",
			}
		}
		return ExtractResult{Text: string(data), Strategy: "text"}, nil
	}
}

func (e *DocumentExtractor) tryConverter(ctx context.Context, data []byte, filename string) (string, bool) {
	md, err := e.converter.Convert(ctx, data, filename)
	if err != nil {
		e.logger.Warn("Conversion service failed, using local extraction",
			slog.String("filename", filename),
			slog.String("error", err.Error()))
		return "", false
	}
	if strings.TrimSpace(md) == "" {
		e.logger.Warn("Conversion service returned no content, using local extraction",
			slog.String("filename", filename))
		return "", false
	}
	return md, true
}

func (e *DocumentExtractor) chainFor(ext string) []strategy {
	var structural []strategy
	switch ext {
	case ".pdf":
		structural = []strategy{
			{name: "pdf_reader", run: e.pdfReaderText},
			{name: "pdf_operators", run: e.pdfOperatorText},
		}
	case ".docx":
		structural = []strategy{
			{name: "docx_xml", run: e.docxText},
			{name: "docconv", run: e.docconvText},
		}
	case ".xlsx":
		structural = []strategy{{name: "xlsx_xml", run: e.xlsxText}}
	case ".pptx":
		structural = []strategy{
			{name: "pptx_xml", run: e.pptxText},
			{name: "docconv", run: e.docconvText},
		}
	case ".doc":
		structural = []strategy{
			{name: "docconv", run: e.docconvText},
			{name: "ole_streams", run: e.oleText},
		}
	case ".xls", ".ppt":
		structural = []strategy{{name: "ole_streams", run: e.oleText}}
	}
	return append(structural,
		strategy{name: "permissive_decode", run: e.permissiveText},
		strategy{name: "placeholder", run: placeholderText},
	)
}

func (e *DocumentExtractor) runChain(ctx context.Context, data []byte, filename string, chain []strategy) ExtractResult {
	for _, s := range chain {
		text, ok := s.run(ctx, data, filename)
		if ok {
			e.logger.Info("Extracted document text",
				slog.String("filename", filename),
				slog.String("strategy", s.name),
				slog.Int("text_length", len(text)))
			return ExtractResult{Text: text, Strategy: s.name}
		}
		e.logger.Debug("Extraction strategy insufficient",
			slog.String("filename", filename),
			slog.String("strategy", s.name))
	}
	// placeholderText always succeeds, so this is unreachable in practice.
	return ExtractResult{Text: placeholder(filename, len(data)), Strategy: "placeholder"}
}

func (e *DocumentExtractor) sufficient(text string) bool {
	return readableChars(text) >= e.minReadable
}

func placeholderText(_ context.Context, data []byte, filename string) (string, bool) {
	return placeholder(filename, len(data)), true
}

func placeholder(filename string, size int) string {
	return fmt.Sprintf("[Document: %s, %d bytes. Text content could not be extracted.]", filepath.Base(filename), size)
}

func decodeUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// readableChars counts letters and digits.
func readableChars(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// collapseWhitespace squeezes runs of spaces and tabs and drops blank lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
