package rag_service

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfReaderText walks the page tree with ledongthuc/pdf. The reader panics
// on some malformed inputs, so a panic is treated as insufficient output.
func (e *DocumentExtractor) pdfReaderText(_ context.Context, data []byte, filename string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("PDF reader panicked",
				slog.String("filename", filename),
				slog.String("panic", fmt.Sprint(r)))
			text, ok = "", false
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.logger.Debug("Failed to create PDF reader",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
			slog.Int("data_size", len(data)))
		return "", false
	}

	totalPage := reader.NumPage()
	var fullText strings.Builder
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			e.logger.Debug("Null page encountered",
				slog.String("filename", filename),
				slog.Int("page_number", pageIndex))
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Debug("Failed to extract text from page",
				slog.String("filename", filename),
				slog.Int("page_number", pageIndex),
				slog.String("error", err.Error()))
			continue
		}
		fullText.WriteString(pageText)
		fullText.WriteString("\n")
	}

	text = collapseWhitespace(fullText.String())
	return text, e.sufficient(text)
}

var (
	pdfStream   = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	pdfTextOp   = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s*(?:Tj|'|")`)
	pdfArrayOp  = regexp.MustCompile(`(?s)\[(.*?)\]\s*TJ`)
	pdfArrayStr = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
	pdfBlockEnd = regexp.MustCompile(`\bET\b`)
)

// pdfOperatorText scans content streams (inflating Flate streams) for
// text-showing operators. It ignores font encodings, so it only recovers
// text written with standard single-byte encodings.
func (e *DocumentExtractor) pdfOperatorText(_ context.Context, data []byte, _ string) (string, bool) {
	var out strings.Builder
	for _, m := range pdfStream.FindAllSubmatch(data, -1) {
		content := m[1]
		if inflated, err := inflate(content); err == nil {
			content = inflated
		}
		out.WriteString(textFromContentStream(content))
	}
	text := collapseWhitespace(out.String())
	return text, e.sufficient(text)
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, 64<<20))
}

func textFromContentStream(content []byte) string {
	var b strings.Builder
	// Split on ET so each text object ends on its own line.
	for _, block := range pdfBlockEnd.Split(string(content), -1) {
		var line strings.Builder
		for _, m := range pdfTextOp.FindAllStringSubmatch(block, -1) {
			line.WriteString(unescapePDFString(m[1]))
			line.WriteString(" ")
		}
		for _, arr := range pdfArrayOp.FindAllStringSubmatch(block, -1) {
			for _, s := range pdfArrayStr.FindAllStringSubmatch(arr[1], -1) {
				line.WriteString(unescapePDFString(s[1]))
			}
			line.WriteString(" ")
		}
		if line.Len() > 0 {
			b.WriteString(line.String())
			b.WriteString("\n")
		}
	}
	return b.String()
}

func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b', 'f':
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := 0
			j := 0
			for ; j < 3 && i+j < len(s) && s[i+j] >= '0' && s[i+j] <= '7'; j++ {
				v = v*8 + int(s[i+j]-'0')
			}
			i += j - 1
			b.WriteByte(byte(v))
		default:
			b.WriteByte(s[i])
		}
	}
	return decodeLegacy([]byte(b.String()))
}
