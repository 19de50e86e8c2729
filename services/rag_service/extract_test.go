package rag_service

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/serisow/ragone/pipeline_type"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const longSentence = "The quarterly report covers revenue growth across every regional office and product line."

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawPDF(stream []byte) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n1 0 obj\n<< /Length ")
	fmt.Fprintf(&b, "%d", len(stream))
	b.WriteString(" >>\nstream\n")
	b.Write(stream)
	b.WriteString("\nendstream\nendobj\n%%EOF\n")
	return b.Bytes()
}

func TestExtract_PlainFormats(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		data     string
		want     string
		markdown bool
	}{
		{name: "text", filename: "notes.txt", data: "hello world", want: "hello world"},
		{name: "json", filename: "data.JSON", data: `{"a":1}`, want: `{"a":1}`},
		{name: "markdown", filename: "readme.md", data: "# Title\n\nBody", want: "# Title\n\nBody", markdown: true},
		{name: "unknown but utf8", filename: "script.go", data: "package main", want: "package main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ExtractDetailed(ctx, []byte(tt.data), tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, tt.markdown, res.Markdown)
		})
	}
}

func TestExtract_CSV(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)

	text, err := e.Extract(context.Background(), []byte("a,b\n1,2\n3,4"), "table.csv")
	require.NoError(t, err)
	assert.Equal(t, "Table Headers: a, b\nRow 1: 1 | 2\nRow 2: 3 | 4", text)
}

func TestExtract_CSVRaggedRows(t *testing.T) {
	text := extractCSV([]byte("name, city\nAda, \"London\"\nBob\n"))
	assert.Contains(t, text, "Table Headers: name, city")
	assert.Contains(t, text, "Row 1: Ada | London")
	assert.Contains(t, text, "Row 2: Bob")
}

func TestExtract_UnknownBinaryFails(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)

	_, err := e.Extract(context.Background(), []byte{0xff, 0xfe, 0x00, 0x81}, "blob.bin")
	var extractionErr *pipeline_type.ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Equal(t, "blob.bin", extractionErr.Filename)
}

func TestExtract_DOCX(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)
	doc := buildZip(t, map[string]string{
		"word/document.xml": `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			`<w:p><w:r><w:t>Quarterly Report</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>` + longSentence + `</w:t></w:r></w:p>` +
			`</w:body></w:document>`,
	})

	res, err := e.ExtractDetailed(context.Background(), doc, "report.docx")
	require.NoError(t, err)
	assert.Equal(t, "docx_xml", res.Strategy)
	assert.Equal(t, "Quarterly Report\n"+longSentence, res.Text)
}

func TestExtract_PPTXSlideOrder(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 20)
	slide := func(text string) string {
		return `<p:sld xmlns:a="a" xmlns:p="p"><p:cSld><p:spTree><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:spTree></p:cSld></p:sld>`
	}
	deck := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml": slide("Closing remarks and next steps"),
		"ppt/slides/slide2.xml":  slide("Market overview for the year"),
		"ppt/slides/slide1.xml":  slide("Welcome to the annual review"),
	})

	res, err := e.ExtractDetailed(context.Background(), deck, "deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, "pptx_xml", res.Strategy)
	first := strings.Index(res.Text, "Welcome")
	second := strings.Index(res.Text, "Market")
	last := strings.Index(res.Text, "Closing")
	assert.True(t, first < second && second < last, res.Text)
}

func TestExtract_XLSXSharedStrings(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 20)
	book := buildZip(t, map[string]string{
		"xl/sharedStrings.xml": `<sst><si><t>Region</t></si><si><t>Revenue forecast for northern territories</t></si></sst>`,
	})

	res, err := e.ExtractDetailed(context.Background(), book, "book.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "xlsx_xml", res.Strategy)
	assert.Contains(t, res.Text, "Revenue forecast")
}

func TestExtract_PDFOperators(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)

	t.Run("uncompressed stream", func(t *testing.T) {
		stream := []byte("BT /F1 12 Tf 72 712 Td (" + longSentence + ") Tj ET")
		res, err := e.ExtractDetailed(context.Background(), rawPDF(stream), "report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "pdf_operators", res.Strategy)
		assert.Equal(t, longSentence, res.Text)
	})

	t.Run("flate stream with TJ array", func(t *testing.T) {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		_, err := zw.Write([]byte("BT [(The quarterly report) -250 (covers revenue growth across every regional office.)] TJ ET"))
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		res, err := e.ExtractDetailed(context.Background(), rawPDF(compressed.Bytes()), "report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "pdf_operators", res.Strategy)
		assert.Contains(t, res.Text, "The quarterly reportcovers revenue growth")
	})
}

func TestExtract_PlaceholderNeverFails(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)
	data := []byte("%PDF-1.4\n\x00\x01\x02 garbage")

	res, err := e.ExtractDetailed(context.Background(), data, "uploads/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "placeholder", res.Strategy)
	assert.Equal(t, fmt.Sprintf("[Document: scan.pdf, %d bytes. Text content could not be extracted.]", len(data)), res.Text)
}

func TestExtract_PermissiveDecodeWindows1252(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 20)
	// 0xE9 is "é" in Windows-1252 and invalid on its own in UTF-8.
	data := append([]byte("\x01\x02binary"), []byte(" Caf\xe9 r\xe9sum\xe9 entries listed here \x00\x03 ok")...)

	res, err := e.ExtractDetailed(context.Background(), data, "legacy.xls")
	require.NoError(t, err)
	assert.Equal(t, "permissive_decode", res.Strategy)
	assert.Contains(t, res.Text, "Café résumé entries listed here")
	assert.NotContains(t, res.Text, " ok")
}

func TestExtract_PermissiveDecodeKeepsShortWords(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 40)

	tests := []struct {
		name     string
		filename string
		data     []byte
		want     string
	}{
		{
			name:     "utf-8 prose",
			filename: "notes.pdf",
			data:     []byte("It is a pen. The cat sat on the mat and ate all of its food. We go to the big red bus now."),
			want:     "It is a pen. The cat sat on the mat and ate all of its food. We go to the big red bus now.",
		},
		{
			name:     "windows-1252 prose",
			filename: "lettre.ppt",
			data:     []byte("Le caf\xe9 est ici. Il y a un lit et un sac de riz pour toi et moi ce soir."),
			want:     "Le café est ici. Il y a un lit et un sac de riz pour toi et moi ce soir.",
		},
		{
			name:     "line breaks kept",
			filename: "memo.xls",
			data:     []byte("To: all of us\r\nRe: the new lab\r\n\r\nWe go in at six so be on time and do not be late."),
			want:     "To: all of us\nRe: the new lab\nWe go in at six so be on time and do not be late.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ExtractDetailed(context.Background(), tt.data, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, "permissive_decode", res.Strategy)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestExtract_ConversionService(t *testing.T) {
	t.Run("markdown from service", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "report.docx", header.Filename)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"markdown": "# Report\n\n- item one"}`)
		}))
		defer server.Close()

		e := NewDocumentExtractor(discardLogger(), NewConversionClient(server.URL, time.Second), 50)
		res, err := e.ExtractDetailed(context.Background(), []byte("not really a docx"), "report.docx")
		require.NoError(t, err)
		assert.Equal(t, "conversion_service", res.Strategy)
		assert.True(t, res.Markdown)
		assert.Equal(t, "# Report\n\n- item one", res.Text)
	})

	t.Run("service failure falls back silently", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer server.Close()

		e := NewDocumentExtractor(discardLogger(), NewConversionClient(server.URL, time.Second), 50)
		res, err := e.ExtractDetailed(context.Background(), []byte("plain notes"), "notes.txt")
		require.NoError(t, err)
		assert.Equal(t, "text", res.Strategy)
		assert.False(t, res.Markdown)
		assert.Equal(t, "plain notes", res.Text)
	})
}

func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "application/pdf", GetMimeType("A.PDF"))
	assert.Equal(t, "text/csv", GetMimeType("x.csv"))
	assert.Equal(t, "application/octet-stream", GetMimeType("x.weird"))
}
