package rag_service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"code.sajari.com/docconv/v2"
	"golang.org/x/text/encoding/charmap"
)

const maxZipEntryBytes = 32 << 20

func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipEntryBytes))
}

// xmlText collects character data inside elements named textElem and
// emits a newline at the end of every element named in breakElems. It
// keeps whatever it decoded before a syntax error.
func xmlText(content []byte, textElem string, breakElems ...string) string {
	breaks := make(map[string]bool, len(breakElems))
	for _, b := range breakElems {
		breaks[b] = true
	}

	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.Strict = false

	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textElem:
				depth++
			case "tab":
				b.WriteString("\t")
			case "br":
				b.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Local == textElem && depth > 0 {
				depth--
			}
			if breaks[t.Name.Local] {
				b.WriteString("\n")
			}
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}
	return b.String()
}

func (e *DocumentExtractor) docxText(_ context.Context, data []byte, filename string) (string, bool) {
	reader, err := openZip(data)
	if err != nil {
		return "", false
	}
	var out strings.Builder
	for _, f := range reader.File {
		if f.Name != "word/document.xml" && !strings.HasPrefix(f.Name, "word/header") && !strings.HasPrefix(f.Name, "word/footer") {
			continue
		}
		content, err := readZipEntry(f)
		if err != nil {
			e.logger.Debug("Failed to read DOCX part",
				slog.String("filename", filename),
				slog.String("part", f.Name),
				slog.String("error", err.Error()))
			continue
		}
		out.WriteString(xmlText(content, "t", "p"))
		out.WriteString("\n")
	}
	text := collapseWhitespace(out.String())
	return text, e.sufficient(text)
}

func (e *DocumentExtractor) xlsxText(_ context.Context, data []byte, _ string) (string, bool) {
	reader, err := openZip(data)
	if err != nil {
		return "", false
	}
	var out strings.Builder
	for _, f := range reader.File {
		// Shared strings hold the cell text; sheets may carry inline strings.
		if f.Name != "xl/sharedStrings.xml" && !strings.HasPrefix(f.Name, "xl/worksheets/sheet") {
			continue
		}
		content, err := readZipEntry(f)
		if err != nil {
			continue
		}
		if f.Name == "xl/sharedStrings.xml" {
			out.WriteString(xmlText(content, "t", "si"))
		} else {
			out.WriteString(xmlText(content, "t", "row"))
		}
		out.WriteString("\n")
	}
	text := collapseWhitespace(out.String())
	return text, e.sufficient(text)
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func (e *DocumentExtractor) pptxText(_ context.Context, data []byte, _ string) (string, bool) {
	reader, err := openZip(data)
	if err != nil {
		return "", false
	}

	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range reader.File {
		if m := slideName.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var out strings.Builder
	for _, s := range slides {
		content, err := readZipEntry(s.file)
		if err != nil {
			continue
		}
		fmt.Fprintf(&out, "Slide %d:\n%s\n", s.n, xmlText(content, "t", "p"))
	}
	text := collapseWhitespace(out.String())
	return text, e.sufficient(text)
}

// docconvText delegates to docconv, which shells out to external tools
// for legacy formats. Missing tools surface as an insufficient result.
func (e *DocumentExtractor) docconvText(_ context.Context, data []byte, filename string) (string, bool) {
	mimeType := GetMimeType(filename)
	result, err := docconv.Convert(bytes.NewReader(data), mimeType, false)
	if err != nil {
		e.logger.Debug("docconv conversion failed",
			slog.String("filename", filename),
			slog.String("mime_type", mimeType),
			slog.String("error", err.Error()))
		return "", false
	}
	text := collapseWhitespace(result.Body)
	return text, e.sufficient(text)
}

// permissiveText decodes the raw bytes as UTF-8, or Windows-1252 when that
// fails. Text that decodes cleanly keeps every word. Anything else is
// treated as binary and only its longer printable runs survive.
func (e *DocumentExtractor) permissiveText(_ context.Context, data []byte, _ string) (string, bool) {
	decoded := decodeLegacy(data)
	var text string
	if mostlyText(decoded) {
		text = collapseWhitespace(stripControls(decoded))
	} else {
		text = printableRuns(decoded, minBinaryRun)
	}
	return text, e.sufficient(text)
}

const minBinaryRun = 4

func decodeLegacy(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), " ")
	}
	return string(decoded)
}

// unprintable excludes the whitespace controls that plain text carries.
func unprintable(r rune) bool {
	switch r {
	case '\n', '\r', '\t', '\f':
		return false
	}
	return r == utf8.RuneError || unicode.IsControl(r) || !unicode.IsPrint(r) && !unicode.IsSpace(r)
}

// mostlyText reports whether at most one rune in a hundred is unprintable.
func mostlyText(s string) bool {
	total, bad := 0, 0
	for _, r := range s {
		total++
		if unprintable(r) {
			bad++
		}
	}
	return total > 0 && bad*100 <= total
}

func stripControls(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\f' {
			return '\n'
		}
		if unprintable(r) {
			return ' '
		}
		return r
	}, s)
}

// printableRuns splits s at unprintable runes and line breaks and keeps the
// runs that have at least minRun visible characters and a text letter.
func printableRuns(s string, minRun int) string {
	runs := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\r' || unprintable(r)
	})
	out := make([]string, 0, len(runs))
	for _, run := range runs {
		run = strings.Join(strings.Fields(run), " ")
		visible := utf8.RuneCountInString(strings.ReplaceAll(run, " ", ""))
		if visible >= minRun && strings.IndexFunc(run, textLetter) >= 0 {
			out = append(out, run)
		}
	}
	return strings.Join(out, "\n")
}
