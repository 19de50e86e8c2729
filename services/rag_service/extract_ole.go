package rag_service

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
)

// Legacy Office files are OLE compound files. Their text sits in one main
// stream as a mix of UTF-16LE and 8-bit records.
var (
	oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

	oleTextStreams = map[string][]string{
		".doc": {"WordDocument"},
		".xls": {"Workbook", "Book"},
		".ppt": {"PowerPoint Document"},
	}
)

const (
	maxOLEStreamBytes = 32 << 20
	minOLERun         = 4
)

// oleText reads the format's main stream, or every stream when that one is
// missing, and keeps the text runs found in it. A container mscfb cannot
// parse is scanned as raw bytes.
func (e *DocumentExtractor) oleText(ctx context.Context, data []byte, filename string) (string, bool) {
	if !bytes.HasPrefix(data, oleSignature) {
		return "", false
	}
	streams, err := oleStreams(data, oleTextStreams[strings.ToLower(filepath.Ext(filename))])
	if err != nil {
		e.logger.Debug("Compound file unreadable, scanning raw bytes",
			slog.String("filename", filename),
			slog.String("error", err.Error()))
		streams = [][]byte{data[len(oleSignature):]}
	}

	var parts []string
	for _, stream := range streams {
		if ctx.Err() != nil {
			return "", false
		}
		if text := binaryTextRuns(stream, minOLERun); text != "" {
			parts = append(parts, text)
		}
	}
	text := strings.Join(parts, "\n")
	return text, e.sufficient(text)
}

func oleStreams(data []byte, preferred []string) (streams [][]byte, err error) {
	// mscfb panics on some truncated directory entries.
	defer func() {
		if r := recover(); r != nil {
			streams, err = nil, fmt.Errorf("malformed compound file: %v", r)
		}
	}()

	doc, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var named, all []*mscfb.File
	for _, f := range doc.File {
		if f.Size <= 0 {
			continue
		}
		all = append(all, f)
		if slices.Contains(preferred, f.Name) {
			named = append(named, f)
		}
	}
	if len(named) > 0 {
		all = named
	}

	for _, f := range all {
		buf := make([]byte, min(f.Size, maxOLEStreamBytes))
		if _, err := io.ReadFull(f, buf); err != nil {
			continue
		}
		streams = append(streams, buf)
	}
	if len(streams) == 0 {
		return nil, errors.New("compound file has no readable streams")
	}
	return streams, nil
}

type textRun struct {
	offset int
	text   string
}

// binaryTextRuns finds UTF-16LE runs at both byte alignments and 8-bit
// Windows-1252 runs, then joins them in file order.
func binaryTextRuns(data []byte, minRun int) string {
	runs := utf16Runs(data, 0, minRun)
	runs = append(runs, utf16Runs(data, 1, minRun)...)
	runs = append(runs, byteRuns(data, minRun)...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].offset < runs[j].offset })

	texts := make([]string, len(runs))
	for i, r := range runs {
		texts[i] = r.text
	}
	return collapseWhitespace(strings.Join(texts, "\n"))
}

func utf16Runs(data []byte, start, minRun int) []textRun {
	var runs []textRun
	var cur []rune
	from := start
	for i := start; i+1 < len(data); i += 2 {
		r := rune(binary.LittleEndian.Uint16(data[i:]))
		if !oleTextRune(r) {
			runs = appendRun(runs, from, cur, minRun)
			cur = cur[:0]
			continue
		}
		if len(cur) == 0 {
			from = i
		}
		cur = append(cur, lineBreak(r))
	}
	return appendRun(runs, from, cur, minRun)
}

func byteRuns(data []byte, minRun int) []textRun {
	var runs []textRun
	var cur []rune
	from := 0
	for i, b := range data {
		r := charmap.Windows1252.DecodeByte(b)
		ok := b >= 0x20 && b < 0x7F || b == '\t' || b == '\n' || b == '\r' || b == 0x0B
		if b >= 0x80 {
			ok = unicode.IsLetter(r) || typographic(r)
		}
		if !ok {
			runs = appendRun(runs, from, cur, minRun)
			cur = cur[:0]
			continue
		}
		if len(cur) == 0 {
			from = i
		}
		cur = append(cur, lineBreak(r))
	}
	return appendRun(runs, from, cur, minRun)
}

// appendRun keeps runs with at least minRun visible runes, a text letter
// and more than one distinct visible rune.
func appendRun(runs []textRun, offset int, run []rune, minRun int) []textRun {
	visible, letter, distinct := 0, false, false
	first := rune(-1)
	for _, r := range run {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		letter = letter || textLetter(r)
		if first == -1 {
			first = r
		} else if r != first {
			distinct = true
		}
	}
	if visible < minRun || !letter || !distinct {
		return runs
	}
	return append(runs, textRun{offset: offset, text: string(run)})
}

// textLetter excludes the Latin-1 letters that 0xC0-0xFF filler bytes,
// such as free FAT entries, decode to.
func textLetter(r rune) bool {
	return unicode.IsLetter(r) && (r < 0x80 || r > 0xFF)
}

func oleTextRune(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r' || r == 0x0B:
		return true
	case r >= 0x20 && r < 0x0590:
		return unicode.IsPrint(r)
	}
	return typographic(r)
}

// typographic accepts dashes, curly quotes and the ellipsis.
func typographic(r rune) bool {
	return r >= 0x2010 && r <= 0x201F || r == 0x2026
}

// Word and PowerPoint end paragraphs with CR and break lines with VT.
func lineBreak(r rune) rune {
	if r == '\r' || r == 0x0B {
		return '\n'
	}
	return r
}
