package rag_service

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utf16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

// buildCompoundFile writes a version 3 compound file holding one stream.
// The stream is padded to 4096 bytes so it lives in regular sectors.
func buildCompoundFile(stream string, payload []byte) []byte {
	const sector = 512
	padded := make([]byte, max(len(payload), 4096))
	copy(padded, payload)
	dataSectors := (len(padded) + sector - 1) / sector

	le := binary.LittleEndian
	out := make([]byte, sector*(3+dataSectors))
	copy(out, oleSignature)
	le.PutUint16(out[24:], 0x3E)
	le.PutUint16(out[26:], 3)
	le.PutUint16(out[28:], 0xFFFE)
	le.PutUint16(out[30:], 9)
	le.PutUint16(out[32:], 6)
	le.PutUint32(out[44:], 1) // FAT sectors
	le.PutUint32(out[48:], 1) // directory sector
	le.PutUint32(out[56:], 4096)
	le.PutUint32(out[60:], 0xFFFFFFFE)
	le.PutUint32(out[68:], 0xFFFFFFFE)
	for i := 80; i < sector; i += 4 {
		le.PutUint32(out[i:], 0xFFFFFFFF)
	}

	fat := out[sector : 2*sector]
	for i := 0; i < sector; i += 4 {
		le.PutUint32(fat[i:], 0xFFFFFFFF)
	}
	le.PutUint32(fat[0:], 0xFFFFFFFD)
	le.PutUint32(fat[4:], 0xFFFFFFFE)
	last := 1 + dataSectors
	for s := 2; s <= last; s++ {
		next := uint32(s + 1)
		if s == last {
			next = 0xFFFFFFFE
		}
		le.PutUint32(fat[4*s:], next)
	}

	dir := out[2*sector : 3*sector]
	writeDirEntry(dir[0:128], "Root Entry", 5, 1, 0xFFFFFFFE, 0)
	writeDirEntry(dir[128:256], stream, 2, 0xFFFFFFFF, 2, len(padded))
	copy(out[3*sector:], padded)
	return out
}

func writeDirEntry(b []byte, name string, kind byte, child, start uint32, size int) {
	le := binary.LittleEndian
	copy(b[0:64], utf16LE(name))
	le.PutUint16(b[64:], uint16((len(name)+1)*2))
	b[66] = kind
	b[67] = 1
	le.PutUint32(b[68:], 0xFFFFFFFF)
	le.PutUint32(b[72:], 0xFFFFFFFF)
	le.PutUint32(b[76:], child)
	le.PutUint32(b[116:], start)
	le.PutUint32(b[120:], uint32(size))
}

func concatBytes(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

const slideSentence = "Quarterly revenue grew twelve percent across every region this year"

func TestExtract_LegacyOfficeStreams(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)

	tests := []struct {
		name     string
		filename string
		data     []byte
		want     []string
	}{
		{
			name:     "ppt text atom",
			filename: "deck.ppt",
			data: buildCompoundFile("PowerPoint Document", concatBytes(
				[]byte{0x00, 0x00, 0xA8, 0x0F, 0x86, 0x00, 0x00, 0x00},
				utf16LE(slideSentence),
				[]byte{0x00, 0x00, 0xA0, 0x0F, 0x00, 0x00, 0x00, 0x00},
			)),
			want: []string{slideSentence},
		},
		{
			name:     "xls compressed and wide strings",
			filename: "budget.xls",
			data: buildCompoundFile("Workbook", concatBytes(
				[]byte{0x09, 0x08, 0x10, 0x00, 0x00, 0x06, 0x05, 0x00},
				[]byte("Northwind Traders quarterly totals"),
				[]byte{0x00, 0x00, 0x00, 0x00},
				utf16LE("Résumé of regional managers and their targets"),
				[]byte{0x0A, 0x00, 0x00, 0x00},
			)),
			want: []string{"Northwind Traders quarterly totals", "Résumé of regional managers and their targets"},
		},
		{
			name:     "paragraph breaks",
			filename: "minutes.ppt",
			data: buildCompoundFile("PowerPoint Document", concatBytes(
				[]byte{0x00, 0x00, 0xA8, 0x0F},
				utf16LE("Agenda for the planning meeting\rBudget review and hiring plan"),
			)),
			want: []string{"Agenda for the planning meeting\nBudget review and hiring plan"},
		},
		{
			name:     "unparseable container is scanned raw",
			filename: "sheet.xls",
			data:     concatBytes(oleSignature, utf16LE(slideSentence)),
			want:     []string{slideSentence},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.ExtractDetailed(context.Background(), tt.data, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, "ole_streams", res.Strategy)
			for _, want := range tt.want {
				assert.Contains(t, res.Text, want)
			}
		})
	}
}

func TestExtract_LegacyOfficeOtherStreams(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)
	// No "Workbook" stream, so every stream is scanned.
	data := buildCompoundFile("Contents", utf16LE(slideSentence))

	res, err := e.ExtractDetailed(context.Background(), data, "export.xls")
	require.NoError(t, err)
	assert.Equal(t, "ole_streams", res.Strategy)
	assert.Contains(t, res.Text, slideSentence)
}

func TestExtract_LegacyOfficeWithoutTextFallsThrough(t *testing.T) {
	e := NewDocumentExtractor(discardLogger(), nil, 50)
	data := buildCompoundFile("PowerPoint Document", bytes.Repeat([]byte{0xFE, 0xFF, 0xFF, 0xFF}, 256))

	res, err := e.ExtractDetailed(context.Background(), data, "empty.ppt")
	require.NoError(t, err)
	assert.Equal(t, "placeholder", res.Strategy)
}

func TestBinaryTextRuns(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"utf16 at even offset", concatBytes([]byte{0xFF, 0xFF}, utf16LE("Hello there")), "Hello there"},
		{"utf16 at odd offset", concatBytes([]byte{0xFF}, utf16LE("Hello there")), "Hello there"},
		{"8-bit with windows-1252 letters", []byte("\x00\x01Caf\xe9 menu\x00"), "Café menu"},
		{"runs in file order", concatBytes([]byte("first line\x00\x00"), utf16LE("second line")), "first line\nsecond line"},
		{"short runs dropped", []byte("\x00ab\x00cd\x00"), ""},
		{"repeated rune dropped", []byte("\x00zzzzzz\x00"), ""},
		{"latin-1 filler dropped", []byte("\x00\xfe\xff\xfe\xff\xfe\x00"), ""},
		{"cyrillic utf16", utf16LE("Привет мир"), "Привет мир"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, binaryTextRuns(tt.data, minOLERun))
		})
	}
}
