package rag_service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/serisow/ragone/config"
)

// ChunkSpan is a piece of the source text. StartOffset and EndOffset are
// byte offsets of Content in the text that was chunked.
type ChunkSpan struct {
	Content     string
	StartOffset int
	EndOffset   int
}

type Chunker struct {
	size    int
	overlap int
}

func NewChunker(cfg config.RAGConfig) *Chunker {
	size, overlap := normalizeWindow(cfg.ChunkSize, cfg.ChunkOverlap)
	return &Chunker{size: size, overlap: overlap}
}

// ChunkText picks the heading-aware splitter for Markdown input.
func (c *Chunker) ChunkText(text string, markdown bool) []ChunkSpan {
	if markdown {
		return ChunkMarkdown(text, c.size, c.overlap)
	}
	return Chunk(text, c.size, c.overlap)
}

func normalizeWindow(maxSize, overlap int) (int, int) {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize - 1
	}
	return maxSize, overlap
}

// Chunk splits text into windows of at most maxSize bytes. A window that
// does not reach the end of the text is cut just after the last sentence
// terminator or newline in its second half, when there is one. Consecutive
// windows share overlap bytes.
func Chunk(text string, maxSize, overlap int) []ChunkSpan {
	maxSize, overlap = normalizeWindow(maxSize, overlap)
	return window(nil, text, 0, len(text), maxSize, overlap)
}

func window(spans []ChunkSpan, text string, from, to, maxSize, overlap int) []ChunkSpan {
	start := from
	for start < to {
		end := start + maxSize
		if end >= to {
			end = to
		} else {
			end = snapBoundary(text, start, end, maxSize)
		}

		spans = appendTrimmed(spans, text, start, end)
		if end >= to {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		for next < to && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return spans
}

// snapBoundary moves end back to just after a terminator, never before
// the window's midpoint, and otherwise onto a rune boundary.
func snapBoundary(text string, start, end, maxSize int) int {
	floor := start + maxSize/2
	for i := end - 1; i >= start && i+1 >= floor; i-- {
		switch text[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	for end > start+1 && !utf8.RuneStart(text[end]) {
		end--
	}
	if !utf8.RuneStart(text[end]) {
		// A single rune wider than the window.
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
	}
	return end
}

func appendTrimmed(spans []ChunkSpan, text string, start, end int) []ChunkSpan {
	raw := text[start:end]
	left := strings.TrimLeftFunc(raw, unicode.IsSpace)
	content := strings.TrimRightFunc(left, unicode.IsSpace)
	if content == "" {
		return spans
	}
	s := start + len(raw) - len(left)
	return append(spans, ChunkSpan{Content: content, StartOffset: s, EndOffset: s + len(content)})
}

var (
	// One to three leading hashes. The space CommonMark requires is optional.
	markdownHeading = regexp.MustCompile(`(?m)^#{1,3}(?:[^#]|$)`)
	blankLine       = regexp.MustCompile(`\n[ \t]*\n`)
)

// ChunkMarkdown keeps heading sections together when they fit, packs the
// paragraphs of larger sections up to maxSize and falls back to windowing
// for a single paragraph that is still too large.
func ChunkMarkdown(text string, maxSize, overlap int) []ChunkSpan {
	maxSize, overlap = normalizeWindow(maxSize, overlap)

	bounds := []int{0}
	for _, loc := range markdownHeading.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			bounds = append(bounds, loc[0])
		}
	}
	bounds = append(bounds, len(text))

	var spans []ChunkSpan
	for i := 0; i+1 < len(bounds); i++ {
		from, to := bounds[i], bounds[i+1]
		if len(strings.TrimSpace(text[from:to])) <= maxSize {
			spans = appendTrimmed(spans, text, from, to)
			continue
		}
		spans = packParagraphs(spans, text, from, to, maxSize, overlap)
	}
	return spans
}

func packParagraphs(spans []ChunkSpan, text string, from, to, maxSize, overlap int) []ChunkSpan {
	type para struct{ start, end int }
	var paras []para
	pos := from
	for _, loc := range blankLine.FindAllStringIndex(text[from:to], -1) {
		paras = append(paras, para{start: pos, end: from + loc[0]})
		pos = from + loc[1]
	}
	paras = append(paras, para{start: pos, end: to})

	packStart, packEnd := -1, -1
	flush := func() {
		if packStart >= 0 {
			spans = appendTrimmed(spans, text, packStart, packEnd)
		}
		packStart, packEnd = -1, -1
	}

	for _, p := range paras {
		if strings.TrimSpace(text[p.start:p.end]) == "" {
			continue
		}
		if p.end-p.start > maxSize {
			flush()
			spans = window(spans, text, p.start, p.end, maxSize, overlap)
			continue
		}
		if packStart >= 0 && p.end-packStart <= maxSize {
			packEnd = p.end
			continue
		}
		flush()
		packStart, packEnd = p.start, p.end
	}
	flush()
	return spans
}
