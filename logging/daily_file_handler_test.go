package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestDailyFileHandler_WritesFileAndMirror(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer

	h, err := newDailyFileHandler(dir, "ingest", &mirror, &slog.HandlerOptions{Level: slog.LevelDebug})
	require.NoError(t, err)
	defer h.Close()

	day := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	h.file.now = func() time.Time { return day }
	h.file.currentFileName = ""
	require.NoError(t, h.file.rotateIfNeeded())

	logger := slog.New(h).With(slog.String("document_id", "doc-1"))
	logger.WithGroup("embed").Info("chunk embedded", slog.Int("chunk_index", 3))

	content := readLog(t, dir, "ingest-2026-03-04.log")
	assert.Contains(t, content, "chunk embedded")
	assert.Contains(t, content, "document_id=doc-1")
	assert.Contains(t, content, "embed.chunk_index=3")
	assert.Contains(t, mirror.String(), "chunk embedded")
}

func TestDailyFileHandler_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	h, err := newDailyFileHandler(dir, "ragone", &bytes.Buffer{}, nil)
	require.NoError(t, err)
	defer h.Close()

	current := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	h.file.now = func() time.Time { return current }
	h.file.currentFileName = ""

	logger := slog.New(h)
	logger.Info("first day")
	current = current.Add(2 * time.Minute)
	logger.Info("second day")

	assert.Contains(t, readLog(t, dir, "ragone-2026-01-01.log"), "first day")
	second := readLog(t, dir, "ragone-2026-01-02.log")
	assert.Contains(t, second, "second day")
	assert.NotContains(t, second, "first day")
}

func TestDailyFileHandler_DerivedHandlersShareFile(t *testing.T) {
	dir := t.TempDir()
	h, err := newDailyFileHandler(dir, "", &bytes.Buffer{}, nil)
	require.NoError(t, err)
	defer h.Close()

	child := h.WithAttrs([]slog.Attr{slog.String("component", "retrieval")}).(*DailyFileHandler)
	assert.Same(t, h.file, child.file)

	slog.New(child).Warn("search degraded")
	assert.Contains(t, readLog(t, dir, h.file.currentFileName), "component=retrieval")
	assert.Contains(t, h.file.currentFileName, "ragone-")
}

func TestDailyFileHandler_Enabled(t *testing.T) {
	h, err := newDailyFileHandler(t.TempDir(), "x", &bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	require.NoError(t, err)
	defer h.Close()

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
