package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/serisow/ragone/app"
	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/services/llm_service"
	"github.com/serisow/ragone/services/rag_service"
	"github.com/serisow/ragone/storage"
	"github.com/serisow/ragone/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMaintenance struct {
	olderThan time.Duration
	n         int64
}

func (s *stubMaintenance) ResetStaleProcessing(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.n, nil
}

type stubIndexes struct{ err error }

func (s stubIndexes) RebuildAll(context.Context) error { return s.err }

type stubIngester struct {
	mu      sync.Mutex
	sources []string
}

func (s *stubIngester) Ingest(_ context.Context, owner, source string) (*pipeline_type.IngestResult, error) {
	s.mu.Lock()
	s.sources = append(s.sources, owner+":"+source)
	s.mu.Unlock()
	if strings.Contains(source, "broken") {
		return nil, errors.New("extraction failed")
	}
	return &pipeline_type.IngestResult{DocumentID: "doc-" + filepath.Base(source), Status: pipeline_type.StatusCompleted, ChunkCount: 3, EmbeddedCount: 2}, nil
}

func useServices(t *testing.T, svc *services) {
	t.Helper()
	old := openServices
	openServices = func(context.Context) (*services, error) { return svc, nil }
	t.Cleanup(func() { openServices = old })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResetStaleCmd(t *testing.T) {
	m := &stubMaintenance{n: 4}
	useServices(t, &services{maintenance: m})

	out, err := execute(t, "reset-stale", "--older-than", "90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, m.olderThan)
	assert.Contains(t, out, "Reset 4 stale documents.")
}

func TestReindexCmd(t *testing.T) {
	useServices(t, &services{indexes: stubIndexes{}})
	out, err := execute(t, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "Vector indexes rebuilt.")

	useServices(t, &services{indexes: stubIndexes{err: errors.New("permission denied")}})
	_, err = execute(t, "reindex")
	assert.ErrorContains(t, err, "permission denied")
}

func TestIngestCmd(t *testing.T) {
	ing := &stubIngester{}
	closed := false
	useServices(t, &services{ingester: ing, close: func() { closed = true }})

	out, err := execute(t, "ingest", "--owner", "ops", "a.txt", "broken.pdf")
	assert.ErrorContains(t, err, "1 of 2 sources failed")
	assert.Contains(t, out, "a.txt: completed, 3 chunks (2 embedded) [doc-a.txt]")
	assert.Contains(t, out, "broken.pdf: extraction failed")
	assert.Equal(t, []string{"ops:a.txt", "ops:broken.pdf"}, ing.sources)
	assert.True(t, closed)
}

func TestIngestCmd_RequiresSource(t *testing.T) {
	useServices(t, &services{ingester: &stubIngester{}})
	_, err := execute(t, "ingest")
	assert.Error(t, err)
}

func newTestIngester(t *testing.T) (*ingester, *store.MemoryStore) {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cfg := config.Config{RAG: config.DefaultRAG(), Generation: config.GenerationConfig{Provider: "openai"}}
	cfg.RAG.EmbeddingBatchPause = 0
	cfg.RAG.MaxUploadBytes = 4096
	cfg.URLFetch.Timeout = time.Second

	st := store.NewMemoryStore(2)
	a, err := app.New(cfg, st, files, testLogger(),
		app.WithEmbedder(&rag_service.MockEmbedder{}),
		app.WithGenerator(&llm_service.MockGenerator{}))
	require.NoError(t, err)
	return newIngester(a), st
}

const sampleText = "Quarterly report. Revenue grew in every region. " +
	"Support tickets fell after the new onboarding guide shipped."

func TestIngester_LocalFile(t *testing.T) {
	ing, st := newTestIngester(t)
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleText), 0o644))

	result, err := ing.Ingest(context.Background(), "ops", path)
	require.NoError(t, err)
	assert.Equal(t, pipeline_type.StatusCompleted, result.Status)

	doc, err := st.GetDocument(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", doc.Filename)
	assert.Equal(t, "ops", doc.Owner)
}

func TestIngester_LocalFileErrors(t *testing.T) {
	ing, _ := newTestIngester(t)
	dir := t.TempDir()

	_, err := ing.Ingest(context.Background(), "ops", filepath.Join(dir, "missing.txt"))
	assert.ErrorContains(t, err, "cannot read")

	_, err = ing.Ingest(context.Background(), "ops", dir)
	assert.ErrorContains(t, err, "is a directory")

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("a"), 5000), 0o644))
	_, err = ing.Ingest(context.Background(), "ops", big)
	assert.ErrorContains(t, err, "the limit is 4096")
}

func TestIngester_URL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/report.txt" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, sampleText)
	}))
	defer server.Close()
	ing, st := newTestIngester(t)
	ctx := context.Background()

	result, err := ing.Ingest(ctx, "ops", server.URL+"/files/report.txt")
	require.NoError(t, err)
	assert.Equal(t, pipeline_type.StatusCompleted, result.Status)
	doc, err := st.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", doc.Filename)
	assert.Equal(t, server.URL+"/files/report.txt", doc.StoragePath)

	result, err = ing.Ingest(ctx, "ops", server.URL+"/files/gone.txt")
	require.Error(t, err)
	assert.Equal(t, pipeline_type.StatusFailed, result.Status)
	doc, err = st.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, pipeline_type.StatusFailed, doc.Status)
}

func TestWatchDir(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- watchDir(ctx, dir, 50*time.Millisecond, testLogger(), func(path string) {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
		})
	}()
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(target, []byte("# Notes\n"), 0o644))
	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("more text\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"notes.md"}, seen)
}

func TestSupportedExtension(t *testing.T) {
	assert.True(t, supportedExtension("Report.PDF"))
	assert.True(t, supportedExtension("notes.md"))
	assert.False(t, supportedExtension("photo.jpg"))
	assert.True(t, isURL("https://example.com/a.pdf"))
	assert.False(t, isURL("/tmp/a.pdf"))
}
