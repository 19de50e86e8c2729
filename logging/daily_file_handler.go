package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// dailyFile is shared by every handler derived from the same root so
// WithAttrs/WithGroup children rotate and write through one descriptor.
type dailyFile struct {
	mutex           sync.Mutex
	logDir          string
	prefix          string
	currentFile     *os.File
	currentFileName string
	now             func() time.Time
}

type DailyFileHandler struct {
	file           *dailyFile
	attrs          string
	group          string
	defaultHandler slog.Handler
}

// NewDailyFileHandler writes one log file per day named <prefix>-YYYY-MM-DD.log
// under logDir and mirrors every record to stdout.
func NewDailyFileHandler(logDir, prefix string, opts *slog.HandlerOptions) (*DailyFileHandler, error) {
	return newDailyFileHandler(logDir, prefix, os.Stdout, opts)
}

func newDailyFileHandler(logDir, prefix string, mirror io.Writer, opts *slog.HandlerOptions) (*DailyFileHandler, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if prefix == "" {
		prefix = "ragone"
	}

	h := &DailyFileHandler{
		file: &dailyFile{
			logDir: logDir,
			prefix: prefix,
			now:    time.Now,
		},
		defaultHandler: slog.NewTextHandler(mirror, opts),
	}

	if err := h.file.rotateIfNeeded(); err != nil {
		return nil, err
	}

	return h, nil
}

func (f *dailyFile) rotateIfNeeded() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	fileName := fmt.Sprintf("%s-%s.log", f.prefix, f.now().Format("2006-01-02"))
	if fileName == f.currentFileName {
		return nil
	}

	if f.currentFile != nil {
		f.currentFile.Close()
	}

	file, err := os.OpenFile(filepath.Join(f.logDir, fileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	f.currentFile = file
	f.currentFileName = fileName
	return nil
}

func (f *dailyFile) write(line string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, err := f.currentFile.WriteString(line)
	return err
}

// Close releases the current log file.
func (h *DailyFileHandler) Close() error {
	h.file.mutex.Lock()
	defer h.file.mutex.Unlock()
	if h.file.currentFile == nil {
		return nil
	}
	err := h.file.currentFile.Close()
	h.file.currentFile = nil
	h.file.currentFileName = ""
	return err
}

func (h *DailyFileHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.file.rotateIfNeeded(); err != nil {
		return h.defaultHandler.Handle(ctx, r)
	}

	var attrs strings.Builder
	attrs.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&attrs, h.group, a)
		return true
	})

	logLine := fmt.Sprintf("[%s] %-5s %s%s\n",
		r.Time.Format("2006/01/02 15:04:05.000"), r.Level.String(), r.Message, attrs.String())

	err := h.file.write(logLine)

	if err2 := h.defaultHandler.Handle(ctx, r); err2 != nil && err == nil {
		err = err2
	}

	return err
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value.Resolve())
}

func (h *DailyFileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	return &DailyFileHandler{
		file:           h.file,
		attrs:          b.String(),
		group:          h.group,
		defaultHandler: h.defaultHandler.WithAttrs(attrs),
	}
}

func (h *DailyFileHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &DailyFileHandler{
		file:           h.file,
		attrs:          h.attrs,
		group:          group,
		defaultHandler: h.defaultHandler.WithGroup(name),
	}
}

func (h *DailyFileHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.defaultHandler.Enabled(ctx, level)
}
