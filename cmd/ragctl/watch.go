package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// watchDir calls handle once a supported file under dir has been quiet for
// settle after a create or write. Editors and copies emit several writes per
// file; only the last one counts.
func watchDir(ctx context.Context, dir string, settle time.Duration, logger *slog.Logger, handle func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		wg      sync.WaitGroup
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			if t.Stop() {
				wg.Done()
			}
		}
		mu.Unlock()
		wg.Wait()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok && t.Stop() {
			wg.Done()
		}
		wg.Add(1)
		var t *time.Timer
		t = time.AfterFunc(settle, func() {
			defer wg.Done()
			mu.Lock()
			if pending[path] == t {
				delete(pending, path)
			}
			mu.Unlock()
			if ctx.Err() == nil {
				handle(path)
			}
		})
		pending[path] = t
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !supportedExtension(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			schedule(event.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("File watcher error", slog.String("error", err.Error()))
		}
	}
}

var (
	watchOwner  string
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest supported files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchOwner, "owner", "", "owner recorded on the documents")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "quiet period before a changed file is ingested")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withServices(ctx, func(svc *services) error {
		cmd.Printf("Watching %s for new documents...\n", args[0])
		return watchDir(ctx, args[0], watchSettle, newLogger(), func(path string) {
			ingestOne(cmd, svc.ingester, watchOwner, path)
		})
	})
}
