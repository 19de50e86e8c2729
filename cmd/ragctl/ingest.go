package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/serisow/ragone/app"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/services/rag_service"
	"github.com/serisow/ragone/storage"
)

// ingester runs the pipeline synchronously for a local file or a URL.
// URLs are never copied into local storage; the document points at the
// URL and the pipeline downloads it.
type ingester struct {
	local    *rag_service.Processor
	remote   *rag_service.Processor
	maxBytes int64
}

func newIngester(a *app.App) *ingester {
	cfg := a.Config
	remote := storage.NewHTTPStorage("", cfg.URLFetch.Timeout, cfg.RAG.MaxUploadBytes, a.Logger)
	return &ingester{
		local:    a.Processor,
		remote:   a.ProcessorFor(remote),
		maxBytes: cfg.RAG.MaxUploadBytes,
	}
}

func isURL(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (i *ingester) Ingest(ctx context.Context, owner, source string) (*pipeline_type.IngestResult, error) {
	if isURL(source) {
		u, _ := url.Parse(source)
		name := path.Base(u.Path)
		if name == "." || name == "/" || name == "" {
			name = u.Host
		}
		doc, err := i.remote.RegisterStored(ctx, owner, name, "", source, 0)
		if err != nil {
			return nil, err
		}
		return i.remote.ProcessDocument(ctx, doc.ID)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", source, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", source)
	}
	if i.maxBytes > 0 && info.Size() > i.maxBytes {
		return nil, fmt.Errorf("%s is %d bytes, the limit is %d", source, info.Size(), i.maxBytes)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", source, err)
	}
	doc, err := i.local.Register(ctx, owner, filepath.Base(source), "", data)
	if err != nil {
		return nil, err
	}
	return i.local.ProcessDocument(ctx, doc.ID)
}

var ingestOwner string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url>...",
	Short: "Ingest files or URLs and wait for the pipeline to finish",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "", "owner recorded on the documents")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withServices(cmd.Context(), func(svc *services) error {
		var failed int
		for _, source := range args {
			if !ingestOne(cmd, svc.ingester, ingestOwner, source) {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(args))
		}
		return nil
	})
}

func ingestOne(cmd *cobra.Command, ing documentIngester, owner, source string) bool {
	result, err := ing.Ingest(cmd.Context(), owner, source)
	if err != nil {
		cmd.PrintErrf("%s: %v\n", source, err)
		return false
	}
	cmd.Printf("%s: %s, %d chunks (%d embedded) [%s]\n",
		source, result.Status, result.ChunkCount, result.EmbeddedCount, result.DocumentID)
	return true
}

func supportedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range rag_service.SupportedExtensions() {
		if e == ext {
			return true
		}
	}
	return false
}
