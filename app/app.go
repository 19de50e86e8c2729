// Package app assembles the ingestion, retrieval and chat components from
// a loaded configuration. Both the HTTP server and ragctl start from here.
package app

import (
	"fmt"
	"log/slog"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/handlers"
	"github.com/serisow/ragone/server"
	"github.com/serisow/ragone/services/chat_service"
	"github.com/serisow/ragone/services/llm_service"
	"github.com/serisow/ragone/services/rag_service"
	"github.com/serisow/ragone/storage"
)

type App struct {
	Config       config.Config
	Store        rag_service.Store
	Files        storage.FileStorage
	Embedder     rag_service.Embedder
	Extractor    *rag_service.DocumentExtractor
	Chunker      *rag_service.Chunker
	Batch        *rag_service.BatchEmbedder
	Processor    *rag_service.Processor
	Knowledge    *rag_service.KnowledgeService
	Assembler    *rag_service.RetrievalAssembler
	Orchestrator *chat_service.Orchestrator
	Maintenance  *rag_service.Maintenance
	Logger       *slog.Logger
}

// Option replaces a default collaborator, mostly for tests.
type Option func(*options)

type options struct {
	embedder  rag_service.Embedder
	generator llm_service.Generator
}

func WithEmbedder(e rag_service.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

func WithGenerator(g llm_service.Generator) Option {
	return func(o *options) { o.generator = g }
}

func New(cfg config.Config, st rag_service.Store, files storage.FileStorage, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.embedder == nil {
		o.embedder = rag_service.NewEmbeddingClient(cfg.Embedding, logger)
	}
	if o.generator == nil {
		g, err := llm_service.NewGenerator(cfg.Generation, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		o.generator = g
	}

	var converter rag_service.Converter
	if cfg.Conversion.ServiceURL != "" {
		converter = rag_service.NewConversionClient(cfg.Conversion.ServiceURL, cfg.Conversion.Timeout)
		logger.Info("Using external conversion service", slog.String("url", cfg.Conversion.ServiceURL))
	}

	a := &App{
		Config:    cfg,
		Store:     st,
		Files:     files,
		Embedder:  o.embedder,
		Extractor: rag_service.NewDocumentExtractor(logger, converter, cfg.RAG.MinReadableChars),
		Chunker:   rag_service.NewChunker(cfg.RAG),
		Batch:     rag_service.NewBatchEmbedder(o.embedder, cfg.RAG, logger),
		Logger:    logger,
	}
	a.Processor = a.ProcessorFor(files)
	a.Knowledge = rag_service.NewKnowledgeService(st, o.embedder, cfg.URLFetch, logger)
	a.Assembler = rag_service.NewRetrievalAssembler(o.embedder, st, cfg.RAG, logger)
	a.Orchestrator = chat_service.NewOrchestrator(a.Assembler, o.generator, cfg.RAG, cfg.Generation, logger)
	a.Maintenance = rag_service.NewMaintenance(st, logger)
	return a, nil
}

// ProcessorFor builds a pipeline that reads document bytes from files
// instead of the default storage.
func (a *App) ProcessorFor(files storage.FileStorage) *rag_service.Processor {
	return rag_service.NewProcessor(a.Store, files, a.Extractor, a.Chunker, a.Batch, a.Logger, a.Config.RAG.PipelineTimeout)
}

func (a *App) Handlers(db handlers.Pinger) server.Handlers {
	return server.Handlers{
		Documents: handlers.NewDocumentHandler(a.Processor, a.Config.RAG.MaxUploadBytes, a.Logger),
		Search:    handlers.NewDocumentSearchHandler(a.Embedder, a.Store, a.Config.RAG, a.Logger),
		Knowledge: handlers.NewKnowledgeHandler(a.Knowledge, a.Logger),
		Chat:      handlers.NewChatHandler(a.Orchestrator, a.Logger),
		DB:        db,
	}
}
