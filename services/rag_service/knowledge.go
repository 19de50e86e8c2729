package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
)

type KnowledgeInput struct {
	Owner           string
	Title           string
	Description     string
	Content         string
	SourceType      pipeline_type.SourceType
	SourceReference *string
	Tags            []string
}

// KnowledgeService curates standalone knowledge entries, typed in by hand
// or scraped from a web page.
type KnowledgeService struct {
	store     KnowledgeStore
	embedder  Embedder
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

func NewKnowledgeService(store KnowledgeStore, embedder Embedder, cfg config.URLFetchConfig, logger *slog.Logger) *KnowledgeService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KnowledgeService{
		store:     store,
		embedder:  embedder,
		client:    &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		logger:    logger,
		now:       time.Now,
	}
}

// AddManual validates, embeds and stores an entry. An entry that cannot be
// embedded is rejected rather than stored unsearchable.
func (k *KnowledgeService) AddManual(ctx context.Context, in KnowledgeInput) (*pipeline_type.KnowledgeEntry, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", pipeline_type.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", pipeline_type.ErrInvalidInput)
	}
	sourceType := in.SourceType
	if sourceType == "" {
		sourceType = pipeline_type.SourceManual
	}
	switch sourceType {
	case pipeline_type.SourceManual, pipeline_type.SourceURL, pipeline_type.SourceDocument:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", pipeline_type.ErrInvalidInput, sourceType)
	}

	vec, err := k.embedder.Embed(ctx, title+"\n\n"+content)
	if err != nil {
		k.logger.Error("Failed to embed knowledge entry",
			slog.String("title", title),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to embed knowledge entry: %w", err)
	}

	now := k.now()
	entry := &pipeline_type.KnowledgeEntry{
		ID:              uuid.NewString(),
		Owner:           in.Owner,
		Title:           title,
		Description:     strings.TrimSpace(in.Description),
		SourceType:      sourceType,
		SourceReference: in.SourceReference,
		Content:         content,
		Embedding:       &vec,
		Tags:            pipeline_type.NormalizeTags(in.Tags),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := k.store.CreateKnowledge(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store knowledge entry: %w", err)
	}

	k.logger.Info("Knowledge entry created",
		slog.String("knowledge_id", entry.ID),
		slog.String("source_type", string(entry.SourceType)),
		slog.Int("content_length", len(entry.Content)))
	return entry, nil
}

func (k *KnowledgeService) Get(ctx context.Context, id string) (*pipeline_type.KnowledgeEntry, error) {
	return k.store.GetKnowledge(ctx, id)
}

func (k *KnowledgeService) Delete(ctx context.Context, id string) error {
	return k.store.DeleteKnowledge(ctx, id)
}
