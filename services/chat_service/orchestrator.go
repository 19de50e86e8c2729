package chat_service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/serisow/ragone/config"
	"github.com/serisow/ragone/pipeline_type"
	"github.com/serisow/ragone/services/llm_service"
	"github.com/serisow/ragone/services/rag_service"
)

// ErrGenerationFailed wraps any failure of the generation provider.
var ErrGenerationFailed = errors.New("generation failed")

// FallbackAnswer is shown to the user in place of upstream error detail.
const FallbackAnswer = "I'm sorry, I couldn't generate a response right now. Please try again."

const persona = "You are a helpful assistant for a document knowledge base. " +
	"Answer the user's question using the provided context when it is relevant. " +
	"If the context does not contain the answer, say so plainly instead of guessing."

const noContext = "No relevant context was found for this question."

// ContextAssembler is the retrieval side the orchestrator depends on.
type ContextAssembler interface {
	Assemble(ctx context.Context, query string) (rag_service.AssembledContext, rag_service.RetrievalStats, error)
}

type ChatRequest struct {
	Message string                `json:"message"`
	History []llm_service.Message `json:"history"`
}

type ChatResponse struct {
	Answer       string                          `json:"answer"`
	ContextStats rag_service.RetrievalStats      `json:"context_stats"`
	Sources      []pipeline_type.RetrievalResult `json:"sources,omitempty"`
	Duration     float64                         `json:"duration_seconds"`
}

type Orchestrator struct {
	assembler ContextAssembler
	generator llm_service.Generator
	turns     int
	opts      llm_service.GenerateOptions
	logger    *slog.Logger
}

func NewOrchestrator(assembler ContextAssembler, generator llm_service.Generator, rag config.RAGConfig, gen config.GenerationConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		assembler: assembler,
		generator: generator,
		turns:     rag.HistoryTurns,
		opts: llm_service.GenerateOptions{
			MaxOutputTokens: gen.MaxOutputTokens,
			Temperature:     gen.Temperature,
		},
		logger: logger,
	}
}

// Reply answers one chat turn. Retrieval problems only shrink the context;
// a generation failure returns ErrGenerationFailed together with a response
// carrying FallbackAnswer.
func (o *Orchestrator) Reply(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	start := time.Now()
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResponse{}, fmt.Errorf("chat message cannot be empty")
	}

	assembled, stats, err := o.assembler.Assemble(ctx, message)
	if err != nil {
		o.logger.Warn("Continuing without retrieved context",
			slog.String("query", message),
			slog.String("error", err.Error()))
	}

	messages := o.BuildMessages(assembled.Block, req.History, message)
	answer, err := o.generator.Generate(ctx, messages, o.opts)
	resp := ChatResponse{
		ContextStats: stats,
		Sources:      assembled.Results,
		Duration:     time.Since(start).Seconds(),
	}
	if err != nil {
		o.logger.Error("Generation failed",
			slog.String("query", message),
			slog.String("error", err.Error()))
		resp.Answer = FallbackAnswer
		return resp, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	resp.Answer = answer
	o.logger.Info("Chat reply generated",
		slog.Int("chunks_used", stats.ChunksUsed),
		slog.Int("knowledge_used", stats.KnowledgeUsed),
		slog.Float64("duration_seconds", resp.Duration))
	return resp, nil
}

// BuildMessages lays out the system instruction, the most recent history
// turns and the new user message.
func (o *Orchestrator) BuildMessages(contextBlock string, history []llm_service.Message, message string) []llm_service.Message {
	messages := []llm_service.Message{{Role: llm_service.RoleSystem, Content: systemPrompt(contextBlock)}}
	messages = append(messages, recentTurns(history, o.turns)...)
	return append(messages, llm_service.Message{Role: llm_service.RoleUser, Content: message})
}

func systemPrompt(contextBlock string) string {
	if strings.TrimSpace(contextBlock) == "" {
		return persona + "\n\n" + noContext
	}
	return persona + "\n\nContext:\n" + contextBlock
}

// recentTurns keeps the last n user and assistant messages, dropping blank
// ones and any caller-supplied system messages.
func recentTurns(history []llm_service.Message, n int) []llm_service.Message {
	if n <= 0 {
		return nil
	}
	var kept []llm_service.Message
	for _, m := range history {
		if m.Role != llm_service.RoleUser && m.Role != llm_service.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
