package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/serisow/ragone/pipeline_type"
)

// PostgresStore persists documents, chunks and knowledge entries in
// PostgreSQL and answers similarity queries with pgvector's cosine
// distance operator.
type PostgresStore struct {
	db         *pgxpool.Pool
	logger     *slog.Logger
	dimensions int
}

func NewPostgresStore(db *pgxpool.Pool, dimensions int, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:         db,
		logger:     logger,
		dimensions: dimensions,
	}
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *pipeline_type.Document) error {
	query := `INSERT INTO documents (id, owner, filename, size, mime_type, status, storage_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.Exec(ctx, query, doc.ID, doc.Owner, doc.Filename, doc.Size, doc.MimeType,
		string(doc.Status), doc.StoragePath, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*pipeline_type.Document, error) {
	query := `SELECT id, owner, filename, size, mime_type, status, storage_path, created_at, updated_at
		FROM documents WHERE id = $1`

	var doc pipeline_type.Document
	var status string
	err := s.db.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Owner, &doc.Filename, &doc.Size,
		&doc.MimeType, &status, &doc.StoragePath, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline_type.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	doc.Status = pipeline_type.DocumentStatus(status)
	return &doc, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status pipeline_type.DocumentStatus) error {
	tag, err := s.db.Exec(ctx, `UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline_type.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline_type.ErrNotFound
	}
	return nil
}

// MarkStaleProcessing moves documents stuck in processing since before
// cutoff to failed so their owners can retry them.
func (s *PostgresStore) MarkStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET status = 'failed', updated_at = now() WHERE status = 'processing' AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceChunks deletes any existing chunks of the document and inserts
// the new set in one transaction.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, chunks []pipeline_type.Chunk) error {
	for _, c := range chunks {
		if err := checkDimensions(c.Embedding, s.dimensions); err != nil {
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`INSERT INTO document_chunks
			(id, document_id, chunk_index, content, token_estimate, embedding, start_offset, end_offset)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, documentID, c.Index, c.Content, c.TokenEstimate, c.Embedding,
			c.Metadata.StartOffset, c.Metadata.EndOffset)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]pipeline_type.Chunk, error) {
	rows, err := s.db.Query(ctx, `SELECT id, document_id, chunk_index, content, token_estimate,
			embedding, start_offset, end_offset
		FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []pipeline_type.Chunk
	for rows.Next() {
		var c pipeline_type.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.TokenEstimate,
			&c.Embedding, &c.Metadata.StartOffset, &c.Metadata.EndOffset); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SearchChunks returns chunks of completed documents whose similarity to
// query is strictly greater than threshold, nearest first.
func (s *PostgresStore) SearchChunks(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error) {
	const q = `
		WITH scored_chunks AS (
			SELECT c.id, d.filename AS title, c.content, c.embedding <=> $1 AS distance
			FROM document_chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE d.status = 'completed' AND c.embedding IS NOT NULL
		)
		SELECT id, title, content, 1 - distance AS similarity
		FROM scored_chunks
		WHERE 1 - distance > $2
		ORDER BY distance ASC, id ASC
		LIMIT $3`
	return s.search(ctx, q, query, threshold, topK)
}

func (s *PostgresStore) CreateKnowledge(ctx context.Context, entry *pipeline_type.KnowledgeEntry) error {
	if err := checkDimensions(entry.Embedding, s.dimensions); err != nil {
		return err
	}
	query := `INSERT INTO knowledge_entries
		(id, owner, title, description, source_type, source_reference, content, embedding, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.Exec(ctx, query, entry.ID, entry.Owner, entry.Title, entry.Description,
		string(entry.SourceType), entry.SourceReference, entry.Content, entry.Embedding,
		pipeline_type.NormalizeTags(entry.Tags), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store knowledge entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetKnowledge(ctx context.Context, id string) (*pipeline_type.KnowledgeEntry, error) {
	query := `SELECT id, owner, title, description, source_type, source_reference, content, tags, created_at, updated_at
		FROM knowledge_entries WHERE id = $1`

	var e pipeline_type.KnowledgeEntry
	var sourceType string
	err := s.db.QueryRow(ctx, query, id).Scan(&e.ID, &e.Owner, &e.Title, &e.Description, &sourceType,
		&e.SourceReference, &e.Content, &e.Tags, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline_type.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge entry: %w", err)
	}
	e.SourceType = pipeline_type.SourceType(sourceType)
	return &e, nil
}

func (s *PostgresStore) DeleteKnowledge(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline_type.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SearchKnowledge(ctx context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error) {
	const q = `
		WITH scored_entries AS (
			SELECT id, title, content, embedding <=> $1 AS distance
			FROM knowledge_entries
			WHERE embedding IS NOT NULL
		)
		SELECT id, title, content, 1 - distance AS similarity
		FROM scored_entries
		WHERE 1 - distance > $2
		ORDER BY distance ASC, id ASC
		LIMIT $3`
	return s.search(ctx, q, query, threshold, topK)
}

func (s *PostgresStore) search(ctx context.Context, sql string, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error) {
	if err := checkDimensions(&query, s.dimensions); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, sql, query, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	hits := make([]pipeline_type.SearchHit, 0, topK)
	for rows.Next() {
		var hit pipeline_type.SearchHit
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Content, &hit.Similarity); err != nil {
			s.logger.Error("Failed to scan row",
				slog.String("error", err.Error()))
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return hits, nil
}

func checkDimensions(v *pgvector.Vector, dims int) error {
	if v == nil || dims <= 0 {
		return nil
	}
	if got := len(v.Slice()); got != dims {
		return fmt.Errorf("%w: got %d, want %d", pipeline_type.ErrDimensionMismatch, got, dims)
	}
	return nil
}
