package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/serisow/ragone/pipeline_type"
)

// MemoryStore is an in-process implementation of the same contract as
// PostgresStore. It is used by tests and by ragctl when no database is
// configured.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	documents  map[string]pipeline_type.Document
	chunks     map[string][]pipeline_type.Chunk // documentID -> chunks
	knowledge  map[string]pipeline_type.KnowledgeEntry
	now        func() time.Time
}

func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		dimensions: dimensions,
		documents:  make(map[string]pipeline_type.Document),
		chunks:     make(map[string][]pipeline_type.Chunk),
		knowledge:  make(map[string]pipeline_type.KnowledgeEntry),
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc *pipeline_type.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.documents[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*pipeline_type.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, pipeline_type.ErrNotFound
	}
	return &doc, nil
}

func (s *MemoryStore) UpdateDocumentStatus(_ context.Context, id string, status pipeline_type.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return pipeline_type.ErrNotFound
	}
	doc.Status = status
	doc.UpdatedAt = s.now()
	s.documents[id] = doc
	return nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return pipeline_type.ErrNotFound
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) MarkStaleProcessing(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, doc := range s.documents {
		if doc.Status == pipeline_type.StatusProcessing && doc.UpdatedAt.Before(cutoff) {
			doc.Status = pipeline_type.StatusFailed
			doc.UpdatedAt = s.now()
			s.documents[id] = doc
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ReplaceChunks(_ context.Context, documentID string, chunks []pipeline_type.Chunk) error {
	for _, c := range chunks {
		if err := checkDimensions(c.Embedding, s.dimensions); err != nil {
			return fmt.Errorf("chunk %d: %w", c.Index, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return pipeline_type.ErrNotFound
	}
	stored := make([]pipeline_type.Chunk, len(chunks))
	copy(stored, chunks)
	for i := range stored {
		stored[i].DocumentID = documentID
	}
	s.chunks[documentID] = stored
	return nil
}

func (s *MemoryStore) DeleteChunks(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

func (s *MemoryStore) ListChunks(_ context.Context, documentID string) ([]pipeline_type.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline_type.Chunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) SearchChunks(_ context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error) {
	if err := checkDimensions(&query, s.dimensions); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []pipeline_type.SearchHit
	for docID, chunks := range s.chunks {
		doc := s.documents[docID]
		if doc.Status != pipeline_type.StatusCompleted {
			continue
		}
		for _, c := range chunks {
			if sim, ok := similarity(query, c.Embedding); ok && sim > threshold {
				hits = append(hits, pipeline_type.SearchHit{ID: c.ID, Title: doc.Filename, Content: c.Content, Similarity: sim})
			}
		}
	}
	return rank(hits, topK), nil
}

func (s *MemoryStore) CreateKnowledge(_ context.Context, entry *pipeline_type.KnowledgeEntry) error {
	if err := checkDimensions(entry.Embedding, s.dimensions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *entry
	stored.Tags = pipeline_type.NormalizeTags(entry.Tags)
	s.knowledge[entry.ID] = stored
	return nil
}

func (s *MemoryStore) GetKnowledge(_ context.Context, id string) (*pipeline_type.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.knowledge[id]
	if !ok {
		return nil, pipeline_type.ErrNotFound
	}
	return &e, nil
}

func (s *MemoryStore) DeleteKnowledge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.knowledge[id]; !ok {
		return pipeline_type.ErrNotFound
	}
	delete(s.knowledge, id)
	return nil
}

func (s *MemoryStore) SearchKnowledge(_ context.Context, query pgvector.Vector, threshold float64, topK int) ([]pipeline_type.SearchHit, error) {
	if err := checkDimensions(&query, s.dimensions); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []pipeline_type.SearchHit
	for _, e := range s.knowledge {
		if sim, ok := similarity(query, e.Embedding); ok && sim > threshold {
			hits = append(hits, pipeline_type.SearchHit{ID: e.ID, Title: e.Title, Content: e.Content, Similarity: sim})
		}
	}
	return rank(hits, topK), nil
}

// rank orders by increasing distance (decreasing similarity), ties by id.
func rank(hits []pipeline_type.SearchHit, topK int) []pipeline_type.SearchHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []pipeline_type.SearchHit{}
	}
	return hits
}

// similarity is 1 - cosine distance. Zero vectors and nil embeddings have
// no defined similarity.
func similarity(query pgvector.Vector, v *pgvector.Vector) (float64, bool) {
	if v == nil {
		return 0, false
	}
	a, b := query.Slice(), v.Slice()
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
