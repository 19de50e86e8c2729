package rag_service

import (
	"context"
	"testing"

	"github.com/serisow/ragone/pipeline_type"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_RegisterAndRemove(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, err := f.processor.Register(ctx, "owner-1", "reports/summary.md", "", []byte(prose))
	require.NoError(t, err)
	assert.Equal(t, pipeline_type.StatusPending, doc.Status)
	assert.Equal(t, "summary.md", doc.Filename)
	assert.Equal(t, "text/markdown", doc.MimeType)
	assert.Equal(t, int64(len(prose)), doc.Size)

	data, err := f.files.Load(ctx, doc.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, prose, string(data))

	_, err = f.processor.ProcessDocument(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, f.processor.Remove(ctx, doc.ID))
	_, err = f.processor.Document(ctx, doc.ID)
	assert.ErrorIs(t, err, pipeline_type.ErrNotFound)
	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = f.files.Load(ctx, doc.StoragePath)
	assert.Error(t, err)

	assert.ErrorIs(t, f.processor.Remove(ctx, doc.ID), pipeline_type.ErrNotFound)
}

func TestProcessor_RegisterRequiresFilename(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.processor.Register(context.Background(), "owner-1", "", "", []byte("x"))
	assert.ErrorIs(t, err, pipeline_type.ErrInvalidInput)
}

func TestProcessor_RegisterMimeType(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		declared string
		want     string
	}{
		{"declared type is kept", "export.bin", "text/csv", "text/csv"},
		{"parameters are dropped", "notes.txt", "text/plain; charset=utf-8", "text/plain"},
		{"empty falls back to extension", "guide.pdf", "", "application/pdf"},
		{"octet-stream falls back to extension", "slides.pptx", "application/octet-stream",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
		{"malformed falls back to extension", "readme.md", "text/", "text/markdown"},
	}

	f := newPipelineFixture(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := f.processor.Register(context.Background(), "owner-1", tt.filename, tt.declared, []byte(prose))
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.MimeType)

			stored, err := f.processor.Document(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.MimeType)
		})
	}
}
