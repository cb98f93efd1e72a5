// Package indexer implements the per-file indexing transaction: a single
// file goes through the sensitive-content filter, is chunked, embedded,
// and written to the vector store, BM25 index, and metadata store in a
// fixed order chosen so that partial failure never leaves the metadata
// store referencing chunks the search indices don't have.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/molaco/codeindex/internal/chunk"
	"github.com/molaco/codeindex/internal/embed"
	"github.com/molaco/codeindex/internal/scanner"
	"github.com/molaco/codeindex/internal/secrets"
	"github.com/molaco/codeindex/internal/store"
)

// DispatchChunker selects between a code and a markdown chunker based on
// the file's detected content type, so callers can hand Indexer a single
// chunk.Chunker regardless of what kind of file it's indexing.
type DispatchChunker struct {
	Code     chunk.Chunker
	Markdown chunk.Chunker
}

// Chunk implements chunk.Chunker by routing to Code or Markdown. Files
// that are neither code nor markdown produce no chunks.
func (d *DispatchChunker) Chunk(ctx context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	switch scanner.DetectContentType(file.Language) {
	case scanner.ContentTypeCode:
		return d.Code.Chunk(ctx, file)
	case scanner.ContentTypeMarkdown:
		return d.Markdown.Chunk(ctx, file)
	default:
		return nil, nil
	}
}

// SupportedExtensions returns the union of both chunkers' extensions.
func (d *DispatchChunker) SupportedExtensions() []string {
	return append(d.Code.SupportedExtensions(), d.Markdown.SupportedExtensions()...)
}

// Status describes the outcome of indexing a single file.
type Status string

const (
	// StatusIndexed means the file's chunks were written to all stores.
	StatusIndexed Status = "indexed"
	// StatusUnchanged means the file produced no chunks and nothing
	// needed to be deleted (never indexed, or indexing is a no-op).
	StatusUnchanged Status = "unchanged"
	// StatusSkipped means the file was rejected by the sensitive-content
	// filter and was never chunked.
	StatusSkipped Status = "skipped"
)

// FileResult is the outcome of a single-file indexing transaction.
type FileResult struct {
	Status     Status
	ChunkCount int
	Latency    time.Duration
}

// DirectoryStats aggregates FileResults across a batch of files.
type DirectoryStats struct {
	Indexed    int
	Unchanged  int
	Skipped    int
	Errored    int
	ChunkCount int
	Duration   time.Duration
}

// Indexer owns the per-file indexing transaction against the four
// downstream stores (C3 filter, C4 chunker, C5 embedder, C6 BM25, C7
// vector, C2 metadata).
type Indexer struct {
	filter   *secrets.Filter
	chunker  chunk.Chunker
	embedder embed.Embedder
	bm25     store.BM25Index
	vector   store.VectorStore
	metadata store.MetadataStore

	// MaxBatchSize bounds how many chunk contents are embedded in a
	// single call to the embedder's EmbedBatch. 0 means no batching -
	// all chunks from one file are embedded in a single call.
	MaxBatchSize int

	// MaxFileSize is the byte ceiling above which a file is skipped
	// (StatusSkipped) rather than read and indexed. 0 means no limit.
	MaxFileSize int64
}

// New creates an Indexer. chunker selects the appropriate chunker for a
// given file's content type (code vs markdown); callers typically pass a
// small dispatching wrapper around chunk.NewCodeChunker/NewMarkdownChunker.
func New(filter *secrets.Filter, chunker chunk.Chunker, embedder embed.Embedder, bm25 store.BM25Index, vector store.VectorStore, metadata store.MetadataStore) *Indexer {
	return &Indexer{
		filter:   filter,
		chunker:  chunker,
		embedder: embedder,
		bm25:     bm25,
		vector:   vector,
		metadata: metadata,
	}
}

// IndexFile runs the full per-file transaction for one file, identified by
// its project-relative path and project ID.
//
// Order: read -> C3 filter (path then content) -> C4 chunk. An empty
// chunk result means the file became non-indexable (e.g. emptied, or now
// matches an exclusion); any prior chunks for the file are purged from
// C7, C6, and C2 and StatusUnchanged is returned. Otherwise: C5 embeds
// the batch, C7 is upserted first, then C6; C2's FileRecord is upserted
// last so that a C2 entry is a durable promise that both C6 and C7 hold
// the chunks it names. If the C6 upsert fails after C7 succeeded, the
// just-written C7 vectors are deleted best-effort and C2 is left
// untouched - the caller's next pass will retry, and retried upserts are
// idempotent because chunk IDs are content-derived.
func (ix *Indexer) IndexFile(ctx context.Context, projectID, absPath, relPath string) (*FileResult, error) {
	start := time.Now()

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", relPath, err)
	}
	if ix.MaxFileSize > 0 && info.Size() > ix.MaxFileSize {
		return &FileResult{Status: StatusSkipped, Latency: time.Since(start)}, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}

	if !ix.filter.ShouldIndex(relPath, content) {
		return &FileResult{Status: StatusSkipped, Latency: time.Since(start)}, nil
	}

	fileID := fileID(projectID, relPath)
	language := scanner.DetectLanguage(relPath)

	chunks, err := ix.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     relPath,
		Content:  content,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", relPath, err)
	}

	if len(chunks) == 0 {
		if err := ix.purgeFile(ctx, fileID); err != nil {
			return nil, fmt.Errorf("purge non-indexable %s: %w", relPath, err)
		}
		return &FileResult{Status: StatusUnchanged, Latency: time.Since(start)}, nil
	}

	now := time.Now()
	storeChunks := make([]*store.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = &store.Chunk{
			ID:          c.ID,
			FileID:      fileID,
			FilePath:    relPath,
			Content:     c.Content,
			RawContent:  c.RawContent,
			Context:     c.Context,
			ContentType: store.ContentType(c.ContentType),
			Language:    c.Language,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			Symbols:     convertSymbols(c.Symbols),
			Metadata:    c.Metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	embeddings, err := ix.embedBatched(ctx, storeChunks)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", relPath, err)
	}

	ids := make([]string, len(storeChunks))
	for i, c := range storeChunks {
		ids[i] = c.ID
	}

	if err := ix.vector.Add(ctx, ids, embeddings); err != nil {
		return nil, fmt.Errorf("vector upsert %s: %w", relPath, err)
	}

	docs := make([]*store.Document, len(storeChunks))
	for i, c := range storeChunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}

	if err := ix.bm25.Index(ctx, docs); err != nil {
		if delErr := ix.vector.Delete(ctx, ids); delErr != nil {
			slog.Warn("compensating vector delete failed after bm25 upsert error",
				slog.String("path", relPath),
				slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("bm25 upsert %s: %w", relPath, err)
	}

	file := &store.File{
		ID:          fileID,
		ProjectID:   projectID,
		Path:        relPath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentHash: contentHash(content),
		ContentType: string(storeChunks[0].ContentType),
		Language:    storeChunks[0].Language,
		IndexedAt:   now,
	}
	if err := ix.metadata.SaveFiles(ctx, []*store.File{file}); err != nil {
		return nil, fmt.Errorf("save file record %s: %w", relPath, err)
	}
	if err := ix.metadata.SaveChunks(ctx, storeChunks); err != nil {
		return nil, fmt.Errorf("save chunk records %s: %w", relPath, err)
	}

	return &FileResult{
		Status:     StatusIndexed,
		ChunkCount: len(storeChunks),
		Latency:    time.Since(start),
	}, nil
}

// IndexDirectory walks root and indexes every file the scanner considers
// code or markdown, running IndexFile sequentially. Parallel, diff-aware
// indexing across a tree is the incremental driver's job; this is the
// straight-line bulk path used for a project's first index.
func (ix *Indexer) IndexDirectory(ctx context.Context, sc *scanner.Scanner, projectID, root string) (*DirectoryStats, error) {
	start := time.Now()
	stats := &DirectoryStats{}

	results, err := sc.Scan(ctx, &scanner.ScanOptions{RootDir: root, RespectGitignore: true})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	for result := range results {
		if result.Error != nil || result.File == nil {
			continue
		}
		if result.File.ContentType != scanner.ContentTypeCode && result.File.ContentType != scanner.ContentTypeMarkdown {
			continue
		}

		res, err := ix.IndexFile(ctx, projectID, result.File.AbsPath, result.File.Path)
		if err != nil {
			slog.Warn("failed to index file", slog.String("path", result.File.Path), slog.String("error", err.Error()))
			stats.Errored++
			continue
		}

		switch res.Status {
		case StatusIndexed:
			stats.Indexed++
			stats.ChunkCount += res.ChunkCount
		case StatusUnchanged:
			stats.Unchanged++
		case StatusSkipped:
			stats.Skipped++
		}
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// DeleteFile removes a file's chunks from all three stores, in the
// reverse order of upsert: C6 then C7 then C2. Deleting C2's FileRecord
// first would leave orphaned C6/C7 entries with nothing claiming them,
// which is exactly the condition the consistency checker flags as
// orphan_bm25/orphan_vector; deleting in this order keeps "C2 entry
// implies both stores have the chunks" true at every point in between.
func (ix *Indexer) DeleteFile(ctx context.Context, projectID, relPath string) error {
	return ix.purgeFile(ctx, fileID(projectID, relPath))
}

func (ix *Indexer) purgeFile(ctx context.Context, fid string) error {
	chunks, err := ix.metadata.GetChunksByFile(ctx, fid)
	if err != nil {
		return nil
	}
	if len(chunks) == 0 {
		return ix.metadata.DeleteFile(ctx, fid)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	if err := ix.bm25.Delete(ctx, ids); err != nil {
		slog.Warn("bm25 delete failed during purge", slog.String("error", err.Error()))
	}
	if err := ix.vector.Delete(ctx, ids); err != nil {
		slog.Warn("vector delete failed during purge", slog.String("error", err.Error()))
	}
	return ix.metadata.DeleteFile(ctx, fid)
}

// embedBatched embeds chunk contents respecting ix.MaxBatchSize.
func (ix *Indexer) embedBatched(ctx context.Context, chunks []*store.Chunk) ([][]float32, error) {
	batchSize := ix.MaxBatchSize
	if batchSize <= 0 || batchSize >= len(chunks) {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		return ix.embedder.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Content
		}
		batch, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func convertSymbols(symbols []*chunk.Symbol) []*store.Symbol {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]*store.Symbol, len(symbols))
	for i, s := range symbols {
		out[i] = &store.Symbol{
			Name:       s.Name,
			Type:       store.SymbolType(s.Type),
			StartLine:  s.StartLine,
			EndLine:    s.EndLine,
			Signature:  s.Signature,
			DocComment: s.DocComment,
		}
	}
	return out
}

func fileID(projectID, relPath string) string {
	h := sha256.Sum256([]byte(projectID + ":" + relPath))
	return hex.EncodeToString(h[:])[:16]
}

func contentHash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
