package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/molaco/codeindex/internal/store"
)

// MockBM25Index is a configurable fake of store.BM25Index for search engine tests.
type MockBM25Index struct {
	SearchFn func(ctx context.Context, query string, limit int) ([]*store.BM25Result, error)
	IndexFn  func(ctx context.Context, docs []*store.Document) error
	DeleteFn func(ctx context.Context, ids []string) error
	StatsFn  func() *store.IndexStats
}

func (m *MockBM25Index) Index(ctx context.Context, docs []*store.Document) error {
	if m.IndexFn != nil {
		return m.IndexFn(ctx, docs)
	}
	return nil
}

func (m *MockBM25Index) Search(ctx context.Context, query string, limit int) ([]*store.BM25Result, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return nil, nil
}

func (m *MockBM25Index) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

func (m *MockBM25Index) AllIDs() ([]string, error) { return nil, nil }

func (m *MockBM25Index) Stats() *store.IndexStats {
	if m.StatsFn != nil {
		return m.StatsFn()
	}
	return &store.IndexStats{}
}

func (m *MockBM25Index) Save(path string) error { return nil }
func (m *MockBM25Index) Load(path string) error { return nil }
func (m *MockBM25Index) Close() error           { return nil }

var _ store.BM25Index = (*MockBM25Index)(nil)

// MockVectorStore is a configurable fake of store.VectorStore for search engine tests.
type MockVectorStore struct {
	SearchFn func(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
	AddFn    func(ctx context.Context, ids []string, vectors [][]float32) error
	DeleteFn func(ctx context.Context, ids []string) error
	CountFn  func() int
}

func (m *MockVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if m.AddFn != nil {
		return m.AddFn(ctx, ids, vectors)
	}
	return nil
}

func (m *MockVectorStore) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, k)
	}
	return nil, nil
}

func (m *MockVectorStore) Delete(ctx context.Context, ids []string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, ids)
	}
	return nil
}

func (m *MockVectorStore) AllIDs() []string        { return nil }
func (m *MockVectorStore) Contains(id string) bool { return false }

func (m *MockVectorStore) Count() int {
	if m.CountFn != nil {
		return m.CountFn()
	}
	return 0
}

func (m *MockVectorStore) Save(path string) error { return nil }
func (m *MockVectorStore) Load(path string) error { return nil }
func (m *MockVectorStore) Close() error           { return nil }

var _ store.VectorStore = (*MockVectorStore)(nil)

// MockEmbedder is a configurable fake of embed.Embedder for search engine tests.
type MockEmbedder struct {
	EmbedFn      func(ctx context.Context, text string) ([]float32, error)
	DimensionsFn func() int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text)
	}
	return make([]float32, m.Dimensions()), nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimensions() int {
	if m.DimensionsFn != nil {
		return m.DimensionsFn()
	}
	return 768
}

func (m *MockEmbedder) ModelName() string               { return "mock-embedder" }
func (m *MockEmbedder) Available(ctx context.Context) bool { return true }
func (m *MockEmbedder) Close() error                     { return nil }
func (m *MockEmbedder) SetBatchIndex(idx int)            {}
func (m *MockEmbedder) SetFinalBatch(isFinal bool)       {}

// MockMetadataStore is an in-memory fake of store.MetadataStore for search
// engine tests. Chunks, files, and state are kept in plain maps rather than
// SQLite so tests can populate fixtures directly.
type MockMetadataStore struct {
	projects map[string]*store.Project
	files    map[string]*store.File
	chunks   map[string]*store.Chunk
	state    map[string]string
}

// NewMockMetadataStore creates an empty in-memory metadata store.
func NewMockMetadataStore() *MockMetadataStore {
	return &MockMetadataStore{
		projects: make(map[string]*store.Project),
		files:    make(map[string]*store.File),
		chunks:   make(map[string]*store.Chunk),
		state:    make(map[string]string),
	}
}

var _ store.MetadataStore = (*MockMetadataStore)(nil)

func (m *MockMetadataStore) SaveProject(ctx context.Context, project *store.Project) error {
	m.projects[project.ID] = project
	return nil
}

func (m *MockMetadataStore) GetProject(ctx context.Context, id string) (*store.Project, error) {
	return m.projects[id], nil
}

func (m *MockMetadataStore) UpdateProjectStats(ctx context.Context, id string, fileCount, chunkCount int) error {
	if p, ok := m.projects[id]; ok {
		p.FileCount = fileCount
		p.ChunkCount = chunkCount
	}
	return nil
}

func (m *MockMetadataStore) RefreshProjectStats(ctx context.Context, id string) error { return nil }

func (m *MockMetadataStore) SaveFiles(ctx context.Context, files []*store.File) error {
	for _, f := range files {
		m.files[f.ID] = f
	}
	return nil
}

func (m *MockMetadataStore) GetFileByPath(ctx context.Context, projectID, path string) (*store.File, error) {
	for _, f := range m.files {
		if f.ProjectID == projectID && f.Path == path {
			return f, nil
		}
	}
	return nil, nil
}

func (m *MockMetadataStore) GetChangedFiles(ctx context.Context, projectID string, since time.Time) ([]*store.File, error) {
	var out []*store.File
	for _, f := range m.files {
		if f.ProjectID == projectID && f.ModTime.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) ListFiles(ctx context.Context, projectID string, cursor string, limit int) ([]*store.File, string, error) {
	var paths []*store.File
	for _, f := range m.files {
		if f.ProjectID == projectID && f.Path > cursor {
			paths = append(paths, f)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Path < paths[j].Path })
	if limit > 0 && len(paths) > limit {
		return paths[:limit], paths[limit-1].Path, nil
	}
	return paths, "", nil
}

func (m *MockMetadataStore) GetFilePathsByProject(ctx context.Context, projectID string) ([]string, error) {
	var out []string
	for _, f := range m.files {
		if f.ProjectID == projectID {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetFilesForReconciliation(ctx context.Context, projectID string) (map[string]*store.File, error) {
	out := make(map[string]*store.File)
	for _, f := range m.files {
		if f.ProjectID == projectID {
			out[f.Path] = f
		}
	}
	return out, nil
}

func (m *MockMetadataStore) ListFilePathsUnder(ctx context.Context, projectID, dirPrefix string) ([]string, error) {
	var out []string
	for _, f := range m.files {
		if f.ProjectID == projectID && strings.HasPrefix(f.Path, dirPrefix) {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) DeleteFile(ctx context.Context, fileID string) error {
	delete(m.files, fileID)
	for id, c := range m.chunks {
		if c.FileID == fileID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MockMetadataStore) DeleteFilesByProject(ctx context.Context, projectID string) error {
	for id, f := range m.files {
		if f.ProjectID == projectID {
			_ = m.DeleteFile(ctx, id)
		}
	}
	return nil
}

func (m *MockMetadataStore) SaveChunks(ctx context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MockMetadataStore) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return m.chunks[id], nil
}

func (m *MockMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetChunksByFile(ctx context.Context, fileID string) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range m.chunks {
		if c.FileID == fileID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartLine < out[j].StartLine })
	return out, nil
}

func (m *MockMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *MockMetadataStore) DeleteChunksByFile(ctx context.Context, fileID string) error {
	for id, c := range m.chunks {
		if c.FileID == fileID {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *MockMetadataStore) SearchSymbols(ctx context.Context, name string, limit int) ([]*store.Symbol, error) {
	var out []*store.Symbol
	for _, c := range m.chunks {
		for _, s := range c.Symbols {
			if strings.Contains(s.Name, name) {
				out = append(out, s)
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *MockMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	return m.state[key], nil
}

func (m *MockMetadataStore) SetState(ctx context.Context, key, value string) error {
	m.state[key] = value
	return nil
}

func (m *MockMetadataStore) SaveChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32, model string) error {
	return nil
}

func (m *MockMetadataStore) GetAllEmbeddings(ctx context.Context) (map[string][]float32, error) {
	return nil, nil
}

func (m *MockMetadataStore) GetEmbeddingStats(ctx context.Context) (int, int, error) {
	return 0, 0, nil
}

func (m *MockMetadataStore) SaveIndexCheckpoint(ctx context.Context, stage string, total, embeddedCount int, embedderModel string) error {
	return nil
}

func (m *MockMetadataStore) LoadIndexCheckpoint(ctx context.Context) (*store.IndexCheckpoint, error) {
	return nil, nil
}

func (m *MockMetadataStore) ClearIndexCheckpoint(ctx context.Context) error { return nil }

func (m *MockMetadataStore) Close() error { return nil }
