package bm25

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/molaco/codeindex/internal/config"
	"github.com/molaco/codeindex/internal/store"
)

// LOC thresholds for auto-scaling the BM25 index's memory/thread budget.
const (
	locSmallThreshold  = 100_000
	locMediumThreshold = 1_000_000
)

// ScaleConfigForLOC returns a BM25Config with MemoryBudgetMB/WriterThreads
// scaled to the codebase's line count: small (<100k LOC) codebases get
// 50MB/2 threads, medium (<1M) get 100MB/4, anything larger gets 200MB/8.
// The rest of the config (K1/B/stop words) stays at DefaultBM25Config.
func ScaleConfigForLOC(loc int) store.BM25Config {
	cfg := store.DefaultBM25Config()
	switch {
	case loc < locSmallThreshold:
		cfg.MemoryBudgetMB, cfg.WriterThreads = 50, 2
	case loc < locMediumThreshold:
		cfg.MemoryBudgetMB, cfg.WriterThreads = 100, 4
	default:
		cfg.MemoryBudgetMB, cfg.WriterThreads = 200, 8
	}
	return cfg
}

// CountLOC walks root and sums line counts across every regular file for
// which reject returns false, to feed ScaleConfigForLOC. It's a cheap scale
// signal, not an exact source-line count: unreadable files are skipped
// rather than failing the walk.
func CountLOC(root string, reject func(relPath string) bool) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		relPath, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if reject != nil && reject(relPath) {
			return nil
		}
		n, countErr := countFileLines(path)
		if countErr != nil {
			return nil
		}
		total += n
		return nil
	})
	return total, err
}

// ConfigFromIndexing builds a BM25Config for a directory: it uses
// tantivy_memory_mb/tantivy_threads from idxCfg when explicitly set
// (non-zero), and falls back to ScaleConfigForLOC(CountLOC(root, reject))
// otherwise, per spec.md §4.6 ("auto-scaled from LOC when absent").
func ConfigFromIndexing(idxCfg config.IndexingConfig, root string, reject func(relPath string) bool) (store.BM25Config, error) {
	if idxCfg.TantivyMemoryMB > 0 && idxCfg.TantivyThreads > 0 {
		cfg := store.DefaultBM25Config()
		cfg.MemoryBudgetMB = idxCfg.TantivyMemoryMB
		cfg.WriterThreads = idxCfg.TantivyThreads
		return cfg, nil
	}

	loc, err := CountLOC(root, reject)
	if err != nil {
		return store.BM25Config{}, err
	}
	cfg := ScaleConfigForLOC(loc)
	if idxCfg.TantivyMemoryMB > 0 {
		cfg.MemoryBudgetMB = idxCfg.TantivyMemoryMB
	}
	if idxCfg.TantivyThreads > 0 {
		cfg.WriterThreads = idxCfg.TantivyThreads
	}
	return cfg, nil
}

func countFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
