package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// verifyCopy compares the BLAKE3 digests of src and dst and returns the
// digest when they match.
func verifyCopy(src, dst string) (string, error) {
	srcHash, err := HashFile(src)
	if err != nil {
		return "", err
	}
	dstHash, err := HashFile(dst)
	if err != nil {
		return "", err
	}
	if srcHash != dstHash {
		return "", fmt.Errorf("%s: %w", src, ErrVerifyMismatch)
	}
	return srcHash, nil
}

// VerifyConfig controls a verification pass over an archive.
type VerifyConfig struct {
	SrcRoot string
	DstRoot string
	Workers int
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Errors   []VerifyError
	Verified int64
	Failed   int64
}

// VerifyError records a single checksum mismatch.
type VerifyError struct {
	Path    string
	SrcHash string
	DstHash string
}

// Verify walks the target tree and compares BLAKE3 checksums against the
// source for every regular file present on both sides. It fans out to
// cfg.Workers goroutines.
func Verify(ctx context.Context, cfg VerifyConfig) VerifyResult {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	files := collectVerifyFiles(ctx, cfg.DstRoot, cfg.SrcRoot)

	taskCh := make(chan string, workers*2)
	var mu sync.Mutex
	var result VerifyResult
	var wg sync.WaitGroup

	record := func(ve *VerifyError) {
		mu.Lock()
		defer mu.Unlock()
		if ve == nil {
			result.Verified++
			return
		}
		result.Failed++
		result.Errors = append(result.Errors, *ve)
	}

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for relPath := range taskCh {
				if ctx.Err() != nil {
					continue
				}
				record(compareOne(cfg.SrcRoot, cfg.DstRoot, relPath))
			}
		}()
	}

feed:
	for _, f := range files {
		select {
		case <-ctx.Done():
			break feed
		case taskCh <- f:
		}
	}
	close(taskCh)
	wg.Wait()

	return result
}

func compareOne(srcRoot, dstRoot, relPath string) *VerifyError {
	srcHash, err := HashFile(filepath.Join(srcRoot, relPath))
	if err != nil {
		slog.Debug("verify: source unreadable", "path", relPath, "error", err)
		return &VerifyError{Path: relPath, SrcHash: "error", DstHash: "n/a"}
	}
	dstHash, err := HashFile(filepath.Join(dstRoot, relPath))
	if err != nil {
		slog.Debug("verify: target unreadable", "path", relPath, "error", err)
		return &VerifyError{Path: relPath, SrcHash: srcHash, DstHash: "error"}
	}
	if srcHash != dstHash {
		return &VerifyError{Path: relPath, SrcHash: srcHash, DstHash: dstHash}
	}
	return nil
}

// collectVerifyFiles walks the target tree and returns relative paths of
// regular files that also exist in the source.
func collectVerifyFiles(ctx context.Context, dstRoot, srcRoot string) []string {
	var files []string
	_ = filepath.WalkDir(dstRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(dstRoot, path)
		if err != nil {
			return nil
		}
		if _, err := os.Stat(filepath.Join(srcRoot, relPath)); err != nil {
			return nil
		}

		files = append(files, relPath)
		return nil
	})
	return files
}
