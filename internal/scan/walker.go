package scan

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WalkerConfig controls walker behavior.
type WalkerConfig struct {
	Root           string
	Exclude        []string // absolute paths whose subtrees are pruned
	FollowSymlinks bool     // descend into symlinked directories
}

// Walker enumerates regular files under a root directory.
type Walker struct {
	cfg     WalkerConfig
	exclude map[string]struct{}
}

// NewWalker creates a walker with the given config.
func NewWalker(cfg WalkerConfig) *Walker {
	cfg.Root = filepath.Clean(cfg.Root)
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, p := range cfg.Exclude {
		exclude[filepath.Clean(p)] = struct{}{}
	}
	return &Walker{cfg: cfg, exclude: exclude}
}

// Walk returns a lazy sequence of every regular file reachable from the
// root. Each call starts a fresh traversal with its own visited set.
//
// A non-nil error is paired with a descriptor naming the directory (or
// entry) that could not be read; the walk continues past it. Directories
// are read in lexical order.
func (w *Walker) Walk(ctx context.Context) iter.Seq2[FileDescriptor, error] {
	return func(yield func(FileDescriptor, error) bool) {
		info, err := os.Stat(w.cfg.Root)
		if err != nil {
			yield(FileDescriptor{Path: w.cfg.Root, IsDir: true}, fmt.Errorf("stat %s: %w", w.cfg.Root, err))
			return
		}
		visited := make(map[DevIno]struct{})
		w.walkDir(ctx, w.cfg.Root, "", info, visited, yield)
	}
}

//nolint:revive // cognitive-complexity: one switch per directory entry kind
func (w *Walker) walkDir(
	ctx context.Context,
	dir, rel string,
	info os.FileInfo,
	visited map[DevIno]struct{},
	yield func(FileDescriptor, error) bool,
) bool {
	if id, _, ok := statFields(info); ok {
		if _, seen := visited[id]; seen {
			slog.Debug("skipping already visited directory", "path", dir)
			return true
		}
		visited[id] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return yield(FileDescriptor{Path: dir, RelPath: rel, IsDir: true}, fmt.Errorf("readdir %s: %w", dir, err))
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return false
		}

		path := filepath.Join(dir, entry.Name())
		entryRel := filepath.Join(rel, entry.Name())

		if _, skip := w.exclude[path]; skip {
			slog.Debug("skipping excluded path", "path", path)
			continue
		}

		info, err := os.Lstat(path)
		if err != nil {
			if entry.IsDir() {
				if !yield(FileDescriptor{Path: path, RelPath: entryRel, IsDir: true}, fmt.Errorf("lstat %s: %w", path, err)) {
					return false
				}
				continue
			}
			// Attributes are unavailable; let the decision engine see it
			// as an unreadable file.
			if entry.Type().IsRegular() && !yield(FileDescriptor{Path: path, RelPath: entryRel}, nil) {
				return false
			}
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !w.cfg.FollowSymlinks {
				slog.Debug("skipping symlink", "path", path)
				continue
			}
			target, err := os.Stat(path)
			if err != nil {
				slog.Debug("skipping dangling symlink", "path", path, "error", err)
				continue
			}
			if !target.IsDir() {
				slog.Debug("skipping symlink", "path", path)
				continue
			}
			info = target
		}

		switch {
		case info.IsDir():
			if !w.walkDir(ctx, path, entryRel, info, visited, yield) {
				return false
			}
		case info.Mode().IsRegular():
			if !yield(describe(path, entryRel, info), nil) {
				return false
			}
		default:
			slog.Debug("skipping special file", "path", path, "mode", info.Mode().String())
		}
	}
	return true
}

func describe(path, rel string, info os.FileInfo) FileDescriptor {
	desc := FileDescriptor{
		Path:     path,
		RelPath:  rel,
		Size:     info.Size(),
		Mode:     info.Mode(),
		ModTime:  info.ModTime(),
		Readable: Readable(path),
	}
	if id, atime, ok := statFields(info); ok {
		desc.DevIno = id
		desc.AccTime = atime
	}
	return desc
}

// Readable reports whether the current process may open path for reading.
func Readable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
