package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/stash/internal/event"
	"github.com/bamsammich/stash/internal/scan"
)

// writeFile creates path (and its parents) holding size bytes of
// patterned data.
func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data := bytes.Repeat([]byte("0123456789abcdef"), size/16+1)[:size]
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// createTestTree populates root with a standard test tree:
//
//	root.txt          (17 bytes)
//	big.bin           (320KB)
//	sub/mid.txt       (19 bytes)
//	sub/deep/leaf.txt (17 bytes)
//	link.txt          → root.txt (symlink, never archived)
func createTestTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "root.txt"), []byte("root file content"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "big.bin"),
		bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20000), // 320KB
		0o644,
	))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "mid.txt"), []byte("middle file content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "leaf.txt"), []byte("leaf file content"), 0o644))
	require.NoError(t, os.Symlink("root.txt", filepath.Join(root, "link.txt")))
}

var testTreeFiles = []string{
	"big.bin",
	"root.txt",
	filepath.Join("sub", "deep", "leaf.txt"),
	filepath.Join("sub", "mid.txt"),
}

// verifyTreeCopy checks that every regular file of the test tree under
// srcRoot has an identical copy under dstRoot.
func verifyTreeCopy(t *testing.T, srcRoot, dstRoot string) {
	t.Helper()
	for _, rel := range testTreeFiles {
		srcData, err := os.ReadFile(filepath.Join(srcRoot, rel))
		require.NoError(t, err, "read src %s", rel)
		dstData, err := os.ReadFile(filepath.Join(dstRoot, rel))
		require.NoError(t, err, "read dst %s", rel)
		require.Equal(t, srcData, dstData, "content mismatch: %s", rel)
	}
}

// treeFiles lists the non-directory entries under root, relative and
// sorted. A missing root is an empty tree.
func treeFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

// findTmpFiles returns any .stash-tmp files found under root.
func findTmpFiles(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	for _, rel := range treeFiles(t, root) {
		if strings.HasSuffix(rel, ".stash-tmp") {
			found = append(found, rel)
		}
	}
	return found
}

// describeFile builds the descriptor the walker would produce for
// root/rel.
func describeFile(t *testing.T, root, rel string) scan.FileDescriptor {
	t.Helper()
	path := filepath.Join(root, rel)
	info, err := os.Stat(path)
	require.NoError(t, err)
	return scan.FileDescriptor{
		Path:     path,
		RelPath:  rel,
		Size:     info.Size(),
		Mode:     info.Mode(),
		ModTime:  info.ModTime(),
		AccTime:  info.ModTime(),
		Readable: scan.Readable(path),
	}
}

// drainEvents creates a buffered event channel, spawns a goroutine to drain
// it, and registers cleanup. Returns the channel for use in Config.
func drainEvents(t *testing.T) chan<- event.Event {
	t.Helper()
	ch := make(chan event.Event, 1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		//nolint:revive // empty-block: intentionally draining event channel
		for range ch {
		}
	}()
	t.Cleanup(func() {
		close(ch)
		<-done
	})
	return ch
}

// collectEvents returns the channel for Config and a function to retrieve
// collected events. The getter closes the channel and waits for the drain
// goroutine, so it is safe to read the slice. It may be called at most once.
// If the getter is never called, t.Cleanup closes the channel on test exit.
func collectEvents(t *testing.T) (chan<- event.Event, func() []event.Event) {
	t.Helper()
	ch := make(chan event.Event, 4096)
	var collected []event.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			collected = append(collected, ev)
		}
	}()
	var once sync.Once
	drain := func() {
		once.Do(func() { close(ch) })
		<-done
	}
	t.Cleanup(drain)
	return ch, func() []event.Event {
		drain()
		return collected
	}
}

// terminalByPath maps each file's relative path to its terminal event.
func terminalByPath(t *testing.T, events []event.Event) map[string]event.Event {
	t.Helper()
	out := make(map[string]event.Event)
	for _, ev := range events {
		if !ev.Type.Terminal() {
			continue
		}
		_, dup := out[ev.Path]
		require.False(t, dup, "second terminal event for %s", ev.Path)
		out[ev.Path] = ev
	}
	return out
}

func skipIfRoot(t *testing.T) {
	t.Helper()
	if os.Getuid() == 0 {
		t.Skip("running as root, cannot test permission denied")
	}
}
