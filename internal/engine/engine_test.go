package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bamsammich/stash/internal/event"
	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/stats"
)

var workerCounts = []struct {
	name    string
	workers int
}{
	{"sequential", 1},
	{"concurrent", 4},
}

func TestRun_UnreadableAndBelowMinSize(t *testing.T) {
	skipIfRoot(t)

	for _, wc := range workerCounts {
		t.Run(wc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")

			writeFile(t, filepath.Join(src, "f1.py"), 100)
			writeFile(t, filepath.Join(src, "f2.py"), 100)
			writeFile(t, filepath.Join(src, "f3", "e1.py"), 50)
			writeFile(t, filepath.Join(src, "f3", "README.md"), 20)
			unreadable := filepath.Join(src, "f3", "e1.py")
			require.NoError(t, os.Chmod(unreadable, 0o000))
			t.Cleanup(func() { _ = os.Chmod(unreadable, 0o644) })

			events, collected := collectEvents(t)
			result := Run(context.Background(), Config{
				Source:  src,
				Target:  dst,
				Policy:  filter.Policy{MinSize: 128, Mode: filter.Move},
				Workers: wc.workers,
				Events:  events,
			})
			require.NoError(t, result.Err)

			s := result.Stats
			assert.Equal(t, int64(4), s.Considered)
			assert.Equal(t, int64(0), s.Included())
			assert.Equal(t, int64(3), s.Skipped)
			assert.Equal(t, int64(1), s.Errored)
			assert.Empty(t, treeFiles(t, dst), "target tree must stay empty")

			byPath := terminalByPath(t, collected())
			require.Len(t, byPath, 4)
			assert.Equal(t, event.FileFailed, byPath[filepath.Join("f3", "e1.py")].Type)
			assert.Equal(t, "unreadable", byPath[filepath.Join("f3", "e1.py")].Reason)
			for _, rel := range []string{"f1.py", "f2.py", filepath.Join("f3", "README.md")} {
				assert.Equal(t, event.FileSkipped, byPath[rel].Type, rel)
				assert.Equal(t, "below-min-size", byPath[rel].Reason, rel)
			}
		})
	}
}

func TestRun_UnreadableFileDoesNotStopRun(t *testing.T) {
	skipIfRoot(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "a.txt"), 10)
	writeFile(t, filepath.Join(src, "b.txt"), 10)
	writeFile(t, filepath.Join(src, "c.txt"), 10)
	require.NoError(t, os.Chmod(filepath.Join(src, "b.txt"), 0o000))
	t.Cleanup(func() { _ = os.Chmod(filepath.Join(src, "b.txt"), 0o644) })

	result := Run(context.Background(), Config{
		Source: src,
		Target: dst,
		Policy: filter.Policy{Mode: filter.Copy},
	})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(1), result.Stats.Errored)
	assert.Equal(t, int64(2), result.Stats.Transferred)
	assert.Equal(t, []string{"a.txt", "c.txt"}, treeFiles(t, dst))
}

func TestRun_UnreadableDirectory(t *testing.T) {
	skipIfRoot(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "locked", "hidden.txt"), 10)
	writeFile(t, filepath.Join(src, "open.txt"), 10)
	locked := filepath.Join(src, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	events, collected := collectEvents(t)
	result := Run(context.Background(), Config{
		Source: src,
		Target: dst,
		Policy: filter.Policy{Mode: filter.Copy},
		Events: events,
	})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(1), result.Stats.Errored)
	assert.Equal(t, int64(1), result.Stats.Transferred)

	byPath := terminalByPath(t, collected())
	assert.Equal(t, "traversal-error", byPath["locked"].Reason)
}

func TestRun_DryRunMakesNoChanges(t *testing.T) {
	for _, mode := range []filter.Mode{filter.Move, filter.Copy} {
		t.Run(mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			createTestTree(t, src)
			writeFile(t, filepath.Join(src, "tiny.txt"), 3)
			before := treeFiles(t, src)

			policy := filter.Policy{MinSize: 10, Mode: mode}
			dry := Run(context.Background(), Config{
				Source:  src,
				Target:  dst,
				Policy:  policy,
				DryRun:  true,
				Journal: true,
				Events:  drainEvents(t),
			})
			require.NoError(t, dry.Err)

			_, err := os.Stat(dst)
			assert.True(t, os.IsNotExist(err), "dry run must not create the target root")
			assert.Equal(t, before, treeFiles(t, src))
			assert.Empty(t, dry.JournalPath)
			assert.Equal(t, int64(4), dry.Stats.Simulated)

			live := Run(context.Background(), Config{
				Source: src,
				Target: dst,
				Policy: policy,
			})
			require.NoError(t, live.Err)

			assert.Equal(t, dry.Stats.Considered, live.Stats.Considered)
			assert.Equal(t, dry.Stats.Included(), live.Stats.Included())
			assert.Equal(t, dry.Stats.Skipped, live.Stats.Skipped)
			assert.Equal(t, dry.Stats.Errored, live.Stats.Errored)
			assert.Equal(t, dry.Stats.BytesTransferred, live.Stats.BytesTransferred)
		})
	}
}

func TestRun_CopyRoundTrip(t *testing.T) {
	for _, wc := range workerCounts {
		t.Run(wc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			createTestTree(t, src)
			before := treeFiles(t, src)

			result := Run(context.Background(), Config{
				Source:  src,
				Target:  dst,
				Policy:  filter.Policy{Mode: filter.Copy},
				Workers: wc.workers,
				Events:  drainEvents(t),
			})
			require.NoError(t, result.Err)

			assert.Equal(t, int64(4), result.Stats.Transferred)
			assert.Equal(t, int64(0), result.Stats.Errored)
			verifyTreeCopy(t, src, dst)
			assert.Equal(t, before, treeFiles(t, src), "source must be untouched")
			assert.Equal(t, testTreeFiles, treeFiles(t, dst), "symlinked files are not archived")
			assert.Empty(t, findTmpFiles(t, dst))

			srcInfo, err := os.Stat(filepath.Join(src, "sub", "mid.txt"))
			require.NoError(t, err)
			dstInfo, err := os.Stat(filepath.Join(dst, "sub", "mid.txt"))
			require.NoError(t, err)
			assert.Equal(t, srcInfo.Size(), dstInfo.Size())
			assert.True(t, srcInfo.ModTime().Equal(dstInfo.ModTime()), "mtime preserved")
			assert.Equal(t, srcInfo.Mode().Perm(), dstInfo.Mode().Perm())
		})
	}
}

func TestRun_CopyRerunIsNoop(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	cfg := Config{Source: src, Target: dst, Policy: filter.Policy{Mode: filter.Copy}}
	first := Run(context.Background(), cfg)
	require.NoError(t, first.Err)
	require.Equal(t, int64(4), first.Stats.Transferred)

	second := Run(context.Background(), cfg)
	require.NoError(t, second.Err)
	assert.Equal(t, int64(0), second.Stats.Transferred)
	assert.Equal(t, int64(4), second.Stats.Noop)
	assert.Equal(t, first.Stats.Included(), second.Stats.Included())
	assert.Equal(t, int64(0), second.Stats.Errored)
}

func TestRun_MoveRemovesSource(t *testing.T) {
	for _, wc := range workerCounts {
		t.Run(wc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			reference := filepath.Join(dir, "reference")
			createTestTree(t, src)
			createTestTree(t, reference)

			result := Run(context.Background(), Config{
				Source:  src,
				Target:  dst,
				Workers: wc.workers,
			})
			require.NoError(t, result.Err)

			assert.Equal(t, int64(4), result.Stats.Transferred)
			verifyTreeCopy(t, reference, dst)
			assert.Equal(t, []string{"link.txt"}, treeFiles(t, src))
		})
	}
}

func TestRun_MoveCompletesInterruptedMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "done.bin"), 4096)
	writeFile(t, filepath.Join(dst, "done.bin"), 4096)

	result := Run(context.Background(), Config{Source: src, Target: dst})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(1), result.Stats.Noop)
	assert.Equal(t, int64(1), result.Stats.Included())
	assert.NoFileExists(t, filepath.Join(src, "done.bin"))
	assert.FileExists(t, filepath.Join(dst, "done.bin"))
}

func TestRun_MoveFromReadOnlyDirWarns(t *testing.T) {
	skipIfRoot(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	locked := filepath.Join(src, "locked")
	writeFile(t, filepath.Join(locked, "keep.txt"), 64)
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	events, collected := collectEvents(t)
	result := Run(context.Background(), Config{Source: src, Target: dst, Events: events})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(1), result.Stats.Transferred)
	assert.Equal(t, int64(1), result.Stats.Warnings)
	assert.Equal(t, int64(0), result.Stats.Errored)
	assert.FileExists(t, filepath.Join(locked, "keep.txt"), "source retained")
	assert.FileExists(t, filepath.Join(dst, "locked", "keep.txt"))

	var warnings int
	for _, ev := range collected() {
		if ev.Type == event.FileWarning {
			warnings++
			assert.Error(t, ev.Error)
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestRun_TargetCollision(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "same-name.txt"), 64)
	require.NoError(t, os.MkdirAll(dst, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "same-name.txt"), []byte("something else"), 0o644))

	events, collected := collectEvents(t)
	result := Run(context.Background(), Config{Source: src, Target: dst, Events: events})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(1), result.Stats.Errored)
	assert.FileExists(t, filepath.Join(src, "same-name.txt"))
	got, err := os.ReadFile(filepath.Join(dst, "same-name.txt"))
	require.NoError(t, err)
	assert.Equal(t, "something else", string(got), "existing target is never overwritten")

	byPath := terminalByPath(t, collected())
	assert.Equal(t, "target-exists", byPath["same-name.txt"].Reason)
	assert.ErrorIs(t, byPath["same-name.txt"].Error, ErrTargetExists)
}

func TestRun_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name   string
		cfg    Config
		field  string
		errIs  error
		noDest string
	}{
		{name: "missing source", cfg: Config{Source: filepath.Join(dir, "nope"), Target: filepath.Join(dir, "d1")}, field: "source", errIs: os.ErrNotExist, noDest: filepath.Join(dir, "d1")},
		{name: "source is a file", cfg: Config{Source: file, Target: filepath.Join(dir, "d2")}, field: "source", noDest: filepath.Join(dir, "d2")},
		{name: "empty source", cfg: Config{Target: filepath.Join(dir, "d3")}, field: "source"},
		{name: "empty target", cfg: Config{Source: src}, field: "target"},
		{name: "target is source", cfg: Config{Source: src, Target: src + "/."}, field: "target"},
		{name: "target is a file", cfg: Config{Source: src, Target: file}, field: "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Run(context.Background(), tt.cfg)

			var cfgErr *ConfigError
			require.ErrorAs(t, result.Err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			if tt.errIs != nil {
				assert.ErrorIs(t, result.Err, tt.errIs)
			}
			if tt.noDest != "" {
				assert.NoDirExists(t, tt.noDest)
			}
			assert.Zero(t, result.Stats.Considered)
		})
	}
}

func TestRun_TargetInsideSource(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(src, "archive")
	createTestTree(t, src)

	result := Run(context.Background(), Config{
		Source: src,
		Target: dst,
		Policy: filter.Policy{Mode: filter.Copy},
	})
	require.NoError(t, result.Err)

	assert.Equal(t, int64(4), result.Stats.Considered)
	assert.Equal(t, testTreeFiles, treeFiles(t, dst))

	// A second run must not pick up the archive itself.
	again := Run(context.Background(), Config{
		Source: src,
		Target: dst,
		Policy: filter.Policy{Mode: filter.Copy},
	})
	require.NoError(t, again.Err)
	assert.Equal(t, int64(4), again.Stats.Considered)
	assert.Equal(t, int64(4), again.Stats.Noop)
}

func TestRun_EventSequence(t *testing.T) {
	for _, wc := range workerCounts {
		t.Run(wc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			createTestTree(t, src)

			events, collected := collectEvents(t)
			result := Run(context.Background(), Config{
				Source:  src,
				Target:  dst,
				Policy:  filter.Policy{Mode: filter.Copy},
				Workers: wc.workers,
				Events:  events,
			})
			require.NoError(t, result.Err)

			evs := collected()
			require.NotEmpty(t, evs)
			assert.Equal(t, event.ScanStarted, evs[0].Type)

			var complete *event.Event
			for i := range evs {
				if evs[i].Type == event.ScanComplete {
					complete = &evs[i]
				}
			}
			require.NotNil(t, complete, "expected ScanComplete event")
			assert.Equal(t, int64(4), complete.Total)

			byPath := terminalByPath(t, evs)
			assert.Len(t, byPath, int(result.Stats.Considered))
			for rel, ev := range byPath {
				assert.Equal(t, event.FileTransferred, ev.Type, rel)
				assert.Equal(t, "copy", ev.Action, rel)
				assert.Equal(t, filepath.Join(dst, rel), ev.Target, rel)
			}
		})
	}
}

func TestRun_ContextCancel(t *testing.T) {
	for _, wc := range workerCounts {
		t.Run(wc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			for i := range 50 {
				writeFile(t, filepath.Join(src, fmt.Sprintf("f%02d.bin", i)), 64*1024)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			result := Run(ctx, Config{
				Source:  src,
				Target:  dst,
				Policy:  filter.Policy{Mode: filter.Copy},
				Workers: wc.workers,
				Events:  drainEvents(t),
			})

			assert.ErrorIs(t, result.Err, context.Canceled)
			assert.Empty(t, findTmpFiles(t, dst))
			assert.Less(t, result.Stats.Considered, int64(50))
		})
	}
}

func TestRun_ConcurrentPipelineNoLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	for i := range 200 {
		writeFile(t, filepath.Join(src, fmt.Sprintf("d%d", i%8), fmt.Sprintf("f%03d.dat", i)), 512+i)
	}

	events := make(chan event.Event, 16)
	done := make(chan struct{})
	var terminal int
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type.Terminal() {
				terminal++
			}
		}
	}()

	result := Run(context.Background(), Config{
		Source:  src,
		Target:  dst,
		Workers: 8,
		Events:  events,
	})
	close(events)
	<-done

	require.NoError(t, result.Err)
	assert.Equal(t, int64(200), result.Stats.Transferred)
	assert.Equal(t, 200, terminal)
	assert.Empty(t, treeFiles(t, src))
}

func TestRun_Journal(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	result := Run(context.Background(), Config{
		Source:  src,
		Target:  dst,
		Policy:  filter.Policy{Mode: filter.Copy},
		Verify:  true,
		Journal: true,
	})
	require.NoError(t, result.Err)
	require.NotEmpty(t, result.JournalPath)
	assert.FileExists(t, result.JournalPath)
	assert.Equal(t, testTreeFiles, treeFiles(t, dst), "journal lives outside the target tree")

	j, err := OpenJournal(src, dst)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.Equal(t, "copy", e.Action)
		assert.NotEmpty(t, e.Hash, "verified copies record their digest")
		rel, err := filepath.Rel(src, e.Source)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dst, rel), e.Target)
	}
}

func TestRun_JournalHashesRenamedFiles(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	want := make(map[string]string)
	for _, rel := range testTreeFiles {
		h, err := HashFile(filepath.Join(src, rel))
		require.NoError(t, err)
		want[filepath.Join(dst, rel)] = h
	}

	result := Run(context.Background(), Config{
		Source:  src,
		Target:  dst,
		Journal: true,
	})
	require.NoError(t, result.Err)

	j, err := OpenJournal(src, dst)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Entries()
	require.NoError(t, err)
	require.Len(t, entries, len(testTreeFiles))
	for _, e := range entries {
		assert.Equal(t, "move", e.Action)
		assert.Equal(t, want[e.Target], e.Hash, "digest of %s", e.Target)
	}
}

func TestRun_ReadOnly(t *testing.T) {
	for _, mode := range []filter.Mode{filter.Move, filter.Copy} {
		t.Run(mode.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			dst := filepath.Join(dir, "dst")
			writeFile(t, filepath.Join(src, "a.txt"), 32)

			result := Run(context.Background(), Config{
				Source:   src,
				Target:   dst,
				Policy:   filter.Policy{Mode: mode},
				ReadOnly: true,
			})
			require.NoError(t, result.Err)
			require.Equal(t, int64(0), result.Stats.Warnings)

			info, err := os.Stat(filepath.Join(dst, "a.txt"))
			require.NoError(t, err)
			assert.Zero(t, info.Mode().Perm()&0o222)
		})
	}
}

func TestRun_LinkLeavesSymlink(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	writeFile(t, filepath.Join(src, "sub", "a.txt"), 32)

	result := Run(context.Background(), Config{Source: src, Target: dst, Link: true})
	require.NoError(t, result.Err)
	require.Equal(t, int64(1), result.Stats.Transferred)

	target, err := os.Readlink(filepath.Join(src, "sub", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "sub", "a.txt"), target)

	// Links are not archived on the next run.
	again := Run(context.Background(), Config{Source: src, Target: dst, Link: true})
	require.NoError(t, again.Err)
	assert.Equal(t, int64(0), again.Stats.Considered)
}

func TestRun_BandwidthLimit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	createTestTree(t, src)

	result := Run(context.Background(), Config{
		Source:  src,
		Target:  dst,
		Policy:  filter.Policy{Mode: filter.Copy},
		BWLimit: 64 << 20,
		Workers: 2,
	})
	require.NoError(t, result.Err)
	verifyTreeCopy(t, src, dst)
}

func TestRun_SharedCollector(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	createTestTree(t, src)

	c := stats.NewCollector()
	result := Run(context.Background(), Config{
		Source: src,
		Target: filepath.Join(dir, "dst"),
		DryRun: true,
		Stats:  c,
	})
	require.NoError(t, result.Err)
	assert.Equal(t, c.Snapshot().Considered, result.Stats.Considered)
	assert.Equal(t, int64(4), c.Snapshot().Simulated)
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a/b", "/a"))
	assert.True(t, within("/a", "/a"))
	assert.False(t, within("/ab", "/a"))
	assert.False(t, within("/", "/a"))
	assert.True(t, within("/a/..b", "/a"))
}
