package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/platform"
	"github.com/bamsammich/stash/internal/scan"
)

// FileOps is the set of calls the executor uses to relocate or discard
// sources. Tests substitute it to force cross-device and removal failures.
type FileOps interface {
	Rename(oldpath, newpath string) error
	Remove(path string) error
}

type osOps struct{}

func (osOps) Rename(oldpath, newpath string) error { return platform.RenameNoReplace(oldpath, newpath) }
func (osOps) Remove(path string) error             { return os.Remove(path) }

// ExecutorConfig controls executor behavior.
type ExecutorConfig struct {
	Ops      FileOps       // nil uses the real filesystem
	Limiter  *rate.Limiter // nil disables throttling
	Verify   bool          // compare BLAKE3 digests before publishing a copy
	ReadOnly bool          // strip write permission from archived files
	Link     bool          // leave a symlink to the target where a moved source was
}

// Executor performs planned jobs.
type Executor struct {
	ops FileOps
	tmp tmpRegistry
	cfg ExecutorConfig
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	ops := cfg.Ops
	if ops == nil {
		ops = osOps{}
	}
	return &Executor{cfg: cfg, ops: ops}
}

// Close removes temporary files left by jobs that never finished.
func (e *Executor) Close() {
	e.tmp.cleanup()
}

// Execute runs one job and returns its terminal outcome. A failed job
// leaves no partial file at the target.
func (e *Executor) Execute(ctx context.Context, job Job) Outcome {
	out := Outcome{Source: job.Source, Target: job.Target, Action: job.Action}

	switch job.Action {
	case ActionSimulate:
		out.Status = StatusSimulated
		out.Bytes = job.Source.Size
		return out

	case ActionNone:
		out.Status = StatusNoop
		if job.Mode == filter.Move {
			// A previous move copied the data but could not remove the source.
			if err := e.ops.Remove(job.Source.Path); err != nil {
				out.Warnings = append(out.Warnings, fmt.Errorf("remove source %s: %w", job.Source.Path, err))
				return out
			}
			e.link(job, &out)
		}
		return out

	case ActionCopy:
		hash, err := e.copyFile(ctx, job)
		if err != nil {
			return failed(job, reasonFor(err), err)
		}
		out.Status = StatusTransferred
		out.Bytes = job.Source.Size
		out.Hash = hash
		return out

	case ActionMove:
		return e.move(ctx, job)

	default:
		return failed(job, filter.ReasonIOError, fmt.Errorf("unknown action %d for %s", job.Action, job.Source.Path))
	}
}

func (e *Executor) move(ctx context.Context, job Job) Outcome {
	out := Outcome{Source: job.Source, Target: job.Target, Action: job.Action}

	err := e.ops.Rename(job.Source.Path, job.Target)
	switch {
	case err == nil:
		if e.cfg.ReadOnly {
			if err := stripWrite(job.Target); err != nil {
				out.Warnings = append(out.Warnings, err)
			}
		}
	case platform.IsCrossDevice(err), errors.Is(err, os.ErrPermission):
		// Rename is not possible here (other filesystem, or the source
		// directory is not writable): copy, then try to remove the source.
		slog.Debug("rename unavailable, copying", "src", job.Source.Path, "dst", job.Target, "error", err)
		hash, err := e.copyFile(ctx, job)
		if err != nil {
			return failed(job, reasonFor(err), err)
		}
		out.Hash = hash
		out.Status = StatusTransferred
		out.Bytes = job.Source.Size

		// The target holds the file as planned; a source written to since
		// then is the only copy of the newer data.
		if err := checkUnchanged(job.Source); err != nil {
			out.Warnings = append(out.Warnings, fmt.Errorf("source retained: %w", err))
			return out
		}
		if err := e.ops.Remove(job.Source.Path); err != nil {
			out.Warnings = append(out.Warnings,
				fmt.Errorf("source retained, remove %s: %w", job.Source.Path, err))
			return out
		}
	default:
		return failed(job, reasonFor(err), fmt.Errorf("move %s: %w", job.Source.Path, err))
	}

	e.link(job, &out)
	out.Status = StatusTransferred
	out.Bytes = job.Source.Size
	return out
}

// link leaves a symlink to the target where a moved source was.
func (e *Executor) link(job Job, out *Outcome) {
	if !e.cfg.Link {
		return
	}
	if err := os.Symlink(job.Target, job.Source.Path); err != nil {
		out.Warnings = append(out.Warnings, fmt.Errorf("link %s: %w", job.Source.Path, err))
	}
}

// checkUnchanged fails when src no longer has the size and mtime the
// walker recorded.
func checkUnchanged(src scan.FileDescriptor) error {
	info, err := os.Lstat(src.Path)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src.Path, err)
	}
	if !info.Mode().IsRegular() || info.Size() != src.Size || !info.ModTime().Equal(src.ModTime) {
		return fmt.Errorf("%s is now %d bytes, modified %s: %w",
			src.Path, info.Size(), info.ModTime().Format(time.RFC3339Nano), ErrSourceChanged)
	}
	return nil
}

// copyFile writes the source into a temporary file beside the target,
// checks it, and renames it into place without replacing anything.
// The returned hash is empty unless verification ran.
func (e *Executor) copyFile(ctx context.Context, job Job) (string, error) {
	dir := filepath.Dir(job.Target)
	base := filepath.Base(job.Target)
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.stash-tmp", base, uuid.New().String()[:8]))

	e.tmp.register(tmpPath)
	defer func() {
		e.tmp.deregister(tmpPath)
		_ = os.Remove(tmpPath) // no-op if rename succeeded
	}()

	tmpFd, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create tmp %s: %w", tmpPath, err)
	}

	if err := e.fillTmp(ctx, job, tmpFd); err != nil {
		tmpFd.Close()
		return "", err
	}
	if err := tmpFd.Close(); err != nil {
		return "", fmt.Errorf("close tmp %s: %w", tmpPath, err)
	}

	var hash string
	if e.cfg.Verify {
		hash, err = verifyCopy(job.Source.Path, tmpPath)
		if err != nil {
			return "", err
		}
	}

	if err := platform.RenameNoReplace(tmpPath, job.Target); err != nil {
		return "", fmt.Errorf("publish %s: %w", job.Target, err)
	}
	return hash, nil
}

func (e *Executor) fillTmp(ctx context.Context, job Job, tmpFd *os.File) error {
	src := job.Source

	var written int64
	if src.Size > 0 {
		var err error
		written, err = e.copyData(ctx, src.Path, src.Size, tmpFd)
		if err != nil {
			return fmt.Errorf("copy data %s: %w", src.Path, err)
		}
	}

	info, err := tmpFd.Stat()
	if err != nil {
		return fmt.Errorf("stat tmp: %w", err)
	}
	if written != src.Size || info.Size() != src.Size {
		return fmt.Errorf("%s: wrote %d of %d bytes: %w", src.Path, info.Size(), src.Size, ErrSizeMismatch)
	}
	// A file that grew during the copy still filled exactly src.Size bytes.
	if err := checkUnchanged(src); err != nil {
		return err
	}

	perm := src.Mode.Perm()
	if e.cfg.ReadOnly {
		perm &^= 0o222
	}
	if err := tmpFd.Chmod(perm); err != nil {
		return fmt.Errorf("chmod tmp: %w", err)
	}
	if err := platform.SetFileTimes(tmpFd, src.AccTime, src.ModTime); err != nil {
		return fmt.Errorf("set times %s: %w", job.Target, err)
	}
	return nil
}

func (e *Executor) copyData(ctx context.Context, srcPath string, size int64, dstFd *os.File) (int64, error) {
	if e.cfg.Limiter == nil {
		result, err := platform.CopyFile(platform.CopyFileParams{
			SrcPath: srcPath,
			DstFd:   dstFd,
			SrcSize: size,
		})
		return result.BytesWritten, err
	}

	srcFd, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer srcFd.Close()

	buf := make([]byte, 256*1024)
	return io.CopyBuffer(dstFd, newRateLimitedReader(ctx, srcFd, e.cfg.Limiter), buf)
}

func stripWrite(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.Chmod(path, info.Mode().Perm()&^0o222); err != nil {
		return fmt.Errorf("make %s read-only: %w", path, err)
	}
	return nil
}

func reasonFor(err error) filter.Reason {
	switch {
	case errors.Is(err, ErrTargetExists), errors.Is(err, os.ErrExist):
		return filter.ReasonTargetExists
	default:
		return filter.ReasonIOError
	}
}
