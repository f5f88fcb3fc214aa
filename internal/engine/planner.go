package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/scan"
)

// Planner maps included files onto the target tree. It is safe for
// concurrent use; callers serialise per target path themselves.
type Planner struct {
	claimed map[string]string // target -> source
	dirs    map[string]struct{}
	root    string
	mu      sync.Mutex
	mode    filter.Mode
	dryRun  bool
}

// NewPlanner creates a planner rooted at targetRoot.
func NewPlanner(targetRoot string, mode filter.Mode, dryRun bool) *Planner {
	return &Planner{
		root:    filepath.Clean(targetRoot),
		mode:    mode,
		dryRun:  dryRun,
		claimed: make(map[string]string),
		dirs:    make(map[string]struct{}),
	}
}

// Plan computes the job for an included file. The target mirrors the
// source's relative path. An existing target with identical content yields
// an ActionNone job; any other existing target is ErrTargetExists.
//
// Outside dry-run, the target's parent directories are created.
func (p *Planner) Plan(desc scan.FileDescriptor) (Job, error) {
	target := filepath.Join(p.root, desc.RelPath)
	job := Job{Source: desc, Target: target, Mode: p.mode}

	if err := p.claim(target, desc.Path); err != nil {
		return job, err
	}

	info, err := os.Lstat(target)
	switch {
	case err == nil:
		if !info.Mode().IsRegular() {
			return job, fmt.Errorf("%s is a %s: %w", target, info.Mode().Type(), ErrTargetExists)
		}
		same, err := sameContent(desc.Path, target, desc.Size)
		if err != nil {
			return job, fmt.Errorf("compare %s: %w", target, err)
		}
		if !same {
			return job, fmt.Errorf("%s differs from %s: %w", target, desc.Path, ErrTargetExists)
		}
		job.Action = ActionNone
		if p.dryRun {
			job.Action = ActionSimulate
		}
		return job, nil
	case errors.Is(err, unix.ENOTDIR):
		return job, fmt.Errorf("%s: a parent is not a directory: %w", target, ErrTargetExists)
	case !errors.Is(err, os.ErrNotExist):
		return job, fmt.Errorf("stat %s: %w", target, err)
	}

	if p.dryRun {
		job.Action = ActionSimulate
		return job, nil
	}

	if err := p.ensureDir(filepath.Dir(target)); err != nil {
		return job, err
	}

	job.Action = ActionMove
	if p.mode == filter.Copy {
		job.Action = ActionCopy
	}
	return job, nil
}

func (p *Planner) claim(target, source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.claimed[target]; ok {
		return fmt.Errorf("%s already planned for %s: %w", target, prev, ErrTargetExists)
	}
	p.claimed[target] = source
	return nil
}

func (p *Planner) ensureDir(dir string) error {
	p.mu.Lock()
	_, done := p.dirs[dir]
	p.mu.Unlock()
	if done {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	p.mu.Lock()
	p.dirs[dir] = struct{}{}
	p.mu.Unlock()
	return nil
}
