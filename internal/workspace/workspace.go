// Package workspace passes filesystem snapshots between dependent jobs:
// a job persists paths after it completes, and dependent jobs attach
// those snapshots before they start.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
)

// Propagator snapshots and reattaches workspace trees for one run.
type Propagator interface {
	// Persist snapshots the given paths (resolved against root) as the
	// output of job.
	Persist(job string, root string, paths []string) error

	// Attach copies the snapshots produced by the given jobs into root.
	// Later jobs in the list win on overlapping paths. Returns
	// ErrArtifactMissing when none of the producers persisted anything:
	// callers decide whether that is fatal.
	Attach(jobs []string, root string) error

	// Persisted reports whether job produced a snapshot.
	Persisted(job string) bool
}

// FileWorkspace implements Propagator under a shared directory.
//
// Layout:
//
//	{dir}/
//	  {job-slug}/
//	    {persisted paths...}
type FileWorkspace struct {
	dir   string
	slugs map[string]string
}

// New creates a propagator rooted at dir. Jobs are slotted by
// Slugify(name); use NewWithSlugs when distinct job names may
// slugify identically.
func New(dir string) *FileWorkspace {
	return &FileWorkspace{dir: dir}
}

// NewWithSlugs creates a propagator rooted at dir using a precomputed
// job-to-slug mapping (see UniqueSlugs), keeping slots distinct when
// names collide after slugification.
func NewWithSlugs(dir string, slugs map[string]string) *FileWorkspace {
	return &FileWorkspace{dir: dir, slugs: slugs}
}

// slot resolves the snapshot directory for job.
func (w *FileWorkspace) slot(job string) string {
	if slug, ok := w.slugs[job]; ok {
		return filepath.Join(w.dir, slug)
	}
	return filepath.Join(w.dir, Slugify(job))
}

// Persist snapshots paths into the job's slot. Persisting twice from
// the same job layers onto the existing snapshot.
func (w *FileWorkspace) Persist(job string, root string, paths []string) error {
	slot := w.slot(job)
	for _, p := range paths {
		src := p
		if !filepath.IsAbs(src) {
			src = filepath.Join(root, p)
		}
		if _, err := os.Stat(src); err != nil {
			return nwferrors.Wrap(fmt.Errorf("persist %s: %w", p, err), "workspace")
		}
		if err := copyTree(src, filepath.Join(slot, p)); err != nil {
			return nwferrors.Wrap(err, "workspace persist")
		}
	}
	return nil
}

// Attach merges the producers' snapshots into root.
func (w *FileWorkspace) Attach(jobs []string, root string) error {
	attached := false
	for _, job := range jobs {
		slot := w.slot(job)
		if _, err := os.Stat(slot); err != nil {
			continue
		}
		if err := copyTree(slot, root); err != nil {
			return nwferrors.Wrap(err, "workspace attach")
		}
		attached = true
	}
	if !attached {
		return fmt.Errorf("%w: no snapshot from %v", nwferrors.ErrArtifactMissing, jobs)
	}
	return nil
}

// Persisted reports whether a snapshot slot exists for job.
func (w *FileWorkspace) Persisted(job string) bool {
	_, err := os.Stat(w.slot(job))
	return err == nil
}

// copyTree copies a file or directory tree, preserving permissions.
// Existing destination files are overwritten.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		children, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := copyTree(filepath.Join(src, c.Name()), filepath.Join(dst, c.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
