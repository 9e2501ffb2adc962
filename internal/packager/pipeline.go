package packager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Options configures a single Package call.
type Options struct {
	// Collect configures the dependency collector run.
	Collect CollectOptions

	// Cache, when non-nil, memoizes archives by entry path for the session.
	// The pipeline works correctly without one, just without reuse.
	Cache *Cache
}

// Packager sequences the packaging pipeline for one entry file: dependency
// collection into a fresh staging directory, entry stub synthesis, timestamp
// normalization and archive construction. The staging directory is owned
// exclusively by one invocation and removed on every exit path; only the
// produced archive survives.
type Packager struct {
	collector Collector
	builder   ArchiveBuilder
	workDir   string
}

// New creates a Packager. Finished archives are written under workDir, which
// the caller owns for the session's lifetime.
func New(collector Collector, builder ArchiveBuilder, workDir string) *Packager {
	return &Packager{
		collector: collector,
		builder:   builder,
		workDir:   workDir,
	}
}

// Package builds the deployable archive for entry and returns its path.
// Repeated calls for the same entry within a session reuse the cached
// archive when opts.Cache is set; concurrent calls for the same entry
// coalesce onto one build.
func (p *Packager) Package(ctx context.Context, entry string, opts Options) (string, error) {
	absEntry, err := filepath.Abs(entry)
	if err != nil {
		return "", &IOError{Op: "resolve", Path: entry, Err: err}
	}

	if opts.Cache == nil {
		return p.build(ctx, absEntry, opts)
	}

	return opts.Cache.Once(filepath.Clean(absEntry), func() (string, error) {
		return p.build(ctx, absEntry, opts)
	})
}

func (p *Packager) build(ctx context.Context, absEntry string, opts Options) (archivePath string, err error) {
	info, err := os.Stat(absEntry)
	if err != nil {
		return "", &IOError{Op: "stat entry", Path: absEntry, Err: err}
	}
	if info.IsDir() {
		return "", &IOError{Op: "stat entry", Path: absEntry, Err: errors.New("is a directory, not a file")}
	}

	baseDir, entryRel, err := splitEntry(absEntry, opts.Collect.BaseDir)
	if err != nil {
		return "", err
	}
	collectOpts := opts.Collect
	collectOpts.BaseDir = baseDir

	stagingDir := filepath.Join(os.TempDir(), "funcpack-stage-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0750); err != nil {
		return "", &IOError{Op: "mkdir", Path: stagingDir, Err: err}
	}
	defer func() { _ = os.RemoveAll(stagingDir) }()

	log.Debug().
		Str("entry", entryRel).
		Str("base", baseDir).
		Str("staging", stagingDir).
		Msg("Packaging entry")

	if _, err := p.collector.Collect(ctx, entryRel, stagingDir, collectOpts); err != nil {
		return "", err
	}

	if _, err := SynthesizeStub(stagingDir, StagedName(entryRel)); err != nil {
		return "", err
	}

	if err := NormalizeTree(stagingDir); err != nil {
		return "", err
	}

	dest := filepath.Join(p.workDir, uuid.NewString()+".zip")
	if err := p.builder.Build(ctx, stagingDir, dest); err != nil {
		return "", err
	}

	return dest, nil
}

// splitEntry determines the resolution base directory and the entry path
// relative to it. An explicit base wins unless the entry escapes it, in
// which case the entry's own directory becomes the base (the entry is then
// top-level and needs no stub).
func splitEntry(absEntry, baseDir string) (string, string, error) {
	if baseDir != "" {
		absBase, err := filepath.Abs(baseDir)
		if err != nil {
			return "", "", &IOError{Op: "resolve", Path: baseDir, Err: err}
		}
		rel, err := filepath.Rel(absBase, absEntry)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return absBase, filepath.ToSlash(rel), nil
		}
	}
	return filepath.Dir(absEntry), filepath.Base(absEntry), nil
}
