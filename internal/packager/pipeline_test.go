package packager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
)

// fakeCollector stages a fixed file set, recording every invocation and the
// staging directory it was handed.
type fakeCollector struct {
	mu          sync.Mutex
	files       map[string]string // staged rel path -> content
	failWith    error
	calls       int
	stagingDirs []string
}

func (f *fakeCollector) Collect(ctx context.Context, entry, stagingDir string, opts CollectOptions) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.stagingDirs = append(f.stagingDirs, stagingDir)
	f.mu.Unlock()

	if f.failWith != nil {
		return nil, f.failWith
	}

	var staged []string
	for rel, content := range f.files {
		dst := filepath.Join(stagingDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, []byte(content), 0600); err != nil {
			return nil, err
		}
		staged = append(staged, rel)
	}
	sort.Strings(staged)
	return staged, nil
}

func (f *fakeCollector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// newFixture creates a base directory with a nested entry file and returns
// the base, the entry's absolute path, and a collector staging that entry
// plus one dependency.
func newFixture(t *testing.T) (string, string, *fakeCollector) {
	t.Helper()
	base := t.TempDir()
	entry := filepath.Join(base, "src", "handler.js")
	mustWrite(t, entry, "exports.handler = () => require('./util');")
	mustWrite(t, filepath.Join(base, "src", "util.js"), "module.exports = 42;")

	collector := &fakeCollector{files: map[string]string{
		"src/handler.js": "exports.handler = () => require('./util');",
		"src/util.js":    "module.exports = 42;",
	}}
	return base, entry, collector
}

func archiveEntries(t *testing.T, archivePath string) []string {
	t.Helper()
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("archive unreadable: %v", err)
	}
	defer func() { _ = zr.Close() }()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestPackage_NestedEntryGetsStub(t *testing.T) {
	base, entry, collector := newFixture(t)
	p := New(collector, NewZipBuilder(), t.TempDir())

	archive, err := p.Package(context.Background(), entry, Options{
		Collect: CollectOptions{BaseDir: base},
	})
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}

	got := archiveEntries(t, archive)
	want := []string{"handler.js", "src/handler.js", "src/util.js"}
	if len(got) != len(want) {
		t.Fatalf("expected entries %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected entries %v, got %v", want, got)
		}
	}
}

func TestPackage_TopLevelEntryNoStub(t *testing.T) {
	base := t.TempDir()
	entry := filepath.Join(base, "handler.js")
	mustWrite(t, entry, "exports.handler = () => {};")

	collector := &fakeCollector{files: map[string]string{
		"handler.js": "exports.handler = () => {};",
	}}
	p := New(collector, NewZipBuilder(), t.TempDir())

	archive, err := p.Package(context.Background(), entry, Options{
		Collect: CollectOptions{BaseDir: base},
	})
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}

	got := archiveEntries(t, archive)
	if len(got) != 1 || got[0] != "handler.js" {
		t.Errorf("expected only handler.js, got %v", got)
	}
}

func TestPackage_CacheReuse(t *testing.T) {
	base, entry, collector := newFixture(t)
	p := New(collector, NewZipBuilder(), t.TempDir())

	opts := Options{
		Collect: CollectOptions{BaseDir: base},
		Cache:   NewCache(),
	}

	first, err := p.Package(context.Background(), entry, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Package(context.Background(), entry, opts)
	if err != nil {
		t.Fatal(err)
	}

	if collector.callCount() != 1 {
		t.Errorf("expected one collector run with a shared cache, got %d", collector.callCount())
	}
	if first != second {
		t.Errorf("expected the cached archive path, got %q then %q", first, second)
	}
}

func TestPackage_NoCacheRebuilds(t *testing.T) {
	base, entry, collector := newFixture(t)
	p := New(collector, NewZipBuilder(), t.TempDir())

	opts := Options{Collect: CollectOptions{BaseDir: base}}

	if _, err := p.Package(context.Background(), entry, opts); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Package(context.Background(), entry, opts); err != nil {
		t.Fatal(err)
	}

	if collector.callCount() != 2 {
		t.Errorf("expected two collector runs without a cache, got %d", collector.callCount())
	}
}

func TestPackage_Reproducible(t *testing.T) {
	base, entry, collector := newFixture(t)
	p := New(collector, NewZipBuilder(), t.TempDir())

	opts := Options{Collect: CollectOptions{BaseDir: base}}

	first, err := p.Package(context.Background(), entry, opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Package(context.Background(), entry, opts)
	if err != nil {
		t.Fatal(err)
	}

	b1, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("packaging the same entry twice produced different archive bytes")
	}
}

func TestPackage_StagingCleanedUp(t *testing.T) {
	base, entry, collector := newFixture(t)
	p := New(collector, NewZipBuilder(), t.TempDir())

	if _, err := p.Package(context.Background(), entry, Options{
		Collect: CollectOptions{BaseDir: base},
	}); err != nil {
		t.Fatal(err)
	}

	for _, dir := range collector.stagingDirs {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("staging directory %s was not removed", dir)
		}
	}
}

func TestPackage_CollectorFailure(t *testing.T) {
	base, entry, collector := newFixture(t)
	collector.failWith = &ResolutionError{Entry: "src/handler.js", Detail: `Could not resolve "./missing"`}

	workDir := t.TempDir()
	p := New(collector, NewZipBuilder(), workDir)

	_, err := p.Package(context.Background(), entry, Options{
		Collect: CollectOptions{BaseDir: base},
	})
	if err == nil {
		t.Fatal("expected collector failure to propagate")
	}

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Errorf("expected ResolutionError, got %T", err)
	}

	// No archive is left behind and the staging dir is gone.
	entries, readErr := os.ReadDir(workDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("expected no archives in work dir after failure, found %d", len(entries))
	}
	for _, dir := range collector.stagingDirs {
		if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
			t.Errorf("staging directory %s leaked after failure", dir)
		}
	}
}

func TestPackage_MissingEntry(t *testing.T) {
	collector := &fakeCollector{}
	p := New(collector, NewZipBuilder(), t.TempDir())

	_, err := p.Package(context.Background(), filepath.Join(t.TempDir(), "nope.js"), Options{})
	if err == nil {
		t.Fatal("expected error for missing entry file")
	}
	if collector.callCount() != 0 {
		t.Error("collector must not run for a missing entry")
	}
}

func TestSplitEntry(t *testing.T) {
	base := t.TempDir()

	entry := filepath.Join(base, "src", "handler.js")

	gotBase, gotRel, err := splitEntry(entry, base)
	if err != nil {
		t.Fatal(err)
	}
	if gotRel != "src/handler.js" {
		t.Errorf("expected src/handler.js, got %q", gotRel)
	}
	if gotBase != base {
		t.Errorf("expected base %q, got %q", base, gotBase)
	}

	// Entry outside the base falls back to its own directory.
	outside := filepath.Join(t.TempDir(), "other.js")
	gotBase, gotRel, err = splitEntry(outside, base)
	if err != nil {
		t.Fatal(err)
	}
	if gotRel != "other.js" {
		t.Errorf("expected other.js, got %q", gotRel)
	}
	if gotBase != filepath.Dir(outside) {
		t.Errorf("expected base %q, got %q", filepath.Dir(outside), gotBase)
	}
}
