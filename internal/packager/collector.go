// Package packager builds deployable zip archives from a JavaScript or
// TypeScript entry file and the transitive closure of source files it
// requires.
package packager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CollectOptions configures a single dependency-collection run.
type CollectOptions struct {
	// BaseDir is the directory the entry path is relative to. Staged paths
	// preserve their layout relative to this directory.
	BaseDir string

	// ExtraArgs are passed through to the underlying resolver uninterpreted.
	ExtraArgs []string

	// SearchPaths are additional directories consulted for absolute
	// (non-relative) imports.
	SearchPaths []string

	// TSConfig is the path to a tsconfig.json used when the closure contains
	// TypeScript sources. Empty means the resolver's defaults.
	TSConfig string
}

// Collector computes the closure of source files an entry transitively
// requires and stages them, compiled as needed, under a staging directory.
// Implementations return the staged paths relative to the staging root,
// sorted lexicographically.
type Collector interface {
	Collect(ctx context.Context, entry string, stagingDir string, opts CollectOptions) ([]string, error)
}

// collectTimeout bounds a single resolver invocation.
const collectTimeout = 60 * time.Second

// transpiledExtensions maps source extensions that are compiled to .js
// during staging.
var transpiledExtensions = map[string]bool{
	".ts":  true,
	".tsx": true,
	".mts": true,
	".cts": true,
}

// EsbuildCollector resolves the import closure by shelling out to esbuild,
// using its metafile output to discover the exact set of input files.
type EsbuildCollector struct {
	esbuildPath string
}

// NewEsbuildCollector locates the esbuild executable.
// Returns an error if esbuild is not installed.
func NewEsbuildCollector() (*EsbuildCollector, error) {
	esbuildPath, err := exec.LookPath("esbuild")
	if err != nil {
		// Try common installation paths
		commonPaths := []string{
			"/usr/local/bin/esbuild",
			"/usr/bin/esbuild",
			"/opt/homebrew/bin/esbuild",
			"./node_modules/.bin/esbuild",
		}

		for _, p := range commonPaths {
			if _, err := os.Stat(p); err == nil {
				esbuildPath = p
				break
			}
		}

		if esbuildPath == "" {
			return nil, fmt.Errorf("esbuild is required to resolve function dependencies. Install from https://esbuild.github.io")
		}
	}

	return &EsbuildCollector{esbuildPath: esbuildPath}, nil
}

// Collect runs a metafile-only bundle analysis to discover the entry's
// closure, then stages every discovered file (plus the package.json of any
// ancestor package directory) under stagingDir, transpiling TypeScript
// sources to JavaScript.
func (c *EsbuildCollector) Collect(ctx context.Context, entry string, stagingDir string, opts CollectOptions) ([]string, error) {
	baseDir, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, &IOError{Op: "resolve", Path: opts.BaseDir, Err: err}
	}

	// The analyze pass runs in baseDir while transpile runs in the process
	// directory; anchoring the tsconfig once keeps both invocations on the
	// same file.
	tsconfig, err := canonicalTSConfig(opts.TSConfig)
	if err != nil {
		return nil, &IOError{Op: "resolve", Path: opts.TSConfig, Err: err}
	}
	opts.TSConfig = tsconfig

	inputs, err := c.analyze(ctx, entry, baseDir, opts)
	if err != nil {
		return nil, err
	}

	staged, err := c.stage(ctx, entry, inputs, baseDir, stagingDir, opts)
	if err != nil {
		return nil, err
	}

	sort.Strings(staged)

	log.Debug().
		Str("entry", entry).
		Int("files", len(staged)).
		Msg("Dependency closure staged")

	return staged, nil
}

// analyze invokes esbuild with a metafile and discarded output to obtain the
// input-file closure without keeping the bundled result.
func (c *EsbuildCollector) analyze(ctx context.Context, entry, baseDir string, opts CollectOptions) ([]string, error) {
	scratch, err := os.MkdirTemp("", "funcpack-meta-*")
	if err != nil {
		return nil, &IOError{Op: "mkdir", Path: "meta scratch", Err: err}
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	metaPath := filepath.Join(scratch, "meta.json")

	args := []string{
		entry,
		"--bundle",
		"--platform=node",
		"--format=cjs",
		"--log-level=warning",
		"--metafile=" + metaPath,
		"--outfile=" + filepath.Join(scratch, "discard.js"),
	}
	if opts.TSConfig != "" {
		args = append(args, "--tsconfig="+opts.TSConfig)
	}
	args = append(args, opts.ExtraArgs...)

	analyzeCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	cmd := exec.CommandContext(analyzeCtx, c.esbuildPath, args...) //nolint:gosec // esbuildPath is validated in NewEsbuildCollector
	cmd.Dir = baseDir
	cmd.Env = c.resolverEnv(opts.SearchPaths)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if analyzeCtx.Err() == context.DeadlineExceeded {
		return nil, &ResolutionError{Entry: entry, Detail: "dependency resolution timed out after 60s"}
	}

	if runErr != nil {
		errMsg := stderr.String()
		if errMsg == "" {
			errMsg = stdout.String()
		}
		if errMsg == "" {
			errMsg = runErr.Error()
		}
		return nil, &ResolutionError{Entry: entry, Detail: cleanResolveError(errMsg, scratch)}
	}

	metaData, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &IOError{Op: "read", Path: metaPath, Err: err}
	}

	inputs, err := parseMetafile(metaData)
	if err != nil {
		return nil, &ResolutionError{Entry: entry, Detail: err.Error()}
	}

	return inputs, nil
}

// resolverEnv builds the child environment, exposing SearchPaths through
// NODE_PATH so bare imports resolve against the configured directories.
func (c *EsbuildCollector) resolverEnv(searchPaths []string) []string {
	env := filterEnvVars(os.Environ(), "NODE_PATH")
	if len(searchPaths) > 0 {
		env = append(env, "NODE_PATH="+strings.Join(searchPaths, string(os.PathListSeparator)))
	}
	return env
}

// stage copies every discovered input under stagingDir, preserving its path
// relative to baseDir. TypeScript sources are transpiled to .js in place of
// a plain copy. Ancestor package.json files are staged alongside so that
// package-root resolution keeps working inside the archive. A closure file
// that escapes baseDir has no representable staging path and fails the
// whole collection: shipping without it would produce an archive that
// cannot load.
func (c *EsbuildCollector) stage(ctx context.Context, entry string, inputs []string, baseDir, stagingDir string, opts CollectOptions) ([]string, error) {
	seen := make(map[string]bool)
	var staged []string

	add := func(rel string) {
		if !seen[rel] {
			seen[rel] = true
			staged = append(staged, rel)
		}
	}

	for _, input := range inputs {
		rel, ok := relativeToBase(input, baseDir)
		if !ok {
			return nil, &ResolutionError{
				Entry:  entry,
				Detail: fmt.Sprintf("dependency %s resolves outside the base directory %s", input, baseDir),
			}
		}

		src := filepath.Join(baseDir, filepath.FromSlash(rel))
		dstRel := StagedName(rel)
		dst := filepath.Join(stagingDir, filepath.FromSlash(dstRel))

		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			return nil, &IOError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
		}

		if transpiledExtensions[path.Ext(rel)] {
			if err := c.transpile(ctx, src, dst, opts); err != nil {
				return nil, err
			}
		} else {
			if err := copyFile(src, dst); err != nil {
				return nil, err
			}
		}
		add(dstRel)

		// Every package.json in an ancestor directory participates in
		// import resolution for files beneath it.
		for _, pkgRel := range ancestorPackageFiles(rel, baseDir) {
			if seen[pkgRel] {
				continue
			}
			pkgDst := filepath.Join(stagingDir, filepath.FromSlash(pkgRel))
			if err := os.MkdirAll(filepath.Dir(pkgDst), 0750); err != nil {
				return nil, &IOError{Op: "mkdir", Path: filepath.Dir(pkgDst), Err: err}
			}
			if err := copyFile(filepath.Join(baseDir, filepath.FromSlash(pkgRel)), pkgDst); err != nil {
				return nil, err
			}
			add(pkgRel)
		}
	}

	return staged, nil
}

// transpileArgs builds the single-file compile invocation. Format and
// platform match the closure analysis: the staged output must load under
// the same CJS loader the synthesized entry stub requires() into.
func transpileArgs(src, tsconfig string) []string {
	args := []string{src, "--format=cjs", "--platform=node", "--log-level=warning"}
	if tsconfig != "" {
		args = append(args, "--tsconfig="+tsconfig)
	}
	return args
}

// transpile compiles a single TypeScript source to JavaScript at dst.
func (c *EsbuildCollector) transpile(ctx context.Context, src, dst string, opts CollectOptions) error {
	cmd := exec.CommandContext(ctx, c.esbuildPath, transpileArgs(src, opts.TSConfig)...) //nolint:gosec // esbuildPath is validated in NewEsbuildCollector

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &ResolutionError{Entry: src, Detail: cleanResolveError(stderr.String(), "")}
	}

	if err := os.WriteFile(dst, []byte(stdout.String()), 0600); err != nil {
		return &IOError{Op: "write", Path: dst, Err: err}
	}
	return nil
}

// metafile mirrors the subset of esbuild's metafile format we consume.
type metafile struct {
	Inputs map[string]struct {
		Bytes int64 `json:"bytes"`
	} `json:"inputs"`
}

// parseMetafile extracts the input-file list from a metafile document,
// sorted lexicographically. Virtual inputs (plugin-injected, disabled
// modules) are skipped.
func parseMetafile(data []byte) ([]string, error) {
	var meta metafile
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid metafile: %w", err)
	}

	inputs := make([]string, 0, len(meta.Inputs))
	for name := range meta.Inputs {
		if strings.HasPrefix(name, "<") || strings.HasPrefix(name, "(disabled)") {
			continue
		}
		// Strip plugin namespaces like "file:path".
		if idx := strings.Index(name, ":"); idx > 1 && !strings.Contains(name[:idx], "/") {
			name = name[idx+1:]
		}
		inputs = append(inputs, filepath.ToSlash(name))
	}

	sort.Strings(inputs)
	return inputs, nil
}

// relativeToBase normalizes an input path from the metafile to a clean
// slash-separated path relative to baseDir. Inputs escaping the base
// directory are rejected.
func relativeToBase(input, baseDir string) (string, bool) {
	p := filepath.FromSlash(input)
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	rel, err := filepath.Rel(baseDir, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// ancestorPackageFiles returns the relative paths of every package.json
// found in an ancestor directory of rel, up to and including baseDir.
func ancestorPackageFiles(rel, baseDir string) []string {
	var found []string
	dir := path.Dir(rel)
	for {
		pkgRel := path.Join(dir, "package.json")
		if _, err := os.Stat(filepath.Join(baseDir, filepath.FromSlash(pkgRel))); err == nil {
			found = append(found, pkgRel)
		}
		if dir == "." {
			break
		}
		dir = path.Dir(dir)
	}
	return found
}

// canonicalTSConfig resolves a tsconfig path against the process working
// directory, where the caller supplied it.
func canonicalTSConfig(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

// StagedName maps a source-relative path to its staged name: TypeScript
// extensions become .js, everything else is unchanged.
func StagedName(rel string) string {
	ext := path.Ext(rel)
	if transpiledExtensions[ext] {
		return strings.TrimSuffix(rel, ext) + ".js"
	}
	return rel
}

// copyFile copies src to dst, truncating any existing file.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &IOError{Op: "read", Path: src, Err: err}
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return &IOError{Op: "write", Path: dst, Err: err}
	}
	return nil
}

// cleanResolveError cleans up resolver diagnostics for better user
// experience. scratchDir, when set, is the analysis scratch directory whose
// path is stripped from the messages.
func cleanResolveError(errMsg, scratchDir string) string {
	if scratchDir != "" {
		errMsg = strings.ReplaceAll(errMsg, scratchDir+string(os.PathSeparator), "")
		errMsg = strings.ReplaceAll(errMsg, scratchDir, "")
	}

	lines := strings.Split(errMsg, "\n")
	var relevantLines []string

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Include error messages but skip noise
		if strings.Contains(line, "ERROR") ||
			strings.Contains(line, "error:") ||
			strings.Contains(line, "Could not resolve") ||
			strings.Contains(line, "Expected") ||
			strings.Contains(line, "Unexpected") {
			relevantLines = append(relevantLines, line)
		}
	}

	if len(relevantLines) > 0 {
		return strings.Join(relevantLines, "\n")
	}

	// Fallback to full error if we couldn't extract anything
	return errMsg
}

// filterEnvVars returns a copy of env with the specified variable names removed
func filterEnvVars(env []string, names ...string) []string {
	result := make([]string, 0, len(env))
	for _, e := range env {
		skip := false
		for _, name := range names {
			if strings.HasPrefix(e, name+"=") {
				skip = true
				break
			}
		}
		if !skip {
			result = append(result, e)
		}
	}
	return result
}
