package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/funcpack/funcpack/internal/packager"
	"github.com/funcpack/funcpack/internal/sink"
)

// session holds the pipeline pieces shared across one CLI invocation: the
// packager, the packaging cache and a scratch directory for finished
// archives. The scratch directory is removed when the session closes; sinks
// copy or upload archives out of it before then.
type session struct {
	packager *packager.Packager
	cache    *packager.Cache
	workDir  string
}

// newSession builds the packaging pipeline from the resolved settings.
// The returned close function releases the session's scratch directory.
func newSession() (*session, func(), error) {
	collector, err := packager.NewEsbuildCollector()
	if err != nil {
		return nil, nil, err
	}

	workDir, err := os.MkdirTemp("", "funcpack-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	s := &session{
		packager: packager.New(collector, packager.NewZipBuilder(), workDir),
		cache:    packager.NewCache(),
		workDir:  workDir,
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	return s, cleanup, nil
}

// packageEntry runs the pipeline for one entry with the session's cache.
// baseDir anchors the staged layout; empty means the current directory.
func (s *session) packageEntry(ctx context.Context, entry, baseDir string) (string, error) {
	if baseDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		baseDir = cwd
	}

	return s.packager.Package(ctx, entry, packager.Options{
		Collect: packager.CollectOptions{
			BaseDir:     baseDir,
			ExtraArgs:   collectorArgs,
			SearchPaths: searchPaths,
			TSConfig:    tsconfigSetting(),
		},
		Cache: s.cache,
	})
}

// newS3Sink builds the content-addressed upload sink from the resolved
// settings.
func newS3Sink() (*sink.S3Sink, error) {
	return sink.NewS3Sink(sink.S3Options{
		Endpoint: endpointSetting(),
		Region:   regionSetting(),
		Bucket:   bucketSetting(),
		Prefix:   prefixSetting(),
	})
}
