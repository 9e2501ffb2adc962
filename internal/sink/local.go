// Package sink delivers built archives to their destinations: a local file,
// content-addressed object storage, or a deployed Lambda function.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Local copies archivePath to outPath, overwriting any existing file. The
// copy goes through a temporary file in the destination directory so a
// failure never leaves a partial archive at outPath.
func Local(archivePath, outPath string) (string, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = src.Close() }()

	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, ".funcpack-out-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write output file: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}

	log.Debug().Str("path", outPath).Msg("Archive written")
	return outPath, nil
}
