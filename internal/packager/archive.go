package packager

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

// ArchiveBuilder produces a single compressed archive from a normalized
// staging tree. Alternate implementations (native library, external zip
// binary) are interchangeable behind this interface.
type ArchiveBuilder interface {
	Build(ctx context.Context, stagingDir, destPath string) error
}

// zipBuilder writes deflate-compressed zip archives. Entry order, header
// timestamps and file modes are fixed so that identical staging trees always
// produce byte-identical archives.
type zipBuilder struct{}

// NewZipBuilder returns the default zip ArchiveBuilder.
func NewZipBuilder() ArchiveBuilder {
	return zipBuilder{}
}

// Build archives every regular file under stagingDir into destPath. Internal
// entry paths are relative to stagingDir, so unzipping anywhere reproduces
// the staged layout. Directory entries are never written. The archive is
// assembled in a temporary file and renamed into place only on full success,
// so no partial archive is ever visible at destPath.
func (zipBuilder) Build(ctx context.Context, stagingDir, destPath string) error {
	if err := ctx.Err(); err != nil {
		return &BuildError{Dest: destPath, Err: err}
	}

	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return &BuildError{Dest: destPath, Err: err}
	}

	entries, err := listFiles(stagingDir)
	if err != nil {
		return &BuildError{Dest: destPath, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".funcpack-*.zip")
	if err != nil {
		return &BuildError{Dest: destPath, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := writeZip(tmp, stagingDir, entries); err != nil {
		_ = tmp.Close()
		return &BuildError{Dest: destPath, Err: err}
	}

	if err := tmp.Close(); err != nil {
		return &BuildError{Dest: destPath, Err: err}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return &BuildError{Dest: destPath, Err: err}
	}

	log.Debug().
		Str("archive", destPath).
		Int("files", len(entries)).
		Msg("Archive built")

	return nil
}

// listFiles returns the slash-separated relative paths of every regular file
// under root, sorted lexicographically.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func writeZip(w io.Writer, stagingDir string, entries []string) error {
	zw := zip.NewWriter(w)

	for _, rel := range entries {
		hdr := &zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: archiveEpoch,
		}
		hdr.SetMode(0644)

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}

		src, err := os.Open(filepath.Join(stagingDir, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, src)
		_ = src.Close()
		if err != nil {
			return err
		}
	}

	return zw.Close()
}
