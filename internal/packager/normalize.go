package packager

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// archiveEpoch is the fixed timestamp applied to every staged file and
// directory. Identical dependency sets must produce byte-identical archives,
// and per-file modification times are the main source of non-determinism in
// zip output.
var archiveEpoch = time.Unix(0, 0).UTC()

// NormalizeTree resets the modification time of every file and directory
// under root to a fixed constant. Contents, permissions and structure are
// left untouched. Visitation is lexicographic with directories before their
// children.
func NormalizeTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &IOError{Op: "walk", Path: p, Err: err}
		}
		if err := os.Chtimes(p, archiveEpoch, archiveEpoch); err != nil {
			return &IOError{Op: "chtimes", Path: p, Err: err}
		}
		return nil
	})
}
