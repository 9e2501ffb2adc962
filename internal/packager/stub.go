package packager

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// SynthesizeStub guarantees the staged tree exposes a top-level entry module.
// Lambda requires the handler module at the archive root, but a nested entry
// file's own relative imports resolve against its original location, so the
// file cannot simply be moved. Instead a one-line alias module is written at
// the root that re-exports the nested module.
//
// entryRel is the staged entry path relative to stagingDir. When the entry is
// already top-level no stub is needed and the empty string is returned.
// Returns the relative path of the stub that was written otherwise.
func SynthesizeStub(stagingDir, entryRel string) (string, error) {
	entryRel = path.Clean(filepath.ToSlash(entryRel))

	if path.Dir(entryRel) == "." {
		return "", nil
	}

	ext := path.Ext(entryRel)
	stubName := strings.TrimSuffix(path.Base(entryRel), ext) + ".js"
	stubPath := filepath.Join(stagingDir, stubName)

	// A staged file with the same name at the root would be silently shadowed
	// by the stub. Fail loudly instead.
	if _, err := os.Lstat(stubPath); err == nil {
		return "", &IOError{
			Op:   "write stub",
			Path: stubName,
			Err:  fmt.Errorf("a staged top-level file with the same name already exists"),
		}
	}

	target := "./" + strings.TrimSuffix(entryRel, ext)
	content := fmt.Sprintf("module.exports = require('%s');\n", target)

	if err := os.WriteFile(stubPath, []byte(content), 0600); err != nil {
		return "", &IOError{Op: "write stub", Path: stubPath, Err: err}
	}

	log.Debug().
		Str("stub", stubName).
		Str("target", target).
		Msg("Synthesized top-level entry stub")

	return stubName, nil
}
