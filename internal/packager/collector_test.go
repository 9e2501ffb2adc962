package packager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseMetafile(t *testing.T) {
	data := []byte(`{
		"inputs": {
			"src/handler.js": {"bytes": 120},
			"src/util/helpers.js": {"bytes": 80},
			"node_modules/left-pad/index.js": {"bytes": 50},
			"<runtime>": {"bytes": 10},
			"(disabled):fs": {"bytes": 0}
		}
	}`)

	inputs, err := parseMetafile(data)
	if err != nil {
		t.Fatalf("parseMetafile failed: %v", err)
	}

	want := []string{
		"node_modules/left-pad/index.js",
		"src/handler.js",
		"src/util/helpers.js",
	}
	if len(inputs) != len(want) {
		t.Fatalf("expected %d inputs, got %d: %v", len(want), len(inputs), inputs)
	}
	for i, w := range want {
		if inputs[i] != w {
			t.Errorf("input %d: expected %q, got %q", i, w, inputs[i])
		}
	}
}

func TestParseMetafile_Invalid(t *testing.T) {
	if _, err := parseMetafile([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid metafile")
	}
}

func TestRelativeToBase(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{
			name:   "relative input",
			input:  "src/handler.js",
			want:   "src/handler.js",
			wantOK: true,
		},
		{
			name:   "absolute input under base",
			input:  filepath.ToSlash(filepath.Join(base, "lib/a.js")),
			want:   "lib/a.js",
			wantOK: true,
		},
		{
			name:   "input escaping base",
			input:  "../outside.js",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := relativeToBase(tt.input, base)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAncestorPackageFiles(t *testing.T) {
	base := t.TempDir()

	mustWrite(t, filepath.Join(base, "package.json"), `{"name":"root"}`)
	mustWrite(t, filepath.Join(base, "node_modules/pkg/package.json"), `{"name":"pkg"}`)
	mustWrite(t, filepath.Join(base, "node_modules/pkg/lib/index.js"), "module.exports = 1;")

	found := ancestorPackageFiles("node_modules/pkg/lib/index.js", base)

	want := map[string]bool{
		"node_modules/pkg/package.json": true,
		"package.json":                  true,
	}
	if len(found) != len(want) {
		t.Fatalf("expected %d package files, got %v", len(want), found)
	}
	for _, f := range found {
		if !want[f] {
			t.Errorf("unexpected package file %q", f)
		}
	}
}

func TestAncestorPackageFiles_None(t *testing.T) {
	base := t.TempDir()
	mustWrite(t, filepath.Join(base, "src/a.js"), "module.exports = 1;")

	if found := ancestorPackageFiles("src/a.js", base); len(found) != 0 {
		t.Errorf("expected no package files, got %v", found)
	}
}

func TestStagedName(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"src/handler.ts", "src/handler.js"},
		{"src/handler.tsx", "src/handler.js"},
		{"src/handler.js", "src/handler.js"},
		{"package.json", "package.json"},
	}

	for _, tt := range tests {
		if got := StagedName(tt.rel); got != tt.want {
			t.Errorf("StagedName(%q) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}

func TestCleanResolveError(t *testing.T) {
	raw := "some banner line\n" +
		`✘ [ERROR] Could not resolve "./missing" from src/handler.js` + "\n" +
		"1 error\n"

	cleaned := cleanResolveError(raw, "")

	if cleaned == raw {
		t.Error("expected noise lines to be stripped")
	}
	if want := `Could not resolve "./missing"`; !strings.Contains(cleaned, want) {
		t.Errorf("expected cleaned message to name the unresolved import, got %q", cleaned)
	}
}

func TestCleanResolveError_StripsScratchDir(t *testing.T) {
	scratch := filepath.Join("/var/folders/zz", "funcpack-meta-abc123")
	raw := "✘ [ERROR] Could not resolve \"left-pad\" from " +
		filepath.Join(scratch, "discard.js") + "\n"

	cleaned := cleanResolveError(raw, scratch)

	if strings.Contains(cleaned, scratch) {
		t.Errorf("expected scratch path to be scrubbed, got %q", cleaned)
	}
	if !strings.Contains(cleaned, `Could not resolve "left-pad"`) {
		t.Errorf("expected the unresolved import to survive, got %q", cleaned)
	}
}

func TestStage_DependencyOutsideBaseFails(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "app")
	mustWrite(t, filepath.Join(base, "src/handler.js"), "require('../../shared/util');\n")
	mustWrite(t, filepath.Join(root, "shared/util.js"), "module.exports = 1;\n")

	c := &EsbuildCollector{esbuildPath: "esbuild"}
	inputs := []string{"../shared/util.js", "src/handler.js"}

	_, err := c.stage(context.Background(), "src/handler.js", inputs, base, t.TempDir(), CollectOptions{})

	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError for out-of-base dependency, got %v", err)
	}
	if !strings.Contains(resErr.Detail, "../shared/util.js") {
		t.Errorf("expected the escaping file to be named, got %q", resErr.Detail)
	}
	if !strings.Contains(resErr.Detail, "outside the base directory") {
		t.Errorf("expected the failure reason, got %q", resErr.Detail)
	}
}

func TestTranspileArgs(t *testing.T) {
	args := transpileArgs("src/handler.ts", "/abs/tsconfig.json")

	want := []string{"--format=cjs", "--platform=node", "--tsconfig=/abs/tsconfig.json"}
	for _, w := range want {
		found := false
		for _, a := range args {
			if a == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected transpile args to contain %q, got %v", w, args)
		}
	}

	if args[0] != "src/handler.ts" {
		t.Errorf("expected source first, got %v", args)
	}
}

func TestTranspileArgs_NoTSConfig(t *testing.T) {
	for _, a := range transpileArgs("a.ts", "") {
		if strings.HasPrefix(a, "--tsconfig") {
			t.Errorf("unexpected tsconfig flag: %v", a)
		}
	}
}

func TestCanonicalTSConfig(t *testing.T) {
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	got, err := canonicalTSConfig(filepath.Join("configs", "tsconfig.json"))
	if err != nil {
		t.Fatalf("canonicalTSConfig failed: %v", err)
	}
	if want := filepath.Join(cwd, "configs", "tsconfig.json"); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	abs := filepath.Join(cwd, "tsconfig.base.json")
	if got, _ := canonicalTSConfig(abs); got != abs {
		t.Errorf("expected absolute path unchanged, got %q", got)
	}

	if got, _ := canonicalTSConfig(""); got != "" {
		t.Errorf("expected empty path to stay empty, got %q", got)
	}
}

func TestFilterEnvVars(t *testing.T) {
	env := []string{"NODE_PATH=/old", "HOME=/home/u", "PATH=/bin"}
	got := filterEnvVars(env, "NODE_PATH")

	for _, e := range got {
		if e == "NODE_PATH=/old" {
			t.Error("NODE_PATH should have been filtered out")
		}
	}
	if len(got) != 2 {
		t.Errorf("expected 2 vars, got %d", len(got))
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
