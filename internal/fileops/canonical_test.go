package fileops

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// realTempDir returns t.TempDir with its own symlinks resolved, so that
// expectations can be compared against canonical output.
func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval temp dir: %v", err)
	}
	return dir
}

func TestCanonicalize(t *testing.T) {
	root := realTempDir(t)
	webroot := filepath.Join(root, "modules", "foo", "webroot")
	os.MkdirAll(filepath.Join(webroot, "assets"), 0755)
	secrets := filepath.Join(root, "secrets")
	os.MkdirAll(secrets, 0755)
	os.WriteFile(filepath.Join(secrets, "key"), []byte("k"), 0600)

	os.Symlink(secrets, filepath.Join(webroot, "escape"))
	os.Symlink("assets", filepath.Join(webroot, "rel"))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", webroot + "/assets", webroot + "/assets"},
		{"dot segments", webroot + "/./assets/../assets", webroot + "/assets"},
		{"absolute link", webroot + "/escape/key", secrets + "/key"},
		{"relative link", webroot + "/rel", webroot + "/assets"},
		{"dotdot after link", webroot + "/escape/..", root},
		{"missing tail", webroot + "/nope/index.html", webroot + "/nope/index.html"},
		{"missing then link", webroot + "/nope/../escape/key", secrets + "/key"},
		{"above root", "/../../" + root[1:], root},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeSymlinkLoop(t *testing.T) {
	root := realTempDir(t)
	os.Symlink("b", filepath.Join(root, "a"))
	os.Symlink("a", filepath.Join(root, "b"))

	_, err := Canonicalize(filepath.Join(root, "a", "x"))
	if !errors.Is(err, ErrTooManyLinks) {
		t.Errorf("got %v, want ErrTooManyLinks", err)
	}
}

func TestCanonicalizeEmpty(t *testing.T) {
	if _, err := Canonicalize(""); err == nil {
		t.Error("expected error for empty path")
	}
}
