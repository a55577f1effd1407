package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// maxSymlinks bounds link expansion, like the kernel's ELOOP limit.
const maxSymlinks = 40

// ErrTooManyLinks is returned when canonicalizing a path needs more than
// maxSymlinks expansions.
var ErrTooManyLinks = errors.New("too many levels of symbolic links")

// Canonicalize resolves path like realpath(3), except that missing
// components are kept instead of failing. Components are resolved one at a
// time from the left, so "link/.." goes to the parent of the link's target
// rather than being cancelled lexically.
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("canonicalize: empty path")
	}
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("canonicalize %s: %w", path, err)
		}
		path = wd + "/" + path
	}

	pending := splitComponents(path)
	resolved := "/"
	links := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		switch name {
		case ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		info, err := os.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ENOTDIR) {
				// Missing components are kept as written. Later ones are
				// still checked, since ".." can climb back to real ones.
				resolved = next
				continue
			}
			return "", fmt.Errorf("canonicalize %s: %w", path, err)
		}

		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		links++
		if links > maxSymlinks {
			return "", fmt.Errorf("canonicalize %s: %w", path, ErrTooManyLinks)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("canonicalize %s: %w", path, err)
		}
		if filepath.IsAbs(target) {
			resolved = "/"
		}
		pending = append(splitComponents(target), pending...)
	}

	return resolved, nil
}

func splitComponents(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
