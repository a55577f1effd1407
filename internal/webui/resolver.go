// Package webui serves a module's web root to the embedded renderer. Every
// request path is untrusted; it is confined to a canonical root before any
// file is read through the privileged file manager.
package webui

import (
	"errors"
	"fmt"
	"mmrl/internal/fileops"
	"strings"
)

// ErrForbiddenRoot is returned when a resolver root cannot be canonicalized
// or lies in a directory that must never be served.
var ErrForbiddenRoot = errors.New("forbidden web root")

// forbiddenDirs hold other apps' private data and system credentials.
var forbiddenDirs = []string{"/data/data", "/data/system"}

// Forbidden reports whether the canonical path p lies in a forbidden
// directory.
func Forbidden(p string) bool {
	for _, dir := range forbiddenDirs {
		if p == dir || strings.HasPrefix(p, dir+"/") {
			return true
		}
	}
	return false
}

// Resolver maps request paths onto files under one root.
type Resolver struct {
	fm   fileops.FileManager
	root string // canonical, with a trailing slash
}

// NewResolver canonicalizes root once. Requests are later compared
// against that form.
func NewResolver(fm fileops.FileManager, root string) (*Resolver, error) {
	canon, err := fm.CanonicalPath(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrForbiddenRoot, root, err)
	}
	if Forbidden(canon) {
		return nil, fmt.Errorf("%w: %s resolves into %s", ErrForbiddenRoot, root, canon)
	}
	if !strings.HasSuffix(canon, "/") {
		canon += "/"
	}
	return &Resolver{fm: fm, root: canon}, nil
}

// Root returns the canonical root, ending in a slash.
func (r *Resolver) Root() string { return r.root }

// ResolveChild returns the canonical file for p, or false if p leaves the
// root or cannot be canonicalized. The reason is never reported.
func (r *Resolver) ResolveChild(p string) (string, bool) {
	canon, err := r.fm.CanonicalPath(r.root + strings.TrimLeft(p, "/"))
	if err != nil {
		return "", false
	}
	if canon+"/" == r.root {
		return canon, true
	}
	if !strings.HasPrefix(canon, r.root) {
		return "", false
	}
	return canon, true
}
