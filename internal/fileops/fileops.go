// Package fileops is the privileged file-system facade used by the module
// manager and the web-UI content server. It performs no confinement of its
// own; callers that serve untrusted paths go through webui.Resolver.
package fileops

import (
	"io/fs"
	"time"
)

// FileType classifies what a path points at, without following symlinks.
type FileType int

const (
	TypeMissing FileType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeBlock
	TypeCharacter
	TypeNamedPipe
	TypeSocket
	TypeOther
)

func (t FileType) String() string {
	switch t {
	case TypeMissing:
		return "missing"
	case TypeRegular:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeBlock:
		return "block"
	case TypeCharacter:
		return "character"
	case TypeNamedPipe:
		return "pipe"
	case TypeSocket:
		return "socket"
	}
	return "other"
}

// FileInfo is the subset of stat(2) callers across the privilege boundary
// need.
type FileInfo struct {
	Name    string   `cbor:"1,keyasint" json:"name"`
	Size    int64    `cbor:"2,keyasint" json:"size"`
	Mode    uint32   `cbor:"3,keyasint" json:"mode"`
	ModTime int64    `cbor:"4,keyasint" json:"mtime"` // unix milliseconds
	Type    FileType `cbor:"5,keyasint" json:"type"`
	UID     int      `cbor:"6,keyasint" json:"uid"`
	GID     int      `cbor:"7,keyasint" json:"gid"`
}

// LastModified returns ModTime as a time.Time.
func (fi *FileInfo) LastModified() time.Time {
	return time.UnixMilli(fi.ModTime)
}

// Perm returns the permission bits.
func (fi *FileInfo) Perm() fs.FileMode {
	return fs.FileMode(fi.Mode).Perm()
}

// FileManager is the set of privileged file operations. All paths are
// absolute. Predicates answer false when the path cannot be inspected.
type FileManager interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte, append bool) error
	List(path string) ([]string, error)
	Stat(path string) (*FileInfo, error)
	Size(path string, recursive bool) (int64, error)
	Type(path string) FileType

	Exists(path string) bool
	IsDirectory(path string) bool
	IsFile(path string) bool
	IsSymlink(path string) bool
	IsHidden(path string) bool
	CanRead(path string) bool
	CanWrite(path string) bool
	CanExecute(path string) bool

	Mkdir(path string) error
	Mkdirs(path string) error
	CreateNewFile(path string) (bool, error)
	Delete(path string) error
	Rename(src, dst string) error
	Copy(src, dst string, overwrite bool) error
	SetPermissions(path string, mode uint32) error
	SetOwner(path string, uid, gid int) error

	// CanonicalPath resolves every symlink in path, applying ".." after
	// resolution. Components that do not exist are kept as written.
	CanonicalPath(path string) (string, error)
}
