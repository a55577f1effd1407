package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Local implements FileManager with the calling process's own
// privileges. Inside mmrld that is root.
type Local struct{}

// NewLocal returns the local file manager.
func NewLocal() *Local {
	return &Local{}
}

var _ FileManager = (*Local)(nil)

func (*Local) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (*Local) Write(path string, data []byte, append bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (*Local) List(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (l *Local) Stat(path string) (*FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	return &FileInfo{
		Name:    filepath.Base(path),
		Size:    st.Size,
		Mode:    st.Mode & 07777,
		ModTime: st.Mtim.Sec*1000 + st.Mtim.Nsec/1e6,
		Type:    typeFromMode(st.Mode),
		UID:     int(st.Uid),
		GID:     int(st.Gid),
	}, nil
}

// Size returns the size of path. With recursive set, directories report
// the total size of the regular files below them; symlinks are not
// followed.
func (*Local) Size(path string, recursive bool) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !recursive || !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

func (*Local) Type(path string) FileType {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return TypeMissing
	}
	return typeFromMode(st.Mode)
}

func typeFromMode(mode uint32) FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return TypeRegular
	case unix.S_IFDIR:
		return TypeDirectory
	case unix.S_IFLNK:
		return TypeSymlink
	case unix.S_IFBLK:
		return TypeBlock
	case unix.S_IFCHR:
		return TypeCharacter
	case unix.S_IFIFO:
		return TypeNamedPipe
	case unix.S_IFSOCK:
		return TypeSocket
	}
	return TypeOther
}

func (*Local) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (*Local) IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (*Local) IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (l *Local) IsSymlink(path string) bool {
	return l.Type(path) == TypeSymlink
}

func (*Local) IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (*Local) CanRead(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

func (*Local) CanWrite(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

func (*Local) CanExecute(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}

func (*Local) Mkdir(path string) error {
	return os.Mkdir(path, 0755)
}

func (*Local) Mkdirs(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateNewFile creates path if it does not exist and reports whether it
// did.
func (*Local) CreateNewFile(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	return true, f.Close()
}

// Delete removes path and everything below it. A missing path is not an
// error.
func (*Local) Delete(path string) error {
	return os.RemoveAll(path)
}

func (*Local) Rename(src, dst string) error {
	return os.Rename(src, dst)
}

// Copy copies a file, symlink or directory tree. Without overwrite an
// existing destination fails with fs.ErrExist.
func (l *Local) Copy(src, dst string, overwrite bool) error {
	if _, err := os.Lstat(dst); err == nil {
		if !overwrite {
			return &fs.PathError{Op: "copy", Path: dst, Err: fs.ErrExist}
		}
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}
	return copyTree(src, dst)
}

func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := os.Mkdir(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil

	case info.Mode().IsRegular():
		return copyFile(src, dst, info.Mode().Perm())
	}
	return fmt.Errorf("copy %s: unsupported file type %s", src, info.Mode().Type())
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (*Local) SetPermissions(path string, mode uint32) error {
	return os.Chmod(path, fs.FileMode(mode&0777)|modeExtras(mode))
}

// modeExtras carries setuid, setgid and sticky bits over from a raw
// st_mode value into os.FileMode.
func modeExtras(mode uint32) fs.FileMode {
	var m fs.FileMode
	if mode&unix.S_ISUID != 0 {
		m |= fs.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= fs.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= fs.ModeSticky
	}
	return m
}

func (*Local) SetOwner(path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

func (*Local) CanonicalPath(path string) (string, error) {
	return Canonicalize(path)
}
