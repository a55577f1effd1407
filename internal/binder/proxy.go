package binder

import (
	"context"
	"mmrl/internal/fileops"
	"mmrl/internal/module"
	"mmrl/internal/platform"
	"mmrl/internal/service"
	"mmrl/internal/shell"
)

// remoteModules is the host's module.Manager seen through a Conn. Queries
// that cannot fail in the interface answer like an unsupported backend
// when the call does.
type remoteModules struct {
	c *Conn
}

var _ module.Manager = (*remoteModules)(nil)

func (m *remoteModules) Name() string                { return m.c.identity.Backend }
func (m *remoteModules) Platform() platform.Platform { return m.c.identity.Platform }

func (m *remoteModules) query(method string, args *service.Args, out any) bool {
	return m.c.call(context.Background(), method, args, nil, out) == nil
}

func (m *remoteModules) Version() string {
	v := "unknown"
	m.query(service.MethodVersion, nil, &v)
	return v
}

func (m *remoteModules) VersionCode() int {
	v := -1
	m.query(service.MethodVersionCode, nil, &v)
	return v
}

func (m *remoteModules) IsSuEnabled() bool {
	var v bool
	m.query(service.MethodIsSuEnabled, nil, &v)
	return v
}

func (m *remoteModules) SetSuEnabled(enabled bool) bool {
	var v bool
	m.query(service.MethodSetSuEnabled, &service.Args{Enabled: enabled}, &v)
	return v
}

func (m *remoteModules) IsSafeMode() bool {
	var v bool
	m.query(service.MethodIsSafeMode, nil, &v)
	return v
}

func (m *remoteModules) SuperUserCount() int {
	v := -1
	m.query(service.MethodSuperUserCount, nil, &v)
	return v
}

func (m *remoteModules) AppProfile(key string, uid int) (*module.AppProfile, error) {
	var p module.AppProfile
	if err := m.c.call(context.Background(), service.MethodAppProfile, &service.Args{Key: key, UID: uid}, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *remoteModules) SetAppProfile(p *module.AppProfile) error {
	return m.c.call(context.Background(), service.MethodSetAppProfile, &service.Args{Profile: p}, nil, nil)
}

func (m *remoteModules) UIDShouldUmount(uid int) bool {
	var v bool
	m.query(service.MethodUIDShouldUmount, &service.Args{UID: uid}, &v)
	return v
}

func (m *remoteModules) IsLKMMode() module.Tristate {
	v := module.Unknown
	m.query(service.MethodIsLKMMode, nil, &v)
	return v
}

func (m *remoteModules) Compatibility() module.Compatibility {
	v := module.Compatibility{HasMagicMount: module.Unknown}
	m.query(service.MethodCompatibility, nil, &v)
	return v
}

func (m *remoteModules) Modules() ([]module.LocalModule, error) {
	var v []module.LocalModule
	err := m.c.call(context.Background(), service.MethodModules, nil, nil, &v)
	return v, err
}

func (m *remoteModules) ModuleByID(id string) (*module.LocalModule, error) {
	var v *module.LocalModule
	if err := m.c.call(context.Background(), service.MethodModuleByID, &service.Args{ID: id}, nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *remoteModules) ModuleInfo(zipPath string) (*module.LocalModule, error) {
	var v *module.LocalModule
	if err := m.c.call(context.Background(), service.MethodModuleInfo, &service.Args{Path: zipPath}, nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *remoteModules) Enable(ctx context.Context, id string, useShellTool bool) error {
	return m.c.call(ctx, service.MethodEnable, &service.Args{ID: id, UseShellTool: useShellTool}, nil, nil)
}

func (m *remoteModules) Disable(ctx context.Context, id string, useShellTool bool) error {
	return m.c.call(ctx, service.MethodDisable, &service.Args{ID: id, UseShellTool: useShellTool}, nil, nil)
}

func (m *remoteModules) Remove(ctx context.Context, id string, useShellTool bool) error {
	return m.c.call(ctx, service.MethodRemove, &service.Args{ID: id, UseShellTool: useShellTool}, nil, nil)
}

func (m *remoteModules) Install(ctx context.Context, zipPath string, bulk []module.BulkModule, l shell.Listener) error {
	return m.c.call(ctx, service.MethodInstall, &service.Args{Path: zipPath, Bulk: bulk}, listener(l), nil)
}

func (m *remoteModules) InstallAll(ctx context.Context, zipPaths []string, l shell.Listener) error {
	return m.c.call(ctx, service.MethodInstallAll, &service.Args{Paths: zipPaths}, listener(l), nil)
}

func (m *remoteModules) Action(ctx context.Context, id string, legacy bool, l shell.Listener) error {
	return m.c.call(ctx, service.MethodAction, &service.Args{ID: id, Legacy: legacy}, listener(l), nil)
}

func (m *remoteModules) Reboot(ctx context.Context, reason string) error {
	return m.c.call(ctx, service.MethodReboot, &service.Args{Reason: reason}, nil, nil)
}

func listener(l shell.Listener) shell.Listener {
	if l == nil {
		return shell.Discard
	}
	return l
}

// remoteFiles is the host's FileManager seen through a Conn. Predicates
// answer false when the call fails.
type remoteFiles struct {
	c *Conn
}

var _ fileops.FileManager = (*remoteFiles)(nil)

func (f *remoteFiles) do(method string, args *service.Args, out any) error {
	return f.c.call(context.Background(), method, args, nil, out)
}

func (f *remoteFiles) is(method, path string) bool {
	var v bool
	return f.do(method, &service.Args{Path: path}, &v) == nil && v
}

func (f *remoteFiles) Read(path string) ([]byte, error) {
	var data []byte
	if err := f.do(service.MethodRead, &service.Args{Path: path}, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *remoteFiles) Write(path string, data []byte, append bool) error {
	return f.do(service.MethodWrite, &service.Args{Path: path, Data: data, Append: append}, nil)
}

func (f *remoteFiles) List(path string) ([]string, error) {
	var names []string
	if err := f.do(service.MethodList, &service.Args{Path: path}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (f *remoteFiles) Stat(path string) (*fileops.FileInfo, error) {
	var fi fileops.FileInfo
	if err := f.do(service.MethodStat, &service.Args{Path: path}, &fi); err != nil {
		return nil, err
	}
	return &fi, nil
}

func (f *remoteFiles) Size(path string, recursive bool) (int64, error) {
	var n int64
	err := f.do(service.MethodSize, &service.Args{Path: path, Recursive: recursive}, &n)
	return n, err
}

func (f *remoteFiles) Type(path string) fileops.FileType {
	t := fileops.TypeMissing
	f.do(service.MethodType, &service.Args{Path: path}, &t)
	return t
}

func (f *remoteFiles) Exists(path string) bool      { return f.is(service.MethodExists, path) }
func (f *remoteFiles) IsDirectory(path string) bool { return f.is(service.MethodIsDirectory, path) }
func (f *remoteFiles) IsFile(path string) bool      { return f.is(service.MethodIsFile, path) }
func (f *remoteFiles) IsSymlink(path string) bool   { return f.is(service.MethodIsSymlink, path) }
func (f *remoteFiles) IsHidden(path string) bool    { return f.is(service.MethodIsHidden, path) }
func (f *remoteFiles) CanRead(path string) bool     { return f.is(service.MethodCanRead, path) }
func (f *remoteFiles) CanWrite(path string) bool    { return f.is(service.MethodCanWrite, path) }
func (f *remoteFiles) CanExecute(path string) bool  { return f.is(service.MethodCanExecute, path) }

func (f *remoteFiles) Mkdir(path string) error {
	return f.do(service.MethodMkdir, &service.Args{Path: path}, nil)
}

func (f *remoteFiles) Mkdirs(path string) error {
	return f.do(service.MethodMkdirs, &service.Args{Path: path}, nil)
}

func (f *remoteFiles) CreateNewFile(path string) (bool, error) {
	var created bool
	err := f.do(service.MethodCreateNewFile, &service.Args{Path: path}, &created)
	return created, err
}

func (f *remoteFiles) Delete(path string) error {
	return f.do(service.MethodDelete, &service.Args{Path: path}, nil)
}

func (f *remoteFiles) Rename(src, dst string) error {
	return f.do(service.MethodRename, &service.Args{Path: src, Dst: dst}, nil)
}

func (f *remoteFiles) Copy(src, dst string, overwrite bool) error {
	return f.do(service.MethodCopy, &service.Args{Path: src, Dst: dst, Overwrite: overwrite}, nil)
}

func (f *remoteFiles) SetPermissions(path string, mode uint32) error {
	return f.do(service.MethodSetPermissions, &service.Args{Path: path, Mode: mode}, nil)
}

func (f *remoteFiles) SetOwner(path string, uid, gid int) error {
	return f.do(service.MethodSetOwner, &service.Args{Path: path, UID: uid, GID: gid}, nil)
}

func (f *remoteFiles) CanonicalPath(path string) (string, error) {
	var p string
	if err := f.do(service.MethodCanonicalPath, &service.Args{Path: path}, &p); err != nil {
		return "", err
	}
	return p, nil
}
