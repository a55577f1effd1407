package service

import (
	"context"
	"fmt"
	"mmrl/internal/shell"
)

// call is one decoded request on its way to the ServiceManager.
type call struct {
	ctx    context.Context
	sm     ServiceManager
	args   *Args
	stream shell.Listener
}

type handler struct {
	fn func(c *call) (any, error)
	// mutates marks calls that change device state; they are audited.
	mutates bool
}

func query(fn func(c *call) (any, error)) handler  { return handler{fn: fn} }
func mutate(fn func(c *call) (any, error)) handler { return handler{fn: fn, mutates: true} }

// done adapts an error-only result.
func done(err error) (any, error) { return nil, err }

var handlers = map[string]handler{
	MethodIdentity: query(func(c *call) (any, error) { return c.sm.Identity(), nil }),

	MethodVersion:     query(func(c *call) (any, error) { return c.sm.ModuleManager().Version(), nil }),
	MethodVersionCode: query(func(c *call) (any, error) { return c.sm.ModuleManager().VersionCode(), nil }),
	MethodIsSuEnabled: query(func(c *call) (any, error) { return c.sm.ModuleManager().IsSuEnabled(), nil }),
	MethodSetSuEnabled: mutate(func(c *call) (any, error) {
		return c.sm.ModuleManager().SetSuEnabled(c.args.Enabled), nil
	}),
	MethodIsSafeMode:     query(func(c *call) (any, error) { return c.sm.ModuleManager().IsSafeMode(), nil }),
	MethodSuperUserCount: query(func(c *call) (any, error) { return c.sm.ModuleManager().SuperUserCount(), nil }),
	MethodAppProfile: query(func(c *call) (any, error) {
		return c.sm.ModuleManager().AppProfile(c.args.Key, c.args.UID)
	}),
	MethodSetAppProfile: mutate(func(c *call) (any, error) {
		if c.args.Profile == nil {
			return nil, fmt.Errorf("set app profile: no profile given")
		}
		return done(c.sm.ModuleManager().SetAppProfile(c.args.Profile))
	}),
	MethodUIDShouldUmount: query(func(c *call) (any, error) {
		return c.sm.ModuleManager().UIDShouldUmount(c.args.UID), nil
	}),
	MethodIsLKMMode:     query(func(c *call) (any, error) { return c.sm.ModuleManager().IsLKMMode(), nil }),
	MethodCompatibility: query(func(c *call) (any, error) { return c.sm.ModuleManager().Compatibility(), nil }),
	MethodModules:       query(func(c *call) (any, error) { return c.sm.ModuleManager().Modules() }),
	MethodModuleByID:    query(func(c *call) (any, error) { return c.sm.ModuleManager().ModuleByID(c.args.ID) }),
	MethodModuleInfo:    query(func(c *call) (any, error) { return c.sm.ModuleManager().ModuleInfo(c.args.Path) }),
	MethodEnable: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Enable(c.ctx, c.args.ID, c.args.UseShellTool))
	}),
	MethodDisable: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Disable(c.ctx, c.args.ID, c.args.UseShellTool))
	}),
	MethodRemove: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Remove(c.ctx, c.args.ID, c.args.UseShellTool))
	}),
	MethodInstall: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Install(c.ctx, c.args.Path, c.args.Bulk, c.stream))
	}),
	MethodInstallAll: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().InstallAll(c.ctx, c.args.Paths, c.stream))
	}),
	MethodAction: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Action(c.ctx, c.args.ID, c.args.Legacy, c.stream))
	}),
	MethodReboot: mutate(func(c *call) (any, error) {
		return done(c.sm.ModuleManager().Reboot(c.ctx, c.args.Reason))
	}),

	MethodRead:  query(func(c *call) (any, error) { return c.sm.FileManager().Read(c.args.Path) }),
	MethodList:  query(func(c *call) (any, error) { return c.sm.FileManager().List(c.args.Path) }),
	MethodStat:  query(func(c *call) (any, error) { return c.sm.FileManager().Stat(c.args.Path) }),
	MethodSize:  query(func(c *call) (any, error) { return c.sm.FileManager().Size(c.args.Path, c.args.Recursive) }),
	MethodType:  query(func(c *call) (any, error) { return c.sm.FileManager().Type(c.args.Path), nil }),
	MethodWrite: mutate(func(c *call) (any, error) {
		return done(c.sm.FileManager().Write(c.args.Path, c.args.Data, c.args.Append))
	}),

	MethodExists:      query(func(c *call) (any, error) { return c.sm.FileManager().Exists(c.args.Path), nil }),
	MethodIsDirectory: query(func(c *call) (any, error) { return c.sm.FileManager().IsDirectory(c.args.Path), nil }),
	MethodIsFile:      query(func(c *call) (any, error) { return c.sm.FileManager().IsFile(c.args.Path), nil }),
	MethodIsSymlink:   query(func(c *call) (any, error) { return c.sm.FileManager().IsSymlink(c.args.Path), nil }),
	MethodIsHidden:    query(func(c *call) (any, error) { return c.sm.FileManager().IsHidden(c.args.Path), nil }),
	MethodCanRead:     query(func(c *call) (any, error) { return c.sm.FileManager().CanRead(c.args.Path), nil }),
	MethodCanWrite:    query(func(c *call) (any, error) { return c.sm.FileManager().CanWrite(c.args.Path), nil }),
	MethodCanExecute:  query(func(c *call) (any, error) { return c.sm.FileManager().CanExecute(c.args.Path), nil }),

	MethodMkdir:  mutate(func(c *call) (any, error) { return done(c.sm.FileManager().Mkdir(c.args.Path)) }),
	MethodMkdirs: mutate(func(c *call) (any, error) { return done(c.sm.FileManager().Mkdirs(c.args.Path)) }),
	MethodCreateNewFile: mutate(func(c *call) (any, error) {
		return c.sm.FileManager().CreateNewFile(c.args.Path)
	}),
	MethodDelete: mutate(func(c *call) (any, error) { return done(c.sm.FileManager().Delete(c.args.Path)) }),
	MethodRename: mutate(func(c *call) (any, error) {
		return done(c.sm.FileManager().Rename(c.args.Path, c.args.Dst))
	}),
	MethodCopy: mutate(func(c *call) (any, error) {
		return done(c.sm.FileManager().Copy(c.args.Path, c.args.Dst, c.args.Overwrite))
	}),
	MethodSetPermissions: mutate(func(c *call) (any, error) {
		return done(c.sm.FileManager().SetPermissions(c.args.Path, c.args.Mode))
	}),
	MethodSetOwner: mutate(func(c *call) (any, error) {
		return done(c.sm.FileManager().SetOwner(c.args.Path, c.args.UID, c.args.GID))
	}),
	MethodCanonicalPath: query(func(c *call) (any, error) {
		return c.sm.FileManager().CanonicalPath(c.args.Path)
	}),
}

// Dispatch runs method against sm. Streaming methods report through l.
func Dispatch(ctx context.Context, sm ServiceManager, method string, args *Args, l shell.Listener) (any, error) {
	h, ok := handlers[method]
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, ErrUnknownMethod)
	}
	if args == nil {
		args = &Args{}
	}
	if l == nil {
		l = shell.Discard
	}
	return h.fn(&call{ctx: ctx, sm: sm, args: args, stream: l})
}

// subject picks the argument that best names what a call touched.
func (a *Args) subject() string {
	switch {
	case a.ID != "":
		return a.ID
	case a.Path != "":
		return a.Path
	case len(a.Paths) > 0:
		return fmt.Sprint(a.Paths)
	}
	return a.Reason
}
