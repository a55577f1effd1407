package service

import (
	"errors"
	"io/fs"
	"mmrl/internal/module"
	"mmrl/pkg/protocol"
)

// Method names on the wire.
const (
	MethodIdentity = "service.identity"

	MethodVersion         = "module.version"
	MethodVersionCode     = "module.versionCode"
	MethodIsSuEnabled     = "module.isSuEnabled"
	MethodSetSuEnabled    = "module.setSuEnabled"
	MethodIsSafeMode      = "module.isSafeMode"
	MethodSuperUserCount  = "module.superUserCount"
	MethodAppProfile      = "module.appProfile"
	MethodSetAppProfile   = "module.setAppProfile"
	MethodUIDShouldUmount = "module.uidShouldUmount"
	MethodIsLKMMode       = "module.isLkmMode"
	MethodCompatibility   = "module.compatibility"
	MethodModules         = "module.list"
	MethodModuleByID      = "module.get"
	MethodModuleInfo      = "module.info"
	MethodEnable          = "module.enable"
	MethodDisable         = "module.disable"
	MethodRemove          = "module.remove"
	MethodInstall         = "module.install"
	MethodInstallAll      = "module.installAll"
	MethodAction          = "module.action"
	MethodReboot          = "module.reboot"

	MethodRead           = "file.read"
	MethodWrite          = "file.write"
	MethodList           = "file.list"
	MethodStat           = "file.stat"
	MethodSize           = "file.size"
	MethodType           = "file.type"
	MethodExists         = "file.exists"
	MethodIsDirectory    = "file.isDirectory"
	MethodIsFile         = "file.isFile"
	MethodIsSymlink      = "file.isSymlink"
	MethodIsHidden       = "file.isHidden"
	MethodCanRead        = "file.canRead"
	MethodCanWrite       = "file.canWrite"
	MethodCanExecute     = "file.canExecute"
	MethodMkdir          = "file.mkdir"
	MethodMkdirs         = "file.mkdirs"
	MethodCreateNewFile  = "file.createNewFile"
	MethodDelete         = "file.delete"
	MethodRename         = "file.rename"
	MethodCopy           = "file.copy"
	MethodSetPermissions = "file.setPermissions"
	MethodSetOwner       = "file.setOwner"
	MethodCanonicalPath  = "file.canonicalPath"
)

// Args is the body of every call. Each method reads the fields it needs.
type Args struct {
	ID           string              `cbor:"1,keyasint,omitempty"`
	Path         string              `cbor:"2,keyasint,omitempty"`
	Dst          string              `cbor:"3,keyasint,omitempty"`
	Data         []byte              `cbor:"4,keyasint,omitempty"`
	Paths        []string            `cbor:"5,keyasint,omitempty"`
	Bulk         []module.BulkModule `cbor:"6,keyasint,omitempty"`
	Profile      *module.AppProfile  `cbor:"7,keyasint,omitempty"`
	Key          string              `cbor:"8,keyasint,omitempty"`
	Reason       string              `cbor:"9,keyasint,omitempty"`
	UID          int                 `cbor:"10,keyasint,omitempty"`
	GID          int                 `cbor:"11,keyasint,omitempty"`
	Mode         uint32              `cbor:"12,keyasint,omitempty"`
	UseShellTool bool                `cbor:"13,keyasint,omitempty"`
	Legacy       bool                `cbor:"14,keyasint,omitempty"`
	Append       bool                `cbor:"15,keyasint,omitempty"`
	Recursive    bool                `cbor:"16,keyasint,omitempty"`
	Overwrite    bool                `cbor:"17,keyasint,omitempty"`
	Enabled      bool                `cbor:"18,keyasint,omitempty"`
}

// Error codes carried in protocol.Error.
const (
	CodeModuleMissing = "module_missing"
	CodeOpFailed      = "op_failed"
	CodeUnsupported   = "unsupported"
	CodeNotExist      = "not_exist"
	CodeExist         = "exist"
	CodePermission    = "permission"
	CodeUnknownMethod = "unknown_method"
	CodeBadRequest    = "bad_request"
	CodeInternal      = "internal"
)

// ErrUnknownMethod is returned for calls the host does not implement.
var ErrUnknownMethod = errors.New("unknown method")

// EncodeError flattens err for the wire, keeping enough to rebuild the
// error kinds callers test for.
func EncodeError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	var oe *module.OpError
	if errors.As(err, &oe) {
		e := &protocol.Error{Op: oe.Op, Subject: oe.ID, Message: oe.Diagnostic}
		switch {
		case errors.Is(err, module.ErrModuleMissing):
			e.Code = CodeModuleMissing
		case errors.Is(err, module.ErrUnsupported):
			e.Code = CodeUnsupported
		default:
			e.Code = CodeOpFailed
			if e.Message == "" && oe.Err != nil {
				e.Message = oe.Err.Error()
			}
		}
		return e
	}

	e := &protocol.Error{Code: CodeInternal, Message: err.Error()}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.Code = CodeNotExist
	case errors.Is(err, fs.ErrExist):
		e.Code = CodeExist
	case errors.Is(err, fs.ErrPermission):
		e.Code = CodePermission
	case errors.Is(err, module.ErrUnsupported):
		e.Code = CodeUnsupported
	case errors.Is(err, ErrUnknownMethod):
		e.Code = CodeUnknownMethod
	}
	return e
}

// remoteError is an error rebuilt from the wire. It reads like the
// original and matches the sentinel of its kind.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }

// DecodeError rebuilds the error a host encoded.
func DecodeError(e *protocol.Error) error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case CodeModuleMissing:
		return &module.OpError{ID: e.Subject, Op: e.Op, Err: module.ErrModuleMissing}
	case CodeOpFailed:
		return &module.OpError{ID: e.Subject, Op: e.Op, Diagnostic: e.Message}
	case CodeUnsupported:
		if e.Op != "" {
			return &module.OpError{ID: e.Subject, Op: e.Op, Err: module.ErrUnsupported}
		}
		return &remoteError{msg: e.Message, err: module.ErrUnsupported}
	case CodeNotExist:
		return &remoteError{msg: e.Message, err: fs.ErrNotExist}
	case CodeExist:
		return &remoteError{msg: e.Message, err: fs.ErrExist}
	case CodePermission:
		return &remoteError{msg: e.Message, err: fs.ErrPermission}
	case CodeUnknownMethod:
		return &remoteError{msg: e.Message, err: ErrUnknownMethod}
	}
	return e
}
