//go:build linux

package ksu

import (
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Prctl is the Driver backed by the real kernel interface.
type Prctl struct {
	mu  sync.Mutex
	lkm bool
}

// NewPrctl returns a driver handle. Calls fail softly when the kernel
// has no KernelSU driver.
func NewPrctl() *Prctl {
	return &Prctl{}
}

func ctl(cmd uintptr, arg1, arg2 unsafe.Pointer) bool {
	var reply int32
	unix.Syscall6(unix.SYS_PRCTL, uintptr(option), cmd, uintptr(arg1), uintptr(arg2), uintptr(unsafe.Pointer(&reply)), 0)
	return uint32(reply) == option
}

// ctlValue passes arg1 by value.
func ctlValue(cmd uintptr, arg1 uintptr, arg2 unsafe.Pointer) bool {
	var reply int32
	unix.Syscall6(unix.SYS_PRCTL, uintptr(option), cmd, arg1, uintptr(arg2), uintptr(unsafe.Pointer(&reply)), 0)
	return uint32(reply) == option
}

func (p *Prctl) Version() int {
	version := int32(-1)
	var flags int32
	ctl(cmdGetVersion, unsafe.Pointer(&version), unsafe.Pointer(&flags))

	if flags&0x1 != 0 {
		p.mu.Lock()
		p.lkm = true
		p.mu.Unlock()
	}
	return int(version)
}

func (p *Prctl) IsLKM() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lkm
}

func (p *Prctl) IsSafeMode() bool {
	return ctl(cmdCheckSafeMode, nil, nil)
}

// IsSuEnabled assumes su is enabled when the driver cannot say, since it
// then cannot be disabled either.
func (p *Prctl) IsSuEnabled() bool {
	enabled := true
	ctl(cmdIsSuEnabled, unsafe.Pointer(&enabled), nil)
	return enabled
}

func (p *Prctl) SetSuEnabled(enabled bool) bool {
	var v uintptr
	if enabled {
		v = 1
	}
	return ctlValue(cmdEnableSu, v, nil)
}

func (p *Prctl) AllowList() []int {
	var uids [maxAllowList]int32
	var size int32
	if !ctl(cmdGetSuList, unsafe.Pointer(&uids[0]), unsafe.Pointer(&size)) {
		return nil
	}
	if size < 0 || size > maxAllowList {
		size = maxAllowList
	}
	out := make([]int, size)
	for i := range out {
		out[i] = int(uids[i])
	}
	return out
}

func (p *Prctl) UIDShouldUmount(uid int) bool {
	var should bool
	return ctlValue(cmdIsUIDShouldUmount, uintptr(uid), unsafe.Pointer(&should)) && should
}

func (p *Prctl) AppProfile(key string, uid int) (*Profile, bool) {
	var raw rawProfile
	(&Profile{Name: key, CurrentUID: uid}).encodeKey(&raw)
	if !ctl(cmdGetAppProfile, unsafe.Pointer(&raw[0]), nil) {
		return nil, false
	}
	return decodeProfile(&raw), true
}

func (p *Prctl) SetAppProfile(profile *Profile) bool {
	raw := profile.encode()
	return ctl(cmdSetAppProfile, unsafe.Pointer(&raw[0]), nil)
}

func (p *Prctl) GrantRoot() bool {
	return ctl(cmdGrantRoot, nil, nil)
}

// BecomeManager registers the package data directory of pkg as the
// KernelSU manager for the calling user.
func (p *Prctl) BecomeManager(pkg string) bool {
	path := managerPath(os.Getuid(), pkg)
	buf := append([]byte(path), 0)
	return ctl(cmdBecomeManager, unsafe.Pointer(&buf[0]), nil)
}
