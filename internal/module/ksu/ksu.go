// Package ksu talks to the KernelSU kernel driver. The driver is reached
// through prctl with a magic option value; a call succeeded when the
// driver wrote the same magic value back into the reply slot.
package ksu

import (
	"golang.org/x/sys/unix"
)

// Driver versions that gate features.
const (
	// MinimalSupportedKernel is the first driver version with the current
	// app profile layout.
	MinimalSupportedKernel = 11071
	// MinimalSupportedKernelLKM is the first driver version that reports
	// whether it was loaded as a module.
	MinimalSupportedKernelLKM = 11648
)

// Domain is the SELinux domain granted to root processes by default.
const Domain = "u:r:su:s0"

const option uint32 = 0xDEADBEEF

const (
	cmdGrantRoot         = 0
	cmdBecomeManager     = 1
	cmdGetVersion        = 2
	cmdGetSuList         = 5
	cmdCheckSafeMode     = 9
	cmdGetAppProfile     = 10
	cmdSetAppProfile     = 11
	cmdIsUIDShouldUmount = 13
	cmdIsSuEnabled       = 14
	cmdEnableSu          = 15
)

// maxAllowList is the capacity of the uid buffer handed to the driver.
const maxAllowList = 1024

// Driver is the set of native queries a KernelSU backend answers.
type Driver interface {
	// Version returns the driver version, or -1 when no driver answered.
	Version() int
	// IsLKM reports whether the driver was loaded as a kernel module. It
	// is only meaningful after Version has been called once.
	IsLKM() bool
	IsSafeMode() bool
	IsSuEnabled() bool
	SetSuEnabled(enabled bool) bool
	AllowList() []int
	UIDShouldUmount(uid int) bool
	AppProfile(key string, uid int) (*Profile, bool)
	SetAppProfile(p *Profile) bool
	GrantRoot() bool
}

// IsGKI reports whether the running kernel is a Generic Kernel Image
// generation (5.10 or later), the only kernels LKM mode exists for.
func IsGKI() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return false
	}
	major, minor := parseKernelVersion(unix.ByteSliceToString(uts.Release[:]))
	return isGKI(major, minor)
}

func isGKI(major, minor int) bool {
	return major > 5 || (major == 5 && minor >= 10)
}

// parseKernelVersion reads "major.minor" from a release string such as
// "5.10.198-android12-9-g1b2c".
func parseKernelVersion(release string) (major, minor int) {
	field := 0
	seen := false
	for _, c := range release {
		switch {
		case c >= '0' && c <= '9':
			seen = true
			if field == 0 {
				major = major*10 + int(c-'0')
			} else {
				minor = minor*10 + int(c-'0')
			}
		case c == '.' && seen && field == 0:
			field = 1
		default:
			return major, minor
		}
	}
	return major, minor
}
