// Package platform names the root-granting backends mmrl can drive and the
// persisted working mode that selects one of them.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies the active root-granting backend.
type Platform int

const (
	NonRoot Platform = iota
	Magisk
	KernelSU
	KsuNext
	APatch
	SukiSU
	RKSU
	MKSU
)

var platformNames = map[Platform]string{
	NonRoot:  "NonRoot",
	Magisk:   "Magisk",
	KernelSU: "KernelSU",
	KsuNext:  "KsuNext",
	APatch:   "APatch",
	SukiSU:   "SukiSU",
	RKSU:     "RKSU",
	MKSU:     "MKSU",
}

// All lists every platform in declaration order.
func All() []Platform {
	return []Platform{NonRoot, Magisk, KernelSU, KsuNext, APatch, SukiSU, RKSU, MKSU}
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Platform(%d)", int(p))
}

// Parse looks a platform up by name, case-insensitively.
func Parse(name string) (Platform, error) {
	for p, n := range platformNames {
		if strings.EqualFold(n, name) {
			return p, nil
		}
	}
	return NonRoot, fmt.Errorf("unknown platform %q", name)
}

func (p Platform) MarshalText() ([]byte, error) {
	if _, ok := platformNames[p]; !ok {
		return nil, fmt.Errorf("invalid platform %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// IsRoot reports whether p grants root at all.
func (p Platform) IsRoot() bool {
	return p != NonRoot
}

// IsMagisk reports whether p is Magisk.
func (p Platform) IsMagisk() bool {
	return p == Magisk
}

// IsKernelSU reports whether p speaks the KernelSU driver interface. Forks
// that keep ksud and the prctl ABI count.
func (p Platform) IsKernelSU() bool {
	switch p {
	case KernelSU, KsuNext, SukiSU, RKSU, MKSU:
		return true
	}
	return false
}

// IsKernelSUNext reports whether p is the KernelSU Next fork.
func (p Platform) IsKernelSUNext() bool {
	return p == KsuNext
}

// IsAPatch reports whether p is APatch.
func (p Platform) IsAPatch() bool {
	return p == APatch
}

// WorkingMode is the persisted user choice that selects a Platform.
type WorkingMode string

const (
	ModeFirstSetup   WorkingMode = "FIRST_SETUP"
	ModeMagisk       WorkingMode = "MODE_MAGISK"
	ModeKernelSU     WorkingMode = "MODE_KERNEL_SU"
	ModeKernelSUNext WorkingMode = "MODE_KERNEL_SU_NEXT"
	ModeAPatch       WorkingMode = "MODE_APATCH"
	ModeSukiSU       WorkingMode = "MODE_SUKISU"
	ModeRKSU         WorkingMode = "MODE_RKSU"
	ModeMKSU         WorkingMode = "MODE_MKSU"
	ModeNonRoot      WorkingMode = "MODE_NON_ROOT"
)

var modePlatforms = map[WorkingMode]Platform{
	ModeMagisk:       Magisk,
	ModeKernelSU:     KernelSU,
	ModeKernelSUNext: KsuNext,
	ModeAPatch:       APatch,
	ModeSukiSU:       SukiSU,
	ModeRKSU:         RKSU,
	ModeMKSU:         MKSU,
	ModeNonRoot:      NonRoot,
	ModeFirstSetup:   NonRoot,
}

// Platform maps the mode to its backend. Unset and unknown modes map to
// NonRoot, like FIRST_SETUP.
func (m WorkingMode) Platform() Platform {
	if p, ok := modePlatforms[m]; ok {
		return p
	}
	return NonRoot
}

// Valid reports whether m is one of the declared modes.
func (m WorkingMode) Valid() bool {
	_, ok := modePlatforms[m]
	return ok
}

// IsSetup reports whether the user has not picked a mode yet.
func (m WorkingMode) IsSetup() bool {
	return m == ModeFirstSetup || m == ""
}

// IsRoot reports whether m selects a rooted backend.
func (m WorkingMode) IsRoot() bool {
	return m.Platform().IsRoot()
}

// ParseWorkingMode accepts the persisted constant or, for convenience on
// the command line, a platform name ("kernelsu", "apatch").
func ParseWorkingMode(s string) (WorkingMode, error) {
	m := WorkingMode(strings.ToUpper(s))
	if m.Valid() {
		return m, nil
	}
	p, err := Parse(s)
	if err != nil {
		return ModeFirstSetup, fmt.Errorf("unknown working mode %q", s)
	}
	return ModeFor(p), nil
}

// ModeFor returns the working mode that selects p.
func ModeFor(p Platform) WorkingMode {
	for m, mp := range modePlatforms {
		if mp == p && m != ModeFirstSetup {
			return m
		}
	}
	return ModeNonRoot
}
