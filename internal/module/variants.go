package module

import (
	"fmt"
	"mmrl/internal/module/ksu"
	"mmrl/internal/platform"
	"path"
	"strconv"
)

// magisk changes module state through marker files only and has no
// native action command.
type magisk struct {
	*base
}

func newMagisk(cfg Config) *magisk {
	m := &magisk{base: newBase("Magisk", platform.Magisk, cfg)}
	m.tools = toolset{
		install: []string{"magisk", "--install-module"},
		env: func() map[string]string {
			return map[string]string{
				"ASH_STANDALONE":  "1",
				"MAGISK":          "true",
				"MAGISK_VER":      m.Version(),
				"MAGISK_VER_CODE": strconv.Itoa(m.VersionCode()),
				"MAGISKTMP":       "null",
			}
		},
	}
	return m
}

func (m *magisk) Compatibility() Compatibility {
	return Compatibility{HasMagicMount: True, CanRestoreModules: true}
}

// kernelSU covers KernelSU and its forks, which share ksud and the
// prctl driver interface.
type kernelSU struct {
	*base
	drv  ksu.Driver
	next bool
	gki  func() bool
}

func newKernelSU(name string, p platform.Platform, cfg Config) *kernelSU {
	drv := cfg.KSU
	if drv == nil {
		drv = ksu.NewPrctl()
	}
	k := &kernelSU{
		base: newBase(name, p, cfg),
		drv:  drv,
		next: p == platform.KsuNext,
		gki:  ksu.IsGKI,
	}

	enable := "ksud module enable %[1]s"
	if k.next {
		// Next keeps uninstalled modules restorable until reboot.
		enable = "ksud module restore %[1]s && ksud module enable %[1]s"
	}
	k.tools = toolset{
		enable:  enable,
		disable: "ksud module disable %[1]s",
		remove:  "ksud module uninstall %[1]s",
		install: []string{"ksud", "module", "install"},
		action:  []string{"ksud", "module", "action"},
		env: func() map[string]string {
			env := map[string]string{
				"ASH_STANDALONE": "1",
				"KSU":            "true",
				"KSU_VER":        k.Version(),
				"KSU_VER_CODE":   strconv.Itoa(k.VersionCode()),
			}
			if k.next {
				env["KSU_NEXT"] = "true"
			}
			return env
		},
	}
	return k
}

// VersionCode prefers the driver's version over `su -V`.
func (k *kernelSU) VersionCode() int {
	if v := k.drv.Version(); v != -1 {
		return v
	}
	return k.base.VersionCode()
}

func (k *kernelSU) IsSuEnabled() bool              { return k.drv.IsSuEnabled() }
func (k *kernelSU) SetSuEnabled(enabled bool) bool { return k.drv.SetSuEnabled(enabled) }
func (k *kernelSU) IsSafeMode() bool               { return k.drv.IsSafeMode() }
func (k *kernelSU) SuperUserCount() int            { return len(k.drv.AllowList()) }
func (k *kernelSU) UIDShouldUmount(uid int) bool   { return k.drv.UIDShouldUmount(uid) }

// IsLKMMode is only answered by drivers new enough to report it, on GKI
// kernels.
func (k *kernelSU) IsLKMMode() Tristate {
	if k.drv.Version() < ksu.MinimalSupportedKernelLKM || !k.gki() {
		return Unknown
	}
	return TristateOf(k.drv.IsLKM())
}

func (k *kernelSU) AppProfile(key string, uid int) (*AppProfile, error) {
	p, ok := k.drv.AppProfile(key, uid)
	if !ok {
		return nil, fmt.Errorf("app profile %s: driver call failed", key)
	}
	return p, nil
}

func (k *kernelSU) SetAppProfile(p *AppProfile) error {
	if !k.drv.SetAppProfile(p) {
		return fmt.Errorf("app profile %s: driver call failed", p.Name)
	}
	return nil
}

func (k *kernelSU) Compatibility() Compatibility {
	return Compatibility{HasMagicMount: False, CanRestoreModules: k.next}
}

// apatch drives apd.
type apatch struct {
	*base
}

// apatchMagicMountVersion is the first APatch that can bind-mount modules.
const apatchMagicMountVersion = 11011

func newAPatch(cfg Config) *apatch {
	a := &apatch{base: newBase("APatch", platform.APatch, cfg)}
	a.tools = toolset{
		enable:  "apd module enable %[1]s",
		disable: "apd module disable %[1]s",
		remove:  "apd module uninstall %[1]s",
		install: []string{"apd", "module", "install"},
		action:  []string{"apd", "module", "action"},
		env: func() map[string]string {
			return map[string]string{
				"ASH_STANDALONE":  "1",
				"APATCH":          "true",
				"APATCH_VER":      a.Version(),
				"APATCH_VER_CODE": strconv.Itoa(a.VersionCode()),
			}
		},
	}
	return a
}

func (a *apatch) Compatibility() Compatibility {
	fm, adb := a.cfg.Files, a.cfg.AdbDir
	magic := fm.Exists(path.Join(adb, ".bind_mount_enable")) &&
		a.VersionCode() >= apatchMagicMountVersion &&
		!fm.Exists(path.Join(adb, ".overlay_enable"))
	return Compatibility{HasMagicMount: TristateOf(magic)}
}

// stub stands in when no root backend is active. It can list modules but
// every job fails.
type stub struct {
	*base
}

func newStub(cfg Config) *stub {
	s := &stub{base: newBase("Non-Root", platform.NonRoot, cfg)}
	s.tools = toolset{
		install: []string{"sh", "-c", "exit 1"},
		action:  []string{"sh", "-c", "exit 1"},
		refuse:  true,
	}
	return s
}

func (s *stub) Version() string                { return "unknown" }
func (s *stub) VersionCode() int               { return -1 }
func (s *stub) IsSuEnabled() bool              { return false }
func (s *stub) SetSuEnabled(enabled bool) bool { return false }

// New returns the Manager for p.
func New(p platform.Platform, cfg Config) Manager {
	switch p {
	case platform.Magisk:
		return newMagisk(cfg)
	case platform.KernelSU:
		return newKernelSU("KernelSU", p, cfg)
	case platform.KsuNext:
		return newKernelSU("KernelSU Next", p, cfg)
	case platform.SukiSU:
		return newKernelSU("SukiSU", p, cfg)
	case platform.RKSU:
		return newKernelSU("RKSU", p, cfg)
	case platform.MKSU:
		return newKernelSU("MKSU", p, cfg)
	case platform.APatch:
		return newAPatch(cfg)
	}
	return newStub(cfg)
}
