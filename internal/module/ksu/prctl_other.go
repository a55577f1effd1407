//go:build !linux

package ksu

// Prctl answers like a kernel without a KernelSU driver.
type Prctl struct{}

func NewPrctl() *Prctl { return &Prctl{} }

func (*Prctl) Version() int                            { return -1 }
func (*Prctl) IsLKM() bool                             { return false }
func (*Prctl) IsSafeMode() bool                        { return false }
func (*Prctl) IsSuEnabled() bool                       { return true }
func (*Prctl) SetSuEnabled(bool) bool                  { return false }
func (*Prctl) AllowList() []int                        { return nil }
func (*Prctl) UIDShouldUmount(int) bool                { return false }
func (*Prctl) AppProfile(string, int) (*Profile, bool) { return nil, false }
func (*Prctl) SetAppProfile(*Profile) bool             { return false }
func (*Prctl) GrantRoot() bool                         { return false }
func (*Prctl) BecomeManager(string) bool               { return false }
