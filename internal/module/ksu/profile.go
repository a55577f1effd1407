package ksu

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Namespace selects the mount namespace a root process runs in.
type Namespace int

const (
	NamespaceInherited Namespace = iota
	NamespaceGlobal
	NamespaceIndividual
)

func (n Namespace) String() string {
	switch n {
	case NamespaceInherited:
		return "INHERITED"
	case NamespaceGlobal:
		return "GLOBAL"
	case NamespaceIndividual:
		return "INDIVIDUAL"
	}
	return fmt.Sprintf("namespace(%d)", int(n))
}

// Profile is the per-app configuration KernelSU applies when an app asks
// for root, or the umount setting when it does not.
type Profile struct {
	Name       string `json:"name" cbor:"1,keyasint"`
	CurrentUID int    `json:"currentUid" cbor:"2,keyasint"`
	AllowSU    bool   `json:"allowSu" cbor:"3,keyasint"`

	RootUseDefault bool      `json:"rootUseDefault" cbor:"4,keyasint"`
	RootTemplate   string    `json:"rootTemplate,omitempty" cbor:"5,keyasint,omitempty"`
	UID            int       `json:"uid" cbor:"6,keyasint"`
	GID            int       `json:"gid" cbor:"7,keyasint"`
	Groups         []int     `json:"groups,omitempty" cbor:"8,keyasint,omitempty"`
	Capabilities   []int     `json:"capabilities,omitempty" cbor:"9,keyasint,omitempty"`
	Context        string    `json:"context" cbor:"10,keyasint"`
	Namespace      Namespace `json:"namespace" cbor:"11,keyasint"`

	NonRootUseDefault bool `json:"nonRootUseDefault" cbor:"12,keyasint"`
	UmountModules     bool `json:"umountModules" cbor:"13,keyasint"`
}

// DefaultProfile is what an app without a stored profile gets.
func DefaultProfile(name string, uid int) *Profile {
	return &Profile{
		Name:              name,
		CurrentUID:        uid,
		RootUseDefault:    true,
		Context:           Domain,
		Namespace:         NamespaceInherited,
		NonRootUseDefault: true,
		UmountModules:     true,
	}
}

// Layout of struct app_profile, version 2. Offsets are fixed by the
// kernel ABI, so the struct is handled as bytes rather than a Go struct
// whose padding would differ between 32 and 64 bit targets.
const (
	profileVersion = 2
	profileSize    = 776

	keyLen      = 256
	templateLen = 256
	domainLen   = 64
	maxGroups   = 32

	offVersion      = 0
	offKey          = 4
	offCurrentUID   = 260
	offAllowSU      = 264
	offUseDefault   = 272
	offTemplate     = 273
	offUmount       = 273
	offUID          = 536
	offGID          = 540
	offGroupsCount  = 544
	offGroups       = 548
	offCapEffective = 680
	offCapPermitted = 688
	offCapInherit   = 696
	offDomain       = 704
	offNamespaces   = 768
)

type rawProfile [profileSize]byte

var le = binary.LittleEndian

func (p *Profile) encodeKey(raw *rawProfile) {
	le.PutUint32(raw[offVersion:], profileVersion)
	putString(raw[offKey:offKey+keyLen], p.Name)
	le.PutUint32(raw[offCurrentUID:], uint32(int32(p.CurrentUID)))
}

func (p *Profile) encode() *rawProfile {
	var raw rawProfile
	p.encodeKey(&raw)
	putBool(raw[offAllowSU:], p.AllowSU)

	if !p.AllowSU {
		putBool(raw[offUseDefault:], p.NonRootUseDefault)
		putBool(raw[offUmount:], p.UmountModules)
		return &raw
	}

	putBool(raw[offUseDefault:], p.RootUseDefault)
	putString(raw[offTemplate:offTemplate+templateLen], p.RootTemplate)
	le.PutUint32(raw[offUID:], uint32(int32(p.UID)))
	le.PutUint32(raw[offGID:], uint32(int32(p.GID)))

	groups := p.Groups
	if len(groups) > maxGroups {
		groups = groups[:maxGroups]
	}
	le.PutUint32(raw[offGroupsCount:], uint32(len(groups)))
	for i, g := range groups {
		le.PutUint32(raw[offGroups+4*i:], uint32(int32(g)))
	}

	var caps uint64
	for _, c := range p.Capabilities {
		if c >= 0 && c < 64 {
			caps |= 1 << uint(c)
		}
	}
	le.PutUint64(raw[offCapEffective:], caps)
	le.PutUint64(raw[offCapPermitted:], caps)
	le.PutUint64(raw[offCapInherit:], 0)

	putString(raw[offDomain:offDomain+domainLen], p.Context)
	le.PutUint32(raw[offNamespaces:], uint32(int32(p.Namespace)))
	return &raw
}

func decodeProfile(raw *rawProfile) *Profile {
	p := &Profile{
		Name:       getString(raw[offKey : offKey+keyLen]),
		CurrentUID: int(int32(le.Uint32(raw[offCurrentUID:]))),
		AllowSU:    raw[offAllowSU] != 0,
	}

	if !p.AllowSU {
		p.NonRootUseDefault = raw[offUseDefault] != 0
		p.UmountModules = raw[offUmount] != 0
		return p
	}

	p.RootUseDefault = raw[offUseDefault] != 0
	p.RootTemplate = getString(raw[offTemplate : offTemplate+templateLen])
	p.UID = int(int32(le.Uint32(raw[offUID:])))
	p.GID = int(int32(le.Uint32(raw[offGID:])))

	count := int(le.Uint32(raw[offGroupsCount:]))
	if count > maxGroups {
		count = maxGroups
	}
	for i := 0; i < count; i++ {
		p.Groups = append(p.Groups, int(int32(le.Uint32(raw[offGroups+4*i:]))))
	}

	caps := le.Uint64(raw[offCapEffective:])
	for c := 0; c < 64; c++ {
		if caps&(1<<uint(c)) != 0 {
			p.Capabilities = append(p.Capabilities, c)
		}
	}

	p.Context = getString(raw[offDomain : offDomain+domainLen])
	p.Namespace = Namespace(int32(le.Uint32(raw[offNamespaces:])))
	return p
}

// putString writes s NUL-terminated, truncating to fit dst.
func putString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

func getString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func putBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}

// managerPath is the data directory KernelSU expects for the manager
// package, per Android user.
func managerPath(uid int, pkg string) string {
	userID := uid / 100000
	if userID == 0 {
		return "/data/data/" + pkg
	}
	return fmt.Sprintf("/data/user/%d/%s", userID, pkg)
}
