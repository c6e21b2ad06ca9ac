package regnum

import (
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// Version is a device generation with its own register descriptor.
type Version uint8

const (
	VersionUnknown Version = iota
	Gen9
	Gen11
	Gen12
	XeHPC
)

var versionNames = map[Version]string{
	Gen9:  "gen9",
	Gen11: "gen11",
	Gen12: "gen12",
	XeHPC: "xehpc",
}

func (v Version) String() string {
	if s, ok := versionNames[v]; ok {
		return s
	}
	return "unknown"
}

// ParseVersion parses the name returned by Version.String.
func ParseVersion(s string) (Version, error) {
	for v, name := range versionNames {
		if name == s {
			return v, nil
		}
	}
	return VersionUnknown, gterr.Targetf("parse version", "unknown device generation %q", s)
}

// Versions returns all known generations.
func Versions() []Version {
	return []Version{Gen9, Gen11, Gen12, XeHPC}
}

// Gen11 and Gen12 share the Gen9 register file.
var gen9Layout = layout{
	grfCount: 128,
	grfSize:  32,
	accSize:  32,
	accCount: 10,
	mmeSize:  32,
	mmeCount: 8,
}

var xeHPCLayout = layout{
	grfCount: 128,
	grfSize:  64,
	accSize:  64,
	accCount: 10,
	mmeSize:  64,
	mmeCount: 8,
}

func layoutFor(v Version) (layout, bool) {
	switch v {
	case Gen9, Gen11, Gen12:
		return gen9Layout, true
	case XeHPC:
		return xeHPCLayout, true
	}
	return layout{}, false
}

// Cache holds the register descriptors built so far. The zero value is
// ready to use. A Cache is owned by the session that talks to a device and
// is not safe for concurrent use.
type Cache struct {
	m map[Version]*ArchInfo
}

// GetOrCreate returns the descriptor of v, building it on first use.
func (c *Cache) GetOrCreate(v Version) (*ArchInfo, error) {
	if a, ok := c.m[v]; ok {
		return a, nil
	}
	l, ok := layoutFor(v)
	if !ok {
		return nil, gterr.Targetf("register descriptor", "unsupported device generation %v", v)
	}
	a, err := build(v, l)
	if err != nil {
		return nil, err
	}
	if c.m == nil {
		c.m = make(map[Version]*ArchInfo)
	}
	c.m[v] = a
	return a, nil
}
