package raster

import "slices"

// Access is a set of file access rights.
type Access uint8

// Access rights.
const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessCreate
)

// Capabilities describes what a source or a cache store supports.
type Capabilities struct {
	Access Access
	Shapes []BlockShape

	// Attributes lists the attributes that can be written, AllTags allows
	// every free-form tag.
	Attributes []AttributeKind
	AllTags    bool

	LookAhead bool
}

// CanRead reports whether blocks can be read.
func (c Capabilities) CanRead() bool { return c.Access&AccessRead != 0 }

// CanWrite reports whether blocks can be written.
func (c Capabilities) CanWrite() bool { return c.Access&(AccessWrite|AccessCreate) != 0 }

// SupportsShape reports whether blocks of shape s can be stored.
func (c Capabilities) SupportsShape(s BlockShape) bool {
	return slices.Contains(c.Shapes, s)
}

// CanWriteAttribute reports whether the attribute kind can be written.
func (c Capabilities) CanWriteAttribute(kind AttributeKind) bool {
	if kind.IsTag() && c.AllTags {
		return true
	}
	return slices.Contains(c.Attributes, kind)
}

// Union returns the capabilities supported by either c or o.
func (c Capabilities) Union(o Capabilities) Capabilities {
	u := Capabilities{
		Access:    c.Access | o.Access,
		AllTags:   c.AllTags || o.AllTags,
		LookAhead: c.LookAhead || o.LookAhead,
	}

	u.Shapes = append(slices.Clone(c.Shapes), o.Shapes...)
	slices.Sort(u.Shapes)
	u.Shapes = slices.Compact(u.Shapes)

	u.Attributes = append(slices.Clone(c.Attributes), o.Attributes...)
	slices.Sort(u.Attributes)
	u.Attributes = slices.Compact(u.Attributes)

	return u
}
