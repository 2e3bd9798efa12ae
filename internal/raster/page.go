package raster

import (
	"sort"
	"strings"

	"github.com/rastercache/rastercache/internal/errors"
)

// AttributeKind identifies a page level attribute.
type AttributeKind string

// Page attributes.
const (
	Palette        AttributeKind = "palette"
	Histogram      AttributeKind = "histogram"
	Thumbnail      AttributeKind = "thumbnail"
	ClipShape      AttributeKind = "clip-shape"
	TransformModel AttributeKind = "transform-model"
	Filters        AttributeKind = "filters"
)

const tagPrefix = "tag:"

// TagAttribute returns the attribute kind for the free-form tag name.
func TagAttribute(name string) AttributeKind {
	return AttributeKind(tagPrefix + name)
}

// IsTag reports whether k is a free-form tag.
func (k AttributeKind) IsTag() bool {
	return strings.HasPrefix(string(k), tagPrefix)
}

// Attribute is the value of a page attribute together with its has-changed
// bit.
type Attribute struct {
	Value   []byte
	Changed bool
}

// Attributes maps attribute kinds to their values.
type Attributes map[AttributeKind]*Attribute

// Set stores value and marks the attribute as changed.
func (a Attributes) Set(kind AttributeKind, value []byte) {
	a[kind] = &Attribute{Value: append([]byte(nil), value...), Changed: true}
}

// Get returns the value of the attribute.
func (a Attributes) Get(kind AttributeKind) ([]byte, bool) {
	attr, ok := a[kind]
	if !ok {
		return nil, false
	}
	return attr.Value, true
}

// Changed returns the sorted list of attributes with the has-changed bit set.
func (a Attributes) Changed() []AttributeKind {
	var kinds []AttributeKind
	for kind, attr := range a {
		if attr.Changed {
			kinds = append(kinds, kind)
		}
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ClearChanged resets the has-changed bit of kind.
func (a Attributes) ClearChanged(kind AttributeKind) {
	if attr, ok := a[kind]; ok {
		attr.Changed = false
	}
}

// Page describes one page: its resolutions, full resolution first, and its
// page level attributes.
type Page struct {
	Resolutions []*Resolution
	Attributes  Attributes
}

// NewPage returns a page with the given resolutions and no attributes.
func NewPage(res ...*Resolution) *Page {
	return &Page{Resolutions: res, Attributes: make(Attributes)}
}

// Resolution returns resolution i of the page.
func (p *Page) Resolution(i int) *Resolution {
	errors.Precondition(i >= 0 && i < len(p.Resolutions), "resolution %d out of range (%d resolutions)", i, len(p.Resolutions))
	return p.Resolutions[i]
}

// Clone returns a deep copy of p.
func (p *Page) Clone() *Page {
	c := &Page{
		Resolutions: make([]*Resolution, len(p.Resolutions)),
		Attributes:  make(Attributes, len(p.Attributes)),
	}

	for i, r := range p.Resolutions {
		c.Resolutions[i] = r.Clone()
	}

	for k, v := range p.Attributes {
		c.Attributes[k] = &Attribute{Value: append([]byte(nil), v.Value...), Changed: v.Changed}
	}

	return c
}
