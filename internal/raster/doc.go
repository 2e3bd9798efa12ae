// Package raster holds the data model shared by the raster cache: block
// shapes, access modes, per-block cache flags, resolution and page
// descriptors, capability sets, and the narrow interfaces through which
// image sources and cache stores are consumed.
package raster
