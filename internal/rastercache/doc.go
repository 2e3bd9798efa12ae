// Package rastercache puts a transparent block cache in front of raster
// sources which cannot serve random access cheaply, e.g. files stored as
// sequential strips or streamed over the network.
//
// A Cache owns one cache store covering either one page or all pages of a
// source. Block editors obtained from the cache track the state of every
// block (Empty, Loaded, Overwritten); Save and Close reconcile the cache with
// the source. A Coordinator manages one Cache per page of a multi-page
// source.
package rastercache
