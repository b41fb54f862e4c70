// Package glyphatlas caches rasterized glyphs on GPU texture atlas slices and
// builds reusable text layout buffers against that cache.
//
// The package solves three intertwined problems for interactive applications
// that render shaped text every frame:
//
//   - Packing: variable-height glyph bitmaps are packed into fixed-width rows
//     inside one or more fixed-size texture slices ([GlyphCache], rowAllocator).
//     Rows pack left to right, are reused after eviction, and are split and
//     merged to limit fragmentation.
//   - Lifetime: rows are evicted in LRU order when the atlas fills up, but a
//     row used during the current render cycle is never evicted mid-frame, and
//     a [LayoutBuffer] that cites an evicted row is marked invalid instead of
//     being torn down under the caller.
//   - Staleness: the cache carries a revision counter that increases only when
//     glyphs are evicted. A buffer stamps the revision at build time; a cheap
//     inequality check detects that its UVs may point at recycled atlas space,
//     and the [Manager] repairs UVs in place without re-shaping the text.
//
// # Typical frame
//
//	mgr.StartLayoutPass()
//	buf, err := mgr.GetBuffer("Hello, world", opts)
//	// ... measure with buf.Width/buf.Height, position widgets ...
//	mgr.StartRenderPass() // uploads dirty atlas regions
//	// ... draw buf.Positions/buf.UVs/buf.Groups with your pipeline ...
//
// Shaping, line breaking and rasterization are provided by [FontSystem],
// built on go-text/typesetting and golang.org/x/image. GPU upload is behind
// the [Uploader] interface; integration/wgpuupload implements it on
// gogpu/wgpu. Everything else (draw calls, shaders, widget layout) is the
// caller's business.
//
// The package performs no internal locking: a GlyphCache, its buffers and its
// Manager must be confined to one goroutine or serialized externally as a
// whole. See the Manager documentation for the exact contract.
package glyphatlas
