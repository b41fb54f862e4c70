package glyphatlas

import (
	"image"
	"log/slog"
)

// CacheEntry describes one cached glyph: where its pixels live in the atlas
// and how to place its quad. Entries are owned by the cache; they become
// stale when their row is evicted and must not be retained across cycles
// without a revision check.
type CacheEntry struct {
	// Key is the glyph key the entry was inserted under.
	Key GlyphKey

	// Slice is the index of the atlas slice holding the pixels.
	Slice int

	// Color reports whether the entry lives in the color cache, whose
	// slice indices are independent from the alpha cache's.
	Color bool

	// Width and Height are the glyph bitmap dimensions, without padding.
	Width, Height int

	// OffsetX and OffsetY are the rasterizer bearing: the bitmap position
	// relative to the pen, with y growing downward from the baseline.
	OffsetX, OffsetY int

	// X and Y are the absolute bitmap position within the slice.
	X, Y int

	// U0, V0, U1, V1 are the normalized texture coordinates of the bitmap
	// within the slice.
	U0, V0, U1, V1 float32

	// row is the owning row within the slice's allocator.
	row rowID
}

// CacheStats holds cache counters. The cache is single-threaded, so the
// fields are plain integers.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64 // rows evicted
	Flushes   uint64
}

// DirtyRegion is a slice region whose pixels changed since the last upload
// acknowledgment.
type DirtyRegion struct {
	// Slice indexes the slice within its cache.
	Slice int

	// Color reports whether the region belongs to the color cache.
	Color bool

	// Rect bounds the changed pixels.
	Rect image.Rectangle
}

// rowRef names a row across the alpha and color caches. Buffers record the
// rows they cite as rowRefs, never as pointers.
type rowRef struct {
	color bool
	slice int
	row   rowID
}

// bufferRegistry tracks live layout buffers by id so row eviction can flip
// their valid flags without owning them. It is shared between a cache and
// its color sub-cache.
type bufferRegistry struct {
	nextID uint64
	bufs   map[uint64]*LayoutBuffer
}

// atlasSlice is one fixed-size pixel buffer plus its row allocator and
// dirty-rect accumulator.
type atlasSlice struct {
	alloc  *rowAllocator
	pix    []byte
	stride int
	dirty  image.Rectangle
}

// GlyphCache packs rasterized glyph bitmaps into a growing set of texture
// slices and hands out stable UV regions for them. Rows of similar height
// share atlas space; when the atlas fills up, whole rows are evicted in LRU
// order, except rows already used during the current cycle.
//
// A nil result from Set is backpressure, not an error: the caller is
// expected to flush and retry, or give up on the request. See Manager.
//
// GlyphCache is not safe for concurrent use. All mutation must happen on
// one goroutine, or be serialized externally together with every
// LayoutBuffer built against the cache.
type GlyphCache struct {
	config CacheConfig

	slices []*atlasSlice

	// lookup maps glyph keys to their cache entries.
	lookup map[GlyphKey]*CacheEntry

	// counter is the render cycle counter, advanced by Update. Rows
	// touched at the current counter value are exempt from eviction.
	counter uint64

	// revision increases when rows are evicted or the cache is flushed,
	// and only then. Holders of a revision value detect staleness by
	// inequality.
	revision uint64

	// bytesPerPixel is 1 for the alpha cache, 4 for the color cache.
	bytesPerPixel int

	// isColor marks the color sub-cache instance.
	isColor bool

	// color is the independent cache for color glyphs, nil unless
	// CacheConfig.ColorGlyphs is set. It shares the buffer registry.
	color *GlyphCache

	// reg tracks buffers citing rows of this cache (and the color one).
	reg *bufferRegistry

	stats CacheStats
}

// NewGlyphCache creates a glyph cache with the given configuration. Zero
// config fields take defaults; sizes are rounded to powers of two.
func NewGlyphCache(config CacheConfig) *GlyphCache {
	config = config.normalize()
	c := &GlyphCache{
		config:        config,
		lookup:        make(map[GlyphKey]*CacheEntry),
		bytesPerPixel: 1,
		reg:           &bufferRegistry{bufs: make(map[uint64]*LayoutBuffer)},
	}
	c.addSlice()
	if config.ColorGlyphs {
		c.color = &GlyphCache{
			config:        config,
			lookup:        make(map[GlyphKey]*CacheEntry),
			bytesPerPixel: 4,
			isColor:       true,
			reg:           c.reg,
		}
		c.color.addSlice()
	}
	return c
}

// Config returns the normalized cache configuration.
func (c *GlyphCache) Config() CacheConfig { return c.config }

// Color returns the independent color glyph cache, or nil if color glyphs
// are disabled.
func (c *GlyphCache) Color() *GlyphCache { return c.color }

// Counter returns the current cycle counter.
func (c *GlyphCache) Counter() uint64 { return c.counter }

// Revision returns the current eviction revision.
func (c *GlyphCache) Revision() uint64 { return c.revision }

// SliceCount returns the number of allocated slices.
func (c *GlyphCache) SliceCount() int { return len(c.slices) }

// BytesPerPixel returns the pixel size of the slice storage: 1 for the
// alpha cache, 4 for the color cache.
func (c *GlyphCache) BytesPerPixel() int { return c.bytesPerPixel }

// SliceData exposes the pixel storage of a slice for upload. The returned
// bytes are owned by the cache and valid until the next mutation.
func (c *GlyphCache) SliceData(slice int) (pix []byte, stride int) {
	s := c.slices[slice]
	return s.pix, s.stride
}

// Stats returns a copy of the cache counters.
func (c *GlyphCache) Stats() CacheStats { return c.stats }

// cacheFor routes a glyph key to the alpha or color cache instance.
func (c *GlyphCache) cacheFor(colorGlyph bool) *GlyphCache {
	if colorGlyph && c.color != nil {
		return c.color
	}
	return c
}

// Find returns the cache entry for key, or nil on a miss. A hit marks the
// entry's row as used this cycle and moves it to the most-recently-used end
// of its slice's recency list.
func (c *GlyphCache) Find(key GlyphKey) *CacheEntry {
	cc := c.cacheFor(key.Flags&FlagColor != 0)
	e, ok := cc.lookup[key]
	if !ok {
		cc.stats.Misses++
		return nil
	}
	cc.slices[e.Slice].alloc.markUsed(e.row, cc.counter)
	cc.stats.Hits++
	return e
}

// Set inserts a glyph bitmap into the cache and returns its entry. The
// offset records the rasterizer bearing. Set is idempotent: if the key is
// already cached the existing entry is returned and the bitmap ignored.
//
// On packing failure Set makes one eviction attempt (smallest sufficient
// row height first, least recently used within a height, never a row used
// this cycle) and retries once. If space still cannot be found it returns
// nil: the documented backpressure signal, to be answered with a flush and
// retry at a higher level.
func (c *GlyphCache) Set(key GlyphKey, bm *Bitmap, offsetX, offsetY int) *CacheEntry {
	if bm == nil || bm.Width <= 0 || bm.Height <= 0 {
		return nil
	}
	return c.cacheFor(key.Flags&FlagColor != 0).insert(key, bm, bm.Width, bm.Height, offsetX, offsetY)
}

// Reserve allocates atlas space for a glyph without providing pixels, for
// callers that write the region themselves. The reserved region is marked
// dirty so the next upload covers it.
func (c *GlyphCache) Reserve(key GlyphKey, width, height, offsetX, offsetY int) *CacheEntry {
	if width <= 0 || height <= 0 {
		return nil
	}
	return c.cacheFor(key.Flags&FlagColor != 0).insert(key, nil, width, height, offsetX, offsetY)
}

// insert implements Set and Reserve on the routed cache instance.
func (c *GlyphCache) insert(key GlyphKey, bm *Bitmap, width, height, offsetX, offsetY int) *CacheEntry {
	// Double-insert protection: a concurrent-free re-check keeps Set
	// idempotent when a caller races its own Find/Set sequence.
	if e, ok := c.lookup[key]; ok {
		c.slices[e.Slice].alloc.markUsed(e.row, c.counter)
		return e
	}

	paddedW := width + 2*c.config.PaddingX
	paddedH := height + 2*c.config.PaddingY

	if e := c.place(key, bm, width, height, paddedW, paddedH, offsetX, offsetY); e != nil {
		return e
	}

	// Grow before evicting, up to the configured slice maximum.
	if len(c.slices) < c.config.MaxSlices {
		c.addSlice()
		Logger().Debug("glyphatlas: slice added",
			slog.Int("slices", len(c.slices)), slog.Bool("color", c.isColor))
		if e := c.place(key, bm, width, height, paddedW, paddedH, offsetX, offsetY); e != nil {
			return e
		}
	}

	// One eviction attempt, then one retry.
	for i, s := range c.slices {
		victim, ok := s.alloc.victimFor(paddedW, paddedH, c.counter)
		if !ok {
			continue
		}
		c.evictRow(i, victim)
		if e := c.place(key, bm, width, height, paddedW, paddedH, offsetX, offsetY); e != nil {
			return e
		}
		break
	}
	return nil
}

// place tries every slice for room and performs the reservation, pixel
// copy and entry bookkeeping on success.
func (c *GlyphCache) place(key GlyphKey, bm *Bitmap, width, height, paddedW, paddedH, offsetX, offsetY int) *CacheEntry {
	for i, s := range c.slices {
		id, ok := s.alloc.findRow(paddedW, paddedH)
		if !ok {
			continue
		}
		x := s.alloc.reserve(id, key, paddedW)
		s.alloc.markUsed(id, c.counter)
		y := s.alloc.rows[id].y

		// Clear the padded region: rows are reused after eviction and
		// may hold pixels of the previous occupant.
		c.clearRegion(s, x, y, paddedW, paddedH)

		px := x + c.config.PaddingX
		py := y + c.config.PaddingY
		if bm != nil {
			c.copyBitmap(s, bm, px, py)
		}
		c.markDirty(s, image.Rect(x, y, x+paddedW, y+paddedH))

		sw := float32(c.config.SliceWidth)
		sh := float32(c.config.SliceHeight)
		e := &CacheEntry{
			Key:     key,
			Slice:   i,
			Color:   c.isColor,
			Width:   width,
			Height:  height,
			OffsetX: offsetX,
			OffsetY: offsetY,
			X:       px,
			Y:       py,
			U0:      float32(px) / sw,
			V0:      float32(py) / sh,
			U1:      float32(px+width) / sw,
			V1:      float32(py+height) / sh,
			row:     id,
		}
		c.lookup[key] = e
		return e
	}
	return nil
}

// addSlice appends a new empty slice with one full-height row.
func (c *GlyphCache) addSlice() {
	c.slices = append(c.slices, &atlasSlice{
		alloc:  newRowAllocator(c.config.SliceWidth, c.config.SliceHeight, c.config.HeightGranularity),
		pix:    make([]byte, c.config.SliceWidth*c.config.SliceHeight*c.bytesPerPixel),
		stride: c.config.SliceWidth * c.bytesPerPixel,
	})
}

// clearRegion zeroes a padded glyph region in slice storage.
func (c *GlyphCache) clearRegion(s *atlasSlice, x, y, w, h int) {
	bpp := c.bytesPerPixel
	for r := 0; r < h; r++ {
		off := (y+r)*s.stride + x*bpp
		clear(s.pix[off : off+w*bpp])
	}
}

// copyBitmap copies glyph pixels into slice storage at (x, y).
func (c *GlyphCache) copyBitmap(s *atlasSlice, bm *Bitmap, x, y int) {
	bpp := c.bytesPerPixel
	rowBytes := bm.Width * bpp
	for r := 0; r < bm.Height; r++ {
		src := bm.Pix[r*bm.Stride : r*bm.Stride+rowBytes]
		off := (y+r)*s.stride + x*bpp
		copy(s.pix[off:off+rowBytes], src)
	}
}

// markDirty grows the slice's dirty rectangle to include rect.
func (c *GlyphCache) markDirty(s *atlasSlice, rect image.Rectangle) {
	if s.dirty.Empty() {
		s.dirty = rect
	} else {
		s.dirty = s.dirty.Union(rect)
	}
}

// evictRow clears one row, removes its keys from the lookup map,
// invalidates every buffer citing the row and bumps the revision.
func (c *GlyphCache) evictRow(slice int, id rowID) {
	keys, citedBy := c.slices[slice].alloc.evict(id)
	for _, k := range keys {
		delete(c.lookup, k)
	}
	ref := rowRef{color: c.isColor, slice: slice, row: id}
	for bufID := range citedBy {
		if b := c.reg.bufs[bufID]; b != nil {
			b.invalidateRow(ref)
		}
	}
	c.revision++
	c.stats.Evictions++
	Logger().Debug("glyphatlas: row evicted",
		slog.Int("slice", slice), slog.Int("glyphs", len(keys)), slog.Bool("color", c.isColor))
}

// Update advances the cycle counter. Call it exactly once per render/layout
// cycle boundary; rows used since the last Update are protected from
// eviction until the next one.
func (c *GlyphCache) Update() {
	c.counter++
	if c.color != nil {
		c.color.counter++
	}
}

// Flush drops every cached glyph, reinitializes each slice to a single
// empty row and bumps the revision. Buffers citing any row become invalid.
// Flush is the answer to fragmentation that incremental eviction cannot
// solve; the color cache, if any, is flushed independently via
// Color().Flush().
func (c *GlyphCache) Flush() {
	for _, b := range c.reg.bufs {
		b.invalidateCache(c.isColor)
	}
	for _, s := range c.slices {
		s.alloc.reset()
		s.dirty = image.Rectangle{}
	}
	c.lookup = make(map[GlyphKey]*CacheEntry)
	c.revision++
	c.stats.Flushes++
	Logger().Info("glyphatlas: cache flushed", slog.Bool("color", c.isColor))
}

// DirtyRegions returns the changed region of every slice, including the
// color cache's. The regions stay dirty until ClearDirty acknowledges the
// upload.
func (c *GlyphCache) DirtyRegions() []DirtyRegion {
	var regions []DirtyRegion
	for i, s := range c.slices {
		if !s.dirty.Empty() {
			regions = append(regions, DirtyRegion{Slice: i, Color: c.isColor, Rect: s.dirty})
		}
	}
	if c.color != nil {
		regions = append(regions, c.color.DirtyRegions()...)
	}
	return regions
}

// ClearDirty resets dirty tracking after the caller uploaded the regions.
func (c *GlyphCache) ClearDirty() {
	for _, s := range c.slices {
		s.dirty = image.Rectangle{}
	}
	if c.color != nil {
		c.color.ClearDirty()
	}
}

// register assigns the buffer an id in the shared registry. Registering an
// already registered buffer is a no-op.
func (c *GlyphCache) register(b *LayoutBuffer) {
	if b.id != 0 {
		return
	}
	c.reg.nextID++
	b.id = c.reg.nextID
	c.reg.bufs[b.id] = b
}

// unregister removes the buffer from the registry and from the citedBy set
// of every row it cites, so those rows become freeable.
func (c *GlyphCache) unregister(b *LayoutBuffer) {
	if b.id == 0 {
		return
	}
	for ref := range b.rows {
		cc := c.cacheFor(ref.color)
		if ref.slice < len(cc.slices) {
			cc.slices[ref.slice].alloc.uncite(ref.row, b.id)
		}
	}
	clear(b.rows)
	delete(c.reg.bufs, b.id)
	b.id = 0
}

// cite records a dependency of the buffer on the entry's row, in both
// directions: the row lists the buffer for invalidation, the buffer lists
// the row for deregistration.
func (c *GlyphCache) cite(b *LayoutBuffer, e *CacheEntry) {
	cc := c.cacheFor(e.Color)
	ref := rowRef{color: e.Color, slice: e.Slice, row: e.row}
	if _, ok := b.rows[ref]; ok {
		return
	}
	b.rows[ref] = struct{}{}
	cc.slices[e.Slice].alloc.cite(e.row, b.id)
}
