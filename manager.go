package glyphatlas

import (
	"encoding/binary"
	"hash/fnv"
	"log/slog"
	"math"
)

// ByteRange delimits a half-open [Start, End) byte range of source text.
type ByteRange struct {
	Start, End int
}

// TextOptions parameterize one text layout request. The zero value lays
// out unwrapped, left-aligned text; Layout scales default to 1 when left
// zero.
type TextOptions struct {
	// FontID selects a font registered with the FontProvider.
	FontID uint32

	// PixelSize is the em size in pixels.
	PixelSize int

	// BoxWidth is the wrap width in pixels; zero disables wrapping.
	// BoxHeight bounds the laid-out height; text past it is dropped
	// (see Ellipsis). Zero disables the bound.
	BoxWidth, BoxHeight float64

	// Align positions each completed line within BoxWidth.
	Align Alignment

	// Direction is the base paragraph direction.
	Direction Direction

	// Flags select the glyph variant stored in the atlas (SDF, color).
	Flags GlyphFlags

	// TrackCarets records one caret slot per grapheme cluster plus a
	// trailing slot.
	TrackCarets bool

	// RefCounted keeps the buffer alive until every GetBuffer call is
	// matched by a ReleaseBuffer call. Buffers without it are pruned
	// automatically when a layout pass starts and they were not fetched
	// in the previous cycle.
	RefCounted bool

	// Ellipsis replaces dropped text with a trailing ellipsis when the
	// layout exceeds BoxHeight.
	Ellipsis bool

	// Underline emits one underline rectangle per laid-out line.
	Underline bool

	// Links marks byte ranges whose layout rectangles are resolved into
	// LayoutBuffer.Links for hit testing.
	Links []ByteRange

	// KerningScale multiplies every horizontal advance; 0 means 1.
	KerningScale float64

	// LineHeightScale multiplies the font's line height; 0 means 1.
	LineHeightScale float64

	// CacheID, when nonzero, alone determines buffer identity. Requests
	// with distinct CacheIDs get distinct buffers even for identical
	// text and options.
	CacheID uint64
}

// withDefaults fills the scale fields.
func (o TextOptions) withDefaults() TextOptions {
	if o.KerningScale == 0 {
		o.KerningScale = 1
	}
	if o.LineHeightScale == 0 {
		o.LineHeightScale = 1
	}
	return o
}

// BufferKey identifies a layout buffer in the Manager's cache. Two
// requests with equal keys share one buffer.
type BufferKey struct {
	cacheID   uint64
	textHash  uint64
	linksHash uint64
	fontID    uint32
	pixelSize int
	boxW      uint64
	boxH      uint64
	align     Alignment
	dir       Direction
	flags     GlyphFlags
	carets    bool
	refs      bool
	ellipsis  bool
	underline bool
	kerning   uint64
	lineH     uint64
}

// makeBufferKey derives the identity of a request. A nonzero CacheID
// bypasses every other field, forcing an independent buffer instance.
func makeBufferKey(text string, o TextOptions) BufferKey {
	if o.CacheID != 0 {
		return BufferKey{cacheID: o.CacheID}
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	textHash := h.Sum64()

	var linksHash uint64
	if len(o.Links) > 0 {
		lh := fnv.New64a()
		for _, r := range o.Links {
			var buf [8]byte
			binary.LittleEndian.PutUint32(buf[:4], uint32(r.Start))
			binary.LittleEndian.PutUint32(buf[4:], uint32(r.End))
			lh.Write(buf[:])
		}
		linksHash = lh.Sum64()
	}

	return BufferKey{
		textHash:  textHash,
		linksHash: linksHash,
		fontID:    o.FontID,
		pixelSize: o.PixelSize,
		boxW:      math.Float64bits(o.BoxWidth),
		boxH:      math.Float64bits(o.BoxHeight),
		align:     o.Align,
		dir:       o.Direction,
		flags:     o.Flags,
		carets:    o.TrackCarets,
		refs:      o.RefCounted,
		ellipsis:  o.Ellipsis,
		underline: o.Underline,
		kerning:   math.Float64bits(o.KerningScale),
		lineH:     math.Float64bits(o.LineHeightScale),
	}
}

// missLogLimit bounds rasterizer-miss diagnostics per Manager so a font
// lacking a whole script cannot flood the log.
const missLogLimit = 16

// Manager is the top-level entry point: it keys built LayoutBuffers,
// coordinates the layout and render passes, and answers cache
// backpressure with a flush and one retry.
//
// Per cycle the protocol is StartLayoutPass, any number of GetBuffer
// calls, then StartRenderPass before drawing. A Manager is not safe for
// concurrent use.
type Manager struct {
	cache    *GlyphCache
	fonts    FontProvider
	uploader Uploader

	buffers map[BufferKey]*LayoutBuffer

	cycle            uint64
	flushedThisCycle bool
	missLogs         int
}

// NewManager creates a Manager over a fresh glyph cache with the given
// configuration.
func NewManager(fonts FontProvider, config CacheConfig) *Manager {
	return &Manager{
		cache:   NewGlyphCache(config),
		fonts:   fonts,
		buffers: make(map[BufferKey]*LayoutBuffer),
	}
}

// Cache exposes the managed glyph cache.
func (m *Manager) Cache() *GlyphCache { return m.cache }

// SetUploader installs the GPU upload sink drained by StartRenderPass.
// A nil uploader disables uploads; dirty state then accumulates until the
// caller drains GlyphCache.DirtyRegions itself.
func (m *Manager) SetUploader(u Uploader) { m.uploader = u }

// NumBuffers returns the number of cached layout buffers.
func (m *Manager) NumBuffers() int { return len(m.buffers) }

// GetBuffer returns the layout buffer for text under the given options,
// building it on first request. A cached buffer whose atlas references
// are intact is returned as is; a stale one gets its UVs re-resolved
// without re-shaping. When the cache cannot hold the required glyphs even
// after a full flush, GetBuffer returns ErrDoesNotFit.
//
// With RefCounted the returned buffer's reference count is incremented on
// every call; each must be matched by ReleaseBuffer.
func (m *Manager) GetBuffer(text string, opts TextOptions) (*LayoutBuffer, error) {
	opts = opts.withDefaults()
	key := makeBufferKey(text, opts)

	b, ok := m.buffers[key]
	if !ok {
		b = &LayoutBuffer{
			key:        key,
			text:       text,
			opts:       opts,
			cache:      m.cache,
			refCounted: opts.RefCounted,
			rows:       make(map[rowRef]struct{}),
		}
		if err := m.buildWithRetry(b); err != nil {
			m.cache.unregister(b)
			return nil, err
		}
		m.buffers[key] = b
	} else if !b.fresh() {
		if err := m.repairWithRetry(b); err != nil {
			return nil, err
		}
	}

	if b.refCounted {
		b.refCount++
	}
	b.lastFetch = m.cycle
	return b, nil
}

// ReleaseBuffer releases one reference to a ref-counted buffer, destroying
// it when the count reaches zero. Releasing a buffer whose count is
// already zero is a logged no-op. Buffers built without RefCounted
// ignore releases; they are pruned by StartLayoutPass instead.
func (m *Manager) ReleaseBuffer(b *LayoutBuffer) {
	if b == nil || !b.refCounted {
		return
	}
	if b.refCount == 0 {
		Logger().Warn("release of layout buffer past zero refcount")
		return
	}
	b.refCount--
	if b.refCount == 0 {
		m.destroyBuffer(b)
	}
}

// destroyBuffer unhooks the buffer from the cache registry and drops it
// from the key map.
func (m *Manager) destroyBuffer(b *LayoutBuffer) {
	m.cache.unregister(b)
	delete(m.buffers, b.key)
}

// StartLayoutPass begins a render cycle: it advances the cache's cycle
// counter (re-arming in-cycle eviction protection), resets the per-cycle
// flush budget, and prunes non-ref-counted buffers that were not fetched
// during the previous cycle.
func (m *Manager) StartLayoutPass() {
	for _, b := range m.buffers {
		if !b.refCounted && b.lastFetch < m.cycle {
			m.destroyBuffer(b)
		}
	}
	m.cycle++
	m.cache.Update()
	m.flushedThisCycle = false
}

// StartRenderPass uploads every pending dirty atlas region through the
// configured uploader, then clears dirty state. Call it after layout and
// before drawing; UVs handed out during the layout pass are final once it
// returns.
func (m *Manager) StartRenderPass() error {
	if m.uploader == nil {
		return nil
	}
	regions := m.cache.DirtyRegions()
	for _, r := range regions {
		c := m.cache
		if r.Color {
			c = m.cache.Color()
		}
		pix, stride := c.SliceData(r.Slice)
		if err := m.uploader.UploadRegion(r.Slice, r.Color, r.Rect, pix, stride, c.BytesPerPixel()); err != nil {
			return err
		}
	}
	m.cache.ClearDirty()
	return nil
}

// FlushAndUpdate performs the mid-cycle emergency flush: the whole cache
// is dropped, every buffer invalidated, and the cycle counter advanced so
// subsequent insertions are protected again. At most one flush per cycle
// is honored; further calls log and do nothing, which indicates the
// configured cache size is too small for the workload.
func (m *Manager) FlushAndUpdate() {
	if m.flushedThisCycle {
		Logger().Warn("second cache flush requested this cycle; consider a larger atlas",
			slog.Int("slices", m.cache.SliceCount()))
		return
	}
	m.flushedThisCycle = true
	m.flushCaches()
	m.cache.Update()
}

// flushCaches drops the alpha cache and, when present, the color cache.
func (m *Manager) flushCaches() {
	m.cache.Flush()
	if cc := m.cache.Color(); cc != nil {
		cc.Flush()
	}
}

// buildWithRetry builds a buffer, answering backpressure with one full
// flush and a second attempt.
func (m *Manager) buildWithRetry(b *LayoutBuffer) error {
	err := m.build(b)
	if err != errBackpressure {
		return err
	}
	m.flushCaches()
	if err := m.build(b); err != nil {
		if err == errBackpressure {
			return ErrDoesNotFit
		}
		return err
	}
	return nil
}

// repairWithRetry re-resolves a stale buffer's UVs; if the atlas cannot
// re-admit its glyphs it falls back to a flush and a full rebuild.
func (m *Manager) repairWithRetry(b *LayoutBuffer) error {
	err := m.repair(b)
	if err != errBackpressure {
		return err
	}
	m.flushCaches()
	if err := m.build(b); err != nil {
		if err == errBackpressure {
			return ErrDoesNotFit
		}
		return err
	}
	return nil
}

// fresh reports whether the buffer can be drawn without touching the
// atlas: still valid and stamped with the current cache revisions.
func (b *LayoutBuffer) fresh() bool {
	if !b.valid || b.revision != b.cache.Revision() {
		return false
	}
	if cc := b.cache.Color(); cc != nil && b.colorRevision != cc.Revision() {
		return false
	}
	return true
}

// stamp records the current cache revisions after a successful build or
// repair.
func (b *LayoutBuffer) stamp() {
	b.revision = b.cache.Revision()
	if cc := b.cache.Color(); cc != nil {
		b.colorRevision = cc.Revision()
	}
	b.valid = true
}
