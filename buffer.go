package glyphatlas

// IndexGroup collects the triangle indices of all quads sampling one atlas
// slice. A draw loop binds the slice texture, then issues one draw per
// group; quads never straddle slices.
type IndexGroup struct {
	// Slice is the atlas slice index within its cache.
	Slice int

	// Color selects the color cache's slice set.
	Color bool

	// Indices are triangle-list indices into the vertex arrays,
	// six per glyph quad.
	Indices []uint32
}

// LinkSpan marks a clickable range of the source text together with the
// layout rectangles it occupies, one per line it touches.
type LinkSpan struct {
	// Start and End delimit the span in source text bytes.
	Start, End int

	// Rects are the hit areas in layout coordinates.
	Rects []Rect
}

// placedGlyph records one placed quad for UV repair and trailing
// truncation. The code point and flags in key are enough to re-resolve the
// glyph without re-shaping.
type placedGlyph struct {
	key     GlyphKey
	vert    int // first of the quad's four vertex indices
	group   int // index into Groups
	advance float64
}

// LayoutBuffer is the reusable per-string layout output: quad geometry
// against the glyph cache plus caret, underline and link metadata. Buffers
// are built and repaired by a Manager; consumers read the exported fields.
//
// A buffer never owns cache memory. It records which atlas rows its UVs
// point into; when one of those rows is evicted the buffer is marked
// invalid in place, and a reference-counted buffer stays allocated until
// every holder releases it.
type LayoutBuffer struct {
	// Positions holds two floats (x, y) per vertex, four vertices per
	// glyph quad in top-left, top-right, bottom-right, bottom-left order.
	// The origin is the top-left corner of the layout box; y grows down.
	Positions []float32

	// UVs holds normalized atlas coordinates, parallel to Positions.
	UVs []float32

	// Groups holds the per-slice triangle index lists.
	Groups []IndexGroup

	// Carets holds one caret slot per character plus a trailing slot at
	// the end of the text. Empty unless the buffer was built with
	// TrackCarets.
	Carets []Caret

	// Underlines holds one rectangle per underlined line segment.
	Underlines []Rect

	// Links holds the resolved link spans.
	Links []LinkSpan

	// Width and Height are the measured extents of the laid-out text.
	Width, Height float64

	// Lines is the number of laid-out lines.
	Lines int

	key   BufferKey
	text  string
	opts  TextOptions
	cache *GlyphCache

	// revision and colorRevision stamp the cache revisions at the last
	// successful build or repair.
	revision      uint64
	colorRevision uint64

	refCounted bool
	refCount   int
	valid      bool
	truncated  bool

	// id and rows tie the buffer into the cache's registry; see
	// GlyphCache.cite.
	id   uint64
	rows map[rowRef]struct{}

	placed []placedGlyph

	// lastFetch is the manager cycle of the last GetBuffer hit, used to
	// prune non-reference-counted buffers.
	lastFetch uint64
}

// Valid reports whether every atlas region the buffer references is still
// resident. An invalid buffer needs a repair or rebuild before drawing;
// fetching it again through the Manager performs that.
func (b *LayoutBuffer) Valid() bool { return b.valid }

// RefCount returns the current reference count. It is zero for buffers
// built without RefCounted.
func (b *LayoutBuffer) RefCount() int { return b.refCount }

// Revision returns the cache revision stamped at the last successful build
// or repair.
func (b *LayoutBuffer) Revision() uint64 { return b.revision }

// NumGlyphs returns the number of placed glyph quads.
func (b *LayoutBuffer) NumGlyphs() int { return len(b.placed) }

// Truncated reports whether the layout stopped early because the text
// exceeded the box height (or, with ellipsis, the available width).
func (b *LayoutBuffer) Truncated() bool { return b.truncated }

// Caret returns caret slot i. The second result is false when i is out of
// range or the buffer was built without TrackCarets.
func (b *LayoutBuffer) Caret(i int) (Caret, bool) {
	if i < 0 || i >= len(b.Carets) {
		return Caret{}, false
	}
	return b.Carets[i], true
}

// invalidateRow is called by the cache when a cited row is evicted.
func (b *LayoutBuffer) invalidateRow(ref rowRef) {
	delete(b.rows, ref)
	b.valid = false
}

// invalidateCache drops every citation into one cache instance (alpha or
// color) on a full flush.
func (b *LayoutBuffer) invalidateCache(color bool) {
	touched := false
	for ref := range b.rows {
		if ref.color == color {
			delete(b.rows, ref)
			touched = true
		}
	}
	if touched {
		b.valid = false
	}
}

// resetGeometry clears all layout output before a rebuild, keeping the
// identity fields and allocation capacity.
func (b *LayoutBuffer) resetGeometry() {
	b.Positions = b.Positions[:0]
	b.UVs = b.UVs[:0]
	b.Groups = b.Groups[:0]
	b.Carets = b.Carets[:0]
	b.Underlines = b.Underlines[:0]
	b.Links = b.Links[:0]
	b.placed = b.placed[:0]
	b.Width, b.Height = 0, 0
	b.Lines = 0
	b.truncated = false
	b.valid = false
}

// group returns the index of the IndexGroup for the given slice, appending
// an empty one if needed.
func (b *LayoutBuffer) group(slice int, color bool) int {
	for i := range b.Groups {
		if b.Groups[i].Slice == slice && b.Groups[i].Color == color {
			return i
		}
	}
	b.Groups = append(b.Groups, IndexGroup{Slice: slice, Color: color})
	return len(b.Groups) - 1
}
