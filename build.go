package glyphatlas

import (
	"errors"
	"log/slog"
	"sort"
)

// glyphSpan maps one shaped glyph's source cluster to the horizontal range
// it occupies, used to resolve link rectangles.
type glyphSpan struct {
	cluster int
	x0, x1  float64
	line    int
}

// lineWord is the extent of one word on a line: the vertex, caret and span
// ranges it produced. Alignment shifts operate on these ranges.
type lineWord struct {
	vertStart, vertEnd   int
	caretStart, caretEnd int
	spanStart, spanEnd   int
}

// lineRecord is one completed line.
type lineRecord struct {
	words    []lineWord
	width    float64
	baseline float64
	shift    float64

	// mandatory marks lines ended by a hard break; they are never
	// justified.
	mandatory bool
}

// layout is the per-build state machine walking the break-opportunity
// stream: shape each word, insert its glyphs into the cache, append quads,
// wrap on width, stop on height, then run the alignment post-pass.
type layout struct {
	m *Manager
	b *LayoutBuffer
	o TextOptions

	metrics FontMetrics
	lineAdv float64

	levels   []int
	runeAt   map[int]int // byte offset of a rune -> rune index
	grapheme []int
	gIdx     int

	penX     float64
	baseline float64

	lines    []lineRecord
	curWords []lineWord
	spans    []glyphSpan

	stopped bool
}

// build lays the buffer's text out from scratch. It returns
// errBackpressure when the cache cannot admit a required glyph.
func (m *Manager) build(b *LayoutBuffer) error {
	b.resetGeometry()
	if b.id == 0 {
		m.cache.register(b)
	}
	if b.text == "" {
		b.stamp()
		return nil
	}

	o := b.opts
	metrics, err := m.fonts.Metrics(o.FontID, o.PixelSize)
	if err != nil {
		return err
	}

	ld := &layout{
		m:        m,
		b:        b,
		o:        o,
		metrics:  metrics,
		lineAdv:  metrics.LineHeight * o.LineHeightScale,
		levels:   bidiLevels(b.text, o.Direction),
		baseline: metrics.Ascent,
	}
	ld.runeAt = make(map[int]int, len(b.text))
	i := 0
	for off := range b.text {
		ld.runeAt[off] = i
		i++
	}
	if o.TrackCarets {
		ld.grapheme = m.fonts.Graphemes(b.text)
	}

	if err := ld.run(); err != nil {
		return err
	}
	ld.finish()
	b.stamp()
	return nil
}

// run walks the break opportunities, placing one word per segment.
func (ld *layout) run() error {
	text := ld.b.text
	breaks := ld.m.fonts.Breaks(text)
	if len(breaks) == 0 {
		breaks = []Break{{Offset: len(text)}}
	}

	prev := 0
	for _, br := range breaks {
		if ld.stopped {
			break
		}
		if err := ld.placeWord(text[prev:br.Offset], prev); err != nil {
			return err
		}
		if br.Mandatory && !ld.stopped {
			ld.newline(true)
		}
		prev = br.Offset
	}
	if !ld.stopped {
		ld.endLineRecord(false)
	}

	if ld.b.truncated && ld.o.Ellipsis {
		if err := ld.appendEllipsis(); err != nil {
			return err
		}
	}
	return nil
}

// placeWord shapes one word and appends its glyphs at the pen, wrapping
// to a new line first if the word would overflow the box width.
func (ld *layout) placeWord(word string, byteBase int) error {
	if word == "" {
		return nil
	}
	o := ld.o
	dir := runDirection(ld.levels, ld.runeAt[byteBase])
	glyphs := ld.m.fonts.Shape(word, o.FontID, o.PixelSize, dir)
	if len(glyphs) == 0 {
		return nil
	}

	if o.BoxWidth > 0 && ld.penX > 0 && ld.penX+wrapWidth(glyphs, word, o.KerningScale) > o.BoxWidth {
		ld.newline(false)
		if ld.stopped {
			return nil
		}
	}

	w := lineWord{
		vertStart:  ld.vertCount(),
		caretStart: len(ld.b.Carets),
		spanStart:  len(ld.spans),
	}

	// clusterX/clusterW record where each cluster starts and how wide it
	// is, for per-grapheme caret interpolation across ligatures.
	var clusterX, clusterW map[int]float64
	if o.TrackCarets {
		clusterX = make(map[int]float64, len(glyphs))
		clusterW = make(map[int]float64, len(glyphs))
	}

	for _, g := range glyphs {
		adv := g.XAdvance * o.KerningScale
		abs := byteBase + g.Cluster
		if o.TrackCarets {
			if _, ok := clusterX[abs]; !ok {
				clusterX[abs] = ld.penX
			}
			clusterW[abs] += adv
		}

		key := GlyphKey{
			FontID:    o.FontID,
			Rune:      g.Rune,
			PixelSize: uint16(o.PixelSize),
			Flags:     o.Flags,
		}
		e, err := ld.m.ensureGlyph(key)
		if err != nil {
			return err
		}
		if e != nil {
			ld.appendQuad(e, key, adv)
		}
		ld.spans = append(ld.spans, glyphSpan{
			cluster: abs,
			x0:      ld.penX,
			x1:      ld.penX + adv,
			line:    len(ld.lines),
		})
		ld.penX += adv
	}

	if o.TrackCarets {
		ld.emitCarets(byteBase, byteBase+len(word), clusterX, clusterW)
	}

	w.vertEnd = ld.vertCount()
	w.caretEnd = len(ld.b.Carets)
	w.spanEnd = len(ld.spans)
	ld.curWords = append(ld.curWords, w)
	return nil
}

// wrapWidth measures a shaped word for the wrap decision, excluding
// trailing whitespace, which is allowed to hang past the box edge.
func wrapWidth(glyphs []ShapedGlyph, word string, kerning float64) float64 {
	trimmed := len(word)
	for trimmed > 0 && (word[trimmed-1] == ' ' || word[trimmed-1] == '\t' || word[trimmed-1] == '\n' || word[trimmed-1] == '\r') {
		trimmed--
	}
	var w float64
	for _, g := range glyphs {
		if g.Cluster >= trimmed {
			continue
		}
		w += g.XAdvance * kerning
	}
	return w
}

// vertCount returns the number of vertices appended so far.
func (ld *layout) vertCount() int { return len(ld.b.Positions) / 2 }

// appendQuad emits four vertices, an index hexad and a placement record
// for one cache entry at the current pen position.
func (ld *layout) appendQuad(e *CacheEntry, key GlyphKey, adv float64) {
	b := ld.b
	x0 := ld.penX + float64(e.OffsetX)
	y0 := ld.baseline + float64(e.OffsetY)
	x1 := x0 + float64(e.Width)
	y1 := y0 + float64(e.Height)

	v := uint32(ld.vertCount())
	b.Positions = append(b.Positions,
		float32(x0), float32(y0),
		float32(x1), float32(y0),
		float32(x1), float32(y1),
		float32(x0), float32(y1),
	)
	b.UVs = append(b.UVs,
		e.U0, e.V0,
		e.U1, e.V0,
		e.U1, e.V1,
		e.U0, e.V1,
	)
	gi := b.group(e.Slice, e.Color)
	b.Groups[gi].Indices = append(b.Groups[gi].Indices,
		v, v+1, v+2,
		v+2, v+3, v,
	)
	b.placed = append(b.placed, placedGlyph{
		key:     key,
		vert:    int(v),
		group:   gi,
		advance: adv,
	})
	ld.m.cache.cite(b, e)
}

// newline completes the current line and advances the pen. When the next
// line would exceed the box height the layout stops; the remaining text is
// dropped (and later replaced by an ellipsis when requested).
func (ld *layout) newline(mandatory bool) {
	ld.endLineRecord(mandatory)
	next := ld.baseline + ld.lineAdv
	if ld.o.BoxHeight > 0 && next+ld.metrics.Descent > ld.o.BoxHeight {
		ld.stopped = true
		ld.b.truncated = true
		return
	}
	ld.baseline = next
	ld.penX = 0
}

// endLineRecord pushes the accumulating line, including empty ones
// produced by consecutive hard breaks.
func (ld *layout) endLineRecord(mandatory bool) {
	ld.lines = append(ld.lines, lineRecord{
		words:     ld.curWords,
		width:     ld.penX,
		baseline:  ld.baseline,
		mandatory: mandatory,
	})
	ld.curWords = nil
}

// emitCarets records one caret slot per grapheme cluster in the word just
// placed. Graphemes shaped into a shared cluster (a ligature) divide the
// cluster's width evenly.
func (ld *layout) emitCarets(start, end int, clusterX, clusterW map[int]float64) {
	clusters := make([]int, 0, len(clusterX))
	for c := range clusterX {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)

	containing := func(g int) int {
		i := sort.SearchInts(clusters, g+1) - 1
		if i < 0 {
			return clusters[0]
		}
		return clusters[i]
	}

	var gs []int
	for ld.gIdx < len(ld.grapheme) && ld.grapheme[ld.gIdx] < end {
		if ld.grapheme[ld.gIdx] >= start {
			gs = append(gs, ld.grapheme[ld.gIdx])
		}
		ld.gIdx++
	}

	// Runs of graphemes resolving to the same cluster divide that
	// cluster's width evenly.
	for i := 0; i < len(gs); {
		c := containing(gs[i])
		j := i
		for j < len(gs) && containing(gs[j]) == c {
			j++
		}
		n := j - i
		for k := i; k < j; k++ {
			x := clusterX[c] + clusterW[c]*float64(k-i)/float64(n)
			ld.b.Carets = append(ld.b.Carets, Caret{X: x, Y: ld.baseline, Line: len(ld.lines)})
		}
		i = j
	}
}

// appendEllipsis truncates the last rendered line until an ellipsis run
// fits, then appends it.
func (ld *layout) appendEllipsis() error {
	if len(ld.lines) == 0 {
		return nil
	}
	o := ld.o
	line := &ld.lines[len(ld.lines)-1]

	ellipsis := "…"
	glyphs := ld.m.fonts.Shape(ellipsis, o.FontID, o.PixelSize, DirectionLTR)
	if len(glyphs) == 0 {
		ellipsis = "..."
		glyphs = ld.m.fonts.Shape(ellipsis, o.FontID, o.PixelSize, DirectionLTR)
		if len(glyphs) == 0 {
			return nil
		}
	}
	var ellW float64
	for _, g := range glyphs {
		ellW += g.XAdvance * o.KerningScale
	}

	limit := o.BoxWidth
	if limit <= 0 {
		limit = line.width + ellW
	}

	// Pop trailing quads until the ellipsis fits, without reaching back
	// into earlier lines. Placed records are chronological, so a popped
	// quad's indices are the last six of its group.
	b := ld.b
	lineStart := ld.vertCount()
	if len(line.words) > 0 {
		lineStart = line.words[0].vertStart
	}
	for line.width+ellW > limit && len(b.placed) > 0 {
		p := b.placed[len(b.placed)-1]
		if p.vert < lineStart {
			break
		}
		b.placed = b.placed[:len(b.placed)-1]
		b.Positions = b.Positions[:len(b.Positions)-8]
		b.UVs = b.UVs[:len(b.UVs)-8]
		g := &b.Groups[p.group]
		g.Indices = g.Indices[:len(g.Indices)-6]
		line.width -= p.advance
	}

	// Clamp the line's word vertex ranges to the shortened arrays so the
	// alignment pass never indexes popped geometry.
	nv := ld.vertCount()
	for i := range line.words {
		w := &line.words[i]
		if w.vertEnd > nv {
			w.vertEnd = nv
		}
		if w.vertStart > nv {
			w.vertStart = nv
		}
	}

	// Spans of popped glyphs would otherwise extend link rectangles past
	// the ellipsis.
	last := len(ld.lines) - 1
	for i := range ld.spans {
		s := &ld.spans[i]
		if s.line != last {
			continue
		}
		if s.x0 > line.width {
			s.x0 = line.width
		}
		if s.x1 > line.width {
			s.x1 = line.width
		}
	}

	ld.penX = line.width
	ld.baseline = line.baseline
	ew := lineWord{
		vertStart:  ld.vertCount(),
		caretStart: len(b.Carets),
		spanStart:  len(ld.spans),
	}
	for _, g := range glyphs {
		adv := g.XAdvance * o.KerningScale
		key := GlyphKey{
			FontID:    o.FontID,
			Rune:      g.Rune,
			PixelSize: uint16(o.PixelSize),
			Flags:     o.Flags,
		}
		e, err := ld.m.ensureGlyph(key)
		if err != nil {
			return err
		}
		if e != nil {
			ld.appendQuad(e, key, adv)
		}
		ld.penX += adv
	}
	line.width = ld.penX

	// Carets emitted for popped glyphs collapse onto the ellipsis.
	for i := range b.Carets {
		if b.Carets[i].Line == last && b.Carets[i].X > line.width {
			b.Carets[i].X = line.width
		}
	}

	// The ellipsis run is a word of its own so alignment shifts cover it.
	ew.vertEnd = ld.vertCount()
	ew.caretEnd = len(b.Carets)
	ew.spanEnd = len(ld.spans)
	line.words = append(line.words, ew)
	return nil
}

// finish runs the alignment post-pass and derives extents, underlines,
// link rectangles and the trailing caret.
func (ld *layout) finish() {
	b := ld.b
	o := ld.o

	var maxW float64
	for i := range ld.lines {
		line := &ld.lines[i]
		ld.alignLine(i, line)
		if line.shift+line.width > maxW {
			maxW = line.shift + line.width
		}
	}

	b.Lines = len(ld.lines)
	b.Width = maxW
	if len(ld.lines) > 0 {
		b.Height = ld.lines[len(ld.lines)-1].baseline + ld.metrics.Descent
	}

	if o.Underline {
		thickness := float64(o.PixelSize) / 16
		if thickness < 1 {
			thickness = 1
		}
		offset := float64(o.PixelSize) / 12
		if offset < 1 {
			offset = 1
		}
		for i := range ld.lines {
			line := &ld.lines[i]
			if line.width <= 0 {
				continue
			}
			b.Underlines = append(b.Underlines, Rect{
				MinX: line.shift,
				MinY: line.baseline + offset,
				MaxX: line.shift + line.width,
				MaxY: line.baseline + offset + thickness,
			})
		}
	}

	for _, r := range o.Links {
		span := LinkSpan{Start: r.Start, End: r.End}
		for li := range ld.lines {
			minX, maxX := 0.0, 0.0
			found := false
			for _, s := range ld.spans {
				if s.line != li || s.cluster < r.Start || s.cluster >= r.End {
					continue
				}
				if !found || s.x0 < minX {
					minX = s.x0
				}
				if !found || s.x1 > maxX {
					maxX = s.x1
				}
				found = true
			}
			if !found {
				continue
			}
			base := ld.lines[li].baseline
			span.Rects = append(span.Rects, Rect{
				MinX: minX,
				MinY: base - ld.metrics.Ascent,
				MaxX: maxX,
				MaxY: base + ld.metrics.Descent,
			})
		}
		b.Links = append(b.Links, span)
	}

	if o.TrackCarets {
		endX, endY, endLine := 0.0, ld.metrics.Ascent, 0
		if n := len(ld.lines); n > 0 {
			endX = ld.lines[n-1].shift + ld.lines[n-1].width
			endY = ld.lines[n-1].baseline
			endLine = n - 1
		}
		// Graphemes past a truncation point collapse onto the line end.
		for ld.gIdx < len(ld.grapheme) {
			b.Carets = append(b.Carets, Caret{X: endX, Y: endY, Line: endLine})
			ld.gIdx++
		}
		b.Carets = append(b.Carets, Caret{X: endX, Y: endY, Line: endLine})
	}
}

// alignLine shifts one completed line according to the alignment mode.
// Justification distributes the free width incrementally across word
// boundaries; hard-broken and final lines keep their natural width.
func (ld *layout) alignLine(i int, line *lineRecord) {
	o := ld.o
	if o.BoxWidth <= 0 || o.Align == AlignLeft {
		return
	}
	free := o.BoxWidth - line.width
	if free <= 0 {
		return
	}

	switch o.Align {
	case AlignCenter:
		ld.shiftLine(line, free/2)
		line.shift = free / 2
	case AlignRight:
		ld.shiftLine(line, free)
		line.shift = free
	case AlignJustify:
		if i == len(ld.lines)-1 || line.mandatory || len(line.words) < 2 {
			return
		}
		unit := free / float64(len(line.words)-1)
		for wi := range line.words {
			ld.shiftWord(&line.words[wi], unit*float64(wi))
		}
		line.width = o.BoxWidth
	}
}

// shiftLine moves every word on the line by dx.
func (ld *layout) shiftLine(line *lineRecord, dx float64) {
	for wi := range line.words {
		ld.shiftWord(&line.words[wi], dx)
	}
}

// shiftWord moves a word's vertices, carets and link spans by dx.
func (ld *layout) shiftWord(w *lineWord, dx float64) {
	b := ld.b
	for v := w.vertStart; v < w.vertEnd; v++ {
		b.Positions[v*2] += float32(dx)
	}
	for ci := w.caretStart; ci < w.caretEnd; ci++ {
		b.Carets[ci].X += dx
	}
	for si := w.spanStart; si < w.spanEnd; si++ {
		ld.spans[si].x0 += dx
		ld.spans[si].x1 += dx
	}
}

// ensureGlyph resolves one glyph key to a cache entry, rasterizing and
// inserting on a miss. A nil entry with a nil error means the glyph has no
// quad (zero extent, or missing from the font); errBackpressure means the
// cache is out of room.
func (m *Manager) ensureGlyph(key GlyphKey) (*CacheEntry, error) {
	if e := m.cache.Find(key); e != nil {
		return e, nil
	}

	rg, err := m.fonts.Rasterize(key.FontID, key.Rune, int(key.PixelSize))
	if err != nil {
		if errors.Is(err, ErrNoGlyph) || errors.Is(err, ErrNoFont) {
			if m.missLogs < missLogLimit {
				m.missLogs++
				Logger().Warn("skipping glyph missing from font",
					slog.Int("rune", int(key.Rune)),
					slog.Int("font", int(key.FontID)))
			}
			return nil, nil
		}
		return nil, err
	}
	if rg.Mask == nil {
		return nil, nil
	}

	mask := rg.Mask
	offX, offY := rg.OffsetX, rg.OffsetY
	if key.Flags&(FlagSDFOuter|FlagSDFInner) != 0 {
		mask = GenerateSDF(mask, key.Flags)
		if key.Flags&FlagSDFInner == 0 {
			offX -= SDFSpread
			offY -= SDFSpread
		}
	}

	e := m.cache.Set(key, BitmapFromAlpha(mask), offX, offY)
	if e == nil {
		return nil, errBackpressure
	}
	return e, nil
}

// repair re-resolves a stale buffer's UVs from its placement records
// without re-shaping or re-laying-out. It is idempotent: a buffer already
// stamped with the current revisions is untouched.
func (m *Manager) repair(b *LayoutBuffer) error {
	if b.fresh() {
		return nil
	}

	// Re-key the buffer in the registry so stale row citations are gone
	// before fresh ones are recorded.
	m.cache.unregister(b)
	m.cache.register(b)
	b.Groups = b.Groups[:0]

	for i := range b.placed {
		p := &b.placed[i]
		e, err := m.ensureGlyph(p.key)
		if err != nil {
			return err
		}
		if e == nil {
			// The glyph fell out of the font between builds; keep the
			// stale quad rather than tearing the layout.
			continue
		}

		uv := p.vert * 2
		b.UVs[uv+0], b.UVs[uv+1] = e.U0, e.V0
		b.UVs[uv+2], b.UVs[uv+3] = e.U1, e.V0
		b.UVs[uv+4], b.UVs[uv+5] = e.U1, e.V1
		b.UVs[uv+6], b.UVs[uv+7] = e.U0, e.V1

		gi := b.group(e.Slice, e.Color)
		p.group = gi
		v := uint32(p.vert)
		b.Groups[gi].Indices = append(b.Groups[gi].Indices,
			v, v+1, v+2,
			v+2, v+3, v,
		)
		m.cache.cite(b, e)
	}

	b.stamp()
	return nil
}
