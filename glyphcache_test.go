package glyphatlas

import (
	"image"
	"testing"
)

// solidBitmap returns a w x h alpha bitmap with every pixel set.
func solidBitmap(w, h int) *Bitmap {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = 0xff
	}
	return BitmapFromAlpha(m)
}

func smallCacheConfig() CacheConfig {
	return CacheConfig{
		SliceWidth:        64,
		SliceHeight:       64,
		MaxSlices:         1,
		HeightGranularity: 8,
		PaddingX:          1,
		PaddingY:          1,
	}
}

func TestGlyphCacheSetAndFind(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())
	key := testKey('A')

	e := c.Set(key, solidBitmap(10, 12), 1, -10)
	if e == nil {
		t.Fatal("Set returned nil on an empty cache")
	}
	if e.Width != 10 || e.Height != 12 {
		t.Errorf("entry size = %dx%d, want 10x12", e.Width, e.Height)
	}
	if e.OffsetX != 1 || e.OffsetY != -10 {
		t.Errorf("entry offset = (%d, %d), want (1, -10)", e.OffsetX, e.OffsetY)
	}

	got := c.Find(key)
	if got != e {
		t.Fatalf("Find returned %v, want the inserted entry", got)
	}
	if c.Find(testKey('B')) != nil {
		t.Error("Find returned an entry for a key never inserted")
	}
}

func TestGlyphCacheFindDeterministic(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())
	key := testKey('A')
	e := c.Set(key, solidBitmap(8, 8), 0, 0)
	if e == nil {
		t.Fatal("Set failed")
	}
	want := *e

	for cycle := 0; cycle < 3; cycle++ {
		got := c.Find(key)
		if got == nil {
			t.Fatalf("cycle %d: Find missed", cycle)
		}
		if got.U0 != want.U0 || got.V0 != want.V0 || got.U1 != want.U1 || got.V1 != want.V1 {
			t.Errorf("cycle %d: uv changed to (%v,%v,%v,%v)", cycle, got.U0, got.V0, got.U1, got.V1)
		}
		if got.X != want.X || got.Y != want.Y {
			t.Errorf("cycle %d: position changed to (%d,%d)", cycle, got.X, got.Y)
		}
		c.Update()
	}
}

func TestGlyphCacheSetIdempotent(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())
	key := testKey('A')

	e1 := c.Set(key, solidBitmap(8, 8), 0, 0)
	e2 := c.Set(key, solidBitmap(8, 8), 0, 0)
	if e1 == nil || e2 == nil {
		t.Fatal("Set failed")
	}
	if e1 != e2 {
		t.Error("double Set created a second entry for the same key")
	}
}

func TestGlyphCacheUVWithinSlice(t *testing.T) {
	c := NewGlyphCache(smallCacheConfig())
	e := c.Set(testKey('A'), solidBitmap(16, 16), 0, 0)
	if e == nil {
		t.Fatal("Set failed")
	}
	if !(e.U0 >= 0 && e.U0 < e.U1 && e.U1 <= 1) {
		t.Errorf("u range [%v, %v] not within [0, 1]", e.U0, e.U1)
	}
	if !(e.V0 >= 0 && e.V0 < e.V1 && e.V1 <= 1) {
		t.Errorf("v range [%v, %v] not within [0, 1]", e.V0, e.V1)
	}
}

func TestGlyphCacheRevisionMonotonic(t *testing.T) {
	c := NewGlyphCache(smallCacheConfig())

	rev := c.Revision()
	for i := 0; i < 4; i++ {
		if c.Set(testKey(rune('a'+i)), solidBitmap(10, 10), 0, 0) == nil {
			t.Fatalf("Set %d failed", i)
		}
	}
	if c.Revision() != rev {
		t.Errorf("revision changed on pure insertion: %d -> %d", rev, c.Revision())
	}

	c.Flush()
	if c.Revision() <= rev {
		t.Errorf("revision did not increase on flush: %d -> %d", rev, c.Revision())
	}
}

func TestGlyphCacheBackpressureSameCycle(t *testing.T) {
	c := NewGlyphCache(smallCacheConfig())

	// Every insertion this cycle protects its row, so once the single
	// slice is full Set must signal backpressure instead of evicting.
	sawNil := false
	for i := 0; i < 200; i++ {
		if c.Set(testKey(rune(i)), solidBitmap(20, 20), 0, 0) == nil {
			sawNil = true
			break
		}
	}
	if !sawNil {
		t.Fatal("cache never reported backpressure while overfilling in one cycle")
	}
}

func TestGlyphCacheEvictsAcrossCycles(t *testing.T) {
	c := NewGlyphCache(smallCacheConfig())

	var inserted int
	for i := 0; i < 200; i++ {
		if c.Set(testKey(rune(i)), solidBitmap(20, 20), 0, 0) == nil {
			break
		}
		inserted++
	}
	rev := c.Revision()

	// Next cycle the old rows are no longer protected: new insertions
	// evict instead of failing, and the revision moves.
	c.Update()
	e := c.Set(testKey('β'), solidBitmap(20, 20), 0, 0)
	if e == nil {
		t.Fatal("Set failed after Update despite evictable rows")
	}
	if c.Revision() <= rev {
		t.Error("revision did not increase on eviction")
	}
	if got := c.Stats().Evictions; got == 0 {
		t.Error("eviction counter still zero")
	}

	// At least one of the first-cycle glyphs must be gone.
	missing := 0
	for i := 0; i < inserted; i++ {
		if _, ok := c.cacheFor(false).lookup[testKey(rune(i))]; !ok {
			missing++
		}
	}
	if missing == 0 {
		t.Error("no first-cycle glyph was evicted")
	}
}

func TestGlyphCacheGrowsToMaxSlices(t *testing.T) {
	config := smallCacheConfig()
	config.MaxSlices = 3
	c := NewGlyphCache(config)

	for i := 0; c.SliceCount() < 3 && i < 300; i++ {
		if c.Set(testKey(rune(i)), solidBitmap(20, 20), 0, 0) == nil {
			break
		}
	}
	if got := c.SliceCount(); got != 3 {
		t.Errorf("slice count = %d, want growth to 3 before backpressure", got)
	}
}

func TestGlyphCacheDirtyRegions(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())

	if regs := c.DirtyRegions(); len(regs) != 0 {
		t.Fatalf("fresh cache has %d dirty regions, want 0", len(regs))
	}

	c.Set(testKey('A'), solidBitmap(10, 10), 0, 0)
	regs := c.DirtyRegions()
	if len(regs) != 1 {
		t.Fatalf("dirty regions = %d, want 1", len(regs))
	}
	if regs[0].Rect.Empty() {
		t.Error("dirty rect is empty after an insertion")
	}
	if regs[0].Rect.Dx() < 10 || regs[0].Rect.Dy() < 10 {
		t.Errorf("dirty rect %v smaller than the inserted bitmap", regs[0].Rect)
	}

	c.ClearDirty()
	if regs := c.DirtyRegions(); len(regs) != 0 {
		t.Errorf("dirty regions after ClearDirty = %d, want 0", len(regs))
	}
}

func TestGlyphCacheFlushDropsEntries(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())
	key := testKey('A')
	c.Set(key, solidBitmap(10, 10), 0, 0)

	c.Flush()
	if c.Find(key) != nil {
		t.Error("Find hit after Flush")
	}
	if c.Stats().Flushes != 1 {
		t.Errorf("flush counter = %d, want 1", c.Stats().Flushes)
	}

	// The cache must be usable again immediately.
	if c.Set(key, solidBitmap(10, 10), 0, 0) == nil {
		t.Error("Set failed right after Flush")
	}
}

func TestGlyphCacheColorRouting(t *testing.T) {
	config := DefaultCacheConfig()
	config.ColorGlyphs = true
	c := NewGlyphCache(config)

	if c.Color() == nil {
		t.Fatal("color cache not created despite ColorGlyphs")
	}
	if got := c.Color().BytesPerPixel(); got != 4 {
		t.Errorf("color cache bytes per pixel = %d, want 4", got)
	}

	key := testKey('😀')
	key.Flags = FlagColor
	m := image.NewRGBA(image.Rect(0, 0, 8, 8))
	e := c.Set(key, BitmapFromRGBA(m), 0, 0)
	if e == nil {
		t.Fatal("Set failed for color glyph")
	}
	if !e.Color {
		t.Error("color glyph entry not marked Color")
	}
	if c.Find(key) != e {
		t.Error("Find did not route color key to the color cache")
	}

	// The alpha cache must not know the key.
	if _, ok := c.lookup[key]; ok {
		t.Error("color key leaked into the alpha cache lookup")
	}
}

func TestGlyphCacheReserveMarksDirty(t *testing.T) {
	c := NewGlyphCache(DefaultCacheConfig())
	e := c.Reserve(testKey('A'), 12, 12, 0, 0)
	if e == nil {
		t.Fatal("Reserve failed")
	}
	if regs := c.DirtyRegions(); len(regs) == 0 {
		t.Error("Reserve left no dirty region")
	}
}
