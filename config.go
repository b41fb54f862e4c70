package glyphatlas

// CacheConfig holds configuration for a GlyphCache.
type CacheConfig struct {
	// SliceWidth and SliceHeight are the dimensions of one atlas slice.
	// Both are rounded up to the next power of two.
	// Default: 512x512.
	SliceWidth  int
	SliceHeight int

	// MaxSlices is the maximum number of slices the cache may grow to
	// before it starts evicting rows.
	// Default: 4.
	MaxSlices int

	// HeightGranularity is the rounding unit for row heights, so that rows
	// of similar logical height can be reused. Rounded up to a power of two.
	// Default: 8.
	HeightGranularity int

	// PaddingX and PaddingY are the empty pixels reserved on each side of a
	// glyph bitmap to prevent sampling bleed.
	// Default: 1 and 1.
	PaddingX int
	PaddingY int

	// ColorGlyphs enables a second, independent cache instance for color
	// (RGBA) glyphs, selected per glyph by FlagColor.
	// Default: false.
	ColorGlyphs bool
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		SliceWidth:        512,
		SliceHeight:       512,
		MaxSlices:         4,
		HeightGranularity: 8,
		PaddingX:          1,
		PaddingY:          1,
	}
}

// normalize fills zero values with defaults and rounds size fields to the
// required powers of two.
func (c CacheConfig) normalize() CacheConfig {
	def := DefaultCacheConfig()
	if c.SliceWidth <= 0 {
		c.SliceWidth = def.SliceWidth
	}
	if c.SliceHeight <= 0 {
		c.SliceHeight = def.SliceHeight
	}
	if c.MaxSlices <= 0 {
		c.MaxSlices = def.MaxSlices
	}
	if c.HeightGranularity <= 0 {
		c.HeightGranularity = def.HeightGranularity
	}
	if c.PaddingX < 0 {
		c.PaddingX = def.PaddingX
	}
	if c.PaddingY < 0 {
		c.PaddingY = def.PaddingY
	}
	c.SliceWidth = ceilPow2(c.SliceWidth)
	c.SliceHeight = ceilPow2(c.SliceHeight)
	c.HeightGranularity = ceilPow2(c.HeightGranularity)
	return c
}

// ceilPow2 rounds n up to the next power of two.
func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
