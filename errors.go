package glyphatlas

import "errors"

// Sentinel errors for the glyphatlas package.
var (
	// ErrDoesNotFit is returned when a layout buffer cannot be built even
	// after a full cache flush. The configured cache is too small for the
	// request; increase SliceWidth/SliceHeight or MaxSlices, or split the
	// text into smaller requests.
	ErrDoesNotFit = errors.New("glyphatlas: text does not fit in glyph cache")

	// ErrNoFont is returned when a font id does not identify a registered font.
	ErrNoFont = errors.New("glyphatlas: unknown font id")

	// ErrNoGlyph is returned by a Rasterizer when the font has no glyph for
	// the requested code point. Builds treat this as a skipped glyph, not a
	// failure.
	ErrNoGlyph = errors.New("glyphatlas: font has no glyph for code point")

	// ErrEmptyFontData is returned when font data is empty.
	ErrEmptyFontData = errors.New("glyphatlas: empty font data")

	// ErrClosed is returned when operating on a closed FontSystem.
	ErrClosed = errors.New("glyphatlas: font system is closed")
)

// errBackpressure is the internal signal that GlyphCache.Set returned no
// entry. It never escapes the package: the Manager turns it into a flush and
// retry, and ultimately into ErrDoesNotFit.
var errBackpressure = errors.New("glyphatlas: glyph cache full")
