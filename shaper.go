package glyphatlas

import (
	"unicode/utf8"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// newShaperScratch is the sync.Pool constructor for HarfbuzzShaper
// instances. HarfbuzzShaper keeps internal scratch buffers and is cheap to
// reuse between sequential Shape calls.
func newShaperScratch() any {
	return &shaping.HarfbuzzShaper{}
}

// Shape implements Shaper using go-text/typesetting's HarfBuzz port. It
// produces glyphs with ligature substitution, kerning pairs and complex
// script support, in visual order.
func (fs *FontSystem) Shape(text string, fontID uint32, pixelSize int, dir Direction) []ShapedGlyph {
	if text == "" || fs.closed {
		return nil
	}
	f, ok := fs.fonts[fontID]
	if !ok {
		return nil
	}

	runes := []rune(text)
	gtDir := mapDirection(dir)

	// font.Face is not safe for concurrent use, but FontSystem is
	// single-threaded, so the parsed face can be shared across calls.
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: gtDir,
		Face:      f.shaped,
		Size:      floatToFixed(float64(pixelSize)),
		Script:    detectScript(runes),
		Language:  language.NewLanguage("en"),
	}

	hb := fs.shapers.Get().(*shaping.HarfbuzzShaper)
	output := hb.Shape(input)
	fs.shapers.Put(hb)

	return convertGlyphs(output.Glyphs, runes)
}

// convertGlyphs maps the shaping engine's glyph records to ShapedGlyphs,
// translating cluster rune indices into byte offsets.
func convertGlyphs(glyphs []shaping.Glyph, runes []rune) []ShapedGlyph {
	if len(glyphs) == 0 {
		return nil
	}

	// Byte offset of each rune within the original string.
	byteOf := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		byteOf[i] = off
		off += utf8.RuneLen(r)
	}
	byteOf[len(runes)] = off

	result := make([]ShapedGlyph, len(glyphs))
	for i, g := range glyphs {
		cluster := g.ClusterIndex
		if cluster < 0 {
			cluster = 0
		}
		if cluster > len(runes) {
			cluster = len(runes)
		}
		var r rune
		if cluster < len(runes) {
			r = runes[cluster]
		}
		result[i] = ShapedGlyph{
			GID:      uint32(g.GlyphID),
			Rune:     r,
			Cluster:  byteOf[cluster],
			XAdvance: fixedToFloat(g.XAdvance),
			YAdvance: fixedToFloat(g.YAdvance),
		}
	}
	return result
}

// mapDirection converts Direction to go-text's di.Direction.
func mapDirection(d Direction) di.Direction {
	if d == DirectionRTL {
		return di.DirectionRTL
	}
	return di.DirectionLTR
}

// detectScript inspects the runes and returns the script of the first
// non-space character. This is a simple heuristic; mixed-script text is
// split into directional runs before shaping, which covers the common
// cases.
func detectScript(runes []rune) language.Script {
	for _, r := range runes {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		return language.LookupScript(r)
	}
	return language.Latin
}

// floatToFixed converts a float64 pixel value to fixed.Int26_6.
func floatToFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(v * 64)
}

// fixedToFloat converts a fixed.Int26_6 value to float64.
func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64.0
}

// ensure FontSystem satisfies the full provider contract.
var _ FontProvider = (*FontSystem)(nil)
