package glyphatlas

// unknownStr is the string returned for unknown enum values.
const unknownStr = "Unknown"

// GlyphKey uniquely identifies one rasterized glyph variant in the cache.
// Two lookups with equal keys always refer to the same atlas region until
// that region is evicted.
type GlyphKey struct {
	// FontID identifies the font within the owning FontSystem.
	FontID uint32

	// Rune is the Unicode code point the glyph was rasterized from.
	Rune rune

	// PixelSize is the rasterization size in pixels per em.
	PixelSize uint16

	// Flags select the glyph variant (color storage, SDF post-processing).
	Flags GlyphFlags
}

// GlyphFlags select a glyph variant and its storage.
type GlyphFlags uint8

const (
	// FlagColor stores the glyph in the independent color (RGBA) cache.
	FlagColor GlyphFlags = 1 << iota

	// FlagSDFOuter applies an outer signed-distance-field transform to the
	// rasterized bitmap before it enters the cache.
	FlagSDFOuter

	// FlagSDFInner applies an inner signed-distance-field transform.
	FlagSDFInner
)

// String returns a readable representation of the flag set.
func (f GlyphFlags) String() string {
	if f == 0 {
		return "None"
	}
	s := ""
	if f&FlagColor != 0 {
		s += "Color|"
	}
	if f&FlagSDFOuter != 0 {
		s += "SDFOuter|"
	}
	if f&FlagSDFInner != 0 {
		s += "SDFInner|"
	}
	if s == "" {
		return unknownStr
	}
	return s[:len(s)-1]
}

// Direction specifies text direction.
type Direction int

const (
	// DirectionLTR is left-to-right text (English, French, etc.)
	DirectionLTR Direction = iota
	// DirectionRTL is right-to-left text (Arabic, Hebrew)
	DirectionRTL
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionLTR:
		return "LTR"
	case DirectionRTL:
		return "RTL"
	default:
		return unknownStr
	}
}

// Alignment specifies horizontal text alignment within the layout box.
type Alignment int

const (
	// AlignLeft aligns text to the left edge (default).
	AlignLeft Alignment = iota
	// AlignCenter centers text horizontally.
	AlignCenter
	// AlignRight aligns text to the right edge.
	AlignRight
	// AlignJustify distributes free width across word boundaries.
	AlignJustify
)

// String returns the string representation of the alignment.
func (a Alignment) String() string {
	switch a {
	case AlignLeft:
		return "Left"
	case AlignCenter:
		return "Center"
	case AlignRight:
		return "Right"
	case AlignJustify:
		return "Justify"
	default:
		return unknownStr
	}
}

// Rect is an axis-aligned rectangle in layout coordinates.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Width returns the width of the rectangle.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// Height returns the height of the rectangle.
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Caret is one caret slot: the position where a text cursor would be drawn
// before the corresponding character.
type Caret struct {
	// X is the horizontal caret position in layout coordinates.
	X float64

	// Y is the baseline of the caret's line.
	Y float64

	// Line is the zero-based line index the caret belongs to.
	Line int
}
