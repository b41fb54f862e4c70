package glyphatlas

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/go-text/typesetting/segmenter"

	gtfont "github.com/go-text/typesetting/font"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// RasterizedGlyph is the output of glyph rasterization: a coverage mask
// plus its placement metrics.
type RasterizedGlyph struct {
	// Mask is the alpha coverage mask, tightly cropped. It is nil for
	// glyphs with no extent, such as spaces.
	Mask *image.Alpha

	// OffsetX and OffsetY position the mask relative to the pen, with y
	// growing downward from the baseline (OffsetY is typically negative).
	OffsetX, OffsetY int

	// Advance is the horizontal pen advance in pixels.
	Advance float64
}

// FontMetrics are the vertical metrics of a font at one pixel size.
type FontMetrics struct {
	// Ascent is the distance from the baseline to the top of a line.
	Ascent float64

	// Descent is the distance from the baseline to the bottom of a line.
	Descent float64

	// LineHeight is the baseline-to-baseline distance.
	LineHeight float64
}

// ShapedGlyph is one glyph from the shaping engine, in visual order.
type ShapedGlyph struct {
	// GID is the glyph index within the font.
	GID uint32

	// Rune is the code point of the glyph's cluster.
	Rune rune

	// Cluster is the byte offset of the glyph's cluster within the shaped
	// text.
	Cluster int

	// XAdvance and YAdvance are the pen advances in pixels.
	XAdvance, YAdvance float64
}

// Rasterizer turns a (font, code point, pixel size) triple into a coverage
// mask. Implementations may be backed by any font engine; FontSystem
// provides the default.
type Rasterizer interface {
	// Rasterize renders one glyph. It returns ErrNoGlyph when the font
	// has no glyph for the code point and ErrNoFont for unknown font ids.
	Rasterize(fontID uint32, r rune, pixelSize int) (*RasterizedGlyph, error)

	// Metrics returns the font's vertical metrics at the pixel size.
	Metrics(fontID uint32, pixelSize int) (FontMetrics, error)
}

// Shaper turns a text run into positioned glyphs.
type Shaper interface {
	Shape(text string, fontID uint32, pixelSize int, dir Direction) []ShapedGlyph
}

// Break is one line break opportunity.
type Break struct {
	// Offset is the byte position directly after the breakable segment;
	// the last break of a text always has Offset == len(text).
	Offset int

	// Mandatory marks hard breaks (newlines).
	Mandatory bool
}

// BreakClassifier reports the line break opportunities of a text.
type BreakClassifier interface {
	Breaks(text string) []Break

	// Graphemes returns the byte offsets of every grapheme cluster start,
	// used to derive caret slots.
	Graphemes(text string) []int
}

// FontProvider is everything a Manager needs from the text stack. It is
// implemented by FontSystem; tests substitute fakes.
type FontProvider interface {
	Rasterizer
	Shaper
	BreakClassifier
}

// systemFont keeps both parsed forms of one registered font: the
// typesetting font for shaping and the sfnt font for rasterization, plus
// rasterizer faces cached per pixel size.
type systemFont struct {
	data   []byte
	shaped *gtfont.Face
	raster *opentype.Font
	faces  map[int]xfont.Face
}

// FontSystem is the context object tying together font storage, the
// HarfBuzz shaper, the rasterizer and the Unicode segmenter. Every call
// that needs a font takes the FontSystem explicitly; there is no global
// font state.
//
// A FontSystem is not safe for concurrent use.
type FontSystem struct {
	fonts  map[uint32]*systemFont
	nextID uint32

	// shapers pools HarfbuzzShaper instances, which carry internal
	// scratch buffers and are cheap to reuse between Shape calls.
	shapers sync.Pool

	// seg is the shared segmenter scratch, reused across Breaks and
	// Graphemes calls.
	seg segmenter.Segmenter

	closed bool
}

// NewFontSystem creates an empty font system. Register fonts with
// AddFontData and release everything with Close.
func NewFontSystem() *FontSystem {
	fs := &FontSystem{
		fonts: make(map[uint32]*systemFont),
	}
	fs.shapers.New = newShaperScratch
	return fs
}

// AddFontData registers a font from raw TTF/OTF data and returns its id.
func (fs *FontSystem) AddFontData(data []byte) (uint32, error) {
	if fs.closed {
		return 0, ErrClosed
	}
	if len(data) == 0 {
		return 0, ErrEmptyFontData
	}

	shapedFace, err := gtfont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("glyphatlas: parsing font for shaping: %w", err)
	}
	rasterFont, err := opentype.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("glyphatlas: parsing font for rasterization: %w", err)
	}

	fs.nextID++
	id := fs.nextID
	fs.fonts[id] = &systemFont{
		data:   data,
		shaped: shapedFace,
		raster: rasterFont,
		faces:  make(map[int]xfont.Face),
	}
	return id, nil
}

// Close releases all rasterizer faces and registered fonts. The FontSystem
// must not be used afterwards.
func (fs *FontSystem) Close() error {
	if fs.closed {
		return nil
	}
	var first error
	for _, f := range fs.fonts {
		for _, face := range f.faces {
			if c, ok := face.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil && first == nil {
					first = err
				}
			}
		}
	}
	fs.fonts = nil
	fs.closed = true
	return first
}

// NumFonts returns the number of registered fonts.
func (fs *FontSystem) NumFonts() int { return len(fs.fonts) }

// face returns the cached rasterizer face for a font at a pixel size,
// creating it on first use.
func (fs *FontSystem) face(f *systemFont, pixelSize int) (xfont.Face, error) {
	if face, ok := f.faces[pixelSize]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(f.raster, &opentype.FaceOptions{
		Size:    float64(pixelSize),
		DPI:     72,
		Hinting: xfont.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("glyphatlas: creating face at %dpx: %w", pixelSize, err)
	}
	f.faces[pixelSize] = face
	return face, nil
}

// Rasterize implements Rasterizer by drawing the glyph into a tight alpha
// mask with golang.org/x/image/font.
func (fs *FontSystem) Rasterize(fontID uint32, r rune, pixelSize int) (*RasterizedGlyph, error) {
	if fs.closed {
		return nil, ErrClosed
	}
	f, ok := fs.fonts[fontID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoFont, fontID)
	}
	face, err := fs.face(f, pixelSize)
	if err != nil {
		return nil, err
	}

	dr, maskImg, maskp, advance, ok := face.Glyph(fixed.Point26_6{}, r)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoGlyph, r)
	}

	out := &RasterizedGlyph{
		OffsetX: dr.Min.X,
		OffsetY: dr.Min.Y,
		Advance: fixedToFloat(advance),
	}
	if dr.Empty() {
		// Zero-extent glyph (space): advance only.
		return out, nil
	}

	// The face's mask is a view into its internal buffer; copy the glyph
	// region out so the result survives the next Glyph call.
	src, ok := maskImg.(*image.Alpha)
	if !ok {
		return nil, fmt.Errorf("glyphatlas: unexpected mask type %T", maskImg)
	}
	w, h := dr.Dx(), dr.Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcOff := src.PixOffset(maskp.X, maskp.Y+y)
		copy(mask.Pix[y*mask.Stride:y*mask.Stride+w], src.Pix[srcOff:srcOff+w])
	}
	out.Mask = mask
	return out, nil
}

// Metrics implements Rasterizer.
func (fs *FontSystem) Metrics(fontID uint32, pixelSize int) (FontMetrics, error) {
	if fs.closed {
		return FontMetrics{}, ErrClosed
	}
	f, ok := fs.fonts[fontID]
	if !ok {
		return FontMetrics{}, fmt.Errorf("%w: %d", ErrNoFont, fontID)
	}
	face, err := fs.face(f, pixelSize)
	if err != nil {
		return FontMetrics{}, err
	}
	m := face.Metrics()
	return FontMetrics{
		Ascent:     fixedToFloat(m.Ascent),
		Descent:    fixedToFloat(m.Descent),
		LineHeight: fixedToFloat(m.Height),
	}, nil
}
