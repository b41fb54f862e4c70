package glyphatlas

import "image"

// Bitmap is a rectangle of glyph pixels handed to the cache. Alpha glyphs
// use one byte per pixel, color glyphs four (RGBA). The cache copies the
// pixels on insertion; the Bitmap may be reused afterwards.
type Bitmap struct {
	// Pix holds the pixel data, Stride bytes per source row.
	Pix    []byte
	Stride int

	// Width and Height are in pixels.
	Width  int
	Height int
}

// BitmapFromAlpha wraps an alpha mask as an insertion bitmap. The mask's
// pixels are referenced, not copied.
func BitmapFromAlpha(m *image.Alpha) *Bitmap {
	if m == nil {
		return nil
	}
	b := m.Bounds()
	if b.Empty() {
		return nil
	}
	return &Bitmap{
		Pix:    m.Pix[m.PixOffset(b.Min.X, b.Min.Y):],
		Stride: m.Stride,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// BitmapFromRGBA wraps an RGBA image as an insertion bitmap for the color
// cache. The image's pixels are referenced, not copied.
func BitmapFromRGBA(m *image.RGBA) *Bitmap {
	if m == nil {
		return nil
	}
	b := m.Bounds()
	if b.Empty() {
		return nil
	}
	return &Bitmap{
		Pix:    m.Pix[m.PixOffset(b.Min.X, b.Min.Y):],
		Stride: m.Stride,
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}
