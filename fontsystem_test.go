package glyphatlas

import (
	"errors"
	"testing"

	"golang.org/x/image/font/gofont/goregular"
)

func newTestFontSystem(t *testing.T) (*FontSystem, uint32) {
	t.Helper()
	fs := NewFontSystem()
	t.Cleanup(func() { fs.Close() })
	id, err := fs.AddFontData(goregular.TTF)
	if err != nil {
		t.Fatalf("AddFontData(goregular) error: %v", err)
	}
	return fs, id
}

func TestFontSystemAddFontData(t *testing.T) {
	fs, id := newTestFontSystem(t)
	if id == 0 {
		t.Error("font id = 0, want nonzero")
	}
	if fs.NumFonts() != 1 {
		t.Errorf("NumFonts = %d, want 1", fs.NumFonts())
	}

	if _, err := fs.AddFontData(nil); !errors.Is(err, ErrEmptyFontData) {
		t.Errorf("AddFontData(nil) error = %v, want ErrEmptyFontData", err)
	}
	if _, err := fs.AddFontData([]byte("not a font")); err == nil {
		t.Error("AddFontData(garbage) succeeded, want error")
	}
}

func TestFontSystemRasterize(t *testing.T) {
	fs, id := newTestFontSystem(t)

	g, err := fs.Rasterize(id, 'A', 32)
	if err != nil {
		t.Fatalf("Rasterize('A') error: %v", err)
	}
	if g.Mask == nil {
		t.Fatal("Rasterize('A') returned nil mask")
	}
	if g.Mask.Rect.Dx() <= 0 || g.Mask.Rect.Dy() <= 0 {
		t.Errorf("mask size = %dx%d, want positive", g.Mask.Rect.Dx(), g.Mask.Rect.Dy())
	}
	if g.Advance <= 0 {
		t.Errorf("advance = %v, want > 0", g.Advance)
	}
	if g.OffsetY >= 0 {
		t.Errorf("offset y = %d, want negative (above baseline)", g.OffsetY)
	}

	covered := false
	for _, v := range g.Mask.Pix {
		if v > 0 {
			covered = true
			break
		}
	}
	if !covered {
		t.Error("mask for 'A' has no coverage")
	}
}

func TestFontSystemRasterizeSpace(t *testing.T) {
	fs, id := newTestFontSystem(t)
	g, err := fs.Rasterize(id, ' ', 32)
	if err != nil {
		t.Fatalf("Rasterize(' ') error: %v", err)
	}
	if g.Mask != nil {
		t.Error("space produced a mask, want nil")
	}
	if g.Advance <= 0 {
		t.Errorf("space advance = %v, want > 0", g.Advance)
	}
}

func TestFontSystemRasterizeUnknownFont(t *testing.T) {
	fs, _ := newTestFontSystem(t)
	if _, err := fs.Rasterize(99, 'A', 32); !errors.Is(err, ErrNoFont) {
		t.Errorf("Rasterize with unknown font error = %v, want ErrNoFont", err)
	}
}

func TestFontSystemMetrics(t *testing.T) {
	fs, id := newTestFontSystem(t)
	m, err := fs.Metrics(id, 32)
	if err != nil {
		t.Fatalf("Metrics error: %v", err)
	}
	if m.Ascent <= 0 {
		t.Errorf("ascent = %v, want > 0", m.Ascent)
	}
	if m.Descent <= 0 {
		t.Errorf("descent = %v, want > 0", m.Descent)
	}
	if m.LineHeight < m.Ascent {
		t.Errorf("line height %v below ascent %v", m.LineHeight, m.Ascent)
	}
}

func TestFontSystemShape(t *testing.T) {
	fs, id := newTestFontSystem(t)
	glyphs := fs.Shape("Hello", id, 32, DirectionLTR)
	if len(glyphs) != 5 {
		t.Fatalf("shaped %d glyphs for %q, want 5", len(glyphs), "Hello")
	}
	for i, g := range glyphs {
		if g.XAdvance <= 0 {
			t.Errorf("glyph %d x advance = %v, want > 0", i, g.XAdvance)
		}
		if g.Cluster != i {
			t.Errorf("glyph %d cluster = %d, want %d", i, g.Cluster, i)
		}
	}

	if got := fs.Shape("", id, 32, DirectionLTR); got != nil {
		t.Errorf("Shape(\"\") = %d glyphs, want none", len(got))
	}
	if got := fs.Shape("x", 99, 32, DirectionLTR); got != nil {
		t.Errorf("Shape with unknown font = %d glyphs, want none", len(got))
	}
}

func TestFontSystemBreaks(t *testing.T) {
	fs, _ := newTestFontSystem(t)

	breaks := fs.Breaks("hello world")
	if len(breaks) != 2 {
		t.Fatalf("breaks = %v, want 2 opportunities", breaks)
	}
	if breaks[0].Offset != 6 || breaks[0].Mandatory {
		t.Errorf("first break = %+v, want offset 6, not mandatory", breaks[0])
	}
	if breaks[1].Offset != 11 {
		t.Errorf("final break offset = %d, want 11 (len of text)", breaks[1].Offset)
	}

	breaks = fs.Breaks("a\nb")
	if len(breaks) != 2 {
		t.Fatalf("breaks for %q = %v, want 2", "a\nb", breaks)
	}
	if breaks[0].Offset != 2 || !breaks[0].Mandatory {
		t.Errorf("newline break = %+v, want offset 2, mandatory", breaks[0])
	}

	if got := fs.Breaks(""); got != nil {
		t.Errorf("Breaks(\"\") = %v, want none", got)
	}
}

func TestFontSystemGraphemes(t *testing.T) {
	fs, _ := newTestFontSystem(t)

	if got := fs.Graphemes("ab"); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Graphemes(\"ab\") = %v, want [0 1]", got)
	}

	// A combining accent joins its base into one grapheme cluster.
	if got := fs.Graphemes("éx"); len(got) != 2 || got[0] != 0 {
		t.Errorf("Graphemes(e+combining acute+x) = %v, want 2 clusters starting at 0", got)
	}
}

func TestFontSystemClosed(t *testing.T) {
	fs := NewFontSystem()
	id, err := fs.AddFontData(goregular.TTF)
	if err != nil {
		t.Fatalf("AddFontData error: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if _, err := fs.AddFontData(goregular.TTF); !errors.Is(err, ErrClosed) {
		t.Errorf("AddFontData after Close error = %v, want ErrClosed", err)
	}
	if _, err := fs.Rasterize(id, 'A', 32); !errors.Is(err, ErrClosed) {
		t.Errorf("Rasterize after Close error = %v, want ErrClosed", err)
	}
	if got := fs.Shape("x", id, 32, DirectionLTR); got != nil {
		t.Errorf("Shape after Close = %d glyphs, want none", len(got))
	}
	// Closing twice is safe.
	if err := fs.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestBidiLevels(t *testing.T) {
	levels := bidiLevels("abc", DirectionLTR)
	for i, l := range levels {
		if l%2 != 0 {
			t.Errorf("rune %d level = %d, want even (LTR)", i, l)
		}
	}

	// Hebrew runs resolve to odd levels.
	levels = bidiLevels("אבג", DirectionLTR)
	if len(levels) != 3 {
		t.Fatalf("levels = %d entries, want 3", len(levels))
	}
	for i, l := range levels {
		if l%2 != 1 {
			t.Errorf("hebrew rune %d level = %d, want odd (RTL)", i, l)
		}
	}
	if runDirection(levels, 0) != DirectionRTL {
		t.Error("runDirection for hebrew = LTR, want RTL")
	}
}
