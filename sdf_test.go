package glyphatlas

import (
	"image"
	"testing"
)

func solidAlpha(w, h int) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = 0xff
	}
	return m
}

func TestGenerateSDFOuterDimensions(t *testing.T) {
	out := GenerateSDF(solidAlpha(4, 6), FlagSDFOuter)
	wantW, wantH := 4+2*SDFSpread, 6+2*SDFSpread
	if out.Rect.Dx() != wantW || out.Rect.Dy() != wantH {
		t.Errorf("outer field size = %dx%d, want %dx%d",
			out.Rect.Dx(), out.Rect.Dy(), wantW, wantH)
	}
}

func TestGenerateSDFOuterValues(t *testing.T) {
	out := GenerateSDF(solidAlpha(4, 4), FlagSDFOuter)

	// Covered pixels saturate.
	center := out.Pix[(SDFSpread+2)*out.Stride+SDFSpread+2]
	if center != 255 {
		t.Errorf("covered pixel = %d, want 255", center)
	}

	// The falloff is monotonic moving away from the glyph.
	y := (SDFSpread + 2) * out.Stride
	prev := out.Pix[y+SDFSpread]
	for x := SDFSpread - 1; x >= 0; x-- {
		cur := out.Pix[y+x]
		if cur > prev {
			t.Fatalf("field not monotonic at x=%d: %d > %d", x, cur, prev)
		}
		prev = cur
	}

	// The far corner is past the spread radius.
	if corner := out.Pix[0]; corner != 0 {
		t.Errorf("far corner = %d, want 0", corner)
	}
}

func TestGenerateSDFInner(t *testing.T) {
	src := solidAlpha(12, 12)
	out := GenerateSDF(src, FlagSDFInner)

	if out.Rect.Dx() != 12 || out.Rect.Dy() != 12 {
		t.Fatalf("inner field size = %dx%d, want 12x12", out.Rect.Dx(), out.Rect.Dy())
	}
	edge := out.Pix[0]
	center := out.Pix[6*out.Stride+6]
	if center <= edge {
		t.Errorf("center %d not deeper than edge %d", center, edge)
	}
}

func TestGenerateSDFInnerBackgroundZero(t *testing.T) {
	src := image.NewAlpha(image.Rect(0, 0, 8, 8))
	// One covered pixel in the middle.
	src.Pix[4*src.Stride+4] = 0xff

	out := GenerateSDF(src, FlagSDFInner)
	for i, v := range out.Pix {
		x, y := i%out.Stride, i/out.Stride
		if x == 4 && y == 4 {
			continue
		}
		if v != 0 {
			t.Fatalf("background pixel (%d,%d) = %d, want 0", x, y, v)
		}
	}
}
