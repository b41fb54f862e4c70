package glyphatlas

import "image"

// SDFSpread is the distance field falloff radius in pixels. Distances are
// encoded into the alpha channel over this range, so glyphs rendered from
// an SDF mask can be scaled or outlined by up to SDFSpread pixels before
// the field saturates.
const SDFSpread = 8

// Chamfer weights approximating Euclidean distance on the pixel grid:
// 3 for orthogonal steps, 4 for diagonal steps (the 3-4 chamfer metric,
// accurate to within about 6%).
const (
	chamferOrtho = 3
	chamferDiag  = 4
)

// GenerateSDF converts a binary coverage mask into a distance field mask.
//
// With FlagSDFOuter the result encodes the distance from each outside
// pixel to the glyph outline: 255 on the glyph, falling to 0 at SDFSpread
// pixels out. The result is padded by SDFSpread on every side so the
// falloff has room; callers must shift the glyph offset by -SDFSpread.
//
// With FlagSDFInner the result encodes the distance from each inside pixel
// to the outline: 0 at the edge rising to 255 at SDFSpread pixels deep.
// The result has the same dimensions as the input.
func GenerateSDF(mask *image.Alpha, flags GlyphFlags) *image.Alpha {
	if flags&FlagSDFInner != 0 {
		return innerDistanceField(mask)
	}
	return outerDistanceField(mask)
}

// outerDistanceField computes the chamfer distance from every background
// pixel to the nearest covered pixel, over a SDFSpread-padded canvas.
func outerDistanceField(mask *image.Alpha) *image.Alpha {
	srcW, srcH := mask.Rect.Dx(), mask.Rect.Dy()
	w := srcW + 2*SDFSpread
	h := srcH + 2*SDFSpread

	// Seed: 0 on covered pixels, "infinity" elsewhere.
	const inf = 1 << 29
	dist := make([]int32, w*h)
	for i := range dist {
		dist[i] = inf
	}
	for y := 0; y < srcH; y++ {
		row := mask.Pix[y*mask.Stride:]
		for x := 0; x < srcW; x++ {
			if row[x] >= 128 {
				dist[(y+SDFSpread)*w+x+SDFSpread] = 0
			}
		}
	}

	chamferPass(dist, w, h)

	out := image.NewAlpha(image.Rect(0, 0, w, h))
	maxDist := int32(SDFSpread * chamferOrtho)
	for i, d := range dist {
		if d >= maxDist {
			continue
		}
		out.Pix[i] = uint8(255 - d*255/maxDist)
	}
	return out
}

// innerDistanceField computes the chamfer distance from every covered
// pixel to the nearest background pixel. The canvas border counts as
// background, which keeps strokes thinner than the mask bounds well
// defined.
func innerDistanceField(mask *image.Alpha) *image.Alpha {
	w, h := mask.Rect.Dx(), mask.Rect.Dy()

	const inf = 1 << 29
	dist := make([]int32, w*h)
	for y := 0; y < h; y++ {
		row := mask.Pix[y*mask.Stride:]
		for x := 0; x < w; x++ {
			if row[x] < 128 {
				dist[y*w+x] = 0
			} else if x == 0 || y == 0 || x == w-1 || y == h-1 {
				// Border pixels are one step from the implicit
				// background outside the canvas.
				dist[y*w+x] = chamferOrtho
			} else {
				dist[y*w+x] = inf
			}
		}
	}

	chamferPass(dist, w, h)

	out := image.NewAlpha(image.Rect(0, 0, w, h))
	maxDist := int32(SDFSpread * chamferOrtho)
	for i, d := range dist {
		if mask.Pix[(i/w)*mask.Stride+i%w] < 128 {
			continue
		}
		if d > maxDist {
			d = maxDist
		}
		out.Pix[i] = uint8(d * 255 / maxDist)
	}
	return out
}

// chamferPass propagates seeded distances across the grid with the
// classic two-pass 3-4 chamfer transform: a forward raster scan pulling
// from the upper-left neighbors, then a backward scan pulling from the
// lower-right ones.
func chamferPass(dist []int32, w, h int) {
	relax := func(i int, candidate int32) {
		if candidate < dist[i] {
			dist[i] = candidate
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if x > 0 {
				relax(i, dist[i-1]+chamferOrtho)
			}
			if y > 0 {
				relax(i, dist[i-w]+chamferOrtho)
				if x > 0 {
					relax(i, dist[i-w-1]+chamferDiag)
				}
				if x < w-1 {
					relax(i, dist[i-w+1]+chamferDiag)
				}
			}
		}
	}
	for y := h - 1; y >= 0; y-- {
		for x := w - 1; x >= 0; x-- {
			i := y*w + x
			if x < w-1 {
				relax(i, dist[i+1]+chamferOrtho)
			}
			if y < h-1 {
				relax(i, dist[i+w]+chamferOrtho)
				if x < w-1 {
					relax(i, dist[i+w+1]+chamferDiag)
				}
				if x > 0 {
					relax(i, dist[i+w-1]+chamferDiag)
				}
			}
		}
	}
}
