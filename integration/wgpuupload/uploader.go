// Package wgpuupload connects a glyphatlas Manager to a wgpu device: it
// owns one GPU texture per atlas slice and uploads dirty regions through
// the queue.
//
// Alpha slices map to R8Unorm textures, color slices to RGBA8Unorm.
// Textures are created lazily the first time their slice reports a dirty
// region and are sized to the atlas slice, so the bind surface stays
// stable while the cache evicts and repacks rows.
package wgpuupload

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/glyphatlas"
)

// Uploader implements glyphatlas.Uploader over a wgpu hal device and
// queue.
type Uploader struct {
	device hal.Device
	queue  hal.Queue

	width, height int

	alpha []hal.Texture
	color []hal.Texture

	// scratch holds tightly repacked rect pixels between uploads.
	scratch []byte
}

// New creates an uploader for atlas slices of the given pixel dimensions,
// matching glyphatlas.CacheConfig.SliceWidth and SliceHeight after
// normalization.
func New(device hal.Device, queue hal.Queue, sliceWidth, sliceHeight int) *Uploader {
	return &Uploader{
		device: device,
		queue:  queue,
		width:  sliceWidth,
		height: sliceHeight,
	}
}

// Texture returns the GPU texture backing one slice, or nil if the slice
// has not received an upload yet. Consumers bind it when drawing the
// matching glyphatlas.IndexGroup.
func (u *Uploader) Texture(slice int, color bool) hal.Texture {
	set := u.alpha
	if color {
		set = u.color
	}
	if slice < 0 || slice >= len(set) {
		return nil
	}
	return set[slice]
}

// UploadRegion implements glyphatlas.Uploader. The dirty rect's rows are
// repacked tightly and written to the slice texture with a sub-image copy.
func (u *Uploader) UploadRegion(slice int, color bool, rect image.Rectangle, pix []byte, stride, bytesPerPixel int) error {
	tex, err := u.texture(slice, color)
	if err != nil {
		return err
	}

	rect = rect.Intersect(image.Rect(0, 0, u.width, u.height))
	if rect.Empty() {
		return nil
	}

	w, h := rect.Dx(), rect.Dy()
	rowBytes := w * bytesPerPixel
	if need := rowBytes * h; cap(u.scratch) < need {
		u.scratch = make([]byte, need)
	}
	data := u.scratch[:rowBytes*h]
	for y := 0; y < h; y++ {
		src := (rect.Min.Y+y)*stride + rect.Min.X*bytesPerPixel
		copy(data[y*rowBytes:(y+1)*rowBytes], pix[src:src+rowBytes])
	}

	u.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(rect.Min.X), Y: uint32(rect.Min.Y)},
			Aspect:   gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(rowBytes),
			RowsPerImage: uint32(h),
		},
		&hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
	)
	return nil
}

// texture returns the slice's texture, creating it on first use.
func (u *Uploader) texture(slice int, color bool) (hal.Texture, error) {
	set := &u.alpha
	format := gputypes.TextureFormatR8Unorm
	name := "glyph_atlas_alpha"
	if color {
		set = &u.color
		format = gputypes.TextureFormatRGBA8Unorm
		name = "glyph_atlas_color"
	}

	for len(*set) <= slice {
		*set = append(*set, nil)
	}
	if (*set)[slice] != nil {
		return (*set)[slice], nil
	}

	tex, err := u.device.CreateTexture(&hal.TextureDescriptor{
		Label:         fmt.Sprintf("%s_%d", name, slice),
		Size:          hal.Extent3D{Width: uint32(u.width), Height: uint32(u.height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpuupload: creating slice texture %d: %w", slice, err)
	}
	(*set)[slice] = tex
	return tex, nil
}

// Destroy releases every slice texture.
func (u *Uploader) Destroy() {
	for _, t := range u.alpha {
		if t != nil {
			u.device.DestroyTexture(t)
		}
	}
	for _, t := range u.color {
		if t != nil {
			u.device.DestroyTexture(t)
		}
	}
	u.alpha = nil
	u.color = nil
}

var _ glyphatlas.Uploader = (*Uploader)(nil)
