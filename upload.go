package glyphatlas

import "image"

// Uploader is the GPU upload sink drained by Manager.StartRenderPass. For
// every dirty atlas region it receives the owning slice's full pixel
// buffer plus the changed rectangle; implementations upload at least that
// rectangle.
//
// pix is laid out row-major with the given stride in bytes and
// bytesPerPixel bytes per pixel (1 for alpha slices, 4 for color slices).
// The color flag distinguishes the color cache's slice numbering from the
// alpha cache's.
type Uploader interface {
	UploadRegion(slice int, color bool, rect image.Rectangle, pix []byte, stride, bytesPerPixel int) error
}
