package overgrid

import (
	"context"
	"image"

	"github.com/hajimehoshi/ebiten/v2"
)

// Bitmap is a decoded image: an explicitly-releasable GPU/CPU resource.
// Exactly one logical owner releases it; while a bitmap is retained by the
// cache, the cache is that owner and closes it exactly once.
type Bitmap interface {
	// Size returns the pixel dimensions.
	Size() (width, height int)
	// Close releases the underlying resource. Close is idempotent.
	Close()
}

// ImageBitmap is the ebiten-backed Bitmap used by the default decode
// primitive. The zero value is not usable; construct with NewImageBitmap.
type ImageBitmap struct {
	img *ebiten.Image
}

// NewImageBitmap wraps an ebiten image as a Bitmap. The bitmap takes
// ownership: Close deallocates the image.
func NewImageBitmap(img *ebiten.Image) *ImageBitmap {
	return &ImageBitmap{img: img}
}

// Image returns the underlying ebiten image, or nil after Close.
func (b *ImageBitmap) Image() *ebiten.Image {
	return b.img
}

// Size returns the pixel dimensions, or (0, 0) after Close.
func (b *ImageBitmap) Size() (int, int) {
	if b.img == nil {
		return 0, 0
	}
	bounds := b.img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// Close deallocates the underlying image. Safe to call more than once.
func (b *ImageBitmap) Close() {
	if b.img != nil {
		b.img.Deallocate()
		b.img = nil
	}
}

// DecodeFunc is the decode primitive: compressed bytes to a Bitmap. It must
// honor ctx for early exit; the cache treats a synchronous panic-free error
// return and an asynchronous failure identically.
type DecodeFunc func(ctx context.Context, entry ImageEntry) (Bitmap, error)

// uploadBitmap converts a decoded image.Image into an ebiten-backed Bitmap.
func uploadBitmap(src image.Image) Bitmap {
	return NewImageBitmap(ebiten.NewImageFromImage(src))
}
