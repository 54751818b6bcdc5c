package overgrid

import (
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
)

// whitePixel is a 1x1 white image used for solid fills and line segments.
var whitePixel *ebiten.Image

func init() {
	whitePixel = ebiten.NewImage(1, 1)
	whitePixel.Fill(color.White)
}

// Canvas is the overlay's backing store: an offscreen image sized to the
// viewport's device pixels. Draw methods take logical (CSS-pixel)
// coordinates; the device-pixel-ratio scale is applied internally.
//
// The backing image is only reallocated when the logical size or DPR
// actually changes, so per-frame rendering never reallocates GPU buffers.
type Canvas struct {
	image              *ebiten.Image
	deviceW, deviceH   int
	logicalW, logicalH float64
	dpr                float64
}

// ensure sizes the backing image for vp, reallocating only on change.
// Returns true if the backing store was (re)created.
func (c *Canvas) ensure(vp Viewport) bool {
	dpr := vp.DPR
	if dpr <= 0 {
		dpr = 1
	}
	if c.image != nil && c.logicalW == vp.Width && c.logicalH == vp.Height && c.dpr == dpr {
		return false
	}
	w := int(math.Ceil(vp.Width * dpr))
	h := int(math.Ceil(vp.Height * dpr))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if c.image != nil {
		c.image.Deallocate()
	}
	c.image = ebiten.NewImage(w, h)
	c.deviceW, c.deviceH = w, h
	c.logicalW, c.logicalH = vp.Width, vp.Height
	c.dpr = dpr
	return true
}

// Image returns the backing ebiten image, or nil before the first render.
func (c *Canvas) Image() *ebiten.Image {
	return c.image
}

// Size returns the backing store size in device pixels.
func (c *Canvas) Size() (int, int) {
	return c.deviceW, c.deviceH
}

// DPR returns the device pixel ratio the canvas was last sized for.
func (c *Canvas) DPR() float64 {
	if c.dpr == 0 {
		return 1
	}
	return c.dpr
}

// Clear fills the canvas with transparent black.
func (c *Canvas) Clear() {
	if c.image != nil {
		c.image.Clear()
	}
}

// Dispose deallocates the backing image. The canvas can be reused; the next
// ensure call recreates the backing store.
func (c *Canvas) Dispose() {
	if c.image != nil {
		c.image.Deallocate()
		c.image = nil
	}
}

// FillRect fills rect with col.
func (c *Canvas) FillRect(rect Rect, col color.RGBA) {
	if c.image == nil || rect.Empty() {
		return
	}
	var op ebiten.DrawImageOptions
	op.GeoM.Scale(rect.Width*c.dpr, rect.Height*c.dpr)
	op.GeoM.Translate(rect.X*c.dpr, rect.Y*c.dpr)
	op.ColorScale.ScaleWithColor(col)
	c.image.DrawImage(whitePixel, &op)
}

// StrokeRect outlines rect with a solid border of the given logical thickness.
func (c *Canvas) StrokeRect(rect Rect, col color.RGBA, thickness float64) {
	if rect.Empty() {
		return
	}
	t := thickness
	c.FillRect(Rect{rect.X, rect.Y, rect.Width, t}, col)
	c.FillRect(Rect{rect.X, rect.Y + rect.Height - t, rect.Width, t}, col)
	c.FillRect(Rect{rect.X, rect.Y + t, t, rect.Height - 2*t}, col)
	c.FillRect(Rect{rect.X + rect.Width - t, rect.Y + t, t, rect.Height - 2*t}, col)
}

// DashedRect outlines rect with dash-length segments separated by equal gaps.
func (c *Canvas) DashedRect(rect Rect, col color.RGBA, thickness, dash float64) {
	if rect.Empty() || dash <= 0 {
		return
	}
	c.dashedHLine(rect.X, rect.X+rect.Width, rect.Y, col, thickness, dash)
	c.dashedHLine(rect.X, rect.X+rect.Width, rect.Y+rect.Height-thickness, col, thickness, dash)
	c.dashedVLine(rect.Y, rect.Y+rect.Height, rect.X, col, thickness, dash)
	c.dashedVLine(rect.Y, rect.Y+rect.Height, rect.X+rect.Width-thickness, col, thickness, dash)
}

func (c *Canvas) dashedHLine(x0, x1, y float64, col color.RGBA, thickness, dash float64) {
	for x := x0; x < x1; x += dash * 2 {
		end := x + dash
		if end > x1 {
			end = x1
		}
		c.FillRect(Rect{x, y, end - x, thickness}, col)
	}
}

func (c *Canvas) dashedVLine(y0, y1, x float64, col color.RGBA, thickness, dash float64) {
	for y := y0; y < y1; y += dash * 2 {
		end := y + dash
		if end > y1 {
			end = y1
		}
		c.FillRect(Rect{x, y, thickness, end - y}, col)
	}
}

// DrawBitmap paints an ebiten image scaled into rect, applying the object
// transform (rotation about the rect center, flips) if non-identity.
func (c *Canvas) DrawBitmap(img *ebiten.Image, rect Rect, t ObjectTransform) {
	if c.image == nil || img == nil || rect.Empty() {
		return
	}
	bounds := img.Bounds()
	srcW, srcH := float64(bounds.Dx()), float64(bounds.Dy())
	if srcW == 0 || srcH == 0 {
		return
	}

	var op ebiten.DrawImageOptions
	sx := rect.Width / srcW
	sy := rect.Height / srcH
	if t.FlipH {
		sx = -sx
	}
	if t.FlipV {
		sy = -sy
	}
	// Scale and rotate about the rect center, then place.
	op.GeoM.Translate(-srcW/2, -srcH/2)
	op.GeoM.Scale(sx, sy)
	if t.Rotation != 0 {
		op.GeoM.Rotate(t.Rotation)
	}
	op.GeoM.Translate(rect.X+rect.Width/2, rect.Y+rect.Height/2)
	op.GeoM.Scale(c.dpr, c.dpr)
	op.Filter = ebiten.FilterLinear
	c.image.DrawImage(img, &op)
}
