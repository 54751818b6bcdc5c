package overgrid

import (
	"image/color"

	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// Placeholder styling. A placeholder replaces any object whose real content
// (bitmap, chart, text) is not yet available or failed to resolve; selection
// and resize handles remain interactive over it, so it must be visible but
// unobtrusive.
var (
	placeholderFill   = color.RGBA{R: 0xF5, G: 0xF5, B: 0xF5, A: 0xB0}
	placeholderBorder = color.RGBA{R: 0x9E, G: 0x9E, B: 0x9E, A: 0xFF}
)

const (
	placeholderBorderPx = 1.0
	placeholderDashPx   = 4.0
)

// drawPlaceholder paints the dashed-border fallback with a kind label
// ("image", "shape", "chart", "object") when the rect is tall enough to
// hold one.
func drawPlaceholder(c *Canvas, rect Rect, kind ObjectKind) {
	if c.Image() == nil || rect.Empty() {
		return
	}
	c.FillRect(rect, placeholderFill)
	c.DashedRect(rect, placeholderBorder, placeholderBorderPx, placeholderDashPx)

	// DebugPrintAt works in device pixels and draws 16px-tall glyph rows.
	if rect.Height*c.DPR() >= 16 && rect.Width*c.DPR() >= 48 {
		x := int((rect.X + 4) * c.DPR())
		y := int((rect.Y + 4) * c.DPR())
		ebitenutil.DebugPrintAt(c.Image(), kind.String(), x, y)
	}
}
