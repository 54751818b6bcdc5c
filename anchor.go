package overgrid

import (
	"fmt"
	"math"
)

// EMU (English Metric Units) conversion helpers.
// 1 inch = 914400 EMU; at the canonical 96 DPI, 1 pixel = 9525 EMU.

const (
	emuPerInch  = 914400
	emuPerPixel = 9525
	// maxEMU is the maximum safe EMU value to prevent overflow.
	maxEMU = math.MaxInt64 / 2
)

// EMUToPx converts EMU to sheet pixels at 96 DPI.
func EMUToPx(emu int64) float64 {
	return float64(emu) / emuPerPixel
}

// PxToEMU converts sheet pixels to EMU at 96 DPI. Clamps to safe range.
func PxToEMU(px float64) int64 {
	v := px * emuPerPixel
	if v > float64(maxEMU) {
		return maxEMU
	}
	if v < -float64(maxEMU) {
		return -maxEMU
	}
	return int64(v)
}

// AnchorType selects which anchoring rule positions a drawing object.
type AnchorType uint8

const (
	// AnchorAbsolute positions the object at a fixed sheet offset,
	// independent of any cell. Position and extent are in EMU.
	AnchorAbsolute AnchorType = iota
	// AnchorOneCell pins the object's top-left corner to a cell (plus an EMU
	// offset inside it); the extent is fixed, so the object moves with its
	// cell but does not resize with columns/rows.
	AnchorOneCell
	// AnchorTwoCell pins both corners to cells, so the object stretches when
	// the covered columns/rows resize.
	AnchorTwoCell
)

// AnchorCorner pins one corner of an object to a grid cell with an EMU
// offset from the cell's top-left.
type AnchorCorner struct {
	Cell       CellRef
	OffsetXEMU int64
	OffsetYEMU int64
}

// Anchor is the tagged union of the three anchoring rules. Which fields are
// meaningful depends on Type:
//
//	AnchorAbsolute: PosXEMU, PosYEMU, ExtentWEMU, ExtentHEMU
//	AnchorOneCell:  From, ExtentWEMU, ExtentHEMU
//	AnchorTwoCell:  From, To
type Anchor struct {
	Type AnchorType

	From AnchorCorner
	To   AnchorCorner

	PosXEMU, PosYEMU       int64
	ExtentWEMU, ExtentHEMU int64
}

// AbsoluteAnchor returns an anchor at a fixed sheet position with a fixed extent.
func AbsoluteAnchor(xEMU, yEMU, wEMU, hEMU int64) Anchor {
	return Anchor{Type: AnchorAbsolute, PosXEMU: xEMU, PosYEMU: yEMU, ExtentWEMU: wEMU, ExtentHEMU: hEMU}
}

// OneCellAnchor returns an anchor pinned to a single cell with a fixed extent.
func OneCellAnchor(from AnchorCorner, wEMU, hEMU int64) Anchor {
	return Anchor{Type: AnchorOneCell, From: from, ExtentWEMU: wEMU, ExtentHEMU: hEMU}
}

// TwoCellAnchor returns an anchor pinned to two cells.
func TwoCellAnchor(from, to AnchorCorner) Anchor {
	return Anchor{Type: AnchorTwoCell, From: from, To: to}
}

// cornerPx resolves an anchored corner to sheet pixels.
func cornerPx(c AnchorCorner, geom GridGeometry) Point {
	origin := geom.CellOriginPx(c.Cell)
	return Point{
		X: origin.X + EMUToPx(c.OffsetXEMU),
		Y: origin.Y + EMUToPx(c.OffsetYEMU),
	}
}

// ResolveRect converts an anchor to a sheet-pixel rectangle using the given
// grid geometry. The switch is exhaustive over the known anchor types; an
// unknown tag is a programmer error and is reported, not guessed at.
func ResolveRect(a Anchor, geom GridGeometry) (Rect, error) {
	switch a.Type {
	case AnchorAbsolute:
		return Rect{
			X:      EMUToPx(a.PosXEMU),
			Y:      EMUToPx(a.PosYEMU),
			Width:  EMUToPx(a.ExtentWEMU),
			Height: EMUToPx(a.ExtentHEMU),
		}, nil
	case AnchorOneCell:
		tl := cornerPx(a.From, geom)
		return Rect{
			X:      tl.X,
			Y:      tl.Y,
			Width:  EMUToPx(a.ExtentWEMU),
			Height: EMUToPx(a.ExtentHEMU),
		}, nil
	case AnchorTwoCell:
		tl := cornerPx(a.From, geom)
		br := cornerPx(a.To, geom)
		// A collapsed or inverted two-cell anchor normalizes to a
		// zero-size rect at the from corner rather than a negative extent.
		w := br.X - tl.X
		h := br.Y - tl.Y
		if w < 0 {
			w = 0
		}
		if h < 0 {
			h = 0
		}
		return Rect{X: tl.X, Y: tl.Y, Width: w, Height: h}, nil
	default:
		return Rect{}, fmt.Errorf("overgrid: unknown anchor type %d", a.Type)
	}
}
