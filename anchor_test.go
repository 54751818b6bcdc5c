package overgrid

import (
	"math"
	"testing"
)

// uniformGrid is a GridGeometry with fixed-size cells.
type uniformGrid struct {
	cellW, cellH float64
}

func (g uniformGrid) CellOriginPx(cell CellRef) Point {
	return Point{X: float64(cell.Col) * g.cellW, Y: float64(cell.Row) * g.cellH}
}

func (g uniformGrid) CellSizePx(cell CellRef) (float64, float64) {
	return g.cellW, g.cellH
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func assertRect(t *testing.T, got Rect, x, y, w, h float64) {
	t.Helper()
	if !almostEqual(got.X, x) || !almostEqual(got.Y, y) ||
		!almostEqual(got.Width, w) || !almostEqual(got.Height, h) {
		t.Errorf("rect = (%g, %g, %g, %g), want (%g, %g, %g, %g)",
			got.X, got.Y, got.Width, got.Height, x, y, w, h)
	}
}

func TestEMUToPx_RoundTrip(t *testing.T) {
	if got := EMUToPx(emuPerPixel); got != 1 {
		t.Errorf("EMUToPx(%d) = %g, want 1", int64(emuPerPixel), got)
	}
	if got := EMUToPx(emuPerInch); got != 96 {
		t.Errorf("EMUToPx(one inch) = %g, want 96", got)
	}
	if got := PxToEMU(96); got != emuPerInch {
		t.Errorf("PxToEMU(96) = %d, want %d", got, int64(emuPerInch))
	}
	if got := PxToEMU(EMUToPx(123456789)); got != 123456789 {
		t.Errorf("round trip = %d, want 123456789", got)
	}
}

func TestPxToEMU_ClampsOverflow(t *testing.T) {
	if got := PxToEMU(math.MaxFloat64); got != maxEMU {
		t.Errorf("PxToEMU(huge) = %d, want clamp to %d", got, int64(maxEMU))
	}
	if got := PxToEMU(-math.MaxFloat64); got != -maxEMU {
		t.Errorf("PxToEMU(-huge) = %d, want clamp to %d", got, int64(-maxEMU))
	}
}

func TestResolveRect_Absolute(t *testing.T) {
	a := AbsoluteAnchor(PxToEMU(10), PxToEMU(20), PxToEMU(100), PxToEMU(50))
	rect, err := ResolveRect(a, uniformGrid{100, 25})
	if err != nil {
		t.Fatalf("ResolveRect: %v", err)
	}
	assertRect(t, rect, 10, 20, 100, 50)
}

func TestResolveRect_OneCell(t *testing.T) {
	a := OneCellAnchor(AnchorCorner{
		Cell:       CellRef{Col: 2, Row: 4},
		OffsetXEMU: PxToEMU(5),
		OffsetYEMU: PxToEMU(10),
	}, PxToEMU(80), PxToEMU(40))
	rect, err := ResolveRect(a, uniformGrid{100, 25})
	if err != nil {
		t.Fatalf("ResolveRect: %v", err)
	}
	assertRect(t, rect, 205, 110, 80, 40)
}

func TestResolveRect_TwoCell(t *testing.T) {
	a := TwoCellAnchor(
		AnchorCorner{Cell: CellRef{Col: 1, Row: 1}},
		AnchorCorner{Cell: CellRef{Col: 3, Row: 5}, OffsetXEMU: PxToEMU(50)},
	)
	rect, err := ResolveRect(a, uniformGrid{100, 25})
	if err != nil {
		t.Fatalf("ResolveRect: %v", err)
	}
	assertRect(t, rect, 100, 25, 250, 100)
}

func TestResolveRect_TwoCell_InvertedCollapsesToZero(t *testing.T) {
	// A to-corner left of or above the from-corner yields a zero extent at
	// the from corner, not a negative one.
	a := TwoCellAnchor(
		AnchorCorner{Cell: CellRef{Col: 4, Row: 4}},
		AnchorCorner{Cell: CellRef{Col: 1, Row: 1}},
	)
	rect, err := ResolveRect(a, uniformGrid{100, 25})
	if err != nil {
		t.Fatalf("ResolveRect: %v", err)
	}
	assertRect(t, rect, 400, 100, 0, 0)
	if !rect.Empty() {
		t.Error("collapsed rect not reported as empty")
	}
}

func TestResolveRect_UnknownType(t *testing.T) {
	if _, err := ResolveRect(Anchor{Type: AnchorType(99)}, uniformGrid{100, 25}); err == nil {
		t.Fatal("expected error for unknown anchor type")
	}
}

func TestRect_Contains(t *testing.T) {
	r := Rect{X: 10, Y: 10, Width: 20, Height: 20}
	for _, tc := range []struct {
		x, y float64
		want bool
	}{
		{15, 15, true},
		{10, 10, true}, // edges inclusive
		{30, 30, true},
		{9, 15, false},
		{15, 31, false},
	} {
		if got := r.Contains(tc.x, tc.y); got != tc.want {
			t.Errorf("Contains(%g, %g) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestRect_Intersects(t *testing.T) {
	r := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	if !r.Intersects(Rect{X: 5, Y: 5, Width: 10, Height: 10}) {
		t.Error("overlapping rects reported disjoint")
	}
	if !r.Intersects(Rect{X: 10, Y: 0, Width: 5, Height: 5}) {
		t.Error("edge-adjacent rects reported disjoint")
	}
	if r.Intersects(Rect{X: 11, Y: 11, Width: 5, Height: 5}) {
		t.Error("disjoint rects reported intersecting")
	}
}
