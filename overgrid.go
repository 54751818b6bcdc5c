package overgrid

// Point is a 2D position in overlay pixel space.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned rectangle. The coordinate system has its origin at
// the top-left, with Y increasing downward.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether the point (x, y) lies inside the rectangle.
// Points on the edge are considered inside.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width &&
		y >= r.Y && y <= r.Y+r.Height
}

// Intersects reports whether r and other overlap.
// Adjacent rectangles (sharing only an edge) are considered intersecting.
func (r Rect) Intersects(other Rect) bool {
	return r.X <= other.X+other.Width &&
		r.X+r.Width >= other.X &&
		r.Y <= other.Y+other.Height &&
		r.Y+r.Height >= other.Y
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// ObjectKind distinguishes how a DrawingObject is painted.
type ObjectKind uint8

const (
	KindUnknown ObjectKind = iota // unrecognized object; always painted as a placeholder
	KindImage                     // bitmap painted from the decode cache
	KindShape                     // vector shape with optional parsed text
	KindChart                     // delegated to the injected ChartRenderer
)

// String returns the lower-case name of the kind, used in placeholder labels.
func (k ObjectKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindShape:
		return "shape"
	case KindChart:
		return "chart"
	default:
		return "object"
	}
}

// ObjectTransform is an optional rotation/flip applied to an object within
// its anchored rectangle. The zero value is the identity.
type ObjectTransform struct {
	// Rotation is clockwise, in radians, about the rectangle center.
	Rotation float64
	FlipH    bool
	FlipV    bool
}

// DrawingObject describes one floating object on the sheet. Objects are
// consumed read-only per render pass; the overlay never mutates them.
type DrawingObject struct {
	ID     string
	Kind   ObjectKind
	Anchor Anchor
	// ZOrder is the paint order; higher values paint on top.
	ZOrder int
	// ImageID keys into the ImageStore and the bitmap cache. Image kind only.
	ImageID string
	// ChartID is passed to the ChartRenderer. Chart kind only.
	ChartID string
	// ShapeXML is the raw shape markup handed to the ShapeTextParser.
	// Shape kind only.
	ShapeXML  string
	Transform ObjectTransform
}

// Viewport describes the visible window onto the sheet for one render pass.
type Viewport struct {
	// ScrollX and ScrollY are the sheet-pixel offsets of the scrollable pane.
	ScrollX, ScrollY float64
	// Width and Height are the logical (CSS-pixel) canvas dimensions.
	Width, Height float64
	// DPR is the device pixel ratio. Zero defaults to 1.
	DPR float64

	// Frozen panes. Objects anchored inside the frozen region do not scroll.
	FrozenRows, FrozenCols        int
	FrozenWidthPx, FrozenHeightPx float64
	HeaderOffsetX, HeaderOffsetY  float64
}

// ImageEntry is an immutable image payload. Identity for cache purposes is
// ID, not byte equality: replacing Bytes under the same ID requires an
// explicit BitmapCache.Invalidate.
type ImageEntry struct {
	ID       string
	Bytes    []byte
	MimeType string
}

// ImageStore is the synchronous store of record for image bytes. GetAsync is
// an optional hydration path for out-of-process storage; implementations
// without one return ok=false from AsyncCapable.
type ImageStore interface {
	Get(id string) (ImageEntry, bool)
	Set(entry ImageEntry)
}

// AsyncImageStore is implemented by stores that can hydrate entries that
// Get misses, e.g. from out-of-process storage.
type AsyncImageStore interface {
	ImageStore
	// GetAsync resolves the entry for id, or ok=false if it does not exist.
	// Implementations may block; the overlay calls it off the render path.
	GetAsync(id string) (ImageEntry, bool)
}

// ChartRenderer paints chart objects. A panic or error from RenderChart is
// isolated per-object: the overlay falls back to a placeholder.
type ChartRenderer interface {
	// RenderChart paints the chart with the given id into rect on the canvas.
	RenderChart(canvas *Canvas, chartID string, rect Rect) error
	// Destroy releases renderer-held resources. Called from Overlay.Destroy.
	Destroy()
}

// ShapeTextParser extracts displayable text from shape markup. Parsing is
// format-specific and lives outside this package; results are cached per
// object id by the overlay.
type ShapeTextParser interface {
	ParseShapeText(shapeXML string) (string, error)
}

// CellRef identifies a grid cell by zero-based column and row.
type CellRef struct {
	Col, Row int
}

// GridGeometry maps grid cells to sheet pixels. Pure coordinate mapping;
// implementations belong to the grid, not to this package.
type GridGeometry interface {
	// CellOriginPx returns the sheet-pixel position of the cell's top-left corner.
	CellOriginPx(cell CellRef) Point
	// CellSizePx returns the cell's size in sheet pixels.
	CellSizePx(cell CellRef) (width, height float64)
}
