package overgrid

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// Shape body styling. Real shape geometry/fill parsing is format-specific
// and out of scope; shapes paint as a filled, bordered rect plus their
// parsed text.
var (
	shapeFill   = color.RGBA{R: 0xDC, G: 0xE6, B: 0xF1, A: 0xFF}
	shapeBorder = color.RGBA{R: 0x4F, G: 0x81, B: 0xBD, A: 0xFF}
)

// OverlayConfig configures an Overlay. Cache may be shared between overlays;
// a nil Cache gets a private default-configured one.
type OverlayConfig struct {
	Cache    *BitmapCache
	Store    ImageStore
	Geometry GridGeometry
	// Charts paints chart objects. Optional; without it charts render as
	// placeholders.
	Charts ChartRenderer
	// ShapeText parses shape markup into displayable text. Optional.
	ShapeText ShapeTextParser
	// RequestRedraw is invoked, possibly from a decode goroutine, when an
	// asynchronous result needs a repaint. It must be safe to call from any
	// goroutine and should schedule a Render on the game loop.
	RequestRedraw func()
}

// RenderStats summarizes one render pass.
type RenderStats struct {
	// Pass is the render-sequence number assigned to this pass.
	Pass uint64
	// Painted counts objects drawn with their real content.
	Painted int
	// Placeholders counts objects drawn as placeholders.
	Placeholders int
	// Pending counts objects whose async resource was requested this pass.
	Pending int
}

// Overlay paints floating drawing objects for a viewport onto an owned
// canvas. Render never blocks on a decode: missing bitmaps and unparsed
// shape text paint as placeholders while resolution proceeds in the
// background, and a completion only requests a repaint if no newer render
// pass has started since it was captured.
//
// Render, Destroy, and Canvas must be called from the game-loop goroutine.
// HitTest and ObjectRect may be called from anywhere.
type Overlay struct {
	cache         *BitmapCache
	store         ImageStore
	geom          GridGeometry
	charts        ChartRenderer
	parser        ShapeTextParser
	requestRedraw func()

	// seq is the monotonic render-sequence counter. An async continuation
	// whose captured value no longer matches is stale and must discard its
	// result. This guard, not cancellation, is the correctness guarantee.
	seq atomic.Uint64

	canvas Canvas

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the shared per-object caches below. Only the currently
	// newest pass may mutate them from a completion handler.
	mu        sync.Mutex
	shapeText map[string]string
	fetching  map[string]struct{}
	parsing   map[string]struct{}
	// owned holds bitmaps whose ownership fell to the overlay because the
	// cache declined to retain them (caching disabled, or invalidated while
	// in flight). The overlay closes these itself.
	owned     map[string]Bitmap
	index     spatialIndex
	destroyed bool

	visBuf []visibleObject
}

// visibleObject pairs an object with its resolved screen rect for one pass.
type visibleObject struct {
	obj  *DrawingObject
	rect Rect
}

// NewOverlay creates an overlay from cfg.
func NewOverlay(cfg OverlayConfig) *Overlay {
	cache := cfg.Cache
	if cache == nil {
		cache = NewBitmapCache(CacheConfig{})
	}
	redraw := cfg.RequestRedraw
	if redraw == nil {
		redraw = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Overlay{
		cache:         cache,
		store:         cfg.Store,
		geom:          cfg.Geometry,
		charts:        cfg.Charts,
		parser:        cfg.ShapeText,
		requestRedraw: redraw,
		ctx:           ctx,
		cancel:        cancel,
		shapeText:     make(map[string]string),
		fetching:      make(map[string]struct{}),
		parsing:       make(map[string]struct{}),
		owned:         make(map[string]Bitmap),
	}
}

// Canvas returns the overlay's backing image, or nil before the first
// Render. Composite it over the grid each frame.
func (o *Overlay) Canvas() *ebiten.Image {
	return o.canvas.Image()
}

// Cache returns the bitmap cache the overlay paints from.
func (o *Overlay) Cache() *BitmapCache {
	return o.cache
}

// Render paints the objects visible in vp onto the overlay canvas. Objects
// are consumed read-only. Each call starts a new render pass; async
// completions belonging to earlier passes become inert.
//
// A single broken object never fails the pass: decode and chart failures
// degrade to placeholders.
func (o *Overlay) Render(objects []DrawingObject, vp Viewport) RenderStats {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return RenderStats{}
	}
	o.mu.Unlock()

	pass := o.seq.Add(1)
	stats := RenderStats{Pass: pass}

	o.canvas.ensure(vp)
	o.canvas.Clear()

	visible := o.collectVisible(objects, vp)

	o.mu.Lock()
	o.index.reset()
	o.mu.Unlock()

	for i := range visible {
		o.paintObject(pass, &visible[i], &stats)
	}

	// Speculative hydration: start decodes for every image in the pass that
	// is not yet cached, without blocking on any of them. The fetching set
	// dedupes per image id.
	o.prefetch(pass, objects, &stats)

	return stats
}

// collectVisible resolves anchors to screen rects, culls against the
// viewport, and ensures z-order. The input order is reused when it is
// already z-sorted; otherwise the visible slice is stably sorted.
func (o *Overlay) collectVisible(objects []DrawingObject, vp Viewport) []visibleObject {
	view := Rect{X: 0, Y: 0, Width: vp.Width, Height: vp.Height}
	visible := o.visBuf[:0]

	sorted := true
	lastZ := math.MinInt
	for i := range objects {
		obj := &objects[i]
		if obj.ZOrder < lastZ {
			sorted = false
		}
		lastZ = obj.ZOrder

		sheet, err := ResolveRect(obj.Anchor, o.geom)
		if err != nil {
			debugf("object %q: %v", obj.ID, err)
			continue
		}
		screen := screenRect(sheet, vp)
		if screen.Empty() || !rotatedAABB(screen, obj.Transform.Rotation).Intersects(view) {
			continue
		}
		visible = append(visible, visibleObject{obj: obj, rect: screen})
	}
	o.visBuf = visible

	if !sorted {
		sortByZOrder(visible)
	}
	return visible
}

// sortByZOrder stably sorts by ZOrder with insertion sort: optimal for the
// typical case of a short, nearly sorted object list.
func sortByZOrder(objs []visibleObject) {
	for i := 1; i < len(objs); i++ {
		key := objs[i]
		j := i - 1
		for j >= 0 && objs[j].obj.ZOrder > key.obj.ZOrder {
			objs[j+1] = objs[j]
			j--
		}
		objs[j+1] = key
	}
}

// screenRect converts a sheet-pixel rect to viewport coordinates, applying
// scroll except inside frozen panes, plus the header offsets.
func screenRect(sheet Rect, vp Viewport) Rect {
	x := sheet.X + vp.HeaderOffsetX
	y := sheet.Y + vp.HeaderOffsetY
	if !(vp.FrozenCols > 0 && sheet.X < vp.FrozenWidthPx) {
		x -= vp.ScrollX
	}
	if !(vp.FrozenRows > 0 && sheet.Y < vp.FrozenHeightPx) {
		y -= vp.ScrollY
	}
	return Rect{X: x, Y: y, Width: sheet.Width, Height: sheet.Height}
}

// rotatedAABB returns the axis-aligned bounds of r rotated about its center.
func rotatedAABB(r Rect, rotation float64) Rect {
	if rotation == 0 {
		return r
	}
	sin, cos := math.Sincos(rotation)
	if sin < 0 {
		sin = -sin
	}
	if cos < 0 {
		cos = -cos
	}
	w := r.Width*cos + r.Height*sin
	h := r.Width*sin + r.Height*cos
	cx := r.X + r.Width/2
	cy := r.Y + r.Height/2
	return Rect{X: cx - w/2, Y: cy - h/2, Width: w, Height: h}
}

// paintObject draws one visible object and records it in the spatial index.
func (o *Overlay) paintObject(pass uint64, vo *visibleObject, stats *RenderStats) {
	switch vo.obj.Kind {
	case KindImage:
		o.paintImage(pass, vo, stats)
	case KindShape:
		o.paintShape(pass, vo, stats)
	case KindChart:
		o.paintChart(vo, stats)
	default:
		drawPlaceholder(&o.canvas, vo.rect, vo.obj.Kind)
		stats.Placeholders++
	}

	o.mu.Lock()
	if o.seq.Load() == pass {
		o.index.add(vo.obj.ID, vo.obj.Kind, vo.rect)
	}
	o.mu.Unlock()
}

// paintImage draws the cached bitmap if one is resolved, otherwise paints a
// placeholder and starts (or joins) an async decode for a later repaint.
func (o *Overlay) paintImage(pass uint64, vo *visibleObject, stats *RenderStats) {
	id := vo.obj.ImageID
	if id == "" {
		drawPlaceholder(&o.canvas, vo.rect, KindImage)
		stats.Placeholders++
		return
	}
	bmp, ok := o.cache.Peek(id)
	if !ok {
		o.mu.Lock()
		bmp, ok = o.owned[id]
		o.mu.Unlock()
	}
	if ok {
		if ib, ok := bmp.(*ImageBitmap); ok && ib.Image() != nil {
			o.canvas.DrawBitmap(ib.Image(), vo.rect, vo.obj.Transform)
			stats.Painted++
			return
		}
		// Resolved but not drawable on this canvas; nothing more to wait for.
		drawPlaceholder(&o.canvas, vo.rect, KindImage)
		stats.Placeholders++
		return
	}

	drawPlaceholder(&o.canvas, vo.rect, KindImage)
	stats.Placeholders++
	if o.cache.FailedRecently(id) {
		// Inside the backoff window; the placeholder stands until the
		// negative entry expires or the image is invalidated.
		return
	}
	if o.fetchImage(pass, id) {
		stats.Pending++
	}
}

// fetchImage starts an async decode for the image id unless one started by
// this overlay is already in flight. Reports whether a fetch was started.
func (o *Overlay) fetchImage(pass uint64, id string) bool {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return false
	}
	if _, inFlight := o.fetching[id]; inFlight {
		o.mu.Unlock()
		return false
	}
	o.fetching[id] = struct{}{}
	ctx := o.ctx
	o.mu.Unlock()

	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.fetching, id)
			o.mu.Unlock()
		}()

		entry, ok := o.lookupEntry(id)
		if !ok {
			debugf("image %q: no bytes in store", id)
			return
		}
		bmp, err := o.cache.Get(ctx, entry)
		if err != nil {
			// Failure is already recorded in the cache's negative cache;
			// the placeholder painted above stands. Never propagated.
			debugf("image %q: %v", id, err)
			return
		}
		if o.seq.Load() != pass {
			// A newer render pass has started: this result must not paint.
			// If the cache did not retain the bitmap, it is ours to close.
			o.discardIfUnretained(id, bmp)
			debugf("image %q: discarding decode for stale pass %d", id, pass)
			return
		}
		o.adoptIfUnretained(id, bmp)
		o.requestRedraw()
	}()
	return true
}

// discardIfUnretained closes bmp when the cache no longer holds it for id,
// i.e. ownership fell to this caller (invalidated mid-flight, or caching
// disabled). The result belongs to a stale pass, so it has no further use.
func (o *Overlay) discardIfUnretained(id string, bmp Bitmap) {
	if got, ok := o.cache.Peek(id); !ok || got != bmp {
		bmp.Close()
	}
}

// adoptIfUnretained takes ownership of bmp when the cache declined to
// retain it, so the requested repaint can still draw it. Any previously
// adopted bitmap for the same id is superseded and closed.
func (o *Overlay) adoptIfUnretained(id string, bmp Bitmap) {
	if got, ok := o.cache.Peek(id); ok && got == bmp {
		return
	}
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		bmp.Close()
		return
	}
	if prev, ok := o.owned[id]; ok && prev != bmp {
		prev.Close()
	}
	o.owned[id] = bmp
	o.mu.Unlock()
}

// lookupEntry resolves image bytes from the store, using the async
// hydration path when the synchronous lookup misses.
func (o *Overlay) lookupEntry(id string) (ImageEntry, bool) {
	if o.store == nil {
		return ImageEntry{}, false
	}
	if entry, ok := o.store.Get(id); ok {
		return entry, true
	}
	if async, ok := o.store.(AsyncImageStore); ok {
		return async.GetAsync(id)
	}
	return ImageEntry{}, false
}

// paintShape draws the shape body, plus its text when parsed. Unparsed text
// triggers an async parse and does not block the body from painting.
func (o *Overlay) paintShape(pass uint64, vo *visibleObject, stats *RenderStats) {
	obj := vo.obj

	o.mu.Lock()
	text, parsed := o.shapeText[obj.ID]
	o.mu.Unlock()

	if !parsed && o.parser != nil && obj.ShapeXML != "" {
		drawPlaceholder(&o.canvas, vo.rect, KindShape)
		stats.Placeholders++
		if o.parseShapeText(pass, obj.ID, obj.ShapeXML) {
			stats.Pending++
		}
		return
	}

	o.canvas.FillRect(vo.rect, shapeFill)
	o.canvas.StrokeRect(vo.rect, shapeBorder, 1)
	if text != "" && vo.rect.Height*o.canvas.DPR() >= 16 {
		x := int((vo.rect.X + 4) * o.canvas.DPR())
		y := int((vo.rect.Y + 4) * o.canvas.DPR())
		ebitenutil.DebugPrintAt(o.canvas.Image(), text, x, y)
	}
	stats.Painted++
}

// parseShapeText starts an async parse for the object's text unless one is
// already in flight. The shared shape-text cache is only written if the
// capturing pass is still current.
func (o *Overlay) parseShapeText(pass uint64, objectID, shapeXML string) bool {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return false
	}
	if _, inFlight := o.parsing[objectID]; inFlight {
		o.mu.Unlock()
		return false
	}
	o.parsing[objectID] = struct{}{}
	o.mu.Unlock()

	parser := o.parser
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.parsing, objectID)
			o.mu.Unlock()
		}()

		text, err := parser.ParseShapeText(shapeXML)
		if err != nil {
			debugf("shape %q: parse text: %v", objectID, err)
			text = "" // cache the miss so the shape body still paints
		}
		if o.seq.Load() != pass {
			debugf("shape %q: discarding text for stale pass %d", objectID, pass)
			return
		}
		o.mu.Lock()
		if !o.destroyed {
			o.shapeText[objectID] = text
		}
		o.mu.Unlock()
		o.requestRedraw()
	}()
	return true
}

// paintChart delegates to the injected ChartRenderer. A panic or error is
// isolated to this object: the chart degrades to a placeholder.
func (o *Overlay) paintChart(vo *visibleObject, stats *RenderStats) {
	if o.charts == nil {
		drawPlaceholder(&o.canvas, vo.rect, KindChart)
		stats.Placeholders++
		return
	}
	err := o.renderChart(vo.obj.ChartID, vo.rect)
	if err != nil {
		debugf("chart %q: %v", vo.obj.ChartID, err)
		drawPlaceholder(&o.canvas, vo.rect, KindChart)
		stats.Placeholders++
		return
	}
	stats.Painted++
}

func (o *Overlay) renderChart(chartID string, rect Rect) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("overgrid: chart renderer panic: %v", r)
		}
	}()
	return o.charts.RenderChart(&o.canvas, chartID, rect)
}

// prefetch kicks off decodes for images in the pass that are neither cached
// nor inside the failure-backoff window. Fire-and-forget; completions only
// request a redraw if this pass is still current.
func (o *Overlay) prefetch(pass uint64, objects []DrawingObject, stats *RenderStats) {
	var seen map[string]struct{}
	for i := range objects {
		obj := &objects[i]
		if obj.Kind != KindImage || obj.ImageID == "" {
			continue
		}
		if seen == nil {
			seen = make(map[string]struct{})
		}
		if _, dup := seen[obj.ImageID]; dup {
			continue
		}
		seen[obj.ImageID] = struct{}{}
		if _, ok := o.cache.Peek(obj.ImageID); ok {
			continue
		}
		o.mu.Lock()
		_, adopted := o.owned[obj.ImageID]
		o.mu.Unlock()
		if adopted {
			continue
		}
		if o.cache.FailedRecently(obj.ImageID) {
			continue
		}
		if o.fetchImage(pass, obj.ImageID) {
			stats.Pending++
		}
	}
}

// InvalidateImage drops the cached bitmap and failure record for an image
// id, forcing a fresh decode on the next render. Call after replacing bytes
// in the store under the same id.
func (o *Overlay) InvalidateImage(id string) {
	o.cache.Invalidate(id)
	o.mu.Lock()
	bmp, ok := o.owned[id]
	delete(o.owned, id)
	o.mu.Unlock()
	if ok {
		bmp.Close()
	}
}

// InvalidateShapeText drops the parsed text for an object, forcing a
// re-parse on the next render. Call after editing the object's markup.
func (o *Overlay) InvalidateShapeText(objectID string) {
	o.mu.Lock()
	delete(o.shapeText, objectID)
	o.mu.Unlock()
}

// Destroy releases the overlay's resources: cached bitmaps are closed,
// in-flight fetches are cancelled (their late resolutions are discarded or
// closed as orphans), the spatial index and shape-text cache are cleared,
// and the chart renderer's Destroy hook runs. The overlay must not be used
// afterwards.
func (o *Overlay) Destroy() {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return
	}
	o.destroyed = true
	o.shapeText = make(map[string]string)
	o.index.reset()
	owned := o.owned
	o.owned = make(map[string]Bitmap)
	o.mu.Unlock()

	for _, bmp := range owned {
		bmp.Close()
	}

	// Invalidate every outstanding pass before draining the cache so that
	// late completions cannot request redraws.
	o.seq.Add(1)
	o.cancel()
	o.cache.Clear()
	o.canvas.Dispose()
	if o.charts != nil {
		o.charts.Destroy()
	}
}
