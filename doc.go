// Package overgrid renders floating drawing objects (images, shapes, charts)
// overlaid on a scrolling spreadsheet grid, and manages the lifecycle of the
// decoded bitmaps used to paint them.
//
// The two central pieces are [BitmapCache] and [Overlay]:
//
//   - BitmapCache maps image ids to decoded bitmaps with at-most-one
//     concurrent decode per id, bounded memory via LRU eviction, cooperative
//     cancellation, and a short-TTL negative cache that suppresses retry
//     storms after a decode failure.
//   - Overlay paints the visible objects for a viewport onto an
//     ebiten-backed canvas. Painting is never blocked on a decode: objects
//     whose bitmap is not yet available get a dashed placeholder, and a
//     monotonically increasing render-sequence number guarantees that a
//     late-arriving decode can never repaint on behalf of a superseded
//     render pass.
//
// # Quick start
//
//	cache := overgrid.NewBitmapCache(overgrid.CacheConfig{MaxEntries: 64})
//	ov := overgrid.NewOverlay(overgrid.OverlayConfig{
//		Cache:    cache,
//		Store:    store,    // ImageStore holding raw image bytes
//		Geometry: geom,     // GridGeometry mapping cells to pixels
//		RequestRedraw: func() { needsDraw = true },
//	})
//
//	// each frame, from the game loop:
//	ov.Render(objects, viewport)
//	screen.DrawImage(ov.Canvas(), nil)
//
// Collaborators that are consumed but not built here — chart rendering,
// shape-text parsing, pointer interaction — are injected through the
// [ChartRenderer], [ShapeTextParser], and [GridGeometry] interfaces.
//
// Decoded bitmaps are a scarce resource and are released explicitly; the
// cache is the single owner of every bitmap it retains and closes each one
// exactly once, at whichever of eviction, invalidation, Clear, or
// orphaned-resolution happens first.
package overgrid
