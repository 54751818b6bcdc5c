package overgrid

// spatialEntry records where one object was painted by the most recent
// render pass, in screen (logical-pixel) coordinates.
type spatialEntry struct {
	id   string
	kind ObjectKind
	rect Rect
}

// spatialIndex holds painted-object rectangles in paint order (back to
// front). Only the render pass that is still current may rebuild it; a
// stale pass's async completions leave it untouched.
type spatialIndex struct {
	entries []spatialEntry
}

func (idx *spatialIndex) reset() {
	idx.entries = idx.entries[:0]
}

func (idx *spatialIndex) add(id string, kind ObjectKind, rect Rect) {
	idx.entries = append(idx.entries, spatialEntry{id: id, kind: kind, rect: rect})
}

// hit returns the topmost entry containing (x, y). Entries are stored back
// to front, so the scan runs in reverse paint order.
func (idx *spatialIndex) hit(x, y float64) (spatialEntry, bool) {
	for i := len(idx.entries) - 1; i >= 0; i-- {
		if idx.entries[i].rect.Contains(x, y) {
			return idx.entries[i], true
		}
	}
	return spatialEntry{}, false
}

// HitTest returns the id and screen rect of the topmost object painted at
// the given logical-pixel position by the most recent render pass. Consumed
// by the interaction controller for selection and cursor feedback;
// placeholders hit-test exactly like fully painted objects.
func (o *Overlay) HitTest(x, y float64) (id string, rect Rect, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.index.hit(x, y)
	if !ok {
		return "", Rect{}, false
	}
	return e.id, e.rect, true
}

// ObjectRect returns the screen rect the most recent render pass computed
// for the object with the given id.
func (o *Overlay) ObjectRect(id string) (Rect, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.index.entries {
		if o.index.entries[i].id == id {
			return o.index.entries[i].rect, true
		}
	}
	return Rect{}, false
}
