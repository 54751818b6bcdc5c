package overgrid

import (
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// scrollAnim holds active scroll tweens for the X and Y axes.
type scrollAnim struct {
	tweenX *gween.Tween
	tweenY *gween.Tween
	doneX  bool
	doneY  bool
}

// ScrollAnimator animates a viewport's scroll offset toward a target, e.g.
// to bring a drawing object into view. The host grid owns the authoritative
// scroll position; it feeds Update's results back into the Viewport it
// passes to Overlay.Render.
type ScrollAnimator struct {
	x, y float64
	anim *scrollAnim
}

// NewScrollAnimator creates an animator at the given scroll offset.
func NewScrollAnimator(x, y float64) *ScrollAnimator {
	return &ScrollAnimator{x: x, y: y}
}

// Jump moves to the offset immediately, cancelling any active animation.
func (s *ScrollAnimator) Jump(x, y float64) {
	s.x, s.y = x, y
	s.anim = nil
}

// ScrollTo animates from the current offset to (x, y) over duration seconds.
func (s *ScrollAnimator) ScrollTo(x, y float64, duration float32, easeFn ease.TweenFunc) {
	s.anim = &scrollAnim{
		tweenX: gween.New(float32(s.x), float32(x), duration, easeFn),
		tweenY: gween.New(float32(s.y), float32(y), duration, easeFn),
	}
}

// ScrollToObject animates so that the object's anchored rect is centered in
// the viewport (clamped to non-negative offsets).
func (s *ScrollAnimator) ScrollToObject(obj DrawingObject, geom GridGeometry, vp Viewport, duration float32, easeFn ease.TweenFunc) error {
	rect, err := ResolveRect(obj.Anchor, geom)
	if err != nil {
		return err
	}
	targetX := rect.X + rect.Width/2 - vp.Width/2
	targetY := rect.Y + rect.Height/2 - vp.Height/2
	if targetX < 0 {
		targetX = 0
	}
	if targetY < 0 {
		targetY = 0
	}
	s.ScrollTo(targetX, targetY, duration, easeFn)
	return nil
}

// Update advances the animation by dt seconds and returns whether an
// animation is still running. Call once per frame.
func (s *ScrollAnimator) Update(dt float32) bool {
	if s.anim == nil {
		return false
	}
	if !s.anim.doneX {
		val, done := s.anim.tweenX.Update(dt)
		s.x = float64(val)
		s.anim.doneX = done
	}
	if !s.anim.doneY {
		val, done := s.anim.tweenY.Update(dt)
		s.y = float64(val)
		s.anim.doneY = done
	}
	if s.anim.doneX && s.anim.doneY {
		s.anim = nil
		return false
	}
	return true
}

// Offset returns the current scroll offset.
func (s *ScrollAnimator) Offset() (x, y float64) {
	return s.x, s.y
}

// Active reports whether a scroll animation is running.
func (s *ScrollAnimator) Active() bool {
	return s.anim != nil
}
