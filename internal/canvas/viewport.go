// Package canvas provides the pan/zoom viewport transform and the minimap
// geometry derivation. Both are pure coordinate math with no dependency on
// the sync protocol or any network state.
package canvas

// Zoom bounds and fit padding, in viewport units.
const (
	MinZoom    = 0.25
	MaxZoom    = 2.0
	fitPadding = 100.0
)

// Point is a position in either screen or world space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned world-space rectangle.
type Rect struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Width returns the horizontal extent of the rectangle.
func (r Rect) Width() float64 {
	return r.MaxX - r.MinX
}

// Height returns the vertical extent of the rectangle.
func (r Rect) Height() float64 {
	return r.MaxY - r.MinY
}

// Viewport maintains the pan/zoom state for one client's canvas and converts
// between screen-space and world-space coordinates.
type Viewport struct {
	pan    Point
	zoom   float64
	width  float64
	height float64
}

// NewViewport constructs a viewport of the given screen size at the identity
// transform: zero pan, zoom 1.
func NewViewport(width, height float64) *Viewport {
	return &Viewport{zoom: 1, width: width, height: height}
}

// Pan returns the current pan offset.
func (v *Viewport) Pan() Point {
	return v.pan
}

// Zoom returns the current zoom factor.
func (v *Viewport) Zoom() float64 {
	return v.zoom
}

// Size returns the viewport screen dimensions.
func (v *Viewport) Size() (width, height float64) {
	return v.width, v.height
}

// SetPan replaces the pan offset.
func (v *Viewport) SetPan(pan Point) {
	v.pan = pan
}

// PanBy shifts the pan offset by a screen-space delta.
func (v *Viewport) PanBy(dx, dy float64) {
	v.pan.X += dx
	v.pan.Y += dy
}

// SetZoom replaces the zoom factor, clamped to the zoom bounds, without
// adjusting the pan.
func (v *Viewport) SetZoom(zoom float64) {
	v.zoom = clampZoom(zoom)
}

// Resize updates the viewport screen dimensions.
func (v *Viewport) Resize(width, height float64) {
	v.width = width
	v.height = height
}

// ScreenToWorld maps a screen point into world space.
func (v *Viewport) ScreenToWorld(p Point) Point {
	return Point{
		X: (p.X - v.pan.X) / v.zoom,
		Y: (p.Y - v.pan.Y) / v.zoom,
	}
}

// WorldToScreen maps a world point into screen space.
func (v *Viewport) WorldToScreen(p Point) Point {
	return Point{
		X: p.X*v.zoom + v.pan.X,
		Y: p.Y*v.zoom + v.pan.Y,
	}
}

// ZoomTo changes the zoom factor while keeping origin fixed on screen: the
// world point under origin before the zoom is still under it afterwards.
func (v *Viewport) ZoomTo(newZoom float64, origin Point) {
	clamped := clampZoom(newZoom)
	ratio := clamped / v.zoom
	v.pan = Point{
		X: origin.X - (origin.X-v.pan.X)*ratio,
		Y: origin.Y - (origin.Y-v.pan.Y)*ratio,
	}
	v.zoom = clamped
}

// Reset restores the identity transform.
func (v *Viewport) Reset() {
	v.pan = Point{}
	v.zoom = 1
}

// FitToBounds picks the zoom that fits the world rectangle plus fixed padding
// into the viewport, clamped to the zoom bounds, and centers on it.
func (v *Viewport) FitToBounds(bounds Rect) {
	contentWidth := bounds.Width() + fitPadding*2
	contentHeight := bounds.Height() + fitPadding*2

	scaleX := v.width / contentWidth
	scaleY := v.height / contentHeight
	newZoom := clampZoom(min(scaleX, scaleY))

	center := Point{
		X: (bounds.MinX + bounds.MaxX) / 2,
		Y: (bounds.MinY + bounds.MaxY) / 2,
	}
	v.zoom = newZoom
	v.pan = Point{
		X: v.width/2 - center.X*newZoom,
		Y: v.height/2 - center.Y*newZoom,
	}
}

// CenterOn places the world point at the viewport center at the current zoom.
func (v *Viewport) CenterOn(point Point) {
	v.pan = Point{
		X: v.width/2 - point.X*v.zoom,
		Y: v.height/2 - point.Y*v.zoom,
	}
}

// CenterOnZoom places the world point at the viewport center at the given
// zoom, clamped to the zoom bounds.
func (v *Viewport) CenterOnZoom(point Point, zoom float64) {
	v.zoom = clampZoom(zoom)
	v.CenterOn(point)
}

// VisibleWorldRect returns the world-space rectangle currently on screen.
func (v *Viewport) VisibleWorldRect() Rect {
	topLeft := v.ScreenToWorld(Point{})
	return Rect{
		MinX: topLeft.X,
		MinY: topLeft.Y,
		MaxX: topLeft.X + v.width/v.zoom,
		MaxY: topLeft.Y + v.height/v.zoom,
	}
}

func clampZoom(zoom float64) float64 {
	if zoom < MinZoom {
		return MinZoom
	}
	if zoom > MaxZoom {
		return MaxZoom
	}
	return zoom
}
