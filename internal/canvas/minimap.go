package canvas

import "github.com/MarcoPoloResearchLab/odil/backend/internal/board"

// Minimap constants. The world bounds get extra padding so markers never touch
// the minimap edge; an empty board shows a fixed region around the origin.
const (
	minimapPadding    = 8.0
	worldPadding      = 200.0
	emptyWorldHalfExt = 500.0
)

// CardSize is the rendered card footprint used to extend the world bounds.
type CardSize struct {
	W float64
	H float64
}

// Rendered card and minimap dimensions per form factor.
var (
	DesktopCardSize = CardSize{W: 224, H: 206}
	MobileCardSize  = CardSize{W: 160, H: 144}
)

const (
	DesktopMinimapSize = 194.0
	MobileMinimapSize  = 165.0
)

// Marker is one card scaled into minimap pixel space.
type Marker struct {
	CardID string
	X      float64
	Y      float64
	W      float64
	H      float64
}

// ViewRect is the viewport indicator rectangle in minimap pixel space.
type ViewRect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Minimap is the renderable overview geometry derived from the card set and
// the current viewport. It is a pure function of its inputs; rebuild it
// whenever cards or the viewport change.
type Minimap struct {
	Size        float64
	WorldBounds Rect
	Scale       float64
	Markers     []Marker
	Viewport    ViewRect
}

// BuildMinimap derives the overview geometry for the given cards and viewport.
func BuildMinimap(cards []board.Card, view *Viewport, size float64, cardSize CardSize) Minimap {
	bounds := worldBounds(cards, cardSize)

	usable := size - minimapPadding*2
	scale := min(usable/bounds.Width(), usable/bounds.Height())

	m := Minimap{
		Size:        size,
		WorldBounds: bounds,
		Scale:       scale,
		Markers:     make([]Marker, 0, len(cards)),
	}

	for _, card := range cards {
		topLeft := m.WorldToMinimap(Point{X: card.X, Y: card.Y})
		m.Markers = append(m.Markers, Marker{
			CardID: card.ID,
			X:      topLeft.X,
			Y:      topLeft.Y,
			W:      cardSize.W * scale,
			H:      cardSize.H * scale,
		})
	}

	visible := view.VisibleWorldRect()
	topLeft := m.WorldToMinimap(Point{X: visible.MinX, Y: visible.MinY})
	bottomRight := m.WorldToMinimap(Point{X: visible.MaxX, Y: visible.MaxY})
	m.Viewport = ViewRect{
		X: topLeft.X,
		Y: topLeft.Y,
		W: bottomRight.X - topLeft.X,
		H: bottomRight.Y - topLeft.Y,
	}

	return m
}

// WorldToMinimap maps a world point into minimap pixel space.
func (m Minimap) WorldToMinimap(p Point) Point {
	return Point{
		X: minimapPadding + (p.X-m.WorldBounds.MinX)*m.Scale,
		Y: minimapPadding + (p.Y-m.WorldBounds.MinY)*m.Scale,
	}
}

// MinimapToWorld maps a minimap pixel back into world space through the same
// affine transform.
func (m Minimap) MinimapToWorld(p Point) Point {
	return Point{
		X: m.WorldBounds.MinX + (p.X-minimapPadding)/m.Scale,
		Y: m.WorldBounds.MinY + (p.Y-minimapPadding)/m.Scale,
	}
}

// WorldFromPointer maps a pointer position relative to the minimap's top-left
// corner into world space, clamping to the usable minimap area first. Used
// for drag-to-navigate.
func (m Minimap) WorldFromPointer(p Point) Point {
	clamped := Point{
		X: clamp(p.X, minimapPadding, m.Size-minimapPadding),
		Y: clamp(p.Y, minimapPadding, m.Size-minimapPadding),
	}
	return m.MinimapToWorld(clamped)
}

func worldBounds(cards []board.Card, cardSize CardSize) Rect {
	if len(cards) == 0 {
		return Rect{
			MinX: -emptyWorldHalfExt,
			MinY: -emptyWorldHalfExt,
			MaxX: emptyWorldHalfExt,
			MaxY: emptyWorldHalfExt,
		}
	}

	bounds := Rect{
		MinX: cards[0].X,
		MinY: cards[0].Y,
		MaxX: cards[0].X + cardSize.W,
		MaxY: cards[0].Y + cardSize.H,
	}
	for _, card := range cards[1:] {
		bounds.MinX = min(bounds.MinX, card.X)
		bounds.MinY = min(bounds.MinY, card.Y)
		bounds.MaxX = max(bounds.MaxX, card.X+cardSize.W)
		bounds.MaxY = max(bounds.MaxY, card.Y+cardSize.H)
	}

	bounds.MinX -= worldPadding
	bounds.MinY -= worldPadding
	bounds.MaxX += worldPadding
	bounds.MaxY += worldPadding
	return bounds
}

func clamp(value, lower, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}
