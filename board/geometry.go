package board

import (
	"math"
)

// geometry helpers are pure functions over Rect and Point.
// connectors and marquee selection are built entirely on these.

const maxCurvature = float64(150)
const curvatureScale = float64(0.4)

func Distance(a Point, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func BoundingBoxUnion(rects ...Rect) Rect {
	if len(rects) == 0 {
		return Rect{}
	}
	minX := rects[0].X
	minY := rects[0].Y
	maxX := rects[0].X + rects[0].Width
	maxY := rects[0].Y + rects[0].Height
	for _, rect := range rects[1:] {
		minX = min(minX, rect.X)
		minY = min(minY, rect.Y)
		maxX = max(maxX, rect.X+rect.Width)
		maxY = max(maxY, rect.Y+rect.Height)
	}
	return Rect{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}

func PointInRect(p Point, rect Rect) bool {
	return rect.Contains(p)
}

func RectIntersects(a Rect, b Rect) bool {
	return a.X <= b.X+b.Width && b.X <= a.X+a.Width &&
		a.Y <= b.Y+b.Height && b.Y <= a.Y+a.Height
}

// midpoint of the given side of the rect
func EdgeAnchorPoint(rect Rect, side Side) Point {
	switch side {
	case SideTop:
		return Point{X: rect.X + rect.Width/2, Y: rect.Y}
	case SideRight:
		return Point{X: rect.X + rect.Width, Y: rect.Y + rect.Height/2}
	case SideBottom:
		return Point{X: rect.X + rect.Width/2, Y: rect.Y + rect.Height}
	case SideLeft:
		return Point{X: rect.X, Y: rect.Y + rect.Height/2}
	default:
		return Point{X: rect.X + rect.Width/2, Y: rect.Y + rect.Height/2}
	}
}

// cubic bezier control points for an auto-routed connector.
// curvature scales with connector length up to a cap. when the side a
// connector leaves or enters is known, its control point is pushed
// perpendicular to that side. otherwise the offset follows the
// dominant axis of the endpoint delta.
func AutoCurveControlPoints(start Point, end Point, sourceSide Side, targetSide Side) (Point, Point) {
	curvature := min(Distance(start, end)*curvatureScale, maxCurvature)
	cp1 := offsetFromSide(start, end, sourceSide, curvature)
	cp2 := offsetFromSide(end, start, targetSide, curvature)
	return cp1, cp2
}

func offsetFromSide(endpoint Point, other Point, side Side, curvature float64) Point {
	switch side {
	case SideTop:
		return Point{X: endpoint.X, Y: endpoint.Y - curvature}
	case SideRight:
		return Point{X: endpoint.X + curvature, Y: endpoint.Y}
	case SideBottom:
		return Point{X: endpoint.X, Y: endpoint.Y + curvature}
	case SideLeft:
		return Point{X: endpoint.X - curvature, Y: endpoint.Y}
	default:
		dx := other.X - endpoint.X
		dy := other.Y - endpoint.Y
		if math.Abs(dy) < math.Abs(dx) {
			return Point{X: endpoint.X + math.Copysign(curvature, dx), Y: endpoint.Y}
		}
		if dy == 0 && dx == 0 {
			// zero length connector, degenerate but valid
			return endpoint
		}
		return Point{X: endpoint.X, Y: endpoint.Y + math.Copysign(curvature, dy)}
	}
}
