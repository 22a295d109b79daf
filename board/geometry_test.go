package board

import (
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestBoundingBoxUnion(t *testing.T) {
	union := BoundingBoxUnion(
		Rect{X: 0, Y: 0, Width: 100, Height: 100},
		Rect{X: 300, Y: -50, Width: 100, Height: 100},
	)
	assert.Equal(t, Rect{X: 0, Y: -50, Width: 400, Height: 150}, union)

	// union of one rect is the rect
	rect := Rect{X: 10, Y: 20, Width: 30, Height: 40}
	assert.Equal(t, rect, BoundingBoxUnion(rect))

	// empty input degrades to the zero rect
	assert.Equal(t, Rect{}, BoundingBoxUnion())
}

func TestPointInRect(t *testing.T) {
	rect := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	assert.Equal(t, true, PointInRect(Point{X: 50, Y: 50}, rect))
	assert.Equal(t, true, PointInRect(Point{X: 0, Y: 0}, rect))
	assert.Equal(t, true, PointInRect(Point{X: 100, Y: 100}, rect))
	assert.Equal(t, false, PointInRect(Point{X: 101, Y: 50}, rect))
	assert.Equal(t, false, PointInRect(Point{X: 50, Y: -1}, rect))
}

func TestRectIntersects(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 100, Height: 100}
	assert.Equal(t, true, RectIntersects(a, Rect{X: 50, Y: 50, Width: 100, Height: 100}))
	assert.Equal(t, true, RectIntersects(a, Rect{X: 100, Y: 100, Width: 10, Height: 10}))
	assert.Equal(t, false, RectIntersects(a, Rect{X: 101, Y: 0, Width: 10, Height: 10}))
}

func TestEdgeAnchorPoint(t *testing.T) {
	rect := Rect{X: 0, Y: 0, Width: 100, Height: 50}
	assert.Equal(t, Point{X: 50, Y: 0}, EdgeAnchorPoint(rect, SideTop))
	assert.Equal(t, Point{X: 100, Y: 25}, EdgeAnchorPoint(rect, SideRight))
	assert.Equal(t, Point{X: 50, Y: 50}, EdgeAnchorPoint(rect, SideBottom))
	assert.Equal(t, Point{X: 0, Y: 25}, EdgeAnchorPoint(rect, SideLeft))
	// unknown side falls back to the center
	assert.Equal(t, Point{X: 50, Y: 25}, EdgeAnchorPoint(rect, SideNone))
}

func TestAutoCurveControlPoints(t *testing.T) {
	// curvature scales with distance: distance 100 gives 40
	start := Point{X: 100, Y: 50}
	end := Point{X: 200, Y: 50}
	cp1, cp2 := AutoCurveControlPoints(start, end, SideRight, SideLeft)
	assert.Equal(t, Point{X: 140, Y: 50}, cp1)
	assert.Equal(t, Point{X: 160, Y: 50}, cp2)

	// vertical sides offset along y
	cp1, cp2 = AutoCurveControlPoints(start, end, SideTop, SideBottom)
	assert.Equal(t, Point{X: 100, Y: 10}, cp1)
	assert.Equal(t, Point{X: 200, Y: 90}, cp2)

	// curvature caps at 150 regardless of distance
	far := Point{X: 10000, Y: 50}
	cp1, _ = AutoCurveControlPoints(start, far, SideRight, SideLeft)
	assert.Equal(t, Point{X: 250, Y: 50}, cp1)
}

func TestAutoCurveDominantAxis(t *testing.T) {
	// no sides known: offset follows the larger endpoint delta
	start := Point{X: 0, Y: 0}
	end := Point{X: 300, Y: 10}
	cp1, cp2 := AutoCurveControlPoints(start, end, SideNone, SideNone)
	curvature := min(Distance(start, end)*0.4, 150)
	assert.Equal(t, Point{X: curvature, Y: 0}, cp1)
	assert.Equal(t, Point{X: 300 - curvature, Y: 10}, cp2)

	// mostly vertical
	end = Point{X: 10, Y: 300}
	cp1, _ = AutoCurveControlPoints(start, end, SideNone, SideNone)
	assert.Equal(t, Point{X: 0, Y: min(Distance(start, end)*0.4, 150)}, cp1)
}

func TestAutoCurveZeroLength(t *testing.T) {
	// degenerate connector must not blow up
	p := Point{X: 42, Y: 42}
	cp1, cp2 := AutoCurveControlPoints(p, p, SideNone, SideNone)
	assert.Equal(t, p, cp1)
	assert.Equal(t, p, cp2)
}

func TestDistance(t *testing.T) {
	assert.Equal(t, float64(5), Distance(Point{X: 0, Y: 0}, Point{X: 3, Y: 4}))
	assert.Equal(t, true, math.Abs(Distance(Point{X: 1, Y: 1}, Point{X: 1, Y: 1})) < 1e-12)
}
