package board

// per-participant view transform. shared with peers through presence,
// never written to the document store.
//
// transforms:
//
//	world  = camera + screen * zoom
//	screen = (world - camera) / zoom
//
// so larger zoom values show more of the board.
type Camera struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

const (
	DefaultZoomMin = float64(0.1)
	DefaultZoomMax = float64(4.0)
)

func DefaultCamera() Camera {
	return Camera{
		X:    0,
		Y:    0,
		Zoom: 1,
	}
}

func (self Camera) ScreenToWorld(screen Point) Point {
	return Point{
		X: self.X + screen.X*self.Zoom,
		Y: self.Y + screen.Y*self.Zoom,
	}
}

func (self Camera) WorldToScreen(world Point) Point {
	return Point{
		X: (world.X - self.X) / self.Zoom,
		Y: (world.Y - self.Y) / self.Zoom,
	}
}

func (self Camera) Pan(screenDx float64, screenDy float64) Camera {
	return Camera{
		X:    self.X - screenDx*self.Zoom,
		Y:    self.Y - screenDy*self.Zoom,
		Zoom: self.Zoom,
	}
}

// ZoomAt zooms about a screen pivot, preserving the world coordinate
// under the pivot:
//
//	newCamera = pivot - (pivot - oldCamera) * (newZoom / oldZoom)
//
// with the pivot taken in world coordinates. zoom clamps to
// [zoomMin, zoomMax], never an error.
func (self Camera) ZoomAt(pivotScreen Point, newZoom float64, zoomMin float64, zoomMax float64) Camera {
	newZoom = max(zoomMin, min(newZoom, zoomMax))
	pivot := self.ScreenToWorld(pivotScreen)
	ratio := newZoom / self.Zoom
	return Camera{
		X:    pivot.X - (pivot.X-self.X)*ratio,
		Y:    pivot.Y - (pivot.Y-self.Y)*ratio,
		Zoom: newZoom,
	}
}
