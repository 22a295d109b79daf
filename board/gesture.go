package board

import (
	"math"
	"slices"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// the controller classifies a pointer/touch stream into exactly one
// gesture at a time. transitions are explicit and testable without a
// real pointer device.
type GestureState string

const (
	GestureIdle             GestureState = "idle"
	GesturePanning          GestureState = "panning"
	GestureZooming          GestureState = "zooming"
	GestureMarqueeSelecting GestureState = "marqueeSelecting"
	GestureDraggingLayer    GestureState = "draggingLayer"
	GestureResizingLayer    GestureState = "resizingLayer"
	GestureDrawing          GestureState = "drawing"
)

type Tool string

const (
	ToolSelect Tool = "select"
	ToolPan    Tool = "pan"
	ToolDraw   Tool = "draw"
)

type ResizeHandle string

const (
	HandleNone        ResizeHandle = ""
	HandleTopLeft     ResizeHandle = "nw"
	HandleTop         ResizeHandle = "n"
	HandleTopRight    ResizeHandle = "ne"
	HandleRight       ResizeHandle = "e"
	HandleBottomRight ResizeHandle = "se"
	HandleBottom      ResizeHandle = "s"
	HandleBottomLeft  ResizeHandle = "sw"
	HandleLeft        ResizeHandle = "w"
)

type GestureSettings struct {
	ZoomMin float64
	ZoomMax float64
	// resize handle hit radius in screen pixels. hit testing scales
	// with zoom so handles stay grabbable at any magnification.
	HandleSize float64
}

func DefaultGestureSettings() *GestureSettings {
	return &GestureSettings{
		ZoomMin:    DefaultZoomMin,
		ZoomMax:    DefaultZoomMax,
		HandleSize: 8,
	}
}

type GestureController struct {
	document *DocumentStore
	presence *PresenceStore
	history  *History
	settings *GestureSettings

	mutex sync.Mutex

	state    GestureState
	tool     Tool
	drawType LayerType

	camera    Camera
	selection []Id

	// single pointer gesture bookkeeping
	startScreen Point
	lastScreen  Point
	preGesture  *Snapshot

	dragOrigins map[Id]Point

	resizeLayerId Id
	resizeHandle  ResizeHandle
	resizeStart   Rect

	marqueeStart Point
	marqueeRect  Rect

	drawPoints []Point

	// pinch bookkeeping. while two touch points are down the
	// controller is latched in Zooming and single pointer intent is
	// not re-evaluated until both release.
	touchPoints   map[int]Point
	pinchDistance float64
	pinchCamera   Camera
	pinchMid      Point
}

func NewGestureControllerWithDefaults(
	document *DocumentStore,
	presence *PresenceStore,
	history *History,
) *GestureController {
	return NewGestureController(document, presence, history, DefaultGestureSettings())
}

func NewGestureController(
	document *DocumentStore,
	presence *PresenceStore,
	history *History,
	settings *GestureSettings,
) *GestureController {
	return &GestureController{
		document:    document,
		presence:    presence,
		history:     history,
		settings:    settings,
		state:       GestureIdle,
		tool:        ToolSelect,
		drawType:    LayerTypePath,
		camera:      DefaultCamera(),
		dragOrigins: map[Id]Point{},
		touchPoints: map[int]Point{},
	}
}

func (self *GestureController) State() GestureState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *GestureController) Camera() Camera {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.camera
}

func (self *GestureController) Selection() []Id {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return slices.Clone(self.selection)
}

// Marquee returns the in-progress marquee rect in world coordinates,
// or nil when not marquee selecting
func (self *GestureController) Marquee() *Rect {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.state != GestureMarqueeSelecting {
		return nil
	}
	rect := self.marqueeRect
	return &rect
}

func (self *GestureController) SetTool(tool Tool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.tool = tool
}

func (self *GestureController) SetDrawType(drawType LayerType) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.drawType = drawType
}

func (self *GestureController) SetSelection(selection []Id) {
	self.mutex.Lock()
	self.selection = slices.Clone(selection)
	self.mutex.Unlock()
	self.presence.SetSelection(selection)
}

func (self *GestureController) PointerDown(screen Point) {
	self.mutex.Lock()
	if self.state != GestureIdle {
		// zooming is exclusive, and a second pointer down during any
		// other gesture is ignored rather than left ambiguous
		self.mutex.Unlock()
		return
	}

	self.startScreen = screen
	self.lastScreen = screen
	world := self.camera.ScreenToWorld(screen)

	switch self.tool {
	case ToolPan:
		self.state = GesturePanning
		self.mutex.Unlock()

	case ToolDraw:
		self.state = GestureDrawing
		self.preGesture = self.document.Snapshot()
		self.drawPoints = []Point{world}
		self.mutex.Unlock()
		self.presence.SetDraft(self.drawPoints)

	default:
		snapshot := self.document.Snapshot()
		if handle, layerId := self.handleAt(snapshot, world); handle != HandleNone {
			self.state = GestureResizingLayer
			self.preGesture = snapshot
			self.resizeHandle = handle
			self.resizeLayerId = layerId
			self.resizeStart = snapshot.Layers[layerId].Bounds()
			self.mutex.Unlock()
			return
		}
		if layerId := hitTest(snapshot, world); (layerId != Id{}) {
			self.state = GestureDraggingLayer
			self.preGesture = snapshot
			if !slices.Contains(self.selection, layerId) {
				self.selection = []Id{layerId}
			}
			self.dragOrigins = map[Id]Point{}
			for _, id := range self.selection {
				if layer, ok := snapshot.Layers[id]; ok {
					self.dragOrigins[id] = Point{X: layer.X, Y: layer.Y}
				}
			}
			selection := slices.Clone(self.selection)
			self.mutex.Unlock()
			self.presence.SetSelection(selection)
			return
		}
		self.state = GestureMarqueeSelecting
		self.marqueeStart = world
		self.marqueeRect = Rect{X: world.X, Y: world.Y}
		self.mutex.Unlock()
	}
}

func (self *GestureController) PointerMove(screen Point) {
	self.mutex.Lock()
	world := self.camera.ScreenToWorld(screen)
	dx := screen.X - self.lastScreen.X
	dy := screen.Y - self.lastScreen.Y
	self.lastScreen = screen

	switch self.state {
	case GestureZooming:
		// latched. single pointer input is not re-evaluated.
		self.mutex.Unlock()
		return

	case GesturePanning:
		self.camera = self.camera.Pan(dx, dy)
		camera := self.camera
		self.mutex.Unlock()
		self.presence.SetCamera(camera)

	case GestureDraggingLayer:
		startWorld := self.camera.ScreenToWorld(self.startScreen)
		worldDx := world.X - startWorld.X
		worldDy := world.Y - startWorld.Y
		origins := maps.Clone(self.dragOrigins)
		self.mutex.Unlock()
		// live patch on every move for cross peer feedback. only the
		// pointer up commit is undo-able.
		ids := maps.Keys(origins)
		slices.SortFunc(ids, Id.compare)
		for _, id := range ids {
			origin := origins[id]
			self.document.PatchLayer(id, map[string]any{
				FieldX: origin.X + worldDx,
				FieldY: origin.Y + worldDy,
			})
		}

	case GestureResizingLayer:
		startWorld := self.camera.ScreenToWorld(self.startScreen)
		bounds := resizeBounds(self.resizeStart, self.resizeHandle, world.X-startWorld.X, world.Y-startWorld.Y)
		layerId := self.resizeLayerId
		self.mutex.Unlock()
		self.document.PatchLayer(layerId, map[string]any{
			FieldX:      bounds.X,
			FieldY:      bounds.Y,
			FieldWidth:  bounds.Width,
			FieldHeight: bounds.Height,
		})

	case GestureMarqueeSelecting:
		self.marqueeRect = rectFromCorners(self.marqueeStart, world)
		self.mutex.Unlock()

	case GestureDrawing:
		self.drawPoints = append(self.drawPoints, world)
		draft := slices.Clone(self.drawPoints)
		self.mutex.Unlock()
		self.presence.SetDraft(draft)

	default:
		self.mutex.Unlock()
	}

	self.presence.SetCursor(&world)
}

func (self *GestureController) PointerUp(screen Point) {
	self.mutex.Lock()
	state := self.state

	switch state {
	case GestureZooming:
		// released by touch up only
		self.mutex.Unlock()
		return

	case GesturePanning:
		self.state = GestureIdle
		self.mutex.Unlock()

	case GestureDraggingLayer, GestureResizingLayer:
		self.state = GestureIdle
		self.preGesture = nil
		self.dragOrigins = map[Id]Point{}
		self.resizeHandle = HandleNone
		self.mutex.Unlock()
		// one grouped history entry per completed gesture
		self.history.Push()

	case GestureMarqueeSelecting:
		marquee := self.marqueeRect
		snapshot := self.document.Snapshot()
		selection := []Id{}
		for _, id := range snapshot.Order {
			if RectIntersects(marquee, layerHitBounds(snapshot.Layers[id])) {
				selection = append(selection, id)
			}
		}
		self.selection = selection
		self.state = GestureIdle
		self.mutex.Unlock()
		self.presence.SetSelection(selection)

	case GestureDrawing:
		points := self.drawPoints
		drawType := self.drawType
		self.drawPoints = nil
		self.state = GestureIdle
		self.preGesture = nil
		self.mutex.Unlock()
		self.presence.SetDraft(nil)
		if 2 <= len(points) {
			layer := layerFromDraft(drawType, points)
			if _, err := self.document.CreateLayer(layer); err != nil {
				glog.Infof("[gst]draw create error = %s\n", err)
			} else {
				self.history.Push()
			}
		}

	default:
		self.mutex.Unlock()
	}
}

// Cancel aborts the gesture in progress (escape key or a platform
// gesture-cancel). document mutations revert to the pre-gesture
// snapshot and no history entry is left behind.
func (self *GestureController) Cancel() {
	self.mutex.Lock()
	state := self.state
	preGesture := self.preGesture
	self.state = GestureIdle
	self.preGesture = nil
	self.dragOrigins = map[Id]Point{}
	self.resizeHandle = HandleNone
	self.drawPoints = nil
	self.touchPoints = map[int]Point{}
	self.mutex.Unlock()

	glog.V(1).Infof("[gst]cancel %s\n", state)
	switch state {
	case GestureDraggingLayer, GestureResizingLayer, GestureDrawing:
		if preGesture != nil {
			self.document.Replace(preGesture)
		}
		self.presence.SetDraft(nil)
	}
}

func (self *GestureController) TouchDown(touchId int, screen Point) {
	self.mutex.Lock()
	self.touchPoints[touchId] = screen

	if len(self.touchPoints) == 2 {
		// second touch point. latch into pinch zoom, pre-empting any
		// single pointer gesture unconditionally.
		preempted := self.state
		preGesture := self.preGesture
		self.state = GestureZooming
		self.preGesture = nil
		self.dragOrigins = map[Id]Point{}
		self.drawPoints = nil
		a, b := self.twoTouchPoints()
		self.pinchDistance = Distance(a, b)
		self.pinchCamera = self.camera
		self.pinchMid = Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
		self.mutex.Unlock()

		if preempted != GestureIdle && preempted != GestureZooming {
			glog.V(1).Infof("[gst]pinch preempts %s\n", preempted)
			switch preempted {
			case GestureDraggingLayer, GestureResizingLayer, GestureDrawing:
				if preGesture != nil {
					self.document.Replace(preGesture)
				}
				self.presence.SetDraft(nil)
			}
		}
		return
	}

	if 2 < len(self.touchPoints) || self.state == GestureZooming {
		// already pinching, extra fingers change nothing
		self.mutex.Unlock()
		return
	}

	// single touch behaves as a pointer
	self.mutex.Unlock()
	self.PointerDown(screen)
}

func (self *GestureController) TouchMove(touchId int, screen Point) {
	self.mutex.Lock()
	if _, ok := self.touchPoints[touchId]; !ok {
		self.mutex.Unlock()
		return
	}
	self.touchPoints[touchId] = screen

	if self.state == GestureZooming {
		if len(self.touchPoints) < 2 {
			// latched with one finger down. wait for full release.
			self.mutex.Unlock()
			return
		}
		a, b := self.twoTouchPoints()
		distance := Distance(a, b)
		if distance == 0 || self.pinchDistance == 0 {
			self.mutex.Unlock()
			return
		}
		mid := Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
		// pinch out shrinks world units per pixel
		newZoom := self.pinchCamera.Zoom * self.pinchDistance / distance
		camera := self.pinchCamera.
			Pan(mid.X-self.pinchMid.X, mid.Y-self.pinchMid.Y).
			ZoomAt(mid, newZoom, self.settings.ZoomMin, self.settings.ZoomMax)
		self.camera = camera
		self.mutex.Unlock()
		self.presence.SetCamera(camera)
		return
	}
	self.mutex.Unlock()

	self.PointerMove(screen)
}

func (self *GestureController) TouchUp(touchId int) {
	self.mutex.Lock()
	screen, ok := self.touchPoints[touchId]
	if !ok {
		self.mutex.Unlock()
		return
	}
	delete(self.touchPoints, touchId)

	if self.state == GestureZooming {
		if len(self.touchPoints) == 0 {
			self.state = GestureIdle
		}
		// with one finger still down, stay latched
		self.mutex.Unlock()
		return
	}
	self.mutex.Unlock()

	self.PointerUp(screen)
}

// ZoomBy applies a discrete wheel zoom about a screen pivot
func (self *GestureController) ZoomBy(pivotScreen Point, factor float64) {
	self.mutex.Lock()
	camera := self.camera.ZoomAt(pivotScreen, self.camera.Zoom*factor, self.settings.ZoomMin, self.settings.ZoomMax)
	self.camera = camera
	self.mutex.Unlock()
	self.presence.SetCamera(camera)
}

// caller holds the mutex
func (self *GestureController) twoTouchPoints() (Point, Point) {
	points := maps.Values(self.touchPoints)
	return points[0], points[1]
}

// caller holds the mutex. resize handles sit on the corners and edge
// midpoints of the selected layer's bounds, with a hit radius scaled
// by zoom.
func (self *GestureController) handleAt(snapshot *Snapshot, world Point) (ResizeHandle, Id) {
	if len(self.selection) != 1 {
		return HandleNone, Id{}
	}
	layerId := self.selection[0]
	layer, ok := snapshot.Layers[layerId]
	if !ok {
		return HandleNone, Id{}
	}
	bounds := layer.Bounds()
	radius := self.settings.HandleSize * self.camera.Zoom

	handles := []struct {
		handle ResizeHandle
		point  Point
	}{
		{HandleTopLeft, Point{X: bounds.X, Y: bounds.Y}},
		{HandleTop, Point{X: bounds.X + bounds.Width/2, Y: bounds.Y}},
		{HandleTopRight, Point{X: bounds.X + bounds.Width, Y: bounds.Y}},
		{HandleRight, Point{X: bounds.X + bounds.Width, Y: bounds.Y + bounds.Height/2}},
		{HandleBottomRight, Point{X: bounds.X + bounds.Width, Y: bounds.Y + bounds.Height}},
		{HandleBottom, Point{X: bounds.X + bounds.Width/2, Y: bounds.Y + bounds.Height}},
		{HandleBottomLeft, Point{X: bounds.X, Y: bounds.Y + bounds.Height}},
		{HandleLeft, Point{X: bounds.X, Y: bounds.Y + bounds.Height/2}},
	}
	for _, h := range handles {
		if Distance(h.point, world) <= radius {
			return h.handle, layerId
		}
	}
	return HandleNone, Id{}
}

// topmost live layer containing the point, or the zero id
func hitTest(snapshot *Snapshot, world Point) Id {
	for i := len(snapshot.Order) - 1; 0 <= i; i -= 1 {
		id := snapshot.Order[i]
		if PointInRect(world, layerHitBounds(snapshot.Layers[id])) {
			return id
		}
	}
	return Id{}
}

// hit bounds for every layer kind. arrows and lines hit on the box
// spanned by their endpoints since their x/y/width/height are unused.
func layerHitBounds(layer *Layer) Rect {
	switch layer.Type {
	case LayerTypeArrow, LayerTypeLine:
		return rectFromCorners(
			Point{X: layer.StartX, Y: layer.StartY},
			Point{X: layer.EndX, Y: layer.EndY},
		)
	case LayerTypePath:
		if 0 < len(layer.Points) {
			rects := make([]Rect, len(layer.Points))
			for i, p := range layer.Points {
				rects[i] = Rect{X: layer.X + p.X, Y: layer.Y + p.Y}
			}
			return BoundingBoxUnion(rects...)
		}
		return layer.Bounds()
	case LayerTypeRectangle, LayerTypeEllipse, LayerTypeNote, LayerTypeText,
		LayerTypeImage, LayerTypeTable, LayerTypeFrame:
		return layer.Bounds()
	default:
		return layer.Bounds()
	}
}

func rectFromCorners(a Point, b Point) Rect {
	return Rect{
		X:      min(a.X, b.X),
		Y:      min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

func resizeBounds(start Rect, handle ResizeHandle, dx float64, dy float64) Rect {
	bounds := start
	switch handle {
	case HandleTopLeft:
		bounds.X += dx
		bounds.Y += dy
		bounds.Width -= dx
		bounds.Height -= dy
	case HandleTop:
		bounds.Y += dy
		bounds.Height -= dy
	case HandleTopRight:
		bounds.Y += dy
		bounds.Width += dx
		bounds.Height -= dy
	case HandleRight:
		bounds.Width += dx
	case HandleBottomRight:
		bounds.Width += dx
		bounds.Height += dy
	case HandleBottom:
		bounds.Height += dy
	case HandleBottomLeft:
		bounds.X += dx
		bounds.Width -= dx
		bounds.Height += dy
	case HandleLeft:
		bounds.X += dx
		bounds.Width -= dx
	}
	bounds.Width = max(bounds.Width, 0)
	bounds.Height = max(bounds.Height, 0)
	return bounds
}

// a completed draft becomes a layer of the active draw type. freehand
// paths keep every point, relative to the layer origin so dragging the
// layer moves the stroke. endpoint types take the draft's first and
// last points, and box types span the corners between them.
func layerFromDraft(drawType LayerType, points []Point) *Layer {
	first := points[0]
	last := points[len(points)-1]
	switch drawType {
	case LayerTypeLine, LayerTypeArrow:
		return &Layer{
			Type:   drawType,
			StartX: first.X,
			StartY: first.Y,
			EndX:   last.X,
			EndY:   last.Y,
			Fill:   "#000000",
		}
	case LayerTypePath:
		rects := make([]Rect, len(points))
		for i, p := range points {
			rects[i] = Rect{X: p.X, Y: p.Y}
		}
		bounds := BoundingBoxUnion(rects...)
		relative := make([]Point, len(points))
		for i, p := range points {
			relative[i] = Point{X: p.X - bounds.X, Y: p.Y - bounds.Y}
		}
		return &Layer{
			Type:   LayerTypePath,
			X:      bounds.X,
			Y:      bounds.Y,
			Width:  bounds.Width,
			Height: bounds.Height,
			Points: relative,
			Fill:   "#000000",
		}
	default:
		bounds := rectFromCorners(first, last)
		return &Layer{
			Type:   drawType,
			X:      bounds.X,
			Y:      bounds.Y,
			Width:  bounds.Width,
			Height: bounds.Height,
			Fill:   "#000000",
		}
	}
}
