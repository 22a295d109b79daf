package board

import (
	"slices"

	"github.com/golang/glog"
)

// keeps attached arrows consistent with the geometry of the layers
// they reference. arrows hold weak, id-only references, so the router
// looks layers up in the document on every commit rather than holding
// pointers. the rerouted endpoints are patched back into the document,
// which keeps each arrow an independently renderable object.
type ConnectionRouter struct {
	document *DocumentStore

	unsub func()
}

func NewConnectionRouter(document *DocumentStore) *ConnectionRouter {
	router := &ConnectionRouter{
		document: document,
	}
	router.unsub = document.AddCommitCallback(router.handleCommit)
	return router
}

func (self *ConnectionRouter) Close() {
	self.unsub()
}

func (self *ConnectionRouter) handleCommit(commit *Commit) {
	if commit.Deleted {
		self.detachArrows(commit.LayerId)
		return
	}
	if commit.Created || slices.ContainsFunc(commit.Fields, GeometryField) {
		self.rerouteArrows(commit.LayerId)
	}
}

// rerouteArrows recomputes every arrow that references the moved layer
func (self *ConnectionRouter) rerouteArrows(movedId Id) {
	snapshot := self.document.Snapshot()
	moved, ok := snapshot.Layers[movedId]
	if !ok {
		return
	}
	if moved.Type == LayerTypeArrow {
		// the moved layer is itself an arrow. route it once in case
		// its attachments changed.
		self.RouteArrow(movedId)
		return
	}
	for _, arrowId := range snapshot.Order {
		arrow := snapshot.Layers[arrowId]
		if arrow.Type != LayerTypeArrow {
			continue
		}
		if arrow.SourceLayerId == movedId || arrow.TargetLayerId == movedId {
			self.routeArrow(snapshot, arrow)
		}
	}
}

// RouteArrow recomputes one arrow's endpoints and control points from
// its referenced layers' current geometry plus the stored sides.
func (self *ConnectionRouter) RouteArrow(arrowId Id) {
	snapshot := self.document.Snapshot()
	arrow, ok := snapshot.Layers[arrowId]
	if !ok || arrow.Type != LayerTypeArrow {
		return
	}
	self.routeArrow(snapshot, arrow)
}

func (self *ConnectionRouter) routeArrow(snapshot *Snapshot, arrow *Layer) {
	start := Point{X: arrow.StartX, Y: arrow.StartY}
	end := Point{X: arrow.EndX, Y: arrow.EndY}

	if (arrow.SourceLayerId != Id{}) {
		if source, ok := snapshot.Layers[arrow.SourceLayerId]; ok {
			start = EdgeAnchorPoint(source.Bounds(), arrow.SourceSide)
		}
	}
	if (arrow.TargetLayerId != Id{}) {
		if target, ok := snapshot.Layers[arrow.TargetLayerId]; ok {
			end = EdgeAnchorPoint(target.Bounds(), arrow.TargetSide)
		}
	}

	fields := map[string]any{}
	if start.X != arrow.StartX {
		fields[FieldStartX] = start.X
	}
	if start.Y != arrow.StartY {
		fields[FieldStartY] = start.Y
	}
	if end.X != arrow.EndX {
		fields[FieldEndX] = end.X
	}
	if end.Y != arrow.EndY {
		fields[FieldEndY] = end.Y
	}
	if arrow.Curved {
		cp1, cp2 := AutoCurveControlPoints(start, end, arrow.SourceSide, arrow.TargetSide)
		if cp1 != arrow.ControlPoint1 {
			fields[FieldControlPoint1] = cp1
		}
		if cp2 != arrow.ControlPoint2 {
			fields[FieldControlPoint2] = cp2
		}
	}
	if len(fields) == 0 {
		return
	}
	glog.V(2).Infof("[rt]route %s\n", arrow.Id)
	self.document.PatchLayer(arrow.Id, fields)
}

// detachArrows clears dangling references to a deleted layer. the
// arrow itself is never removed. it stays free floating at its last
// known geometry.
func (self *ConnectionRouter) detachArrows(deletedId Id) {
	snapshot := self.document.Snapshot()
	for _, arrowId := range snapshot.Order {
		arrow := snapshot.Layers[arrowId]
		if arrow.Type != LayerTypeArrow {
			continue
		}
		fields := map[string]any{}
		if arrow.SourceLayerId == deletedId {
			fields[FieldSourceLayerId] = nil
			fields[FieldSourceSide] = nil
		}
		if arrow.TargetLayerId == deletedId {
			fields[FieldTargetLayerId] = nil
			fields[FieldTargetSide] = nil
		}
		if 0 < len(fields) {
			glog.V(1).Infof("[rt]detach %s from %s\n", arrow.Id, deletedId)
			self.document.PatchLayer(arrow.Id, fields)
		}
	}
}
