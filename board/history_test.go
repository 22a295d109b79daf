package board

import (
	"bytes"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHistoryUndoRedo(t *testing.T) {
	document := NewDocumentStore(NewId())
	history := NewHistoryWithDefaults(document)

	layerId, _ := document.CreateLayer(&Layer{Type: LayerTypeRectangle, X: 0})
	history.Push()
	document.PatchLayer(layerId, map[string]any{FieldX: float64(100)})
	history.Push()

	assert.Equal(t, true, history.CanUndo())
	assert.Equal(t, false, history.CanRedo())

	beforeUndo := document.Snapshot().Serialize()

	snapshot := history.Undo()
	assert.NotEqual(t, nil, snapshot)
	assert.Equal(t, float64(0), document.GetLayer(layerId).X)
	assert.Equal(t, true, history.CanRedo())

	// undo then redo restores the exact pre-undo state
	history.Redo()
	assert.Equal(t, float64(100), document.GetLayer(layerId).X)
	assert.Equal(t, true, bytes.Equal(beforeUndo, document.Snapshot().Serialize()))

	// redo with an empty future is a no-op
	assert.Equal(t, false, history.CanRedo())
	assert.Equal(t, nil, history.Redo())
}

func TestHistoryUndoEmpty(t *testing.T) {
	document := NewDocumentStore(NewId())
	history := NewHistoryWithDefaults(document)
	assert.Equal(t, false, history.CanUndo())
	assert.Equal(t, nil, history.Undo())
}

func TestHistoryPushUnchangedIsNoOp(t *testing.T) {
	document := NewDocumentStore(NewId())
	history := NewHistoryWithDefaults(document)

	document.CreateLayer(&Layer{Type: LayerTypeNote})
	history.Push()
	assert.Equal(t, true, history.CanUndo())

	history.Undo()
	assert.Equal(t, false, history.CanUndo())

	// nothing changed since the last push
	history.Redo()
	history.Push()
	history.Push()
	history.Undo()
	assert.Equal(t, false, history.CanUndo())
}

func TestHistoryNewEditClearsFuture(t *testing.T) {
	document := NewDocumentStore(NewId())
	history := NewHistoryWithDefaults(document)

	layerId, _ := document.CreateLayer(&Layer{Type: LayerTypeRectangle, Fill: "#1"})
	history.Push()
	document.PatchLayer(layerId, map[string]any{FieldFill: "#2"})
	history.Push()

	history.Undo()
	assert.Equal(t, true, history.CanRedo())

	// a new branch invalidates the redo future
	document.PatchLayer(layerId, map[string]any{FieldFill: "#3"})
	history.Push()
	assert.Equal(t, false, history.CanRedo())
}

func TestHistoryBoundedWindow(t *testing.T) {
	document := NewDocumentStore(NewId())
	history := NewHistory(document, &HistorySettings{WindowSize: 3})

	layerId, _ := document.CreateLayer(&Layer{Type: LayerTypeRectangle})
	history.Push()
	for i := 0; i < 10; i += 1 {
		document.PatchLayer(layerId, map[string]any{FieldX: float64(i)})
		history.Push()
	}

	undos := 0
	for history.CanUndo() {
		history.Undo()
		undos += 1
	}
	assert.Equal(t, 3, undos)
}

// one participant's undo reverts shared layers for all peers once
// replicated, but does not touch the peer's own stack
func TestHistoryUndoReplicates(t *testing.T) {
	a := NewDocumentStore(NewId())
	b := NewDocumentStore(NewId())
	relay(t, a, b)

	historyA := NewHistoryWithDefaults(a)
	historyB := NewHistoryWithDefaults(b)

	layerId, _ := a.CreateLayer(&Layer{Type: LayerTypeRectangle, Fill: "#old"})
	historyA.Push()
	a.PatchLayer(layerId, map[string]any{FieldFill: "#new"})
	historyA.Push()

	assert.Equal(t, "#new", b.GetLayer(layerId).Fill)

	historyA.Undo()
	assert.Equal(t, "#old", a.GetLayer(layerId).Fill)
	assert.Equal(t, "#old", b.GetLayer(layerId).Fill)
	assert.Equal(t, false, historyB.CanUndo())
}
