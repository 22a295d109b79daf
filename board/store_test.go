package board

import (
	"bytes"
	"slices"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	store, err := OpenSnapshotStore(t.TempDir())
	assert.Equal(t, nil, err)
	defer store.Close()

	document := NewDocumentStore(NewId())
	rectId, _ := document.CreateLayer(&Layer{
		Type: LayerTypeRectangle, X: 10, Y: 20, Width: 100, Height: 50, Fill: "#336699",
	})
	document.CreateLayer(&Layer{
		Type: LayerTypeNote, Text: "hello", Points: nil,
	})
	snapshot := document.Snapshot()

	err = store.Save("room-a", snapshot)
	assert.Equal(t, nil, err)

	loaded, ok, err := store.Load("room-a")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, true, bytes.Equal(snapshot.Serialize(), loaded.Serialize()))
	assert.Equal(t, float64(10), loaded.Layers[rectId].X)

	// a reset from the loaded snapshot reconstructs a usable document
	restored := NewDocumentStore(NewId())
	restored.ResetFromSnapshot(loaded, nil)
	assert.Equal(t, "#336699", restored.GetLayer(rectId).Fill)
	assert.Equal(t, snapshot.Order, restored.Snapshot().Order)
}

func TestSnapshotStoreMissingRoom(t *testing.T) {
	store, err := OpenSnapshotStore(t.TempDir())
	assert.Equal(t, nil, err)
	defer store.Close()

	snapshot, ok, err := store.Load("nope")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)
	assert.Equal(t, nil, snapshot)
}

func TestSnapshotStoreOverwriteAndList(t *testing.T) {
	store, err := OpenSnapshotStore(t.TempDir())
	assert.Equal(t, nil, err)
	defer store.Close()

	document := NewDocumentStore(NewId())
	layerId, _ := document.CreateLayer(&Layer{Type: LayerTypeEllipse})
	store.Save("room-a", document.Snapshot())
	store.Save("room-b", document.Snapshot())

	document.PatchLayer(layerId, map[string]any{FieldFill: "#ffffff"})
	store.Save("room-a", document.Snapshot())

	loaded, ok, _ := store.Load("room-a")
	assert.Equal(t, true, ok)
	assert.Equal(t, "#ffffff", loaded.Layers[layerId].Fill)

	roomIds, err := store.RoomIds()
	assert.Equal(t, nil, err)
	slices.Sort(roomIds)
	assert.Equal(t, []string{"room-a", "room-b"}, roomIds)
}
