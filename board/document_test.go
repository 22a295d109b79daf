package board

import (
	"bytes"
	mathrand "math/rand"
	"slices"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDocumentCreatePatchDelete(t *testing.T) {
	document := NewDocumentStore(NewId())

	layerId, err := document.CreateLayer(&Layer{
		Type:   LayerTypeRectangle,
		X:      10,
		Y:      20,
		Width:  100,
		Height: 50,
		Fill:   "#ff0000",
	})
	assert.Equal(t, nil, err)

	snapshot := document.Snapshot()
	assert.Equal(t, 1, len(snapshot.Layers))
	assert.Equal(t, []Id{layerId}, snapshot.Order)
	assert.Equal(t, float64(10), snapshot.Layers[layerId].X)

	document.PatchLayer(layerId, map[string]any{
		FieldX:    float64(200),
		FieldFill: "#00ff00",
	})
	layer := document.GetLayer(layerId)
	assert.Equal(t, float64(200), layer.X)
	assert.Equal(t, "#00ff00", layer.Fill)

	document.DeleteLayer(layerId)
	snapshot = document.Snapshot()
	assert.Equal(t, 0, len(snapshot.Layers))
	assert.Equal(t, 0, len(snapshot.Order))
	assert.Equal(t, nil, document.GetLayer(layerId))
}

func TestDocumentInvalidType(t *testing.T) {
	document := NewDocumentStore(NewId())
	_, err := document.CreateLayer(&Layer{
		Type: LayerType("hexagon"),
	})
	assert.NotEqual(t, nil, err)
}

func TestDocumentNegativeSizeClamps(t *testing.T) {
	document := NewDocumentStore(NewId())
	layerId, _ := document.CreateLayer(&Layer{
		Type:   LayerTypeRectangle,
		Width:  -10,
		Height: 100,
	})
	layer := document.GetLayer(layerId)
	assert.Equal(t, float64(0), layer.Width)

	document.PatchLayer(layerId, map[string]any{
		FieldHeight: float64(-5),
	})
	layer = document.GetLayer(layerId)
	assert.Equal(t, float64(0), layer.Height)
}

func TestDocumentStaleReferenceNoOp(t *testing.T) {
	document := NewDocumentStore(NewId())

	// patching and deleting unknown targets must not crash or change
	// anything
	document.PatchLayer(NewId(), map[string]any{FieldX: float64(1)})
	document.DeleteLayer(NewId())
	document.Reorder(NewId(), 0)
	assert.Equal(t, 0, len(document.Snapshot().Layers))

	// remote op for an unknown target changes no visible state
	document.ApplyRemote(&Op{
		TargetId: NewId(),
		Field:    FieldFill,
		Value:    "#123456",
		Origin:   NewId(),
		Clock:    99,
	})
	assert.Equal(t, 0, len(document.Snapshot().Layers))
}

func TestDocumentReorder(t *testing.T) {
	document := NewDocumentStore(NewId())
	a, _ := document.CreateLayer(&Layer{Type: LayerTypeRectangle})
	b, _ := document.CreateLayer(&Layer{Type: LayerTypeNote})
	c, _ := document.CreateLayer(&Layer{Type: LayerTypeEllipse})
	assert.Equal(t, []Id{a, b, c}, document.Snapshot().Order)

	// later in the sequence paints on top
	document.Reorder(a, 2)
	assert.Equal(t, []Id{b, c, a}, document.Snapshot().Order)

	document.Reorder(a, 0)
	assert.Equal(t, []Id{a, b, c}, document.Snapshot().Order)

	document.Reorder(b, 1)
	assert.Equal(t, []Id{a, b, c}, document.Snapshot().Order)
}

// two replicas concurrently patch the same field. the higher clock
// wins on both sides after merge.
func TestDocumentLastWriterWins(t *testing.T) {
	a := NewDocumentStore(NewId())
	b := NewDocumentStore(NewId())
	relay(t, a, b)

	layerId, _ := a.CreateLayer(&Layer{
		Type: LayerTypeRectangle,
		Fill: "#000000",
	})
	assert.NotEqual(t, nil, b.GetLayer(layerId))

	opA := &Op{
		TargetId: layerId,
		Field:    FieldFill,
		Value:    "#aaaaaa",
		Origin:   a.Origin(),
		Clock:    100,
	}
	opB := &Op{
		TargetId: layerId,
		Field:    FieldFill,
		Value:    "#bbbbbb",
		Origin:   b.Origin(),
		Clock:    101,
	}

	// different arrival orders on each side
	a.ApplyRemote(opA)
	a.ApplyRemote(opB)
	b.ApplyRemote(opB)
	b.ApplyRemote(opA)

	assert.Equal(t, "#bbbbbb", a.GetLayer(layerId).Fill)
	assert.Equal(t, "#bbbbbb", b.GetLayer(layerId).Fill)
}

func TestDocumentEqualClockTieBreak(t *testing.T) {
	a := NewDocumentStore(NewId())
	layerId, _ := a.CreateLayer(&Layer{Type: LayerTypeRectangle})

	originLow := RequireIdFromBytes(bytes.Repeat([]byte{0x01}, 16))
	originHigh := RequireIdFromBytes(bytes.Repeat([]byte{0x02}, 16))

	opLow := &Op{TargetId: layerId, Field: FieldFill, Value: "#low", Origin: originLow, Clock: 50}
	opHigh := &Op{TargetId: layerId, Field: FieldFill, Value: "#high", Origin: originHigh, Clock: 50}

	// the higher origin id wins the tie in either order
	a.ApplyRemote(opHigh)
	a.ApplyRemote(opLow)
	assert.Equal(t, "#high", a.GetLayer(layerId).Fill)

	b := NewDocumentStore(NewId())
	bLayer := a.GetLayer(layerId)
	bLayer.Fill = ""
	b.ApplyRemote(&Op{TargetId: layerId, Field: FieldExistence, Value: bLayer, Origin: originLow, Clock: 1})
	b.ApplyRemote(opLow)
	b.ApplyRemote(opHigh)
	assert.Equal(t, "#high", b.GetLayer(layerId).Fill)
}

func TestDocumentDeleteWinsOverConcurrentPatch(t *testing.T) {
	a := NewDocumentStore(NewId())
	b := NewDocumentStore(NewId())
	relay(t, a, b)

	layerId, _ := a.CreateLayer(&Layer{Type: LayerTypeNote, Text: "hello"})

	// concurrent: b patches while a deletes, same clock
	patch := &Op{TargetId: layerId, Field: FieldText, Value: "bye", Origin: b.Origin(), Clock: 10}
	del := &Op{TargetId: layerId, Field: FieldExistence, Value: nil, Origin: a.Origin(), Clock: 10}

	a.ApplyRemote(patch)
	a.ApplyRemote(del)
	b.ApplyRemote(del)
	b.ApplyRemote(patch)

	assert.Equal(t, nil, a.GetLayer(layerId))
	assert.Equal(t, nil, b.GetLayer(layerId))
}

// for any set of concurrent operations applied to two replicas in
// different orders, both replicas reach identical state
func TestDocumentConvergence(t *testing.T) {
	for trial := 0; trial < 20; trial += 1 {
		source := NewDocumentStore(NewId())
		ops := []*Op{}
		source.AddOpCallback(func(op *Op) {
			ops = append(ops, op)
		})

		// random edit session
		layerIds := []Id{}
		for i := 0; i < 8; i += 1 {
			layerId, err := source.CreateLayer(&Layer{
				Type:  LayerTypes[mathrand.Intn(len(LayerTypes))],
				X:     float64(mathrand.Intn(1000)),
				Y:     float64(mathrand.Intn(1000)),
				Width: float64(mathrand.Intn(300)),
				Fill:  "#cccccc",
			})
			assert.Equal(t, nil, err)
			layerIds = append(layerIds, layerId)
		}
		for i := 0; i < 40; i += 1 {
			layerId := layerIds[mathrand.Intn(len(layerIds))]
			switch mathrand.Intn(4) {
			case 0:
				source.PatchLayer(layerId, map[string]any{
					FieldX: float64(mathrand.Intn(1000)),
				})
			case 1:
				source.PatchLayer(layerId, map[string]any{
					FieldFill: "#00ff00",
				})
			case 2:
				source.Reorder(layerId, mathrand.Intn(len(layerIds)))
			case 3:
				source.DeleteLayer(layerId)
			}
		}

		// apply the full op set to two fresh replicas in different
		// random orders
		replicaA := NewDocumentStore(NewId())
		replicaB := NewDocumentStore(NewId())

		opsA := slices.Clone(ops)
		opsB := slices.Clone(ops)
		mathrand.Shuffle(len(opsA), func(i int, j int) {
			opsA[i], opsA[j] = opsA[j], opsA[i]
		})
		mathrand.Shuffle(len(opsB), func(i int, j int) {
			opsB[i], opsB[j] = opsB[j], opsB[i]
		})
		for _, op := range opsA {
			replicaA.ApplyRemote(op)
		}
		for _, op := range opsB {
			replicaB.ApplyRemote(op)
		}

		assert.Equal(t, true, bytes.Equal(
			replicaA.Snapshot().Serialize(),
			replicaB.Snapshot().Serialize(),
		))
		assert.Equal(t, true, bytes.Equal(
			source.Snapshot().Serialize(),
			replicaA.Snapshot().Serialize(),
		))
	}
}

func TestDocumentReplaceReplicates(t *testing.T) {
	a := NewDocumentStore(NewId())
	b := NewDocumentStore(NewId())
	relay(t, a, b)

	layerId, _ := a.CreateLayer(&Layer{Type: LayerTypeRectangle, Fill: "#111111"})
	before := a.Snapshot()

	a.PatchLayer(layerId, map[string]any{FieldFill: "#222222"})
	otherId, _ := a.CreateLayer(&Layer{Type: LayerTypeNote})
	assert.Equal(t, "#222222", b.GetLayer(layerId).Fill)
	assert.NotEqual(t, nil, b.GetLayer(otherId))

	// replacing with the old snapshot reverts both replicas, since
	// the replacement is expressed as ordinary operations
	a.Replace(before)
	assert.Equal(t, "#111111", a.GetLayer(layerId).Fill)
	assert.Equal(t, "#111111", b.GetLayer(layerId).Fill)
	assert.Equal(t, nil, a.GetLayer(otherId))
	assert.Equal(t, nil, b.GetLayer(otherId))
}

func TestDocumentResetFromSnapshot(t *testing.T) {
	a := NewDocumentStore(NewId())
	layerId, _ := a.CreateLayer(&Layer{Type: LayerTypeRectangle, X: 5})
	snapshot := a.Snapshot()

	b := NewDocumentStore(NewId())
	staleId, _ := b.CreateLayer(&Layer{Type: LayerTypeNote})
	b.ResetFromSnapshot(snapshot, nil)

	assert.Equal(t, nil, b.GetLayer(staleId))
	assert.Equal(t, float64(5), b.GetLayer(layerId).X)
	assert.Equal(t, []Id{layerId}, b.Snapshot().Order)
}

// reconnect reconciliation: the authoritative snapshot carries its
// register clocks, so a re-merged in-flight op wins or loses locally
// exactly as it does at the authority
func TestDocumentResetKeepsRegisterClocks(t *testing.T) {
	authority := NewDocumentStore(ServerOrigin)
	client := NewDocumentStore(NewId())

	layerId, _ := authority.CreateLayer(&Layer{Type: LayerTypeRectangle, Fill: "#base"})

	// the client's edit was in flight when the connection dropped
	stale := &Op{TargetId: layerId, Field: FieldFill, Value: "#client", Origin: client.Origin(), Clock: 2}
	// meanwhile a peer write with a higher clock landed
	authority.ApplyRemote(&Op{TargetId: layerId, Field: FieldFill, Value: "#peer", Origin: NewId(), Clock: 100})

	client.ResetFromSnapshot(authority.Snapshot(), authority.RegisterClocks())
	client.ApplyRemote(stale)
	authority.ApplyRemote(stale)

	assert.Equal(t, "#peer", authority.GetLayer(layerId).Fill)
	assert.Equal(t, "#peer", client.GetLayer(layerId).Fill)

	// an in-flight edit that still wins applies on both sides
	fresh := &Op{TargetId: layerId, Field: FieldFill, Value: "#fresh", Origin: client.Origin(), Clock: 200}
	client.ApplyRemote(fresh)
	authority.ApplyRemote(fresh)
	assert.Equal(t, "#fresh", authority.GetLayer(layerId).Fill)
	assert.Equal(t, "#fresh", client.GetLayer(layerId).Fill)
}

func TestDocumentResetCarriesTombstones(t *testing.T) {
	authority := NewDocumentStore(ServerOrigin)
	client := NewDocumentStore(NewId())

	layerId, _ := authority.CreateLayer(&Layer{Type: LayerTypeNote})
	authority.ApplyRemote(&Op{TargetId: layerId, Field: FieldExistence, Value: nil, Origin: NewId(), Clock: 100})

	client.ResetFromSnapshot(authority.Snapshot(), authority.RegisterClocks())

	// a redelivered stale create cannot revive the deleted layer
	client.ApplyRemote(&Op{
		TargetId: layerId,
		Field:    FieldExistence,
		Value:    &Layer{Id: layerId, Type: LayerTypeNote},
		Origin:   client.Origin(),
		Clock:    2,
	})
	assert.Equal(t, nil, client.GetLayer(layerId))
}

// wires two stores together so each one's local ops apply to the other
func relay(t *testing.T, a *DocumentStore, b *DocumentStore) {
	a.AddOpCallback(func(op *Op) {
		b.ApplyRemote(op)
	})
	b.AddOpCallback(func(op *Op) {
		a.ApplyRemote(op)
	})
}
