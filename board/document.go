package board

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

/*
Replicated layer document with properties:
- local mutations apply immediately and are queued outbound
- remote operations merge with last-writer-wins per field
- ties break by logical clock then origin id, so all replicas
  converge to the same state given the same operation set,
  regardless of arrival order
- deletes are terminal against concurrent patches
- paint order is a fractional position merged as an ordinary field

Every mutation is an Op{targetId, field, value, origin, clock}.
Creation and deletion ride the synthetic existence field.
*/

type Op struct {
	TargetId Id     `json:"targetId"`
	Field    string `json:"field"`
	Value    any    `json:"value,omitempty"`
	Origin   Id     `json:"origin"`
	Clock    uint64 `json:"clock"`
}

func (self *Op) String() string {
	return fmt.Sprintf("%s.%s@%d(%s)", self.TargetId, self.Field, self.Clock, self.Origin)
}

// outbound operation listener
type OpFunction func(op *Op)

// committed-change listener. fires for local and remote commits.
type CommitFunction func(commit *Commit)

type Commit struct {
	LayerId Id
	Fields  []string
	Created bool
	Deleted bool
}

// a per-field register. the winner of all operations seen for one
// (target, field), ordered by (clock, origin).
type register struct {
	clock  uint64
	origin Id
	value  any
}

// beatenBy reports whether an op at (clock, origin) wins this register
func (self *register) beatenBy(clock uint64, origin Id) bool {
	if self.clock != clock {
		return self.clock < clock
	}
	return self.origin.LessThan(origin)
}

type layerState struct {
	// nil while the layer is not live
	layer *Layer

	// existence register. dead beats live on clock ties, so a
	// concurrent delete always wins.
	existenceClock  uint64
	existenceOrigin Id
	live            bool
	everLive        bool

	position float64
	fields   map[string]*register
}

// wins reports whether an existence op (clock, origin, live) beats the
// current existence register.
func (self *layerState) existenceWins(clock uint64, origin Id, live bool) bool {
	if self.existenceClock != clock {
		return self.existenceClock < clock
	}
	if self.live != live {
		// tie: dead wins
		return !live
	}
	return self.existenceOrigin.LessThan(origin)
}

type Snapshot struct {
	Layers    map[Id]*Layer  `json:"layers"`
	Positions map[Id]float64 `json:"positions"`
	// live layer ids in paint order, later on top
	Order []Id `json:"order"`
}

func (self *Snapshot) Clone() *Snapshot {
	layers := map[Id]*Layer{}
	for id, layer := range self.Layers {
		layers[id] = layer.Clone()
	}
	return &Snapshot{
		Layers:    layers,
		Positions: maps.Clone(self.Positions),
		Order:     slices.Clone(self.Order),
	}
}

// serialized form used for history equality checks
func (self *Snapshot) Serialize() []byte {
	b, err := json.Marshal(self)
	if err != nil {
		panic(err)
	}
	return b
}

type DocumentStore struct {
	origin Id

	mutex  sync.Mutex
	clock  uint64
	states map[Id]*layerState

	opCallbacks     *CallbackList[OpFunction]
	commitCallbacks *CallbackList[CommitFunction]
}

func NewDocumentStore(origin Id) *DocumentStore {
	return &DocumentStore{
		origin:          origin,
		states:          map[Id]*layerState{},
		opCallbacks:     NewCallbackList[OpFunction](),
		commitCallbacks: NewCallbackList[CommitFunction](),
	}
}

func (self *DocumentStore) Origin() Id {
	return self.origin
}

// registers a listener for outbound local operations
func (self *DocumentStore) AddOpCallback(opCallback OpFunction) func() {
	callbackId := self.opCallbacks.Add(opCallback)
	return func() {
		self.opCallbacks.Remove(callbackId)
	}
}

func (self *DocumentStore) AddCommitCallback(commitCallback CommitFunction) func() {
	callbackId := self.commitCallbacks.Add(commitCallback)
	return func() {
		self.commitCallbacks.Remove(callbackId)
	}
}

func (self *DocumentStore) nextClock() uint64 {
	self.clock += 1
	return self.clock
}

func (self *DocumentStore) state(targetId Id) *layerState {
	s, ok := self.states[targetId]
	if !ok {
		s = &layerState{
			fields: map[string]*register{},
		}
		self.states[targetId] = s
	}
	return s
}

// CreateLayer assigns a fresh id when the spec carries none, appends
// the layer at the sequence tail, and replicates the creation.
func (self *DocumentStore) CreateLayer(layer *Layer) (Id, error) {
	if !ValidLayerType(layer.Type) {
		return Id{}, fmt.Errorf("invalid layer type %s", layer.Type)
	}

	self.mutex.Lock()
	layer = layer.Clone()
	if (layer.Id == Id{}) {
		layer.Id = NewId()
	}
	layer.Width = max(layer.Width, 0)
	layer.Height = max(layer.Height, 0)

	createOp := &Op{
		TargetId: layer.Id,
		Field:    FieldExistence,
		Value:    layer,
		Origin:   self.origin,
		Clock:    self.nextClock(),
	}
	positionOp := &Op{
		TargetId: layer.Id,
		Field:    FieldPosition,
		Value:    self.tailPosition(),
		Origin:   self.origin,
		Clock:    self.nextClock(),
	}
	commits := []*Commit{}
	commits = append(commits, self.merge(createOp)...)
	commits = append(commits, self.merge(positionOp)...)
	self.mutex.Unlock()

	self.emit([]*Op{createOp, positionOp})
	self.commit(commits)
	return layer.Id, nil
}

// PatchLayer applies partial fields to an existing layer. patching a
// deleted or unknown layer is a logged no-op.
func (self *DocumentStore) PatchLayer(targetId Id, fields map[string]any) {
	self.mutex.Lock()
	s, ok := self.states[targetId]
	if !ok || !s.live {
		self.mutex.Unlock()
		glog.V(2).Infof("[doc]patch drop %s (no target)\n", targetId)
		return
	}
	ops := []*Op{}
	commits := []*Commit{}
	// deterministic op order
	fieldNames := maps.Keys(fields)
	slices.Sort(fieldNames)
	for _, field := range fieldNames {
		op := &Op{
			TargetId: targetId,
			Field:    field,
			Value:    fields[field],
			Origin:   self.origin,
			Clock:    self.nextClock(),
		}
		ops = append(ops, op)
		commits = append(commits, self.merge(op)...)
	}
	self.mutex.Unlock()

	self.emit(ops)
	self.commit(commits)
}

// DeleteLayer removes the layer from map and sequence. terminal: a
// concurrent patch can never resurrect it.
func (self *DocumentStore) DeleteLayer(targetId Id) {
	self.mutex.Lock()
	s, ok := self.states[targetId]
	if !ok || !s.live {
		self.mutex.Unlock()
		glog.V(2).Infof("[doc]delete drop %s (no target)\n", targetId)
		return
	}
	op := &Op{
		TargetId: targetId,
		Field:    FieldExistence,
		Value:    nil,
		Origin:   self.origin,
		Clock:    self.nextClock(),
	}
	commits := self.merge(op)
	self.mutex.Unlock()

	self.emit([]*Op{op})
	self.commit(commits)
}

// Reorder moves the layer to newIndex in the paint order.
// concurrent reorders converge because position is itself a
// last-writer-wins field, and the final order compares
// (position, clock, origin).
func (self *DocumentStore) Reorder(targetId Id, newIndex int) {
	self.mutex.Lock()
	s, ok := self.states[targetId]
	if !ok || !s.live {
		self.mutex.Unlock()
		glog.V(2).Infof("[doc]reorder drop %s (no target)\n", targetId)
		return
	}
	order := self.order()
	order = slices.DeleteFunc(order, func(id Id) bool {
		return id == targetId
	})
	newIndex = max(0, min(newIndex, len(order)))

	var position float64
	switch {
	case len(order) == 0:
		position = positionStep
	case newIndex == 0:
		position = self.states[order[0]].position - positionStep
	case newIndex == len(order):
		position = self.states[order[len(order)-1]].position + positionStep
	default:
		before := self.states[order[newIndex-1]].position
		after := self.states[order[newIndex]].position
		position = (before + after) / 2
	}

	op := &Op{
		TargetId: targetId,
		Field:    FieldPosition,
		Value:    position,
		Origin:   self.origin,
		Clock:    self.nextClock(),
	}
	commits := self.merge(op)
	self.mutex.Unlock()

	self.emit([]*Op{op})
	self.commit(commits)
}

// ApplyRemote merges one replicated operation from a peer.
func (self *DocumentStore) ApplyRemote(op *Op) {
	self.mutex.Lock()
	// lamport merge so later local ops order after everything seen
	self.clock = max(self.clock, op.Clock)
	commits := self.merge(op)
	self.mutex.Unlock()

	glog.V(2).Infof("[doc]<- %s\n", op)
	self.commit(commits)
}

// merge joins one op into the register state. caller holds the mutex.
// returns the commits to publish after unlock.
func (self *DocumentStore) merge(op *Op) []*Commit {
	if op.Field == FieldExistence {
		return self.mergeExistence(op)
	}

	s, ok := self.states[op.TargetId]
	if !ok {
		// stale reference. hold the register so a late-arriving
		// create still converges, but the layer stays nonexistent.
		glog.V(2).Infof("[doc]stale %s\n", op)
		s = self.state(op.TargetId)
	}

	r, ok := s.fields[op.Field]
	if ok && !r.beatenBy(op.Clock, op.Origin) {
		// lost the field register
		return nil
	}
	s.fields[op.Field] = &register{
		clock:  op.Clock,
		origin: op.Origin,
		value:  op.Value,
	}

	if !s.live {
		return nil
	}
	if op.Field == FieldPosition {
		if err := applyFloat(&s.position, op.Value); err != nil {
			glog.Infof("[doc]bad position %s = %s\n", op, err)
			return nil
		}
		return []*Commit{{LayerId: op.TargetId, Fields: []string{FieldPosition}}}
	}
	if err := s.layer.ApplyField(op.Field, op.Value); err != nil {
		glog.Infof("[doc]bad field %s = %s\n", op, err)
		return nil
	}
	return []*Commit{{LayerId: op.TargetId, Fields: []string{op.Field}}}
}

func (self *DocumentStore) mergeExistence(op *Op) []*Commit {
	s := self.state(op.TargetId)
	live := op.Value != nil
	if !s.existenceWins(op.Clock, op.Origin, live) {
		return nil
	}

	wasLive := s.live
	s.existenceClock = op.Clock
	s.existenceOrigin = op.Origin
	s.live = live

	if !live {
		s.layer = nil
		if !wasLive {
			return nil
		}
		return []*Commit{{LayerId: op.TargetId, Deleted: true}}
	}

	base, err := layerFromValue(op.Value)
	if err != nil {
		glog.Infof("[doc]bad create %s = %s\n", op, err)
		s.live = false
		return nil
	}
	base.Id = op.TargetId

	// a winning create supersedes every older field register with its
	// own content, while registers newer than the create overlay it.
	// this keeps the merge order-independent around delete/recreate.
	for _, field := range diffableFields {
		if r, ok := s.fields[field]; ok && !r.beatenBy(op.Clock, op.Origin) {
			if err := base.ApplyField(field, r.value); err != nil {
				glog.Infof("[doc]bad overlay %s.%s = %s\n", op.TargetId, field, err)
			}
			continue
		}
		value, err := base.FieldValue(field)
		if err != nil {
			continue
		}
		s.fields[field] = &register{
			clock:  op.Clock,
			origin: op.Origin,
			value:  value,
		}
	}
	if r, ok := s.fields[FieldPosition]; ok {
		applyFloat(&s.position, r.value)
	}
	s.layer = base
	s.everLive = true
	return []*Commit{{LayerId: op.TargetId, Created: !wasLive}}
}

func layerFromValue(value any) (*Layer, error) {
	switch v := value.(type) {
	case *Layer:
		return v.Clone(), nil
	case Layer:
		return v.Clone(), nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		layer := &Layer{}
		if err := json.Unmarshal(b, layer); err != nil {
			return nil, err
		}
		if !ValidLayerType(layer.Type) {
			return nil, fmt.Errorf("invalid layer type %s", layer.Type)
		}
		return layer, nil
	default:
		return nil, fmt.Errorf("expected layer, got %T", value)
	}
}

const positionStep = float64(1024)

// caller holds the mutex
func (self *DocumentStore) tailPosition() float64 {
	position := float64(0)
	for _, s := range self.states {
		if s.live {
			position = max(position, s.position)
		}
	}
	return position + positionStep
}

// caller holds the mutex. live layer ids in paint order.
func (self *DocumentStore) order() []Id {
	ids := []Id{}
	for id, s := range self.states {
		if s.live {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a Id, b Id) int {
		sa := self.states[a]
		sb := self.states[b]
		if sa.position != sb.position {
			if sa.position < sb.position {
				return -1
			}
			return 1
		}
		ra, aok := sa.fields[FieldPosition]
		rb, bok := sb.fields[FieldPosition]
		if aok && bok && ra.clock != rb.clock {
			if ra.clock < rb.clock {
				return -1
			}
			return 1
		}
		if aok && bok && ra.origin != rb.origin {
			if ra.origin.LessThan(rb.origin) {
				return -1
			}
			return 1
		}
		if a.LessThan(b) {
			return -1
		}
		return 1
	})
	return ids
}

// GetLayer returns a copy of one live layer
func (self *DocumentStore) GetLayer(targetId Id) *Layer {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	s, ok := self.states[targetId]
	if !ok || !s.live {
		return nil
	}
	return s.layer.Clone()
}

// Snapshot returns an immutable copy of the live layer map and order
func (self *DocumentStore) Snapshot() *Snapshot {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.snapshot()
}

// caller holds the mutex
func (self *DocumentStore) snapshot() *Snapshot {
	layers := map[Id]*Layer{}
	positions := map[Id]float64{}
	for id, s := range self.states {
		if s.live {
			layers[id] = s.layer.Clone()
			positions[id] = s.position
		}
	}
	return &Snapshot{
		Layers:    layers,
		Positions: positions,
		Order:     self.order(),
	}
}

// Replace diffs the current state against the target snapshot and
// expresses the difference as ordinary local operations, so the
// replacement replicates to peers and undo/redo converge everywhere.
func (self *DocumentStore) Replace(target *Snapshot) {
	self.mutex.Lock()
	current := self.snapshot()

	ops := []*Op{}
	commits := []*Commit{}

	currentIds := maps.Keys(current.Layers)
	slices.SortFunc(currentIds, Id.compare)
	for _, id := range currentIds {
		if _, ok := target.Layers[id]; !ok {
			ops = append(ops, &Op{
				TargetId: id,
				Field:    FieldExistence,
				Value:    nil,
				Origin:   self.origin,
				Clock:    self.nextClock(),
			})
		}
	}

	targetIds := maps.Keys(target.Layers)
	slices.SortFunc(targetIds, Id.compare)
	for _, id := range targetIds {
		targetLayer := target.Layers[id]
		currentLayer, ok := current.Layers[id]
		if !ok {
			ops = append(ops, &Op{
				TargetId: id,
				Field:    FieldExistence,
				Value:    targetLayer.Clone(),
				Origin:   self.origin,
				Clock:    self.nextClock(),
			})
			ops = append(ops, &Op{
				TargetId: id,
				Field:    FieldPosition,
				Value:    target.Positions[id],
				Origin:   self.origin,
				Clock:    self.nextClock(),
			})
			continue
		}
		for _, field := range diffFields(currentLayer, targetLayer) {
			value, err := targetLayer.FieldValue(field)
			if err != nil {
				continue
			}
			ops = append(ops, &Op{
				TargetId: id,
				Field:    field,
				Value:    value,
				Origin:   self.origin,
				Clock:    self.nextClock(),
			})
		}
		if current.Positions[id] != target.Positions[id] {
			ops = append(ops, &Op{
				TargetId: id,
				Field:    FieldPosition,
				Value:    target.Positions[id],
				Origin:   self.origin,
				Clock:    self.nextClock(),
			})
		}
	}

	for _, op := range ops {
		commits = append(commits, self.merge(op)...)
	}
	self.mutex.Unlock()

	self.emit(ops)
	self.commit(commits)
}

// per-field register metadata carried alongside an authoritative
// snapshot, keyed by layer then field. values travel in the snapshot
// itself; the clocks let a reconciling replica re-merge redelivered
// operations with the same outcome they had at the authority. the
// FieldExistence entry carries the existence register, which doubles
// as a tombstone for deleted layers.
type FieldClock struct {
	Clock  uint64 `json:"clock"`
	Origin Id     `json:"origin"`
}

type RegisterClocks map[Id]map[string]FieldClock

// RegisterClocks exports the register state backing the current
// snapshot, for transfer alongside it
func (self *DocumentStore) RegisterClocks() RegisterClocks {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	clocks := RegisterClocks{}
	for id, s := range self.states {
		fieldClocks := map[string]FieldClock{
			FieldExistence: {Clock: s.existenceClock, Origin: s.existenceOrigin},
		}
		if s.live {
			for field, r := range s.fields {
				fieldClocks[field] = FieldClock{Clock: r.clock, Origin: r.origin}
			}
		}
		clocks[id] = fieldClocks
	}
	return clocks
}

// ResetFromSnapshot adopts an authoritative snapshot as the new base
// state, as in connect and reconnect reconciliation. nothing is
// emitted outbound. the clocks seed the registers with the authority's
// register state, so a re-merged unacknowledged operation wins or
// loses locally exactly as it does at the authority. with nil clocks
// the registers restart at zero, which a durable restore uses when no
// live authority exists.
func (self *DocumentStore) ResetFromSnapshot(snapshot *Snapshot, clocks RegisterClocks) {
	self.mutex.Lock()
	previous := self.snapshot()
	self.states = map[Id]*layerState{}
	for id, layer := range snapshot.Layers {
		s := self.state(id)
		s.live = true
		s.everLive = true
		s.layer = layer.Clone()
		s.layer.Id = id
		s.position = snapshot.Positions[id]
	}
	for id, fieldClocks := range clocks {
		s := self.state(id)
		for field, fc := range fieldClocks {
			self.clock = max(self.clock, fc.Clock)
			switch field {
			case FieldExistence:
				s.existenceClock = fc.Clock
				s.existenceOrigin = fc.Origin
			case FieldPosition:
				if s.live {
					s.fields[field] = &register{clock: fc.Clock, origin: fc.Origin, value: s.position}
				}
			default:
				if s.live {
					if value, err := s.layer.FieldValue(field); err == nil {
						s.fields[field] = &register{clock: fc.Clock, origin: fc.Origin, value: value}
					}
				}
			}
		}
	}

	commits := []*Commit{}
	for id := range previous.Layers {
		if _, ok := snapshot.Layers[id]; !ok {
			commits = append(commits, &Commit{LayerId: id, Deleted: true})
		}
	}
	for id := range snapshot.Layers {
		_, existed := previous.Layers[id]
		commits = append(commits, &Commit{LayerId: id, Created: !existed})
	}
	self.mutex.Unlock()

	glog.V(1).Infof("[doc]reset layers=%d\n", len(snapshot.Layers))
	self.commit(commits)
}

var diffableFields = []string{
	FieldX, FieldY, FieldWidth, FieldHeight, FieldFill, FieldRotation,
	FieldStartX, FieldStartY, FieldEndX, FieldEndY,
	FieldControlPoint1, FieldControlPoint2,
	FieldSourceLayerId, FieldTargetLayerId, FieldSourceSide, FieldTargetSide,
	FieldCurved, FieldPoints, FieldText, FieldUrl, FieldRows, FieldCols,
	FieldTitle,
}

func diffFields(a *Layer, b *Layer) []string {
	fields := []string{}
	for _, field := range diffableFields {
		av, aerr := a.FieldValue(field)
		bv, berr := b.FieldValue(field)
		if aerr != nil || berr != nil {
			continue
		}
		if field == FieldPoints {
			if !slices.Equal(a.Points, b.Points) {
				fields = append(fields, field)
			}
			continue
		}
		if av != bv {
			fields = append(fields, field)
		}
	}
	return fields
}

func (self Id) compare(other Id) int {
	if self.LessThan(other) {
		return -1
	}
	if other.LessThan(self) {
		return 1
	}
	return 0
}

// note all callbacks are wrapped to recover from errors, as a broken
// listener must not desync the store

func (self *DocumentStore) emit(ops []*Op) {
	for _, op := range ops {
		for _, opCallback := range self.opCallbacks.Get() {
			func() {
				defer recoverLog("[doc]op callback")
				opCallback(op)
			}()
		}
	}
}

func (self *DocumentStore) commit(commits []*Commit) {
	for _, c := range commits {
		for _, commitCallback := range self.commitCallbacks.Get() {
			func() {
				defer recoverLog("[doc]commit callback")
				commitCallback(c)
			}()
		}
	}
}
