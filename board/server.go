package board

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"golang.org/x/exp/maps"
)

type RoomServerSettings struct {
	JoinTimeout  time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// how often a dirty room persists to the snapshot store
	SnapshotInterval     time.Duration
	MemberSendBufferSize int
}

func DefaultRoomServerSettings() *RoomServerSettings {
	return &RoomServerSettings{
		JoinTimeout:          2 * time.Second,
		PingTimeout:          1 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          15 * time.Second,
		SnapshotInterval:     15 * time.Second,
		MemberSendBufferSize: 1024,
	}
}

/*
The authoritative hub for a set of rooms. each room holds one server
replica of the document, built from the same merge rule the clients
use, so the snapshot served on join is the convergent state of every
operation received so far.

Fan-out: operations broadcast to all members including the sender.
the echo doubles as the acknowledgement that lets a session retire its
outbound queue. presence broadcasts to the other members only.
*/
type RoomServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	// nil disables durability
	store    *SnapshotStore
	settings *RoomServerSettings

	upgrader websocket.Upgrader

	mutex sync.Mutex
	rooms map[string]*serverRoom
}

func NewRoomServerWithDefaults(ctx context.Context, store *SnapshotStore) *RoomServer {
	return NewRoomServer(ctx, store, DefaultRoomServerSettings())
}

func NewRoomServer(ctx context.Context, store *SnapshotStore, settings *RoomServerSettings) *RoomServer {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &RoomServer{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		settings: settings,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: map[string]*serverRoom{},
	}
}

type serverRoom struct {
	roomId   string
	document *DocumentStore

	mutex     sync.Mutex
	members   map[Id]*serverMember
	presences map[Id]*Presence
	dirty     bool
}

type serverMember struct {
	connectionId Id
	send         chan []byte
}

func (self *RoomServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[srv]upgrade error = %s\n", err)
		return
	}
	go self.handleConnection(ws)
}

// room returns the live room, creating it and restoring its persisted
// snapshot on first join
func (self *RoomServer) room(roomId string) *serverRoom {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	room, ok := self.rooms[roomId]
	if ok {
		return room
	}
	room = &serverRoom{
		roomId:    roomId,
		document:  NewDocumentStore(ServerOrigin),
		members:   map[Id]*serverMember{},
		presences: map[Id]*Presence{},
	}
	if self.store != nil {
		if snapshot, ok, err := self.store.Load(roomId); err != nil {
			glog.Infof("[srv]restore %s error = %s\n", roomId, err)
		} else if ok {
			room.document.ResetFromSnapshot(snapshot, nil)
			glog.Infof("[srv]restore %s layers=%d\n", roomId, len(snapshot.Layers))
		}
	}
	room.document.AddCommitCallback(func(commit *Commit) {
		room.mutex.Lock()
		room.dirty = true
		room.mutex.Unlock()
	})
	self.rooms[roomId] = room
	go self.runPersist(room)
	return room
}

func (self *RoomServer) handleConnection(ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(self.settings.JoinTimeout))
	_, message, err := ws.ReadMessage()
	if err != nil {
		return
	}
	frame, err := DecodeFrame(message)
	if err != nil || frame.Type != FrameTypeJoin || frame.Join == nil {
		glog.Infof("[srv]bad join = %s\n", err)
		return
	}
	join := frame.Join

	connectionId := join.ConnectionId
	if (connectionId == Id{}) {
		connectionId = NewId()
	}
	if join.Token != "" {
		if identity, err := ParseIdentityUnverified(join.Token); err == nil {
			glog.V(1).Infof("[srv]join %s user=%s\n", connectionId, identity.UserId)
		}
	}

	room := self.room(join.RoomId)

	member := &serverMember{
		connectionId: connectionId,
		send:         make(chan []byte, self.settings.MemberSendBufferSize),
	}

	// the joined reply enqueues under the same lock that registers the
	// member, so no broadcast can slip ahead of it on this connection
	room.mutex.Lock()
	presences := []*Presence{}
	for _, presence := range room.presences {
		presences = append(presences, presence.Clone())
	}
	if join.Presence != nil {
		presence := join.Presence.Clone()
		presence.ConnectionId = connectionId
		room.presences[connectionId] = presence
	}
	joinedBytes, err := EncodeFrame(&Frame{
		Type: FrameTypeJoined,
		Joined: &JoinedFrame{
			ConnectionId: connectionId,
			RoomId:       room.roomId,
			Snapshot:     room.document.Snapshot(),
			Registers:    room.document.RegisterClocks(),
			Presences:    presences,
		},
	})
	if err != nil {
		delete(room.presences, connectionId)
		room.mutex.Unlock()
		glog.Infof("[srv]joined encode error = %s\n", err)
		return
	}
	room.members[connectionId] = member
	member.send <- joinedBytes
	room.mutex.Unlock()

	if join.Presence != nil {
		self.broadcast(room, NewPresenceFrame(connectionId, join.Presence), connectionId)
	}

	glog.V(1).Infof("[srv]%s join %s\n", connectionId, room.roomId)

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// write pump
	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-member.send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					glog.V(1).Infof("[srv]%s-> error = %s\n", connectionId, err)
					return
				}
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	// read loop
	func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				glog.V(1).Infof("[srv]%s<- error = %s\n", connectionId, err)
				return
			}
			if len(message) == 0 {
				// ping
				continue
			}
			frame, err := DecodeFrame(message)
			if err != nil {
				glog.Infof("[srv]%s<- decode error = %s\n", connectionId, err)
				continue
			}
			self.handleFrame(room, member, frame)
		}
	}()

	// member exits. drop presence for all peers.
	room.mutex.Lock()
	delete(room.members, connectionId)
	_, hadPresence := room.presences[connectionId]
	delete(room.presences, connectionId)
	empty := len(room.members) == 0
	room.mutex.Unlock()

	if hadPresence {
		self.broadcast(room, NewPresenceDropFrame(connectionId), connectionId)
	}
	if empty {
		self.persist(room)
	}
	glog.V(1).Infof("[srv]%s leave %s\n", connectionId, room.roomId)
}

func (self *RoomServer) handleFrame(room *serverRoom, member *serverMember, frame *Frame) {
	switch frame.Type {
	case FrameTypeOp:
		if frame.Op == nil {
			return
		}
		room.document.ApplyRemote(frame.Op)
		// broadcast to all members. the echo back to the origin is
		// its acknowledgement.
		self.broadcast(room, NewOpFrame(frame.Op), Id{})

	case FrameTypePresence:
		if frame.Presence == nil || frame.Presence.Presence == nil {
			return
		}
		presence := frame.Presence.Presence.Clone()
		// only the originating connection writes its own presence
		presence.ConnectionId = member.connectionId
		room.mutex.Lock()
		room.presences[member.connectionId] = presence
		room.mutex.Unlock()
		self.broadcast(room, NewPresenceFrame(member.connectionId, presence), member.connectionId)

	case FrameTypeSnapshotRequest:
		snapshotBytes, err := EncodeFrame(NewSnapshotFrame(room.document.Snapshot(), room.document.RegisterClocks()))
		if err != nil {
			return
		}
		self.sendTo(member, snapshotBytes)

	default:
		glog.V(1).Infof("[srv]%s other frame %s\n", member.connectionId, frame.Type)
	}
}

// broadcast sends to every member except excludeId. pass the zero id
// to include everyone.
func (self *RoomServer) broadcast(room *serverRoom, frame *Frame, excludeId Id) {
	frameBytes, err := EncodeFrame(frame)
	if err != nil {
		glog.Infof("[srv]broadcast encode error = %s\n", err)
		return
	}

	room.mutex.Lock()
	members := maps.Values(room.members)
	room.mutex.Unlock()

	for _, member := range members {
		if member.connectionId == excludeId {
			continue
		}
		self.sendTo(member, frameBytes)
	}
}

func (self *RoomServer) sendTo(member *serverMember, frameBytes []byte) {
	select {
	case member.send <- frameBytes:
	default:
		// slow consumer. drop rather than stall the room.
		glog.Infof("[srv]%s drop (send buffer full)\n", member.connectionId)
	}
}

func (self *RoomServer) runPersist(room *serverRoom) {
	if self.store == nil {
		return
	}
	for {
		select {
		case <-self.ctx.Done():
			self.persist(room)
			return
		case <-time.After(self.settings.SnapshotInterval):
			self.persist(room)
		}
	}
}

func (self *RoomServer) persist(room *serverRoom) {
	if self.store == nil {
		return
	}
	room.mutex.Lock()
	dirty := room.dirty
	room.dirty = false
	room.mutex.Unlock()
	if !dirty {
		return
	}
	if err := self.store.Save(room.roomId, room.document.Snapshot()); err != nil {
		glog.Infof("[srv]persist %s error = %s\n", room.roomId, err)
	}
}

// Snapshot returns the server replica's current state for a room, or
// nil when the room is not live
func (self *RoomServer) Snapshot(roomId string) *Snapshot {
	self.mutex.Lock()
	room, ok := self.rooms[roomId]
	self.mutex.Unlock()
	if !ok {
		return nil
	}
	return room.document.Snapshot()
}

func (self *RoomServer) Close() {
	self.cancel()
	self.mutex.Lock()
	rooms := maps.Values(self.rooms)
	self.mutex.Unlock()
	for _, room := range rooms {
		self.persist(room)
	}
}
