package board

import (
	"context"
	"slices"
	"sync"

	"github.com/golang/glog"
)

type SessionSettings struct {
	TransportSettings *ClientTransportSettings
	HistorySettings   *HistorySettings
	GestureSettings   *GestureSettings
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		TransportSettings: DefaultClientTransportSettings(),
		HistorySettings:   DefaultHistorySettings(),
		GestureSettings:   DefaultGestureSettings(),
	}
}

/*
One participant's replica of a room, wired end to end:

	gestures -> document/presence stores -> outbound frames
	inbound frames -> document merge / presence replace -> router

Local editing never blocks on the network. while disconnected the
outbound queue grows and presence freezes for peers. on reconnect the
session reconciles against a full server snapshot, re-merges and
re-sends unacknowledged local operations, and continues. operations
are field-value sets, so at-least-once redelivery is safe.

An operation counts as acknowledged when the server's broadcast of it
arrives back at the originator.
*/
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	connectionId Id
	roomId       string

	document *DocumentStore
	presence *PresenceStore
	history  *History
	router   *ConnectionRouter
	gestures *GestureController

	transport *ClientTransport

	stateMutex sync.Mutex
	connected  bool
	// local ops sent but not yet echoed by the server, in clock order
	unacked []*Op
}

func ConnectWithDefaults(ctx context.Context, url string, roomId string, auth *ClientAuth) *Session {
	return Connect(ctx, url, roomId, auth, DefaultSessionSettings())
}

// Connect builds the replica and starts the transport. the session is
// usable immediately. edits made before the first join replicate once
// joined.
func Connect(ctx context.Context, url string, roomId string, auth *ClientAuth, settings *SessionSettings) *Session {
	cancelCtx, cancel := context.WithCancel(ctx)

	if (auth.ConnectionId == Id{}) {
		auth.ConnectionId = NewId()
	}
	connectionId := auth.ConnectionId

	document := NewDocumentStore(connectionId)
	presence := NewPresenceStore(connectionId)
	history := NewHistory(document, settings.HistorySettings)
	router := NewConnectionRouter(document)
	gestures := NewGestureController(document, presence, history, settings.GestureSettings)

	session := &Session{
		ctx:          cancelCtx,
		cancel:       cancel,
		connectionId: connectionId,
		roomId:       roomId,
		document:     document,
		presence:     presence,
		history:      history,
		router:       router,
		gestures:     gestures,
	}

	if auth.Token != "" {
		if identity, err := ParseIdentityUnverified(auth.Token); err == nil {
			presence.SetIdentity(identity.UserId, identity.DisplayName)
		} else {
			glog.Infof("[sn]%s identity parse error = %s\n", connectionId, err)
		}
	}

	document.AddOpCallback(session.handleLocalOp)
	presence.AddLocalCallback(session.handleLocalPresence)

	session.transport = NewClientTransport(
		cancelCtx,
		url,
		roomId,
		auth,
		presence.Local,
		session.handleJoined,
		session.handleFrame,
		session.handleConnectivity,
		settings.TransportSettings,
	)

	return session
}

func (self *Session) ConnectionId() Id {
	return self.connectionId
}

func (self *Session) RoomId() string {
	return self.roomId
}

func (self *Session) Document() *DocumentStore {
	return self.document
}

func (self *Session) Presence() *PresenceStore {
	return self.presence
}

func (self *Session) History() *History {
	return self.history
}

func (self *Session) Gestures() *GestureController {
	return self.gestures
}

// Connected reports transport connectivity, surfaced to the UI only
// as an indicator. editing continues locally either way.
func (self *Session) Connected() bool {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return self.connected
}

func (self *Session) PendingOpCount() int {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	return len(self.unacked)
}

func (self *Session) handleLocalOp(op *Op) {
	self.stateMutex.Lock()
	self.unacked = append(self.unacked, op)
	self.stateMutex.Unlock()

	self.transport.Send(NewOpFrame(op))
}

func (self *Session) handleLocalPresence(connectionId Id, presence *Presence) {
	self.transport.Send(NewPresenceFrame(connectionId, presence))
}

// handleJoined reconciles against the server's authoritative snapshot,
// then re-merges and re-sends every unacknowledged local operation.
// the snapshot's register clocks make the re-merge agree with the
// server: a stale in-flight op loses here exactly as it loses there.
func (self *Session) handleJoined(joined *JoinedFrame) {
	glog.V(1).Infof("[sn]%s joined %s layers=%d\n", self.connectionId, joined.RoomId, len(joined.Snapshot.Layers))

	self.document.ResetFromSnapshot(joined.Snapshot, joined.Registers)

	self.stateMutex.Lock()
	unacked := slices.Clone(self.unacked)
	self.stateMutex.Unlock()

	for _, op := range unacked {
		// own ops merge without re-emitting, then go back on the wire
		self.document.ApplyRemote(op)
		self.transport.Send(NewOpFrame(op))
	}

	// replace peer presence wholesale
	for _, connectionId := range self.presence.ConnectionIds() {
		self.presence.DropConnection(connectionId)
	}
	for _, presence := range joined.Presences {
		self.presence.Remote(presence.ConnectionId, presence)
	}

	// announce our current presence to the new membership
	self.transport.Send(NewPresenceFrame(self.connectionId, self.presence.Local()))
}

func (self *Session) handleFrame(frame *Frame) {
	switch frame.Type {
	case FrameTypeOp:
		if frame.Op == nil {
			return
		}
		if frame.Op.Origin == self.connectionId {
			self.ack(frame.Op.Clock)
			return
		}
		self.document.ApplyRemote(frame.Op)

	case FrameTypePresence:
		if frame.Presence == nil {
			return
		}
		self.presence.Remote(frame.Presence.ConnectionId, frame.Presence.Presence)

	case FrameTypePresenceDrop:
		if frame.PresenceDrop == nil {
			return
		}
		self.presence.DropConnection(frame.PresenceDrop.ConnectionId)

	case FrameTypeSnapshot:
		if frame.Snapshot == nil || frame.Snapshot.Snapshot == nil {
			return
		}
		self.document.ResetFromSnapshot(frame.Snapshot.Snapshot, frame.Snapshot.Registers)

	default:
		glog.V(1).Infof("[sn]%s other frame %s\n", self.connectionId, frame.Type)
	}
}

// ack drops unacknowledged ops at or below the echoed clock. local
// clocks are issued in increasing order, so the prefix is complete.
func (self *Session) ack(clock uint64) {
	self.stateMutex.Lock()
	defer self.stateMutex.Unlock()
	i := 0
	for i < len(self.unacked) && self.unacked[i].Clock <= clock {
		i += 1
	}
	self.unacked = self.unacked[i:]
}

func (self *Session) handleConnectivity(connected bool) {
	self.stateMutex.Lock()
	self.connected = connected
	self.stateMutex.Unlock()
	glog.V(1).Infof("[sn]%s connected=%t\n", self.connectionId, connected)
}

// Disconnect tears the session down. peers observe the presence drop
// from the server side.
func (self *Session) Disconnect() {
	self.router.Close()
	self.transport.Close()
	self.cancel()
}
