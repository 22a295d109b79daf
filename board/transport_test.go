package board

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

// while disconnected, presence coalesces to the latest value. on
// connect the server sees one current presence frame, not a backlog.
func TestTransportCoalescesPresence(t *testing.T) {
	received := make(chan *Frame, 1024)
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := DecodeFrame(message)
		if err != nil || frame.Type != FrameTypeJoin {
			return
		}
		joinedBytes, err := EncodeFrame(&Frame{
			Type: FrameTypeJoined,
			Joined: &JoinedFrame{
				ConnectionId: frame.Join.ConnectionId,
				RoomId:       frame.Join.RoomId,
				Snapshot: &Snapshot{
					Layers:    map[Id]*Layer{},
					Positions: map[Id]float64{},
					Order:     []Id{},
				},
			},
		})
		if err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, joinedBytes); err != nil {
			return
		}
		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(message) == 0 {
				// ping
				continue
			}
			if frame, err := DecodeFrame(message); err == nil {
				received <- frame
			}
		}
	})
	ts := httptest.NewUnstartedServer(handler)
	defer ts.Close()

	settings := DefaultClientTransportSettings()
	settings.WsHandshakeTimeout = 200 * time.Millisecond
	settings.ReconnectTimeout = 50 * time.Millisecond

	connectionId := NewId()
	transport := NewClientTransport(
		context.Background(),
		"ws://"+ts.Listener.Addr().String(),
		"room",
		&ClientAuth{ConnectionId: connectionId},
		func() *Presence {
			return &Presence{ConnectionId: connectionId}
		},
		func(joined *JoinedFrame) {},
		func(frame *Frame) {},
		func(connected bool) {},
		settings,
	)
	defer transport.Close()

	// the server is not up yet. every update lands in the same slot.
	for i := 0; i < 100; i += 1 {
		transport.Send(NewPresenceFrame(connectionId, &Presence{
			ConnectionId: connectionId,
			Cursor:       &Point{X: float64(i)},
		}))
	}

	ts.Start()

	waitFor(t, "presence delivered", func() bool {
		return 0 < len(received)
	})
	// allow any backlog to drain before counting
	time.Sleep(200 * time.Millisecond)

	presences := []*Frame{}
	drained := false
	for !drained {
		select {
		case frame := <-received:
			presences = append(presences, frame)
		default:
			drained = true
		}
	}
	assert.Equal(t, 1, len(presences))
	assert.Equal(t, float64(99), presences[0].Presence.Presence.Cursor.X)
}

// operations are never coalesced, every queued op frame is delivered
// in order once the connection is up
func TestTransportQueuesOps(t *testing.T) {
	received := make(chan *Frame, 1024)
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := DecodeFrame(message)
		if err != nil || frame.Type != FrameTypeJoin {
			return
		}
		joinedBytes, _ := EncodeFrame(&Frame{
			Type: FrameTypeJoined,
			Joined: &JoinedFrame{
				ConnectionId: frame.Join.ConnectionId,
				RoomId:       frame.Join.RoomId,
				Snapshot: &Snapshot{
					Layers:    map[Id]*Layer{},
					Positions: map[Id]float64{},
					Order:     []Id{},
				},
			},
		})
		if err := ws.WriteMessage(websocket.TextMessage, joinedBytes); err != nil {
			return
		}
		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(message) == 0 {
				continue
			}
			if frame, err := DecodeFrame(message); err == nil {
				received <- frame
			}
		}
	})
	ts := httptest.NewUnstartedServer(handler)
	defer ts.Close()

	settings := DefaultClientTransportSettings()
	settings.WsHandshakeTimeout = 200 * time.Millisecond
	settings.ReconnectTimeout = 50 * time.Millisecond

	connectionId := NewId()
	transport := NewClientTransport(
		context.Background(),
		"ws://"+ts.Listener.Addr().String(),
		"room",
		&ClientAuth{ConnectionId: connectionId},
		func() *Presence {
			return &Presence{ConnectionId: connectionId}
		},
		func(joined *JoinedFrame) {},
		func(frame *Frame) {},
		func(connected bool) {},
		settings,
	)
	defer transport.Close()

	targetId := NewId()
	for i := 0; i < 10; i += 1 {
		transport.Send(NewOpFrame(&Op{
			TargetId: targetId,
			Field:    FieldX,
			Value:    float64(i),
			Origin:   connectionId,
			Clock:    uint64(i + 1),
		}))
	}

	ts.Start()

	waitFor(t, "ops delivered", func() bool {
		return 10 <= len(received)
	})
	for i := 0; i < 10; i += 1 {
		frame := <-received
		assert.Equal(t, FrameTypeOp, frame.Type)
		assert.Equal(t, uint64(i+1), frame.Op.Clock)
	}
}
