package board

import (
	"encoding/json"
	"fmt"
)

// wire frames exchanged between sessions and the room server. the
// transport carries one JSON frame per websocket message. operations
// are field-addressed value sets, so redelivery after a reconnect is
// harmless under the last-writer-wins merge.
type FrameType string

const (
	FrameTypeJoin            FrameType = "join"
	FrameTypeJoined          FrameType = "joined"
	FrameTypeSnapshotRequest FrameType = "snapshotRequest"
	FrameTypeSnapshot        FrameType = "snapshot"
	FrameTypeOp              FrameType = "op"
	FrameTypePresence        FrameType = "presence"
	FrameTypePresenceDrop    FrameType = "presenceDrop"
)

type Frame struct {
	Type         FrameType          `json:"type"`
	Join         *JoinFrame         `json:"join,omitempty"`
	Joined       *JoinedFrame       `json:"joined,omitempty"`
	Snapshot     *SnapshotFrame     `json:"snapshot,omitempty"`
	Op           *Op                `json:"op,omitempty"`
	Presence     *PresenceFrame     `json:"presence,omitempty"`
	PresenceDrop *PresenceDropFrame `json:"presenceDrop,omitempty"`
}

// first frame on a connection. the token is issued by the external
// auth collaborator and passed through opaque.
type JoinFrame struct {
	RoomId       string    `json:"roomId"`
	ConnectionId Id        `json:"connectionId"`
	Token        string    `json:"token,omitempty"`
	Presence     *Presence `json:"presence,omitempty"`
}

// server reply to a join: the full current document, the register
// clocks backing it, and the presence of every connection already in
// the room. the clocks make re-merging in-flight operations after a
// reconnect agree with the server's own merge.
type JoinedFrame struct {
	ConnectionId Id             `json:"connectionId"`
	RoomId       string         `json:"roomId"`
	Snapshot     *Snapshot      `json:"snapshot"`
	Registers    RegisterClocks `json:"registers,omitempty"`
	Presences    []*Presence    `json:"presences,omitempty"`
}

type SnapshotFrame struct {
	Snapshot  *Snapshot      `json:"snapshot"`
	Registers RegisterClocks `json:"registers,omitempty"`
}

type PresenceFrame struct {
	ConnectionId Id        `json:"connectionId"`
	Presence     *Presence `json:"presence"`
}

type PresenceDropFrame struct {
	ConnectionId Id `json:"connectionId"`
}

func EncodeFrame(frame *Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func DecodeFrame(frameBytes []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(frameBytes, frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return frame, nil
}

func NewOpFrame(op *Op) *Frame {
	return &Frame{
		Type: FrameTypeOp,
		Op:   op,
	}
}

func NewPresenceFrame(connectionId Id, presence *Presence) *Frame {
	return &Frame{
		Type: FrameTypePresence,
		Presence: &PresenceFrame{
			ConnectionId: connectionId,
			Presence:     presence,
		},
	}
}

func NewPresenceDropFrame(connectionId Id) *Frame {
	return &Frame{
		Type: FrameTypePresenceDrop,
		PresenceDrop: &PresenceDropFrame{
			ConnectionId: connectionId,
		},
	}
}

func NewSnapshotFrame(snapshot *Snapshot, registers RegisterClocks) *Frame {
	return &Frame{
		Type: FrameTypeSnapshot,
		Snapshot: &SnapshotFrame{
			Snapshot:  snapshot,
			Registers: registers,
		},
	}
}

func NewSnapshotRequestFrame() *Frame {
	return &Frame{
		Type: FrameTypeSnapshotRequest,
	}
}
