package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const TransportSendBufferSize = 1024

type ClientTransportSettings struct {
	WsHandshakeTimeout time.Duration
	JoinTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultClientTransportSettings() *ClientTransportSettings {
	return &ClientTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		JoinTimeout:        2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

type JoinedFunction func(joined *JoinedFrame)
type FrameFunction func(frame *Frame)
type ConnectivityFunction func(connected bool)

// websocket client transport for one room connection. the outer loop
// reconnects forever until closed. each connect performs the
// join/joined exchange before the read and write pumps start, so the
// joined callback always precedes frames from that connection.
type ClientTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url    string
	roomId string
	auth   *ClientAuth

	// included in the join frame so peers see the joiner immediately
	localPresence func() *Presence

	joinedCallback       JoinedFunction
	frameCallback        FrameFunction
	connectivityCallback ConnectivityFunction

	send chan []byte

	// presence coalesces to a single latest-value slot instead of the
	// send queue, so a long disconnect replays one current presence
	// frame on rejoin rather than a backlog
	presenceMutex   sync.Mutex
	pendingPresence []byte
	presenceReady   chan struct{}

	settings *ClientTransportSettings
}

func NewClientTransport(
	ctx context.Context,
	url string,
	roomId string,
	auth *ClientAuth,
	localPresence func() *Presence,
	joinedCallback JoinedFunction,
	frameCallback FrameFunction,
	connectivityCallback ConnectivityFunction,
	settings *ClientTransportSettings,
) *ClientTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &ClientTransport{
		ctx:                  cancelCtx,
		cancel:               cancel,
		url:                  url,
		roomId:               roomId,
		auth:                 auth,
		localPresence:        localPresence,
		joinedCallback:       joinedCallback,
		frameCallback:        frameCallback,
		connectivityCallback: connectivityCallback,
		send:                 make(chan []byte, TransportSendBufferSize),
		presenceReady:        make(chan struct{}, 1),
		settings:             settings,
	}
	go transport.run()
	return transport
}

// Send queues one frame. non-blocking: when the buffer is full the
// frame is dropped, which degrades presence for peers rather than
// blocking gesture handling.
func (self *ClientTransport) Send(frame *Frame) bool {
	frameBytes, err := EncodeFrame(frame)
	if err != nil {
		glog.Infof("[ts]%s encode error = %s\n", self.auth.ConnectionId, err)
		return false
	}
	select {
	case <-self.ctx.Done():
		return false
	default:
	}
	if frame.Type == FrameTypePresence {
		self.presenceMutex.Lock()
		self.pendingPresence = frameBytes
		self.presenceMutex.Unlock()
		select {
		case self.presenceReady <- struct{}{}:
		default:
		}
		return true
	}
	select {
	case self.send <- frameBytes:
		return true
	default:
		glog.Infof("[ts]%s drop (send buffer full)\n", self.auth.ConnectionId)
		return false
	}
}

func (self *ClientTransport) run() {
	defer self.cancel()

	connectionId := self.auth.ConnectionId

	for {
		reconnect := NewReconnect(self.settings.ReconnectTimeout)
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, self.url, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			joinBytes, err := EncodeFrame(&Frame{
				Type: FrameTypeJoin,
				Join: &JoinFrame{
					RoomId:       self.roomId,
					ConnectionId: connectionId,
					Token:        self.auth.Token,
					Presence:     self.localPresence(),
				},
			})
			if err != nil {
				return nil, err
			}

			ws.SetWriteDeadline(time.Now().Add(self.settings.JoinTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, joinBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.JoinTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return nil, err
			}
			frame, err := DecodeFrame(message)
			if err != nil {
				return nil, err
			}
			if frame.Type != FrameTypeJoined || frame.Joined == nil {
				return nil, fmt.Errorf("join response error: %s", frame.Type)
			}

			success = true
			func() {
				defer recoverLog("[t]joined callback")
				self.joinedCallback(frame.Joined)
			}()
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[t]join error %s = %s\n", connectionId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-reconnect.After():
				continue
			}
		}

		func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			self.setConnectivity(true)
			defer self.setConnectivity(false)

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case message, ok := <-self.send:
						if !ok {
							return
						}

						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
							// note that for websocket a deadline timeout cannot be recovered
							glog.Infof("[ts]%s-> error = %s\n", connectionId, err)
							return
						}
						glog.V(2).Infof("[ts]%s->\n", connectionId)
					case <-self.presenceReady:
						self.presenceMutex.Lock()
						message := self.pendingPresence
						self.pendingPresence = nil
						self.presenceMutex.Unlock()
						if message == nil {
							continue
						}
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
							glog.Infof("[ts]%s-> error = %s\n", connectionId, err)
							return
						}
						glog.V(2).Infof("[ts]%s-> presence\n", connectionId)
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
							return
						}
					}
				}
			}()

			go func() {
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
						glog.Infof("[tr]%s<- error = %s\n", connectionId, err)
						return
					}
					if len(message) == 0 {
						// ping
						glog.V(2).Infof("[tr]ping %s<-\n", connectionId)
						continue
					}

					frame, err := DecodeFrame(message)
					if err != nil {
						glog.Infof("[tr]%s<- decode error = %s\n", connectionId, err)
						continue
					}
					glog.V(2).Infof("[tr]%s<- %s\n", connectionId, frame.Type)
					func() {
						defer recoverLog("[tr]frame callback")
						self.frameCallback(frame)
					}()
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}()

		select {
		case <-self.ctx.Done():
			return
		case <-reconnect.After():
		}
	}
}

func (self *ClientTransport) setConnectivity(connected bool) {
	func() {
		defer recoverLog("[t]connectivity callback")
		self.connectivityCallback(connected)
	}()
}

func (self *ClientTransport) Close() {
	self.cancel()
}
