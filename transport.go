package pagesync

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

const TransportBufferSize = 1

type SyncTransportSettings struct {
	WsHandshakeTimeout time.Duration
	// wall clock bound from connecting to connected. a dial that has not
	// completed by then is treated as a connection failure even if the
	// transport has not reported one, so startup never blocks on a hung dial.
	ConnectTimeout       time.Duration
	AuthTimeout          time.Duration
	ReconnectTimeout     time.Duration
	MaxReconnectAttempts int
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
}

func DefaultSyncTransportSettings() *SyncTransportSettings {
	return &SyncTransportSettings{
		WsHandshakeTimeout:   2 * time.Second,
		ConnectTimeout:       4 * time.Second,
		AuthTimeout:          2 * time.Second,
		ReconnectTimeout:     5 * time.Second,
		MaxReconnectAttempts: 3,
		PingTimeout:          1 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          15 * time.Second,
	}
}

// SyncTransport owns the duplex channel lifecycle for one identity+workspace
// pair: connect, authenticate, detect drop, bounded-retry reconnect, and
// re-assertion of the subscription registry after every reconnect. exactly
// one channel is open or pending per transport at any time.
//
// state machine:
//
//	idle -> connecting -> connected -> (disconnected <-> reconnecting) -> closed
//
// transport errors are logged and counted, never surfaced to callers. the
// externally observable effects are the status transitions and, on closed,
// a one-time notification through the monitor.
type SyncTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	auth     *SessionAuth
	registry *SubscriptionRegistry
	router   *EventRouter
	monitor  *ConnectionMonitor

	settings *SyncTransportSettings

	mutex sync.Mutex
	// the current session's outbound channel. nil while not connected.
	send chan []byte
}

func NewSyncTransportWithDefaults(
	ctx context.Context,
	url string,
	auth *SessionAuth,
	registry *SubscriptionRegistry,
	router *EventRouter,
) (*SyncTransport, error) {
	return NewSyncTransport(ctx, url, auth, registry, router, DefaultSyncTransportSettings())
}

func NewSyncTransport(
	ctx context.Context,
	url string,
	auth *SessionAuth,
	registry *SubscriptionRegistry,
	router *EventRouter,
	settings *SyncTransportSettings,
) (*SyncTransport, error) {
	// connection is deliberately deferred until the identity and workspace
	// context are both available
	if !auth.Complete() {
		return nil, ErrMissingContext
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &SyncTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		url:      url,
		auth:     auth,
		registry: registry,
		router:   router,
		monitor:  NewConnectionMonitor(),
		settings: settings,
	}
	registry.setSender(transport.sendFrame)
	go transport.run()
	return transport, nil
}

func (self *SyncTransport) Status() ConnectionStatus {
	return self.monitor.Status()
}

func (self *SyncTransport) Monitor() *ConnectionMonitor {
	return self.monitor
}

// enqueue one outbound control frame for the current session.
// returns false when not connected or the session is backed up.
func (self *SyncTransport) sendFrame(frameBytes []byte) bool {
	self.mutex.Lock()
	send := self.send
	self.mutex.Unlock()

	if send == nil {
		return false
	}
	select {
	case send <- frameBytes:
		return true
	case <-self.ctx.Done():
		return false
	case <-time.After(self.settings.WriteTimeout):
		return false
	}
}

func (self *SyncTransport) run() {
	defer func() {
		self.cancel()
		self.monitor.update(ConnectionStatusClosed)
	}()

	userId, _ := self.auth.UserId()

	authBytes, err := EncodeFrame(&Auth{
		ByJwt:      self.auth.ByJwt,
		AppVersion: self.auth.AppVersion,
		InstanceId: self.auth.InstanceId,
	})
	if err != nil {
		return
	}

	attempt := 0
	for {
		if attempt == 0 {
			self.monitor.update(ConnectionStatusConnecting)
		} else {
			self.monitor.update(ConnectionStatusReconnecting)
		}

		ws, err := self.connect(authBytes)
		if err != nil {
			transportErr := &TransportError{Op: "connect", Err: err}
			glog.Infof("[t]auth error %s = %s\n", userId, transportErr)
			attempt += 1
			if self.settings.MaxReconnectAttempts < attempt {
				glog.Infof("[t]reconnect attempts exhausted %s\n", userId)
				return
			}
			self.monitor.update(ConnectionStatusDisconnected)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
			}
			continue
		}
		attempt = 0

		self.pump(ws, userId)

		self.monitor.update(ConnectionStatusDisconnected)
		attempt = 1
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *SyncTransport) connect(authBytes []byte) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	dialCtx, dialCancel := context.WithTimeout(self.ctx, self.settings.ConnectTimeout)
	defer dialCancel()

	ws, _, err := dialer.DialContext(dialCtx, self.url, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	if messageType, message, err := ws.ReadMessage(); err != nil {
		return nil, err
	} else {
		// verify the auth echo
		switch messageType {
		case websocket.TextMessage:
			if !bytes.Equal(authBytes, message) {
				return nil, fmt.Errorf("Auth response error: bad bytes.")
			}
		default:
			return nil, fmt.Errorf("Auth response error.")
		}
	}

	success = true
	return ws, nil
}

// pump runs one authenticated session until the connection drops
func (self *SyncTransport) pump(ws *websocket.Conn, userId Id) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	send := make(chan []byte, TransportBufferSize)
	self.mutex.Lock()
	self.send = send
	self.mutex.Unlock()
	defer func() {
		self.mutex.Lock()
		if self.send == send {
			self.send = nil
		}
		self.mutex.Unlock()
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message, ok := <-send:
				if !ok {
					return
				}

				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// note that for websocket a deadline timeout cannot be recovered
					glog.Infof("[ts]%s-> error = %s\n", userId, err)
					return
				}
				glog.V(2).Infof("[ts]%s->\n", userId)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	self.monitor.update(ConnectionStatusConnected)
	// the server holds no subscription state across connections
	self.registry.resubscribeAll()

	// events are delivered in arrival order and handled synchronously here,
	// so routing and reconciliation never reorder within a session
	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[tr]%s<- error = %s\n", userId, err)
			return
		}

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if 0 == len(message) {
				// ping
				glog.V(2).Infof("[tr]ping %s<-\n", userId)
				continue
			}
			self.handleMessage(message, userId)
		default:
			glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, userId)
		}
	}
}

func (self *SyncTransport) handleMessage(message []byte, userId Id) {
	m, err := DecodeFrame(message)
	if err != nil {
		glog.Infof("[tr]%s<- malformed frame = %s\n", userId, err)
		return
	}
	switch v := m.(type) {
	case *ResourceEvent:
		glog.V(2).Infof("[tr]%s<- %s %s\n", userId, v.ResourceType, v.EventKind)
		self.router.Dispatch(v)
	case *SubscribeResult:
		if v.Error != "" {
			glog.Infof("[tr]subscribe error %s/%s = %s\n", v.ResourceType, v.ResourceId, v.Error)
		}
	default:
		glog.V(2).Infof("[tr]other message %T %s<-\n", v, userId)
	}
}

func (self *SyncTransport) Close() {
	self.cancel()
}
