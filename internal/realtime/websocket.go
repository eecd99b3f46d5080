// Package realtime serves GraphQL subscriptions over WebSocket using the
// graphql-transport-ws protocol.
package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/logger"
)

// Subprotocol is the WebSocket subprotocol negotiated with clients.
const Subprotocol = "graphql-transport-ws"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultInitTimeout = 10 * time.Second
	defaultBufferSize  = 64
)

// Close codes defined by graphql-transport-ws.
const (
	CloseInvalidMessage   = 4400
	CloseUnauthorized     = 4401
	CloseInitTimeout      = 4408
	CloseSubscriberExists = 4409
	CloseTooManyInits     = 4429
)

// Message types of graphql-transport-ws.
const (
	MsgConnectionInit = "connection_init"
	MsgConnectionAck  = "connection_ack"
	MsgPing           = "ping"
	MsgPong           = "pong"
	MsgSubscribe      = "subscribe"
	MsgNext           = "next"
	MsgError          = "error"
	MsgComplete       = "complete"
)

// Message is one protocol frame.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Subscriber starts GraphQL subscriptions. *graphql.Schema implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, rc reqctx.RequestContext, req graphql.Request) (<-chan *graphql.Response, *graphql.Response)
}

// Options configure a Server.
type Options struct {
	InitTimeout time.Duration
	BufferSize  int
}

// Server upgrades HTTP requests into subscription sessions. The Authorization value
// of the connection_init payload is verified once and the resulting RequestContext is
// used for every subscription of the session.
type Server struct {
	schema   Subscriber
	verifier reqctx.TokenVerifier
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
}

// NewServer constructs a subscription server.
func NewServer(schema Subscriber, verifier reqctx.TokenVerifier, opts Options) *Server {
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	return &Server{
		schema:   schema,
		verifier: verifier,
		opts:     opts,
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// IsUpgrade reports whether r asks for a WebSocket.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// ServeHTTP upgrades the connection and runs the session until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if conn.Subprotocol() != Subprotocol {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := newSession(s, conn, ctx, cancel)
	go session.writeLoop()
	session.readLoop()
}

type session struct {
	server *Server
	socket *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	send   chan Message
	closed chan struct{}
	once   sync.Once

	mu            sync.Mutex
	initialised   bool
	acknowledged  bool
	rc            reqctx.RequestContext
	subscriptions map[string]*operation
}

// operation is one running subscription of a session.
type operation struct {
	cancel context.CancelFunc
}

func newSession(server *Server, conn *websocket.Conn, ctx context.Context, cancel context.CancelFunc) *session {
	return &session{
		server:        server,
		socket:        conn,
		ctx:           ctx,
		cancel:        cancel,
		send:          make(chan Message, server.opts.BufferSize),
		closed:        make(chan struct{}),
		subscriptions: make(map[string]*operation),
	}
}

func (s *session) readLoop() {
	defer s.close(websocket.CloseNormalClosure, "")

	initTimer := time.AfterFunc(s.server.opts.InitTimeout, func() {
		s.mu.Lock()
		acked := s.acknowledged
		s.mu.Unlock()
		if !acked {
			s.close(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	s.socket.SetReadLimit(maxMessageSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.server.log.Debug("unexpected websocket close", zap.Error(err))
			}
			return
		}
		_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
			s.close(CloseInvalidMessage, "Invalid message received")
			return
		}
		if !s.handle(msg) {
			return
		}
	}
}

// handle processes one client frame and reports whether the session continues.
func (s *session) handle(msg Message) bool {
	switch msg.Type {
	case MsgConnectionInit:
		return s.init(msg)
	case MsgPing:
		s.enqueue(Message{Type: MsgPong, Payload: msg.Payload})
	case MsgPong:
	case MsgSubscribe:
		return s.subscribe(msg)
	case MsgComplete:
		s.stop(msg.ID)
	default:
		s.close(CloseInvalidMessage, "Invalid message received")
		return false
	}
	return true
}

func (s *session) init(msg Message) bool {
	s.mu.Lock()
	if s.initialised {
		s.mu.Unlock()
		s.close(CloseTooManyInits, "Too many initialisation requests")
		return false
	}
	s.initialised = true
	s.mu.Unlock()

	var payload map[string]any
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &payload)
	}

	authorization := stringField(payload, "Authorization", "authorization", "authToken")
	from := stringField(payload, reqctx.HeaderFrom)
	rc := reqctx.Derive(s.server.verifier, authorization, from)

	s.mu.Lock()
	s.rc = rc
	s.acknowledged = true
	s.mu.Unlock()

	s.enqueue(Message{Type: MsgConnectionAck})
	return true
}

func (s *session) subscribe(msg Message) bool {
	s.mu.Lock()
	acked := s.acknowledged
	_, exists := s.subscriptions[msg.ID]
	rc := s.rc
	s.mu.Unlock()

	if !acked {
		s.close(CloseUnauthorized, "Unauthorized")
		return false
	}
	if msg.ID == "" {
		s.close(CloseInvalidMessage, "Invalid message received")
		return false
	}
	if exists {
		s.close(CloseSubscriberExists, "Subscriber for "+msg.ID+" already exists")
		return false
	}

	var req graphql.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		s.close(CloseInvalidMessage, "Invalid message received")
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	stream, failure := s.server.schema.Subscribe(ctx, rc, req)
	if failure != nil {
		cancel()
		s.enqueue(Message{ID: msg.ID, Type: MsgError, Payload: mustJSON(failure.Errors)})
		return true
	}

	op := &operation{cancel: cancel}
	s.mu.Lock()
	s.subscriptions[msg.ID] = op
	s.mu.Unlock()

	go func() {
		defer s.finish(msg.ID, op)
		for resp := range stream {
			s.enqueue(Message{ID: msg.ID, Type: MsgNext, Payload: mustJSON(resp)})
		}
	}()
	return true
}

// finish runs when a stream ends. The client is told unless it ended the stream
// itself or the id has since been reused.
func (s *session) finish(id string, op *operation) {
	s.mu.Lock()
	active := s.subscriptions[id] == op
	if active {
		delete(s.subscriptions, id)
	}
	s.mu.Unlock()

	op.cancel()
	if active && s.ctx.Err() == nil {
		s.enqueue(Message{ID: id, Type: MsgComplete})
	}
}

func (s *session) stop(id string) {
	s.mu.Lock()
	op, ok := s.subscriptions[id]
	delete(s.subscriptions, id)
	s.mu.Unlock()
	if ok {
		op.cancel()
	}
}

// enqueue hands a frame to the writer. A client that cannot keep up is disconnected.
func (s *session) enqueue(msg Message) {
	select {
	case <-s.closed:
	case s.send <- msg:
	default:
		s.server.log.Warn("dropping slow websocket client")
		s.close(websocket.ClosePolicyViolation, "Client too slow")
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteJSON(msg); err != nil {
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// close cancels every subscription, discarding undelivered frames, and closes the socket.
func (s *session) close(code int, reason string) {
	s.once.Do(func() {
		s.cancel()
		close(s.closed)

		s.mu.Lock()
		for id, op := range s.subscriptions {
			op.cancel()
			delete(s.subscriptions, id)
		}
		s.mu.Unlock()

		if code != websocket.CloseAbnormalClosure {
			_ = s.socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(writeWait))
		}
		_ = s.socket.Close()
	})
}

func stringField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	if headers, ok := payload["headers"].(map[string]any); ok {
		for _, key := range keys {
			if value, ok := headers[key].(string); ok && value != "" {
				return value
			}
		}
	}
	return ""
}

func mustJSON(v any) json.RawMessage {
	body, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`[{"message":"failed to encode payload"}]`)
	}
	return body
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
