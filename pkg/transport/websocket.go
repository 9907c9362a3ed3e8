package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/based-protocol/based-go/pkg/connection"
	"github.com/based-protocol/based-go/pkg/log"
)

// Transport errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("transport closed")
)

// Defaults for Config fields left zero.
const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultCloseTimeout     = time.Second

	// DefaultMaxMessageSize admits the largest frame the header can describe.
	DefaultMaxMessageSize = 1 << 28
)

// Handler receives connection events. Calls are serialized: HandleOpen
// precedes every HandleMessage of a connection, and HandleClose follows
// the last one.
type Handler interface {
	HandleOpen()
	HandleMessage(frame []byte)
	HandleClose(err error)
}

// Config configures a WSTransport.
type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with every handshake.
	Header http.Header

	// Backoff tunes the redial delays.
	Backoff connection.BackoffConfig

	// KeepAlive tunes ping/pong liveness checks.
	KeepAlive KeepAliveConfig

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// MaxMessageSize bounds inbound messages.
	MaxMessageSize int64

	// Dialer overrides the WebSocket dialer, mainly for TLS settings.
	Dialer *websocket.Dialer

	// Logger receives operational logs. Nil disables them.
	Logger *slog.Logger

	// ProtocolLogger receives transport-layer capture events.
	ProtocolLogger log.Logger
}

// WSTransport is a self-reconnecting WebSocket carrier for frames.
type WSTransport struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	manager *connection.Manager
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connID    string
	keepAlive *KeepAlive
	closed    bool
	started   bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a transport that reports to h. Nothing is dialed until Start.
func New(cfg Config, h Handler) *WSTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &WSTransport{
		cfg:     cfg,
		handler: h,
		dialer:  dialer,
		logger:  logger.With("url", cfg.URL),
		ctx:     ctx,
		cancel:  cancel,
	}
	t.manager = connection.NewManager(t.dial, connection.NewBackoffWithConfig(cfg.Backoff), connection.Hooks{
		OnStateChange: t.onStateChange,
		OnRedial: func(attempt int, delay time.Duration) {
			t.logger.Debug("redialing", "attempt", attempt, "delay", delay)
		},
	})
	return t
}

// Start begins dialing in the background. A failed first attempt is
// retried with backoff until Close.
func (t *WSTransport) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.mu.Unlock()

	return t.manager.Start(t.ctx)
}

// State returns the connection state.
func (t *WSTransport) State() connection.State {
	return t.manager.State()
}

// ConnectionID returns the id of the current connection, or "".
func (t *WSTransport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connID
}

// Send writes one frame as a binary message.
func (t *WSTransport) Send(frame []byte) error {
	t.mu.Lock()
	conn, connID := t.conn, t.connID
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		t.emitError(connID, "write frame", err)
		return fmt.Errorf("write frame: %w", err)
	}

	log.Emit(t.cfg.ProtocolLogger, log.Event{
		ConnectionID: connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   t.cfg.URL,
		Frame:        log.NewFrameEvent(frame),
	})
	return nil
}

// Close stops redialing and closes the connection. No Handler method is
// called once Close returns.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, connID, ka := t.conn, t.connID, t.keepAlive
	t.conn, t.keepAlive = nil, nil
	t.mu.Unlock()

	t.cancel()
	t.manager.Close()
	if ka != nil {
		ka.Stop()
	}
	if conn == nil {
		return nil
	}

	code := websocket.CloseNormalClosure
	t.emitControl(connID, log.DirectionOut, log.ControlMsgClose, &code)
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(DefaultCloseTimeout))
	t.writeMu.Unlock()
	return conn.Close()
}

// dial is the connection.ConnectFunc. It leaves the new connection parked
// until the manager reports StateOpen.
func (t *WSTransport) dial(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		t.emitError("", "dial", err)
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	conn.SetReadLimit(t.cfg.MaxMessageSize)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.connID = uuid.NewString()
	t.mu.Unlock()
	return nil
}

func (t *WSTransport) onStateChange(from, to connection.State) {
	t.mu.Lock()
	connID := t.connID
	closed := t.closed
	conn := t.conn
	t.mu.Unlock()

	log.Emit(t.cfg.ProtocolLogger, log.Event{
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   t.cfg.URL,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
		},
	})
	t.logger.Debug("connection state", "from", from, "to", to)

	if to != connection.StateOpen || closed || conn == nil {
		return
	}

	t.startKeepAlive(conn, connID)
	t.handler.HandleOpen()
	go t.readLoop(conn, connID)
}

func (t *WSTransport) startKeepAlive(conn *websocket.Conn, connID string) {
	if t.cfg.KeepAlive.Disabled {
		return
	}
	ka := NewKeepAlive(t.cfg.KeepAlive,
		func(seq uint32) error {
			t.emitControl(connID, log.DirectionOut, log.ControlMsgPing, nil)
			t.writeMu.Lock()
			defer t.writeMu.Unlock()
			return conn.WriteControl(websocket.PingMessage, pingPayload(seq),
				time.Now().Add(t.cfg.WriteTimeout))
		},
		func() {
			t.logger.Warn("keep-alive timeout", "connection", connID)
			conn.Close()
		},
	)
	conn.SetPongHandler(func(appData string) error {
		t.emitControl(connID, log.DirectionIn, log.ControlMsgPong, nil)
		if seq, err := parsePong(appData); err == nil {
			ka.PongReceived(seq)
		}
		return nil
	})

	t.mu.Lock()
	t.keepAlive = ka
	t.mu.Unlock()
	ka.Start(t.ctx)
}

func (t *WSTransport) readLoop(conn *websocket.Conn, connID string) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.lost(conn, connID, err)
			return
		}
		if !t.current(conn) {
			return
		}
		if kind != websocket.BinaryMessage {
			t.logger.Debug("ignoring non-binary message", "type", kind)
			continue
		}

		log.Emit(t.cfg.ProtocolLogger, log.Event{
			ConnectionID: connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			RemoteAddr:   t.cfg.URL,
			Frame:        log.NewFrameEvent(data),
		})
		t.handler.HandleMessage(data)
	}
}

func (t *WSTransport) current(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn == conn && !t.closed
}

// lost tears down conn after a read failure and hands over to the backoff
// loop. It is a no-op for a connection that Close already took.
func (t *WSTransport) lost(conn *websocket.Conn, connID string, err error) {
	t.mu.Lock()
	if t.conn != conn || t.closed {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	ka := t.keepAlive
	t.keepAlive = nil
	t.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	conn.Close()

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code := ce.Code
		t.emitControl(connID, log.DirectionIn, log.ControlMsgClose, &code)
	} else {
		t.emitError(connID, "read frame", err)
	}
	t.logger.Info("connection lost", "connection", connID, "error", err)

	t.handler.HandleClose(err)
	t.manager.Lost()
}

func (t *WSTransport) emitControl(connID string, dir log.Direction, typ log.ControlMsgType, code *int) {
	log.Emit(t.cfg.ProtocolLogger, log.Event{
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   t.cfg.URL,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, CloseCode: code},
	})
}

func (t *WSTransport) emitError(connID, op string, err error) {
	log.Emit(t.cfg.ProtocolLogger, log.Event{
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   t.cfg.URL,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: op,
		},
	})
}
