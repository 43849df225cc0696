// Package presence maintains the long-lived live-updates connection: online
// status and typing indicators pushed by the backend over a WebSocket. Its
// reconnection policy is tuned independently of the request client's retry
// policy; a streaming connection tolerates a higher attempt cap and recovers
// on a different cadence than a single request/response call.
package presence

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/api"
	"github.com/scawful/halext-org-sub003/internal/config"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type PresenceUpdate struct {
	UserID   int64         `json:"user_id"`
	Status   string        `json:"status"`
	LastSeen api.Timestamp `json:"last_seen"`
}

type TypingUpdate struct {
	UserID         int64 `json:"user_id"`
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

type Handlers struct {
	OnPresence func(PresenceUpdate)
	OnTyping   func(TypingUpdate)
	OnState    func(State)
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Feed owns at most one socket at a time. Connect is a no-op while a
// connection is live or being established, and while no credential is
// available. After maxReconnects consecutive failures the feed stays down
// until Connect is called again (app foreground, manual refresh).
type Feed struct {
	url           string
	tokens        api.TokenSource
	handlers      Handlers
	log           zerolog.Logger
	dialer        *websocket.Dialer
	baseDelay     time.Duration
	maxReconnects int

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	attempts int
	closed   bool
	retryTmr *time.Timer
}

func NewFeed(cfg config.PresenceConfig, tokens api.TokenSource, handlers Handlers, log zerolog.Logger) (*Feed, error) {
	if !strings.HasPrefix(cfg.URL, "wss://") && !strings.HasPrefix(cfg.URL, "ws://") {
		return nil, fmt.Errorf("presence URL must use ws:// or wss://, got %q", cfg.URL)
	}

	maxReconnects := cfg.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 5
	}
	baseDelay := cfg.ReconnectBaseDelay
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	return &Feed{
		url:           cfg.URL,
		tokens:        tokens,
		handlers:      handlers,
		log:           log,
		dialer:        &websocket.Dialer{HandshakeTimeout: handshake},
		baseDelay:     baseDelay,
		maxReconnects: maxReconnects,
	}, nil
}

func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Feed) ReconnectAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// Connect establishes the socket and starts the read loop. Errors during the
// handshake are handled by the reconnect schedule rather than returned.
func (f *Feed) Connect() {
	token, err := f.tokens.Token()
	if err != nil || token == "" {
		f.log.Debug().Msg("presence connect skipped, no credential available")
		return
	}

	f.mu.Lock()
	if f.state != StateDisconnected {
		f.mu.Unlock()
		return
	}
	f.state = StateConnecting
	f.closed = false
	f.mu.Unlock()
	f.emitState(StateConnecting)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := f.dialer.Dial(f.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("presence dial failed")
		f.mu.Lock()
		f.state = StateDisconnected
		f.mu.Unlock()
		f.emitState(StateDisconnected)
		f.scheduleReconnect()
		return
	}

	f.mu.Lock()
	if f.closed {
		// Disconnect raced the handshake; drop the socket.
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.conn = conn
	f.state = StateConnected
	f.attempts = 0
	f.mu.Unlock()

	f.log.Info().Str("url", f.url).Msg("presence connected")
	f.emitState(StateConnected)

	go f.readLoop(conn)
}

// Disconnect tears the socket down and suppresses automatic reconnection
// until the next Connect.
func (f *Feed) Disconnect() {
	f.mu.Lock()
	f.closed = true
	if f.retryTmr != nil {
		f.retryTmr.Stop()
		f.retryTmr = nil
	}
	conn := f.conn
	f.conn = nil
	f.attempts = 0
	wasDown := f.state == StateDisconnected
	f.state = StateDisconnected
	f.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if !wasDown {
		f.emitState(StateDisconnected)
	}
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.handleDrop(conn, err)
			return
		}
		f.dispatch(data)
	}
}

func (f *Feed) handleDrop(conn *websocket.Conn, err error) {
	conn.Close()

	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	manual := f.closed
	f.state = StateDisconnected
	f.mu.Unlock()

	if manual {
		return
	}

	f.log.Warn().Err(err).Msg("presence connection lost")
	f.emitState(StateDisconnected)
	f.scheduleReconnect()
}

func (f *Feed) scheduleReconnect() {
	f.mu.Lock()
	if f.closed || f.attempts >= f.maxReconnects {
		exhausted := !f.closed
		f.mu.Unlock()
		if exhausted {
			f.log.Info().Int("attempts", f.maxReconnects).Msg("presence reconnect budget exhausted")
		}
		return
	}
	delay := f.baseDelay << f.attempts
	f.attempts++
	attempt := f.attempts
	f.retryTmr = time.AfterFunc(delay, func() {
		f.mu.Lock()
		f.retryTmr = nil
		f.mu.Unlock()
		f.Connect()
	})
	f.mu.Unlock()

	f.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("presence reconnect scheduled")
}

func (f *Feed) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Warn().Err(err).Msg("dropping malformed presence frame")
		return
	}

	switch env.Type {
	case "presence_update":
		var update PresenceUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed presence_update payload")
			return
		}
		if f.handlers.OnPresence != nil {
			f.handlers.OnPresence(update)
		}
	case "typing_update":
		var update TypingUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			f.log.Warn().Err(err).Msg("dropping malformed typing_update payload")
			return
		}
		if f.handlers.OnTyping != nil {
			f.handlers.OnTyping(update)
		}
	default:
		f.log.Debug().Str("type", env.Type).Msg("dropping unrecognized presence message")
	}
}

func (f *Feed) emitState(s State) {
	if f.handlers.OnState != nil {
		f.handlers.OnState(s)
	}
}
