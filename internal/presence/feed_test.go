package presence

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/scawful/halext-org-sub003/internal/api"
	"github.com/scawful/halext-org-sub003/internal/config"
)

type feedServer struct {
	ts     *httptest.Server
	accept chan *websocket.Conn

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()

	fs := &feedServer{accept: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	fs.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()
		fs.accept <- conn
		// Drain so close frames from the client are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(func() {
		fs.mu.Lock()
		for _, c := range fs.conns {
			c.Close()
		}
		fs.mu.Unlock()
		fs.ts.Close()
	})
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.ts.URL, "http")
}

func (fs *feedServer) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.accept:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a presence connection")
		return nil
	}
}

func testFeedConfig(url string) config.PresenceConfig {
	return config.PresenceConfig{
		URL:                url,
		MaxReconnects:      5,
		ReconnectBaseDelay: 10 * time.Millisecond,
		HandshakeTimeout:   time.Second,
	}
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestConnectAndDispatch(t *testing.T) {
	fs := newFeedServer(t)

	presCh := make(chan PresenceUpdate, 4)
	typCh := make(chan TypingUpdate, 4)
	states := make(chan State, 16)

	feed, err := NewFeed(testFeedConfig(fs.url()), api.StaticToken("tok"), Handlers{
		OnPresence: func(u PresenceUpdate) { presCh <- u },
		OnTyping:   func(u TypingUpdate) { typCh <- u },
		OnState:    func(s State) { states <- s },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()
	t.Cleanup(feed.Disconnect)
	conn := fs.waitConn(t)
	waitState(t, states, StateConnected)

	frames := []string{
		`{"type":"presence_update","data":{"user_id":7,"status":"online","last_seen":"2024-01-01T12:00:00Z"}}`,
		`{"type":"calendar_update","data":{"whatever":true}}`,
		`{"type":"typing_update","data":{"user_id":7,"conversation_id":3,"is_typing":true}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	select {
	case u := <-presCh:
		if u.UserID != 7 || u.Status != "online" {
			t.Fatalf("unexpected presence update %+v", u)
		}
		want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		if !u.LastSeen.Equal(want) {
			t.Fatalf("expected last_seen %v, got %v", want, u.LastSeen.Time)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence update")
	}

	select {
	case u := <-typCh:
		if u.UserID != 7 || u.ConversationID != 3 || !u.IsTyping {
			t.Fatalf("unexpected typing update %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing update")
	}

	// The unknown frame type must have been dropped without disturbing the
	// connection.
	if feed.State() != StateConnected {
		t.Fatalf("expected feed to stay connected, state %v", feed.State())
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	fs := newFeedServer(t)
	states := make(chan State, 16)

	feed, err := NewFeed(testFeedConfig(fs.url()), api.StaticToken("tok"), Handlers{
		OnState: func(s State) { states <- s },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()
	t.Cleanup(feed.Disconnect)
	conn := fs.waitConn(t)
	waitState(t, states, StateConnected)

	conn.Close()

	waitState(t, states, StateDisconnected)
	fs.waitConn(t)
	waitState(t, states, StateConnected)

	if got := feed.ReconnectAttempts(); got != 0 {
		t.Fatalf("expected reconnect attempts reset to 0, got %d", got)
	}
}

func TestReconnectStopsAtCap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ts.Close()

	cfg := testFeedConfig(url)
	cfg.MaxReconnects = 3
	cfg.ReconnectBaseDelay = 5 * time.Millisecond

	feed, err := NewFeed(cfg, api.StaticToken("tok"), Handlers{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()

	deadline := time.After(2 * time.Second)
	for feed.ReconnectAttempts() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 reconnect attempts, got %d", feed.ReconnectAttempts())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Give the final scheduled attempt time to fire and fail, then confirm
	// the feed stays down without further attempts.
	time.Sleep(200 * time.Millisecond)
	if got := feed.ReconnectAttempts(); got != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", got)
	}
	if feed.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", feed.State())
	}
}

func TestConnectNoopWhileConnected(t *testing.T) {
	fs := newFeedServer(t)
	states := make(chan State, 16)

	feed, err := NewFeed(testFeedConfig(fs.url()), api.StaticToken("tok"), Handlers{
		OnState: func(s State) { states <- s },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()
	t.Cleanup(feed.Disconnect)
	fs.waitConn(t)
	waitState(t, states, StateConnected)

	feed.Connect()

	select {
	case <-fs.accept:
		t.Fatal("second Connect opened a duplicate socket")
	case <-time.After(100 * time.Millisecond):
	}
	if feed.State() != StateConnected {
		t.Fatalf("expected connected state, got %v", feed.State())
	}
}

func TestConnectSkippedWithoutCredential(t *testing.T) {
	fs := newFeedServer(t)

	feed, err := NewFeed(testFeedConfig(fs.url()), api.StaticToken(""), Handlers{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()

	select {
	case <-fs.accept:
		t.Fatal("connected without a credential")
	case <-time.After(100 * time.Millisecond):
	}
	if feed.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", feed.State())
	}
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	fs := newFeedServer(t)
	states := make(chan State, 16)

	feed, err := NewFeed(testFeedConfig(fs.url()), api.StaticToken("tok"), Handlers{
		OnState: func(s State) { states <- s },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}

	feed.Connect()
	fs.waitConn(t)
	waitState(t, states, StateConnected)

	feed.Disconnect()

	select {
	case <-fs.accept:
		t.Fatal("feed reconnected after an explicit Disconnect")
	case <-time.After(200 * time.Millisecond):
	}
	if got := feed.ReconnectAttempts(); got != 0 {
		t.Fatalf("expected attempts reset on Disconnect, got %d", got)
	}
	if feed.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", feed.State())
	}

	// Manual reactivation works after an explicit Disconnect.
	feed.Connect()
	t.Cleanup(feed.Disconnect)
	fs.waitConn(t)
	waitState(t, states, StateConnected)
}
