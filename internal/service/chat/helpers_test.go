package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	"github.com/zhouzirui/chzzk-tts/internal/service/channel"
)

// fakeServer scripts the chat server side of the handshake and records
// every packet received afterwards.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	failNext atomic.Int32
	connects atomic.Int32
	omitSID  atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn

	received chan chatmodel.Packet
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{received: make(chan chatmodel.Packet, 512)}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.mu.Lock()
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.srv.Close()
	})
	return s
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if s.failNext.Load() > 0 {
		s.failNext.Add(-1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	n := s.connects.Add(1)

	if _, ok := s.read(conn); !ok {
		return
	}
	reply := fmt.Sprintf(`{"ver":"2","cmd":10100,"tid":1,"bdy":{"sid":"sid-%d"}}`, n)
	if s.omitSID.Load() {
		reply = `{"ver":"2","cmd":10100,"tid":1,"bdy":{}}`
	}
	if conn.WriteMessage(websocket.TextMessage, []byte(reply)) != nil {
		return
	}

	if _, ok := s.read(conn); !ok {
		return
	}
	if conn.WriteMessage(websocket.TextMessage, []byte(`{"ver":"2","cmd":15101,"tid":2,"bdy":{"messageList":[]}}`)) != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		if _, ok := s.read(conn); !ok {
			return
		}
	}
}

func (s *fakeServer) read(conn *websocket.Conn) (chatmodel.Packet, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return chatmodel.Packet{}, false
	}
	p, err := chatmodel.DecodePacket(data)
	if err != nil {
		return chatmodel.Packet{}, false
	}
	select {
	case s.received <- p:
	default:
	}
	return p, true
}

// waitForConns blocks until n connections finished the handshake.
func (s *fakeServer) waitForConns(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.conns) >= n
	}, 3*time.Second, 5*time.Millisecond)
}

func (s *fakeServer) latest(t *testing.T) *websocket.Conn {
	t.Helper()
	s.waitForConns(t, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

// push sends a raw frame on the most recent connection.
func (s *fakeServer) push(t *testing.T, raw string) {
	t.Helper()
	require.NoError(t, s.latest(t).WriteMessage(websocket.TextMessage, []byte(raw)))
}

// drop closes the most recent connection from the server side.
func (s *fakeServer) drop(t *testing.T) {
	t.Helper()
	_ = s.latest(t).Close()
}

// waitFor drains received packets until one with cmd arrives.
func (s *fakeServer) waitFor(t *testing.T, cmd chatmodel.Command) chatmodel.Packet {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-s.received:
			if p.Cmd == cmd {
				return p
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", cmd)
			return chatmodel.Packet{}
		}
	}
}

type fakeResolver struct {
	mu            sync.Mutex
	chatChannelID string
	channelErr    error
	userErr       error
	channelCalls  int
	tokenCalls    int
	onChannel     func()
}

func (r *fakeResolver) ChatChannelID(_ context.Context, _ string) (string, error) {
	r.mu.Lock()
	hook := r.onChannel
	r.channelCalls++
	id, err := r.chatChannelID, r.channelErr
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return id, err
}

func (r *fakeResolver) ChannelName(_ context.Context, _ string) (string, error) {
	return "테스트 채널", nil
}

func (r *fakeResolver) AccessToken(_ context.Context, chatChannelID string, _ channel.Cookies) (channel.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenCalls++
	return channel.Token{AccessToken: "tok-" + chatChannelID, ExtraToken: "extra"}, nil
}

func (r *fakeResolver) UserIDHash(_ context.Context, _ channel.Cookies) (string, error) {
	if r.userErr != nil {
		return "", r.userErr
	}
	return "user-hash", nil
}

func (r *fakeResolver) set(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatChannelID = id
}

func (r *fakeResolver) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelCalls
}

type played struct {
	text     string
	language string
}

type fakeSink struct {
	played chan played
	err    error
}

func newFakeSink() *fakeSink {
	return &fakeSink{played: make(chan played, 16)}
}

func (s *fakeSink) Play(_ context.Context, text, language string) error {
	s.played <- played{text: text, language: language}
	return s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() chatmodel.Session {
	return chatmodel.Session{
		StreamerID:    "streamer",
		ChatChannelID: "cid-1",
		ChannelName:   "테스트 채널",
		AccessToken:   "tok-cid-1",
	}
}

func newTestClient(t *testing.T, srv *fakeServer, res *fakeResolver, sink Sink, mutate func(*Options)) (*Client, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts := Options{
		Endpoint:         srv.url(),
		PingInterval:     20 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		ReconnectInitial: 5 * time.Millisecond,
		ReconnectMax:     20 * time.Millisecond,
		BreakerFailures:  10,
		BreakerCooldown:  50 * time.Millisecond,
		Clock:            clock,
		Logger:           discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(testSession(), res, sink, opts), clock
}

// startRun connects c and runs it in the background.
func startRun(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		errCh <- c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Run did not stop")
		}
	})
	return cancel, errCh
}

func decodeBody(t *testing.T, p chatmodel.Packet) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(p.Bdy, &body))
	return body
}
