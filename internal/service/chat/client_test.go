package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
)

func TestConnectPerformsHandshake(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), nil)

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(c.transport.close)

	assert.Equal(t, "sid-1", c.Session().SessionID)
	assert.True(t, c.Status().Connected)
	assert.Equal(t, uint64(1), c.Status().Generation)

	connect := srv.waitFor(t, chatmodel.CmdConnect)
	assert.Equal(t, "cid-1", connect.Cid)
	assert.Equal(t, "game", connect.SvcID)
	assert.Equal(t, 1, connect.Tid)
	body := decodeBody(t, connect)
	assert.NotContains(t, body, "uid")
	assert.Equal(t, "tok-cid-1", body["accTkn"])
	assert.Equal(t, "READ", body["auth"])

	recent := srv.waitFor(t, chatmodel.CmdRequestRecentChat)
	assert.Equal(t, "sid-1", recent.Sid)
	assert.Equal(t, 2, recent.Tid)
	assert.Equal(t, float64(50), decodeBody(t, recent)["recentMessageCount"])

	srv.waitFor(t, chatmodel.CmdPing)
}

func TestConnectWithoutSessionIDFails(t *testing.T) {
	srv := newFakeServer(t)
	srv.omitSID.Store(true)
	c, _ := newTestClient(t, srv, &fakeResolver{}, newFakeSink(), nil)

	err := c.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, StageConnect, connErr.Stage)
	assert.ErrorIs(t, err, ErrNoSessionID)
	assert.False(t, c.Status().Connected)
}

func TestConnectDialFailure(t *testing.T) {
	srv := newFakeServer(t)
	srv.failNext.Store(1)
	c, _ := newTestClient(t, srv, &fakeResolver{}, newFakeSink(), nil)

	err := c.Connect(context.Background())
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, StageDial, connErr.Stage)
}

func TestRunRequiresConnect(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{}, newFakeSink(), nil)
	assert.ErrorIs(t, c.Run(context.Background()), ErrNotConnected)
}

func TestPingIsAnsweredBeforeRotationCheck(t *testing.T) {
	srv := newFakeServer(t)
	pongFirst := make(chan bool, 1)
	res := &fakeResolver{chatChannelID: "cid-1"}
	res.onChannel = func() {
		select {
		case p := <-srv.received:
			pongFirst <- p.Cmd == chatmodel.CmdPong
		case <-time.After(time.Second):
			pongFirst <- false
		}
	}
	c, _ := newTestClient(t, srv, res, newFakeSink(), nil)
	startRun(t, c)

	// Handshake and first keepalive pings.
	srv.waitFor(t, chatmodel.CmdPing)
	srv.waitFor(t, chatmodel.CmdPing)

	srv.push(t, `{"ver":"2","cmd":0}`)
	select {
	case ok := <-pongFirst:
		assert.True(t, ok, "pong must be sent before the rotation check")
	case <-time.After(3 * time.Second):
		t.Fatal("rotation check never ran")
	}
	assert.Equal(t, int32(1), srv.connects.Load())
}

func TestRotationReconnectsOnce(t *testing.T) {
	srv := newFakeServer(t)
	res := &fakeResolver{chatChannelID: "cid-2"}
	c, _ := newTestClient(t, srv, res, newFakeSink(), nil)
	startRun(t, c)

	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)

	connect := srv.waitFor(t, chatmodel.CmdConnect)
	assert.Equal(t, "cid-2", connect.Cid)
	assert.Equal(t, "tok-cid-2", decodeBody(t, connect)["accTkn"])

	require.Eventually(t, func() bool {
		return c.Session().ChatChannelID == "cid-2" && c.Status().Generation == 2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "sid-2", c.Session().SessionID)
	assert.Equal(t, int32(2), srv.connects.Load())

	// Same channel on the next PING: no further connect.
	srv.waitForConns(t, 2)
	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	require.Eventually(t, func() bool { return res.calls() == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return srv.connects.Load() > 2 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestDefaultOptionsCheckRotationOnEveryPing(t *testing.T) {
	assert.Zero(t, DefaultOptions().RotationCheckEvery)

	srv := newFakeServer(t)
	res := &fakeResolver{chatChannelID: "cid-1"}
	c, _ := newTestClient(t, srv, res, newFakeSink(), func(o *Options) {
		o.RotationCheckEvery = DefaultOptions().RotationCheckEvery
	})
	startRun(t, c)

	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	require.Eventually(t, func() bool { return res.calls() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), srv.connects.Load())

	res.set("cid-2")
	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)

	connect := srv.waitFor(t, chatmodel.CmdConnect)
	assert.Equal(t, "cid-2", connect.Cid)
	require.Eventually(t, func() bool {
		return c.Session().ChatChannelID == "cid-2"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, res.calls())
	assert.Equal(t, int32(2), srv.connects.Load())
}

func TestRotationThrottleFollowsClock(t *testing.T) {
	srv := newFakeServer(t)
	res := &fakeResolver{chatChannelID: "cid-1"}
	c, clock := newTestClient(t, srv, res, newFakeSink(), func(o *Options) {
		o.RotationCheckEvery = time.Minute
	})
	startRun(t, c)

	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	require.Eventually(t, func() bool { return res.calls() == 1 }, 3*time.Second, 10*time.Millisecond)

	// Within the window the lookup is skipped.
	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	assert.Never(t, func() bool { return res.calls() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	clock.Advance(time.Minute)
	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	require.Eventually(t, func() bool { return res.calls() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestRotationCheckSkippedOnResolverError(t *testing.T) {
	srv := newFakeServer(t)
	res := &fakeResolver{channelErr: errors.New("api down")}
	c, _ := newTestClient(t, srv, res, newFakeSink(), nil)
	_, errCh := startRun(t, c)

	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)
	require.Eventually(t, func() bool { return res.calls() == 1 }, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), srv.connects.Load())
	assert.Equal(t, "cid-1", c.Session().ChatChannelID)
	select {
	case err := <-errCh:
		t.Fatalf("Run stopped: %v", err)
	default:
	}
}

func TestReconnectAfterTransportFailures(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), nil)
	_, errCh := startRun(t, c)

	srv.failNext.Store(3)
	srv.drop(t)

	require.Eventually(t, func() bool {
		return srv.connects.Load() == 2 && c.Status().Connected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), srv.failNext.Load())
	assert.Equal(t, "sid-2", c.Session().SessionID)
	assert.False(t, c.Terminated())

	// The new connection carries traffic.
	srv.waitForConns(t, 2)
	srv.push(t, `{"ver":"2","cmd":0}`)
	srv.waitFor(t, chatmodel.CmdPong)

	select {
	case err := <-errCh:
		t.Fatalf("Run stopped: %v", err)
	default:
	}
}

func TestReconnectExhaustedStopsRun(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), func(o *Options) {
		o.MaxReconnectAttempts = 2
	})
	_, errCh := startRun(t, c)

	srv.failNext.Store(100)
	srv.drop(t)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrReconnectExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not give up")
	}
	assert.True(t, c.Terminated())
}

func TestKeepaliveFollowsClock(t *testing.T) {
	srv := newFakeServer(t)
	c, clock := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), nil)
	startRun(t, c)

	srv.waitFor(t, chatmodel.CmdPing) // handshake
	srv.waitFor(t, chatmodel.CmdPing) // first keepalive

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(20 * time.Second)

	p := srv.waitFor(t, chatmodel.CmdPing)
	assert.Empty(t, p.Cid, "keepalive ping carries no channel envelope")
}

func TestShutdownStopsBothLoops(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), nil)
	cancel, errCh := startRun(t, c)

	srv.waitFor(t, chatmodel.CmdPing)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop promptly")
	}
	assert.True(t, c.Terminated())
	assert.False(t, c.Status().Connected)

	// A closed transport refuses new connections.
	assert.Error(t, c.Connect(context.Background()))
}

func TestChatFlowsToSink(t *testing.T) {
	srv := newFakeServer(t)
	sink := newFakeSink()
	events := make(chan chatmodel.Event, 4)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, sink, func(o *Options) {
		o.OnEvent = func(e chatmodel.Event) { events <- e }
	})
	startRun(t, c)

	srv.push(t, `{"cmd":93101,"bdy":[{"uid":"anonymous","msg":"hi http://x.co 😀"}]}`)

	select {
	case p := <-sink.played:
		assert.Equal(t, played{text: "hi ", language: "ko"}, p)
	case <-time.After(3 * time.Second):
		t.Fatal("nothing played")
	}
	e := <-events
	assert.Equal(t, chatmodel.KindChat, e.Kind)
	assert.Equal(t, chatmodel.AnonymousDonorNickname, e.Nickname)
}

func TestUndecodablePacketTriggersReconnect(t *testing.T) {
	srv := newFakeServer(t)
	c, _ := newTestClient(t, srv, &fakeResolver{chatChannelID: "cid-1"}, newFakeSink(), nil)
	startRun(t, c)

	srv.push(t, `not json`)

	require.Eventually(t, func() bool {
		return srv.connects.Load() == 2 && c.Status().Generation == 2
	}, 3*time.Second, 10*time.Millisecond)
}
