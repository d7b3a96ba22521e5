package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer отвечает authenticated на authenticate и умеет рвать соединения
type testServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	accepted int32

	mu    sync.Mutex
	conns []*websocket.Conn
	got   []events.Event
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ts.accepted, 1)
		ts.mu.Lock()
		ts.conns = append(ts.conns, ws)
		ts.mu.Unlock()
		for {
			var evt events.Event
			if err := ws.ReadJSON(&evt); err != nil {
				return
			}
			ts.mu.Lock()
			ts.got = append(ts.got, evt)
			ts.mu.Unlock()
			if evt.Type == events.TypeAuthenticate {
				_ = ws.WriteJSON(events.Event{Type: events.TypeAuthenticated})
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = c.Close()
	}
	ts.conns = nil
}

func (ts *testServer) received() []events.Event {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]events.Event(nil), ts.got...)
}

type recorder struct {
	mu    sync.Mutex
	types []events.Type
}

func (r *recorder) handler(evt events.Event) {
	r.mu.Lock()
	r.types = append(r.types, evt.Type)
	r.mu.Unlock()
}

func (r *recorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.types {
		if x == t {
			n++
		}
	}
	return n
}

// flakyDialer отказывает в соединении, пока не исчерпан счетчик fail
type flakyDialer struct {
	fail  int32
	dials int32
}

func (d *flakyDialer) dialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			atomic.AddInt32(&d.dials, 1)
			if atomic.AddInt32(&d.fail, -1) >= 0 {
				return nil, errors.New("connection refused")
			}
			return (&net.Dialer{}).DialContext(ctx, network, addr)
		},
	}
}

func (d *flakyDialer) failNext(n int32) { atomic.StoreInt32(&d.fail, n) }
func (d *flakyDialer) count() int32     { return atomic.LoadInt32(&d.dials) }

func newTestChannel(t *testing.T, url string, maxAttempts int, dialer ...*websocket.Dialer) (*Channel, *recorder) {
	l := loop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	ch := New(l, Options{
		URL:            url,
		Identity:       models.Identity{UserID: "resp-1", Role: models.RoleResponder, ClientID: "c1", Token: "tok"},
		ReconnectDelay: 10 * time.Millisecond,
		MaxAttempts:    maxAttempts,
		Logger:         logger,
	})
	if len(dialer) > 0 {
		ch.opts.Dialer = dialer[0]
	}
	rec := &recorder{}
	for _, typ := range []events.Type{events.TypeConnected, events.TypeDisconnected, events.TypeAuthenticated, events.TypeReconnectFailed, events.TypeError} {
		ch.On(typ, rec.handler)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch, rec
}

func TestChannel_ConnectAuthenticates(t *testing.T) {
	ts := newTestServer(t)
	ch, rec := newTestChannel(t, ts.url(), 3)

	require.NoError(t, ch.Connect(context.Background()))

	assert.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeAuthenticated) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, ch.State())

	got := ts.received()
	require.NotEmpty(t, got)
	var auth events.Authenticate
	require.NoError(t, got[0].Decode(&auth))
	assert.Equal(t, "resp-1", auth.UserID)
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "c1", auth.ClientID)
}

func TestChannel_ReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	ch, rec := newTestChannel(t, ts.url(), 5)
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)

	ts.dropAll()

	assert.Eventually(t, func() bool { return rec.count(events.TypeDisconnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeConnected) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeAuthenticated) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&ts.accepted))
}

func TestChannel_ReconnectFailedAfterMaxAttempts(t *testing.T) {
	ts := newTestServer(t)
	ch, rec := newTestChannel(t, ts.url(), 2)
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)

	ts.srv.Listener.Close()
	ts.dropAll()

	assert.Eventually(t, func() bool { return rec.count(events.TypeReconnectFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.False(t, ch.Authenticated())
}

func TestChannel_SendWithoutConnection(t *testing.T) {
	ch, _ := newTestChannel(t, "ws://127.0.0.1:1/ws", 1)

	err := ch.Send(context.Background(), events.Event{Type: events.TypeJoinChat})

	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestChannel_ConnectFailureEntersReconnect(t *testing.T) {
	ch, rec := newTestChannel(t, "ws://127.0.0.1:1/ws", 2)

	err := ch.Connect(context.Background())

	// неудачная первая попытка не ошибка: подписчики узнают о ней событиями
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return rec.count(events.TypeError) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeDisconnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeReconnectFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateDisconnected, ch.State())
	assert.Equal(t, 0, rec.count(events.TypeConnected))
}

func TestChannel_ConnectsOnceServerComesUp(t *testing.T) {
	ts := newTestServer(t)
	d := &flakyDialer{}
	d.failNext(2)
	ch, rec := newTestChannel(t, ts.url(), 5, d.dialer())

	require.NoError(t, ch.Connect(context.Background()))

	assert.Eventually(t, ch.Authenticated, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.count(events.TypeConnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count(events.TypeError))
	assert.Equal(t, 0, rec.count(events.TypeReconnectFailed))
	assert.Equal(t, int32(3), d.count())
}

func TestChannel_AttemptCounterResetsAfterReconnect(t *testing.T) {
	// Подготовка
	ts := newTestServer(t)
	d := &flakyDialer{}
	ch, rec := newTestChannel(t, ts.url(), 2, d.dialer())
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)

	// Действие: два обрыва, в каждом одна неудачная попытка из двух разрешенных
	d.failNext(1)
	ts.dropAll()
	require.Eventually(t, func() bool { return rec.count(events.TypeConnected) == 2 }, 2*time.Second, 5*time.Millisecond)

	d.failNext(1)
	ts.dropAll()
	require.Eventually(t, func() bool { return rec.count(events.TypeConnected) == 3 }, 2*time.Second, 5*time.Millisecond)

	// Проверки
	assert.Equal(t, 0, rec.count(events.TypeReconnectFailed))
	assert.Equal(t, int32(5), d.count())
	assert.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)
}

func TestChannel_CloseCancelsReconnect(t *testing.T) {
	ts := newTestServer(t)
	d := &flakyDialer{}
	ch, rec := newTestChannel(t, ts.url(), 0, d.dialer())
	require.NoError(t, ch.Connect(context.Background()))
	require.Eventually(t, ch.Authenticated, time.Second, 5*time.Millisecond)

	d.failNext(1 << 20)
	ts.dropAll()
	require.Eventually(t, func() bool { return d.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	time.Sleep(30 * time.Millisecond)
	dials := d.count()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, dials, d.count())
	assert.Equal(t, 1, rec.count(events.TypeConnected))
	assert.Equal(t, 0, rec.count(events.TypeReconnectFailed))
	assert.Equal(t, StateDisconnected, ch.State())
}
