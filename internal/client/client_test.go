package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shenikar/incident_dispatch/internal/client/notify"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentAlerter struct{}

func (silentAlerter) Sound(string)              {}
func (silentAlerter) Toast(notify.Notification) {}

// fakeServer отвечает на authenticate и пушит события по команде теста
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	open     []models.Incident
	down     atomic.Bool
	polls    atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeServer(t *testing.T, open []models.Incident) *fakeServer {
	fs := &fakeServer{open: open}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if fs.down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			var evt events.Event
			if err := ws.ReadJSON(&evt); err != nil {
				return
			}
			if evt.Type == events.TypeAuthenticate {
				fs.mu.Lock()
				fs.conn = ws
				_ = ws.WriteJSON(events.Event{Type: events.TypeAuthenticated})
				fs.mu.Unlock()
			}
		}
	})
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		fs.polls.Add(1)
		_ = json.NewEncoder(w).Encode(fs.open)
	})
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) push(t *testing.T, typ events.Type, payload any) {
	t.Helper()
	evt, err := events.New(typ, payload)
	require.NoError(t, err)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotNil(t, fs.conn)
	require.NoError(t, fs.conn.WriteJSON(evt))
}

func (fs *fakeServer) connected() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conn != nil
}

func TestClient_OfferWithdrawnWhenSomeoneElseAccepts(t *testing.T) {
	// Подготовка
	inc := models.Incident{ID: uuid.New(), Category: models.CategoryFire, Status: models.StatusOpen}
	fs := newFakeServer(t, []models.Incident{inc})
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	c, err := New(&config.ClientConfig{
		APIBaseURL:           fs.srv.URL + "/api/v1",
		WSURL:                "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/ws",
		AuthToken:            "tok",
		UserID:               "resp-1",
		UserRole:             string(models.RoleResponder),
		RequestTimeout:       time.Second,
		ReconnectDelay:       10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		NotifyPollInterval:   time.Hour,
		OfferWindow:          time.Minute,
	}, silentAlerter{}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, fs.connected, time.Second, 5*time.Millisecond)

	pending := func() int {
		offers, err := c.Offers.Snapshot(context.Background())
		if err != nil {
			return -1
		}
		return len(offers)
	}
	unread := func() int {
		n := -1
		_ = c.Loop.Do(context.Background(), func() { n = c.Notifications.Unread() })
		return n
	}

	// Действие
	fs.push(t, events.TypeNewOccurrence, events.NewOccurrence{Incident: inc, Deadline: time.Now().Add(time.Minute)})
	require.Eventually(t, func() bool { return pending() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return unread() == 1 }, time.Second, 5*time.Millisecond)

	other := "resp-2"
	fs.push(t, events.TypeOccurrenceStatus, events.OccurrenceStatus{
		IncidentID:  inc.ID.String(),
		Status:      models.StatusAccepted,
		ResponderID: &other,
	})

	// Проверки
	assert.Eventually(t, func() bool { return pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return unread() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestClient_ConnectsWhenServerComesUpLater(t *testing.T) {
	// Подготовка
	fs := newFakeServer(t, nil)
	fs.down.Store(true)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	c, err := New(&config.ClientConfig{
		APIBaseURL:           fs.srv.URL + "/api/v1",
		WSURL:                "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/ws",
		AuthToken:            "tok",
		UserID:               "resp-1",
		UserRole:             string(models.RoleResponder),
		RequestTimeout:       time.Second,
		ReconnectDelay:       10 * time.Millisecond,
		ReconnectMaxAttempts: 0,
		NotifyPollInterval:   20 * time.Millisecond,
		OfferWindow:          time.Minute,
	}, silentAlerter{}, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Проверки: без websocket опрос и цикл продолжают работать
	require.Eventually(t, func() bool { return fs.polls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Loop.Do(context.Background(), func() {}))
	assert.False(t, fs.connected())
	assert.False(t, c.Channel.Authenticated())

	// Действие
	fs.down.Store(false)

	assert.Eventually(t, fs.connected, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, c.Channel.Authenticated, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestNew_UnknownRole(t *testing.T) {
	_, err := New(&config.ClientConfig{UserRole: "admin"}, nil, logrus.New())

	assert.Error(t, err)
}
