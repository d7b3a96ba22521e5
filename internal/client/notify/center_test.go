package notify

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/client/notify/mocks"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingAlerter struct {
	mu     sync.Mutex
	sounds []string
	toasts []string
}

func (a *recordingAlerter) Sound(incidentID string) {
	a.mu.Lock()
	a.sounds = append(a.sounds, incidentID)
	a.mu.Unlock()
}

func (a *recordingAlerter) Toast(n Notification) {
	a.mu.Lock()
	a.toasts = append(a.toasts, n.Incident.ID.String())
	a.mu.Unlock()
}

func (a *recordingAlerter) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sounds), len(a.toasts)
}

type harness struct {
	c       *Center
	source  *mocks.MockSource
	alerter *recordingAlerter
	loop    *loop.Loop
	tracker *status.Tracker
}

func newHarness(t *testing.T, role models.Role, interval time.Duration) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		source:  mocks.NewMockSource(ctrl),
		alerter: &recordingAlerter{},
		loop:    loop.New(64),
		tracker: status.NewTracker(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(cancel)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	identity := models.Identity{UserID: "u1", Role: role}
	h.c = New(h.loop, h.source, h.tracker, identity, h.alerter, interval, logger)
	return h
}

func (h *harness) on(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Do(context.Background(), fn))
}

func (h *harness) unread(t *testing.T) int {
	var n int
	h.on(t, func() { n = h.c.Unread() })
	return n
}

func openIncident() models.Incident {
	return models.Incident{ID: uuid.New(), Category: models.CategoryTheft, Status: models.StatusOpen}
}

func TestCenter_AlertsOncePerIncident(t *testing.T) {
	h := newHarness(t, models.RoleResponder, time.Minute)
	inc := openIncident()

	var first, second bool
	h.on(t, func() {
		first = h.c.HandleBroadcast(inc)
		second = h.c.HandleBroadcast(inc)
	})

	assert.True(t, first)
	assert.False(t, second)
	sounds, toasts := h.alerter.counts()
	assert.Equal(t, 1, sounds)
	assert.Equal(t, 1, toasts)
	assert.Equal(t, 1, h.unread(t))
}

func TestCenter_ReporterIgnored(t *testing.T) {
	h := newHarness(t, models.RoleReporter, time.Minute)

	var ok bool
	h.on(t, func() { ok = h.c.HandleBroadcast(openIncident()) })

	assert.False(t, ok)
	assert.Equal(t, 0, h.unread(t))
}

func TestCenter_MarkReadFloorsAtZero(t *testing.T) {
	h := newHarness(t, models.RoleSupervisor, time.Minute)
	a, b := openIncident(), openIncident()

	var seen []int
	h.on(t, func() {
		h.c.OnUnread(func(n int) { seen = append(seen, n) })
		h.c.HandleBroadcast(a)
		h.c.HandleBroadcast(b)
		h.c.MarkRead(a.ID.String())
		h.c.MarkRead(a.ID.String())
		h.c.MarkRead(uuid.NewString())
		h.c.MarkAllRead()
		h.c.MarkAllRead()
	})

	assert.Equal(t, 0, h.unread(t))
	var got []int
	h.on(t, func() { got = append(got, seen...) })
	assert.Equal(t, []int{1, 2, 1, 0}, got)
}

func TestCenter_StatusChangeMarksRead(t *testing.T) {
	h := newHarness(t, models.RoleResponder, time.Minute)
	inc := openIncident()

	var late bool
	h.on(t, func() {
		h.c.HandleBroadcast(inc)
		h.tracker.Observe(inc.ID.String(), models.StatusAccepted)
		late = h.c.HandleBroadcast(openIncident())
	})

	assert.True(t, late)
	assert.Equal(t, 1, h.unread(t))
	var list []Notification
	h.on(t, func() { list = h.c.List() })
	require.Len(t, list, 2)
	for _, n := range list {
		assert.Equal(t, n.Incident.ID == inc.ID, n.Read)
	}
}

func TestCenter_PollMergesThroughDedup(t *testing.T) {
	// Подготовка
	h := newHarness(t, models.RoleResponder, time.Minute)
	known := openIncident()
	fresh := openIncident()
	h.on(t, func() { h.c.HandleBroadcast(known) })

	// Ожидания
	h.source.EXPECT().Notifications(gomock.Any()).Return([]models.Incident{known, fresh}, nil)

	// Действие
	err := h.c.Poll(context.Background())

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 2, h.unread(t))
	sounds, _ := h.alerter.counts()
	assert.Equal(t, 2, sounds)
}

func TestCenter_PollError(t *testing.T) {
	h := newHarness(t, models.RoleResponder, time.Minute)
	h.source.EXPECT().Notifications(gomock.Any()).Return(nil, models.ErrTransport)

	err := h.c.Poll(context.Background())

	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestCenter_RunPollsOnTickAndPoke(t *testing.T) {
	h := newHarness(t, models.RoleResponder, 20*time.Millisecond)
	var mu sync.Mutex
	calls := 0
	h.source.EXPECT().Notifications(gomock.Any()).
		DoAndReturn(func(context.Context) ([]models.Incident, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return []models.Incident{openIncident()}, nil
		}).
		MinTimes(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()
	h.c.Poke()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestCenter_AttachHandlesBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := newHarness(t, models.RoleResponder, time.Minute)
	sub := mocks.NewMockSubscriber(ctrl)
	handlers := map[events.Type]events.Handler{}
	sub.EXPECT().On(gomock.Any(), gomock.Any()).
		Do(func(typ events.Type, fn events.Handler) { handlers[typ] = fn }).
		Times(2)

	h.c.Attach(sub)
	evt, err := events.New(events.TypeNewOccurrence, events.NewOccurrence{Incident: openIncident()})
	require.NoError(t, err)
	h.on(t, func() { handlers[events.TypeNewOccurrence](evt) })
	handlers[events.TypeConnected](events.Event{Type: events.TypeConnected})

	assert.Equal(t, 1, h.unread(t))
	assert.Len(t, h.c.poke, 1)
}
