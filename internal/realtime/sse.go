package realtime

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/launchdarkly/eventsource"
	"github.com/shenikar/incident_dispatch/internal/events"
)

// SSEChannel - единственный канал SSE-зеркала
const SSEChannel = "dispatch"

type sseEvent struct {
	id  int64
	evt events.Event
}

func (e sseEvent) Id() string {
	return strconv.FormatInt(e.id, 10)
}

func (e sseEvent) Event() string {
	return string(e.evt.Type)
}

func (e sseEvent) Data() string {
	if len(e.evt.Payload) == 0 {
		return "{}"
	}
	return string(e.evt.Payload)
}

// Mirror - read-only поток событий для дашбордов
type Mirror struct {
	Server    *eventsource.Server
	IdCounter atomic.Int64
}

func NewMirror() *Mirror {
	return &Mirror{
		Server: eventsource.NewServer(),
	}
}

// Publish дублирует событие в SSE-поток
func (m *Mirror) Publish(evt events.Event) {
	m.Server.Publish([]string{SSEChannel}, sseEvent{
		id:  m.IdCounter.Add(1),
		evt: evt,
	})
}

func (m *Mirror) Handler() http.Handler {
	return m.Server.Handler(SSEChannel)
}

func (m *Mirror) Close() {
	m.Server.Close()
}
