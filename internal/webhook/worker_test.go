package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(url string) *WebhookWorker {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	cfg := &config.Config{
		WebhookURL:        url,
		WebhookSecret:     "s3cr3t",
		WebhookTimeout:    time.Second,
		WebhookMaxRetries: 3,
		WebhookBaseDelay:  time.Millisecond,
	}
	return NewWebhookWorker(nil, logger, cfg)
}

func testPayload(t *testing.T) string {
	t.Helper()
	responder := "resp-1"
	raw, err := json.Marshal(WebhookEvent{
		IncidentID:  uuid.New(),
		From:        models.StatusOpen,
		To:          models.StatusAccepted,
		ActorID:     responder,
		ResponderID: &responder,
		Timestamp:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return string(raw)
}

func TestProcessWebhookEvent_SignsPayload(t *testing.T) {
	payload := testPayload(t)
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, payload, string(body))
		got.Store(r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	require.NoError(t, w.processWebhookEvent(context.Background(), WebhookEvent{}, payload))

	assert.Equal(t, generateHMACSHA256(payload, "s3cr3t"), got.Load())
}

func TestProcessWebhookEvent_RetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	require.NoError(t, w.processWebhookEvent(context.Background(), WebhookEvent{}, testPayload(t)))

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProcessWebhookEvent_StopsAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestWorker(srv.URL)
	err := w.processWebhookEvent(context.Background(), WebhookEvent{}, testPayload(t))

	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProcessWebhookEvent_NoURLSkips(t *testing.T) {
	w := newTestWorker("")
	// без URL запрос не выполняется, событие не считается потерянным
	assert.NoError(t, w.processWebhookEvent(context.Background(), WebhookEvent{}, testPayload(t)))
}
