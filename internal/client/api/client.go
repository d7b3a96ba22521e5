// Package api - клиент REST API статусов и сессий чата
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/sirupsen/logrus"
)

// Client ходит в API с bearer-токеном. Без токена каждый вызов сразу
// возвращает ErrUnauthenticated, сеть не трогается.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func New(baseURL, token string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type updateStatusRequest struct {
	Status         models.Status  `json:"status"`
	ExpectedStatus *models.Status `json:"expected_status,omitempty"`
}

// UpdateStatus - PATCH /occurrences/{id}/status
func (c *Client) UpdateStatus(ctx context.Context, incidentID string, to models.Status, expected *models.Status) (*models.Incident, error) {
	var incident models.Incident
	body := updateStatusRequest{Status: to, ExpectedStatus: expected}
	if err := c.do(ctx, http.MethodPatch, "/occurrences/"+url.PathEscape(incidentID)+"/status", body, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// GetIncident - GET /occurrences/{id}
func (c *Client) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	var incident models.Incident
	if err := c.do(ctx, http.MethodGet, "/occurrences/"+url.PathEscape(incidentID), nil, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// OpenChat - POST /chat/occurrences/{id}/chat, возвращает идентификатор сессии.
// Любая ошибка, кроме отсутствия токена, оборачивается в ErrSessionUnavailable.
func (c *Client) OpenChat(ctx context.Context, incidentID string) (string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/chat/occurrences/"+url.PathEscape(incidentID)+"/chat", nil, &raw); err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			return "", err
		}
		return "", fmt.Errorf("api: open chat: %w: %w", models.ErrSessionUnavailable, err)
	}
	ref, err := ParseSessionRef(raw)
	if err != nil {
		return "", fmt.Errorf("api: open chat: %w: %w", models.ErrSessionUnavailable, err)
	}
	return ref.ID, nil
}

// Messages - GET /chat/chats/{id}/messages
func (c *Client) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	if err := c.do(ctx, http.MethodGet, "/chat/chats/"+url.PathEscape(chatID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ChatStatus - GET /chat/chats/{id}/status
func (c *Client) ChatStatus(ctx context.Context, chatID string) (*models.ChatStatus, error) {
	var st models.ChatStatus
	if err := c.do(ctx, http.MethodGet, "/chat/chats/"+url.PathEscape(chatID)+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Notifications - GET /notifications, открытые инциденты для опроса
func (c *Client) Notifications(ctx context.Context) ([]models.Incident, error) {
	items := make([]models.Incident, 0)
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return fmt.Errorf("api: %s %s: no bearer token: %w", method, path, models.ErrUnauthenticated)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: could not marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: could not build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w: %w", method, path, models.ErrTransport, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: %s %s: read body: %w: %w", method, path, models.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := statusError(resp.StatusCode, payload)
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).WithError(err).Debug("API request failed")
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("api: %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// statusError переводит HTTP статус в ошибку из таксономии
func statusError(code int, payload []byte) error {
	var body errorResponse
	_ = json.Unmarshal(payload, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", msg, models.ErrUnauthenticated)
	case code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, models.ErrForbidden)
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, models.ErrNotFound)
	case code == http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, models.ErrTransitionRejected)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return models.NewValidationError("request", msg)
	default:
		return fmt.Errorf("unexpected status %d: %s: %w", code, msg, models.ErrTransport)
	}
}
