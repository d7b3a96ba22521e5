package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/sirupsen/logrus"
)

// SignatureHeader - заголовок с HMAC-SHA256 подписью тела запроса
const SignatureHeader = "X-Webhook-Signature"

const (
	failedQueueKey = "webhook_events:failed"
	popTimeout     = 2 * time.Second
)

// WebhookWorker забирает события из очереди и доставляет их по WEBHOOK_URL
type WebhookWorker struct {
	redisClient *redis.Client
	logger      *logrus.Logger
	cfg         *config.Config
	httpClient  *http.Client
}

func NewWebhookWorker(redisClient *redis.Client, logger *logrus.Logger, cfg *config.Config) *WebhookWorker {
	return &WebhookWorker{
		redisClient: redisClient,
		logger:      logger,
		cfg:         cfg,
		httpClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
		},
	}
}

// Start читает очередь до отмены ctx. Событие, которое не удалось доставить
// после всех попыток, переносится в список failedQueueKey.
func (w *WebhookWorker) Start(ctx context.Context) {
	w.logger.Info("Starting webhook worker...")
	go func() {
		defer w.logger.Info("Stopping webhook worker.")

		pause := backoff.NewExponentialBackOff()
		pause.MaxInterval = w.cfg.WebhookTimeout
		pause.MaxElapsedTime = 0

		for ctx.Err() == nil {
			result, err := w.redisClient.BRPop(ctx, popTimeout, webhookQueueKey).Result()
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				delay := pause.NextBackOff()
				w.logger.WithError(err).WithField("retry_in", delay).Error("Failed to pop webhook event from Redis")
				select {
				case <-ctx.Done():
				case <-time.After(delay):
				}
				continue
			}
			pause.Reset()

			// result[0] - ключ, result[1] - значение
			payload := result[1]
			var event WebhookEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				w.logger.WithError(err).Error("Failed to unmarshal webhook event from Redis")
				continue
			}

			if err := w.processWebhookEvent(ctx, event, payload); err != nil && ctx.Err() == nil {
				w.deadLetter(ctx, event, payload)
			}
		}
	}()
}

func (w *WebhookWorker) deadLetter(ctx context.Context, event WebhookEvent, payload string) {
	if err := w.redisClient.LPush(ctx, failedQueueKey, payload).Err(); err != nil {
		w.logger.WithError(err).WithField("incident_id", event.IncidentID).Error("Failed to park undelivered webhook")
	}
}

// processWebhookEvent доставляет одно событие. Отсутствие WEBHOOK_URL не ошибка.
func (w *WebhookWorker) processWebhookEvent(ctx context.Context, event WebhookEvent, rawPayload string) error {
	log := w.logger.WithFields(logrus.Fields{
		"incident_id": event.IncidentID,
		"from":        event.From,
		"to":          event.To,
	})
	log.Debug("Processing webhook event...")

	if w.cfg.WebhookURL == "" {
		log.Debug("Webhook URL is not configured, skipping delivery")
		return nil
	}

	attempt := 0
	deliver := func() error {
		attempt++
		err := w.send(ctx, rawPayload)
		if err != nil {
			log.WithError(err).Warnf("Webhook delivery attempt %d failed", attempt)
		}
		return err
	}

	if err := backoff.Retry(deliver, w.newBackOff(ctx)); err != nil {
		log.WithError(err).Errorf("Failed to deliver webhook after %d attempts", attempt)
		return err
	}
	log.Info("Webhook delivered")
	return nil
}

// newBackOff - экспоненциальная задержка, начиная с WEBHOOK_BASE_DELAY, с удвоением
func (w *WebhookWorker) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.WebhookBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	retries := w.cfg.WebhookMaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (w *WebhookWorker) send(ctx context.Context, rawPayload string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewBufferString(rawPayload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.WebhookSecret != "" {
		req.Header.Set(SignatureHeader, generateHMACSHA256(rawPayload, w.cfg.WebhookSecret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed with status code %d", resp.StatusCode)
	}
	return nil
}

// generateHMACSHA256 генерирует HMAC-SHA256 подпись для данных
func generateHMACSHA256(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
