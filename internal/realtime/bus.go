// Package realtime доставляет доменные события подключенным клиентам:
// websocket-хаб, SSE-зеркало и шина событий между узлами.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/sirupsen/logrus"
)

// DefaultTopic - MQTT топик, через который узлы обмениваются событиями
const DefaultTopic = "incident-dispatch/events"

const publishTimeout = 5 * time.Second

// Bus разносит события всем подписчикам. Publish удовлетворяет service.EventPublisher.
type Bus interface {
	Publish(ctx context.Context, evt events.Event) error
	Subscribe(fn func(events.Event))
	Close() error
}

type subscribers struct {
	mu   sync.RWMutex
	subs []func(events.Event)
}

func (s *subscribers) add(fn func(events.Event)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

func (s *subscribers) deliver(evt events.Event) {
	s.mu.RLock()
	subs := make([]func(events.Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}

// LocalBus - шина внутри одного процесса, доставляет синхронно
type LocalBus struct {
	subscribers
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, evt events.Event) error {
	b.deliver(evt)
	return nil
}

func (b *LocalBus) Subscribe(fn func(events.Event)) {
	b.add(fn)
}

func (b *LocalBus) Close() error {
	return nil
}

// MQTTBus публикует события в топик брокера. Подписчики получают события только из
// подписки, включая собственные, поэтому каждый узел видит один и тот же поток.
type MQTTBus struct {
	subscribers
	client paho.Client
	topic  string
	logger *logrus.Logger
}

func NewMQTTBus(client paho.Client, topic string, logger *logrus.Logger) (*MQTTBus, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	b := &MQTTBus{client: client, topic: topic, logger: logger}

	tok := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		b.handleMessage(msg)
	})
	if !tok.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	logger.WithField("topic", topic).Info("Subscribed to event bus topic")
	return b, nil
}

func (b *MQTTBus) Publish(ctx context.Context, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal bus event: %w", err)
	}
	tok := b.client.Publish(b.topic, 1, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("timed out publishing bus event")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("failed to publish bus event: %w", err)
	}
	return nil
}

func (b *MQTTBus) Subscribe(fn func(events.Event)) {
	b.add(fn)
}

func (b *MQTTBus) Close() error {
	b.client.Unsubscribe(b.topic).WaitTimeout(publishTimeout)
	b.client.Disconnect(250)
	return nil
}

func (b *MQTTBus) handleMessage(msg paho.Message) {
	var evt events.Event
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		b.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Dropping malformed bus event")
		return
	}
	b.deliver(evt)
}
