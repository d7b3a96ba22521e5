// Package client собирает клиентские компоненты вокруг одного цикла событий и одного соединения
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/client/api"
	"github.com/shenikar/incident_dispatch/internal/client/chat"
	"github.com/shenikar/incident_dispatch/internal/client/loop"
	"github.com/shenikar/incident_dispatch/internal/client/notify"
	"github.com/shenikar/incident_dispatch/internal/client/offers"
	"github.com/shenikar/incident_dispatch/internal/client/transport"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/events"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/status"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Client struct {
	Identity      models.Identity
	Loop          *loop.Loop
	API           *api.Client
	Channel       *transport.Channel
	Tracker       *status.Tracker
	Offers        *offers.Manager
	Chats         *chat.Manager
	Notifications *notify.Center

	logger *logrus.Logger
}

// New связывает компоненты. Без токена клиент создается, но каждый вызов API
// завершится ErrUnauthenticated.
func New(cfg *config.ClientConfig, alerter notify.Alerter, logger *logrus.Logger) (*Client, error) {
	role := models.Role(cfg.UserRole)
	switch role {
	case models.RoleReporter, models.RoleResponder, models.RoleSupervisor:
	default:
		return nil, fmt.Errorf("client: unknown role %q", cfg.UserRole)
	}
	identity := models.Identity{
		UserID:   cfg.UserID,
		Role:     role,
		ClientID: uuid.NewString(),
		Token:    cfg.AuthToken,
	}

	l := loop.New(256)
	apiClient := api.New(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout, logger)
	channel := transport.New(l, transport.Options{
		URL:            cfg.WSURL,
		Identity:       identity,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxAttempts:    cfg.ReconnectMaxAttempts,
		Logger:         logger,
	})
	tracker := status.NewTracker()

	c := &Client{
		Identity: identity,
		Loop:     l,
		API:      apiClient,
		Channel:  channel,
		Tracker:  tracker,
		logger:   logger,
	}
	channel.On(events.TypeOccurrenceStatus, c.onOccurrenceStatus)
	channel.On(events.TypeReconnectFailed, func(events.Event) {
		logger.Error("Connection lost, reconnect attempts exhausted")
	})

	c.Offers = offers.New(l, apiClient, tracker, identity, cfg.OfferWindow, logger)
	c.Offers.Attach(channel)
	c.Chats = chat.NewManager(l, apiClient, channel, tracker, logger)
	c.Notifications = notify.New(l, apiClient, tracker, identity, alerter, cfg.NotifyPollInterval, logger)
	c.Notifications.Attach(channel)
	return c, nil
}

// Run запускает цикл, соединение и опрос уведомлений до отмены ctx
func (c *Client) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.Loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// канал сам переподключается, цикл и опрос уведомлений продолжают работать
		if err := c.Channel.Connect(ctx); err != nil {
			c.logger.WithError(err).Warn("Transport connect aborted")
		}
		<-ctx.Done()
		if err := c.Channel.Close(); err != nil {
			c.logger.WithError(err).Debug("Channel close")
		}
		return nil
	})
	g.Go(func() error {
		return c.Notifications.Run(ctx)
	})

	return g.Wait()
}

// onOccurrenceStatus - серверный статус попадает в единственную копию на клиенте
func (c *Client) onOccurrenceStatus(evt events.Event) {
	var p events.OccurrenceStatus
	if err := evt.Decode(&p); err != nil {
		c.logger.WithError(err).Warn("Dropping malformed occurrence_status")
		return
	}
	if c.Tracker.Observe(p.IncidentID, p.Status) {
		c.logger.WithFields(logrus.Fields{
			"incident_id": p.IncidentID,
			"status":      p.Status,
		}).Debug("Incident status changed")
	}
}
