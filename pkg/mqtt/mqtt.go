package mqtt

import (
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Config - параметры подключения к брокеру
type Config struct {
	BrokerURL string
	ClientID  string
	Logger    *logrus.Logger
}

// Connect подключается к брокеру с автоматическим переподключением
func Connect(cfg Config) (paho.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "incident-dispatch"
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if cfg.Logger != nil {
		log := cfg.Logger.WithField("component", "mqtt")
		opts.OnConnectionLost = func(_ paho.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		}
		opts.OnConnect = func(_ paho.Client) {
			log.WithFields(logrus.Fields{"broker": cfg.BrokerURL, "client_id": cfg.ClientID}).Info("MQTT connected")
		}
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return c, nil
}
