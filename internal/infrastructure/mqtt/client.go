package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/ariston-bridge/internal/infrastructure/config"
)

// Client is the bridge's broker connection. It announces the bridge on a
// retained status topic backed by a Last Will, and replays the command
// subscriptions after every reconnect so sets keep arriving.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	online atomic.Bool

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is the logging surface used by the client. logging.Logger and
// slog.Logger both satisfy it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. It runs on a paho goroutine and
// should return quickly; a returned error is only logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker from cfg. The offline Last Will is registered on
// StatusTopic(cfg.Broker.ClientID) before dialling, and a retained online
// status replaces it on every successful connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("reconnecting to MQTT broker", "client_id", cfg.Broker.ClientID)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// onConnected runs on its own goroutine; publishing is allowed as soon
	// as the connect token completes.
	c.online.Store(true)
	return c, nil
}

// onConnected marks the connection up, restores command subscriptions and
// announces the bridge.
func (c *Client) onConnected() {
	c.online.Store(true)

	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		if err := await(c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler)), defaultPublishTimeout, ErrSubscribeFailed); err != nil {
			c.log().Error("failed to restore subscription", "topic", s.topic, "error", err)
		}
	}

	c.publishStatus(StatusOnline, "")
}

func (c *Client) onLost(err error) {
	c.online.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)
}

// publishStatus sends the retained status without waiting for the broker.
func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	id := c.cfg.Broker.ClientID
	return c.client.Publish(StatusTopic(id), byte(c.cfg.QoS), true, statusPayload(id, status, reason))
}

// Close replaces the Last Will with a graceful offline status and
// disconnects. Safe on a client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus(StatusOffline, "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.online.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.online.Load() && c.client.IsConnected()
}

// SetLogger sets the logger. Without one, connection events and handler
// errors are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return nopLogger{}
	}
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging its error and
// recovering a panic so one bad command cannot kill the router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
