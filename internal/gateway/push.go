package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/mqtt"
)

// Transport hands commands to the gateway. Responses come back through the
// transport's Dispatcher, never through Publish.
type Transport interface {
	Publish(ctx context.Context, cmd Command) error
	Name() string
}

// Bus is the part of *mqtt.Client the push transport uses.
type Bus interface {
	PublishDefault(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// PushTransport sends commands over the shared broker connection and
// receives every response through one wildcard subscription.
type PushTransport struct {
	bus           Bus
	commandTopic  string
	responseTopic string
	dispatcher    *Dispatcher
	logger        Logger

	mu      sync.Mutex
	started bool
}

// PushConfig names the topics of a PushTransport.
type PushConfig struct {
	CommandTopic  string
	ResponseTopic string
}

// NewPushTransport creates a push transport. Call Start before Publish.
func NewPushTransport(bus Bus, cfg PushConfig, dispatcher *Dispatcher, logger Logger) *PushTransport {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = mqtt.Topics{}.GatewayCommand()
	}
	if cfg.ResponseTopic == "" {
		cfg.ResponseTopic = mqtt.Topics{}.AllGatewayResponses()
	}
	return &PushTransport{
		bus:           bus,
		commandTopic:  cfg.CommandTopic,
		responseTopic: cfg.ResponseTopic,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// Name implements Transport.
func (t *PushTransport) Name() string {
	return "mqtt"
}

// Start subscribes to the response topic. The mqtt client restores the
// subscription after reconnects, so Start is called once.
func (t *PushTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	if err := t.bus.Subscribe(t.responseTopic, t.bus.QoS(), t.handle); err != nil {
		return fmt.Errorf("%w: subscribing to %s: %w", ErrTransport, t.responseTopic, err)
	}
	t.started = true
	t.logger.Info("gateway push transport started",
		"command_topic", t.commandTopic,
		"response_topic", t.responseTopic,
	)
	return nil
}

func (t *PushTransport) handle(topic string, payload []byte) error {
	t.dispatcher.Dispatch(topic, payload)
	return nil
}

// Publish sends cmd on the command topic.
func (t *PushTransport) Publish(ctx context.Context, cmd Command) error {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return fmt.Errorf("%w: push transport not started", ErrTransport)
	}

	payload, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := t.bus.PublishDefault(ctx, t.commandTopic, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	t.logger.Debug("gateway command published", "id", cmd.ID, "acao", cmd.Action, "topic", t.commandTopic)
	return nil
}

// Close drops the response subscription.
func (t *PushTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}
	t.started = false
	if err := t.bus.Unsubscribe(t.responseTopic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", t.responseTopic, err)
	}
	return nil
}
