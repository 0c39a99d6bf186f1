package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize bounds outgoing payloads (1MB). Gateway commands are a few
// hundred bytes, so anything near this is a bug.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (for QoS 1 and 2) until ctx ends or the publish timeout passes.
//
// Commands are never retained: a retained command would be replayed to the
// gateway on its next subscribe.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishDefault publishes a non-retained message at the configured QoS.
func (c *Client) PublishDefault(ctx context.Context, topic string, payload []byte) error {
	return c.Publish(ctx, topic, payload, c.QoS(), false)
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}
