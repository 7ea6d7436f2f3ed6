package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic returns the invalidation topic under prefix.
func Topic(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return "invalidate"
	}
	return prefix + "/invalidate"
}

// MQTTNotifier publishes invalidations to an external broker.
type MQTTNotifier struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTNotifier connects to broker (e.g. tcp://localhost:1883) and
// publishes on Topic(prefix).
func NewMQTTNotifier(broker, clientID, prefix string) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	return &MQTTNotifier{client: client, topic: Topic(prefix), timeout: 5 * time.Second}, nil
}

// Invalidate publishes the message at QoS 0.
func (n *MQTTNotifier) Invalidate(ctx context.Context, path string) error {
	payload, err := json.Marshal(newMessage(path))
	if err != nil {
		return err
	}
	token := n.client.Publish(n.topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish invalidation: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(n.timeout):
		return fmt.Errorf("publish invalidation: timeout")
	}
}

// Close disconnects from the broker.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}

// HubNotifier publishes invalidations through an embedded Hub.
type HubNotifier struct {
	hub   *Hub
	topic string
}

// NewHubNotifier returns a notifier that publishes on Topic(prefix).
func NewHubNotifier(hub *Hub, prefix string) *HubNotifier {
	return &HubNotifier{hub: hub, topic: Topic(prefix)}
}

// Invalidate pushes the message to every matching subscriber. Having no
// subscribers is not an error.
func (n *HubNotifier) Invalidate(_ context.Context, path string) error {
	payload, err := json.Marshal(newMessage(path))
	if err != nil {
		return err
	}
	_, err = n.hub.Publish(n.topic, payload)
	return err
}
