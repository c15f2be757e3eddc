package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"orionserver/internal/logger"
)

// MQTTClient publishes payloads to an MQTT broker.
type MQTTClient struct {
	broker string
	client mqtt.Client
	qos    byte
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect establishes a connection to the broker. broker may omit the scheme.
func Connect(ctx context.Context, broker, clientID string, logger *logger.Logger) (*MQTTClient, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	c := &MQTTClient{broker: broker, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		c.setConnected(true)
		logger.Info("📡 MQTT connection established: %s", broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warning("MQTT connection lost, will auto-reconnect: %v", err)
	}

	c.client = mqtt.NewClient(opts)
	token := c.client.Connect()

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	c.setConnected(true)
	return c, nil
}

// Publish sends one payload and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	if !c.Connected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect closes the connection with a short grace period.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		c.logger.Info("MQTT disconnected")
	}
	c.setConnected(false)
}

func (c *MQTTClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Connected reports the last known connection state.
func (c *MQTTClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// compile-time check
var _ Publisher = (*MQTTClient)(nil)
