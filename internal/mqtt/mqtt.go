// Package mqtt is the fleet control plane: commands arrive on
// <prefix>/<device>/control, replies go to .../response and recognition
// events to .../events.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/andresmejia3/facegate/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Topics are the three per-device topics.
type Topics struct {
	Control  string
	Response string
	Events   string
}

// TopicsFor builds the topic set for one device.
func TopicsFor(prefix, device string) Topics {
	base := strings.Trim(prefix, "/") + "/" + device
	return Topics{
		Control:  base + "/control",
		Response: base + "/response",
		Events:   base + "/events",
	}
}

// Publisher is the slice of paho.Client the control plane needs.
type Publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Dial connects to the broker. Reconnects are automatic and resume the
// control subscription.
func Dial(ctx context.Context, cfg config.MQTTConfig) (paho.Client, error) {
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "facegate-" + uuid.NewString()[:8]
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(false)
	opts.SetResumeSubs(true)

	opts.OnConnect = func(c paho.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	client := paho.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}
