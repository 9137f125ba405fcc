package editor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/blockwright/internal/config"
)

// MQTTTransport publishes commands to a broker and reads editor replies
// from a shared results topic.
type MQTTTransport struct {
	cfg    config.MQTTConfig
	bridge *Bridge
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTTTransport creates a transport but does not connect. Call
// [MQTTTransport.Start].
func NewMQTTTransport(cfg config.MQTTConfig, bridge *Bridge, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTTransport{cfg: cfg, bridge: bridge, logger: logger.With("component", "editor_mqtt")}
}

// CommandTopic returns the topic commands for documentID are published
// on. Unscoped commands go to ".../all".
func (m *MQTTTransport) CommandTopic(documentID string) string {
	if documentID == "" {
		documentID = "all"
	}
	return m.prefix() + "/commands/" + documentID
}

// ResultTopic returns the topic editors publish replies on.
func (m *MQTTTransport) ResultTopic() string {
	return m.prefix() + "/results"
}

func (m *MQTTTransport) prefix() string {
	return strings.TrimRight(m.cfg.TopicPrefix, "/")
}

// Start connects to the broker and subscribes to the result topic on
// every (re-)connect. It returns once the connection manager is running;
// autopaho keeps reconnecting in the background.
func (m *MQTTTransport) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = "blockwright"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: m.ResultTopic(), QoS: 1}},
			}); err != nil {
				m.logger.Warn("mqtt subscribe failed", "topic", m.ResultTopic(), "error", err)
			}
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					m.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (m *MQTTTransport) Stop(ctx context.Context) error {
	if m.cm == nil {
		return nil
	}
	return m.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires. Used as a connwatch probe.
func (m *MQTTTransport) AwaitConnection(ctx context.Context) error {
	if m.cm == nil {
		return fmt.Errorf("mqtt transport not started")
	}
	return m.cm.AwaitConnection(ctx)
}

// Send publishes cmd on the document's command topic.
func (m *MQTTTransport) Send(ctx context.Context, documentID string, cmd map[string]any) error {
	if m.cm == nil {
		return fmt.Errorf("mqtt transport not started")
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	topic := m.CommandTopic(documentID)
	if _, err := m.cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 1}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTTTransport) handleMessage(topic string, payload []byte) {
	if topic != m.ResultTopic() {
		return
	}
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		m.logger.Debug("malformed editor result", "topic", topic, "payload_size", len(payload), "error", err)
		return
	}
	m.bridge.HandleReply(r)
}
