// Package telemetry forwards coordinator events to an MQTT broker and posts
// usage reports to a server list.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/util"
)

var logger = util.ComponentLogger("telemetry")

// Topic suffixes appended to the configured prefix.
const (
	TopicClients  = "clients"
	TopicAdmin    = "admin"
	TopicAnnounce = "announce"
	TopicServer   = "server"
)

// publishedEvents maps each forwarded event type to its topic.
var publishedEvents = map[events.EventType]string{
	events.EventClientConnected:    TopicClients,
	events.EventClientRejected:     TopicClients,
	events.EventClientStateChanged: TopicClients,
	events.EventClientReset:        TopicClients,
	events.EventAdminLogin:         TopicAdmin,
	events.EventBanChanged:         TopicAdmin,
	events.EventAdminNotice:        TopicAdmin,
	events.EventAnnounce:           TopicAnnounce,
	events.EventListening:          TopicServer,
	events.EventShutdown:           TopicServer,
	events.EventHealthAlert:        TopicServer,
}

// MQTTHandler publishes coordinator events as JSON messages.
type MQTTHandler struct {
	prefix   string
	client   mqtt.Client
	metadata map[string]interface{}
}

// NewMQTTHandler builds a handler from the MQTT settings. It does not
// connect yet.
func NewMQTTHandler(cfg config.MQTTConfig) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return newMQTTHandler(mqtt.NewClient(opts), cfg.Topic, sysInfo), nil
}

func newMQTTHandler(client mqtt.Client, prefix string, sysInfo util.SystemInfo) *MQTTHandler {
	return &MQTTHandler{
		prefix: prefix,
		client: client,
		metadata: map[string]interface{}{
			"hostname":  sysInfo.Hostname,
			"platform":  sysInfo.Platform,
			"cpu_cores": sysInfo.CPUCores,
			"memory_mb": sysInfo.TotalMemory,
		},
	}
}

func tlsConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CAFile)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// Start connects to the broker, forwards events until ctx is done, then
// disconnects.
func (h *MQTTHandler) Start(ctx context.Context, bus *events.EventBus) error {
	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe(bus)

	<-ctx.Done()
	bus.Unsubscribe("mqtt")
	h.client.Disconnect(5000)
	logger.Info().Msg("MQTT disconnected")
	return nil
}

// Subscribe registers the forwarding handler on bus.
func (h *MQTTHandler) Subscribe(bus *events.EventBus) {
	types := make([]events.EventType, 0, len(publishedEvents))
	for t := range publishedEvents {
		types = append(types, t)
	}
	bus.Subscribe("mqtt", h.onEvent, types...)
}

func (h *MQTTHandler) onEvent(_ context.Context, ev events.Event) error {
	topic, ok := publishedEvents[ev.Type]
	if !ok {
		return nil
	}
	return h.publish(h.topic(topic), ev)
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.prefix == "" {
		return suffix
	}
	return h.prefix + "/" + suffix
}

// publish sends ev to topic with QoS 1. Messages are dropped while the
// broker is unreachable.
func (h *MQTTHandler) publish(topic string, ev events.Event) error {
	if !h.client.IsConnected() {
		return nil
	}

	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = ev.Type
	msg["payload"] = ev.Payload
	msg["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT message for %s: %w", topic, err)
	}

	token := h.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("MQTT publish to %s timed out", topic)
	}
	return token.Error()
}
