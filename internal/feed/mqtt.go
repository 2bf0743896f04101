package feed

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/airdeck/telloctl/internal/events"
	"github.com/airdeck/telloctl/internal/model"
	"github.com/airdeck/telloctl/internal/telemetry"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttRetain         = false

	// IoT-core brokers ignore the username but require it to be non-empty.
	mqttDefaultUsername = "unused"

	tokenLifetime = 24 * time.Hour
)

// MQTTPublisher pushes telemetry and run events to an MQTT broker.
type MQTTPublisher struct {
	client   mqtt.Client
	deviceID string
	prefix   string
	qos      byte
}

// NewMQTTPublisher connects to the configured broker. When a private key is
// configured, the password is a signed JWT in the cloud IoT style.
func NewMQTTPublisher(cfg model.MQTTConfig, deviceID string) (*MQTTPublisher, error) {
	opts, err := newClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %s", cfg.Broker, mqttConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return &MQTTPublisher{
		client:   client,
		deviceID: deviceID,
		prefix:   strings.TrimRight(cfg.TopicPrefix, "/"),
		qos:      byte(cfg.QoS),
	}, nil
}

func newClientOptions(cfg model.MQTTConfig) (*mqtt.ClientOptions, error) {
	username := cfg.Username
	if username == "" {
		username = mqttDefaultUsername
	}

	password := cfg.Password
	if cfg.PrivateKeyPath != "" {
		pass, err := signedToken(cfg.PrivateKeyPath, cfg.TokenAudience)
		if err != nil {
			return nil, err
		}
		password = pass
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(username).
		SetPassword(password).
		SetProtocolVersion(4) // MQTT 3.1.1

	if strings.HasPrefix(cfg.Broker, "ssl://") || strings.HasPrefix(cfg.Broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	return opts, nil
}

// signedToken builds the RS256 JWT used as the MQTT password.
func signedToken(keyPath, audience string) (string, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return "", fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenLifetime).Unix(),
		Audience:  audience,
	})
	pass, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return pass, nil
}

// telemetryMessage is the wire form of one published snapshot. The snapshot
// fields marshal at the top level.
type telemetryMessage struct {
	Timestamp int64  `json:"timestamp"`
	MessageID string `json:"message_id"`
	DeviceID  string `json:"device_id"`
	telemetry.Snapshot
}

func newTelemetryMessage(deviceID string, snap telemetry.Snapshot) telemetryMessage {
	return telemetryMessage{
		Timestamp: time.Now().UnixMicro(),
		MessageID: uuid.New().String(),
		DeviceID:  deviceID,
		Snapshot:  snap,
	}
}

type runEventMessage struct {
	Timestamp time.Time              `json:"timestamp"`
	MessageID string                 `json:"message_id"`
	DeviceID  string                 `json:"device_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// PublishTelemetry sends one snapshot on the telemetry topic.
func (p *MQTTPublisher) PublishTelemetry(snap telemetry.Snapshot) {
	b, err := json.Marshal(newTelemetryMessage(p.deviceID, snap))
	if err != nil {
		return
	}
	p.client.Publish(p.topic("events/telemetry"), p.qos, mqttRetain, b)
}

// PublishRunEvent sends one run lifecycle event on the flight topic.
func (p *MQTTPublisher) PublishRunEvent(e events.Event) {
	msg := runEventMessage{
		Timestamp: e.Timestamp,
		MessageID: uuid.New().String(),
		DeviceID:  p.deviceID,
		EventType: string(e.Type),
		Data:      e.Data,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.client.Publish(p.topic("events/flight"), p.qos, mqttRetain, b)
}

func (p *MQTTPublisher) topic(kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.prefix, p.deviceID, kind)
}

// Close disconnects after letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(1000)
}
