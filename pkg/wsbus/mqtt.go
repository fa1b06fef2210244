package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/logging"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// MQTTConfig parameterizes the optional spot-network publisher.
type MQTTConfig struct {
	BrokerURL string // e.g. "tcp://mqtt.example.net:1883"
	ClientID  string
	Username  string
	Password  string
	TopicRoot string // defaults to "ft8d"
}

// MQTTPublisher mirrors completed contacts and decoded frames onto an MQTT
// broker, for stations that feed a spot network alongside the WebSocket UI.
// Connection losses are retried by the paho auto-reconnect machinery;
// publishes while disconnected are dropped, matching the bus's own
// slow-subscriber policy.
type MQTTPublisher struct {
	cfg    MQTTConfig
	log    *logging.Logger
	client mqtt.Client
}

// NewMQTTPublisher builds a publisher; Connect happens in Run.
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "ft8d"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ft8d"
	}
	return &MQTTPublisher{cfg: cfg, log: logging.Component("mqtt")}
}

// Run connects to the broker and forwards QSO records and decoded frames
// from bus until ctx is cancelled.
func (p *MQTTPublisher) Run(ctx context.Context, bus *eventbus.Bus) {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		p.log.Warnf("broker %s unavailable: %v (will keep retrying)", p.cfg.BrokerURL, token.Error())
	}
	defer p.client.Disconnect(250)

	qsoCh, qsoH := bus.Subscribe(eventbus.TopicQSORecord)
	defer bus.Unsubscribe(eventbus.TopicQSORecord, qsoH)
	frameCh, frameH := bus.Subscribe(eventbus.TopicFrame)
	defer bus.Unsubscribe(eventbus.TopicFrame, frameH)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-qsoCh:
			if !ok {
				return
			}
			if rec, ok := evt.(model.QSORecord); ok {
				p.publish("qso", rec)
			}
		case evt, ok := <-frameCh:
			if !ok {
				return
			}
			if frame, ok := evt.(model.FrameMessage); ok {
				p.publish("spot", frame)
			}
		}
	}
}

func (p *MQTTPublisher) publish(leaf string, payload any) {
	if !p.client.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warnf("marshal %s: %v", leaf, err)
		return
	}
	topic := fmt.Sprintf("%s/%s", p.cfg.TopicRoot, leaf)
	if token := p.client.Publish(topic, 0, false, data); token.Error() != nil {
		p.log.Warnf("publish %s: %v", topic, token.Error())
	}
}
