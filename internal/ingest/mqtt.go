package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/kubo-market/sensorwatch/internal/config"
)

// NewMQTTClient connects to the broker in cfg.
func NewMQTTClient(cfg config.MQTT, log logrus.FieldLogger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("mqtt connection lost")
		})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt: %w", token.Error())
	}
	return client, nil
}

// MQTTSubscriber ingests JSON readings published on a topic filter. When the
// filter has a single-level wildcard, the matched topic level is used as the
// sensor id for payloads without one.
type MQTTSubscriber struct {
	client mqtt.Client
	filter string
	qos    byte
	svc    Ingester
	log    logrus.FieldLogger
}

// NewMQTTSubscriber creates an MQTTSubscriber.
func NewMQTTSubscriber(client mqtt.Client, filter string, qos byte, svc Ingester, log logrus.FieldLogger) *MQTTSubscriber {
	return &MQTTSubscriber{client: client, filter: filter, qos: qos, svc: svc, log: log}
}

// Start subscribes to the topic filter. Messages are ingested with ctx.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	token := s.client.Subscribe(s.filter, s.qos, s.handler(ctx))
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", s.filter, token.Error())
	}
	s.log.WithField("topic", s.filter).Info("mqtt subscriber started")
	return nil
}

// Stop unsubscribes and disconnects.
func (s *MQTTSubscriber) Stop() {
	if token := s.client.Unsubscribe(s.filter); token.Wait() && token.Error() != nil {
		s.log.WithError(token.Error()).Warn("mqtt unsubscribe failed")
	}
	s.client.Disconnect(250)
	s.log.Info("mqtt subscriber stopped")
}

func (s *MQTTSubscriber) handler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		entry := s.log.WithField("topic", msg.Topic())
		reading, err := decodeReading(msg.Payload(), sensorFromTopic(s.filter, msg.Topic()))
		if err != nil {
			entry.WithError(err).Warn("dropping undecodable reading")
			return
		}
		if _, err := s.svc.Ingest(ctx, reading); err != nil {
			entry.WithError(err).WithField("sensor_id", reading.SensorID).Warn("reading rejected")
		}
	}
}
