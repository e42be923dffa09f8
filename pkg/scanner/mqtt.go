// Package scanner ingests beacon ranging samples published over MQTT by a
// BLE scanning collaborator.
//
// Each sample is a JSON object {addr, rssi, distance, ts} published on
// <prefix>/<addr>. A missing addr is taken from the topic, a missing
// distance is derived from RSSI. Samples are stamped with the local receive
// time; ts is kept only as the sender's reported time.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/protocol"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

// ErrInvalidSample is returned for payloads that cannot become a sample.
var ErrInvalidSample = errors.New("scanner: invalid sample")

// Sink receives decoded samples. *proximity.Store satisfies it.
type Sink interface {
	Append(addr string, sample proximity.Sample)
	SetScanning(on bool)
}

// Config configures an MQTTSource.
type Config struct {
	Broker         string // e.g. tcp://localhost:1883
	TopicPrefix    string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	MeasuredPower  float64 // RSSI at 1m
	PathLossExp    float64
}

// DefaultConfig returns the configuration used with the stock scanner.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		TopicPrefix:    "beacons",
		ClientID:       "beaconrover",
		QoS:            0,
		ConnectTimeout: 5 * time.Second,
		MeasuredPower:  proximity.DefaultMeasuredPower,
		PathLossExp:    proximity.DefaultPathLossExp,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("scanner: broker required")
	}
	if strings.TrimSpace(c.TopicPrefix) == "" {
		return errors.New("scanner: topic prefix required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("scanner: invalid qos %d", c.QoS)
	}
	if c.PathLossExp <= 0 {
		return errors.New("scanner: path loss exponent must be > 0")
	}
	return nil
}

// Topic is the wildcard subscription for all devices.
func (c Config) Topic() string {
	return strings.TrimSuffix(c.TopicPrefix, "/") + "/+"
}

// MQTTSource subscribes to beacon samples and feeds them into a Sink.
type MQTTSource struct {
	cfg    Config
	sink   Sink
	client mqtt.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewMQTTSource creates a source. The client is not connected until Run.
func NewMQTTSource(cfg Config, sink Sink) (*MQTTSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &MQTTSource{
		cfg:  cfg,
		sink: sink,
		log:  log.Component("scanner").With("broker", cfg.Broker),
		now:  time.Now,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)
	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Run connects and ingests samples until ctx is cancelled.
func (s *MQTTSource) Run(ctx context.Context) error {
	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("scanner: connect: %w", err)
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	s.sink.SetScanning(false)
	s.log.Info("scanner stopped")
	return nil
}

// onConnect (re)subscribes; paho drops subscriptions on reconnect.
func (s *MQTTSource) onConnect(c mqtt.Client) {
	topic := s.cfg.Topic()
	token := c.Subscribe(topic, s.cfg.QoS, s.handle)
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.log.Error("subscribe timed out", "topic", topic, "timeout", s.cfg.ConnectTimeout)
		return
	}
	if err := token.Error(); err != nil {
		s.log.Error("subscribe failed", "topic", topic, "error", err)
		return
	}
	s.sink.SetScanning(true)
	s.log.Info("scanning", "topic", topic)
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	s.sink.SetScanning(false)
	s.log.Warn("broker connection lost", "error", err)
}

// handle is the paho message callback.
func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	addr, sample, err := s.decode(msg.Topic(), msg.Payload())
	if err != nil {
		s.log.Debug("dropping message", "topic", msg.Topic(), "error", err)
		return
	}
	s.sink.Append(addr, sample)
}

func (s *MQTTSource) decode(topic string, payload []byte) (string, proximity.Sample, error) {
	var raw protocol.BeaconSample
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", proximity.Sample{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}

	addr := raw.Addr
	if addr == "" {
		if i := strings.LastIndexByte(topic, '/'); i >= 0 {
			addr = topic[i+1:]
		}
	}
	if addr == "" || addr == "+" || addr == "#" {
		return "", proximity.Sample{}, fmt.Errorf("%w: no device address", ErrInvalidSample)
	}

	distance := raw.Distance
	if distance <= 0 {
		if raw.RSSI >= 0 {
			return "", proximity.Sample{}, fmt.Errorf("%w: rssi %d", ErrInvalidSample, raw.RSSI)
		}
		distance = proximity.RSSIToDistance(float64(raw.RSSI), s.cfg.MeasuredPower, s.cfg.PathLossExp)
	}

	return proximity.NormalizeAddr(addr), proximity.Sample{
		RSSI:       raw.RSSI,
		Distance:   distance,
		CapturedAt: s.now(),
		ReportedAt: raw.ReportedAt(),
	}, nil
}
