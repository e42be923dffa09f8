// Package config provides environment-driven configuration for go-beaconrover
// commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default rover configuration.
const (
	DefaultLink        = "sim"
	DefaultSerialPort  = "/dev/ttyUSB0"
	DefaultBaudRate    = 115200
	DefaultExecutor    = "high"
	DefaultAlgorithm   = "gradient_descent"
	DefaultBeacon      = "fd:a5:06:93:a4:e2"
	DefaultWebPort     = "8080"
	DefaultGatewayID   = "rover"
	DefaultMQTTTopic   = "beacons"
	DefaultKafkaTopic  = "rover.navigation"
	DefaultLogLevel    = "info"
	DefaultArrivalDist = 0.9
)

// Link kinds accepted in ROVER_LINK.
const (
	LinkSerial  = "serial"
	LinkGateway = "gateway"
	LinkSim     = "sim"
)

// Rover is the full configuration of the rover command.
type Rover struct {
	Link       string
	SerialPort string
	BaudRate   int
	Executor   string
	Algorithm  string
	Beacon     string
	WebPort    string
	GatewayID  string

	MQTTBroker string
	MQTTTopic  string

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel         string
	ArrivalThreshold float64
	StallWindows     int
	CommandTimeout   time.Duration
}

// FromEnv builds a Rover configuration from environment variables,
// falling back to defaults for anything unset.
func FromEnv() (Rover, error) {
	var errs []error

	baud, err := envInt("ROVER_BAUD", DefaultBaudRate)
	errs = append(errs, err)
	threshold, err := envFloat("ARRIVAL_THRESHOLD", DefaultArrivalDist)
	errs = append(errs, err)
	stall, err := envInt("ROVER_STALL_WINDOWS", 10)
	errs = append(errs, err)
	cmdTimeout, err := envDuration("ROVER_COMMAND_TIMEOUT", 2*time.Second)
	errs = append(errs, err)

	cfg := Rover{
		Link:             envString("ROVER_LINK", DefaultLink),
		SerialPort:       envString("ROVER_SERIAL_PORT", DefaultSerialPort),
		BaudRate:         baud,
		Executor:         envString("ROVER_EXECUTOR", DefaultExecutor),
		Algorithm:        envString("ROVER_ALGORITHM", DefaultAlgorithm),
		Beacon:           envString("ROVER_BEACON", DefaultBeacon),
		WebPort:          envString("ROVER_WEB_PORT", DefaultWebPort),
		GatewayID:        envString("ROVER_GATEWAY_ID", DefaultGatewayID),
		MQTTBroker:       os.Getenv("MQTT_BROKER"),
		MQTTTopic:        envString("MQTT_TOPIC", DefaultMQTTTopic),
		KafkaBrokers:     envList("KAFKA_BROKERS"),
		KafkaTopic:       envString("KAFKA_TOPIC", DefaultKafkaTopic),
		LogLevel:         envString("LOG_LEVEL", DefaultLogLevel),
		ArrivalThreshold: threshold,
		StallWindows:     stall,
		CommandTimeout:   cmdTimeout,
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors.
func (c Rover) Validate() error {
	switch c.Link {
	case LinkSerial:
		if c.SerialPort == "" {
			return errors.New("config: ROVER_SERIAL_PORT required for serial link")
		}
	case LinkGateway:
		if c.GatewayID == "" {
			return errors.New("config: ROVER_GATEWAY_ID required for gateway link")
		}
	case LinkSim:
	default:
		return fmt.Errorf("config: unknown link %q", c.Link)
	}
	if c.Beacon == "" {
		return errors.New("config: ROVER_BEACON required")
	}
	if c.ArrivalThreshold <= 0 {
		return errors.New("config: arrival threshold must be > 0")
	}
	if c.StallWindows < 0 {
		return errors.New("config: stall windows must be >= 0")
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

// envList splits a comma separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
