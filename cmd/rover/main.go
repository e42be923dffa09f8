// rover: beacon-guided navigation controller
// Drives a rover toward a BLE beacon over serial, the websocket gateway or
// a built-in simulator, and serves the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-beaconrover/internal/config"
	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/drive"
	"github.com/teslashibe/go-beaconrover/pkg/gateway"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
	"github.com/teslashibe/go-beaconrover/pkg/protocol"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
	"github.com/teslashibe/go-beaconrover/pkg/scanner"
	"github.com/teslashibe/go-beaconrover/pkg/sim"
	"github.com/teslashibe/go-beaconrover/pkg/telemetry"
	"github.com/teslashibe/go-beaconrover/pkg/transport"
	"github.com/teslashibe/go-beaconrover/pkg/web"
)

var version = "0.1.0"

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Link, "link", cfg.Link, "command link: serial, gateway or sim")
	flag.StringVar(&cfg.SerialPort, "port", cfg.SerialPort, "serial device for the serial link")
	flag.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial baud rate")
	flag.StringVar(&cfg.Executor, "profile", cfg.Executor, "drive calibration: high or low")
	flag.StringVar(&cfg.Algorithm, "algorithm", cfg.Algorithm, "gradient_descent or heading_correction")
	flag.StringVar(&cfg.Beacon, "beacon", cfg.Beacon, "target beacon address")
	flag.StringVar(&cfg.WebPort, "web", cfg.WebPort, "control API port")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	autostart := flag.Bool("autostart", false, "start navigating as soon as the link is up")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)

	fmt.Println()
	fmt.Println("🛰️  Beacon Rover v" + version)
	fmt.Printf("   link=%s profile=%s algorithm=%s beacon=%s\n", cfg.Link, cfg.Executor, cfg.Algorithm, cfg.Beacon)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *autostart); err != nil {
		log.Error("rover exited", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}

func run(ctx context.Context, cfg config.Rover, autostart bool) error {
	kind, err := navigation.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return err
	}
	profile, err := drive.ProfileByName(cfg.Executor)
	if err != nil {
		return err
	}

	store := proximity.NewStore(proximity.HistoryCapacity)

	var (
		link transport.Link
		gw   *gateway.Hub
	)
	switch cfg.Link {
	case config.LinkSerial:
		serialLink, err := transport.OpenSerial(cfg.SerialPort, transport.PortOptions{BaudRate: cfg.BaudRate})
		if err != nil {
			return err
		}
		defer serialLink.Close()
		serialLink.OnStatus(func(line string) {
			log.Info("controller status", "line", line)
		})
		link = serialLink

	case config.LinkGateway:
		gw = gateway.NewHub(store, gateway.WithAcks())
		gw.OnStatus(func(roverID string, status *protocol.StatusData) {
			log.Info("controller status", "rover", roverID, "line", status.Line, "battery", status.Battery)
		})
		link = gw.Link(cfg.GatewayID)

	case config.LinkSim:
		rover := sim.NewRover(profile, sim.Pose{})
		field, err := sim.NewField(sim.DefaultFieldConfig(cfg.Beacon), rover, store)
		if err != nil {
			return err
		}
		go field.Run(ctx)
		link = rover

	default:
		return fmt.Errorf("unknown link %q", cfg.Link)
	}

	if cfg.MQTTBroker != "" {
		scfg := scanner.DefaultConfig()
		scfg.Broker = cfg.MQTTBroker
		scfg.TopicPrefix = cfg.MQTTTopic
		source, err := scanner.NewMQTTSource(scfg, store)
		if err != nil {
			return err
		}
		go func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("scanner stopped", "error", err)
			}
		}()
	}

	exec, err := drive.NewExecutor(link, store.Device(cfg.Beacon), profile,
		drive.WithCommandTimeout(cfg.CommandTimeout),
		drive.WithMaxWindows(cfg.StallWindows),
	)
	if err != nil {
		return err
	}

	algCfg := navigation.DefaultAlgorithmConfig()
	algCfg.ArrivalThreshold = cfg.ArrivalThreshold
	nav := navigation.NewNavigator(exec,
		navigation.WithAlgorithmConfig(algCfg),
		navigation.WithGate(transport.Ready(link)),
	)

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		events, cancel := nav.Subscribe(256)
		defer cancel()
		go pub.Run(ctx, events)
	}

	srv := web.NewServer(web.Config{
		Port:             cfg.WebPort,
		Target:           cfg.Beacon,
		DefaultAlgorithm: kind,
	}, nav, store, link)
	if gw != nil {
		gw.RegisterRoutes(srv.App())
		gw.RegisterAPIRoutes(srv.App().Group("/api"))
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(ctx) }()

	if autostart {
		go autoStart(ctx, nav, link, kind)
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("control API: %w", err)
		}
	}

	log.Info("shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := nav.Stop(stopCtx); err != nil {
		log.Warn("stop on shutdown failed", "error", err)
	}
	return nil
}

// autoStart waits for the link to come up, then starts one session.
func autoStart(ctx context.Context, nav *navigation.Navigator, link transport.Link, kind navigation.AlgorithmType) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if link.State() == transport.Connected {
			id, err := nav.Start(ctx, kind)
			if err != nil {
				log.Error("autostart failed", "error", err)
				return
			}
			log.Info("autostart", "session", id, "algorithm", kind.String())
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
