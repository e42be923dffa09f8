// Package web provides the HTTP control API and live event stream for the
// rover: start and stop navigation, inspect beacons and the command link.
package web

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/hub"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
	"github.com/teslashibe/go-beaconrover/pkg/transport"
)

// maxEvents is how many recent events the server keeps for late joiners.
const maxEvents = 200

// Navigator is the navigation surface the API drives.
type Navigator interface {
	Start(ctx context.Context, kind navigation.AlgorithmType) (string, error)
	Stop(ctx context.Context) error
	Status() navigation.Status
	Subscribe(buffer int) (<-chan navigation.Event, func())
}

// Beacons is the read and clear surface of the sample store.
type Beacons interface {
	Devices() []string
	Snapshot(addr string) []proximity.Sample
	Latest(addr string) (proximity.Sample, bool)
	Clear()
	IsScanning() bool
}

// Config configures the server.
type Config struct {
	Port             string
	Target           string // tracked beacon address
	DefaultAlgorithm navigation.AlgorithmType
}

// Server is the control API server
type Server struct {
	app  *fiber.App
	cfg  Config
	log  *slog.Logger
	nav  Navigator
	bea  Beacons
	link transport.Link

	eventHub *hub.Hub

	events   []navigation.Event
	eventsMu sync.RWMutex
}

// NewServer creates the server and registers its routes. Additional route
// groups (such as the rover gateway) can be mounted through App.
func NewServer(cfg Config, nav Navigator, beacons Beacons, link transport.Link) *Server {
	if cfg.DefaultAlgorithm == 0 {
		cfg.DefaultAlgorithm = navigation.GradientDescent
	}
	s := &Server{
		cfg:      cfg,
		log:      log.Component("web"),
		nav:      nav,
		bea:      beacons,
		link:     link,
		eventHub: hub.New("navigation"),
		events:   make([]navigation.Event, 0, maxEvents),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Beacon Rover",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/navigation", s.handleStatus)
	api.Post("/navigation/start", s.handleStart)
	api.Post("/navigation/stop", s.handleStop)
	api.Get("/navigation/events", s.handleEvents)
	api.Get("/beacons", s.handleBeacons)
	api.Get("/beacons/:addr", s.handleBeaconHistory)
	api.Post("/beacons/clear", s.handleClearBeacons)
	api.Get("/link", s.handleLink)

	app.Use("/ws/navigation", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/navigation", websocket.New(s.handleNavigationWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the event pump and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.eventHub.Run(ctx)
	go s.pump(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.log.Warn("shutdown failed", "error", err)
		}
	}()

	s.log.Info("control API listening", "url", "http://localhost:"+s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// pump forwards navigation events to websocket clients and the event log.
func (s *Server) pump(ctx context.Context) {
	events, cancel := s.nav.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.record(ev)
			if err := s.eventHub.BroadcastJSON(ev); err != nil {
				s.log.Warn("broadcast failed", "error", err)
			}
		}
	}
}

func (s *Server) record(ev navigation.Event) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// Events returns the recent event log.
func (s *Server) Events() []navigation.Event {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return append([]navigation.Event(nil), s.events...)
}
