package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-beaconrover/pkg/hub"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

// stopTimeout bounds the stop request, including waiting for the loop.
const stopTimeout = 5 * time.Second

// StartRequest is the request body for starting navigation
type StartRequest struct {
	Algorithm string `json:"algorithm"`
}

// BeaconInfo summarises one tracked device
type BeaconInfo struct {
	Addr    string            `json:"addr"`
	Target  bool              `json:"target"`
	Samples int               `json:"samples"`
	Latest  *proximity.Sample `json:"latest,omitempty"`
}

// handleHealth reports liveness with the link state
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"link":   s.link.State(),
		"state":  s.nav.Status().State,
	})
}

// handleStatus returns the navigator snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.nav.Status())
}

// handleStart starts a navigation session
func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	kind := s.cfg.DefaultAlgorithm
	if req.Algorithm != "" {
		parsed, err := navigation.ParseAlgorithm(req.Algorithm)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		kind = parsed
	}

	id, err := s.nav.Start(c.UserContext(), kind)
	switch {
	case errors.Is(err, navigation.ErrAlreadyRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, navigation.ErrNotConnected):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.log.Info("navigation started via API", "session", id, "algorithm", kind.String())
	return c.JSON(fiber.Map{"session": id, "algorithm": kind})
}

// handleStop stops navigation; always sends the stop command
func (s *Server) handleStop(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), stopTimeout)
	defer cancel()

	if err := s.nav.Stop(ctx); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.nav.Status())
}

// handleEvents returns recent navigation events
func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

// handleBeacons lists tracked devices
func (s *Server) handleBeacons(c *fiber.Ctx) error {
	target := proximity.NormalizeAddr(s.cfg.Target)
	devices := s.bea.Devices()

	infos := make([]BeaconInfo, 0, len(devices))
	for _, addr := range devices {
		info := BeaconInfo{
			Addr:    addr,
			Target:  addr == target,
			Samples: len(s.bea.Snapshot(addr)),
		}
		if latest, ok := s.bea.Latest(addr); ok {
			info.Latest = &latest
		}
		infos = append(infos, info)
	}

	return c.JSON(fiber.Map{
		"scanning": s.bea.IsScanning(),
		"target":   target,
		"devices":  infos,
	})
}

// handleBeaconHistory returns the sample history of one device
func (s *Server) handleBeaconHistory(c *fiber.Ctx) error {
	addr := proximity.NormalizeAddr(c.Params("addr"))
	samples := s.bea.Snapshot(addr)
	if samples == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown device " + addr})
	}
	return c.JSON(fiber.Map{"addr": addr, "samples": samples})
}

// handleClearBeacons drops all sample history
func (s *Server) handleClearBeacons(c *fiber.Ctx) error {
	s.bea.Clear()
	return c.JSON(fiber.Map{"status": "cleared"})
}

// handleLink reports the command link state
func (s *Server) handleLink(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"state": s.link.State()})
}

// handleNavigationWS streams navigation events
func (s *Server) handleNavigationWS(c *websocket.Conn) {
	if err := c.WriteJSON(s.nav.Status()); err != nil {
		return
	}
	hub.NewClient(s.eventHub, c).Run()
}
