package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/teslashibe/go-beaconrover/internal/log"
)

// PortOptions describes the serial connection parameters.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("transport: invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("transport: invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("transport: unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// SerialLink writes newline-framed commands to a serial port and reads
// status lines back.
type SerialLink struct {
	port io.ReadWriteCloser
	path string
	log  *slog.Logger

	mu       sync.Mutex
	state    ConnState
	onStatus StatusHandler

	wg sync.WaitGroup
}

// OpenSerial opens the port at path and starts reading status lines.
func OpenSerial(path string, opts PortOptions) (*SerialLink, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}
	return NewSerialLink(path, port), nil
}

// NewSerialLink wraps an already open port.
func NewSerialLink(path string, port io.ReadWriteCloser) *SerialLink {
	l := &SerialLink{
		port:  port,
		path:  path,
		log:   log.Component("serial").With("port", path),
		state: Connected,
	}
	l.wg.Add(1)
	go l.readLoop()
	l.log.Info("serial link open")
	return l
}

// OnStatus registers a handler for status lines.
func (l *SerialLink) OnStatus(h StatusHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = h
}

// State implements Link.
func (l *SerialLink) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// WriteCommand implements Link.
func (l *SerialLink) WriteCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Command: string(cmd), Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Error is recoverable: keep writing so a retried stop reaches the port.
	if l.state != Connected && l.state != Error {
		return &WriteError{Command: string(cmd), Err: ErrNotConnected}
	}
	if _, err := l.port.Write(frame(cmd)); err != nil {
		if l.state == Connected {
			l.log.Warn("serial write failed", "error", err)
		}
		l.state = Error
		return &WriteError{Command: string(cmd), Err: err}
	}
	l.state = Connected
	return nil
}

// Close closes the port and waits for the reader to exit.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	if l.state == Disconnected {
		l.mu.Unlock()
		return nil
	}
	l.state = Disconnecting
	l.mu.Unlock()

	err := l.port.Close()
	l.wg.Wait()

	l.mu.Lock()
	l.state = Disconnected
	l.mu.Unlock()
	l.log.Info("serial link closed")
	return err
}

func (l *SerialLink) readLoop() {
	defer l.wg.Done()

	scanner := bufio.NewScanner(l.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.log.Debug("status", "line", line)

		l.mu.Lock()
		h := l.onStatus
		l.mu.Unlock()
		if h != nil {
			h(line)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := scanner.Err(); err != nil && l.state == Connected {
		l.log.Warn("serial read failed", "error", err)
		l.state = Error
	}
}
