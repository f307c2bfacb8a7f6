package viewer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/sirupsen/logrus"

	"strzcam.com/screenshare/frame"
)

type State int

const (
	Idle State = iota
	Connecting
	Streaming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "idle"
	}
}

const (
	// ConnectTimeout bounds one dial attempt.
	ConnectTimeout = 5 * time.Second
	// ReadTimeout bounds one frame wait; hitting it drops back to Idle and
	// reconnects instead of tearing the consumer down.
	ReadTimeout = 5 * time.Second
	// RetryDelay is the tick interval after a failed connection.
	RetryDelay = 2 * time.Second
	// StreamInterval is the tick interval while frames are flowing.
	StreamInterval = 10 * time.Millisecond
)

// Consumer connects to a producer and pulls frames, one bounded step per
// Tick. The host event loop owns the pacing: it calls Tick, waits however
// long Tick suggests, and calls again. Nothing here spawns goroutines, so
// a single-threaded UI stays responsive.
type Consumer struct {
	addr    string
	surface Surface
	state   State
	conn    net.Conn
}

// New creates a consumer. addr may be empty when the producer will be
// picked via discovery; the consumer then idles until SetAddress.
func New(addr string, surface Surface) *Consumer {
	return &Consumer{addr: addr, surface: surface}
}

// SetAddress points the consumer at a producer, e.g. after a discovery
// selection.
func (c *Consumer) SetAddress(addr string) {
	c.addr = addr
}

func (c *Consumer) Addr() string {
	return c.addr
}

func (c *Consumer) State() State {
	return c.state
}

// Tick performs at most one blocking-bounded operation and returns how
// long the host loop should wait before the next tick.
func (c *Consumer) Tick() time.Duration {
	switch c.state {
	case Streaming:
		return c.receive()
	default:
		if c.addr == "" {
			return RetryDelay
		}
		return c.connect()
	}
}

func (c *Consumer) connect() time.Duration {
	c.state = Connecting
	c.surface.SetStatus("connecting")
	conn, err := net.DialTimeout("tcp", c.addr, ConnectTimeout)
	if err != nil {
		c.state = Idle
		c.surface.SetStatus(fmt.Sprintf("failed: %v", err))
		logrus.WithField("addr", c.addr).WithError(err).Warn("connecting to producer")
		return RetryDelay
	}
	c.conn = conn
	c.state = Streaming
	c.surface.SetStatus("connected")
	logrus.WithField("addr", c.addr).Info("connected to producer")
	return StreamInterval
}

func (c *Consumer) receive() time.Duration {
	c.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	payload, err := frame.Read(c.conn)
	if err != nil {
		c.drop()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// Soft failure: no frame inside the window. Reconnect right away.
			return StreamInterval
		}
		c.surface.SetStatus(fmt.Sprintf("failed: %v", err))
		logrus.WithError(err).Warn("receiving frame")
		return RetryDelay
	}

	img, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		c.drop()
		c.surface.SetStatus(fmt.Sprintf("failed: %v", err))
		logrus.WithError(err).Warn("decoding frame")
		return RetryDelay
	}
	c.surface.Render(img, len(payload))
	return StreamInterval
}

// drop closes the socket and falls back to Idle so the next tick runs the
// reconnect path.
func (c *Consumer) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Idle
}

// Close shuts the consumer down. Errors from the socket are ignored; the
// peer may already be gone.
func (c *Consumer) Close() {
	c.drop()
}
