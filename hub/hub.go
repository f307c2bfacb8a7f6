package hub

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"strzcam.com/screenshare/frame"
)

// Source produces one wire-ready encoded frame per call. NextFrame may
// block (a shared memory source waits for the grabber) and may fail
// transiently (a capture source losing the display); the hub retries after
// a fixed backoff rather than exiting.
type Source interface {
	NextFrame() ([]byte, error)
	Close()
}

// retryBackoff is how long the broadcast loop waits after a failed capture
// or encode before trying again.
const retryBackoff = 1 * time.Second

// writeTimeout bounds a single fan-out send so one stalled client cannot
// hold up delivery to everyone else forever. A client that misses the
// deadline fails its send and is dropped like any dead connection.
const writeTimeout = 5 * time.Second

// Hub accepts viewer connections and fans every captured frame out to all
// of them at the producer's own pace.
type Hub struct {
	source    Source
	targetFPS int

	listener net.Listener
	clients  *clientSet
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// tap receives a copy of every broadcast payload when someone is
	// listening; sends never block the broadcast loop.
	tap chan []byte
}

func New(src Source, targetFPS int) *Hub {
	if targetFPS <= 0 {
		targetFPS = 10
	}
	return &Hub{
		source:    src,
		targetFPS: targetFPS,
		clients:   newClientSet(),
		done:      make(chan struct{}),
		tap:       make(chan []byte, 1),
	}
}

// Start binds addr:port and launches the accept loop and the
// capture-and-broadcast loop. Fails if the address is unavailable.
func (h *Hub) Start(addr string, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return fmt.Errorf("bind %s:%d: %w", addr, port, err)
	}
	h.listener = listener
	logrus.WithField("addr", listener.Addr().String()).Info("screen share server listening")

	h.wg.Add(2)
	go h.acceptLoop()
	go h.broadcastLoop()
	return nil
}

// Addr returns the bound listen address, useful when port 0 was requested.
func (h *Hub) Addr() net.Addr {
	return h.listener.Addr()
}

// ClientCount returns the number of currently connected viewers.
func (h *Hub) ClientCount() int {
	return h.clients.size()
}

// Tap returns a channel carrying a copy of broadcast payloads for local
// observers such as the HTTP preview. Frames are dropped when the reader
// falls behind.
func (h *Hub) Tap() <-chan []byte {
	return h.tap
}

// Stop shuts both loops down, closes every client and the listener.
// Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.listener != nil {
			h.listener.Close()
		}
		// Closing the source unblocks a broadcast loop waiting on NextFrame.
		h.source.Close()
		h.clients.closeAll()
		h.wg.Wait()
	})
}

func (h *Hub) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.done:
			default:
				logrus.WithError(err).Error("accepting viewer connection")
			}
			return
		}
		logrus.WithField("remote", conn.RemoteAddr().String()).Info("viewer connected")
		h.clients.add(conn)
		go h.watchDisconnect(conn)
	}
}

// watchDisconnect blocks reading from a viewer's socket. Viewers never send
// application data, so anything a read returns, bytes or an error, means
// the connection is done.
func (h *Hub) watchDisconnect(conn net.Conn) {
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 || err != nil {
			break
		}
	}
	if h.clients.removeIfPresent(conn) {
		logrus.WithField("remote", conn.RemoteAddr().String()).Info("viewer disconnected")
		conn.Close()
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	interval := time.Second / time.Duration(h.targetFPS)
	stats := newStats()

	for {
		select {
		case <-h.done:
			return
		default:
		}

		payload, err := h.source.NextFrame()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			logrus.WithError(err).Warn("capturing frame")
			h.sleep(retryBackoff)
			continue
		}

		packet, err := frame.Encode(payload)
		if err != nil {
			logrus.WithError(err).Warn("framing payload")
			h.sleep(retryBackoff)
			continue
		}

		h.fanOut(packet)
		select {
		case h.tap <- payload:
		default:
		}

		stats.record(len(payload), h.clients.size())
		h.sleep(interval)
	}
}

// fanOut sends packet to every connected viewer. Failures are collected
// during the pass and the failed connections removed afterwards, so one
// dead viewer never affects delivery to the rest.
func (h *Hub) fanOut(packet []byte) {
	var failed []net.Conn
	h.clients.forEachSnapshot(func(conn net.Conn) {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(packet); err != nil {
			logrus.WithFields(logrus.Fields{
				"remote": conn.RemoteAddr().String(),
			}).WithError(err).Warn("sending frame, removing viewer")
			failed = append(failed, conn)
		}
	})
	for _, conn := range failed {
		if h.clients.removeIfPresent(conn) {
			conn.Close()
		}
	}
}

func (h *Hub) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-h.done:
	}
}

// stats tracks the rolling per-second frame rate for the log line. It is
// reporting only and never feeds back into pacing.
type stats struct {
	frames   int
	lastSize int
	since    time.Time
}

func newStats() *stats {
	return &stats{since: time.Now()}
}

func (s *stats) record(frameSize, clients int) {
	s.frames++
	s.lastSize = frameSize
	elapsed := time.Since(s.since)
	if elapsed >= time.Second {
		logrus.WithFields(logrus.Fields{
			"fps":      fmt.Sprintf("%.1f", float64(s.frames)/elapsed.Seconds()),
			"viewers":  clients,
			"frame_kb": fmt.Sprintf("%.1f", float64(frameSize)/1024),
		}).Info("broadcasting")
		s.frames = 0
		s.since = time.Now()
	}
}
