package viewer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"strings"
	"sync"
	"testing"

	"strzcam.com/screenshare/frame"
)

type recordingSurface struct {
	mu       sync.Mutex
	rendered []int // byte sizes of rendered frames
	statuses []string
	lastSize image.Point
}

func (s *recordingSurface) Render(img image.Image, frameBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, frameBytes)
	s.lastSize = img.Bounds().Size()
}

func (s *recordingSurface) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *recordingSurface) lastStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		t.Fatal("Encoding test frame failed:", err)
	}
	return buf.Bytes()
}

// serveFrames accepts one connection and writes the given payloads to it.
func serveFrames(t *testing.T, payloads ...[]byte) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, payload := range payloads {
			if err := frame.Write(conn, payload); err != nil {
				return
			}
		}
	}()
	return listener
}

func TestConnectAndStreamOneFrame(t *testing.T) {
	payload := testJPEG(t, 32, 24)
	listener := serveFrames(t, payload, payload)
	defer listener.Close()

	surface := &recordingSurface{}
	consumer := New(listener.Addr().String(), surface)
	defer consumer.Close()

	if delay := consumer.Tick(); delay != StreamInterval {
		t.Errorf("Expected streaming interval after connect, got %v", delay)
	}
	if consumer.State() != Streaming {
		t.Errorf("Expected Streaming state, got %v", consumer.State())
	}
	if surface.lastStatus() != "connected" {
		t.Errorf("Expected connected status, got %q", surface.lastStatus())
	}

	consumer.Tick()
	surface.mu.Lock()
	defer surface.mu.Unlock()
	if len(surface.rendered) != 1 {
		t.Fatalf("Expected 1 rendered frame, got %d", len(surface.rendered))
	}
	if surface.rendered[0] != len(payload) {
		t.Errorf("Expected frame of %d bytes, got %d", len(payload), surface.rendered[0])
	}
	if surface.lastSize != image.Pt(32, 24) {
		t.Errorf("Expected 32x24 frame, got %v", surface.lastSize)
	}
}

func TestUnreachableAddressKeepsRetrying(t *testing.T) {
	// A listener that is closed immediately leaves a port nothing accepts on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	surface := &recordingSurface{}
	consumer := New(addr, surface)
	defer consumer.Close()

	for i := 0; i < 3; i++ {
		if delay := consumer.Tick(); delay != RetryDelay {
			t.Errorf("Expected retry delay, got %v", delay)
		}
		if consumer.State() != Idle {
			t.Errorf("Expected Idle after failed connect, got %v", consumer.State())
		}
	}
	if !strings.HasPrefix(surface.lastStatus(), "failed:") {
		t.Errorf("Expected a failed status, got %q", surface.lastStatus())
	}
}

func TestServerCloseTriggersReconnectPath(t *testing.T) {
	payload := testJPEG(t, 16, 16)
	// Server closes after a single frame; next read hits a truncated stream.
	listener := serveFrames(t, payload)
	defer listener.Close()

	surface := &recordingSurface{}
	consumer := New(listener.Addr().String(), surface)
	defer consumer.Close()

	consumer.Tick() // connect
	consumer.Tick() // one good frame

	if delay := consumer.Tick(); delay != RetryDelay {
		t.Errorf("Expected retry delay after peer close, got %v", delay)
	}
	if consumer.State() != Idle {
		t.Errorf("Expected Idle after peer close, got %v", consumer.State())
	}
}

func TestGarbagePayloadDropsConnection(t *testing.T) {
	listener := serveFrames(t, []byte("this is not an image"))
	defer listener.Close()

	surface := &recordingSurface{}
	consumer := New(listener.Addr().String(), surface)
	defer consumer.Close()

	consumer.Tick() // connect
	if delay := consumer.Tick(); delay != RetryDelay {
		t.Errorf("Expected retry delay after decode failure, got %v", delay)
	}
	surface.mu.Lock()
	defer surface.mu.Unlock()
	if len(surface.rendered) != 0 {
		t.Error("Nothing should reach the surface when decoding fails")
	}
}

func TestIdleWithoutAddressWaitsForSelection(t *testing.T) {
	surface := &recordingSurface{}
	consumer := New("", surface)
	defer consumer.Close()

	if delay := consumer.Tick(); delay != RetryDelay {
		t.Errorf("Expected retry delay while no address selected, got %v", delay)
	}
	if consumer.State() != Idle {
		t.Errorf("Expected Idle without an address, got %v", consumer.State())
	}
}

func TestCloseIgnoresMissingConnection(t *testing.T) {
	consumer := New("", &recordingSurface{})
	consumer.Close()
	consumer.Close()
}

func TestFitSize(t *testing.T) {
	cases := []struct {
		imgW, imgH, boxW, boxH int
		wantW, wantH           int
	}{
		{1280, 720, 1000, 700, 1000, 562},
		{1280, 720, 2000, 2000, 1280, 720}, // smaller than box: native size
		{720, 1280, 1000, 700, 393, 700},
		{1280, 720, 0, 0, 1280, 720}, // degenerate box: native size
	}
	for _, c := range cases {
		gotW, gotH := FitSize(c.imgW, c.imgH, c.boxW, c.boxH)
		if gotW != c.wantW || gotH != c.wantH {
			t.Errorf("FitSize(%d,%d,%d,%d) = %d,%d, expected %d,%d",
				c.imgW, c.imgH, c.boxW, c.boxH, gotW, gotH, c.wantW, c.wantH)
		}
	}
}
