package preview

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the broadcast stream to browsers: an MJPEG endpoint at
// /stream and a websocket push at /ws. It taps frames from the hub and
// never feeds anything back into it; a slow preview watcher just drops
// frames.
type Server struct {
	frames   <-chan []byte
	upgrader websocket.Upgrader

	mu       sync.Mutex
	watchers map[chan []byte]struct{}
	done     chan struct{}
}

func NewServer(frames <-chan []byte) *Server {
	return &Server{
		frames: frames,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		watchers: make(map[chan []byte]struct{}),
		done:     make(chan struct{}),
	}
}

// Run distributes tapped frames to every registered watcher until the tap
// channel closes or Stop is called. Watchers that are not keeping up miss
// frames rather than queueing them.
func (s *Server) Run() {
	for {
		select {
		case payload, ok := <-s.frames:
			if !ok {
				return
			}
			s.mu.Lock()
			for watcher := range s.watchers {
				select {
				case watcher <- payload:
				default:
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *Server) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Server) addWatcher() chan []byte {
	watcher := make(chan []byte, 1)
	s.mu.Lock()
	s.watchers[watcher] = struct{}{}
	s.mu.Unlock()
	return watcher
}

func (s *Server) removeWatcher(watcher chan []byte) {
	s.mu.Lock()
	delete(s.watchers, watcher)
	s.mu.Unlock()
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	mw := multipart.NewWriter(w)
	mw.SetBoundary("frame")

	watcher := s.addWatcher()
	defer s.removeWatcher(watcher)

	for {
		select {
		case payload := <-watcher:
			if err := writeJPEGPart(mw, payload); err != nil {
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJPEGPart(mw *multipart.Writer, payload []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(payload)))
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(payload)
	return err
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrading preview websocket")
		return
	}
	defer conn.Close()

	watcher := s.addWatcher()
	defer s.removeWatcher(watcher)

	for {
		select {
		case payload := <-watcher:
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-s.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	html := `
<!DOCTYPE html>
<html>
<head>
    <title>Screen Share</title>
</head>
<body>
    <h1>Screen Share Preview</h1>
	<img src="/stream" alt="live stream"/>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

// Handler returns the preview routes so the caller owns the http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveIndex)
	mux.HandleFunc("/stream", s.serveStream)
	mux.HandleFunc("/ws", s.serveWebsocket)
	return mux
}
