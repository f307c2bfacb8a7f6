package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// SharedMemorySource reads frames that an external grabber writes to
// /dev/shm/<name>. The grabber prefixes each frame with a 4 byte
// little-endian payload length and rewrites the file in place; a filesystem
// watch picks up every rewrite. The payload is expected to already be an
// encoded image, so frames from this source skip the JPEG pipeline.
type SharedMemorySource struct {
	shmPath string
	watcher *fsnotify.Watcher
	frames  chan []byte
	done    chan struct{}
}

var ErrSourceClosed = errors.New("frame source closed")

func NewSharedMemorySource(shmName string) (*SharedMemorySource, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add("/dev/shm"); err != nil {
		watcher.Close()
		return nil, err
	}
	source := &SharedMemorySource{
		shmPath: filepath.Join("/dev/shm", shmName),
		watcher: watcher,
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	go source.watch()
	return source, nil
}

func (s *SharedMemorySource) readFrameFromShm() ([]byte, error) {
	if _, err := os.Stat(s.shmPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no valid shared memory file found")
	}
	data, err := os.ReadFile(s.shmPath)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid frame data: too short")
	}
	dataLength := binary.LittleEndian.Uint32(data[:4])
	if uint32(len(data)-4) < dataLength {
		return nil, fmt.Errorf("invalid frame data: declared %d bytes, have %d", dataLength, len(data)-4)
	}
	return data[4 : 4+dataLength], nil
}

func (s *SharedMemorySource) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(event.Name, s.shmPath) &&
				(event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				// Small delay to ensure the grabber's write is complete
				time.Sleep(1 * time.Millisecond)

				frameData, err := s.readFrameFromShm()
				if err != nil {
					logrus.WithError(err).Warn("reading frame from shared memory")
					continue
				}
				select {
				case s.frames <- frameData:
				case <-s.done:
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("shared memory watcher")
		case <-s.done:
			return
		}
	}
}

// NextFrame blocks until the grabber publishes a new frame.
func (s *SharedMemorySource) NextFrame() ([]byte, error) {
	select {
	case payload := <-s.frames:
		return payload, nil
	case <-s.done:
		return nil, ErrSourceClosed
	}
}

func (s *SharedMemorySource) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
}
