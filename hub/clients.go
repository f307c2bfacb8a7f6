package hub

import (
	"net"
	"sync"
)

// clientSet is the one piece of state shared between the accept loop, the
// broadcast loop and the per-client watchers. Every access goes through the
// mutex; iteration always works on a snapshot so removals never race with a
// fan-out pass in progress.
type clientSet struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newClientSet() *clientSet {
	return &clientSet{conns: make(map[net.Conn]struct{})}
}

func (s *clientSet) add(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

// removeIfPresent removes conn and reports whether it was still in the set.
// The caller that gets true owns closing the socket, so a watcher and a
// failed send never both close the same connection.
func (s *clientSet) removeIfPresent(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return false
	}
	delete(s.conns, conn)
	return true
}

// forEachSnapshot copies the current membership and calls fn for each
// connection outside the lock.
func (s *clientSet) forEachSnapshot(fn func(conn net.Conn)) {
	s.mu.Lock()
	snapshot := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		snapshot = append(snapshot, conn)
	}
	s.mu.Unlock()
	for _, conn := range snapshot {
		fn(conn)
	}
}

func (s *clientSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *clientSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[net.Conn]struct{})
}
