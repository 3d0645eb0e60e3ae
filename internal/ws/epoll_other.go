//go:build !linux

package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Epoll is a goroutine-per-connection stand-in for platforms without epoll.
// Each watcher peeks through a buffered reader, reports the connection as
// ready, then waits for Rearm before peeking again so it never competes with
// the frame reader.
type Epoll struct {
	mu      sync.RWMutex
	conns   map[net.Conn]*watch
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

type watch struct {
	br    *bufio.Reader
	rearm chan struct{}
}

// NewEpoll creates a new fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]*watch),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts watching conn.
func (e *Epoll) Add(conn net.Conn) error {
	w := &watch{br: bufio.NewReader(conn), rearm: make(chan struct{}, 1)}

	e.mu.Lock()
	e.conns[conn] = w
	e.mu.Unlock()

	go e.monitor(conn, w)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, w *watch) {
	for {
		_, err := w.br.Peek(1)

		// On error the connection is still reported so the read path sees
		// the failure and removes it.
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-w.rearm:
		case <-e.done:
			return
		}
	}
}

// Remove stops watching conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	fdRegistry.Delete(conn)
	return nil
}

// Reader returns the buffered reader the watcher peeks through.
func (e *Epoll) Reader(conn net.Conn) io.Reader {
	e.mu.RLock()
	w, ok := e.conns[conn]
	e.mu.RUnlock()
	if !ok {
		return conn
	}
	return w.br
}

// Rearm lets the watcher look for the next frame on conn.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.RLock()
	w, ok := e.conns[conn]
	e.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.rearm <- struct{}{}:
	default:
	}
}

// Wait blocks until at least one connection is ready for reading.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]*watch)
	e.mu.Unlock()
	return nil
}

var (
	fdRegistry sync.Map // net.Conn -> int
	nextFD     atomic.Int64
)

// socketFD hands out a stable pseudo descriptor per connection so the
// connection manager can index by it as it does on Linux.
func socketFD(conn net.Conn) int {
	if v, ok := fdRegistry.Load(conn); ok {
		return v.(int)
	}
	v, _ := fdRegistry.LoadOrStore(conn, int(nextFD.Add(1)))
	return v.(int)
}
