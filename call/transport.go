package call

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrListenCancelled is returned by Listen when StopListening aborted it. It is not a failure.
var ErrListenCancelled = errors.New("listen cancelled")

// Transport obtains the connection of a call, either by accepting one inbound connection or by
// dialing a peer.
type Transport struct {
	log            *logrus.Entry
	readTimeout    time.Duration
	connectTimeout time.Duration

	mu        sync.Mutex
	ln        net.Listener
	cancelled bool
}

// NewTransport creates a Transport using the standard read and connect timeouts.
func NewTransport(log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{log: log, readTimeout: ReadTimeout, connectTimeout: ConnectTimeout}
}

// Listen binds port, waits for exactly one inbound connection and closes the listening socket as
// soon as it is accepted, so only one call can ever be in flight. Cancelling ctx or calling
// StopListening makes it return ErrListenCancelled.
func (t *Transport) Listen(ctx context.Context, port int) (*Connection, error) {
	if ctx.Err() != nil {
		return nil, ErrListenCancelled
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on :%d: %w", port, err)
	}

	t.mu.Lock()
	if ctx.Err() != nil {
		t.mu.Unlock()
		ln.Close()
		return nil, ErrListenCancelled
	}
	t.ln = ln
	t.cancelled = false
	t.mu.Unlock()

	stop := context.AfterFunc(ctx, t.StopListening)
	defer stop()

	t.log.Debugf("accepting on %s", ln.Addr())
	conn, err := ln.Accept()

	t.mu.Lock()
	cancelled := t.cancelled
	t.cancelled = false
	if t.ln == ln {
		t.ln = nil
	}
	t.mu.Unlock()
	ln.Close()

	if cancelled {
		if conn != nil {
			conn.Close()
		}
		return nil, ErrListenCancelled
	}
	if err != nil {
		return nil, fmt.Errorf("accept on :%d: %w", port, err)
	}
	t.log.Infof("accepted connection from %s", conn.RemoteAddr())
	return newConnection(conn, t.readTimeout), nil
}

// StopListening aborts an in-progress Listen. It is a no-op when nothing is listening.
func (t *Transport) StopListening() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return
	}
	t.cancelled = true
	if err := t.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		t.log.Warnf("closing listener: %v", err)
	}
	t.ln = nil
}

// Dial connects to ep, giving up after the connect timeout. There is no retry.
func (t *Transport) Dial(ctx context.Context, ep Endpoint) (*Connection, error) {
	d := net.Dialer{Timeout: t.connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", ep, err)
	}
	t.log.Infof("connected to %s", conn.RemoteAddr())
	return newConnection(conn, t.readTimeout), nil
}
