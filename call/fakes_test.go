package call

import (
	"bytes"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"voicelink/audio"
)

// fakeBackend hands out in-memory devices and counts how often they are opened and closed.
type fakeBackend struct {
	mu sync.Mutex

	// captureChunk is what every capture read returns; captureInterval paces reads.
	captureChunk    []byte
	captureInterval time.Duration

	openCaptureErr  error
	startCaptureErr error
	openPlaybackErr error
	startPlayErr    error

	captureOpens, captureCloses   int
	playbackOpens, playbackCloses int
	played                        bytes.Buffer
}

func newFakeBackend() *fakeBackend {
	chunk := make([]byte, audio.ChunkSize)
	for i := range chunk {
		chunk[i] = byte(i)
	}
	return &fakeBackend{captureChunk: chunk, captureInterval: 5 * time.Millisecond}
}

func (b *fakeBackend) MinBufferSize() int { return 0 }
func (b *fakeBackend) Close() error       { return nil }

func (b *fakeBackend) OpenCapture(int) (audio.Capture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openCaptureErr != nil {
		return nil, b.openCaptureErr
	}
	b.captureOpens++
	return &fakeCapture{b: b, closed: make(chan struct{})}, nil
}

func (b *fakeBackend) OpenPlayback(int) (audio.Playback, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openPlaybackErr != nil {
		return nil, b.openPlaybackErr
	}
	b.playbackOpens++
	return &fakePlayback{b: b}, nil
}

func (b *fakeBackend) counts() (capOpen, capClose, playOpen, playClose int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captureOpens, b.captureCloses, b.playbackOpens, b.playbackCloses
}

func (b *fakeBackend) playedBytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.played.Bytes())
}

type fakeCapture struct {
	b      *fakeBackend
	closed chan struct{}
	once   sync.Once
}

func (c *fakeCapture) Start() error { return c.b.startCaptureErr }

func (c *fakeCapture) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, audio.ErrClosed
	case <-time.After(c.b.captureInterval):
	}
	return copy(p, c.b.captureChunk), nil
}

func (c *fakeCapture) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.b.mu.Lock()
		c.b.captureCloses++
		c.b.mu.Unlock()
	})
	return nil
}

type fakePlayback struct {
	b      *fakeBackend
	mu     sync.Mutex
	closed bool
}

func (p *fakePlayback) Start() error { return p.b.startPlayErr }

func (p *fakePlayback) Write(data []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, audio.ErrClosed
	}
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	return p.b.played.Write(data)
}

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.b.mu.Lock()
	p.b.playbackCloses++
	p.b.mu.Unlock()
	return nil
}

// recordingCollaborator remembers everything the controller tells the user.
type recordingCollaborator struct {
	mu      sync.Mutex
	lines   []string
	states  []bool
	samples int
}

func (r *recordingCollaborator) EmitLog(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}

func (r *recordingCollaborator) OnConnectionStateChanged(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, connected)
}

func (r *recordingCollaborator) OnAudioSample(int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
}

func (r *recordingCollaborator) stateChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.states...)
}

func (r *recordingCollaborator) sampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

func (r *recordingCollaborator) logged(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func (r *recordingCollaborator) countLogged(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(l)
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// tcpPair returns both ends of a loopback TCP connection, the first wrapped as a Connection.
func tcpPair(t *testing.T, readTimeout time.Duration) (*Connection, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	peer, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case c := <-accepted:
		conn := newConnection(c, readTimeout)
		t.Cleanup(func() { conn.Close() })
		return conn, peer
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
		return nil, nil
	}
}

// dialUntilAccepted connects to a controller that may not be listening yet.
func dialUntilAccepted(t *testing.T, port int) net.Conn {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	return conn
}
