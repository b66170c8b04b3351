package call

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mutableConfig lets a test change settings while the controller runs.
type mutableConfig struct {
	mu       sync.Mutex
	address  string
	capture  bool
	playback bool
}

func newMutableConfig(address string) *mutableConfig {
	return &mutableConfig{address: address, capture: true, playback: true}
}

func (m *mutableConfig) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

func (m *mutableConfig) CaptureEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capture
}

func (m *mutableConfig) PlaybackEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback
}

func (m *mutableConfig) setAddress(a string) {
	m.mu.Lock()
	m.address = a
	m.mu.Unlock()
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *memoryRecorder) RecordCall(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryRecorder) all() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

type harness struct {
	ctrl    *Controller
	collab  *recordingCollaborator
	backend *fakeBackend
	cfg     *mutableConfig
	port    int

	cancel  context.CancelFunc
	stopped chan struct{}
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func newHarness(t *testing.T, mutate func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		collab:  &recordingCollaborator{},
		backend: newFakeBackend(),
		port:    freePort(t),
		stopped: make(chan struct{}),
	}
	h.cfg = newMutableConfig(localAddr(h.port))

	tr := NewTransport(testLogger())
	tr.readTimeout = 200 * time.Millisecond
	opts := Options{
		Config:       h.cfg,
		Backend:      h.backend,
		Collaborator: h.collab,
		Transport:    tr,
		Logger:       testLogger(),
	}
	if mutate != nil {
		mutate(h, &opts)
	}
	h.ctrl = NewController(opts)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		h.ctrl.Run(ctx)
	}()
	t.Cleanup(func() { h.shutdown(t) })
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case <-h.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func (h *harness) waitState(t *testing.T, want CallState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ctrl.State() == want },
		5*time.Second, 10*time.Millisecond, "state never became %s", want)
}

func (h *harness) waitStateChanges(t *testing.T, want ...bool) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.collab.stateChanges()) >= len(want) },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, h.collab.stateChanges())
}

func (r *recordingCollaborator) loggedContaining(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestControllerInboundCallPeerCloses(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	peer := dialUntilAccepted(t, h.port)
	h.waitState(t, StateActive)
	_, err := peer.Write(make([]byte, 480))
	require.NoError(t, err)
	require.NoError(t, peer.Close())

	h.waitStateChanges(t, true, false)
	assert.Equal(t, StateIdle, h.ctrl.State())

	capOpen, capClose, playOpen, playClose := h.backend.counts()
	assert.Equal(t, 1, capOpen)
	assert.Equal(t, 1, capClose)
	assert.Equal(t, 1, playOpen)
	assert.Equal(t, 1, playClose)

	assert.Eventually(t, func() bool {
		return h.collab.logged("connected") && h.collab.logged("disconnected")
	}, time.Second, 10*time.Millisecond)

	// the controller goes back to listening for the next call
	assert.Eventually(t, func() bool { return h.collab.countLogged("listening at ") >= 2 },
		3*time.Second, 10*time.Millisecond)
}

func TestControllerHangUp(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	assert.ErrorIs(t, h.ctrl.HangUp(), ErrNotActive)

	peer := dialUntilAccepted(t, h.port)
	h.waitState(t, StateActive)

	start := time.Now()
	require.NoError(t, h.ctrl.HangUp())
	h.waitState(t, StateIdle)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the peer drains whatever audio was sent and then sees the stream end
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := io.Copy(io.Discard, peer)
	assert.NoError(t, err)

	h.waitStateChanges(t, true, false)
	_, capClose, _, playClose := h.backend.counts()
	assert.Equal(t, 1, capClose)
	assert.Equal(t, 1, playClose)
}

func TestControllerDialsConfiguredEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	require.Eventually(t, func() bool { return h.collab.logged("listening at ") }, 3*time.Second, 10*time.Millisecond)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	h.cfg.setAddress(ln.Addr().String())

	require.NoError(t, h.ctrl.RequestCall())
	peer, err := ln.Accept()
	require.NoError(t, err)
	defer peer.Close()

	h.waitState(t, StateActive)
	assert.Equal(t, ln.Addr().(*net.TCPAddr).Port, h.ctrl.Endpoint().Port)
	assert.ErrorIs(t, h.ctrl.RequestCall(), ErrCallInProgress)
	h.waitStateChanges(t, true)
	assert.Eventually(t, func() bool { return h.collab.logged("connecting to: " + ln.Addr().String()) },
		time.Second, 10*time.Millisecond)

	require.NoError(t, peer.Close())
	h.waitStateChanges(t, true, false)
}

func TestControllerDialFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	require.Eventually(t, func() bool { return h.collab.logged("listening at ") }, 3*time.Second, 10*time.Millisecond)

	// nothing accepts on the endpoint once the controller stops listening on it
	require.NoError(t, h.ctrl.RequestCall())
	require.Eventually(t, func() bool { return h.collab.loggedContaining("refused") },
		5*time.Second, 10*time.Millisecond)
	h.waitState(t, StateIdle)

	capOpen, _, playOpen, _ := h.backend.counts()
	assert.Zero(t, capOpen)
	assert.Zero(t, playOpen)
	assert.Empty(t, h.collab.stateChanges())
	assert.Equal(t, 1, h.collab.countLogged("connecting to: "))

	assert.Eventually(t, func() bool { return h.collab.countLogged("listening at ") >= 2 },
		3*time.Second, 10*time.Millisecond)
}

func TestControllerDeviceInitFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.startPlayErr = assert.AnError
	h.start(t)

	peer := dialUntilAccepted(t, h.port)
	h.waitStateChanges(t, true, false)
	assert.Equal(t, StateIdle, h.ctrl.State())

	capOpen, capClose, playOpen, playClose := h.backend.counts()
	assert.Equal(t, 1, capOpen)
	assert.Equal(t, 1, capClose, "capture acquired before the failure is released")
	assert.Equal(t, 1, playOpen)
	assert.Equal(t, 1, playClose)
	assert.Eventually(t, func() bool { return h.collab.logged("could not start playback") },
		time.Second, 10*time.Millisecond)

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := io.Copy(io.Discard, peer)
	assert.NoError(t, err, "the connection is closed after a failed start")
}

func TestControllerCaptureDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.cfg.capture = false
	h.start(t)

	peer := dialUntilAccepted(t, h.port)
	h.waitState(t, StateActive)

	payload := []byte{0, 1, 0, 2, 0, 3}
	_, err := peer.Write(payload)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.backend.playedBytes()) == len(payload) },
		2*time.Second, 10*time.Millisecond)

	capOpen, _, playOpen, _ := h.backend.counts()
	assert.Zero(t, capOpen)
	assert.Equal(t, 1, playOpen)

	h.ctrl.Toggle()
	h.waitStateChanges(t, true, false)
}

func TestControllerShutdownDuringCall(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	dialUntilAccepted(t, h.port)
	h.waitState(t, StateActive)

	h.cancel()
	select {
	case <-h.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, []bool{true, false}, h.collab.stateChanges())
	_, capClose, _, playClose := h.backend.counts()
	assert.Equal(t, 1, capClose)
	assert.Equal(t, 1, playClose)
}

func TestControllerRecordsFinishedCalls(t *testing.T) {
	rec := &memoryRecorder{}
	h := newHarness(t, func(_ *harness, o *Options) { o.Recorder = rec })
	h.cfg.capture = false
	h.start(t)

	peer := dialUntilAccepted(t, h.port)
	h.waitState(t, StateActive)
	_, err := peer.Write(make([]byte, 100))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.backend.playedBytes()) == 100 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	r := rec.all()[0]
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, RoleListen, r.Role)
	assert.Equal(t, ReasonPeerClosed, r.Reason)
	assert.Equal(t, peer.LocalAddr().String(), r.Remote)
	assert.EqualValues(t, 100, r.BytesReceived)
	assert.Zero(t, r.BytesSent)
	assert.False(t, r.Ended.Before(r.Started))
}

func TestControllerKeepsLastValidEndpoint(t *testing.T) {
	cfg := newMutableConfig("10.1.2.3:5000")
	collab := &recordingCollaborator{}
	c := NewController(Options{Config: cfg, Backend: newFakeBackend(), Collaborator: collab, Logger: testLogger()})

	assert.Equal(t, DefaultEndpoint, c.Endpoint())
	assert.Equal(t, Endpoint{Host: "10.1.2.3", Port: 5000}, c.resolveEndpoint())

	cfg.setAddress("10.1.2.3")
	assert.Equal(t, Endpoint{Host: "10.1.2.3", Port: 5000}, c.resolveEndpoint())
	assert.Equal(t, Endpoint{Host: "10.1.2.3", Port: 5000}, c.resolveEndpoint())
	assert.Equal(t, Endpoint{Host: "10.1.2.3", Port: 5000}, c.Endpoint())

	cfg.setAddress(":7000")
	assert.Equal(t, Endpoint{Port: 7000}, c.resolveEndpoint())

	c.logs.close()
	assert.Equal(t, 1, collab.countLogged(ErrInvalidEndpoint.Error()), "a bad value is reported once")
}

func TestControllerRequestCallOnlyWhenIdle(t *testing.T) {
	c := NewController(Options{Config: newMutableConfig(":9999"), Backend: newFakeBackend(),
		Collaborator: &recordingCollaborator{}, Logger: testLogger()})
	defer c.logs.close()

	require.NoError(t, c.RequestCall())
	assert.Equal(t, StateDialing, c.State())
	assert.ErrorIs(t, c.RequestCall(), ErrCallInProgress)
	assert.ErrorIs(t, c.HangUp(), ErrNotActive)
}
