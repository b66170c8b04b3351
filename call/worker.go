package call

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voicelink/audio"
)

// Direction is the way a Worker moves audio.
type Direction int

const (
	// Uplink moves audio from the capture device to the peer.
	Uplink Direction = iota
	// Downlink moves audio from the peer to the playback device.
	Downlink
)

func (d Direction) String() string {
	if d == Downlink {
		return "downlink"
	}
	return "uplink"
}

// workerHooks is how a Worker talks back to its controller.
type workerHooks struct {
	emit     func(line string)
	teardown func(reason TeardownReason)
	sample   func(value int16)
}

// Worker owns one direction of a call: it copies chunks from a source to a sink until stopped or
// the stream fails.
type Worker struct {
	dir     Direction
	conn    *Connection
	backend audio.Backend
	log     *logrus.Entry
	hooks   workerHooks

	src     io.Reader
	dst     io.Writer
	device  io.Closer
	release sync.Once

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
	running  atomic.Bool
	moved    atomic.Int64
}

func newWorker(dir Direction, conn *Connection, backend audio.Backend, log *logrus.Entry, hooks workerHooks) *Worker {
	return &Worker{
		dir:     dir,
		conn:    conn,
		backend: backend,
		log:     log.WithField("direction", dir.String()),
		hooks:   hooks,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Init opens and starts the audio device of the worker. On failure everything it acquired has been
// released again.
func (w *Worker) Init() error {
	size := audio.BufferSize(w.backend)
	switch w.dir {
	case Uplink:
		dev, err := w.backend.OpenCapture(size)
		if err != nil {
			return fmt.Errorf("open capture device: %w", err)
		}
		w.hooks.emit(fmt.Sprintf("Recording in: %d", size))
		if err := dev.Start(); err != nil {
			dev.Close()
			return fmt.Errorf("could not start recording, is microphone access granted? %w", err)
		}
		w.device, w.src, w.dst = dev, dev, w.conn
	case Downlink:
		dev, err := w.backend.OpenPlayback(size)
		if err != nil {
			return fmt.Errorf("open playback device: %w", err)
		}
		w.hooks.emit(fmt.Sprintf("Playing out: %d", size))
		if err := dev.Start(); err != nil {
			dev.Close()
			return fmt.Errorf("could not start playback: %w", err)
		}
		w.device, w.src, w.dst = dev, w.conn, dev
	}
	w.log.Debugf("device ready, buffer %d bytes", size)
	return nil
}

// Start runs the copy loop in its own goroutine.
func (w *Worker) Start() error {
	if w.device == nil {
		return fmt.Errorf("%s worker not initialised", w.dir)
	}
	w.started = true
	w.running.Store(true)
	go w.run()
	return nil
}

// Stop asks the loop to finish. It returns immediately; use Wait to join.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Wait blocks until the loop has exited and the device has been released. It returns at once for a
// worker that was never started.
func (w *Worker) Wait() {
	if !w.started {
		return
	}
	<-w.done
}

// Running reports whether the loop is still going.
func (w *Worker) Running() bool { return w.running.Load() }

// BytesMoved is the number of audio bytes the worker delivered to its sink.
func (w *Worker) BytesMoved() int64 { return w.moved.Load() }

func (w *Worker) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.running.Store(false)
	defer w.releaseDevice()

	buf := make([]byte, audio.ChunkSize)
	chunks := 0
	last := time.Now()
	for !w.stopped() {
		n, reason, err := w.pump(buf)
		if err != nil {
			w.fail(reason, err)
			return
		}
		if n > 0 && w.hooks.sample != nil {
			w.hooks.sample(audio.Peak(buf[:n]))
		}

		chunks++
		if chunks >= audio.ChunksPerSecond {
			chunks = 0
			now := time.Now()
			w.report(now.Sub(last))
			last = now
		}
	}
	w.log.Debug("stopped")
}

// pump moves one chunk. Read timeouts on the socket are not errors: they only give the loop a
// chance to notice Stop while no audio is arriving.
func (w *Worker) pump(buf []byte) (int, TeardownReason, error) {
	n, err := w.src.Read(buf)
	if err != nil && !(w.dir == Downlink && IsTimeout(err)) {
		return 0, w.readFailure(err), err
	}
	if w.dir == Downlink && n == 0 && err == nil {
		return 0, ReasonPeerClosed, io.EOF
	}
	if n == 0 {
		return 0, ReasonNone, nil
	}
	if _, err := w.dst.Write(buf[:n]); err != nil {
		return 0, w.writeFailure(), err
	}
	w.moved.Add(int64(n))
	return n, ReasonNone, nil
}

func (w *Worker) readFailure(err error) TeardownReason {
	switch {
	case w.dir == Uplink:
		return ReasonDeviceError
	case IsEndOfStream(err):
		return ReasonPeerClosed
	default:
		return ReasonConnectionError
	}
}

func (w *Worker) writeFailure() TeardownReason {
	if w.dir == Uplink {
		return ReasonConnectionError
	}
	return ReasonDeviceError
}

// fail ends the loop after an I/O error. Errors caused by the teardown itself are not reported.
func (w *Worker) fail(reason TeardownReason, err error) {
	if w.stopped() {
		w.log.Debugf("stopped with %v", err)
		return
	}
	if reason == ReasonPeerClosed {
		w.log.Info("peer closed the connection")
	} else {
		w.log.Debugf("%s: %v", reason, err)
		w.hooks.emit(describeIOError(err))
	}
	w.hooks.teardown(reason)
}

func (w *Worker) report(elapsed time.Duration) {
	label := "rec"
	if w.dir == Downlink {
		label = "ply"
	}
	w.hooks.emit(fmt.Sprintf("Load %s: %d!", label, elapsed.Milliseconds()))
}

// releaseDevice closes the audio device exactly once, whichever path gets here first.
func (w *Worker) releaseDevice() {
	w.release.Do(func() {
		if w.device == nil {
			return
		}
		if err := w.device.Close(); err != nil {
			w.log.Warnf("closing device: %v", err)
		}
		if w.dir == Uplink {
			w.hooks.emit("recording stopped!")
		} else {
			w.hooks.emit("playing stopped!")
		}
	})
}

func describeIOError(err error) string {
	if errors.Is(err, audio.ErrClosed) {
		return "audio device closed unexpectedly"
	}
	return err.Error()
}
