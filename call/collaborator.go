package call

import (
	"sync"
	"time"
)

// Collaborator is the user facing side of the engine.
type Collaborator interface {
	// EmitLog shows one human readable line. The controller never waits on it.
	EmitLog(text string)
	// OnConnectionStateChanged fires once when a call becomes active and once when it returns to idle.
	OnConnectionStateChanged(connected bool)
}

// SampleObserver is an optional Collaborator extension receiving the peak sample of every chunk
// moved in either direction.
type SampleObserver interface {
	OnAudioSample(value int16)
}

// Config supplies the user's settings. They are read at the moment they are needed: the endpoint
// before each listen or dial, the toggles when a call becomes active.
type Config interface {
	Endpoint() string
	CaptureEnabled() bool
	PlaybackEnabled() bool
}

// StaticConfig is a Config that never changes.
type StaticConfig struct {
	Address  string
	Capture  bool
	Playback bool
}

func (s StaticConfig) Endpoint() string      { return s.Address }
func (s StaticConfig) CaptureEnabled() bool  { return s.Capture }
func (s StaticConfig) PlaybackEnabled() bool { return s.Playback }

// Record describes one call that reached the active state.
type Record struct {
	ID            string
	Role          Role
	Remote        string
	Started       time.Time
	Ended         time.Time
	Reason        TeardownReason
	BytesSent     int64
	BytesReceived int64
}

// Recorder stores finished calls.
type Recorder interface {
	RecordCall(rec Record) error
}

// logQueueSize bounds the lines waiting for the collaborator; further lines are dropped.
const logQueueSize = 256

// logPump delivers log lines to a Collaborator from its own goroutine so a slow collaborator
// never stalls the control loop or a stream worker.
type logPump struct {
	out   Collaborator
	lines chan string
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newLogPump(out Collaborator) *logPump {
	p := &logPump{out: out, lines: make(chan string, logQueueSize), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *logPump) run() {
	defer close(p.done)
	for line := range p.lines {
		p.out.EmitLog(line)
	}
}

func (p *logPump) emit(line string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.lines <- line:
	default:
	}
}

// close flushes the queued lines.
func (p *logPump) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.lines)
	}
	p.mu.Unlock()
	<-p.done
}
