package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voicelink/audio"
)

var (
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNotActive      = errors.New("no active call")
)

// listenRetryDelay spaces out listen attempts after a bind or accept failure.
const listenRetryDelay = time.Second

// Options configures a Controller. Config, Backend and Collaborator are required.
type Options struct {
	Config       Config
	Backend      audio.Backend
	Collaborator Collaborator
	// Recorder, when set, receives every call that reached the active state.
	Recorder  Recorder
	Transport *Transport
	Logger    *logrus.Entry
}

// Controller runs the call lifecycle: it listens for a peer while idle, dials when asked to, runs
// the two stream workers while a call is active and tears everything down again afterwards.
type Controller struct {
	cfg       Config
	backend   audio.Backend
	collab    Collaborator
	sampler   SampleObserver
	recorder  Recorder
	transport *Transport
	log       *logrus.Entry
	logs      *logPump

	mu           sync.Mutex
	cond         *sync.Cond
	state        CallState
	reason       TeardownReason
	cancelListen context.CancelFunc
	endpoint     Endpoint
	badEndpoint  string
}

// NewController creates an idle controller. Nothing happens until Run is called.
func NewController(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tr := opts.Transport
	if tr == nil {
		tr = NewTransport(log)
	}
	c := &Controller{
		cfg:       opts.Config,
		backend:   opts.Backend,
		collab:    opts.Collaborator,
		recorder:  opts.Recorder,
		transport: tr,
		log:       log,
		logs:      newLogPump(opts.Collaborator),
		state:     StateIdle,
		endpoint:  DefaultEndpoint,
	}
	c.sampler, _ = opts.Collaborator.(SampleObserver)
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the current call state.
func (c *Controller) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the last valid endpoint taken from the configuration.
func (c *Controller) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// RequestCall switches from listening to dialing the configured endpoint. It is rejected unless
// the controller is idle.
func (c *Controller) RequestCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w (%s)", ErrCallInProgress, c.state)
	}
	c.state = StateDialing
	if c.cancelListen != nil {
		c.cancelListen()
	}
	c.transport.StopListening()
	c.cond.Broadcast()
	return nil
}

// HangUp ends the active call.
func (c *Controller) HangUp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return ErrNotActive
	}
	c.requestTeardownLocked(ReasonHangUp)
	return nil
}

// Toggle is the single call button: it calls when idle and hangs up when active.
func (c *Controller) Toggle() {
	switch c.State() {
	case StateIdle:
		_ = c.RequestCall()
	case StateActive:
		_ = c.HangUp()
	}
}

// Run drives the state machine until ctx is cancelled. Failures of a single call never end it.
func (c *Controller) Run(ctx context.Context) error {
	defer c.logs.close()
	wake := context.AfterFunc(ctx, c.broadcast)
	defer wake()

	for ctx.Err() == nil {
		conn, role := c.establish(ctx)
		if conn == nil {
			continue
		}
		c.runCall(ctx, conn, role)
	}
	c.log.Debug("controller stopped")
	return nil
}

// establish performs one listen or dial, depending on the state. It returns nil when no connection
// was made, with the state back at idle.
func (c *Controller) establish(ctx context.Context) (*Connection, Role) {
	ep := c.resolveEndpoint()

	c.mu.Lock()
	state := c.state
	var listenCtx context.Context
	if state == StateIdle {
		var cancel context.CancelFunc
		listenCtx, cancel = context.WithCancel(ctx)
		c.cancelListen = cancel
	}
	c.mu.Unlock()

	if state == StateDialing {
		c.emit(fmt.Sprintf("connecting to: %s", ep))
		conn, err := c.transport.Dial(ctx, ep)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Debug(err)
				c.emit(err.Error())
			}
			c.setState(StateIdle)
			return nil, RoleDial
		}
		return conn, RoleDial
	}

	c.emit(fmt.Sprintf("listening at %s:%d", localAddress(), ep.Port))
	conn, err := c.transport.Listen(listenCtx, ep.Port)

	c.mu.Lock()
	c.cancelListen()
	c.cancelListen = nil
	switchedToDial := c.state != StateIdle
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrListenCancelled) {
			return nil, RoleListen
		}
		c.log.Debug(err)
		c.emit(err.Error())
		c.pauseIdle(ctx, listenRetryDelay)
		return nil, RoleListen
	}
	if switchedToDial {
		// the user asked to dial while the peer was connecting; dialing wins
		conn.Close()
		return nil, RoleListen
	}
	return conn, RoleListen
}

// runCall owns conn from the moment it is established until it is closed.
func (c *Controller) runCall(ctx context.Context, conn *Connection, role Role) {
	id := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"call": id, "role": role.String(), "remote": conn.RemoteAddr()})

	c.mu.Lock()
	c.state = StateActive
	c.reason = ReasonNone
	c.mu.Unlock()

	started := time.Now()
	log.Info("call active")
	c.emit("connected")
	c.collab.OnConnectionStateChanged(true)

	workers, err := c.startWorkers(conn, log)
	var reason TeardownReason
	if err != nil {
		log.Debugf("audio init failed: %v", err)
		c.emit(err.Error())
		reason = ReasonDeviceError
	} else {
		reason = c.waitTeardown(ctx)
	}

	c.setState(StateTearingDown)
	for _, w := range workers {
		w.Stop()
	}
	for _, w := range workers {
		w.Wait()
	}
	if err := conn.Close(); err != nil {
		log.Warnf("closing connection: %v", err)
	}
	ended := time.Now()
	log.WithFields(logrus.Fields{
		"reason":   reason.String(),
		"duration": ended.Sub(started).Round(time.Millisecond),
		"sent":     conn.BytesSent(),
		"received": conn.BytesReceived(),
	}).Info("call ended")

	if c.recorder != nil {
		rec := Record{
			ID:            id,
			Role:          role,
			Remote:        conn.RemoteAddr(),
			Started:       started,
			Ended:         ended,
			Reason:        reason,
			BytesSent:     conn.BytesSent(),
			BytesReceived: conn.BytesReceived(),
		}
		if err := c.recorder.RecordCall(rec); err != nil {
			log.Warnf("recording call history: %v", err)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.reason = ReasonNone
	c.mu.Unlock()

	c.emit("disconnected")
	c.collab.OnConnectionStateChanged(false)
}

// startWorkers creates the workers enabled by the configuration, initialises all of them and only
// then starts them. If any Init fails, devices already acquired are released and no worker runs.
func (c *Controller) startWorkers(conn *Connection, log *logrus.Entry) ([]*Worker, error) {
	hooks := workerHooks{emit: c.emit, teardown: c.requestTeardown}
	if c.sampler != nil {
		hooks.sample = c.sampler.OnAudioSample
	}

	var workers []*Worker
	if c.cfg.CaptureEnabled() {
		workers = append(workers, newWorker(Uplink, conn, c.backend, log, hooks))
	}
	if c.cfg.PlaybackEnabled() {
		workers = append(workers, newWorker(Downlink, conn, c.backend, log, hooks))
	}
	if len(workers) == 0 {
		c.emit("capture and playback are both disabled")
	}

	for i, w := range workers {
		if err := w.Init(); err != nil {
			for _, prev := range workers[:i] {
				prev.releaseDevice()
			}
			return nil, err
		}
	}
	for _, w := range workers {
		if err := w.Start(); err != nil {
			return workers, err
		}
	}
	return workers, nil
}

// waitTeardown blocks until a worker or the user asks for the call to end, or ctx is cancelled.
func (c *Controller) waitTeardown(ctx context.Context) TeardownReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.reason == ReasonNone && ctx.Err() == nil {
		c.cond.Wait()
	}
	if c.reason == ReasonNone {
		c.reason = ReasonShutdown
	}
	return c.reason
}

// requestTeardown is called by workers. Only the first request of a call counts.
func (c *Controller) requestTeardown(reason TeardownReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestTeardownLocked(reason)
}

func (c *Controller) requestTeardownLocked(reason TeardownReason) bool {
	if c.state != StateActive || c.reason != ReasonNone {
		return false
	}
	c.reason = reason
	c.cond.Broadcast()
	return true
}

// pauseIdle waits for d, returning early on a call request or cancellation.
func (c *Controller) pauseIdle(ctx context.Context, d time.Duration) {
	deadline := time.Now().Add(d)
	t := time.AfterFunc(d, c.broadcast)
	defer t.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.state == StateIdle && ctx.Err() == nil && time.Now().Before(deadline) {
		c.cond.Wait()
	}
}

// resolveEndpoint parses the configured endpoint. An invalid value is reported once and the last
// valid endpoint stays in use.
func (c *Controller) resolveEndpoint() Endpoint {
	s := c.cfg.Endpoint()
	ep, err := ParseEndpoint(s)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if s != c.badEndpoint {
			c.badEndpoint = s
			c.log.Debug(err)
			c.emit(err.Error())
		}
		return c.endpoint
	}
	c.badEndpoint = ""
	c.endpoint = ep
	return ep
}

func (c *Controller) setState(s CallState) {
	c.mu.Lock()
	c.state = s
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Controller) broadcast() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Controller) emit(line string) {
	c.logs.emit(line)
}
