package chronovoice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bt-bridge/chronovoice/audio"
	"github.com/bt-bridge/chronovoice/live"
	"github.com/bt-bridge/chronovoice/metrics"
	"github.com/bt-bridge/chronovoice/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultVolumeInterval = time.Second / 60

// Microphone grants access to a capture stream. A denial is reported as a
// *shared.PermissionError.
type Microphone interface {
	Request(ctx context.Context) (audio.Stream, error)
}

type Options struct {
	Session     shared.SessionConfig
	Dialer      live.Dialer
	Microphone  Microphone
	Backend     audio.Backend
	Credentials shared.CredentialSource
	Metrics     *metrics.Metrics
	Logger      shared.LoggerAdapter
	// BlockSize is the capture block length in samples.
	BlockSize int
	// VolumeInterval is the visualizer sampling period.
	VolumeInterval time.Duration
	Clock          func() time.Time
}

// lifecycle is everything one Connect acquires. It is owned by the
// controller until cleanup takes it.
type lifecycle struct {
	id     string
	ctx    context.Context
	cancel context.CancelCauseFunc

	stream     audio.Stream
	graph      *audio.Graph
	scheduler  *audio.Scheduler
	source     *audio.FrameSource
	session    live.Session
	volumeDone chan struct{}
}

// Controller is the connection state machine. It acquires the credential,
// microphone, audio graph and live session in order and releases them
// through a single cleanup path.
type Controller struct {
	session        shared.SessionConfig
	dialer         live.Dialer
	microphone     Microphone
	backend        audio.Backend
	credentials    shared.CredentialSource
	metrics        *metrics.Metrics
	logger         shared.LoggerAdapter
	blockSize      int
	volumeInterval time.Duration
	now            func() time.Time

	mu        sync.Mutex
	state     ConnectionState
	errMsg    string
	volume    float64
	sessionID string
	lc        *lifecycle
	listeners []func(Snapshot)
	// outbox holds snapshots in the order they were taken; one goroutine
	// at a time drains it.
	outbox     []Snapshot
	delivering bool
}

func NewController(opts Options) (*Controller, error) {
	if opts.Logger == nil {
		return nil, shared.ErrNoLogger
	}
	if opts.Dialer == nil {
		return nil, shared.ErrNoDialer
	}
	if opts.Microphone == nil {
		return nil, shared.ErrNoMicrophone
	}
	if opts.Backend == nil {
		return nil, shared.ErrNoAudioBackend
	}
	if opts.Session.Model == "" {
		return nil, shared.ErrNoConfig
	}
	c := &Controller{
		session:        opts.Session,
		dialer:         opts.Dialer,
		microphone:     opts.Microphone,
		backend:        opts.Backend,
		credentials:    opts.Credentials,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With(zap.String("component", "controller")),
		blockSize:      opts.BlockSize,
		volumeInterval: opts.VolumeInterval,
		now:            opts.Clock,
	}
	if c.credentials == nil {
		c.credentials = shared.EnvCredentials{Keys: shared.CredentialKeys}
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.blockSize <= 0 {
		c.blockSize = audio.CaptureBlockSize
	}
	if c.volumeInterval <= 0 {
		c.volumeInterval = defaultVolumeInterval
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

func (c *Controller) Metrics() *metrics.Metrics {
	return c.metrics
}

// Subscribe registers fn to receive a snapshot on every state change.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the message of the last fatal failure.
func (c *Controller) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Toggle mirrors the single UI control: connect when idle or failed,
// disconnect when connected.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case StateConnecting:
		return shared.ErrConnectInProgress
	case StateConnected:
		c.Disconnect()
		return nil
	default:
		return c.Connect(ctx)
	}
}

// Connect runs the ordered acquisition. It returns once the live session is
// started; the Connected state follows on the session's open signal. ctx
// bounds acquisition only, the session itself lives until cleanup.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	lctx, cancel := context.WithCancelCause(context.Background())
	lc := &lifecycle{
		id:     uuid.NewString(),
		ctx:    lctx,
		cancel: cancel,
	}
	c.lc = lc
	c.sessionID = lc.id
	c.errMsg = ""
	c.volume = 0
	c.setStateLocked(StateConnecting)
	c.queueLocked()
	c.mu.Unlock()
	c.deliver()

	c.metrics.Connects.Inc()
	logger := c.logger.With(zap.String("session_id", lc.id))
	logger.Info("connecting")

	if err := c.acquire(ctx, lc, logger); err != nil {
		if errors.Is(err, shared.ErrLifecycleEnded) {
			logger.Info("connect abandoned by disconnect")
			return err
		}
		logger.Error("connect failed", err, zap.String("kind", shared.Kind(err)))
		c.fail(lc, err, err.Error())
		return err
	}
	return nil
}

func (c *Controller) acquire(ctx context.Context, lc *lifecycle, logger shared.LoggerAdapter) error {
	apiKey, err := c.credentials.Lookup()
	if err != nil {
		return err
	}

	stream, err := c.microphone.Request(ctx)
	if err != nil {
		var (
			permissionErr *shared.PermissionError
			deviceErr     *shared.DeviceError
		)
		switch {
		case errors.As(err, &permissionErr), errors.As(err, &deviceErr):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			err = &shared.DeviceError{Op: "request microphone", Err: err}
		default:
			err = &shared.PermissionError{Err: err}
		}
		return err
	}
	if !c.adopt(lc, func() { lc.stream = stream }) {
		stream.Stop()
		return shared.ErrLifecycleEnded
	}

	graph, err := audio.NewGraph(c.backend, c.logger, audio.WithBlockSize(c.blockSize))
	if err != nil {
		return &shared.DeviceError{Op: "create graph", Err: err}
	}
	if _, err := graph.Open(ctx, stream); err != nil {
		return err
	}
	out, sampler, err := graph.AttachOutputSink()
	if err != nil {
		graph.Close()
		return &shared.DeviceError{Op: "attach output sink", Err: err}
	}
	scheduler := audio.NewScheduler(out, c.logger)
	scheduler.SetObserver(func(startAt, now float64) {
		c.metrics.ScheduledAhead.Observe(startAt - now)
	})
	scheduler.SetPendingObserver(func(pending int) {
		if lc.ctx.Err() == nil {
			c.metrics.PendingPlayback.Set(float64(pending))
		}
	})
	adopted := c.adopt(lc, func() {
		lc.graph = graph
		lc.scheduler = scheduler
		lc.volumeDone = c.startVolumeLoop(lc, sampler)
	})
	if !adopted {
		graph.Close()
		return shared.ErrLifecycleEnded
	}

	cfg := live.Config{
		APIKey:      apiKey,
		Model:       c.session.Model,
		Voice:       c.session.Voice,
		Instruction: BuildInstruction(c.now()),
		Greeting:    c.session.Greeting,
		Modalities:  []string{live.ModalityAudio},
		InputRate:   audio.InputSampleRate,
		OutputRate:  audio.OutputSampleRate,
	}
	session, err := c.dialer.Dial(ctx, cfg)
	if err != nil {
		var transportErr *shared.TransportError
		if !errors.As(err, &transportErr) {
			err = &shared.TransportError{Op: "dial", Err: err}
		}
		return err
	}
	if !c.adopt(lc, func() { lc.session = session }) {
		c.closeSession(session, logger)
		return shared.ErrLifecycleEnded
	}
	if err := session.Start(&sessionHandler{c: c, lc: lc, logger: logger}); err != nil {
		return &shared.TransportError{Op: "start", Err: err}
	}
	logger.Debug("live session started")
	return nil
}

// adopt runs fn under the lock when lc is still the current lifecycle. A
// false return means cleanup already ran and the caller still owns
// whatever it was about to hand over.
func (c *Controller) adopt(lc *lifecycle, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(lc) {
		return false
	}
	fn()
	return true
}

func (c *Controller) currentLocked(lc *lifecycle) bool {
	return lc != nil && c.lc == lc && lc.ctx.Err() == nil
}

func (c *Controller) startVolumeLoop(lc *lifecycle, sample audio.VolumeSampler) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.volumeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-lc.ctx.Done():
				return
			case <-ticker.C:
				v := sample()
				c.mu.Lock()
				if c.lc == lc {
					c.volume = v
				}
				c.mu.Unlock()
			}
		}
	}()
	return done
}

// Disconnect is the user-initiated teardown. It is a no-op when nothing is
// running, so a failed session keeps its error until the next Connect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	lc := c.lc
	c.mu.Unlock()
	if lc == nil {
		return
	}
	c.logger.Info("disconnect requested", zap.String("session_id", lc.id))
	c.cleanup(lc, StateDisconnected, "", errors.New("disconnect requested"))
}

func (c *Controller) fail(lc *lifecycle, err error, msg string) {
	if c.cleanup(lc, StateError, msg, err) {
		c.metrics.ConnectFailures.WithLabelValues(shared.Kind(err)).Inc()
	}
}

// cleanup releases everything lc owns and moves to final. Only the first
// call for a lifecycle does anything; it reports whether this call did.
func (c *Controller) cleanup(lc *lifecycle, final ConnectionState, msg string, cause error) bool {
	c.mu.Lock()
	if lc == nil || c.lc != lc {
		c.mu.Unlock()
		return false
	}
	c.lc = nil
	scheduler, source, graph := lc.scheduler, lc.source, lc.graph
	stream, session, volumeDone := lc.stream, lc.session, lc.volumeDone
	lc.scheduler, lc.source, lc.graph = nil, nil, nil
	lc.stream, lc.session, lc.volumeDone = nil, nil, nil
	c.volume = 0
	c.errMsg = msg
	c.setStateLocked(final)
	c.queueLocked()
	c.mu.Unlock()

	if cause == nil {
		cause = shared.ErrLifecycleEnded
	}
	lc.cancel(cause)
	logger := c.logger.With(zap.String("session_id", lc.id))

	if scheduler != nil {
		scheduler.Reset()
	}
	if source != nil {
		source.Disconnect()
	}
	if graph != nil {
		graph.Close()
	}
	if stream != nil {
		stream.Stop()
	}
	if session != nil {
		go c.closeSession(session, logger)
	}
	if volumeDone != nil {
		<-volumeDone
	}

	c.metrics.Cleanups.Inc()
	c.metrics.PendingPlayback.Set(0)
	logger.Info("session cleaned up", zap.String("state", final.String()), zap.NamedError("cause", cause))
	c.deliver()
	return true
}

func (c *Controller) closeSession(session live.Session, logger shared.LoggerAdapter) {
	if err := session.Close(); err != nil {
		logger.Warn("closing live session", zap.Error(err))
	}
}

// connected moves a connecting lifecycle to Connected and returns what the
// capture loop needs.
func (c *Controller) connected(lc *lifecycle) (*audio.Graph, live.Session, bool) {
	c.mu.Lock()
	if !c.currentLocked(lc) {
		c.mu.Unlock()
		return nil, nil, false
	}
	graph, session := lc.graph, lc.session
	c.setStateLocked(StateConnected)
	c.queueLocked()
	c.mu.Unlock()
	c.deliver()
	return graph, session, true
}

func (c *Controller) scheduler(lc *lifecycle) *audio.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.currentLocked(lc) {
		return nil
	}
	return lc.scheduler
}

func (c *Controller) setStateLocked(s ConnectionState) {
	if c.state != s {
		c.logger.Debug("state changed", zap.Stringer("prev", c.state), zap.Stringer("new", s))
	}
	c.state = s
	c.metrics.State.Set(float64(s))
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     c.state,
		Error:     c.errMsg,
		Volume:    c.volume,
		IsPlaying: c.state == StateConnected,
		SessionID: c.sessionID,
	}
}

func (c *Controller) queueLocked() {
	c.outbox = append(c.outbox, c.snapshotLocked())
}

// deliver hands queued snapshots to the listeners in order. A caller that
// finds another goroutine delivering leaves its snapshot to that goroutine,
// so a listener never sees an older state after a newer one.
func (c *Controller) deliver() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.outbox) > 0 {
		snap := c.outbox[0]
		c.outbox = c.outbox[1:]
		listeners := append([]func(Snapshot){}, c.listeners...)
		c.mu.Unlock()
		for _, fn := range listeners {
			fn(snap)
		}
		c.mu.Lock()
	}
	c.outbox = nil
	c.delivering = false
	c.mu.Unlock()
}
