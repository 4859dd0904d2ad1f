package engine

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wearlink/internal/codec"
	"wearlink/internal/core/domain"
	"wearlink/internal/core/ports"
	"wearlink/internal/core/services"
	"wearlink/internal/infrastructure/transport"
	"wearlink/internal/monitoring"
	"wearlink/pkg/auth"
	"wearlink/pkg/circuitbreaker"
	"wearlink/pkg/config"
	"wearlink/pkg/logger"
	"wearlink/pkg/utils"
)

// encodeJob is one capture buffer handed from a capture callback to the
// serial encode goroutine. Exactly one field is set.
type encodeJob struct {
	pcm []int16
	au  *domain.AccessUnit
}

// Engine is the caller-owned streaming engine for one gateway session.
// It multiplexes framed media and telemetry onto one ordered outbound
// channel, manages the socket lifecycle, and paces inbound synthesized
// audio into the playback sink. Construct with New, drive with Start,
// FeedAudio, FeedVideo, FeedVital, SendText and Stop, and consume
// Events. Reconnection is the caller's job: re-invoke Start after a
// disconnect.
type Engine struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	dialer  ports.Dialer
	encoder ports.AudioEncoder
	sink    ports.PlaybackSink
	metrics *monitoring.Collector

	session  *services.Session
	queue    *services.OutboundQueue
	playback *services.JitterBuffer
	breaker  *circuitbreaker.CircuitBreaker

	events chan domain.Event

	encodeCh     chan encodeJob
	audioSeq     atomic.Int64
	videoSeq     atomic.Int64
	videoLimiter *rate.Limiter

	mu      sync.Mutex
	conn    ports.Transport
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDialer overrides the transport dialer.
func WithDialer(d ports.Dialer) Option {
	return func(e *Engine) { e.dialer = d }
}

// WithAudioEncoder sets the AAC encoder fed by FeedAudio. Without one,
// FeedAudio rejects input.
func WithAudioEncoder(enc ports.AudioEncoder) Option {
	return func(e *Engine) { e.encoder = enc }
}

// WithPlaybackSink sets the sink receiving synthesized-audio units.
func WithPlaybackSink(sink ports.PlaybackSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger overrides the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log.Sugar() }
}

// WithRegisterer sets the Prometheus registerer for engine metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = monitoring.NewCollector(reg) }
}

// New creates an engine from validated configuration.
func New(cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      logger.New(cfg.Logging.Level).Sugar(),
		events:   make(chan domain.Event, 64),
		encodeCh: make(chan encodeJob, 32),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.dialer == nil {
		e.dialer = transport.NewWebSocketDialer(cfg.Gateway.HandshakeTimeout)
	}
	if e.metrics == nil {
		e.metrics = monitoring.NewCollector(prometheus.NewRegistry())
	}

	e.session = services.NewSession(
		domain.AudioParams{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			BitRate:    cfg.Audio.BitRate,
		},
		domain.VideoParams{
			Width:  cfg.Video.Width,
			Height: cfg.Video.Height,
			FPS:    cfg.Video.FPS,
		},
	)
	e.queue = services.NewOutboundQueue(cfg.Queue.Watermark, cfg.Queue.Floor)
	e.queue.OnTrim(func(n int) {
		e.metrics.EnvelopesDropped.WithLabelValues("overflow_trim").Add(float64(n))
	})
	e.playback = services.NewJitterBuffer(e.sink, cfg.Playback.MinChunksBeforePlay, e.log)
	e.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	})
	e.videoLimiter = rate.NewLimiter(rate.Limit(cfg.Video.FPS), cfg.Video.FPS)

	return e
}

// Events returns the engine event stream. Consume it promptly; events
// are dropped (with a log) when the buffer is full rather than blocking
// the engine.
func (e *Engine) Events() <-chan domain.Event {
	return e.events
}

// State returns the current session state.
func (e *Engine) State() domain.SessionState {
	return e.session.State()
}

// Start dials the gateway and brings up the send, receive, encode and
// timer loops. Returns domain.ErrAlreadyStarted when already running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	e.running = true
	e.mu.Unlock()

	e.setState(domain.StateConnecting)

	if err := auth.CheckTokenExpiry(e.cfg.Gateway.Token, utils.Now()); err != nil {
		e.failStart(err)
		return err
	}

	url := e.cfg.Gateway.URL
	var header = auth.BuildHeaders(e.cfg.Gateway.Token, e.cfg.Gateway.TokenInHeader)
	if !e.cfg.Gateway.TokenInHeader {
		built, err := auth.BuildGatewayURL(url, e.cfg.Gateway.Token)
		if err != nil {
			e.failStart(err)
			return err
		}
		url = built
	}

	conn, err := e.dialer.Dial(ctx, url, header)
	if err != nil {
		e.failStart(err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.conn = conn
	e.cancel = cancel
	e.mu.Unlock()

	e.queue.Reopen()

	// Framing state is per-session: chunk/frame numbering restarts at
	// zero, and capture jobs left over from the previous session must
	// not be framed and sent under the new one.
	e.audioSeq.Store(0)
	e.videoSeq.Store(0)
drain:
	for {
		select {
		case <-e.encodeCh:
		default:
			break drain
		}
	}

	e.setState(domain.StateSocketOpen)

	e.wg.Add(4)
	go e.encodeLoop(runCtx)
	go e.sendLoop(runCtx)
	go e.recvLoop(runCtx)
	go e.timerLoop(runCtx)

	e.emit(domain.Event{Kind: domain.EventConnected})
	e.log.Infow("gateway connected", "url", e.cfg.Gateway.URL, "session", e.session.ID())
	return nil
}

// Stop tears the session down: cancels timers, closes the socket, waits
// for the loops, and clears the request ID. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	conn := e.conn
	e.conn = nil
	e.cancel = nil
	e.mu.Unlock()

	e.setState(domain.StateClosing)
	e.queue.Close()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	e.wg.Wait()

	e.playback.Interrupt()
	e.session.ClearRequestID()
	e.setState(domain.StateDisconnected)
	e.emit(domain.Event{Kind: domain.EventDisconnected})
	e.log.Infow("session stopped")
}

// FeedAudio hands one raw PCM16 capture buffer to the encode context.
// Never blocks: when the encode queue is full the buffer is dropped and
// counted.
func (e *Engine) FeedAudio(pcm []int16) error {
	if !e.isRunning() {
		return domain.ErrNotConnected
	}
	if e.encoder == nil {
		return domain.ErrEncoderUnavailable
	}
	if len(pcm) == 0 {
		return domain.ErrEmptyChunk
	}

	select {
	case e.encodeCh <- encodeJob{pcm: pcm}:
		return nil
	default:
		e.metrics.EnvelopesDropped.WithLabelValues("encode_backlog").Inc()
		e.log.Debugw("audio capture buffer dropped, encode backlog full")
		return nil
	}
}

// FeedVideo hands one vendor-encoded AVCC access unit to the encode
// context. Frames beyond the configured fps are dropped; capture is
// never blocked.
func (e *Engine) FeedVideo(au *domain.AccessUnit) error {
	if !e.isRunning() {
		return domain.ErrNotConnected
	}
	if au == nil || len(au.AVCC) == 0 {
		return domain.ErrEmptyChunk
	}

	// Keyframes always pass: dropping one stalls the decoder until the
	// next parameter-set refresh.
	if !au.Keyframe && !e.videoLimiter.Allow() {
		e.metrics.EnvelopesDropped.WithLabelValues("fps_pacing").Inc()
		return nil
	}

	select {
	case e.encodeCh <- encodeJob{au: au}:
		return nil
	default:
		e.metrics.EnvelopesDropped.WithLabelValues("encode_backlog").Inc()
		e.log.Debugw("video frame dropped, encode backlog full")
		return nil
	}
}

// FeedVital enqueues one telemetry sample. The wire timestamp is filled
// in when the caller leaves it empty.
func (e *Engine) FeedVital(v *domain.VitalPayload) error {
	if !e.isRunning() {
		return domain.ErrNotConnected
	}
	if v == nil {
		return domain.ErrEmptyChunk
	}
	if v.Timestamp == "" {
		v.Timestamp = utils.NowISO()
	}
	env := domain.NewVitalEnvelope(e.session.RequestID(), v)
	return e.push(env)
}

// SendText sends a conversation trigger, rotating the session request ID
// so subsequent media envelopes are attributed to the new analysis turn.
func (e *Engine) SendText(messages []domain.ChatMessage, prepData map[string]interface{}, isLast bool) error {
	if !e.isRunning() {
		return domain.ErrNotConnected
	}
	requestID := e.session.RotateRequestID()
	env := domain.NewTextEnvelope(requestID, &domain.TextPayload{
		UserID:            e.cfg.Client.UserID,
		Messages:          messages,
		PrepData:          prepData,
		SnapshotWindowSec: e.cfg.Client.SnapshotWindowSec,
		IsLast:            isLast,
	})
	return e.push(env)
}

// encodeLoop is the serial CPU-bound framing context, decoupled from
// capture callbacks so encoding latency never drops capture buffers.
func (e *Engine) encodeLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.encodeCh:
			if job.pcm != nil {
				e.encodeAudio(job.pcm)
			}
			if job.au != nil {
				e.encodeVideo(job.au)
			}
		}
	}
}

func (e *Engine) encodeAudio(pcm []int16) {
	frames, err := e.encoder.Encode(pcm)
	if err != nil {
		e.log.Warnw("audio encode failed, chunk dropped", "samples", len(pcm), "error", err)
		e.metrics.EnvelopesDropped.WithLabelValues("encode_error").Inc()
		return
	}

	audio := e.session.AudioParams()
	for _, frame := range frames {
		framed, err := codec.FrameADTS(frame, audio.SampleRate, audio.Channels)
		if err != nil {
			e.log.Warnw("adts framing failed, frame dropped", "error", err)
			e.metrics.EnvelopesDropped.WithLabelValues("encode_error").Inc()
			continue
		}

		idx := e.audioSeq.Add(1) - 1
		env := domain.NewAudioEnvelope(e.session.RequestID(), &domain.AudioPayload{
			Timestamp:  utils.NowISO(),
			ChunkIndex: idx,
			Codec:      "AAC",
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			Data:       base64.StdEncoding.EncodeToString(framed),
			Size:       len(framed),
		})
		if e.push(env) == nil {
			e.metrics.AudioChunks.Inc()
		}
	}
}

func (e *Engine) encodeVideo(au *domain.AccessUnit) {
	data, err := codec.AnnexB(au)
	if err != nil {
		e.log.Warnw("access unit conversion failed, frame dropped", "error", err)
		e.metrics.EnvelopesDropped.WithLabelValues("encode_error").Inc()
		return
	}
	if data == nil {
		// Bare start code, nothing to forward.
		return
	}

	video := e.session.VideoParams()
	idx := e.videoSeq.Add(1) - 1
	env := domain.NewVideoEnvelope(e.session.RequestID(), &domain.VideoPayload{
		Timestamp:  utils.NowISO(),
		FrameIndex: idx,
		Codec:      "H264",
		Width:      video.Width,
		Height:     video.Height,
		IsKeyframe: au.Keyframe,
		Data:       base64.StdEncoding.EncodeToString(data),
		Size:       len(data),
	})
	if e.push(env) == nil {
		e.metrics.VideoFrames.Inc()
	}
}

func (e *Engine) push(env *domain.Envelope) error {
	if err := e.queue.Push(env); err != nil {
		return err
	}
	e.metrics.EnvelopesEnqueued.WithLabelValues(string(env.Kind)).Inc()
	e.metrics.QueueDepth.Set(float64(e.queue.Len()))
	return nil
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) transport() ports.Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

func (e *Engine) setState(state domain.SessionState) {
	e.session.SetState(state)
	e.metrics.ConnectionState.Set(float64(state))
}

func (e *Engine) failStart(err error) {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.session.Fail(err.Error())
	e.metrics.ConnectionState.Set(float64(domain.StateFailed))
	e.emit(domain.Event{Kind: domain.EventError, Message: err.Error()})
	e.log.Errorw("connection failed", "error", err)
}

// emit delivers an event without ever blocking an engine context.
func (e *Engine) emit(ev domain.Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warnw("event dropped, consumer too slow", "kind", ev.Kind)
	}
}
