package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wearlink/internal/core/domain"
	"wearlink/internal/core/ports"
	"wearlink/pkg/config"
	"wearlink/pkg/logger"
)

// fakeTransport is an in-memory ports.Transport driven by tests.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	writeErr error

	inbound   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.sent = append(t.sent, cp)
	return nil
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case msg := <-t.inbound:
		return msg, nil
	case <-t.closed:
		return nil, net.ErrClosed
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) setWriteErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *fakeTransport) sentMessages() []map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(t.sent))
	for _, raw := range t.sent {
		var m map[string]interface{}
		if json.Unmarshal(raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

// serverSend injects an inbound gateway message.
func (t *fakeTransport) serverSend(v interface{}) {
	data, _ := json.Marshal(v)
	t.inbound <- data
}

// fakeDialer returns its fixed transport when one is set, otherwise a
// fresh transport per dial (for tests spanning reconnects).
type fakeDialer struct {
	transport *fakeTransport
	dialErr   error

	mu     sync.Mutex
	dialed []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (ports.Transport, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if d.transport != nil {
		return d.transport, nil
	}
	tr := newFakeTransport()
	d.mu.Lock()
	d.dialed = append(d.dialed, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) conn(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialed[i]
}

// stubEncoder yields one raw AAC frame per Encode call.
type stubEncoder struct {
	mu    sync.Mutex
	calls int
}

func (s *stubEncoder) Encode(pcm []int16) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return [][]byte{{0xDE, 0xAD, 0xBE, 0xEF}}, nil
}

func (s *stubEncoder) Close() error { return nil }

type nullSink struct {
	mu    sync.Mutex
	units int
}

func (s *nullSink) Enqueue(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units++
	return nil
}
func (s *nullSink) Stop()        {}
func (s *nullSink) Pending() int { return 0 }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Gateway.URL = "wss://gw.test/ws"
	cfg.Timers.PostOpenDelay = 5 * time.Millisecond
	cfg.Timers.SendTimeout = 200 * time.Millisecond
	cfg.Timers.HeartbeatInterval = time.Hour
	cfg.Timers.KeepaliveInterval = time.Hour
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, tr *fakeTransport, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithDialer(&fakeDialer{transport: tr}),
		WithLogger(logger.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	}
	return New(cfg, append(base, opts...)...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func messagesOfType(msgs []map[string]interface{}, kind string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range msgs {
		if m["message_type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

func TestStartSendsConfigTrigger(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	waitFor(t, func() bool {
		return len(messagesOfType(tr.sentMessages(), "text")) >= 1
	}, "expected a text config trigger after the post-open delay")

	trigger := messagesOfType(tr.sentMessages(), "text")[0]
	assert.NotEmpty(t, trigger["request_id"])
}

func TestStartTwiceRejected(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	assert.ErrorIs(t, eng.Start(context.Background()), domain.ErrAlreadyStarted)
}

func TestEndToEndAudioEnvelope(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr, WithAudioEncoder(&stubEncoder{}))

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	tr.serverSend(map[string]string{"type": domain.EventTypeSessionCreated})
	waitFor(t, func() bool {
		return eng.State() == domain.StateSessionConfigured
	}, "expected session to configure")

	pcm := make([]int16, 4096)
	require.NoError(t, eng.FeedAudio(pcm))

	waitFor(t, func() bool {
		return len(messagesOfType(tr.sentMessages(), "audio")) == 1
	}, "expected exactly one audio envelope")

	env := messagesOfType(tr.sentMessages(), "audio")[0]
	payload := env["payload"].(map[string]interface{})
	assert.Equal(t, float64(0), payload["chunk_index"])
	assert.Equal(t, "AAC", payload["codec"])
	assert.Equal(t, float64(24000), payload["sample_rate"])
	assert.Equal(t, float64(1), payload["channels"])

	// The payload is ADTS-framed: 7-byte header plus the stub frame.
	data, err := base64.StdEncoding.DecodeString(payload["data"].(string))
	require.NoError(t, err)
	assert.Len(t, data, 7+4)
	assert.Equal(t, byte(0xFF), data[0])
	assert.Equal(t, float64(len(data)), payload["size"])

	// Media flowing on a configured session moves it to streaming.
	waitFor(t, func() bool {
		return eng.State() == domain.StateStreaming
	}, "expected streaming state after first media envelope")
}

func TestFeedAudioWithoutEncoder(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	assert.ErrorIs(t, eng.FeedAudio([]int16{1}), domain.ErrEncoderUnavailable)
}

func TestFeedBeforeStart(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr, WithAudioEncoder(&stubEncoder{}))

	assert.ErrorIs(t, eng.FeedAudio([]int16{1}), domain.ErrNotConnected)
	assert.ErrorIs(t, eng.FeedVideo(&domain.AccessUnit{AVCC: []byte{1}}), domain.ErrNotConnected)
	assert.ErrorIs(t, eng.FeedVital(&domain.VitalPayload{}), domain.ErrNotConnected)
}

func TestVideoEnvelopeCarriesParameters(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	sps := []byte{0x67, 0x42}
	pps := []byte{0x68, 0xCE}
	slice := []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x11}

	require.NoError(t, eng.FeedVideo(&domain.AccessUnit{
		AVCC:     slice,
		Keyframe: true,
		SPS:      sps,
		PPS:      pps,
	}))

	waitFor(t, func() bool {
		return len(messagesOfType(tr.sentMessages(), "video")) == 1
	}, "expected one video envelope")

	payload := messagesOfType(tr.sentMessages(), "video")[0]["payload"].(map[string]interface{})
	assert.Equal(t, "H264", payload["codec"])
	assert.Equal(t, true, payload["is_keyframe"])
	assert.Equal(t, float64(0), payload["frame_index"])
	assert.Equal(t, float64(640), payload["width"])
	assert.Equal(t, float64(480), payload["height"])

	data, err := base64.StdEncoding.DecodeString(payload["data"].(string))
	require.NoError(t, err)
	// SPS and PPS precede the slice, each behind a start code.
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x68, 0xCE, 0, 0, 0, 1, 0x65, 0x11}, data)
}

func TestBargeInResetsPlayback(t *testing.T) {
	tr := newFakeTransport()
	sink := &nullSink{}
	cfg := testConfig()
	cfg.Playback.MinChunksBeforePlay = 1
	eng := newTestEngine(t, cfg, tr, WithPlaybackSink(sink))

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	events := eng.Events()

	delta := base64.StdEncoding.EncodeToString([]byte{0x01, 0x00, 0x02, 0x00})
	tr.serverSend(map[string]string{"type": domain.EventTypeAudioDelta, "delta": delta})

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.units == 1
	}, "expected one playback unit")

	tr.serverSend(map[string]string{"type": domain.EventTypeSpeechStarted})

	waitFor(t, func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Kind == domain.EventSpeechStarted {
					return true
				}
			default:
				return false
			}
		}
	}, "expected speech started event")
}

func TestGatewayErrorSurfacedNotFatal(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	tr.serverSend(map[string]string{"type": "error", "message": "quota exceeded", "code": "429"})

	var got domain.Event
	waitFor(t, func() bool {
		select {
		case ev := <-eng.Events():
			if ev.Kind == domain.EventError {
				got = ev
				return true
			}
		default:
		}
		return false
	}, "expected error event")

	assert.Equal(t, "quota exceeded", got.Message)
	assert.Equal(t, "429", got.Code)
	// Connection stays up.
	assert.NotEqual(t, domain.StateFailed, eng.State())
}

func TestTranscriptEventsPassThrough(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	tr.serverSend(map[string]string{"type": domain.EventTypeTranscriptDelta, "delta": "hel"})
	tr.serverSend(map[string]string{"type": domain.EventTypeTranscriptDone, "transcript": "hello"})
	tr.serverSend(map[string]string{"type": domain.EventTypeUserTranscript, "transcript": "hi there"})

	var kinds []domain.EventKind
	var texts []string
	waitFor(t, func() bool {
		for {
			select {
			case ev := <-eng.Events():
				switch ev.Kind {
				case domain.EventTranscriptDelta, domain.EventTranscriptDone, domain.EventUserTranscript:
					kinds = append(kinds, ev.Kind)
					texts = append(texts, ev.Text)
				}
			default:
				return len(kinds) == 3
			}
		}
	}, "expected three transcript events")

	assert.Equal(t, []domain.EventKind{domain.EventTranscriptDelta, domain.EventTranscriptDone, domain.EventUserTranscript}, kinds)
	assert.Equal(t, []string{"hel", "hello", "hi there"}, texts)
}

func TestTextRetriedOnceOnSendError(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	eng := newTestEngine(t, cfg, tr, WithAudioEncoder(&stubEncoder{}))

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	// First trigger goes out cleanly, then the socket starts failing.
	waitFor(t, func() bool {
		return len(messagesOfType(tr.sentMessages(), "text")) >= 1
	}, "expected initial trigger")

	tr.setWriteErr(errors.New("broken pipe"))
	require.NoError(t, eng.SendText([]domain.ChatMessage{{Role: "user", Content: "hello"}}, nil, false))
	require.NoError(t, eng.FeedAudio(make([]int16, 1024)))
	time.Sleep(50 * time.Millisecond)

	baseline := len(tr.sentMessages())
	tr.setWriteErr(nil)

	// Only the text envelope earns a second attempt; audio is gone.
	require.NoError(t, eng.SendText([]domain.ChatMessage{{Role: "user", Content: "again"}}, nil, false))
	waitFor(t, func() bool {
		return len(tr.sentMessages()) > baseline
	}, "expected traffic to resume")

	audio := messagesOfType(tr.sentMessages(), "audio")
	assert.Empty(t, audio, "failed audio envelopes must not be retried")
}

func TestStopEmitsDisconnected(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	eng.Stop()

	assert.Equal(t, domain.StateDisconnected, eng.State())

	var sawDisconnect bool
	for {
		select {
		case ev := <-eng.Events():
			if ev.Kind == domain.EventDisconnected {
				sawDisconnect = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawDisconnect)

	// Stop is idempotent.
	eng.Stop()
}

func TestRestartResetsChunkIndex(t *testing.T) {
	dialer := &fakeDialer{}
	cfg := testConfig()
	eng := New(cfg,
		WithDialer(dialer),
		WithAudioEncoder(&stubEncoder{}),
		WithLogger(logger.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)

	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.FeedAudio(make([]int16, 4096)))
	waitFor(t, func() bool {
		return len(messagesOfType(dialer.conn(0).sentMessages(), "audio")) == 1
	}, "expected one audio envelope on the first session")
	eng.Stop()

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()
	require.NoError(t, eng.FeedAudio(make([]int16, 4096)))
	waitFor(t, func() bool {
		return len(messagesOfType(dialer.conn(1).sentMessages(), "audio")) == 1
	}, "expected one audio envelope on the second session")

	// Chunk numbering restarts with the session.
	payload := messagesOfType(dialer.conn(1).sentMessages(), "audio")[0]["payload"].(map[string]interface{})
	assert.Equal(t, float64(0), payload["chunk_index"])
}

func TestStaleEncodeJobsDiscardedOnRestart(t *testing.T) {
	dialer := &fakeDialer{}
	eng := New(testConfig(),
		WithDialer(dialer),
		WithAudioEncoder(&stubEncoder{}),
		WithLogger(logger.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)

	require.NoError(t, eng.Start(context.Background()))
	eng.Stop()

	// A capture callback that raced teardown leaves its buffer queued.
	eng.encodeCh <- encodeJob{pcm: make([]int16, 1024)}

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	waitFor(t, func() bool {
		return len(messagesOfType(dialer.conn(1).sentMessages(), "text")) >= 1
	}, "expected the config trigger")
	assert.Empty(t, messagesOfType(dialer.conn(1).sentMessages(), "audio"),
		"media captured in the previous session must not be sent")
}

func TestBacklogWaitsForPostOpenDelay(t *testing.T) {
	tr := newFakeTransport()
	cfg := testConfig()
	cfg.Timers.PostOpenDelay = 150 * time.Millisecond
	eng := newTestEngine(t, cfg, tr)

	// Backlog retained from before the connection came up.
	require.NoError(t, eng.queue.Push(domain.NewVitalEnvelope("", &domain.VitalPayload{HeartRate: 70})))

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.sentMessages(), "nothing may be written before the settle delay")

	waitFor(t, func() bool {
		return len(tr.sentMessages()) >= 2
	}, "expected the backlog and the config trigger after the delay")

	// Backlog flushes first, then the config trigger.
	msgs := tr.sentMessages()
	assert.Equal(t, "vital", msgs[0]["message_type"])
	assert.Equal(t, "text", msgs[1]["message_type"])
}

func TestFeedVitalNil(t *testing.T) {
	tr := newFakeTransport()
	eng := newTestEngine(t, testConfig(), tr)

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	assert.ErrorIs(t, eng.FeedVital(nil), domain.ErrEmptyChunk)
}

func TestDialFailure(t *testing.T) {
	cfg := testConfig()
	eng := New(cfg,
		WithDialer(&fakeDialer{dialErr: errors.New("connection refused")}),
		WithLogger(logger.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
	)

	err := eng.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateFailed, eng.State())

	// A failed start leaves the engine restartable.
	tr := newFakeTransport()
	eng2 := newTestEngine(t, cfg, tr)
	require.NoError(t, eng2.Start(context.Background()))
	eng2.Stop()
}
