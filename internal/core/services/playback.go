package services

import (
	"go.uber.org/zap"

	"wearlink/internal/codec"
	"wearlink/internal/core/ports"
)

// PlaybackState tracks one synthesized-response turn through the jitter
// buffer.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackCollecting
	PlaybackPlaying
	PlaybackDraining
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackCollecting:
		return "collecting"
	case PlaybackPlaying:
		return "playing"
	case PlaybackDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// JitterBuffer absorbs arrival jitter on inbound synthesized-audio chunks
// before starting gap-free playback. Playback of a turn never starts
// before minChunks chunks have arrived; once playing, every later chunk
// is scheduled immediately on the sink. A barge-in discards everything.
//
// The buffer is mutated only from the receive/dispatch context; the sink
// hand-off is the one cross-context call and the sink queues it.
type JitterBuffer struct {
	sink      ports.PlaybackSink
	minChunks int
	logger    *zap.SugaredLogger

	state   PlaybackState
	pending [][]int16
}

// NewJitterBuffer creates a jitter buffer feeding the given sink.
func NewJitterBuffer(sink ports.PlaybackSink, minChunks int, logger *zap.SugaredLogger) *JitterBuffer {
	if minChunks < 1 {
		minChunks = 1
	}
	return &JitterBuffer{
		sink:      sink,
		minChunks: minChunks,
		logger:    logger,
	}
}

// Push handles one decoded PCM16 chunk of the current response turn.
func (b *JitterBuffer) Push(chunk []int16) {
	if len(chunk) == 0 {
		return
	}

	switch b.state {
	case PlaybackIdle, PlaybackDraining:
		// First chunk of a new turn.
		b.state = PlaybackCollecting
		b.pending = b.pending[:0]
		fallthrough

	case PlaybackCollecting:
		b.pending = append(b.pending, chunk)
		if len(b.pending) < b.minChunks {
			return
		}
		b.submit(b.concatPending())
		b.pending = b.pending[:0]
		b.state = PlaybackPlaying

	case PlaybackPlaying:
		// No re-buffering: the sink queues units FIFO and plays them
		// contiguously.
		b.submit(chunk)
	}
}

// Finish handles the turn-end signal. Chunks still collecting below the
// threshold are flushed as a final unit regardless.
func (b *JitterBuffer) Finish() {
	if b.state == PlaybackCollecting && len(b.pending) > 0 {
		b.submit(b.concatPending())
	}
	b.pending = nil
	if b.sink != nil && b.sink.Pending() > 0 {
		b.state = PlaybackDraining
	} else {
		b.state = PlaybackIdle
	}
}

// Interrupt handles barge-in: the user started speaking over the
// response. Everything pending or scheduled is discarded and the sink is
// stopped.
func (b *JitterBuffer) Interrupt() {
	b.pending = nil
	if b.sink != nil {
		b.sink.Stop()
	}
	b.state = PlaybackIdle
}

// State reports the buffer state. Draining resolves to Idle once the
// sink has played out.
func (b *JitterBuffer) State() PlaybackState {
	if b.state == PlaybackDraining && (b.sink == nil || b.sink.Pending() == 0) {
		b.state = PlaybackIdle
	}
	return b.state
}

func (b *JitterBuffer) concatPending() []int16 {
	total := 0
	for _, c := range b.pending {
		total += len(c)
	}
	out := make([]int16, 0, total)
	for _, c := range b.pending {
		out = append(out, c...)
	}
	return out
}

func (b *JitterBuffer) submit(chunk []int16) {
	if b.sink == nil {
		return
	}
	if err := b.sink.Enqueue(codec.Int16ToFloat32(chunk)); err != nil && b.logger != nil {
		b.logger.Warnw("playback sink rejected unit", "samples", len(chunk), "error", err)
	}
}
