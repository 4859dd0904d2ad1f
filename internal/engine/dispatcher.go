package engine

import (
	"context"
	"encoding/base64"

	"wearlink/internal/codec"
	"wearlink/internal/core/domain"
	"wearlink/internal/infrastructure/transport"
)

// recvLoop continuously awaits the next inbound message and re-arms
// itself until the connection is no longer open.
func (e *Engine) recvLoop(ctx context.Context) {
	defer e.wg.Done()

	conn := e.transport()
	if conn == nil {
		return
	}

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			e.onReadError(ctx, err)
			return
		}
		e.dispatch(data)
	}
}

// onReadError distinguishes a caller-initiated Stop from a transport
// failure. Only the latter fails the session; either way the run context
// is torn down so the other loops exit.
func (e *Engine) onReadError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// Stop() closed the socket under us.
		return
	}

	reason := err.Error()
	if transport.IsExpectedClose(err) {
		e.log.Infow("gateway closed connection", "reason", reason)
		e.setState(domain.StateDisconnected)
	} else {
		e.log.Errorw("socket read failed", "error", err)
		e.session.Fail(reason)
		e.metrics.ConnectionState.Set(float64(domain.StateFailed))
		e.emit(domain.Event{Kind: domain.EventError, Message: reason})
	}

	// Encoder/framing state must not survive the connection: the next
	// Start needs a keyframe with fresh parameter sets on the wire.
	e.mu.Lock()
	e.running = false
	cancel := e.cancel
	conn := e.conn
	e.conn = nil
	e.cancel = nil
	e.mu.Unlock()

	e.queue.Close()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}

	e.emit(domain.Event{Kind: domain.EventDisconnected})
}

// dispatch routes one inbound gateway message. Unknown or malformed
// messages are ignored, never fatal.
func (e *Engine) dispatch(data []byte) {
	msg, err := domain.ParseInbound(data)
	if err != nil {
		e.log.Debugw("ignoring unparseable inbound message", "error", err)
		return
	}

	switch msg.Type {
	case domain.EventTypeSessionCreated, domain.EventTypeSessionUpdated:
		if e.session.State() == domain.StateSocketOpen {
			e.setState(domain.StateSessionConfigured)
		}

	case domain.EventTypeSpeechStarted:
		// Barge-in: the user is talking over the response.
		e.playback.Interrupt()
		e.emit(domain.Event{Kind: domain.EventSpeechStarted})

	case domain.EventTypeSpeechStopped:
		e.emit(domain.Event{Kind: domain.EventSpeechStopped})

	case domain.EventTypeAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(msg.Delta)
		if err != nil {
			e.log.Debugw("ignoring audio delta with bad base64", "error", err)
			return
		}
		e.playback.Push(codec.BytesToInt16(pcm))
		e.metrics.PlaybackChunks.Inc()

	case domain.EventTypeAudioDone:
		e.playback.Finish()
		e.emit(domain.Event{Kind: domain.EventAudioPlaybackDone})

	case domain.EventTypeTranscriptDelta:
		e.emit(domain.Event{Kind: domain.EventTranscriptDelta, Text: msg.Delta})

	case domain.EventTypeTranscriptDone:
		e.emit(domain.Event{Kind: domain.EventTranscriptDone, Text: msg.Transcript})

	case domain.EventTypeUserTranscript:
		e.emit(domain.Event{Kind: domain.EventUserTranscript, Text: msg.Transcript})

	case domain.EventTypeError:
		// Surfaced to the caller; a protocol error does not close the
		// connection by itself.
		e.log.Warnw("gateway error", "message", msg.Message, "code", msg.Code)
		e.emit(domain.Event{Kind: domain.EventError, Message: msg.Message, Code: msg.Code})

	case domain.EventTypeAck, domain.EventTypePong:
		// Liveness chatter.

	default:
		e.log.Debugw("ignoring unknown inbound message type", "type", msg.Type)
	}
}
