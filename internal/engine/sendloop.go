package engine

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"wearlink/internal/core/domain"
	"wearlink/pkg/circuitbreaker"
)

// sendLoop is the single consumer of the outbound queue. It enforces
// single-flight ordered delivery: one envelope is serialized and written
// at a time, and the loop waits for that write to complete (or the send
// timeout to elapse) before popping the next.
func (e *Engine) sendLoop(ctx context.Context) {
	defer e.wg.Done()

	e.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		if from == circuitbreaker.StateClosed && to == circuitbreaker.StateOpen {
			e.emit(domain.Event{
				Kind:    domain.EventError,
				Message: "repeated send failures on gateway socket",
			})
		}
	})

	// Let the socket settle, then flush any backlog accumulated while
	// disconnected before the config trigger goes out. Nothing is
	// written before the delay elapses.
	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.Timers.PostOpenDelay):
	}

	e.drainQueue(ctx)
	if ctx.Err() != nil {
		return
	}
	e.sendConfigTrigger()

	for {
		e.drainQueue(ctx)
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-e.queue.Signal():
		}
	}
}

func (e *Engine) drainQueue(ctx context.Context) {
	for env := e.queue.Pop(); env != nil; env = e.queue.Pop() {
		e.sendEnvelope(ctx, env)
		e.metrics.QueueDepth.Set(float64(e.queue.Len()))
		if ctx.Err() != nil {
			return
		}
	}
}

// sendEnvelope writes one envelope. On timeout the send is abandoned and
// the loop proceeds; the envelope is never retried. On other send errors
// a Text envelope may be re-enqueued once; media envelopes never are, so
// sustained failure can't build an unbounded retry backlog.
func (e *Engine) sendEnvelope(ctx context.Context, env *domain.Envelope) {
	conn := e.transport()
	if conn == nil {
		e.metrics.EnvelopesDropped.WithLabelValues("no_transport").Inc()
		return
	}

	data, err := env.MarshalWire()
	if err != nil {
		e.log.Errorw("envelope serialization failed", "kind", env.Kind, "error", err)
		e.metrics.EnvelopesDropped.WithLabelValues("marshal_error").Inc()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.Timers.SendTimeout)
	start := time.Now()
	err = conn.WriteMessage(sendCtx, data)
	cancel()
	e.metrics.SendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		e.onSendError(env, err)
		return
	}

	e.breaker.RecordSuccess()
	e.metrics.EnvelopesSent.WithLabelValues(string(env.Kind)).Inc()

	// First media envelope on a configured session marks it streaming.
	if (env.Kind == domain.KindAudio || env.Kind == domain.KindVideo) &&
		e.session.State() == domain.StateSessionConfigured {
		e.setState(domain.StateStreaming)
	}
}

func (e *Engine) onSendError(env *domain.Envelope, err error) {
	e.breaker.RecordFailure()

	if isTimeout(err) {
		// Abandon and move on; single-flight ordering is worth more than
		// this envelope.
		e.log.Warnw("send timed out, envelope abandoned", "kind", env.Kind, "seq", env.Sequence)
		e.metrics.EnvelopesDropped.WithLabelValues("send_timeout").Inc()
		return
	}

	if env.Kind == domain.KindText && !env.Retried {
		env.Retried = true
		if e.queue.Push(env) == nil {
			e.log.Warnw("text send failed, re-enqueued once", "error", err)
			return
		}
	}

	e.log.Warnw("send failed, envelope dropped", "kind", env.Kind, "seq", env.Sequence, "error", err)
	e.metrics.EnvelopesDropped.WithLabelValues("send_error").Inc()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
