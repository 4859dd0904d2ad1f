package engine

import (
	"context"
	"time"

	"wearlink/internal/core/domain"
	"wearlink/pkg/utils"
)

// timerLoop owns the engine's periodic work: the heartbeat while
// streaming, and the keepalive trigger that refreshes the server-side
// session. The initial config trigger belongs to the send loop, after
// the post-open flush. Everything here dies with the run context on
// Stop.
func (e *Engine) timerLoop(ctx context.Context) {
	defer e.wg.Done()

	heartbeat := time.NewTicker(e.cfg.Timers.HeartbeatInterval)
	defer heartbeat.Stop()
	keepalive := time.NewTicker(e.cfg.Timers.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if e.session.State() != domain.StateStreaming {
				continue
			}
			env := domain.NewPingEnvelope(e.session.RequestID(), utils.NowISO())
			if err := e.push(env); err != nil {
				return
			}

		case <-keepalive.C:
			// Fresh request ID each time so the gateway keeps the
			// session warm under a new turn.
			e.sendConfigTrigger()
		}
	}
}

// sendConfigTrigger enqueues a session-config text trigger under a newly
// rotated request ID.
func (e *Engine) sendConfigTrigger() {
	requestID := e.session.RotateRequestID()
	env := domain.NewTextEnvelope(requestID, &domain.TextPayload{
		UserID:            e.cfg.Client.UserID,
		SnapshotWindowSec: e.cfg.Client.SnapshotWindowSec,
		IsLast:            false,
	})
	if err := e.push(env); err != nil {
		e.log.Debugw("config trigger not enqueued", "error", err)
	}
}
