package main

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wearlink/internal/core/domain"
	"wearlink/internal/engine"
	"wearlink/internal/infrastructure/encoder"
	"wearlink/pkg/config"
	"wearlink/pkg/logger"
	"wearlink/pkg/retry"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/wearlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if url := os.Getenv("WEARLINK_GATEWAY_URL"); url != "" {
		cfg.Gateway.URL = url
	}
	if token := os.Getenv("WEARLINK_GATEWAY_TOKEN"); token != "" {
		cfg.Gateway.Token = token
	}

	log := logger.New(cfg.Logging.Level).Sugar()
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	log.Infow("configuration loaded", "gateway", cfg.Gateway.URL)

	aac, err := encoder.NewFFmpegAAC(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.BitRate, log)
	if err != nil {
		log.Fatalw("aac encoder unavailable", "error", err)
	}
	defer aac.Close()

	eng := engine.New(cfg,
		engine.WithAudioEncoder(aac),
		engine.WithLogger(log.Desugar()),
		engine.WithRegisterer(prometheus.DefaultRegisterer),
	)

	if cfg.Monitoring.Enabled {
		go serveMonitoring(cfg.Monitoring.Address, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go consumeEvents(ctx, eng, log)
	go streamVitals(ctx, eng, cfg.Client.Warmup)

	// The engine does not reconnect on its own; drive it here, backing
	// off between attempts so a flapping gateway isn't hammered.
	reconnect := retry.DefaultConfig()
	reconnect.MaxAttempts = math.MaxInt32
	reconnect.MaxDelay = 30 * time.Second

	err = retry.Retry(ctx, reconnect, func() error {
		if err := eng.Start(ctx); err != nil {
			log.Warnw("connect failed, will retry", "error", err)
			return err
		}

		time.Sleep(cfg.Client.Warmup)
		if err := eng.SendText([]domain.ChatMessage{
			{Role: "user", Content: "start analysis"},
		}, nil, false); err != nil {
			log.Warnw("initial trigger failed", "error", err)
		}

		// Block until the session ends, then report an error so the
		// backoff loop dials again.
		for eng.State() != domain.StateDisconnected && eng.State() != domain.StateFailed {
			select {
			case <-ctx.Done():
				eng.Stop()
				return nil
			case <-time.After(500 * time.Millisecond):
			}
		}
		return domain.ErrNotConnected
	})
	if err != nil && ctx.Err() == nil {
		log.Errorw("session loop exited", "error", err)
	}

	eng.Stop()
	log.Infow("shutdown complete")
}

func serveMonitoring(addr string, log *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	log.Infow("monitoring endpoint up", "address", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorw("monitoring endpoint failed", "error", err)
	}
}

func consumeEvents(ctx context.Context, eng *engine.Engine, log *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eng.Events():
			switch ev.Kind {
			case domain.EventTranscriptDelta:
				// Too chatty for info level.
				log.Debugw("transcript delta", "text", ev.Text)
			case domain.EventTranscriptDone:
				log.Infow("assistant said", "text", ev.Text)
			case domain.EventUserTranscript:
				log.Infow("user said", "text", ev.Text)
			case domain.EventError:
				log.Warnw("engine error", "message", ev.Message, "code", ev.Code)
			default:
				log.Infow("engine event", "kind", ev.Kind)
			}
		}
	}
}

// streamVitals feeds synthetic wearable telemetry at a fixed cadence.
// On a real device this is replaced by the sensor bridge.
func streamVitals(ctx context.Context, eng *engine.Engine, warmup time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(warmup):
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := &domain.VitalPayload{
				HeartRate:      68 + rand.Float64()*14,
				BreathRate:     14 + rand.Float64()*4,
				BreathAmp:      0.4 + rand.Float64()*0.3,
				Conf:           0.9 + rand.Float64()*0.1,
				InitStat:       1,
				PresenceStatus: 1,
			}
			if err := eng.FeedVital(v); err != nil {
				// Connection is down; the reconnect loop will bring it
				// back and this ticker just keeps trying.
				continue
			}
		}
	}
}
