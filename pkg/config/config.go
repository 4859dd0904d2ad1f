package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Gateway struct {
		URL              string        `yaml:"url"`
		Token            string        `yaml:"token"`
		TokenInHeader    bool          `yaml:"token_in_header"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	} `yaml:"gateway"`

	Audio struct {
		SampleRate int `yaml:"sample_rate"`
		Channels   int `yaml:"channels"`
		BitRate    int `yaml:"bit_rate"`
	} `yaml:"audio"`

	Video struct {
		Width         int `yaml:"width"`
		Height        int `yaml:"height"`
		FPS           int `yaml:"fps"`
		AVCCHeaderLen int `yaml:"avcc_header_len"`
	} `yaml:"video"`

	Queue struct {
		Watermark int `yaml:"watermark"`
		Floor     int `yaml:"floor"`
	} `yaml:"queue"`

	Playback struct {
		MinChunksBeforePlay int `yaml:"min_chunks_before_play"`
	} `yaml:"playback"`

	Timers struct {
		SendTimeout       time.Duration `yaml:"send_timeout"`
		PostOpenDelay     time.Duration `yaml:"post_open_delay"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	} `yaml:"timers"`

	Breaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		Cooldown         time.Duration `yaml:"cooldown"`
	} `yaml:"breaker"`

	Client struct {
		UserID            string        `yaml:"user_id"`
		SnapshotWindowSec float64       `yaml:"snapshot_window_sec"`
		Warmup            time.Duration `yaml:"warmup"`
	} `yaml:"client"`

	Monitoring struct {
		Enabled bool   `yaml:"enabled"`
		Address string `yaml:"address"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns a configuration with the deployment defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Gateway.HandshakeTimeout = 10 * time.Second
	cfg.Audio.SampleRate = 24000
	cfg.Audio.Channels = 1
	cfg.Audio.BitRate = 64000
	cfg.Video.Width = 640
	cfg.Video.Height = 480
	cfg.Video.FPS = 15
	cfg.Video.AVCCHeaderLen = 4
	cfg.Queue.Watermark = 15
	cfg.Queue.Floor = 10
	cfg.Playback.MinChunksBeforePlay = 2
	cfg.Timers.SendTimeout = time.Second
	cfg.Timers.PostOpenDelay = 500 * time.Millisecond
	cfg.Timers.HeartbeatInterval = 3 * time.Second
	cfg.Timers.KeepaliveInterval = 15 * time.Second
	cfg.Breaker.FailureThreshold = 5
	cfg.Breaker.Cooldown = 30 * time.Second
	cfg.Client.SnapshotWindowSec = 15
	cfg.Client.Warmup = 2 * time.Second
	cfg.Monitoring.Address = ":9095"
	cfg.Logging.Level = "info"
	return cfg
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url must not be empty")
	}
	if c.Gateway.HandshakeTimeout <= 0 {
		return fmt.Errorf("gateway.handshake_timeout must be > 0")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2")
	}

	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video dimensions must be > 0")
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("video.fps must be > 0")
	}
	if c.Video.AVCCHeaderLen != 4 {
		return fmt.Errorf("video.avcc_header_len: only 4-byte length prefixes are supported")
	}

	if c.Queue.Watermark <= 0 {
		return fmt.Errorf("queue.watermark must be > 0")
	}
	if c.Queue.Floor <= 0 || c.Queue.Floor > c.Queue.Watermark {
		return fmt.Errorf("queue.floor must be in (0, watermark]")
	}

	if c.Playback.MinChunksBeforePlay < 1 {
		return fmt.Errorf("playback.min_chunks_before_play must be >= 1")
	}

	if c.Timers.SendTimeout <= 0 {
		return fmt.Errorf("timers.send_timeout must be > 0")
	}
	if c.Timers.PostOpenDelay < 0 {
		return fmt.Errorf("timers.post_open_delay must be >= 0")
	}
	if c.Timers.HeartbeatInterval <= 0 {
		return fmt.Errorf("timers.heartbeat_interval must be > 0")
	}
	if c.Timers.KeepaliveInterval <= 0 {
		return fmt.Errorf("timers.keepalive_interval must be > 0")
	}

	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker.cooldown must be > 0")
	}

	return nil
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
