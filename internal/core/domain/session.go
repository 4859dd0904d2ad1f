package domain

// SessionState tracks the connection lifecycle of one streaming session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateSocketOpen
	StateSessionConfigured
	StateStreaming
	StateClosing
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSocketOpen:
		return "socket_open"
	case StateSessionConfigured:
		return "session_configured"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AudioParams is the negotiated capture/playback audio format, fixed per
// deployment.
type AudioParams struct {
	SampleRate int
	Channels   int
	BitRate    int
}

// VideoParams is the configured capture video format.
type VideoParams struct {
	Width  int
	Height int
	FPS    int
}

// AccessUnit is one vendor-encoded H.264 access unit handed to FeedVideo:
// length-prefixed (AVCC) slice data plus the parameter sets from the
// encoder's format description. SPS/PPS may be nil on non-keyframes.
type AccessUnit struct {
	AVCC     []byte
	Keyframe bool
	SPS      []byte
	PPS      []byte
}
