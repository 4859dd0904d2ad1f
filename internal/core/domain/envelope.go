package domain

// MessageKind identifies the outbound message type on the wire.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindAudio MessageKind = "audio"
	KindVideo MessageKind = "video"
	KindVital MessageKind = "vital"
	KindPing  MessageKind = "ping"
)

// Priority classifies outbound envelopes for queueing. High-priority
// envelopes (control triggers and video frames) jump the queue; normal
// ones (audio, telemetry, pings) drain in arrival order behind them.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// PriorityOf returns the queueing class for a message kind.
func PriorityOf(kind MessageKind) Priority {
	switch kind {
	case KindText, KindVideo:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// ChatMessage is one conversational message in a text trigger.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextPayload triggers (or keeps alive) a server-side analysis turn.
type TextPayload struct {
	UserID            string                 `json:"user_id"`
	Messages          []ChatMessage          `json:"messages"`
	PrepData          map[string]interface{} `json:"prep_data,omitempty"`
	SnapshotWindowSec float64                `json:"snapshot_window_sec,omitempty"`
	IsLast            bool                   `json:"is_last"`
}

// AudioPayload carries one ADTS-framed AAC chunk.
type AudioPayload struct {
	Timestamp  string `json:"timestamp"`
	ChunkIndex int64  `json:"chunk_index"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Data       string `json:"data"`
	Size       int    `json:"size"`
}

// VideoPayload carries one H.264 access unit in Annex-B form.
type VideoPayload struct {
	Timestamp  string `json:"timestamp"`
	FrameIndex int64  `json:"frame_index"`
	Codec      string `json:"codec"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	IsKeyframe bool   `json:"is_keyframe"`
	Data       string `json:"data"`
	Size       int    `json:"size"`
}

// VitalPayload carries one wearable telemetry sample.
type VitalPayload struct {
	Timestamp      string  `json:"timestamp"`
	HeartRate      float64 `json:"heart_rate"`
	BreathRate     float64 `json:"breath_rate"`
	BreathAmp      float64 `json:"breath_amp"`
	Conf           float64 `json:"conf"`
	InitStat       int     `json:"init_stat"`
	PresenceStatus int     `json:"presence_status"`
}

// PingPayload is a lightweight liveness heartbeat.
type PingPayload struct {
	Timestamp string `json:"timestamp"`
}

// Envelope is one typed outbound message. Exactly one payload pointer is
// set, matching Kind. RequestID echoes the session's active analysis turn
// when one is in flight.
type Envelope struct {
	Kind      MessageKind
	Priority  Priority
	RequestID string
	Sequence  int64

	Text  *TextPayload
	Audio *AudioPayload
	Video *VideoPayload
	Vital *VitalPayload
	Ping  *PingPayload

	// Retried marks a control envelope that has already been re-enqueued
	// once after a send failure. Only Text envelopes are ever retried.
	Retried bool
}

// Payload returns the kind-specific payload for wire serialization.
func (e *Envelope) Payload() interface{} {
	switch e.Kind {
	case KindText:
		return e.Text
	case KindAudio:
		return e.Audio
	case KindVideo:
		return e.Video
	case KindVital:
		return e.Vital
	case KindPing:
		return e.Ping
	default:
		return nil
	}
}

// NewTextEnvelope builds a high-priority control/trigger envelope.
func NewTextEnvelope(requestID string, payload *TextPayload) *Envelope {
	return &Envelope{
		Kind:      KindText,
		Priority:  PriorityHigh,
		RequestID: requestID,
		Text:      payload,
	}
}

// NewAudioEnvelope builds a normal-priority audio envelope.
func NewAudioEnvelope(requestID string, payload *AudioPayload) *Envelope {
	return &Envelope{
		Kind:      KindAudio,
		Priority:  PriorityNormal,
		RequestID: requestID,
		Sequence:  payload.ChunkIndex,
		Audio:     payload,
	}
}

// NewVideoEnvelope builds a high-priority video envelope.
func NewVideoEnvelope(requestID string, payload *VideoPayload) *Envelope {
	return &Envelope{
		Kind:      KindVideo,
		Priority:  PriorityHigh,
		RequestID: requestID,
		Sequence:  payload.FrameIndex,
		Video:     payload,
	}
}

// NewVitalEnvelope builds a normal-priority telemetry envelope.
func NewVitalEnvelope(requestID string, payload *VitalPayload) *Envelope {
	return &Envelope{
		Kind:      KindVital,
		Priority:  PriorityNormal,
		RequestID: requestID,
		Vital:     payload,
	}
}

// NewPingEnvelope builds a normal-priority heartbeat envelope.
func NewPingEnvelope(requestID string, timestamp string) *Envelope {
	return &Envelope{
		Kind:      KindPing,
		Priority:  PriorityNormal,
		RequestID: requestID,
		Ping:      &PingPayload{Timestamp: timestamp},
	}
}
