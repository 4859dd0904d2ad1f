package domain

// EventKind identifies an engine event delivered to the owning caller.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventError             EventKind = "error"
	EventTranscriptDelta   EventKind = "transcript_delta"
	EventTranscriptDone    EventKind = "transcript_done"
	EventUserTranscript    EventKind = "user_transcript"
	EventSpeechStarted     EventKind = "speech_started"
	EventSpeechStopped     EventKind = "speech_stopped"
	EventAudioPlaybackDone EventKind = "audio_playback_done"
)

// Event is one observable engine event. Events are the only coupling
// between the engine and out-of-scope code (UI layer and friends).
type Event struct {
	Kind EventKind

	// Text carries transcript content for transcript events.
	Text string

	// Message and Code carry error detail for EventError.
	Message string
	Code    string
}
