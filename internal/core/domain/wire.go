package domain

import (
	"encoding/json"
	"fmt"
)

// wireMessage is the outbound JSON envelope understood by the gateway.
type wireMessage struct {
	MessageType MessageKind `json:"message_type"`
	RequestID   string      `json:"request_id,omitempty"`
	Payload     interface{} `json:"payload"`
}

// MarshalWire serializes the envelope into the gateway wire format.
func (e *Envelope) MarshalWire() ([]byte, error) {
	payload := e.Payload()
	if payload == nil {
		return nil, fmt.Errorf("envelope kind %q has no payload", e.Kind)
	}
	return json.Marshal(wireMessage{
		MessageType: e.Kind,
		RequestID:   e.RequestID,
		Payload:     payload,
	})
}

// Inbound event type names sent by the gateway.
const (
	EventTypeSessionCreated      = "session.created"
	EventTypeSessionUpdated      = "session.updated"
	EventTypeSpeechStarted       = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped       = "input_audio_buffer.speech_stopped"
	EventTypeAudioDelta          = "response.audio.delta"
	EventTypeAudioDone           = "response.audio.done"
	EventTypeTranscriptDelta     = "response.audio_transcript.delta"
	EventTypeTranscriptDone      = "response.audio_transcript.done"
	EventTypeUserTranscript      = "conversation.item.input_audio_transcription.completed"
	EventTypeError               = "error"
	EventTypeAck                 = "ack"
	EventTypePong                = "pong"
)

// InboundMessage is the parsed shape of one gateway message. Only the
// fields relevant to the probed Type are populated.
type InboundMessage struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
}

// ParseInbound decodes one inbound gateway message. Malformed input or a
// missing type is an error; unknown types parse fine and are the
// dispatcher's business to ignore.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed inbound message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("inbound message missing type")
	}
	return &msg, nil
}
