package services

import (
	"sync"

	"wearlink/internal/core/domain"
	"wearlink/pkg/utils"
)

// Session tracks the state of one streaming conversation window and the
// request ID echoed into outbound envelopes while an analysis turn is in
// flight.
type Session struct {
	id string

	mu         sync.Mutex
	state      domain.SessionState
	requestID  string
	failReason string

	audio domain.AudioParams
	video domain.VideoParams
}

// NewSession creates a disconnected session with the negotiated media
// parameters.
func NewSession(audio domain.AudioParams, video domain.VideoParams) *Session {
	return &Session{
		id:    utils.GenerateSessionID(),
		state: domain.StateDisconnected,
		audio: audio,
		video: video,
	}
}

// ID returns the locally generated session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current session state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session to a new state.
func (s *Session) SetState(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if state != domain.StateFailed {
		s.failReason = ""
	}
}

// Fail transitions to Failed and records the reason.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = domain.StateFailed
	s.failReason = reason
}

// FailReason returns the reason recorded by the last Fail.
func (s *Session) FailReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

// RequestID returns the active request ID, or "" when no turn is in
// flight.
func (s *Session) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// RotateRequestID generates and installs a fresh request ID for a new
// analysis turn, returning it.
func (s *Session) RotateRequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = utils.GenerateRequestID()
	return s.requestID
}

// ClearRequestID drops the active request ID on stop.
func (s *Session) ClearRequestID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = ""
}

// AudioParams returns the negotiated audio format.
func (s *Session) AudioParams() domain.AudioParams {
	return s.audio
}

// VideoParams returns the configured video format.
func (s *Session) VideoParams() domain.VideoParams {
	return s.video
}
