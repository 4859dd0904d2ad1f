package domain

import "errors"

var (
	ErrAlreadyStarted     = errors.New("engine already started")
	ErrNotConnected       = errors.New("engine not connected")
	ErrQueueClosed        = errors.New("outbound queue closed")
	ErrSendTimeout        = errors.New("send timed out")
	ErrEmptyChunk         = errors.New("empty media chunk")
	ErrMalformedAccess    = errors.New("malformed access unit")
	ErrEncoderUnavailable = errors.New("audio encoder unavailable")
)
