package ports

import (
	"context"
	"net/http"
)

// Transport is one established bidirectional message connection to the
// gateway. WriteMessage must honor the context deadline; ReadMessage
// blocks until the next message or connection close.
type Transport interface {
	WriteMessage(ctx context.Context, data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a Transport. Implementations own handshake timeouts.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// AudioEncoder turns raw PCM16 capture buffers into raw AAC frames
// (no ADTS header; the engine frames them). One capture buffer may yield
// zero or more frames depending on encoder buffering.
type AudioEncoder interface {
	Encode(pcm []int16) ([][]byte, error)
	Close() error
}

// PlaybackSink consumes contiguous float32 PCM units at the negotiated
// sample rate. Enqueue must not block: units are queued FIFO and played
// back-to-back. Stop discards everything queued or scheduled. Pending
// reports units queued but not yet played.
type PlaybackSink interface {
	Enqueue(samples []float32) error
	Stop()
	Pending() int
}
