package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateRequestID generates a unique request ID echoed into outbound
// envelopes for one analysis turn.
func GenerateRequestID() string {
	return fmt.Sprintf("req_%s", uuid.NewString())
}

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return fmt.Sprintf("session_%s", uuid.NewString())
}
