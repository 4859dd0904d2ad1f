package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "wearlink/pkg/errors"
)

// BuildGatewayURL appends the API token as a token= query parameter to the
// WebSocket URL, unless the URL already carries one or the token is empty.
func BuildGatewayURL(base string, token string) (string, error) {
	if token == "" {
		return base, nil
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url: %w", err)
	}

	query := parsed.Query()
	if query.Get("token") != "" {
		return base, nil
	}
	query.Set("token", token)
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// BuildHeaders returns the Authorization header for deployments that expect
// the token in a Bearer header instead of the query string.
func BuildHeaders(token string, tokenInHeader bool) http.Header {
	if token == "" || !tokenInHeader {
		return nil
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header
}

// CheckTokenExpiry fails fast when the token is a JWT whose exp claim is in
// the past. Opaque non-JWT tokens pass unchecked; the gateway is the
// authority either way.
func CheckTokenExpiry(token string, now time.Time) error {
	if token == "" {
		return nil
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Not a JWT; nothing to check locally.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(now) {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "api token expired").
			WithContext("expired_at", exp.Time.Format(time.RFC3339))
	}

	return nil
}
