package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidCredential wraps every rejected token.
var ErrInvalidCredential = errors.New("invalid credential")

// User is the identity a credential resolves to.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Authenticator resolves a bearer credential to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
