package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the user id under "id" (falling back to "sub") and the
// display name under "username" or "name".
type Claims struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ Authenticator = (*JWTVerifier)(nil)

func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: strings.TrimSpace(issuer), now: time.Now}, nil
}

func (v *JWTVerifier) Authenticate(ctx context.Context, token string) (User, error) {
	token = BearerToken(token)
	if token == "" {
		return User{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return User{}, fmt.Errorf("%w: unexpected claims", ErrInvalidCredential)
	}
	id := strings.TrimSpace(claims.ID)
	if id == "" {
		id = strings.TrimSpace(claims.Subject)
	}
	if id == "" {
		return User{}, fmt.Errorf("%w: missing user id", ErrInvalidCredential)
	}
	name := strings.TrimSpace(claims.Username)
	if name == "" {
		name = strings.TrimSpace(claims.Name)
	}
	if name == "" {
		name = id
	}
	return User{ID: id, Username: name}, nil
}

// Issue signs a token for u. Used by tooling and tests; production tokens
// come from the auth service.
func (v *JWTVerifier) Issue(u User, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  u.ID,
			Issuer:   v.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
