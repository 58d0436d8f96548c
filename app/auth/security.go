package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenDenied  = errors.New("token has been invalidated")
	ErrTokenInvalid = errors.New("token is invalid")
)

// Security signs and verifies consumer tokens. Tokens are HMAC-signed and
// carry the consumer id as the key id header, so verification can resolve the
// consumer without a database lookup. Issued tokens stay valid until
// explicitly invalidated; the denylist of invalidated tokens is refreshed
// periodically from the store.
type Security struct {
	issuer   string
	audience string
	secret   []byte

	mu     sync.RWMutex
	denied map[string]struct{}
}

func NewSecurity(issuer, audience, secret string) *Security {
	return &Security{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(secret),
		denied:   map[string]struct{}{},
	}
}

// NewToken issues a token for the consumer. A nil expiry means the token
// never expires on its own and lives until invalidated.
func (s *Security) NewToken(consumerID uuid.UUID, subject string, issuedAt time.Time, expires *time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"sub": subject,
		"iat": issuedAt.Unix(),
		"jti": uuid.NewString(),
	}
	if expires != nil {
		claims["exp"] = expires.Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = consumerID.String()

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry, rejects denylisted
// tokens and returns the consumer id from the key id header.
func (s *Security) Verify(tokenString string) (uuid.UUID, error) {
	if s.isDenied(tokenString) {
		return uuid.Nil, ErrTokenDenied
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: missing key id", ErrTokenInvalid)
	}
	consumerID, err := uuid.Parse(kid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed key id", ErrTokenInvalid)
	}
	return consumerID, nil
}

// ExpiresAt reports the expiry claim of a previously issued token, or nil
// when the token never expires. Signature is not re-checked; callers pass
// tokens read back from the store.
func (s *Security) ExpiresAt(tokenString string) (*time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, err
	}
	return &exp.Time, nil
}

// SetDenylist replaces the set of invalidated tokens.
func (s *Security) SetDenylist(tokens []string) {
	denied := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		denied[t] = struct{}{}
	}
	s.mu.Lock()
	s.denied = denied
	s.mu.Unlock()
}

func (s *Security) isDenied(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.denied[token]
	return ok
}
