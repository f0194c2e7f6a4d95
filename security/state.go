package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const (
	// StateCookieName is the cookie that carries the sealed handshake state
	// between /install and /oauth/callback.
	StateCookieName = "crashlink_oauth_state"

	// DefaultStateTTL bounds how long a started handshake stays valid.
	DefaultStateTTL = 10 * time.Minute

	// stateTokenBytes is the entropy of a generated state token (256 bits).
	stateTokenBytes = 32

	stateKeyInfo = "crashlink oauth state v1"
)

var (
	// ErrInvalidState is returned when a sealed state cannot be opened:
	// the signature is wrong, the token is malformed, or it has expired.
	ErrInvalidState = errors.New("invalid or expired handshake state")
)

// GenerateStateToken returns a fresh, unguessable state value encoded as
// unpadded base64url.
func GenerateStateToken() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StatesEqual compares two state values in constant time. Empty values
// never match.
func StatesEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// stateClaims is the JWT body of a sealed state cookie.
type stateClaims struct {
	State string `json:"st"`
	jwt.RegisteredClaims
}

// StateSealer signs handshake state into a tamper-evident cookie value so
// the server does not need to keep per-handshake records.
type StateSealer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSealer derives an HMAC key from secret. An empty secret yields a
// random per-process key, which invalidates in-flight handshakes on restart
// and does not work across replicas.
func NewStateSealer(secret string, ttl time.Duration) (*StateSealer, error) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	ikm := []byte(secret)
	if secret == "" {
		ikm = make([]byte, 32)
		if _, err := rand.Read(ikm); err != nil {
			return nil, fmt.Errorf("generate state key: %w", err)
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive state key: %w", err)
	}

	return &StateSealer{key: key, ttl: ttl, now: time.Now}, nil
}

// TTL returns how long sealed states remain valid.
func (s *StateSealer) TTL() time.Duration {
	return s.ttl
}

// Seal returns a signed token carrying state and the time it expires.
func (s *StateSealer) Seal(state string) (string, time.Time, error) {
	if state == "" {
		return "", time.Time{}, fmt.Errorf("state cannot be empty")
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		State: state,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign state: %w", err)
	}
	return signed, expiresAt, nil
}

// Open verifies a sealed token and returns the state inside it.
func (s *StateSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", ErrInvalidState
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(sealed, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	if claims.State == "" || claims.ExpiresAt == nil {
		return "", ErrInvalidState
	}
	if !claims.ExpiresAt.Time.After(s.now()) {
		return "", fmt.Errorf("%w: expired", ErrInvalidState)
	}
	return claims.State, nil
}
