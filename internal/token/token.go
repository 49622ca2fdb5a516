package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Authenticator issues and verifies short-lived HMAC-signed tokens shared
// between the core process and the collection relay. Tokens are stateless:
// security rests on the short expiry plus signature integrity, and replay
// within the expiry window is an accepted trade-off.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New builds an Authenticator from a pre-shared secret and token lifetime.
func New(secret string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("token: empty shared secret")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source. Test hook.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// canonical serializes the signed payload. Field order is fixed; changing it
// invalidates all outstanding tokens.
func canonical(scope string, issued, expiry int64) string {
	return scope + "\n" + strconv.FormatInt(issued, 10) + "\n" + strconv.FormatInt(expiry, 10)
}

func (a *Authenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue produces a token for the given scope, valid for the configured TTL.
func (a *Authenticator) Issue(scope string) (string, error) {
	if scope == "" {
		return "", errors.New("token: empty scope")
	}
	if strings.Contains(scope, "\n") {
		return "", errors.New("token: scope must not contain newlines")
	}
	issued := a.now().Unix()
	expiry := issued + int64(a.ttl.Seconds())
	payload := canonical(scope, issued, expiry)
	enc := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return enc + "." + a.sign(payload), nil
}

// Verify checks signature and expiry and returns the embedded scope.
// The signature is checked before the expiry so a forged token never
// learns whether its timestamps were plausible.
func (a *Authenticator) Verify(tok string) (string, error) {
	encoded, sig, ok := strings.Cut(tok, ".")
	if !ok || encoded == "" || sig == "" {
		return "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidToken
	}
	payload := string(raw)
	if !hmac.Equal([]byte(sig), []byte(a.sign(payload))) {
		return "", ErrInvalidToken
	}
	parts := strings.Split(payload, "\n")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}
	scope := parts[0]
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	now := a.now().Unix()
	if issued > now+30 {
		// issued-at in the future beyond clock-skew allowance
		return "", ErrInvalidToken
	}
	if now > expiry {
		return "", fmt.Errorf("%w: expired %ds ago", ErrExpired, now-expiry)
	}
	return scope, nil
}
