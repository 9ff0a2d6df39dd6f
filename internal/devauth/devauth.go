// Package devauth mints short-lived device tokens for the trail pack
// service.
package devauth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Device Token Policy
//
// The guardian authenticates to the pack service with self-issued JWTs:
//
//   - Expiry: 5 minutes. The device holds the signing key, so a fresh
//     token is minted on demand instead of being refreshed.
//   - Claims: issuer, audience, device ID as subject, issued-at, expiry,
//     and a unique token ID.
//   - Signing: HS256 with the key provisioned at device enrollment.
//
// There are no refresh tokens. A TokenSource re-mints shortly before
// expiry so a token presented to the service always has at least the
// renewal skew of validity left.

const (
	// TokenTTL is how long minted device tokens are valid.
	TokenTTL = 5 * time.Minute

	// DefaultIssuer is the issuer claim for device tokens.
	DefaultIssuer = "roamwise-guardian"

	// DefaultAudience is the audience claim for device tokens.
	DefaultAudience = "roamwise-packs"

	// renewalSkew is how close to expiry a cached token may get before
	// the TokenSource mints a replacement.
	renewalSkew = 30 * time.Second
)

// Predefined token errors.
var (
	ErrNoSigningKey = errors.New("signing key is empty")
	ErrNoDeviceID   = errors.New("device id is empty")
	ErrInvalidToken = errors.New("invalid device token")
	ErrTokenExpired = errors.New("device token has expired")
)

// DeviceClaims represents the claims in a device token.
type DeviceClaims struct {
	jwt.RegisteredClaims

	// DeviceID is the enrolled device identifier.
	DeviceID string `json:"did"`
}

// Config holds configuration for the token issuer.
type Config struct {
	// SigningKey is the secret key used to sign device tokens.
	SigningKey string

	// Issuer is the issuer claim. Default: DefaultIssuer.
	Issuer string

	// Audience is the audience claim. Default: DefaultAudience.
	Audience string

	// TTL is the token validity window. Default: TokenTTL.
	TTL time.Duration
}

// Issuer mints and validates device tokens.
type Issuer struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewIssuer creates a device token issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SigningKey == "" {
		return nil, ErrNoSigningKey
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.TTL == 0 {
		cfg.TTL = TokenTTL
	}

	return &Issuer{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        cfg.TTL,
	}, nil
}

// Mint creates a new token for the given device.
func (s *Issuer) Mint(deviceID string) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, ErrNoDeviceID
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   deviceID,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing device token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate validates a device token and returns the claims.
func (s *Issuer) Validate(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// TokenSource hands out a valid token for one device, minting a
// replacement once the cached one is within the renewal skew of expiry.
// Safe for concurrent use.
type TokenSource struct {
	issuer   *Issuer
	deviceID string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source for the given device.
func NewTokenSource(issuer *Issuer, deviceID string) *TokenSource {
	return &TokenSource{
		issuer:   issuer,
		deviceID: deviceID,
	}
}

// Token returns a cached token, or mints a new one when the cache is
// empty or about to expire.
func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expiresAt) > renewalSkew {
		return ts.token, nil
	}

	token, expiresAt, err := ts.issuer.Mint(ts.deviceID)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiresAt = expiresAt
	return token, nil
}
