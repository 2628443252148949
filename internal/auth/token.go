package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Fingerprint derives the session-binding fingerprint of a token: a
// SHA-256 hash, so the session store never has to hold the raw bearer
// token it's matching against.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Common token errors, matched by the orchestrator to produce the right
// AuthError kind rather than leaking jwt/v5's own error values upward.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// MinSecretBytes is the floor enforced at boot: each of the access, refresh
// and special secrets must decode to at least this many raw bytes.
const MinSecretBytes = 32

// Claims is the JWT payload shape shared by every token kind the service
// issues. Scope distinguishes an access token from a short-lived special
// token (MFA continuation, password reset, email verification).
type Claims struct {
	UserID  uuid.UUID `json:"sub"`
	Scope   string    `json:"scope"`
	JTI     string    `json:"jti"`
	Purpose string    `json:"purpose,omitempty"` // set only for special tokens
	jwt.RegisteredClaims
}

const (
	ScopeAccess  = "access"
	ScopeRefresh = "refresh"
	ScopeSpecial = "special"
)

// Blacklist reports and records revoked JTIs. Verify rejects a token whose
// JTI it reports revoked even if its signature and expiry are otherwise
// valid. Logout and session termination end the session in the session
// store and do not call Revoke.
type Blacklist interface {
	IsRevoked(jti string) bool
	Revoke(jti string, until time.Time)
}

// TokenProvider is the contract consumed by the orchestrator and session
// store: mint and verify access/refresh/special tokens without exposing
// the signing secrets themselves.
type TokenProvider interface {
	CreatePair(userID uuid.UUID, accessTTL, refreshTTL time.Duration) (accessToken, refreshToken, accessJTI, refreshJTI string, err error)
	CreateSpecialToken(userID uuid.UUID, purpose string, ttl time.Duration) (token, jti string, err error)
	Verify(tokenString, expectedScope string) (*Claims, error)
}

// JWTProvider implements TokenProvider using HMAC-SHA256 (HS256) with two
// independent secrets for access and refresh tokens, so compromising one
// does not let an attacker forge the other. Kept from the teacher's
// JWTProvider shape (issuer/audience/kid-free claims, SignedString) but
// switched off RS256 per the two-secret, entropy-checked requirement.
type JWTProvider struct {
	accessSecret  []byte
	refreshSecret []byte
	specialSecret []byte
	issuer        string
	audience      string
	blacklist     Blacklist
}

// NewJWTProvider validates that accessSecret, refreshSecret, and
// specialSecret are each at least MinSecretBytes of raw entropy and
// pairwise distinct, then returns a ready provider. Call this once at
// startup; a weak or duplicate secret is a configuration error that
// should fail the process, not degrade silently.
func NewJWTProvider(accessSecret, refreshSecret, specialSecret, issuer, audience string, blacklist Blacklist) (*JWTProvider, error) {
	a, err := decodeSecret(accessSecret)
	if err != nil {
		return nil, fmt.Errorf("access token secret: %w", err)
	}
	r, err := decodeSecret(refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("refresh token secret: %w", err)
	}
	s, err := decodeSecret(specialSecret)
	if err != nil {
		return nil, fmt.Errorf("special token secret: %w", err)
	}
	if string(a) == string(r) || string(a) == string(s) || string(r) == string(s) {
		return nil, fmt.Errorf("access, refresh, and special token secrets must all be distinct")
	}

	return &JWTProvider{
		accessSecret:  a,
		refreshSecret: r,
		specialSecret: s,
		issuer:        issuer,
		audience:      audience,
		blacklist:     blacklist,
	}, nil
}

func decodeSecret(raw string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) >= MinSecretBytes {
		return b, nil
	}
	if len(raw) >= MinSecretBytes {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("secret must decode to at least %d bytes", MinSecretBytes)
}

// NewJTI allocates a unique token identifier: a time prefix for rough
// ordering plus 8 random bytes so two tokens minted in the same
// microsecond still can't collide.
func NewJTI() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d.%s", time.Now().UnixNano(), hex.EncodeToString(buf[:]))
}

func (p *JWTProvider) secretFor(scope string) []byte {
	switch scope {
	case ScopeRefresh:
		return p.refreshSecret
	case ScopeSpecial:
		return p.specialSecret
	default:
		return p.accessSecret
	}
}

func (p *JWTProvider) sign(userID uuid.UUID, scope, purpose string, ttl time.Duration) (string, string, error) {
	jti := NewJTI()
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Scope:   scope,
		JTI:     jti,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			ID:        jti,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secretFor(scope))
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", scope, err)
	}
	return signed, jti, nil
}

func (p *JWTProvider) CreatePair(userID uuid.UUID, accessTTL, refreshTTL time.Duration) (accessToken, refreshToken, accessJTI, refreshJTI string, err error) {
	accessToken, accessJTI, err = p.sign(userID, ScopeAccess, "", accessTTL)
	if err != nil {
		return "", "", "", "", err
	}
	refreshToken, refreshJTI, err = p.sign(userID, ScopeRefresh, "", refreshTTL)
	if err != nil {
		return "", "", "", "", err
	}
	return accessToken, refreshToken, accessJTI, refreshJTI, nil
}

func (p *JWTProvider) CreateSpecialToken(userID uuid.UUID, purpose string, ttl time.Duration) (string, string, error) {
	return p.sign(userID, ScopeSpecial, purpose, ttl)
}

// Verify parses and validates a token, enforces that its scope matches
// expectedScope, and checks the blacklist by JTI.
func (p *JWTProvider) Verify(tokenString, expectedScope string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secretFor(expectedScope), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != expectedScope {
		return nil, ErrInvalidToken
	}
	if p.blacklist != nil && p.blacklist.IsRevoked(claims.JTI) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
