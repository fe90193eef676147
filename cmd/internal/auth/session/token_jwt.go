package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type tokenKind string

const (
	kindAccess  tokenKind = "access"
	kindRefresh tokenKind = "refresh"
)

// Claims is the claim shape shared by both token kinds. TokenType rides in
// "typ" so a refresh token can never pass access verification even if the
// two secrets were misconfigured to the same value.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// IssuedToken couples a signed token with its expiry for transport layers
// that need Max-Age/expires metadata.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenPair is the result of login and refresh.
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// TokenManager issues and verifies the signed access/refresh token pair
// (JWT, HS256). The two kinds are signed with independent secrets; neither
// kind ever verifies under the other's secret.
type TokenManager struct {
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clockSkew     time.Duration
	accessSecret  []byte
	refreshSecret []byte
}

// NewTokenManager validates cfg and constructs a TokenManager.
func NewTokenManager(cfg Config) (*TokenManager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &TokenManager{
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTokenTTL,
		refreshTTL:    cfg.RefreshTokenTTL,
		clockSkew:     cfg.ClockSkew,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
	}, nil
}

// IssueAccess signs a short-lived access token for accountID.
func (m *TokenManager) IssueAccess(accountID string, now time.Time) (IssuedToken, error) {
	return m.issue(accountID, now, kindAccess, m.accessTTL, m.accessSecret)
}

// IssueRefresh signs a refresh token for accountID.
func (m *TokenManager) IssueRefresh(accountID string, now time.Time) (IssuedToken, error) {
	return m.issue(accountID, now, kindRefresh, m.refreshTTL, m.refreshSecret)
}

func (m *TokenManager) issue(accountID string, now time.Time, kind tokenKind, ttl time.Duration, secret []byte) (IssuedToken, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return IssuedToken{}, ErrInvalidToken
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	exp := now.Add(ttl)

	claims := Claims{
		TokenType: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, ExpiresAt: exp}, nil
}

// VerifyAccess verifies an access token and returns its claims.
func (m *TokenManager) VerifyAccess(token string) (Claims, error) {
	return m.verify(token, kindAccess, m.accessSecret)
}

// VerifyRefresh verifies a refresh token cryptographically. Fingerprint
// matching against the store is the caller's next step; passing here alone
// does not make the token live.
func (m *TokenManager) VerifyRefresh(token string) (Claims, error) {
	return m.verify(token, kindRefresh, m.refreshSecret)
}

func (m *TokenManager) verify(token string, kind tokenKind, secret []byte) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.TokenType != string(kind) || strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// SubjectUnverified extracts the account id claim WITHOUT verifying the
// signature. Refresh needs it to locate the stored fingerprint before real
// verification runs; callers must never trust it for anything else.
func (m *TokenManager) SubjectUnverified(token string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
