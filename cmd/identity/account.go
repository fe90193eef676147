package identity

import (
	"context"
	"time"
)

// Account is Reel's canonical principal. It never carries credential
// material; AccountAuth is the store-facing shape that does.
type Account struct {
	ID           string
	Username     string
	UsernameNorm string
	Email        string
	EmailNorm    string

	FullName      string
	AvatarURL     string
	CoverImageURL string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountAuth extends Account with server-side secrets. Only the store and
// the session service see it; it must never be serialized to clients.
type AccountAuth struct {
	Account

	// PasswordHash is a PHC-formatted Argon2id string.
	PasswordHash string

	// RefreshFingerprint is the 64-char hex fingerprint of the most
	// recently issued refresh token, or "" when the account is logged out.
	// The plain refresh token is never stored.
	RefreshFingerprint string
}

// CreateAccountInput describes a registration request as seen by the store.
// PasswordHash must already be a complete PHC string; hashing is the
// caller's concern.
type CreateAccountInput struct {
	Username      string
	Email         string
	FullName      string
	AvatarURL     string
	CoverImageURL string
	PasswordHash  string
	Now           time.Time
}

// Store is the credential persistence boundary.
//
// Contract:
//   - Lookups return NotFoundError when no row matches.
//   - Create returns ConflictError for username/email uniqueness violations.
//   - All mutations touching a single account are atomic; no partial writes.
//   - RotateRefreshFingerprint is a compare-and-swap and returns ErrNotActive
//     (indistinguishably) when the stored fingerprint does not match.
//   - Timeouts and connection-class failures surface as ErrUnavailable and
//     are never retried inside the store.
type Store interface {
	Create(ctx context.Context, in CreateAccountInput) (Account, error)

	FindByID(ctx context.Context, id string) (Account, error)
	FindAuthByID(ctx context.Context, id string) (AccountAuth, error)

	// FindAuthByUsernameOrEmail resolves exactly one identifier; passing
	// both or neither is ErrInvalidInput.
	FindAuthByUsernameOrEmail(ctx context.Context, username, email *string) (AccountAuth, error)

	UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error

	// ReplaceRefreshFingerprint unconditionally overwrites the stored
	// fingerprint (login: a fresh login displaces any live refresh token).
	ReplaceRefreshFingerprint(ctx context.Context, id, fingerprint string, now time.Time) error

	// RotateRefreshFingerprint atomically swaps expected -> next. It fails
	// with ErrNotActive when the account is missing, logged out, or the
	// stored fingerprint differs from expected.
	RotateRefreshFingerprint(ctx context.Context, id, expected, next string, now time.Time) error

	// ClearRefreshFingerprint logs the account out. Clearing an already
	// cleared fingerprint succeeds.
	ClearRefreshFingerprint(ctx context.Context, id string, now time.Time) error

	UpdateProfile(ctx context.Context, id, fullName, email string, now time.Time) (Account, error)
	UpdateAvatarURL(ctx context.Context, id, url string, now time.Time) (Account, error)
	UpdateCoverImageURL(ctx context.Context, id, url string, now time.Time) (Account, error)
}
