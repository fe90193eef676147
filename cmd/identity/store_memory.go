package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev-only fallback when Postgres is not configured, and
// the store double used by unit tests. It honors the same Store contract as
// PostgresStore, including CAS rotation and conflict classification.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*AccountAuth // id -> account
	byUser   map[string]string       // username_norm -> id
	byEmail  map[string]string       // email_norm -> id
}

// NewMemoryStore constructs an empty in-memory Store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*AccountAuth),
		byUser:   make(map[string]string),
		byEmail:  make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	avatarURL := strings.TrimSpace(in.AvatarURL)

	switch {
	case username == "":
		return Account{}, pgInvalid(op, "username is required")
	case email == "":
		return Account{}, pgInvalid(op, "email is required")
	case fullName == "":
		return Account{}, pgInvalid(op, "full name is required")
	case avatarURL == "":
		return Account{}, pgInvalid(op, "avatar url is required")
	case strings.TrimSpace(in.PasswordHash) == "":
		return Account{}, pgInvalid(op, "password hash is required")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewULID(now)
	if err != nil {
		return Account{}, err
	}

	acc := Account{
		ID:            id,
		Username:      username,
		UsernameNorm:  NormalizeUsername(username),
		Email:         email,
		EmailNorm:     NormalizeEmail(email),
		FullName:      fullName,
		AvatarURL:     avatarURL,
		CoverImageURL: strings.TrimSpace(in.CoverImageURL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byUser[acc.UsernameNorm]; taken {
		return Account{}, ConflictError{Op: op, Field: "username"}
	}
	if _, taken := m.byEmail[acc.EmailNorm]; taken {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}

	m.accounts[id] = &AccountAuth{Account: acc, PasswordHash: in.PasswordHash}
	m.byUser[acc.UsernameNorm] = id
	m.byEmail[acc.EmailNorm] = id

	return acc, nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (Account, error) {
	auth, err := m.FindAuthByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return auth.Account, nil
}

func (m *MemoryStore) FindAuthByID(ctx context.Context, id string) (AccountAuth, error) {
	const op = "identity.FindAuthByID"

	if err := ctx.Err(); err != nil {
		return AccountAuth{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[strings.TrimSpace(id)]
	if !ok {
		return AccountAuth{}, NotFoundError{Op: op, Resource: "account"}
	}
	return *a, nil
}

func (m *MemoryStore) FindAuthByUsernameOrEmail(ctx context.Context, username, email *string) (AccountAuth, error) {
	const op = "identity.FindAuthByUsernameOrEmail"

	if err := ctx.Err(); err != nil {
		return AccountAuth{}, err
	}

	username = pgTrimPtr(username)
	email = pgTrimPtr(email)
	if (username == nil) == (email == nil) {
		return AccountAuth{}, pgInvalid(op, "exactly one of username or email is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		id string
		ok bool
	)
	if username != nil {
		id, ok = m.byUser[NormalizeUsername(*username)]
	} else {
		id, ok = m.byEmail[NormalizeEmail(*email)]
	}
	if !ok {
		return AccountAuth{}, NotFoundError{Op: op, Resource: "account"}
	}
	return *m.accounts[id], nil
}

func (m *MemoryStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "password hash is required")
	}

	return m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		a.PasswordHash = passwordHash
		return nil
	})
}

func (m *MemoryStore) ReplaceRefreshFingerprint(ctx context.Context, id, fingerprint string, now time.Time) error {
	const op = "identity.ReplaceRefreshFingerprint"

	if len(fingerprint) != 64 {
		return pgInvalid(op, "fingerprint must be 64 hex chars")
	}

	return m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		a.RefreshFingerprint = fingerprint
		return nil
	})
}

func (m *MemoryStore) RotateRefreshFingerprint(ctx context.Context, id, expected, next string, now time.Time) error {
	const op = "identity.RotateRefreshFingerprint"

	if len(expected) != 64 || len(next) != 64 {
		return pgInvalid(op, "fingerprints must be 64 hex chars")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[strings.TrimSpace(id)]
	if !ok {
		return notActiveRotate()
	}
	if !ctEqHex64(a.RefreshFingerprint, expected) {
		return notActiveRotate()
	}

	a.RefreshFingerprint = next
	a.UpdatedAt = memNow(now)
	return nil
}

func (m *MemoryStore) ClearRefreshFingerprint(ctx context.Context, id string, now time.Time) error {
	const op = "identity.ClearRefreshFingerprint"

	return m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		a.RefreshFingerprint = ""
		return nil
	})
}

func (m *MemoryStore) UpdateProfile(ctx context.Context, id, fullName, email string, now time.Time) (Account, error) {
	const op = "identity.UpdateProfile"

	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" {
		return Account{}, pgInvalid(op, "full name is required")
	}
	if email == "" {
		return Account{}, pgInvalid(op, "email is required")
	}

	var out Account
	err := m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		norm := NormalizeEmail(email)
		if other, taken := m.byEmail[norm]; taken && other != a.ID {
			return ConflictError{Op: op, Field: "email"}
		}
		delete(m.byEmail, a.EmailNorm)
		a.FullName = fullName
		a.Email = email
		a.EmailNorm = norm
		m.byEmail[norm] = a.ID
		out = a.Account
		return nil
	})
	return out, err
}

func (m *MemoryStore) UpdateAvatarURL(ctx context.Context, id, url string, now time.Time) (Account, error) {
	const op = "identity.UpdateAvatarURL"

	url = strings.TrimSpace(url)
	if url == "" {
		return Account{}, pgInvalid(op, "url is required")
	}

	var out Account
	err := m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		a.AvatarURL = url
		out = a.Account
		return nil
	})
	return out, err
}

func (m *MemoryStore) UpdateCoverImageURL(ctx context.Context, id, url string, now time.Time) (Account, error) {
	const op = "identity.UpdateCoverImageURL"

	var out Account
	err := m.mutate(ctx, op, id, now, func(a *AccountAuth) error {
		a.CoverImageURL = strings.TrimSpace(url)
		out = a.Account
		return nil
	})
	return out, err
}

// mutate applies fn to the account under the store lock, bumping UpdatedAt.
// It returns NotFoundError when the account is missing and never applies a
// partial write: fn either succeeds or the record is untouched.
func (m *MemoryStore) mutate(ctx context.Context, op, id string, now time.Time, fn func(*AccountAuth) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[strings.TrimSpace(id)]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}

	cp := *a
	if err := fn(&cp); err != nil {
		return err
	}
	cp.UpdatedAt = memNow(now)
	*a = cp
	return nil
}

func memNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now
}
