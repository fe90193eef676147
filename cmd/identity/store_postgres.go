package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the credential store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - RotateRefreshFingerprint is fully atomic and serialized via SELECT ... FOR UPDATE
//   on the account row; the fingerprint comparison happens in constant time.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "reel").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "reel",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const accountCols = `id, username, username_norm, email, email_norm,
	full_name, avatar_url, cover_image_url, created_at, updated_at`

// Create inserts a new account row.
func (s *PostgresStore) Create(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.Create"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
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
		return Account{}, fmt.Errorf("%s: new ulid: %w", op, err)
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

	q := fmt.Sprintf(`
		INSERT INTO %s (id, username, username_norm, email, email_norm,
			full_name, avatar_url, cover_image_url, password_hash,
			refresh_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', $10, $10)
	`, s.accountsTable())

	_, err = s.pool.Exec(ctx, q,
		acc.ID, acc.Username, acc.UsernameNorm, acc.Email, acc.EmailNorm,
		acc.FullName, acc.AvatarURL, acc.CoverImageURL, in.PasswordHash, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, pgStoreErr(op, err)
	}

	return acc, nil
}

// FindByID returns the public account record.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.FindByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, pgInvalid(op, "id is required")
	}

	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, accountCols, s.accountsTable())

	acc, err := scanAccount(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, pgStoreErr(op, err)
	}
	return acc, nil
}

// FindAuthByID returns the account including credential material.
func (s *PostgresStore) FindAuthByID(ctx context.Context, id string) (AccountAuth, error) {
	const op = "identity.FindAuthByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return AccountAuth{}, pgInvalid(op, "id is required")
	}

	q := fmt.Sprintf(`SELECT %s, password_hash, refresh_fingerprint FROM %s WHERE id = $1`,
		accountCols, s.accountsTable())

	auth, err := scanAccountAuth(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountAuth{}, NotFoundError{Op: op, Resource: "account"}
		}
		return AccountAuth{}, pgStoreErr(op, err)
	}
	return auth, nil
}

// FindAuthByUsernameOrEmail resolves exactly one identifier.
func (s *PostgresStore) FindAuthByUsernameOrEmail(ctx context.Context, username, email *string) (AccountAuth, error) {
	const op = "identity.FindAuthByUsernameOrEmail"

	username = pgTrimPtr(username)
	email = pgTrimPtr(email)

	if (username == nil) == (email == nil) {
		return AccountAuth{}, pgInvalid(op, "exactly one of username or email is required")
	}

	var (
		col string
		key string
	)
	if username != nil {
		col, key = "username_norm", NormalizeUsername(*username)
	} else {
		col, key = "email_norm", NormalizeEmail(*email)
	}

	q := fmt.Sprintf(`SELECT %s, password_hash, refresh_fingerprint FROM %s WHERE %s = $1`,
		accountCols, s.accountsTable(), col)

	auth, err := scanAccountAuth(s.pool.QueryRow(ctx, q, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountAuth{}, NotFoundError{Op: op, Resource: "account"}
		}
		return AccountAuth{}, pgStoreErr(op, err)
	}
	return auth, nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	id = strings.TrimSpace(id)
	if id == "" {
		return pgInvalid(op, "id is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return pgInvalid(op, "password hash is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`UPDATE %s SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		s.accountsTable())

	tag, err := s.pool.Exec(ctx, q, id, passwordHash, now)
	if err != nil {
		return pgStoreErr(op, err)
	}
	if tag.RowsAffected() != 1 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// ReplaceRefreshFingerprint unconditionally overwrites the stored fingerprint.
func (s *PostgresStore) ReplaceRefreshFingerprint(ctx context.Context, id, fingerprint string, now time.Time) error {
	const op = "identity.ReplaceRefreshFingerprint"

	id = strings.TrimSpace(id)
	if id == "" {
		return pgInvalid(op, "id is required")
	}
	if len(fingerprint) != 64 {
		return pgInvalid(op, "fingerprint must be 64 hex chars")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`UPDATE %s SET refresh_fingerprint = $2, updated_at = $3 WHERE id = $1`,
		s.accountsTable())

	tag, err := s.pool.Exec(ctx, q, id, fingerprint, now)
	if err != nil {
		return pgStoreErr(op, err)
	}
	if tag.RowsAffected() != 1 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// RotateRefreshFingerprint atomically swaps expected -> next.
//
// Security contract:
// - The account row is locked (FOR UPDATE) for the duration of the swap, so
//   concurrent rotations serialize and exactly one wins.
// - Fingerprints are compared in constant time.
// - Every failure mode (missing account, logged out, mismatch) returns the
//   same indistinguishable ErrNotActive.
func (s *PostgresStore) RotateRefreshFingerprint(ctx context.Context, id, expected, next string, now time.Time) error {
	const op = "identity.RotateRefreshFingerprint"

	id = strings.TrimSpace(id)
	if id == "" {
		return pgInvalid(op, "id is required")
	}
	if len(expected) != 64 || len(next) != 64 {
		return pgInvalid(op, "fingerprints must be 64 hex chars")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return pgStoreErr(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(`SELECT refresh_fingerprint FROM %s WHERE id = $1 FOR UPDATE`,
		s.accountsTable())

	var stored string
	if err := tx.QueryRow(ctx, q, id).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notActiveRotate()
		}
		return pgStoreErr(op, err)
	}

	if !ctEqHex64(stored, expected) {
		return notActiveRotate()
	}

	uq := fmt.Sprintf(`UPDATE %s SET refresh_fingerprint = $2, updated_at = $3
		WHERE id = $1 AND refresh_fingerprint = $4`, s.accountsTable())

	tag, err := tx.Exec(ctx, uq, id, next, now, expected)
	if err != nil {
		return pgStoreErr(op, err)
	}
	if tag.RowsAffected() != 1 {
		return notActiveRotate()
	}

	if err := tx.Commit(ctx); err != nil {
		return pgStoreErr(op, err)
	}
	return nil
}

// ClearRefreshFingerprint logs the account out. Idempotent: clearing an
// already empty fingerprint still succeeds.
func (s *PostgresStore) ClearRefreshFingerprint(ctx context.Context, id string, now time.Time) error {
	const op = "identity.ClearRefreshFingerprint"

	id = strings.TrimSpace(id)
	if id == "" {
		return pgInvalid(op, "id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`UPDATE %s SET refresh_fingerprint = '', updated_at = $2 WHERE id = $1`,
		s.accountsTable())

	tag, err := s.pool.Exec(ctx, q, id, now)
	if err != nil {
		return pgStoreErr(op, err)
	}
	if tag.RowsAffected() != 1 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// UpdateProfile replaces the display fields of the account.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id, fullName, email string, now time.Time) (Account, error) {
	const op = "identity.UpdateProfile"

	id = strings.TrimSpace(id)
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)

	switch {
	case id == "":
		return Account{}, pgInvalid(op, "id is required")
	case fullName == "":
		return Account{}, pgInvalid(op, "full name is required")
	case email == "":
		return Account{}, pgInvalid(op, "email is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`UPDATE %s SET full_name = $2, email = $3, email_norm = $4, updated_at = $5
		WHERE id = $1 RETURNING %s`, s.accountsTable(), accountCols)

	acc, err := scanAccount(s.pool.QueryRow(ctx, q, id, fullName, email, NormalizeEmail(email), now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, pgStoreErr(op, err)
	}
	return acc, nil
}

// UpdateAvatarURL replaces the avatar URL.
func (s *PostgresStore) UpdateAvatarURL(ctx context.Context, id, url string, now time.Time) (Account, error) {
	return s.updateImageURL(ctx, "identity.UpdateAvatarURL", "avatar_url", id, url, now, true)
}

// UpdateCoverImageURL replaces the cover image URL. Empty is allowed (no cover).
func (s *PostgresStore) UpdateCoverImageURL(ctx context.Context, id, url string, now time.Time) (Account, error) {
	return s.updateImageURL(ctx, "identity.UpdateCoverImageURL", "cover_image_url", id, url, now, false)
}

func (s *PostgresStore) updateImageURL(ctx context.Context, op, col, id, url string, now time.Time, required bool) (Account, error) {
	id = strings.TrimSpace(id)
	url = strings.TrimSpace(url)

	if id == "" {
		return Account{}, pgInvalid(op, "id is required")
	}
	if required && url == "" {
		return Account{}, pgInvalid(op, "url is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	q := fmt.Sprintf(`UPDATE %s SET %s = $2, updated_at = $3 WHERE id = $1 RETURNING %s`,
		s.accountsTable(), col, accountCols)

	acc, err := scanAccount(s.pool.QueryRow(ctx, q, id, url, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, pgStoreErr(op, err)
	}
	return acc, nil
}

func (s *PostgresStore) accountsTable() string {
	return pgIdent(s.schema, "accounts")
}

// ---- helpers ----

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.UsernameNorm, &a.Email, &a.EmailNorm,
		&a.FullName, &a.AvatarURL, &a.CoverImageURL, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanAccountAuth(row pgx.Row) (AccountAuth, error) {
	var a AccountAuth
	err := row.Scan(&a.ID, &a.Username, &a.UsernameNorm, &a.Email, &a.EmailNorm,
		&a.FullName, &a.AvatarURL, &a.CoverImageURL, &a.CreatedAt, &a.UpdatedAt,
		&a.PasswordHash, &a.RefreshFingerprint)
	return a, err
}

// ctEqHex64 compares two expected 64-char hex strings in constant time.
// Rejects if either length != 64 to keep timing stable (and avoid an oracle
// by length).
func ctEqHex64(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// pgStoreErr maps infrastructure-level failures to ErrUnavailable and wraps
// everything else verbatim. Unavailability is terminal here; retry policy
// belongs to callers.
func pgStoreErr(op string, err error) error {
	if pgIsUnavailable(err) {
		return OpError{Op: op, Kind: ErrUnavailable, Msg: "postgres unavailable"}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgIsUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exceptions; 57P01 = admin shutdown.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names; fall back to heuristic
	// substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_accounts_username_norm":
		return "username", true
	case "uq_accounts_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
