package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reel/cmd/identity"
	"reel/cmd/internal/media"
	"reel/cmd/security/password"
	"reel/cmd/security/token"
)

// Service orchestrates the credential and token lifecycle over its
// collaborators: the credential store, the token manager, the password
// hasher, and the media uploader. It holds no per-account state of its own.
type Service struct {
	store  identity.Store
	tokens *TokenManager
	media  media.Uploader
	log    *slog.Logger

	// clock is swappable in tests.
	clock func() time.Time
}

// NewService wires a Service. All collaborators are required; pass
// media.Passthrough{} when no media backend is configured.
func NewService(store identity.Store, tokens *TokenManager, uploader media.Uploader, log *slog.Logger) (*Service, error) {
	if store == nil || tokens == nil || uploader == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		tokens: tokens,
		media:  uploader,
		log:    log,
		clock:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// dummyPHC burns an Argon2id verification when the account does not exist,
// keeping login latency independent of account existence.
const dummyPHC = "$argon2id$v=19$m=65536,t=3,p=1$AAAAAAAAAAAAAAAAAAAAAA$JHImSigUqHFWpnqvTDefl6uBskzL3aQFHH+qyBJ75Tw"

// RegisterInput describes a registration request. AvatarRef is a local
// staging reference produced by the upload middleware and is mandatory;
// CoverImageRef is optional.
type RegisterInput struct {
	Username      string
	Email         string
	Password      string
	FullName      string
	AvatarRef     string
	CoverImageRef string
}

// Register validates the input, uploads the images, hashes the password,
// and creates the account. The returned Account is the sanitized public
// shape; it never includes the hash or any token material.
func (s *Service) Register(ctx context.Context, in RegisterInput) (identity.Account, error) {
	const op = "session.Register"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	fullName := strings.TrimSpace(in.FullName)
	avatarRef := strings.TrimSpace(in.AvatarRef)

	switch {
	case username == "":
		return identity.Account{}, svcInvalid(op, "username is required")
	case email == "" || !strings.Contains(email, "@"):
		return identity.Account{}, svcInvalid(op, "a valid email is required")
	case fullName == "":
		return identity.Account{}, svcInvalid(op, "full name is required")
	case in.Password == "":
		return identity.Account{}, svcInvalid(op, "password is required")
	case avatarRef == "":
		return identity.Account{}, svcInvalid(op, "avatar is required")
	}

	hash, err := s.hashPassword(op, in.Password)
	if err != nil {
		return identity.Account{}, err
	}

	avatarURL, err := s.media.Upload(ctx, avatarRef)
	if err != nil {
		s.log.Warn("auth.register.avatar_upload.fail", "err", err)
		return identity.Account{}, svcInvalid(op, "avatar upload failed")
	}

	// Cover art is best-effort: a failed upload degrades to no cover.
	coverURL := ""
	if ref := strings.TrimSpace(in.CoverImageRef); ref != "" {
		coverURL, err = s.media.Upload(ctx, ref)
		if err != nil {
			s.log.Warn("auth.register.cover_upload.fail", "err", err)
			coverURL = ""
		}
	}

	acc, err := s.store.Create(ctx, identity.CreateAccountInput{
		Username:      username,
		Email:         email,
		FullName:      fullName,
		AvatarURL:     avatarURL,
		CoverImageURL: coverURL,
		PasswordHash:  hash,
		Now:           s.clock(),
	})
	if err != nil {
		return identity.Account{}, err
	}

	s.log.Info("auth.register.ok", "account_id", acc.ID)
	return acc, nil
}

// LoginInput carries exactly one identifier plus the password.
type LoginInput struct {
	Username *string
	Email    *string
	Password string
}

// LoginResult couples the sanitized account with the issued token pair.
type LoginResult struct {
	Account identity.Account
	Tokens  TokenPair
}

// Login verifies the password and issues a fresh token pair. The stored
// refresh fingerprint is overwritten unconditionally: a new login displaces
// any previously live refresh token.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	const op = "session.Login"

	if (in.Username == nil) == (in.Email == nil) {
		return LoginResult{}, svcInvalid(op, "exactly one of username or email is required")
	}
	if in.Password == "" {
		return LoginResult{}, svcInvalid(op, "password is required")
	}

	auth, err := s.store.FindAuthByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			// Burn a verification anyway so response timing does not leak
			// account existence.
			_, _ = s.verifyPassword(dummyPHC, in.Password)
		}
		return LoginResult{}, err
	}

	ok, err := s.verifyPassword(auth.PasswordHash, in.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.log.Info("auth.login.fail", "account_id", auth.ID, "reason", "password_mismatch")
		return LoginResult{}, ErrAuthentication
	}

	pair, fingerprint, err := s.issuePair(auth.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.store.ReplaceRefreshFingerprint(ctx, auth.ID, fingerprint, s.clock()); err != nil {
		return LoginResult{}, err
	}

	s.log.Info("auth.login.ok", "account_id", auth.ID)
	return LoginResult{Account: auth.Account, Tokens: pair}, nil
}

// Refresh rotates the refresh token: the presented token must verify under
// the refresh secret AND match the stored fingerprint, atomically. On
// success the presented token is dead and a new pair is live. All failure
// modes collapse to ErrAuthentication.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	const op = "session.Refresh"

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, ErrAuthentication
	}

	// The subject claim locates the account; it is untrusted until the
	// signature check below passes.
	accountID, err := s.tokens.SubjectUnverified(refreshToken)
	if err != nil {
		return TokenPair{}, ErrAuthentication
	}

	if _, err := s.tokens.VerifyRefresh(refreshToken); err != nil {
		s.log.Info("auth.refresh.fail", "account_id", accountID, "reason", reasonOf(err))
		return TokenPair{}, ErrAuthentication
	}

	pair, next, err := s.issuePair(accountID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	presented := token.HashRefreshTokenHex(refreshToken)
	if err := s.store.RotateRefreshFingerprint(ctx, accountID, presented, next, s.clock()); err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) {
			s.log.Info("auth.refresh.fail", "account_id", accountID, "reason", "superseded")
			return TokenPair{}, ErrAuthentication
		}
		return TokenPair{}, err
	}

	s.log.Info("auth.refresh.ok", "account_id", accountID)
	return pair, nil
}

// Logout clears the stored fingerprint. Logging out an already logged-out
// account succeeds.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	const op = "session.Logout"

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return svcInvalid(op, "account id is required")
	}

	if err := s.store.ClearRefreshFingerprint(ctx, accountID, s.clock()); err != nil {
		return err
	}

	s.log.Info("auth.logout.ok", "account_id", accountID)
	return nil
}

// ChangePassword verifies the current password, persists the new hash, and
// logs the account out everywhere (the stored fingerprint is cleared, so
// outstanding refresh tokens die with the old password).
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	const op = "session.ChangePassword"

	accountID = strings.TrimSpace(accountID)
	switch {
	case accountID == "":
		return svcInvalid(op, "account id is required")
	case current == "":
		return svcInvalid(op, "current password is required")
	case next == "":
		return svcInvalid(op, "new password is required")
	}

	auth, err := s.store.FindAuthByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := s.verifyPassword(auth.PasswordHash, current)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		s.log.Info("auth.change_password.fail", "account_id", accountID, "reason", "password_mismatch")
		return ErrAuthentication
	}

	hash, err := s.hashPassword(op, next)
	if err != nil {
		return err
	}

	if err := s.store.UpdatePasswordHash(ctx, accountID, hash, s.clock()); err != nil {
		return err
	}
	if err := s.store.ClearRefreshFingerprint(ctx, accountID, s.clock()); err != nil {
		return err
	}

	s.log.Info("auth.change_password.ok", "account_id", accountID)
	return nil
}

// Authenticate verifies an access token and returns the account id it was
// issued for. Transport middleware builds on this.
func (s *Service) Authenticate(accessToken string) (string, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return "", ErrAuthentication
	}
	return claims.Subject, nil
}

// CurrentAccount resolves an access token to its sanitized account record.
func (s *Service) CurrentAccount(ctx context.Context, accessToken string) (identity.Account, error) {
	accountID, err := s.Authenticate(accessToken)
	if err != nil {
		return identity.Account{}, err
	}
	return s.store.FindByID(ctx, accountID)
}

// UpdateProfile replaces the account display fields.
func (s *Service) UpdateProfile(ctx context.Context, accountID, fullName, email string) (identity.Account, error) {
	const op = "session.UpdateProfile"

	email = strings.TrimSpace(email)
	if email != "" && !strings.Contains(email, "@") {
		return identity.Account{}, svcInvalid(op, "a valid email is required")
	}
	return s.store.UpdateProfile(ctx, accountID, fullName, email, s.clock())
}

// UpdateAvatar uploads a new avatar and persists its URL.
func (s *Service) UpdateAvatar(ctx context.Context, accountID, avatarRef string) (identity.Account, error) {
	const op = "session.UpdateAvatar"

	if strings.TrimSpace(avatarRef) == "" {
		return identity.Account{}, svcInvalid(op, "avatar is required")
	}
	url, err := s.media.Upload(ctx, avatarRef)
	if err != nil {
		s.log.Warn("auth.update_avatar.upload.fail", "account_id", accountID, "err", err)
		return identity.Account{}, svcInvalid(op, "avatar upload failed")
	}
	return s.store.UpdateAvatarURL(ctx, accountID, url, s.clock())
}

// UpdateCoverImage uploads a new cover image and persists its URL. An empty
// ref clears the cover.
func (s *Service) UpdateCoverImage(ctx context.Context, accountID, coverRef string) (identity.Account, error) {
	const op = "session.UpdateCoverImage"

	coverRef = strings.TrimSpace(coverRef)
	if coverRef == "" {
		return s.store.UpdateCoverImageURL(ctx, accountID, "", s.clock())
	}
	url, err := s.media.Upload(ctx, coverRef)
	if err != nil {
		s.log.Warn("auth.update_cover.upload.fail", "account_id", accountID, "err", err)
		return identity.Account{}, svcInvalid(op, "cover upload failed")
	}
	return s.store.UpdateCoverImageURL(ctx, accountID, url, s.clock())
}

// issuePair signs a fresh access+refresh pair and returns the fingerprint
// of the refresh token for storage. Tokens exist only in memory until the
// fingerprint write succeeds.
func (s *Service) issuePair(accountID string) (TokenPair, string, error) {
	now := s.clock()

	access, err := s.tokens.IssueAccess(accountID, now)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, err := s.tokens.IssueRefresh(accountID, now)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{Access: access, Refresh: refresh}, token.HashRefreshTokenHex(refresh.Token), nil
}

// hashPassword maps policy violations to ErrInvalidInput and keeps real
// hashing failures internal.
func (s *Service) hashPassword(op, plain string) (string, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return "", fmt.Errorf("%s: password config: %w", op, err)
	}
	if cfg.Policy.MinLength < 8 {
		cfg.Policy.MinLength = 8
	}

	hash, err := cfg.Hash(plain)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", svcInvalid(op, err.Error())
		default:
			return "", fmt.Errorf("%s: hash password: %w", op, err)
		}
	}
	return hash, nil
}

// verifyPassword distinguishes a mismatch (ok=false) from a corrupt or
// unverifiable stored hash (err != nil).
func (s *Service) verifyPassword(encodedPHC, plain string) (bool, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return false, fmt.Errorf("password config: %w", err)
	}
	return cfg.Verify(encodedPHC, plain)
}

func svcInvalid(op, msg string) error {
	return identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: msg}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "invalid"
	}
}
