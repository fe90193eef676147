package identity

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when REEL_DATABASE_URL is set. In non-CI
// runs, an unset URL skips these tests to keep local runs fast.

func pgTestStore(ctx context.Context, t *testing.T) *PostgresStore {
	t.Helper()

	dbURL := os.Getenv("REEL_DATABASE_URL")
	if dbURL == "" {
		t.Skip("REEL_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	st, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return st
}

func pgTestAccount(ctx context.Context, t *testing.T, st *PostgresStore) Account {
	t.Helper()

	suffix := strings.ToLower(mustULID(t))
	acc, err := st.Create(ctx, CreateAccountInput{
		Username:     "it_" + suffix,
		Email:        "it_" + suffix + "@example.test",
		FullName:     "Integration Probe",
		AvatarURL:    "https://cdn.example.test/avatar.png",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=1$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return acc
}

func mustULID(t *testing.T) string {
	t.Helper()
	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	return id
}

func TestPostgresStore_CreateAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := pgTestStore(ctx, t)
	acc := pgTestAccount(ctx, t, st)

	got, err := st.FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.UsernameNorm != acc.UsernameNorm {
		t.Fatalf("FindByID returned %q, want %q", got.UsernameNorm, acc.UsernameNorm)
	}

	auth, err := st.FindAuthByUsernameOrEmail(ctx, &acc.Username, nil)
	if err != nil {
		t.Fatalf("FindAuthByUsernameOrEmail: %v", err)
	}
	if auth.RefreshFingerprint != "" {
		t.Fatalf("fresh account must start logged out, fingerprint = %q", auth.RefreshFingerprint)
	}

	_, err = st.Create(ctx, CreateAccountInput{
		Username:     acc.Username,
		Email:        "other_" + acc.EmailNorm,
		FullName:     "Dup",
		AvatarURL:    "https://cdn.example.test/a.png",
		PasswordHash: "x",
	})
	if !IsConflict(err) {
		t.Fatalf("duplicate username: err = %v, want conflict", err)
	}
}

func TestPostgresStore_RotateRefreshFingerprint_CAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := pgTestStore(ctx, t)
	acc := pgTestAccount(ctx, t, st)
	now := time.Now().UTC()

	fpA := strings.Repeat("a", 64)
	fpB := strings.Repeat("b", 64)
	fpC := strings.Repeat("c", 64)

	if err := st.RotateRefreshFingerprint(ctx, acc.ID, fpA, fpB, now); !IsNotActive(err) {
		t.Fatalf("rotate while logged out: err = %v, want not active", err)
	}

	if err := st.ReplaceRefreshFingerprint(ctx, acc.ID, fpA, now); err != nil {
		t.Fatalf("ReplaceRefreshFingerprint: %v", err)
	}
	if err := st.RotateRefreshFingerprint(ctx, acc.ID, fpA, fpB, now); err != nil {
		t.Fatalf("RotateRefreshFingerprint: %v", err)
	}
	if err := st.RotateRefreshFingerprint(ctx, acc.ID, fpA, fpC, now); !IsNotActive(err) {
		t.Fatalf("stale rotate: err = %v, want not active", err)
	}

	if err := st.ClearRefreshFingerprint(ctx, acc.ID, now); err != nil {
		t.Fatalf("ClearRefreshFingerprint: %v", err)
	}
	if err := st.ClearRefreshFingerprint(ctx, acc.ID, now); err != nil {
		t.Fatalf("repeated clear must stay a success: %v", err)
	}
}
