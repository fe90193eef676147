package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"reel/cmd/identity"
	"reel/cmd/internal/auth/session"
	"reel/cmd/internal/media"
)

func newTestHandler(t *testing.T, opts ...func(*Config)) *Handler {
	t.Helper()

	t.Setenv("REEL_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("REEL_ARGON2_ITERATIONS", "1")
	t.Setenv("REEL_ARGON2_PARALLELISM", "1")
	t.Setenv("REEL_TOKEN_HMAC_KEY", "")

	scfg := session.DefaultConfig()
	scfg.AccessSecret = strings.Repeat("a", 32)
	scfg.RefreshSecret = strings.Repeat("r", 32)

	tm, err := session.NewTokenManager(scfg)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := session.NewService(identity.NewMemoryStore(), tm, media.Passthrough{}, log)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := DefaultConfig()
	cfg.CookieSecure = false // httptest uses plain HTTP
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := NewHandler(cfg, svc, log)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func serve(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Routes(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func registerAccount(t *testing.T, h *Handler) meResponse {
	t.Helper()

	rr := serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username":   "reelfan",
		"email":      "fan@example.com",
		"password":   "correct-horse-battery",
		"full_name":  "Reel Fan",
		"avatar_ref": "staged/avatar.png",
	}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rr.Code, rr.Body)
	}

	var out meResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return out
}

func loginBody(t *testing.T, h *Handler, platform string) (loginResponse, *httptest.ResponseRecorder) {
	t.Helper()

	rr := serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "reelfan",
		"password": "correct-horse-battery",
		"platform": platform,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rr.Code, rr.Body)
	}

	var out loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return out, rr
}

func TestRegisterAndLogin_BodyTransport(t *testing.T) {
	h := newTestHandler(t)

	created := registerAccount(t, h)
	if created.Account.ID == "" || created.Account.AvatarURL == "" {
		t.Fatalf("created account = %+v", created.Account)
	}

	// Duplicate registration conflicts.
	rr := serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"username": "reelfan", "email": "other@example.com",
		"password": "correct-horse-battery", "full_name": "Dup", "avatar_ref": "a",
	}))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register status = %d", rr.Code)
	}

	res, _ := loginBody(t, h, "ios")
	if res.Tokens.RefreshToken == "" || res.Tokens.AccessToken == "" {
		t.Fatal("body transport must return both tokens")
	}
	if res.CSRFToken != "" {
		t.Fatal("non-web login must not mint a CSRF token")
	}

	// Supplying both identifiers is a validation error, not auth.
	rr = serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "reelfan", "email": "fan@example.com", "password": "correct-horse-battery",
	}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("dual identifier login status = %d", rr.Code)
	}

	rr = serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "reelfan", "password": "wrong-password-here",
	}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rr.Code)
	}

	rr = serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "ghost", "password": "correct-horse-battery",
	}))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d", rr.Code)
	}
}

func TestRefresh_BodyTransport_Rotates(t *testing.T) {
	h := newTestHandler(t)
	registerAccount(t, h)
	res, _ := loginBody(t, h, "android")

	rr := serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", rr.Code, rr.Body)
	}
	var out refreshResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if out.Tokens.RefreshToken == "" || out.Tokens.RefreshToken == res.Tokens.RefreshToken {
		t.Fatal("refresh must mint a new token in the body")
	}

	// The rotated-out token is dead.
	rr = serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh status = %d", rr.Code)
	}
}

func TestRefresh_CookieTransport_RequiresCSRF(t *testing.T) {
	h := newTestHandler(t)
	registerAccount(t, h)
	res, rr := loginBody(t, h, "web")

	if res.Tokens.RefreshToken != "" {
		t.Fatal("web login must not put the refresh token in the body")
	}
	if res.CSRFToken == "" {
		t.Fatal("web login must mint a CSRF token")
	}

	cookies := rr.Result().Cookies()
	var refreshCookie, csrfCookie *http.Cookie
	for _, c := range cookies {
		switch c.Name {
		case h.cfg.RefreshCookieName:
			refreshCookie = c
		case h.cfg.CSRFCookieName:
			csrfCookie = c
		}
	}
	if refreshCookie == nil || !refreshCookie.HttpOnly {
		t.Fatalf("refresh cookie = %+v, want HttpOnly", refreshCookie)
	}
	if csrfCookie == nil || csrfCookie.HttpOnly {
		t.Fatalf("csrf cookie = %+v, want page-readable", csrfCookie)
	}

	// No CSRF header: rejected before the store is consulted.
	req := jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{})
	req.AddCookie(refreshCookie)
	req.AddCookie(csrfCookie)
	if got := serve(t, h, req); got.Code != http.StatusForbidden {
		t.Fatalf("cookie refresh without CSRF header status = %d", got.Code)
	}

	req = jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{})
	req.AddCookie(refreshCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set(h.cfg.CSRFHeaderName, res.CSRFToken)
	got := serve(t, h, req)
	if got.Code != http.StatusOK {
		t.Fatalf("cookie refresh status = %d, body = %s", got.Code, got.Body)
	}

	var out refreshResponse
	if err := json.Unmarshal(got.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if out.Tokens.RefreshToken != "" {
		t.Fatal("cookie transport must keep the refresh token out of the body")
	}
	if out.CSRFToken == "" || out.CSRFToken == res.CSRFToken {
		t.Fatal("rotation must mint a fresh CSRF token")
	}
}

func TestMeLogoutChangePassword(t *testing.T) {
	h := newTestHandler(t)
	created := registerAccount(t, h)
	res, _ := loginBody(t, h, "ios")

	authed := func(method, path string, body any) *http.Request {
		var req *http.Request
		if body != nil {
			req = jsonRequest(t, method, path, body)
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)
		return req
	}

	rr := serve(t, h, authed(http.MethodGet, "/api/v1/me", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("me status = %d", rr.Code)
	}
	var me meResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &me)
	if me.Account.ID != created.Account.ID {
		t.Fatalf("me = %+v", me.Account)
	}

	if rr := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me status = %d", rr.Code)
	}

	rr = serve(t, h, authed(http.MethodPost, "/api/v1/auth/change-password", map[string]string{
		"current_password": "correct-horse-battery",
		"new_password":     "new-horse-battery-staple",
	}))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("change-password status = %d, body = %s", rr.Code, rr.Body)
	}

	// Outstanding refresh token died with the password.
	rr = serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": res.Tokens.RefreshToken,
	}))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after password change status = %d", rr.Code)
	}

	res, _ = func() (loginResponse, *httptest.ResponseRecorder) {
		rr := serve(t, h, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"username": "reelfan", "password": "new-horse-battery-staple",
		}))
		if rr.Code != http.StatusOK {
			t.Fatalf("login with new password status = %d", rr.Code)
		}
		var out loginResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
		return out, rr
	}()

	rr = serve(t, h, authed(http.MethodPost, "/api/v1/auth/logout", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d", rr.Code)
	}
	// Idempotent at the transport level too.
	if rr := serve(t, h, authed(http.MethodPost, "/api/v1/auth/logout", nil)); rr.Code != http.StatusNoContent {
		t.Fatalf("second logout status = %d", rr.Code)
	}
}

func TestUpdateProfileAndImages(t *testing.T) {
	h := newTestHandler(t)
	registerAccount(t, h)
	res, _ := loginBody(t, h, "ios")

	req := jsonRequest(t, http.MethodPatch, "/api/v1/me", map[string]string{
		"full_name": "Reel Superfan", "email": "superfan@example.com",
	})
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)
	rr := serve(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update profile status = %d, body = %s", rr.Code, rr.Body)
	}

	req = jsonRequest(t, http.MethodPatch, "/api/v1/me/avatar", map[string]string{"ref": "staged/new.png"})
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)
	rr = serve(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update avatar status = %d, body = %s", rr.Code, rr.Body)
	}
	var me meResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &me)
	if me.Account.AvatarURL != "staged/new.png" {
		t.Fatalf("avatar url = %q", me.Account.AvatarURL)
	}
}

func multipartRegisterRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for field, name := range files {
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create file %s: %v", field, err)
		}
		if _, err := fw.Write([]byte("not-really-a-png")); err != nil {
			t.Fatalf("write file %s: %v", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRegisterMultipart_RemovesStagedFiles(t *testing.T) {
	dir := t.TempDir()
	h := newTestHandler(t, func(cfg *Config) { cfg.UploadDir = dir })

	fields := map[string]string{
		"username":  "reelfan",
		"email":     "fan@example.com",
		"password":  "nope", // fails the password policy after staging
		"full_name": "Reel Fan",
	}
	files := map[string]string{"avatar": "avatar.png", "cover_image": "cover.png"}

	rr := serve(t, h, multipartRegisterRequest(t, fields, files))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("register status = %d, body = %s", rr.Code, rr.Body)
	}
	assertDirEmpty(t, dir)

	fields["password"] = "correct-horse-battery"
	rr = serve(t, h, multipartRegisterRequest(t, fields, files))
	if rr.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", rr.Code, rr.Body)
	}
	assertDirEmpty(t, dir)
}

func TestUpdateAvatarMultipart_RemovesStagedFile(t *testing.T) {
	dir := t.TempDir()
	h := newTestHandler(t, func(cfg *Config) { cfg.UploadDir = dir })
	registerAccount(t, h)
	res, _ := loginBody(t, h, "android")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("avatar", "new.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("not-really-a-png")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/me/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+res.Tokens.AccessToken)

	rr := serve(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("update avatar status = %d, body = %s", rr.Code, rr.Body)
	}
	assertDirEmpty(t, dir)
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir should be empty, found %d entries", len(entries))
	}
}
