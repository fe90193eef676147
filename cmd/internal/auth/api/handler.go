package authapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"reel/cmd/identity"
	"reel/cmd/internal/auth/session"
)

// Handler is the HTTP surface of the session subsystem.
type Handler struct {
	cfg Config
	svc *session.Service
	log *slog.Logger
}

// NewHandler wires the transport around a session service.
func NewHandler(cfg Config, svc *session.Service, log *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{cfg: cfg, svc: svc, log: log}, nil
}

// Routes registers all auth and account endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", h.handleLogout)
	mux.HandleFunc("POST /api/v1/auth/change-password", h.handleChangePassword)

	mux.HandleFunc("GET /api/v1/me", h.handleMe)
	mux.HandleFunc("PATCH /api/v1/me", h.handleUpdateProfile)
	mux.HandleFunc("PATCH /api/v1/me/avatar", h.handleUpdateAvatar)
	mux.HandleFunc("PATCH /api/v1/me/cover", h.handleUpdateCover)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in session.RegisterInput

	if isMultipart(r) {
		if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed multipart form")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		defer func() { removeStaged(in.AvatarRef, in.CoverImageRef) }()

		in.Username = r.FormValue("username")
		in.Email = r.FormValue("email")
		in.Password = r.FormValue("password")
		in.FullName = r.FormValue("full_name")

		var err error
		if in.AvatarRef, err = h.stageUpload(r, "avatar"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "avatar upload is malformed")
			return
		}
		if in.CoverImageRef, err = h.stageUpload(r, "cover_image"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "cover upload is malformed")
			return
		}
	} else {
		var req registerRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
			return
		}
		in = session.RegisterInput{
			Username:      req.Username,
			Email:         req.Email,
			Password:      req.Password,
			FullName:      req.FullName,
			AvatarRef:     req.AvatarRef,
			CoverImageRef: req.CoverImageRef,
		}
	}

	acc, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meResponse{Account: toAccountResponse(acc)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	res, err := h.svc.Login(r.Context(), session.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	useCookies := h.shouldUseWebCookieTransport(req.Platform)
	out := loginResponse{
		Account: toAccountResponse(res.Account),
		Tokens:  toTokenResponse(res.Tokens, !useCookies),
	}
	if useCookies {
		csrf, err := h.setWebSessionCookies(w, res.Tokens.Refresh.Token, res.Tokens.Refresh.ExpiresAt)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		out.CSRFToken = csrf
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if refreshToken == "" {
		if v, ok := h.refreshTokenFromCookie(r); ok {
			refreshToken = v
			fromCookie = true
		}
	}

	// Cookie-delivered tokens ride on ambient browser state, so they need
	// the CSRF double-submit proof. Body-delivered tokens do not.
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_failed", "missing or invalid CSRF token")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrAuthentication) && fromCookie {
			h.clearWebSessionCookies(w)
		}
		h.writeDomainError(w, err)
		return
	}

	useCookies := fromCookie || h.shouldUseWebCookieTransport(req.Platform)
	out := refreshResponse{Tokens: toTokenResponse(pair, !useCookies)}
	if useCookies {
		csrf, err := h.setWebSessionCookies(w, pair.Refresh.Token, pair.Refresh.ExpiresAt)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		out.CSRFToken = csrf
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.svc.Logout(r.Context(), accountID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	if err := h.svc.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeDomainError(w, err)
		return
	}
	// The fingerprint died with the old password; web cookies go with it.
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication_failed", "missing bearer token")
		return
	}

	acc, err := h.svc.CurrentAccount(r.Context(), tok)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acc)})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	acc, err := h.svc.UpdateProfile(r.Context(), accountID, req.FullName, req.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acc)})
}

func (h *Handler) handleUpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "avatar", h.svc.UpdateAvatar)
}

func (h *Handler) handleUpdateCover(w http.ResponseWriter, r *http.Request) {
	h.handleImageUpdate(w, r, "cover_image", h.svc.UpdateCoverImage)
}

func (h *Handler) handleImageUpdate(w http.ResponseWriter, r *http.Request, field string,
	update func(ctx context.Context, accountID, ref string) (identity.Account, error)) {
	accountID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var ref string
	if isMultipart(r) {
		if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed multipart form")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		defer func() { removeStaged(ref) }()

		var err error
		if ref, err = h.stageUpload(r, field); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "upload is malformed")
			return
		}
	} else {
		var req imageRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
			return
		}
		ref = req.Ref
	}

	acc, err := update(r.Context(), accountID, ref)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acc)})
}

// authenticate resolves the bearer access token to an account id, writing
// the 401 itself when absent or dead.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	tok, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication_failed", "missing bearer token")
		return "", false
	}
	accountID, err := h.svc.Authenticate(tok)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication_failed", "authentication failed")
		return "", false
	}
	return accountID, true
}

// stageUpload copies the named multipart file into the staging directory
// and returns its path for the media uploader. A missing file part is not
// an error here; requiredness is the service's rule.
func (h *Handler) stageUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}
	defer func() { _ = file.Close() }()

	ext := filepath.Ext(header.Filename)
	dst, err := os.CreateTemp(h.cfg.UploadDir, "reel-upload-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// removeStaged deletes handler-staged upload files once the request is done.
// The media uploader removes files it consumed, so a missing file here is
// the normal case; this covers requests rejected after staging and the
// passthrough uploader, which consumes nothing.
func removeStaged(refs ...string) {
	for _, ref := range refs {
		if ref != "" {
			_ = os.Remove(ref)
		}
	}
}

// writeDomainError maps domain errors onto the API status contract.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var conflict identity.ConflictError

	switch {
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", invalidInputMessage(err))
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", fmt.Sprintf("%s is already taken", conflict.Field))
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", "resource already exists")
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "account not found")
	case errors.Is(err, session.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "authentication_failed", "authentication failed")
	case identity.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "try again later")
	default:
		h.log.Error("auth.api.internal", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// invalidInputMessage surfaces the operator-safe validation detail when the
// error carries one.
func invalidInputMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid input"
}
