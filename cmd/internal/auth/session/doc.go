// Package session implements Reel's credential and token lifecycle.
//
// It owns registration, login, refresh rotation, logout, and password
// change. Access and refresh tokens are short-lived signed JWTs (HS256) with
// independent secrets; the server never stores a refresh token, only the
// fingerprint of the single currently valid one per account (HMAC-SHA256
// when REEL_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev/back-compat).
//
// Presenting a refresh token that verifies cryptographically but does not
// match the stored fingerprint fails authentication: issuing a new one
// invalidates every predecessor.
//
// Transport (HTTP) integration is intentionally out of scope here.
package session
