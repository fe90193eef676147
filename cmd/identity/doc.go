// Package identity implements Reel's account and credential foundation.
//
// It contains the Account model, the credential store boundary used by the
// session and HTTP layers, and the Postgres and in-memory implementations.
//
// This package is intentionally dependency-light and security-first.
package identity
