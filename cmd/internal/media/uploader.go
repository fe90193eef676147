// Package media uploads user-provided images (avatars, cover art) to the
// configured media backend and returns their public URLs.
//
// The backend is an HTTP upload API configured explicitly at construction
// time; there is no ambient SDK state and no env reads at import time.
package media

import (
	"context"
	"errors"
)

// ErrUploadFailed is returned when the media backend rejects or loses an
// upload. Callers decide whether the upload was mandatory.
var ErrUploadFailed = errors.New("media upload failed")

// Uploader pushes the file behind a local staging reference and returns the
// public URL it ended up at.
type Uploader interface {
	Upload(ctx context.Context, ref string) (string, error)
}

// Passthrough is the dev fallback when no media backend is configured. It
// "uploads" by returning the reference unchanged.
type Passthrough struct{}

func (Passthrough) Upload(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", ErrUploadFailed
	}
	return ref, nil
}
