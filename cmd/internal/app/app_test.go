package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reel/cmd/internal/media"
)

func testLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNonZeroHelpers(t *testing.T) {
	t.Parallel()

	if got := nonZeroDuration(0, 5*time.Second); got != 5*time.Second {
		t.Fatalf("nonZeroDuration(0)=%v want 5s", got)
	}
	if got := nonZeroDuration(2*time.Second, 5*time.Second); got != 2*time.Second {
		t.Fatalf("nonZeroDuration(2s)=%v want 2s", got)
	}
	if got := nonZeroInt(0, 7); got != 7 {
		t.Fatalf("nonZeroInt(0)=%d want 7", got)
	}
	if got := nonZeroInt(3, 7); got != 3 {
		t.Fatalf("nonZeroInt(3)=%d want 3", got)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), Config{}, nil, false, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d want 200", rr.Code)
	}
}

func TestReadyz_NoDBConfigured(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), Config{}, nil, false, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status=%d want 200 when DB optional", rr.Code)
	}
}

func TestReadyz_RequireDBWithoutDB(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), Config{ReadinessRequireDB: true}, nil, false, nil, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d want 503 when DB required but missing", rr.Code)
	}
}

func TestMetricsEndpointRegistered(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), Config{}, nil, false, nil, NewMetrics())

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d want 200", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("metrics body should not be empty")
	}
}

func TestNewUploader(t *testing.T) {
	t.Parallel()

	log := testLogger()

	if _, ok := newUploader(Config{}, log).(media.Passthrough); !ok {
		t.Fatal("empty media base URL should select the passthrough uploader")
	}

	up, ok := newUploader(Config{MediaBaseURL: "https://media.example.com", MediaFolder: "reel"}, log).(*media.HTTPClient)
	if !ok {
		t.Fatal("configured media base URL should select the HTTP uploader")
	}
	if up.BaseURL != "https://media.example.com" || up.Folder != "reel" {
		t.Fatalf("uploader misconfigured: %+v", up)
	}
}
