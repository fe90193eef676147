package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func stageFile(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not-really-a-png"), 0o600); err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return path
}

func TestHTTPClient_Upload_Succeeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"secure_url": "https://cdn.example.test/u/42.png"})
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "test-key"}
	ref := stageFile(t, "avatar.png")

	url, err := c.Upload(context.Background(), ref)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example.test/u/42.png" {
		t.Fatalf("url = %q", url)
	}
	if _, err := os.Stat(ref); !os.IsNotExist(err) {
		t.Fatal("staging file must be removed after upload")
	}
}

func TestHTTPClient_Upload_BackendRejects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "unsupported format"}})
	}))
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL}

	_, err := c.Upload(context.Background(), stageFile(t, "avatar.bmp"))
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
}

func TestHTTPClient_Upload_MissingStagingFile(t *testing.T) {
	t.Parallel()

	c := &HTTPClient{BaseURL: "http://127.0.0.1:0"}
	if _, err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "gone.png")); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("err = %v, want ErrUploadFailed", err)
	}
}

func TestPassthrough_Upload(t *testing.T) {
	t.Parallel()

	url, err := Passthrough{}.Upload(context.Background(), "local/ref.png")
	if err != nil || url != "local/ref.png" {
		t.Fatalf("Upload = %q, %v", url, err)
	}
	if _, err := (Passthrough{}).Upload(context.Background(), ""); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("empty ref: err = %v", err)
	}
}
