package vision

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"insightpdf/core"
)

// writePNG writes a w x h test image and returns its path.
func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	path := filepath.Join(t.TempDir(), "page_001.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeModel is an OpenAI-compatible chat completions endpoint.
type fakeModel struct {
	server   *httptest.Server
	calls    atomic.Int32
	mu       sync.Mutex
	requests []map[string]any
	// statuses are returned for the first calls; afterwards the reply succeeds.
	statuses []int
	reply    string
}

func newFakeModel(t *testing.T, reply string, statuses ...int) *fakeModel {
	t.Helper()
	f := &fakeModel{reply: reply, statuses: statuses}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeModel) handle(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1))

	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if n <= len(f.statuses) {
		w.WriteHeader(f.statuses[n-1])
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "upstream trouble", "type": "server_error"},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"id":    "chatcmpl-test",
		"model": "fake-vl",
		"choices": []any{map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": f.reply},
		}},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150},
	})
}

func (f *fakeModel) lastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeModel) providerConfig(name string) core.ProviderConfig {
	return core.ProviderConfig{
		Name:      name,
		APIKey:    "test-key",
		BaseURL:   f.server.URL + "/v1",
		Model:     "fake-vl",
		MaxTokens: 4000,
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2}
}
