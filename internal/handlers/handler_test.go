package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/koios/trmnl-server/internal/clock"
	"github.com/koios/trmnl-server/internal/config"
	"github.com/koios/trmnl-server/internal/display"
	"github.com/koios/trmnl-server/internal/provider"
	"github.com/koios/trmnl-server/internal/token"
	"github.com/koios/trmnl-server/pkg/models"
	"go.uber.org/zap"
)

const (
	issuedAt         = 1234567890
	expectedFilename = "39bf95b5a576efb89503cf3ed2bafb5a8fb7ac8f12db7bf9164442abb7fbacdd.bmp"
	expectedImageURL = "http://example.localhost/display/" + expectedFilename + "?friendly-id=fake_friendly_id&timestamp=1234567890"
)

const whiteTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="800" height="480">
  <rect x="0" y="0" width="800" height="480" fill="white"/>
</svg>`

const labelTemplate = `<svg xmlns="http://www.w3.org/2000/svg" width="800" height="480">
  <rect x="0" y="0" width="800" height="480" fill="white"/>
  <text x="20" y="60" font-size="32" fill="black">{{ .stub.label }}</text>
</svg>`

const testConfig = `
base_url: http://example.localhost
display_image_timeout: 60
refresh_rate: 3600
templates_path: %TEMPLATES%
devices:
  - mac_address: "00:00:00:00:00:01"
    friendly_id: fake_friendly_id
    api_key: fake_api_key
    setup_expiry: "2999-01-01T00:00:00Z"
  - mac_address: "00:00:00:00:00:02"
    friendly_id: expired_friendly_id
    api_key: expired_api_key
    setup_expiry: "2000-01-01T00:00:00Z"
  - mac_address: "00:00:00:00:00:03"
    friendly_id: playlist_friendly_id
    api_key: playlist_api_key
    setup_expiry: "2999-01-01T00:00:00Z"
    playlist:
      - template: label.svg.tmpl
        contexts: [stub]
    contexts:
      stub:
        label: hello
  - mac_address: "00:00:00:00:00:04"
    friendly_id: broken_friendly_id
    api_key: broken_api_key
    setup_expiry: "2999-01-01T00:00:00Z"
    playlist:
      - template: default.svg.tmpl
        contexts: [calendar]
  - mac_address: "00:00:00:00:00:05"
    friendly_id: misconfigured_friendly_id
    api_key: misconfigured_api_key
    setup_expiry: "next tuesday"
`

// stubProvider echoes its label setting
type stubProvider struct {
	calls atomic.Int64
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Resolve(_ context.Context, settings map[string]string) (any, error) {
	p.calls.Add(1)
	return map[string]string{"label": settings["label"]}, nil
}

type testEnv struct {
	dir          string
	templatesDir string
	configPath   string
	clock        *clock.Fake
	stub         *stubProvider
	router       *mux.Router
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	templatesDir := filepath.Join(dir, "templates")
	if err := os.MkdirAll(templatesDir, 0755); err != nil {
		t.Fatalf("Failed to create templates directory: %v", err)
	}
	writeFile(t, filepath.Join(templatesDir, "default.svg.tmpl"), whiteTemplate)
	writeFile(t, filepath.Join(templatesDir, "label.svg.tmpl"), labelTemplate)

	env := &testEnv{
		dir:          dir,
		templatesDir: templatesDir,
		configPath:   filepath.Join(dir, "config.yaml"),
		clock:        clock.NewFake(time.Unix(issuedAt, 0)),
		stub:         &stubProvider{},
	}
	env.writeConfig(t, "")

	logger := zap.NewNop()
	store := config.NewStore(env.configPath)

	renderers, err := display.NewHolder(func() (*display.Renderer, error) {
		cfg, err := store.Load()
		if err != nil {
			return nil, err
		}
		return display.NewRenderer(cfg.TemplatesPath, cfg.FontsPath)
	})
	if err != nil {
		t.Fatalf("Failed to load renderer: %v", err)
	}

	pool := display.NewWorkerPool(2, logger)
	pool.Start()
	t.Cleanup(pool.Stop)

	assembler := provider.NewAssembler(provider.NewRegistry(env.stub), logger)
	attempts := token.NewMemoryAttemptTracker(env.clock, time.Minute, 3)

	service := NewDisplayService(store, renderers, pool, assembler, attempts, env.clock, logger)
	env.router = NewRouter(NewHandler(service, store, renderers, logger))
	return env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// writeConfig rewrites the config file, appending extra top level keys
func (e *testEnv) writeConfig(t *testing.T, extra string) {
	t.Helper()
	content := strings.ReplaceAll(testConfig, "%TEMPLATES%", e.templatesDir) + extra
	writeFile(t, e.configPath, content)
}

func (e *testEnv) do(t *testing.T, method, target string, headers http.Header, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, target string, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodGet, target, headers, nil)
}

func setupHeaders(mac string) http.Header {
	h := http.Header{}
	h.Set("ID", mac)
	h.Set("FW-Version", "1.5.2")
	return h
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	w := env.get(t, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Service != "trmnl-server" {
		t.Errorf("Unexpected health response: %+v", resp)
	}
}

// fakeHealth fails its ping when err is set
type fakeHealth struct {
	err error
}

func (f fakeHealth) Ping(context.Context) error { return f.err }

func TestHealth_DependencyCheck(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		router := NewRouter(NewHandler(nil, nil, nil, zap.NewNop()).WithHealthCheck(fakeHealth{}))
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		check := fakeHealth{err: errors.New("connection refused")}
		router := NewRouter(NewHandler(nil, nil, nil, zap.NewNop()).WithHealthCheck(check))
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected status 503, got %d", w.Code)
		}
		var resp models.HealthResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.Status != "unhealthy" || resp.Error != "connection refused" {
			t.Errorf("Unexpected health response: %+v", resp)
		}
	})
}

func TestSetup(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("known device", func(t *testing.T) {
		w := env.get(t, "/api/setup/", setupHeaders("00:00:00:00:00:01"))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		body := decodeJSON(t, w)
		want := map[string]interface{}{
			"status":      float64(200),
			"api_key":     "fake_api_key",
			"friendly_id": "fake_friendly_id",
			"image_url":   "http://example.localhost/setup_image.bmp",
			"message":     "Success",
		}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, want %v", k, body[k], v)
			}
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		w := env.get(t, "/api/setup/", setupHeaders("ff:ff:ff:ff:ff:ff"))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		body := decodeJSON(t, w)
		if body["status"] != float64(404) {
			t.Errorf("status = %v, want 404", body["status"])
		}
		if v, ok := body["api_key"]; !ok || v != nil {
			t.Errorf("api_key = %v, want null", v)
		}
		if v, ok := body["friendly_id"]; !ok || v != nil {
			t.Errorf("friendly_id = %v, want null", v)
		}
		if body["message"] != "No device config found for MAC=ff:ff:ff:ff:ff:ff" {
			t.Errorf("message = %v", body["message"])
		}
		if body["image_url"] != "http://example.localhost/setup_image.bmp" {
			t.Errorf("image_url = %v", body["image_url"])
		}
	})

	t.Run("expired setup", func(t *testing.T) {
		w := env.get(t, "/api/setup/", setupHeaders("00:00:00:00:00:02"))
		if w.Code != http.StatusForbidden {
			t.Fatalf("Expected status 403, got %d", w.Code)
		}
		want := "Attempted setup after expiry: friendly_id=expired_friendly_id setup_expiry=2000-01-01T00:00:00Z"
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("Body %q does not contain %q", w.Body.String(), want)
		}
	})

	t.Run("unparseable setup expiry", func(t *testing.T) {
		w := env.get(t, "/api/setup/", setupHeaders("00:00:00:00:00:05"))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d: %s", w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), "invalid setup expiry") {
			t.Errorf("Unexpected body %q", w.Body.String())
		}
		if strings.Contains(w.Body.String(), "next tuesday") {
			t.Errorf("Body leaks the parse error: %q", w.Body.String())
		}
	})

	t.Run("missing header", func(t *testing.T) {
		h := setupHeaders("00:00:00:00:00:01")
		h.Del("FW-Version")
		w := env.get(t, "/api/setup/", h)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", w.Code)
		}
	})
}

func TestDisplay(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("issues image url", func(t *testing.T) {
		w := env.get(t, "/api/display", displayHeaders())
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}

		body := decodeJSON(t, w)
		want := map[string]interface{}{
			"filename":          expectedFilename,
			"image_url":         expectedImageURL,
			"image_url_timeout": float64(60),
			"refresh_rate":      float64(3600),
			"special_function":  "sleep",
			"status":            float64(0),
		}
		if len(body) != len(want) {
			t.Errorf("Response has keys %v, want exactly %v", body, want)
		}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, want %v", k, body[k], v)
			}
		}
	})

	t.Run("unknown access token", func(t *testing.T) {
		h := displayHeaders()
		h.Set("Access-Token", "nope")
		w := env.get(t, "/api/display", h)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		h := displayHeaders()
		h.Del("Battery-Voltage")
		w := env.get(t, "/api/display", h)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "missing Battery-Voltage header") {
			t.Errorf("Unexpected body %q", w.Body.String())
		}
	})
}

func TestImage(t *testing.T) {
	t.Run("valid url renders bitmap", func(t *testing.T) {
		env := setupTestEnv(t)

		w := env.get(t, "/display/"+expectedFilename+"?friendly-id=fake_friendly_id&timestamp=1234567890", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/bmp" {
			t.Errorf("Content-Type = %q, want image/bmp", ct)
		}
		if w.Body.Len() != display.ImageSize {
			t.Fatalf("Body length = %d, want %d", w.Body.Len(), display.ImageSize)
		}
		if !bytes.Equal(w.Body.Bytes()[:display.HeaderSize], display.BlankBitmap()[:display.HeaderSize]) {
			t.Error("Bitmap header does not match the reference header")
		}
	})

	t.Run("url from check-in is accepted", func(t *testing.T) {
		env := setupTestEnv(t)

		body := decodeJSON(t, env.get(t, "/api/display", displayHeaders()))
		u, err := url.Parse(body["image_url"].(string))
		if err != nil {
			t.Fatalf("Invalid image_url: %v", err)
		}

		w := env.get(t, u.RequestURI(), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("expiry boundary", func(t *testing.T) {
		env := setupTestEnv(t)
		path := "/display/" + expectedFilename + "?friendly-id=fake_friendly_id&timestamp=1234567890"

		env.clock.Advance(60 * time.Second)
		if w := env.get(t, path, nil); w.Code != http.StatusOK {
			t.Fatalf("Expected status 200 at the ttl, got %d", w.Code)
		}

		env.clock.Advance(time.Second)
		w := env.get(t, path, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401 after the ttl, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "Authorization error: image expired") {
			t.Errorf("Unexpected body %q", w.Body.String())
		}
	})

	t.Run("rejections", func(t *testing.T) {
		env := setupTestEnv(t)

		tests := []struct {
			name   string
			path   string
			status int
			body   string
		}{
			{
				name:   "invalid filename",
				path:   "/display/0000.bmp?friendly-id=fake_friendly_id&timestamp=1234567890",
				status: http.StatusUnauthorized,
				body:   "Authorization error: invalid filename",
			},
			{
				name:   "timestamp does not match filename",
				path:   "/display/" + expectedFilename + "?friendly-id=fake_friendly_id&timestamp=1234567891",
				status: http.StatusUnauthorized,
				body:   "invalid filename",
			},
			{
				name:   "filename of another device",
				path:   "/display/" + expectedFilename + "?friendly-id=playlist_friendly_id&timestamp=1234567890",
				status: http.StatusUnauthorized,
				body:   "invalid filename",
			},
			{
				name:   "unknown friendly id",
				path:   "/display/" + expectedFilename + "?friendly-id=nobody&timestamp=1234567890",
				status: http.StatusUnauthorized,
				body:   "unknown device",
			},
			{
				name:   "missing friendly id",
				path:   "/display/" + expectedFilename + "?timestamp=1234567890",
				status: http.StatusBadRequest,
				body:   "missing friendly-id query param",
			},
			{
				name:   "missing timestamp",
				path:   "/display/" + expectedFilename + "?friendly-id=fake_friendly_id",
				status: http.StatusBadRequest,
				body:   "missing timestamp query param",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w := env.get(t, tt.path, nil)
				if w.Code != tt.status {
					t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
				}
				if !strings.Contains(w.Body.String(), tt.body) {
					t.Errorf("Body %q does not contain %q", w.Body.String(), tt.body)
				}
			})
		}
	})

	t.Run("future timestamp is accepted", func(t *testing.T) {
		env := setupTestEnv(t)
		future := int64(issuedAt + 3600)
		path := "/display/" + token.Issue("fake_api_key", time.Unix(future, 0)) +
			"?friendly-id=fake_friendly_id&timestamp=1234571490"

		if w := env.get(t, path, nil); w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("repeated failures block further mismatches", func(t *testing.T) {
		env := setupTestEnv(t)
		bad := "/display/0000.bmp?friendly-id=fake_friendly_id&timestamp=1234567890"
		good := "/display/" + expectedFilename + "?friendly-id=fake_friendly_id&timestamp=1234567890"

		for i := 0; i < 3; i++ {
			if w := env.get(t, bad, nil); w.Code != http.StatusUnauthorized {
				t.Fatalf("Attempt %d: expected 401, got %d", i, w.Code)
			}
		}

		w := env.get(t, bad, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("Expected blocked device to get 401, got %d", w.Code)
		}
		if !strings.Contains(w.Body.String(), "too many invalid filenames") {
			t.Errorf("Unexpected body %q", w.Body.String())
		}

		// A valid filename is still served while the device is blocked
		if w := env.get(t, good, nil); w.Code != http.StatusOK {
			t.Fatalf("Expected valid filename to get 200, got %d: %s", w.Code, w.Body.String())
		}

		// Other devices are unaffected
		other := "/display/" + token.Issue("playlist_api_key", time.Unix(issuedAt, 0)) +
			"?friendly-id=playlist_friendly_id&timestamp=1234567890"
		if w := env.get(t, other, nil); w.Code != http.StatusOK {
			t.Errorf("Expected other device to get 200, got %d", w.Code)
		}
	})

	t.Run("playlist contexts are resolved", func(t *testing.T) {
		env := setupTestEnv(t)
		path := "/display/" + token.Issue("playlist_api_key", time.Unix(issuedAt, 0)) +
			"?friendly-id=playlist_friendly_id&timestamp=1234567890"

		w := env.get(t, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		if env.stub.calls.Load() != 1 {
			t.Errorf("Expected the stub provider to be called once, got %d", env.stub.calls.Load())
		}
		if bytes.Equal(w.Body.Bytes(), display.BlankBitmap()) {
			t.Error("Expected the label to be drawn")
		}
	})

	t.Run("unknown provider is unexpected", func(t *testing.T) {
		env := setupTestEnv(t)
		path := "/display/" + token.Issue("broken_api_key", time.Unix(issuedAt, 0)) +
			"?friendly-id=broken_friendly_id&timestamp=1234567890"

		w := env.get(t, path, nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d", w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != "Unexpected error: failed to assemble context" {
			t.Errorf("Body = %q", got)
		}
	})
}

func TestSetupImage(t *testing.T) {
	env := setupTestEnv(t)

	w := env.get(t, "/setup_image.bmp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), display.BlankBitmap()) {
		t.Error("Expected the built-in blank bitmap")
	}

	custom := filepath.Join(env.dir, "setup.bmp")
	writeFile(t, custom, "custom-image")
	env.writeConfig(t, "setup_image_path: "+custom+"\n")

	w = env.get(t, "/setup_image.bmp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "custom-image" {
		t.Errorf("Body = %q, want the configured file", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/bmp" {
		t.Errorf("Content-Type = %q", ct)
	}

	env.writeConfig(t, "setup_image_path: "+filepath.Join(env.dir, "missing.bmp")+"\n")
	if w := env.get(t, "/setup_image.bmp", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 for a missing file, got %d", w.Code)
	}
}

func TestLog(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/log", nil, []byte(`{"log":{"logs_array":[]}}`))
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
}

func TestTemplatesRefresh(t *testing.T) {
	env := setupTestEnv(t)

	writeFile(t, filepath.Join(env.templatesDir, "extra.svg.tmpl"), whiteTemplate)

	w := env.do(t, http.MethodPost, "/display/templates/refresh", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["template_count"] != float64(3) {
		t.Errorf("template_count = %v, want 3", body["template_count"])
	}

	t.Run("broken template keeps the old snapshot", func(t *testing.T) {
		writeFile(t, filepath.Join(env.templatesDir, "broken.svg.tmpl"), "{{ .unclosed ")

		w := env.do(t, http.MethodPost, "/display/templates/refresh", nil, nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("Expected status 500, got %d", w.Code)
		}

		w = env.get(t, "/display/"+expectedFilename+"?friendly-id=fake_friendly_id&timestamp=1234567890", nil)
		if w.Code != http.StatusOK {
			t.Errorf("Expected renders to keep working, got %d", w.Code)
		}
	})
}

func TestPreviewPage(t *testing.T) {
	env := setupTestEnv(t)

	w := env.get(t, "/display/preview?template=label.svg.tmpl", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{
		`<option value="default.svg.tmpl">`,
		`<option value="label.svg.tmpl" selected>`,
		`"ws://example.localhost/display/preview/ws"`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("Page does not contain %q", want)
		}
	}
}

func TestPreviewSocket(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("missing template", func(t *testing.T) {
		w := env.get(t, "/display/preview/ws", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, got %d", w.Code)
		}
	})

	t.Run("streams frames", func(t *testing.T) {
		srv := httptest.NewServer(env.router)
		t.Cleanup(srv.Close)

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/display/preview/ws?template=default.svg.tmpl"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg models.PreviewMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		if msg.Status != models.PreviewStatusOK {
			t.Fatalf("Expected ok frame, got %+v", msg)
		}

		bitmap, err := base64.StdEncoding.DecodeString(msg.ImageData)
		if err != nil {
			t.Fatalf("Invalid image data: %v", err)
		}
		if len(bitmap) != display.ImageSize {
			t.Errorf("Bitmap length = %d, want %d", len(bitmap), display.ImageSize)
		}
	})

	t.Run("unknown template reports an error frame", func(t *testing.T) {
		srv := httptest.NewServer(env.router)
		t.Cleanup(srv.Close)

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/display/preview/ws?template=nope.svg.tmpl"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg models.PreviewMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		if msg.Status != models.PreviewStatusError || msg.ImageData != "" {
			t.Errorf("Expected error frame, got %+v", msg)
		}
		if !strings.Contains(msg.Message, "nope.svg.tmpl") {
			t.Errorf("Message %q does not name the template", msg.Message)
		}
	})
}
