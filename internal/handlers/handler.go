package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/koios/trmnl-server/internal/apperr"
	"github.com/koios/trmnl-server/internal/display"
	"github.com/koios/trmnl-server/pkg/models"
	"go.uber.org/zap"
)

// ServiceName is reported by the health endpoint
const ServiceName = "trmnl-server"

// healthTimeout bounds the dependency check made by /health
const healthTimeout = 2 * time.Second

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// maxLogBody caps the device log payload read by /api/log
const maxLogBody = 1 << 20

// Handler serves the device API, the preview endpoints and operations
// routes.
type Handler struct {
	service   *DisplayService
	configs   ConfigSource
	renderers *display.Holder
	upgrader  websocket.Upgrader
	health    HealthChecker
	logger    *zap.Logger
}

// NewHandler creates a handler
func NewHandler(service *DisplayService, configs ConfigSource, renderers *display.Holder, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		configs:   configs,
		renderers: renderers,
		logger:    logger,
	}
}

// WithHealthCheck makes /health report unhealthy when check fails
func (h *Handler) WithHealthCheck(check HealthChecker) *Handler {
	h.health = check
	return h
}

// NewRouter builds the router with every route registered
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes. /display/{filename} is registered
// last so the fixed /display paths take precedence.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/setup/", h.handleSetup).Methods(http.MethodGet)
	r.HandleFunc("/api/setup", h.handleSetup).Methods(http.MethodGet)
	r.HandleFunc("/api/display", h.handleDisplay).Methods(http.MethodGet)
	r.HandleFunc("/api/log", h.handleLog).Methods(http.MethodPost)
	r.HandleFunc("/setup_image.bmp", h.handleSetupImage).Methods(http.MethodGet)

	r.HandleFunc("/display/preview", h.handlePreviewPage).Methods(http.MethodGet)
	r.HandleFunc("/display/preview/ws", h.handlePreviewSocket).Methods(http.MethodGet)
	r.HandleFunc("/display/templates/refresh", h.handleTemplatesRefresh).Methods(http.MethodPost)
	r.HandleFunc("/display/{filename}", h.handleImage).Methods(http.MethodGet)
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{
				Status:  "unhealthy",
				Service: ServiceName,
				Error:   err.Error(),
			})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
	})
}

// handleSetup handles GET /api/setup/
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	headers, err := ParseSetupHeaders(r.Header)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.Setup(headers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleDisplay handles GET /api/display
func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	headers, err := ParseDisplayHeaders(r.Header)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.service.CheckIn(headers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// handleImage handles GET /display/{filename}
func (h *Handler) handleImage(w http.ResponseWriter, r *http.Request) {
	query, err := ParseImageQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	bitmap, err := h.service.Image(r.Context(), mux.Vars(r)["filename"], query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeBitmap(w, bitmap)
}

// handleSetupImage handles GET /setup_image.bmp
func (h *Handler) handleSetupImage(w http.ResponseWriter, r *http.Request) {
	bitmap, err := h.service.SetupImage()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeBitmap(w, bitmap)
}

// handleLog handles POST /api/log. Devices post their logs here; they
// are recorded and otherwise ignored.
func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLogBody))
	if err != nil {
		h.writeError(w, r, apperr.Validation("failed to read log body: %v", err))
		return
	}

	h.logger.Info("Device log",
		zap.String("mac", r.Header.Get("ID")),
		zap.ByteString("body", body))

	w.WriteHeader(http.StatusNoContent)
}

// handleTemplatesRefresh handles POST /display/templates/refresh. It
// swaps in a freshly loaded renderer snapshot.
func (h *Handler) handleTemplatesRefresh(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Reloading templates...")

	if err := h.renderers.Reload(); err != nil {
		h.writeError(w, r, apperr.Unexpected("failed to reload templates", err))
		return
	}

	templates := h.renderers.Current().Templates()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"message":        "Templates reloaded successfully",
		"template_count": len(templates),
	})

	h.logger.Info("Templates reloaded", zap.Int("template_count", len(templates)))
}

func writeBitmap(w http.ResponseWriter, bitmap []byte) {
	w.Header().Set("Content-Type", "image/bmp")
	w.Header().Set("Content-Length", fmt.Sprint(len(bitmap)))
	w.WriteHeader(http.StatusOK)
	w.Write(bitmap)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError replies with the classified error. Unexpected errors are
// logged with their full chain and reach the client as the top-level
// message only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	status := apperr.StatusCode(appErr)

	if appErr.Kind == apperr.KindUnexpected {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		h.logger.Warn("Request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("error", appErr.Error()))
	}

	http.Error(w, appErr.Error(), status)
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		h.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
