package handlers

import (
	"bytes"
	"net/http"

	"github.com/koios/trmnl-server/internal/apperr"
	"github.com/koios/trmnl-server/internal/display"
	"github.com/koios/trmnl-server/internal/preview"
	"github.com/koios/trmnl-server/internal/provider"
	"go.uber.org/zap"
)

// handlePreviewPage handles GET /display/preview
func (h *Handler) handlePreviewPage(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.Load()
	if err != nil {
		h.writeError(w, r, apperr.Unexpected("failed to load config", err))
		return
	}

	wsURL, err := preview.WebsocketURL(cfg.BaseURL)
	if err != nil {
		h.writeError(w, r, apperr.Unexpected("invalid base url", err))
		return
	}

	var buf bytes.Buffer
	err = preview.WritePage(&buf, preview.PageData{
		WebsocketURL: wsURL,
		Templates:    h.renderers.Current().Templates(),
		Selected:     r.URL.Query().Get("template"),
	})
	if err != nil {
		h.writeError(w, r, apperr.Unexpected("failed to render preview page", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handlePreviewSocket handles GET /display/preview/ws. The session lives
// until the client leaves or the server shuts down.
func (h *Handler) handlePreviewSocket(w http.ResponseWriter, r *http.Request) {
	template := r.URL.Query().Get("template")
	if template == "" {
		h.writeError(w, r, apperr.Validation("missing template query param"))
		return
	}

	cfg, err := h.configs.Load()
	if err != nil {
		h.writeError(w, r, apperr.Unexpected("failed to load config", err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Warn("Preview upgrade failed", zap.Error(err))
		return
	}

	session := preview.NewSession(conn, preview.Options{
		Template:      template,
		TemplatesPath: cfg.TemplatesPath,
		NewRenderer:   h.previewRenderer,
		LoadContext:   h.previewContext,
		Logger:        h.logger,
	})

	if err := session.Run(r.Context()); err != nil {
		h.logger.Warn("Preview session ended with error", zap.Error(err))
	}
}

// previewRenderer builds a renderer from the config as it is on disk now
func (h *Handler) previewRenderer() (preview.Renderer, error) {
	cfg, err := h.configs.Load()
	if err != nil {
		return nil, err
	}
	r, err := display.NewRenderer(cfg.TemplatesPath, cfg.FontsPath)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// previewContext reads the default context file. Without one the
// template sees an empty context.
func (h *Handler) previewContext() (map[string]any, error) {
	cfg, err := h.configs.Load()
	if err != nil {
		return nil, err
	}
	if cfg.DefaultContextPath == "" {
		return map[string]any{}, nil
	}
	return provider.LoadFile(cfg.DefaultContextPath)
}
