// Package preview serves live template previews over a websocket. Each
// session renders once on connect and again whenever the watched template
// changes on disk.
package preview

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koios/trmnl-server/internal/clock"
	"github.com/koios/trmnl-server/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Renderer renders a named template into a bitmap
type Renderer interface {
	Render(name string, rc map[string]any) ([]byte, error)
}

// RendererFactory builds a fresh renderer for each frame so template edits
// are picked up
type RendererFactory func() (Renderer, error)

// ContextLoader returns the context used for preview renders
type ContextLoader func() (map[string]any, error)

// Options configure a session
type Options struct {
	Template      string // slash separated name relative to TemplatesPath
	TemplatesPath string
	NewRenderer   RendererFactory
	LoadContext   ContextLoader
	Clock         clock.Clock
	PingInterval  time.Duration
	Debounce      time.Duration
	Logger        *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.PingInterval <= 0 {
		o.PingInterval = time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Session is one live preview connection
type Session struct {
	opts   Options
	conn   *websocket.Conn
	sender *Sender
	logger *zap.Logger
	target string
}

// NewSession creates a session over an upgraded connection
func NewSession(conn *websocket.Conn, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		opts:   opts,
		conn:   conn,
		sender: NewSender(conn),
		logger: opts.Logger.With(
			zap.String("session_id", uuid.NewString()),
			zap.String("template", opts.Template)),
		target: filepath.Clean(filepath.Join(opts.TemplatesPath, filepath.FromSlash(opts.Template))),
	}
}

// Run sends the first frame, then monitors the socket, pings and watches
// templates until the client leaves or ctx is cancelled. The socket is
// closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.sender.Close()

	s.logger.Info("Preview session started")
	defer s.logger.Info("Preview session closed")

	if err := s.sender.SendJSON(s.frame()); err != nil {
		return err
	}

	watcher, err := NewWatcher(s.opts.TemplatesPath, s.logger)
	if err != nil {
		s.sender.SendJSON(errorFrame(err))
		return err
	}
	defer watcher.Close()

	// One cancel shared by every activity; whichever sees the end first
	// stops the others.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		defer cancel()
		return s.monitor(gctx)
	})
	g.Go(func() error {
		return s.keepalive(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.watch(gctx, watcher)
	})

	return g.Wait()
}

// monitor reads client frames until a close frame, a read error or
// cancellation. Payloads are ignored.
func (s *Session) monitor(ctx context.Context) error {
	// Unblock the pending read when another activity ends the session
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// Nothing may be written once the client is gone
	defer s.sender.Close()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				s.logger.Debug("Preview client closed the session")
			case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
				s.logger.Debug("Preview client disconnected")
			default:
				s.logger.Debug("Preview read failed", zap.Error(err))
			}
			return nil
		}
	}
}

// keepalive pings the client every PingInterval. Failed pings are logged
// and do not end the session.
func (s *Session) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sender.Ping(); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Debug("Preview ping failed", zap.Error(err))
			}
		}
	}
}

// watch re-renders on changes to the watched template, at most once per
// debounce window.
func (s *Session) watch(ctx context.Context, w *Watcher) error {
	debounce := NewDebouncer(s.opts.Clock, s.opts.Debounce)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if !w.Observe(ev) || !s.isTarget(ev) {
				continue
			}
			if !debounce.Allow() {
				continue
			}
			if s.sender.Closed() {
				return nil
			}

			s.logger.Debug("Template changed", zap.String("event", ev.String()))
			frame := s.frame()
			if ctx.Err() != nil {
				return nil
			}
			if err := s.sender.SendJSON(frame); err != nil {
				if !errors.Is(err, ErrClosed) {
					s.logger.Debug("Failed to send preview frame", zap.Error(err))
				}
				return nil
			}

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			s.logger.Warn("Template watcher error", zap.Error(err))
		}
	}
}

func (s *Session) isTarget(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == s.target
}

// frame renders the template from a fresh snapshot. Failures are reported
// inside the frame rather than ending the session.
func (s *Session) frame() models.PreviewMessage {
	rc, err := s.opts.LoadContext()
	if err != nil {
		return errorFrame(err)
	}

	r, err := s.opts.NewRenderer()
	if err != nil {
		return errorFrame(err)
	}

	bitmap, err := r.Render(s.opts.Template, rc)
	if err != nil {
		s.logger.Debug("Preview render failed", zap.Error(err))
		return errorFrame(err)
	}

	return models.PreviewMessage{
		Status:    models.PreviewStatusOK,
		ImageData: base64.StdEncoding.EncodeToString(bitmap),
	}
}

func errorFrame(err error) models.PreviewMessage {
	return models.PreviewMessage{
		Status:  models.PreviewStatusError,
		Message: err.Error(),
	}
}
