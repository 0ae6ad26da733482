package handlers

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/koios/trmnl-server/internal/apperr"
	"github.com/koios/trmnl-server/internal/clock"
	"github.com/koios/trmnl-server/internal/config"
	"github.com/koios/trmnl-server/internal/display"
	"github.com/koios/trmnl-server/internal/provider"
	"github.com/koios/trmnl-server/internal/token"
	"github.com/koios/trmnl-server/pkg/models"
	"go.uber.org/zap"
)

// ConfigSource returns the current app config
type ConfigSource interface {
	Load() (*config.AppConfig, error)
}

// DisplayService implements the device protocol: setup, check-in and
// image delivery.
type DisplayService struct {
	configs   ConfigSource
	renderers *display.Holder
	pool      *display.WorkerPool
	assembler *provider.Assembler
	attempts  token.AttemptTracker
	clock     clock.Clock
	logger    *zap.Logger
}

// NewDisplayService creates a display service
func NewDisplayService(
	configs ConfigSource,
	renderers *display.Holder,
	pool *display.WorkerPool,
	assembler *provider.Assembler,
	attempts token.AttemptTracker,
	clk clock.Clock,
	logger *zap.Logger,
) *DisplayService {
	return &DisplayService{
		configs:   configs,
		renderers: renderers,
		pool:      pool,
		assembler: assembler,
		attempts:  attempts,
		clock:     clk,
		logger:    logger,
	}
}

func (s *DisplayService) loadConfig() (*config.AppConfig, error) {
	cfg, err := s.configs.Load()
	if err != nil {
		return nil, apperr.Unexpected("failed to load config", err)
	}
	return cfg, nil
}

// Setup hands a device its API key and friendly id
func (s *DisplayService) Setup(h SetupHeaders) (*models.SetupResponse, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	s.logger.Info("Setup request",
		zap.String("mac", h.MACAddress),
		zap.String("fw_version", h.FWVersion))

	imageURL := cfg.BaseURL + "/setup_image.bmp"

	device, ok := cfg.Registry().ByMAC(h.MACAddress)
	if !ok {
		return &models.SetupResponse{
			Status:   404,
			ImageURL: &imageURL,
			Message:  fmt.Sprintf("No device config found for MAC=%s", h.MACAddress),
		}, nil
	}

	expiry, err := device.SetupExpiresAt()
	if err != nil {
		s.logger.Error("Invalid setup expiry in config",
			zap.String("friendly_id", device.FriendlyID),
			zap.String("setup_expiry", device.SetupExpiry),
			zap.Error(err))
		return nil, apperr.Unexpected("invalid setup expiry", err)
	}
	if expiry.Before(s.clock.Now()) {
		return nil, apperr.Authentication("Attempted setup after expiry: friendly_id=%s setup_expiry=%s",
			device.FriendlyID, device.SetupExpiry)
	}

	apiKey := device.APIKey
	friendlyID := device.FriendlyID
	return &models.SetupResponse{
		Status:     200,
		APIKey:     &apiKey,
		FriendlyID: &friendlyID,
		ImageURL:   &imageURL,
		Message:    "Success",
	}, nil
}

// CheckIn issues a fresh image URL to a device
func (s *DisplayService) CheckIn(h DisplayHeaders) (*models.DisplayResponse, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	device, ok := cfg.Registry().ByAPIKey(h.APIKey)
	if !ok {
		return nil, apperr.Authorization("unknown access token")
	}

	s.logger.Info("Display check-in",
		zap.String("friendly_id", device.FriendlyID),
		zap.String("mac", h.MACAddress),
		zap.String("fw_version", h.FWVersion),
		zap.String("battery_voltage", h.BatteryVoltage),
		zap.String("rssi", h.RSSI),
		zap.String("refresh_rate", h.RefreshRate),
		zap.String("special_function", h.SpecialFunction))

	now := s.clock.Now()
	filename := token.Issue(device.APIKey, now)

	imageURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, apperr.Unexpected("invalid base url", err)
	}
	imageURL.Path = "/display/" + filename
	imageURL.RawQuery = url.Values{
		"friendly-id": {device.FriendlyID},
		"timestamp":   {strconv.FormatInt(now.Unix(), 10)},
	}.Encode()

	timeout := cfg.DisplayImageTimeout
	return &models.DisplayResponse{
		Status:          0,
		ImageURL:        imageURL.String(),
		ImageURLTimeout: &timeout,
		Filename:        filename,
		RefreshRate:     cfg.RefreshRate,
		SpecialFunction: models.SpecialFunctionSleep,
	}, nil
}

// Image checks an issued filename and renders the device's current screen
func (s *DisplayService) Image(ctx context.Context, filename string, q ImageQuery) ([]byte, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	device, ok := cfg.Registry().ByFriendlyID(q.FriendlyID)
	if !ok {
		return nil, apperr.Authorization("unknown device: friendly_id=%s", q.FriendlyID)
	}

	if !token.Verify(filename, device.APIKey, q.Timestamp) {
		return nil, s.rejectFilename(ctx, device.FriendlyID)
	}

	if token.IsExpired(q.Timestamp, s.clock.Now(), cfg.ImageTimeout()) {
		return nil, apperr.Authorization("image expired")
	}

	item := device.NextItem(q.Timestamp, cfg.RefreshInterval())

	rc, err := s.assembler.Assemble(ctx, item.Contexts, device)
	if err != nil {
		return nil, apperr.Unexpected("failed to assemble context", err)
	}

	bitmap, err := s.pool.Submit(ctx, s.renderers.Current(), item.Template, rc)
	if err != nil {
		return nil, apperr.Unexpected("failed to render image", err)
	}

	s.logger.Debug("Rendered display image",
		zap.String("friendly_id", device.FriendlyID),
		zap.String("template", item.Template),
		zap.Int("bytes", len(bitmap)))

	return bitmap, nil
}

// SetupImage returns the image shown during device setup
func (s *DisplayService) SetupImage() ([]byte, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.SetupImagePath == "" {
		return display.BlankBitmap(), nil
	}

	data, err := os.ReadFile(cfg.SetupImagePath)
	if err != nil {
		return nil, apperr.Unexpected("failed to read setup image", err)
	}
	return data, nil
}

// rejectFilename counts a mismatched filename against the device. The
// block only applies to mismatches, so a valid filename is always served.
func (s *DisplayService) rejectFilename(ctx context.Context, friendlyID string) error {
	blocked, err := s.attempts.Blocked(ctx, friendlyID)
	if err != nil {
		return apperr.Unexpected("failed to check token failures", err)
	}
	if blocked {
		return apperr.Authorization("too many invalid filenames for friendly_id=%s", friendlyID)
	}

	count, err := s.attempts.RecordFailure(ctx, friendlyID)
	if err != nil {
		s.logger.Error("Failed to record token failure",
			zap.String("friendly_id", friendlyID),
			zap.Error(err))
	} else {
		s.logger.Warn("Invalid image filename",
			zap.String("friendly_id", friendlyID),
			zap.Int64("failures", count))
	}
	return apperr.Authorization("invalid filename")
}
