package models

import (
	"fmt"
	"time"
)

// DefaultTemplate is rendered for devices without a playlist
const DefaultTemplate = "default.svg.tmpl"

// PlaylistItem is one screen in a device's rotation
type PlaylistItem struct {
	Template string   `yaml:"template" json:"template"`
	Contexts []string `yaml:"contexts" json:"contexts"`
}

// DeviceConfig is one device record from the app config file
type DeviceConfig struct {
	MACAddress  string                       `yaml:"mac_address" json:"mac_address"`
	FriendlyID  string                       `yaml:"friendly_id" json:"friendly_id"`
	APIKey      string                       `yaml:"api_key" json:"-"`
	SetupExpiry string                       `yaml:"setup_expiry" json:"setup_expiry"`
	Playlist    []PlaylistItem               `yaml:"playlist" json:"playlist"`
	Contexts    map[string]map[string]string `yaml:"contexts" json:"contexts"`
}

// SetupExpiresAt parses the RFC3339 setup expiry
func (d *DeviceConfig) SetupExpiresAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, d.SetupExpiry)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid setup expiry %q: %w", d.SetupExpiry, err)
	}
	return t, nil
}

// NextItem returns the playlist item shown at timestamp. Items rotate
// every refresh interval.
func (d *DeviceConfig) NextItem(timestamp time.Time, refresh time.Duration) PlaylistItem {
	if len(d.Playlist) == 0 {
		return PlaylistItem{Template: DefaultTemplate}
	}

	step := int64(refresh / time.Second)
	if step <= 0 {
		step = 1
	}
	slot := timestamp.Unix() / step
	if slot < 0 {
		slot = -slot
	}
	return d.Playlist[slot%int64(len(d.Playlist))]
}

// ContextSettings returns the provider settings configured under name
func (d *DeviceConfig) ContextSettings(name string) (map[string]string, bool) {
	settings, ok := d.Contexts[name]
	return settings, ok
}

// DeviceRegistry indexes device records for lookup by MAC, friendly id
// and API key.
type DeviceRegistry struct {
	byMAC        map[string]*DeviceConfig
	byFriendlyID map[string]*DeviceConfig
	byAPIKey     map[string]*DeviceConfig
}

// NewDeviceRegistry builds a registry from devices. When two records share
// a key the first one wins.
func NewDeviceRegistry(devices []DeviceConfig) *DeviceRegistry {
	r := &DeviceRegistry{
		byMAC:        make(map[string]*DeviceConfig),
		byFriendlyID: make(map[string]*DeviceConfig),
		byAPIKey:     make(map[string]*DeviceConfig),
	}

	for i := range devices {
		d := &devices[i]
		addOnce(r.byMAC, d.MACAddress, d)
		addOnce(r.byFriendlyID, d.FriendlyID, d)
		addOnce(r.byAPIKey, d.APIKey, d)
	}

	return r
}

func addOnce(index map[string]*DeviceConfig, key string, d *DeviceConfig) {
	if key == "" {
		return
	}
	if _, exists := index[key]; !exists {
		index[key] = d
	}
}

// ByMAC returns the device with the given MAC address
func (r *DeviceRegistry) ByMAC(mac string) (*DeviceConfig, bool) {
	d, ok := r.byMAC[mac]
	return d, ok
}

// ByFriendlyID returns the device with the given friendly id
func (r *DeviceRegistry) ByFriendlyID(friendlyID string) (*DeviceConfig, bool) {
	d, ok := r.byFriendlyID[friendlyID]
	return d, ok
}

// ByAPIKey returns the device with the given API key
func (r *DeviceRegistry) ByAPIKey(apiKey string) (*DeviceConfig, bool) {
	d, ok := r.byAPIKey[apiKey]
	return d, ok
}

// Len returns the number of distinct devices by friendly id
func (r *DeviceRegistry) Len() int {
	return len(r.byFriendlyID)
}
