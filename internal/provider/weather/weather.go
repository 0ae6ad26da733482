// Package weather provides the "weather" render context: current conditions
// plus four day buckets of fixed-hour samples from open-meteo.
package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/koios/trmnl-server/internal/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Name is the provider name used in playlists and device config
const Name = "weather"

const (
	HourCount = 5
	DayCount  = 4

	todayOffset    = 0
	tomorrowOffset = 24
	nextWeekOffset = 24 * 7
)

// SampleHours are the local hours shown for each day
var SampleHours = [HourCount]int{7, 10, 12, 15, 18}

// Settings locate the forecast
type Settings struct {
	Latitude  string
	Longitude string
	Timezone  string // IANA zone name
}

// ParseSettings reads settings from a device context map. All keys are
// required.
func ParseSettings(m map[string]string) (Settings, error) {
	s := Settings{
		Latitude:  m["latitude"],
		Longitude: m["longitude"],
		Timezone:  m["timezone"],
	}

	var err error
	if s.Latitude == "" {
		err = multierr.Append(err, fmt.Errorf("missing weather setting latitude"))
	}
	if s.Longitude == "" {
		err = multierr.Append(err, fmt.Errorf("missing weather setting longitude"))
	}
	if s.Timezone == "" {
		err = multierr.Append(err, fmt.Errorf("missing weather setting timezone"))
	}
	return s, err
}

// HourSample is the weather at one hour
type HourSample struct {
	Icon                     Icon    `json:"icon"`
	Temperature              float64 `json:"temperature"`
	Hour                     int     `json:"hour"`
	PrecipitationProbability float64 `json:"precipitation_probability"`
}

// DayBucket is one labelled day on the display
type DayBucket struct {
	Title string                 `json:"title"`
	Hours [HourCount]*HourSample `json:"hours"`
}

// Snapshot is the resolved weather context
type Snapshot struct {
	Current HourSample          `json:"current"`
	Time    string              `json:"time"`
	Days    [DayCount]DayBucket `json:"days"`
}

type bucket struct {
	title  string
	offset int // hours from local midnight today
}

// daysUntil counts days from one weekday forward to target, 0 when equal
func daysUntil(from, target time.Weekday) int {
	return (int(target) - int(from) + 7) % 7
}

// buckets picks the four day slots for a local weekday. The last two are
// always weekend days that have not passed.
func buckets(weekday time.Weekday) [DayCount]bucket {
	sat := daysUntil(weekday, time.Saturday)
	sun := daysUntil(weekday, time.Sunday)

	var third, fourth bucket
	switch weekday {
	case time.Saturday, time.Sunday:
		third = bucket{"Next Sat", nextWeekOffset + 24*sat}
		fourth = bucket{"Next Sun", nextWeekOffset + 24*sun}
	default:
		third = bucket{"Sat", 24 * sat}
		fourth = bucket{"Sun", 24 * sun}
	}

	return [DayCount]bucket{
		{"Today", todayOffset},
		{"Tomorrow", tomorrowOffset},
		third,
		fourth,
	}
}

// FormatTime renders now as "Jun- 7  9:05am". Day and 12-hour clock are
// both space padded; time layouts have no padded form of the hour.
func FormatTime(now time.Time) string {
	hour := now.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return now.Format("Jan-_2 ") + fmt.Sprintf("%2d", hour) + now.Format(":04pm")
}

// Parse builds a snapshot from a forecast as seen at now. now must already
// be in the forecast's time zone. Every missing value is reported in the
// returned error.
func Parse(now time.Time, f *Forecast) (*Snapshot, error) {
	var errs error

	snap := &Snapshot{Time: FormatTime(now)}

	if f.Current.WeatherCode == nil {
		errs = multierr.Append(errs, fmt.Errorf("field error current.weather_code: missing"))
	} else {
		snap.Current.Icon = IconForCode(*f.Current.WeatherCode)
	}
	if f.Current.Temperature == nil {
		errs = multierr.Append(errs, fmt.Errorf("field error current.temperature_2m: missing"))
	} else {
		snap.Current.Temperature = *f.Current.Temperature
	}

	for day, b := range buckets(now.Weekday()) {
		snap.Days[day].Title = b.title
		for slot, hour := range SampleHours {
			sample, err := f.Hourly.sample(b.offset+hour, day, slot)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			snap.Days[day].Hours[slot] = sample
		}
	}

	if errs != nil {
		return nil, errs
	}
	return snap, nil
}

func (h *HourlySeries) sample(index, day, slot int) (*HourSample, error) {
	var errs error

	fieldErr := func(field string) error {
		return fmt.Errorf("field error hourly.%s[%d] (day %d, hour %d): missing", field, index, day, slot)
	}

	code := at(h.WeatherCode, index)
	if code == nil {
		errs = multierr.Append(errs, fieldErr("weather_code"))
	}
	temp := at(h.Temperature, index)
	if temp == nil {
		errs = multierr.Append(errs, fieldErr("temperature_2m"))
	}
	precip := at(h.PrecipitationProbability, index)
	if precip == nil {
		errs = multierr.Append(errs, fieldErr("precipitation_probability"))
	}
	if errs != nil {
		return nil, errs
	}

	return &HourSample{
		Icon:                     IconForCode(*code),
		Temperature:              *temp,
		Hour:                     index % 24,
		PrecipitationProbability: *precip,
	}, nil
}

func at[T any](values []*T, index int) *T {
	if index < 0 || index >= len(values) {
		return nil
	}
	return values[index]
}

// Provider resolves the weather context for a device
type Provider struct {
	client *Client
	clock  clock.Clock
	logger *zap.Logger
}

// NewProvider creates a weather provider
func NewProvider(client *Client, clk clock.Clock, logger *zap.Logger) *Provider {
	return &Provider{client: client, clock: clk, logger: logger}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return Name
}

// Resolve fetches the forecast and buckets it for the device's zone
func (p *Provider) Resolve(ctx context.Context, settings map[string]string) (any, error) {
	loc, err := ParseSettings(settings)
	if err != nil {
		return nil, err
	}

	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", loc.Timezone, err)
	}

	p.logger.Debug("Fetching forecast",
		zap.String("latitude", loc.Latitude),
		zap.String("longitude", loc.Longitude),
		zap.String("timezone", loc.Timezone))

	forecast, err := p.client.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}

	return Parse(p.clock.Now().In(tz), forecast)
}
