package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the public open-meteo API
const DefaultBaseURL = "https://api.open-meteo.com"

const forecastVariables = "temperature_2m,rain,precipitation_probability,weather_code"

// Forecast is the subset of the open-meteo forecast response the display
// uses. Pointers distinguish missing or null values from zero.
type Forecast struct {
	Current CurrentConditions `json:"current"`
	Hourly  HourlySeries      `json:"hourly"`
}

// CurrentConditions holds the "current" block
type CurrentConditions struct {
	Temperature *float64 `json:"temperature_2m"`
	WeatherCode *int     `json:"weather_code"`
}

// HourlySeries holds the "hourly" block. Index 0 is local midnight today.
type HourlySeries struct {
	Temperature              []*float64 `json:"temperature_2m"`
	PrecipitationProbability []*float64 `json:"precipitation_probability"`
	WeatherCode              []*int     `json:"weather_code"`
}

// Client fetches forecasts from open-meteo
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new forecast client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithBaseURL points the client at another open-meteo compatible host
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets a custom timeout for the HTTP client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Fetch retrieves a 14 day hourly forecast for the location
func (c *Client) Fetch(ctx context.Context, loc Settings) (*Forecast, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
	}
	u.Path = "/v1/forecast"

	q := url.Values{}
	q.Set("latitude", loc.Latitude)
	q.Set("longitude", loc.Longitude)
	q.Set("hourly", forecastVariables)
	q.Set("current", forecastVariables)
	q.Set("timezone", loc.Timezone)
	q.Set("wind_speed_unit", "mph")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("forecast_days", "14")
	q.Set("precipitation_unit", "inch")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("forecast API error (status %d): %s", resp.StatusCode, string(body))
	}

	var forecast Forecast
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return nil, fmt.Errorf("failed to decode forecast: %w", err)
	}

	return &forecast, nil
}
