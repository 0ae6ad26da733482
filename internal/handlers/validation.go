package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koios/trmnl-server/internal/apperr"
)

// SetupHeaders are the headers sent by a device during setup
type SetupHeaders struct {
	MACAddress string
	FWVersion  string
}

// DisplayHeaders are the headers sent by a device on every check-in
type DisplayHeaders struct {
	APIKey          string
	MACAddress      string
	RefreshRate     string
	BatteryVoltage  string
	FWVersion       string
	RSSI            string
	SpecialFunction string // optional
}

// ImageQuery is the query string of an issued image URL
type ImageQuery struct {
	FriendlyID string
	Timestamp  time.Time
}

type headerField struct {
	name string
	dst  *string
}

// requiredHeaders copies each header into its destination, failing on the
// first one that is absent. Present but empty values are accepted.
func requiredHeaders(h http.Header, fields ...headerField) error {
	for _, f := range fields {
		values := h.Values(f.name)
		if len(values) == 0 {
			return apperr.Validation("missing %s header", f.name)
		}
		*f.dst = values[0]
	}
	return nil
}

// ParseSetupHeaders validates the setup request headers
func ParseSetupHeaders(h http.Header) (SetupHeaders, error) {
	var sh SetupHeaders
	err := requiredHeaders(h,
		headerField{"ID", &sh.MACAddress},
		headerField{"FW-Version", &sh.FWVersion},
	)
	return sh, err
}

// ParseDisplayHeaders validates the check-in request headers
func ParseDisplayHeaders(h http.Header) (DisplayHeaders, error) {
	var dh DisplayHeaders
	err := requiredHeaders(h,
		headerField{"Access-Token", &dh.APIKey},
		headerField{"ID", &dh.MACAddress},
		headerField{"Refresh-Rate", &dh.RefreshRate},
		headerField{"Battery-Voltage", &dh.BatteryVoltage},
		headerField{"FW-Version", &dh.FWVersion},
		headerField{"RSSI", &dh.RSSI},
	)
	if err != nil {
		return DisplayHeaders{}, err
	}
	dh.SpecialFunction = h.Get("Special-Function")
	return dh, nil
}

// ParseImageQuery validates the friendly-id and timestamp parameters
func ParseImageQuery(q url.Values) (ImageQuery, error) {
	if !q.Has("friendly-id") {
		return ImageQuery{}, apperr.Validation("missing friendly-id query param")
	}
	if !q.Has("timestamp") {
		return ImageQuery{}, apperr.Validation("missing timestamp query param")
	}

	ts, err := strconv.ParseInt(q.Get("timestamp"), 10, 64)
	if err != nil || ts < 0 {
		return ImageQuery{}, apperr.Validation("invalid timestamp query param")
	}

	return ImageQuery{
		FriendlyID: q.Get("friendly-id"),
		Timestamp:  time.Unix(ts, 0),
	}, nil
}
