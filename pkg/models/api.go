package models

// SpecialFunction tells the device what to do after showing an image
type SpecialFunction string

const (
	SpecialFunctionNone            SpecialFunction = "none"
	SpecialFunctionIdentify        SpecialFunction = "identify"
	SpecialFunctionSleep           SpecialFunction = "sleep"
	SpecialFunctionAddWifi         SpecialFunction = "add_wifi"
	SpecialFunctionRestartPlaylist SpecialFunction = "restart_playlist"
	SpecialFunctionRewind          SpecialFunction = "rewind"
	SpecialFunctionSendToMe        SpecialFunction = "send_to_me"
)

// SetupResponse is returned by the device setup endpoint
type SetupResponse struct {
	Status     int     `json:"status"`
	APIKey     *string `json:"api_key"`
	FriendlyID *string `json:"friendly_id"`
	ImageURL   *string `json:"image_url"`
	Message    string  `json:"message"`
}

// DisplayResponse is returned by the display check-in endpoint
type DisplayResponse struct {
	ErrorDetail     string           `json:"error_detail,omitempty"`
	Status          int              `json:"status"`
	ImageURL        string           `json:"image_url,omitempty"`
	ImageURLTimeout *int             `json:"image_url_timeout,omitempty"`
	Filename        string           `json:"filename,omitempty"`
	UpdateFirmware  *bool            `json:"update_firmware,omitempty"`
	FirmwareURL     string           `json:"firmware_url,omitempty"`
	RefreshRate     int              `json:"refresh_rate"`
	ResetFirmware   *bool            `json:"reset_firmware,omitempty"`
	SpecialFunction SpecialFunction  `json:"special_function"`
	Action          *SpecialFunction `json:"action,omitempty"`
}

// PreviewStatus is the outcome of one preview render
type PreviewStatus string

const (
	PreviewStatusOK    PreviewStatus = "ok"
	PreviewStatusError PreviewStatus = "error"
)

// PreviewMessage is one frame sent to a live preview client
type PreviewMessage struct {
	Status    PreviewStatus `json:"status"`
	Message   string        `json:"message"`
	ImageData string        `json:"image_data"` // base64 encoded BMP
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Error   string `json:"error,omitempty"`
}
