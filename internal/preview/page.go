package preview

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"
)

//go:embed index.html
var indexHTML string

var pageTemplate = template.Must(template.New("index.html").Parse(indexHTML))

// PageData feeds the preview page
type PageData struct {
	WebsocketURL string
	Templates    []string
	Selected     string
}

// WebsocketURL derives the preview socket URL from the public base URL
func WebsocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/display/preview/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// WritePage renders the preview page
func WritePage(w io.Writer, data PageData) error {
	if data.Selected == "" && len(data.Templates) > 0 {
		data.Selected = data.Templates[0]
	}
	return pageTemplate.Execute(w, data)
}
