// Package display turns SVG templates into the device's 1bpp bitmap.
package display

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// IconsKey is the reserved context key holding the icon table
const IconsKey = "icons"

//go:embed icons.json
var iconsJSON []byte

// MarkupError is returned when rendered markup cannot be rasterized
type MarkupError struct {
	Err error
}

func (e *MarkupError) Error() string {
	return fmt.Sprintf("invalid markup: %v", e.Err)
}

func (e *MarkupError) Unwrap() error {
	return e.Err
}

// Renderer is an immutable template and font snapshot. It is safe for
// concurrent use; reload by building a new Renderer.
type Renderer struct {
	templates *TemplateSet
	fonts     *FontSet
	icons     map[string]any
}

// NewRenderer loads templates and fonts from disk
func NewRenderer(templatesPath, fontsPath string) (*Renderer, error) {
	templates, err := LoadTemplates(templatesPath)
	if err != nil {
		return nil, err
	}

	fonts, err := LoadFonts(fontsPath)
	if err != nil {
		return nil, err
	}

	var icons map[string]any
	if err := json.Unmarshal(iconsJSON, &icons); err != nil {
		return nil, fmt.Errorf("failed to parse icons.json: %w", err)
	}

	return &Renderer{templates: templates, fonts: fonts, icons: icons}, nil
}

// Templates returns the loaded template names
func (r *Renderer) Templates() []string {
	return r.templates.Names()
}

// RenderTemplate executes the named template with rc plus the icon table
func (r *Renderer) RenderTemplate(name string, rc map[string]any) (string, error) {
	data := make(map[string]any, len(rc)+1)
	for k, v := range rc {
		data[k] = v
	}
	data[IconsKey] = r.icons

	return r.templates.Execute(name, data)
}

// Rasterize draws markup at its intrinsic size onto a transparent canvas
func (r *Renderer) Rasterize(markup string) (*image.RGBA, error) {
	info, err := scanMarkup(markup)
	if err != nil {
		return nil, &MarkupError{Err: err}
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(markup), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, &MarkupError{Err: err}
	}

	w, h := info.width, info.height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	icon.SetTarget(0, 0, float64(w), float64(h))
	scanner := rasterx.NewScannerGV(w, h, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	if err := drawText(img, info, r.fonts); err != nil {
		return nil, err
	}

	return img, nil
}

// Render runs the full pipeline. No output is returned unless every stage
// succeeds.
func (r *Renderer) Render(name string, rc map[string]any) ([]byte, error) {
	markup, err := r.RenderTemplate(name, rc)
	if err != nil {
		return nil, err
	}

	img, err := r.Rasterize(markup)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}

	return Pack(img)
}

// Loader builds a fresh renderer, usually from the current app config
type Loader func() (*Renderer, error)

// Holder shares the current renderer snapshot between requests
type Holder struct {
	current atomic.Pointer[Renderer]
	load    Loader
}

// NewHolder creates a holder and loads the first snapshot
func NewHolder(load Loader) (*Holder, error) {
	h := &Holder{load: load}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the active snapshot
func (h *Holder) Current() *Renderer {
	return h.current.Load()
}

// Reload builds a new snapshot and swaps it in. On failure the previous
// snapshot stays active.
func (h *Holder) Reload() error {
	r, err := h.load()
	if err != nil {
		return err
	}
	h.current.Store(r)
	return nil
}
