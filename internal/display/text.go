package display

import (
	"encoding/xml"
	"fmt"
	"image"
	"image/color"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/srwiley/oksvg"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const defaultFontSize = 16

var translatePattern = regexp.MustCompile(`translate\(\s*([-+\d.eE]+)(?:[\s,]+([-+\d.eE]+))?\s*\)`)

type viewBox struct {
	x, y, w, h float64
}

// textRun is one <text> element resolved to user-space coordinates
type textRun struct {
	x, y    float64
	family  string
	size    float64
	fill    color.Color
	anchor  string
	content string
}

// markupInfo is what the text pass needs from the document
type markupInfo struct {
	width, height int
	box           viewBox
	texts         []textRun
}

// textState is inherited from ancestors the way SVG presentation
// attributes are.
type textState struct {
	dx, dy float64
	family string
	size   float64
	fill   color.Color // nil when fill is none
	anchor string
}

// scanMarkup reads the root size and every <text> element. Shapes are left
// to oksvg, which does not draw text.
func scanMarkup(markup string) (*markupInfo, error) {
	dec := xml.NewDecoder(strings.NewReader(markup))
	info := &markupInfo{}

	stack := []textState{{size: defaultFontSize, fill: color.Black}}
	var current *textRun
	var content strings.Builder
	sawRoot := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			state, err := applyAttrs(stack[len(stack)-1], el.Attr)
			if err != nil {
				return nil, fmt.Errorf("<%s>: %w", el.Name.Local, err)
			}
			stack = append(stack, state)

			switch el.Name.Local {
			case "svg":
				if !sawRoot {
					sawRoot = true
					if err := info.readRoot(el.Attr); err != nil {
						return nil, err
					}
				}
			case "text":
				x, y := attrFloat(el.Attr, "x"), attrFloat(el.Attr, "y")
				current = &textRun{
					x:      state.dx + x,
					y:      state.dy + y,
					family: state.family,
					size:   state.size,
					fill:   state.fill,
					anchor: state.anchor,
				}
				content.Reset()
			}

		case xml.CharData:
			if current != nil {
				content.Write(el)
			}

		case xml.EndElement:
			stack = stack[:len(stack)-1]
			if el.Name.Local == "text" && current != nil {
				current.content = strings.Join(strings.Fields(content.String()), " ")
				if current.content != "" && current.fill != nil {
					info.texts = append(info.texts, *current)
				}
				current = nil
			}
		}
	}

	if !sawRoot {
		return nil, fmt.Errorf("missing <svg> root element")
	}
	if info.width <= 0 || info.height <= 0 {
		return nil, fmt.Errorf("missing intrinsic size")
	}
	if info.width > 8192 || info.height > 8192 {
		return nil, fmt.Errorf("intrinsic size %dx%d too large", info.width, info.height)
	}
	return info, nil
}

func (info *markupInfo) readRoot(attrs []xml.Attr) error {
	if vb := attrValue(attrs, "viewBox"); vb != "" {
		parts := strings.FieldsFunc(vb, func(r rune) bool { return r == ',' || r == ' ' })
		if len(parts) != 4 {
			return fmt.Errorf("invalid viewBox %q", vb)
		}
		var vals [4]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return fmt.Errorf("invalid viewBox %q: %w", vb, err)
			}
			vals[i] = v
		}
		info.box = viewBox{vals[0], vals[1], vals[2], vals[3]}
	}

	w, h := attrFloat(attrs, "width"), attrFloat(attrs, "height")
	if w <= 0 || h <= 0 {
		w, h = info.box.w, info.box.h
	}
	info.width, info.height = int(w+0.5), int(h+0.5)

	if info.box.w <= 0 || info.box.h <= 0 {
		info.box = viewBox{0, 0, w, h}
	}
	return nil
}

func applyAttrs(state textState, attrs []xml.Attr) (textState, error) {
	for _, a := range attrs {
		switch a.Name.Local {
		case "transform":
			if m := translatePattern.FindStringSubmatch(a.Value); m != nil {
				tx, _ := strconv.ParseFloat(m[1], 64)
				ty := 0.0
				if m[2] != "" {
					ty, _ = strconv.ParseFloat(m[2], 64)
				}
				state.dx += tx
				state.dy += ty
			}
		case "font-family":
			state.family = a.Value
		case "font-size":
			if v := parseLength(a.Value); v > 0 {
				state.size = v
			}
		case "fill":
			c, err := oksvg.ParseSVGColor(a.Value)
			if err != nil {
				return state, fmt.Errorf("invalid fill %q: %w", a.Value, err)
			}
			state.fill = c
		case "text-anchor":
			state.anchor = a.Value
		}
	}
	return state, nil
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrFloat(attrs []xml.Attr, name string) float64 {
	return parseLength(attrValue(attrs, name))
}

func parseLength(v string) float64 {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// drawText paints text runs over the shapes, mapping user space into the
// raster the same way the root viewBox does.
func drawText(img *image.RGBA, info *markupInfo, fonts *FontSet) error {
	sx := float64(info.width) / info.box.w
	sy := float64(info.height) / info.box.h

	for _, t := range info.texts {
		face, err := fonts.Face(t.family, t.size*sy)
		if err != nil {
			return fmt.Errorf("failed to create font face: %w", err)
		}

		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(t.fill),
			Face: face,
		}

		x := fixed.Int26_6((t.x - info.box.x) * sx * 64)
		y := fixed.Int26_6((t.y - info.box.y) * sy * 64)
		switch t.anchor {
		case "middle":
			x -= d.MeasureString(t.content) / 2
		case "end":
			x -= d.MeasureString(t.content)
		}
		d.Dot = fixed.Point26_6{X: x, Y: y}
		d.DrawString(t.content)
		face.Close()
	}
	return nil
}
