package display

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// FontSet holds parsed fonts keyed by family name
type FontSet struct {
	fonts    map[string]*sfnt.Font
	fallback *sfnt.Font
}

// LoadFonts parses every .ttf and .otf file under dir. An empty dir yields
// a set holding only the built-in Go Regular face.
func LoadFonts(dir string) (*FontSet, error) {
	fs := &FontSet{fonts: make(map[string]*sfnt.Font)}

	if dir != "" {
		var paths []string
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			ext := strings.ToLower(filepath.Ext(path))
			if !d.IsDir() && (ext == ".ttf" || ext == ".otf") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan fonts: %w", err)
		}
		sort.Strings(paths)

		for _, path := range paths {
			if err := fs.addFile(path); err != nil {
				return nil, err
			}
		}
	}

	if fs.fallback == nil {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return nil, fmt.Errorf("failed to parse built-in font: %w", err)
		}
		fs.add(f)
	}

	return fs, nil
}

func (fs *FontSet) addFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse font %s: %w", path, err)
	}
	fs.add(f)
	return nil
}

func (fs *FontSet) add(f *sfnt.Font) {
	family, err := f.Name(nil, sfnt.NameIDFamily)
	if err == nil && family != "" {
		key := strings.ToLower(family)
		if _, exists := fs.fonts[key]; !exists {
			fs.fonts[key] = f
		}
	}
	if fs.fallback == nil {
		fs.fallback = f
	}
}

// Families returns the loaded family names, lower-cased and sorted
func (fs *FontSet) Families() []string {
	names := make([]string, 0, len(fs.fonts))
	for name := range fs.fonts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a CSS font-family list, falling back to the first
// loaded font.
func (fs *FontSet) Lookup(families string) *sfnt.Font {
	for _, name := range strings.Split(families, ",") {
		name = strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
		if f, ok := fs.fonts[name]; ok {
			return f
		}
	}
	return fs.fallback
}

// Face returns a face for the family list at size pixels
func (fs *FontSet) Face(families string, size float64) (font.Face, error) {
	return opentype.NewFace(fs.Lookup(families), &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}
