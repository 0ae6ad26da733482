package display

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// TemplateExt marks files loaded into the template set
const TemplateExt = ".tmpl"

// TemplateNotFoundError is returned for a name missing from the set
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template not found: %s", e.Name)
}

// TemplateRenderError wraps a template execution failure. Field names the
// missing context key when one could be identified.
type TemplateRenderError struct {
	Template string
	Field    string
	Err      error
}

func (e *TemplateRenderError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("failed to render template %s: missing field %q: %v", e.Template, e.Field, e.Err)
	}
	return fmt.Sprintf("failed to render template %s: %v", e.Template, e.Err)
}

func (e *TemplateRenderError) Unwrap() error {
	return e.Err
}

var missingKeyPattern = regexp.MustCompile(`map has no entry for key "(.+?)"`)

var templateFuncs = template.FuncMap{
	"add":   func(a, b any) (float64, error) { return arith(a, b, func(x, y float64) float64 { return x + y }) },
	"sub":   func(a, b any) (float64, error) { return arith(a, b, func(x, y float64) float64 { return x - y }) },
	"mul":   func(a, b any) (float64, error) { return arith(a, b, func(x, y float64) float64 { return x * y }) },
	"round": func(v any) (int, error) { f, err := toFloat(v); return int(math.Round(f)), err },
}

func arith(a, b any, op func(x, y float64) float64) (float64, error) {
	x, err := toFloat(a)
	if err != nil {
		return 0, err
	}
	y, err := toFloat(b)
	if err != nil {
		return 0, err
	}
	return op(x, y), nil
}

// toFloat accepts the numeric types templates see: JSON numbers and loop
// indexes.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %v (%T)", v, v)
	}
}

// TemplateSet is an immutable set of parsed templates keyed by slash
// separated path relative to the templates directory.
type TemplateSet struct {
	root  *template.Template
	names []string
}

// LoadTemplates parses every TemplateExt file under dir
func LoadTemplates(dir string) (*TemplateSet, error) {
	root := template.New("").Option("missingkey=error").Funcs(templateFuncs)
	var names []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TemplateExt) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", name, err)
		}
		if _, err := root.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}

	sort.Strings(names)
	return &TemplateSet{root: root, names: names}, nil
}

// Names returns the loaded template names in sorted order
func (ts *TemplateSet) Names() []string {
	out := make([]string, len(ts.names))
	copy(out, ts.names)
	return out
}

// Execute renders the named template with data
func (ts *TemplateSet) Execute(name string, data map[string]any) (string, error) {
	t := ts.root.Lookup(name)
	if t == nil || !ts.has(name) {
		return "", &TemplateNotFoundError{Name: name}
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", &TemplateRenderError{Template: name, Field: missingField(err), Err: err}
	}
	return buf.String(), nil
}

func (ts *TemplateSet) has(name string) bool {
	i := sort.SearchStrings(ts.names, name)
	return i < len(ts.names) && ts.names[i] == name
}

func missingField(err error) string {
	var execErr template.ExecError
	msg := err.Error()
	if errors.As(err, &execErr) {
		msg = execErr.Err.Error()
	}
	if m := missingKeyPattern.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}
