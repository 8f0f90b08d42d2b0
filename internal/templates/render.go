// Package templates renders the HTML fragments patched into the viewer page
// over Datastar SSE.
package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed fragments/*.html
var embedded embed.FS

var funcMap = template.FuncMap{
	// dict builds a map from key/value pairs for nested templates.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"cell": func(row map[string]any, col string) any {
		v, ok := row[col]
		if !ok || v == nil {
			return ""
		}
		return v
	},
}

// Renderer executes named fragments. It is immutable once built and safe
// for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

// Default returns a renderer over the fragments compiled into the binary.
func Default() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(embedded, "fragments/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded fragments: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// WithOverrides returns a renderer where every fragment defined in dir's
// *.html files replaces the embedded one of the same name. A missing dir
// yields the embedded set unchanged.
func WithOverrides(dir string) (*Renderer, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return base, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return base, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil || len(files) == 0 {
		return base, err
	}
	tmpl, err := base.tmpl.Clone()
	if err != nil {
		return nil, err
	}
	if tmpl, err = tmpl.ParseFiles(files...); err != nil {
		return nil, fmt.Errorf("parse fragments in %s: %w", dir, err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render renders a named fragment to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.Execute(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Execute writes a named fragment to w.
func (r *Renderer) Execute(w io.Writer, name string, data any) error {
	if err := r.tmpl.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
