package injection

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sync"
	"text/template"

	"github.com/spf13/afero"
)

// ScriptVersion is stamped into every rendered recorder script.
const ScriptVersion = "3"

//go:embed assets/*.tmpl
var embedded embed.FS

// Assets renders the instrumentation templates. Templates found in the
// override directory replace the embedded ones with the same file name.
type Assets struct {
	fs  afero.Fs
	dir string

	once sync.Once
	tmpl *template.Template
	err  error
}

// NewAssets returns the template set. fsys and dir may be zero to use only
// the embedded assets.
func NewAssets(fsys afero.Fs, dir string) *Assets {
	return &Assets{fs: fsys, dir: dir}
}

var funcs = template.FuncMap{
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"has": func(list []string, s string) bool {
		for _, item := range list {
			if item == s {
				return true
			}
		}
		return false
	},
}

func (a *Assets) load() (*template.Template, error) {
	a.once.Do(func() {
		root := template.New("assets").Funcs(funcs)
		names, err := fs.Glob(embedded, "assets/*.tmpl")
		if err != nil {
			a.err = err
			return
		}
		for _, name := range names {
			base := path.Base(name)
			src, err := a.source(base)
			if err != nil {
				a.err = err
				return
			}
			if _, err := root.New(base).Parse(src); err != nil {
				a.err = fmt.Errorf("parse %s: %w", base, err)
				return
			}
		}
		a.tmpl = root
	})
	return a.tmpl, a.err
}

func (a *Assets) source(base string) (string, error) {
	if a.fs != nil && a.dir != "" {
		override := path.Join(a.dir, base)
		if ok, _ := afero.Exists(a.fs, override); ok {
			b, err := afero.ReadFile(a.fs, override)
			if err != nil {
				return "", fmt.Errorf("read asset override %s: %w", override, err)
			}
			return string(b), nil
		}
	}
	b, err := embedded.ReadFile("assets/" + base)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Render executes the named template (a file name or a {{define}} block).
func (a *Assets) Render(name string, data interface{}) (string, error) {
	tmpl, err := a.load()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
