// Package catalog renders structured protocol errors into human-readable
// text from a flat message catalog.
//
// A catalog maps error-kind identifiers to template strings with named
// placeholders, for example:
//
//	wire-err-socket_error = "A socket error has occurred: {$what}"
//
// The protocol core supplies kind plus context; the catalog interpolates.
// Renderers are passed in as dependencies, never looked up through globals,
// so the core stays independent of locale and catalog lifecycle.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/sockwire/protoerr"
)

// keyPrefix is the catalog key namespace for wire error kinds.
const keyPrefix = "wire-err-"

// Renderer turns an error value into display text.
type Renderer interface {
	Render(e protoerr.ErrorValue) string
}

// Key returns the catalog key for an error kind.
func Key(kind protoerr.Kind) string {
	return keyPrefix + kind.Ident()
}

// Catalog is one locale's message table.
type Catalog struct {
	templates map[string]string
}

// New builds a catalog from an in-memory template table.
func New(templates map[string]string) *Catalog {
	copied := make(map[string]string, len(templates))
	for k, v := range templates {
		copied[k] = v
	}
	return &Catalog{templates: copied}
}

// Load reads a catalog from a TOML file: a flat table of
// key = "template" pairs.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog load failed (%s): %w", path, err)
	}
	return Parse(data)
}

// Parse builds a catalog from TOML bytes.
func Parse(data []byte) (*Catalog, error) {
	templates := make(map[string]string)
	if err := toml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("catalog parse failed: %w", err)
	}
	return New(templates), nil
}

// Lookup returns the raw template for a key.
func (c *Catalog) Lookup(key string) (string, bool) {
	tpl, ok := c.templates[key]
	return tpl, ok
}

// Render interpolates the kind's template with the error context. A kind
// missing from the catalog falls back to the stable diagnostic string, so
// rendering never fails.
func (c *Catalog) Render(e protoerr.ErrorValue) string {
	tpl, ok := c.templates[Key(e.Kind)]
	if !ok {
		return e.Error()
	}
	return interpolate(tpl, e.Context)
}

// Fallback renders every error as its stable diagnostic string. Useful as
// the renderer of last resort when no catalog is configured.
type Fallback struct{}

func (Fallback) Render(e protoerr.ErrorValue) string {
	return e.Error()
}

// interpolate substitutes {$name} placeholders from context. Placeholders
// with no matching context key are left verbatim so missing data is visible
// in the output instead of silently dropped.
func interpolate(tpl string, context map[string]string) string {
	var b strings.Builder
	for {
		open := strings.Index(tpl, "{$")
		if open < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		end := strings.Index(tpl[open:], "}")
		if end < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		end += open
		name := tpl[open+2 : end]
		b.WriteString(tpl[:open])
		if v, ok := context[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tpl[open : end+1])
		}
		tpl = tpl[end+1:]
	}
}
