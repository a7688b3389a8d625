package msgcat

import (
    "embed"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

const defaultFile = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog maps dot-keys ("move.cell_occupied") to text/template sources.
// Templates are compiled on load so a broken override fails at startup.
type Catalog struct {
    mu   sync.RWMutex
    tpls map[string]*template.Template
}

// New loads the embedded messages, then overrides from dir (*.yaml, *.yml)
// when dir is non-empty.
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{tpls: make(map[string]*template.Template)}
    raw, err := fs.ReadFile(defaultFiles, defaultFile)
    if err != nil { return nil, fmt.Errorf("read embedded messages: %w", err) }
    flat, err := parseYAMLToFlat(raw)
    if err != nil { return nil, fmt.Errorf("parse %s: %w", defaultFile, err) }
    if err := c.apply(flat); err != nil { return nil, err }

    if dir := strings.TrimSpace(overrideDir); dir != "" {
        if err := c.applyDir(dir); err != nil { return nil, err }
    }
    return c, nil
}

// Default returns the embedded catalog. It panics only if the embedded file
// is broken, which the package tests rule out.
func Default() *Catalog {
    c, err := New("")
    if err != nil { panic(err) }
    return c
}

func (c *Catalog) applyDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return fmt.Errorf("read messages dir: %w", err) }
    files := make([]string, 0, len(entries))
    for _, e := range entries {
        if e.IsDir() { continue }
        switch strings.ToLower(filepath.Ext(e.Name())) {
        case ".yaml", ".yml":
            files = append(files, e.Name())
        }
    }
    sort.Strings(files)
    seen := make(map[string]string)
    for _, name := range files {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return fmt.Errorf("read %s: %w", name, err) }
        flat, err := parseYAMLToFlat(b)
        if err != nil { return fmt.Errorf("parse %s: %w", name, err) }
        for k := range flat {
            if prev, ok := seen[k]; ok {
                return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
            }
            seen[k] = name
        }
        if err := c.apply(flat); err != nil { return fmt.Errorf("%s: %w", name, err) }
    }
    return nil
}

func (c *Catalog) apply(flat map[string]string) error {
    compiled := make(map[string]*template.Template, len(flat))
    for k, src := range flat {
        if strings.TrimSpace(src) == "" { continue }
        t, err := template.New(k).Option("missingkey=error").Parse(src)
        if err != nil { return fmt.Errorf("template %s: %w", k, err) }
        compiled[k] = t
    }
    c.mu.Lock()
    for k, t := range compiled { c.tpls[k] = t }
    c.mu.Unlock()
    return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
    var m map[string]any
    if err := yaml.Unmarshal(b, &m); err != nil { return nil, err }
    flat := make(map[string]string)
    if err := flattenStrings(m, "", flat); err != nil { return nil, err }
    return flat, nil
}

func flattenStrings(src any, prefix string, out map[string]string) error {
    switch v := src.(type) {
    case map[string]any:
        for k, vv := range v {
            key := k
            if prefix != "" { key = prefix + "." + k }
            if err := flattenStrings(vv, key, out); err != nil { return err }
        }
        return nil
    case map[any]any:
        tmp := make(map[string]any, len(v))
        for kk, vv := range v { tmp[fmt.Sprint(kk)] = vv }
        return flattenStrings(tmp, prefix, out)
    case string:
        if prefix == "" { return errors.New("string value without key prefix") }
        out[prefix] = v
        return nil
    case nil:
        return nil
    default:
        return fmt.Errorf("unsupported value at %s: %T", prefix, v)
    }
}

// Render executes the template stored under key. Unknown keys and missing
// data fields are errors.
func (c *Catalog) Render(key string, data any) (string, error) {
    key = strings.TrimSpace(key)
    c.mu.RLock()
    t, ok := c.tpls[key]
    c.mu.RUnlock()
    if !ok { return "", fmt.Errorf("template not found: %s", key) }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}

// Text renders key and falls back to the key itself on any error.
func (c *Catalog) Text(key string, data any) string {
    if c == nil { return key }
    s, err := c.Render(key, data)
    if err != nil { return key }
    return s
}

// Keys lists loaded keys in sorted order.
func (c *Catalog) Keys() []string {
    c.mu.RLock()
    out := make([]string, 0, len(c.tpls))
    for k := range c.tpls { out = append(out, k) }
    c.mu.RUnlock()
    sort.Strings(out)
    return out
}
