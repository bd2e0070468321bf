// Package templates stores reusable job definitions and persists them as a
// full snapshot after every change.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/helios-gateway/internal/engine"
)

// Template is a named, reusable job definition.
type Template struct {
	ID          string                     `json:"id" yaml:"id"`
	Name        string                     `json:"name" yaml:"name"`
	Description string                     `json:"description" yaml:"description"`
	Processes   []engine.ProcessDescriptor `json:"processes" yaml:"processes"`
}

// Definition returns the engine definition the template runs.
func (t Template) Definition() engine.Definition {
	return engine.Definition{
		Name:        t.Name,
		Description: t.Description,
		Processes:   cloneProcesses(t.Processes),
	}
}

func (t Template) clone() Template {
	t.Processes = cloneProcesses(t.Processes)
	return t
}

func cloneProcesses(in []engine.ProcessDescriptor) []engine.ProcessDescriptor {
	if in == nil {
		return []engine.ProcessDescriptor{}
	}
	out := make([]engine.ProcessDescriptor, len(in))
	for i, p := range in {
		out[i] = engine.ProcessDescriptor{Type: p.Type, Config: cloneValue(p.Config)}
	}
	return out
}

func cloneValue(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneValue(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneAny(item)
		}
		return out
	default:
		return val
	}
}

// Format is the encoding of a snapshot.
type Format string

// Snapshot formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file or object name; JSON unless the
// name ends in .yaml or .yml.
func FormatFor(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type document struct {
	Data []Template `json:"data" yaml:"data"`
}

func encode(format Format, items map[string]Template) ([]byte, error) {
	doc := document{Data: make([]Template, 0, len(items))}
	for _, t := range items {
		doc.Data = append(doc.Data, t)
	}
	sort.Slice(doc.Data, func(i, j int) bool { return doc.Data[i].ID < doc.Data[j].ID })

	switch format {
	case FormatYAML:
		return yaml.Marshal(doc)
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
}

func decode(format Format, data []byte) (map[string]Template, error) {
	var doc document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatJSON, "":
		err = json.Unmarshal(data, &doc)
	default:
		err = fmt.Errorf("unknown snapshot format %q", format)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]Template, len(doc.Data))
	for i, t := range doc.Data {
		if t.ID == "" {
			return nil, fmt.Errorf("template %d: %w", i, errMissingID)
		}
		if _, dup := out[t.ID]; dup {
			return nil, fmt.Errorf("template %s: duplicate id", t.ID)
		}
		if t.Processes == nil {
			t.Processes = []engine.ProcessDescriptor{}
		}
		out[t.ID] = t
	}
	return out, nil
}

var errMissingID = errors.New("missing id")
