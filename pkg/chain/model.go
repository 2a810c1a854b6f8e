// Package chain holds the minimal chain model used by the resolution engine: a
// graph of blocks bound to registered executors, the chain's main settings and
// the runnable chain instance.
package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wehubfusion/Daedalus/internal/schema"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// App is the "app" discriminator of chain documents.
const App = "chain"

// DefaultCategory is used when neither the document nor its location give a category.
const DefaultCategory = "chains"

// Block is one node of the chain graph.
type Block struct {
	ID         string              `json:"id"`
	ExecutorID string              `json:"executor_id"`
	Name       string              `json:"name,omitempty"`
	Parameters executor.Parameters `json:"parameters,omitempty"`
}

// Model is a parsed chain document.
type Model struct {
	App              string          `json:"app"`
	Version          string          `json:"version,omitempty"`
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	Category         string          `json:"category,omitempty"`
	Description      string          `json:"description,omitempty"`
	MainSettings     json.RawMessage `json:"main_settings,omitempty"`
	MainSettingsPath string          `json:"main_settings_path,omitempty"`
	Includes         []string        `json:"includes,omitempty"`
	InPorts          []executor.Port `json:"in_ports,omitempty"`
	OutPorts         []executor.Port `json:"out_ports,omitempty"`
	Blocks           []Block         `json:"blocks,omitempty"`

	path string
}

// ParseFile reads and parses a chain document.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelError{Path: path, Err: err}
	}
	return Parse(data, path)
}

// Parse parses a chain document located at path.
func Parse(data []byte, path string) (*Model, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ModelError{Path: path, Err: errors.New("malformed JSON")}
	}
	if err := modelValidator.Validate(data); err != nil {
		var verr *schema.ValidationError
		field := ""
		if errors.As(err, &verr) {
			field = verr.Location
		}
		return nil, &ModelError{Path: path, Field: field, Err: err}
	}

	var m Model
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, &ModelError{Path: path, Err: err}
	}
	m.App = App
	m.path = path
	if m.Name == "" {
		m.Name = m.ID
		if path != "" {
			m.Name = baseName(path)
		}
	}
	if m.Category == "" {
		m.Category = DefaultCategory
	}

	for i := range m.InPorts {
		if err := m.InPorts[i].Normalize(); err != nil {
			return nil, &ModelError{Path: path, Field: fmt.Sprintf("in_ports/%d", i), Err: err}
		}
	}
	for i := range m.OutPorts {
		if err := m.OutPorts[i].Normalize(); err != nil {
			return nil, &ModelError{Path: path, Field: fmt.Sprintf("out_ports/%d", i), Err: err}
		}
	}
	seen := make(map[string]struct{}, len(m.Blocks))
	for i, b := range m.Blocks {
		if _, dup := seen[b.ID]; dup {
			return nil, &ModelError{Path: path, Field: fmt.Sprintf("blocks/%d", i), Err: fmt.Errorf("duplicate block id %q", b.ID)}
		}
		seen[b.ID] = struct{}{}
	}
	return &m, nil
}

func baseName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".chain.json", ".json"} {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Path returns the document location, or "" for inline models.
func (m *Model) Path() string { return m.path }

// Resolve resolves a reference relative to the directory of the document.
func (m *Model) Resolve(ref string) string {
	if filepath.IsAbs(ref) || m.path == "" {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(m.path), ref)
}

// IncludePaths returns the resolved include paths in document order.
func (m *Model) IncludePaths() []string {
	paths := make([]string, len(m.Includes))
	for i, inc := range m.Includes {
		paths[i] = m.Resolve(inc)
	}
	return paths
}

// HasMainSettings reports whether the chain declares main settings.
func (m *Model) HasMainSettings() bool {
	return len(m.MainSettings) > 0 || m.MainSettingsPath != ""
}

// MainSettingsSpecification parses the main settings of the chain, inline or
// from main_settings_path. It returns nil when the chain has none.
func (m *Model) MainSettingsSpecification() (*settings.Specification, error) {
	var (
		spec *settings.Specification
		err  error
	)
	switch {
	case len(m.MainSettings) > 0:
		spec, err = settings.Parse(m.MainSettings, m.path)
	case m.MainSettingsPath != "":
		spec, err = settings.ParseFile(m.Resolve(m.MainSettingsPath))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, &ModelError{Path: m.path, Field: "main_settings", Err: err}
	}
	spec.App = settings.AppMainSettings
	return spec, nil
}

// Block returns the block with the given id.
func (m *Model) Block(id string) (Block, bool) {
	for _, b := range m.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// BlockFor returns the first block bound to an executor.
func (m *Model) BlockFor(executorID string) (Block, bool) {
	for _, b := range m.Blocks {
		if b.ExecutorID == executorID {
			return b, true
		}
	}
	return Block{}, false
}

// Marshal serializes the model as indented JSON.
func (m *Model) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
