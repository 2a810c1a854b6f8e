// Package multichain implements multichains: sets of interchangeable chain
// variants that share a port contract and are selected at run time through a
// synthesized settings control.
package multichain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/wehubfusion/Daedalus/internal/schema"
	"github.com/wehubfusion/Daedalus/pkg/chain"
	"github.com/wehubfusion/Daedalus/pkg/executor"
	"github.com/wehubfusion/Daedalus/pkg/loader"
	"github.com/wehubfusion/Daedalus/pkg/settings"
)

// App is the "app" discriminator of multichain documents.
const App = "multi-chain"

// DefaultCategory is used when the document gives no category.
const DefaultCategory = "multichains"

// Model is a parsed multichain document.
type Model struct {
	App               string                           `json:"app"`
	Version           string                           `json:"version,omitempty"`
	ID                string                           `json:"id"`
	Name              string                           `json:"name,omitempty"`
	Category          string                           `json:"category,omitempty"`
	Description       string                           `json:"description,omitempty"`
	SettingsID        string                           `json:"settings_id,omitempty"`
	ChainVariantPaths []string                         `json:"chain_variant_paths"`
	DefaultVariantID  string                           `json:"default_variant_id,omitempty"`
	InPorts           []executor.Port                  `json:"in_ports,omitempty"`
	OutPorts          []executor.Port                  `json:"out_ports,omitempty"`
	Controls          []*executor.ControlSpecification `json:"controls,omitempty"`
	Options           *executor.Options                `json:"options,omitempty"`

	path string
}

// DerivedSettingsID returns the settings id used when a multichain declares none.
func DerivedSettingsID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("daedalus:multichain-settings:"+id)).String()
}

// ParseFile reads and parses a multichain document.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelError{Path: path, Err: err}
	}
	return Parse(data, path)
}

// Parse parses a multichain document located at path.
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
	if err := json.Unmarshal(data, &m); err != nil {
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
	if m.SettingsID == "" {
		m.SettingsID = DerivedSettingsID(m.ID)
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
	seen := make(map[string]struct{}, len(m.Controls))
	for i, c := range m.Controls {
		field := fmt.Sprintf("controls/%d", i)
		if err := c.Normalize(); err != nil {
			return nil, &ModelError{Path: path, Field: field, Err: err}
		}
		if settings.IsReservedName(c.Name) {
			return nil, &ModelError{Path: path, Field: field, Err: fmt.Errorf("%w: %q", settings.ErrReservedControlName, c.Name)}
		}
		if _, dup := seen[c.Name]; dup {
			return nil, &ModelError{Path: path, Field: field, Err: fmt.Errorf("%w: %q", settings.ErrDuplicateControl, c.Name)}
		}
		seen[c.Name] = struct{}{}
	}
	return &m, nil
}

func baseName(path string) string {
	name := filepath.Base(path)
	for _, suffix := range []string{".multichain.json", ".json"} {
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

// IsSkippable reports whether the multichain declares the skippable behavior.
func (m *Model) IsSkippable() bool {
	return m.Options != nil && m.Options.Behavior != nil && m.Options.Behavior.Skippable
}

// VariantFiles resolves chain_variant_paths. A file is taken as is; a
// directory contributes the chain documents it contains, in lexical order.
func (m *Model) VariantFiles() ([]string, error) {
	var files []string
	for _, ref := range m.ChainVariantPaths {
		path := m.Resolve(ref)
		info, err := os.Stat(path)
		if err != nil {
			return nil, &ModelError{Path: m.path, Field: "chain_variant_paths", Err: err}
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := loader.ScanDir(path, false)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", f, err)
			}
			if gjson.ValidBytes(data) && gjson.GetBytes(data, "app").String() == chain.App {
				files = append(files, f)
			}
		}
	}
	return files, nil
}

// Marshal serializes the model as indented JSON.
func (m *Model) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
