// Package manifest models the server's API as a version string plus a set
// of named models — the non-channel shape the protocol settled on (see
// DESIGN.md). It also implements the argument/response validation engine
// that gates custom requests against that model.
package manifest

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/corvidlabs/janusbroker/pkg/security"
)

// Manifest is the server's published API document: a semantic version plus
// an optional table of named models. There is no channel layer — request
// dispatch is keyed solely by request name.
type Manifest struct {
	Version     string            `json:"version" yaml:"version"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Models      map[string]*Model `json:"models,omitempty" yaml:"models,omitempty"`
}

// Model is a record type: a property map plus the subset of those
// properties that are required.
type Model struct {
	Type        string                   `json:"type" yaml:"type"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  map[string]*ArgumentSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    []string                 `json:"required,omitempty" yaml:"required,omitempty"`
}

// Validation bounds a string or numeric ArgumentSpec value.
type Validation struct {
	MinLength *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Enum      []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// ArgumentSpec describes one request argument or response field.
type ArgumentSpec struct {
	Type        string                   `json:"type" yaml:"type"`
	Required    bool                     `json:"required,omitempty" yaml:"required,omitempty"`
	Description string                   `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any                      `json:"default,omitempty" yaml:"default,omitempty"`
	Validation  *Validation              `json:"validation,omitempty" yaml:"validation,omitempty"`
	ModelRef    string                   `json:"model_ref,omitempty" yaml:"model_ref,omitempty"`
	Items       *ArgumentSpec            `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]*ArgumentSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// primitiveTypes are the type tags an ArgumentSpec.Type may carry.
var primitiveTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// Validate checks structural well-formedness: a semantic version, no
// reserved request names among the model keys, and that every model's
// property types and model references resolve.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return errors.New("manifest: version is required")
	}
	if !isSemver(m.Version) {
		return errors.Newf("manifest: version %q is not MAJOR.MINOR.PATCH", m.Version)
	}
	for name := range m.Models {
		for _, reserved := range security.ReservedNames {
			if strings.EqualFold(name, reserved) {
				return errors.Newf("manifest: model name %q collides with a reserved built-in request name", name)
			}
		}
	}
	for name, model := range m.Models {
		if err := model.validate(m, name); err != nil {
			return err
		}
	}
	return nil
}

func (mo *Model) validate(m *Manifest, name string) error {
	if mo.Type == "" {
		return errors.Newf("manifest: model %q has no type", name)
	}
	for propName, spec := range mo.Properties {
		if err := spec.validateShape(m); err != nil {
			return errors.Wrapf(err, "manifest: model %q property %q", name, propName)
		}
	}
	return nil
}

func (a *ArgumentSpec) validateShape(m *Manifest) error {
	if a.Type != "" && !primitiveTypes[a.Type] {
		return errors.Newf("unrecognized type tag %q", a.Type)
	}
	if a.ModelRef != "" {
		if _, ok := m.Models[a.ModelRef]; !ok {
			return errors.Newf("model reference %q does not resolve", a.ModelRef)
		}
	}
	if a.Validation != nil && a.Validation.Minimum != nil && a.Validation.Maximum != nil {
		if *a.Validation.Minimum > *a.Validation.Maximum {
			return errors.New("minimum exceeds maximum")
		}
	}
	if a.Validation != nil && a.Validation.MinLength != nil && a.Validation.MaxLength != nil {
		if *a.Validation.MinLength > *a.Validation.MaxLength {
			return errors.New("min_length exceeds max_length")
		}
	}
	if a.Items != nil {
		if err := a.Items.validateShape(m); err != nil {
			return errors.Wrap(err, "items")
		}
	}
	for propName, prop := range a.Properties {
		if err := prop.validateShape(m); err != nil {
			return errors.Wrapf(err, "property %q", propName)
		}
	}
	return nil
}

// HasModel reports whether name is defined.
func (m *Manifest) HasModel(name string) bool {
	if m.Models == nil {
		return false
	}
	_, ok := m.Models[name]
	return ok
}

func isSemver(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
