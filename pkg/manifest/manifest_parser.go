package manifest

import (
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"encoding/json"
)

// Parser parses manifest documents from JSON or YAML text. Both decoders
// run in strict mode — an unrecognized field is a parse error rather than
// being silently dropped, since a client that misreads a stale field name
// should fail loudly rather than operate on a partial manifest.
type Parser struct{}

// NewParser returns a Parser. It holds no state.
func NewParser() *Parser { return &Parser{} }

// ParseJSON parses and validates a JSON manifest document.
func (p *Parser) ParseJSON(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest: JSON document is empty")
	}
	var m Manifest
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "manifest: parse JSON")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseYAML parses and validates a YAML manifest document.
func (p *Parser) ParseYAML(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, errors.New("manifest: YAML document is empty")
	}
	var m Manifest
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "manifest: parse YAML")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Parse auto-detects JSON vs YAML by leading-brace sniffing, then parses.
// There is no on-disk or file-path notion here — the caller supplies
// already-loaded document text; file loading is an external collaborator.
func (p *Parser) Parse(document []byte) (*Manifest, error) {
	trimmed := strings.TrimSpace(string(document))
	if strings.HasPrefix(trimmed, "{") {
		if m, err := p.ParseJSON(document); err == nil {
			return m, nil
		}
	}
	return p.ParseYAML(document)
}

// Serialize renders m back to canonical JSON, primarily for test fixtures
// and debugging.
func (p *Parser) Serialize(m *Manifest) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "manifest: serialize")
	}
	return b, nil
}
