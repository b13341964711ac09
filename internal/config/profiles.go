package config

import (
	"os"

	"github.com/koustreak/querydeck/internal/database"
	"github.com/koustreak/querydeck/internal/errs"
	"go.yaml.in/yaml/v3"
)

// Profiles is a set of saved connection configurations.
type Profiles []database.ConnectionConfig

type profileFile struct {
	Connections Profiles `yaml:"connections"`
}

// LoadProfiles reads a profile file. The file holds either a bare list of
// connections or a mapping with a "connections" key; JSON is accepted as
// the YAML subset it is.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindIO, "failed to read profiles "+path, err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profile data and validates each entry.
func ParseProfiles(data []byte) (Profiles, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, errs.Wrap(errs.ErrKindSerialization, "invalid profile file", err)
	}
	if len(node.Content) == 0 {
		return Profiles{}, nil
	}

	var out Profiles
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&out); err != nil {
			return nil, decodeErr(err)
		}
	case yaml.MappingNode:
		var pf profileFile
		if err := root.Decode(&pf); err != nil {
			return nil, decodeErr(err)
		}
		out = pf.Connections
	default:
		return nil, errs.New(errs.ErrKindSerialization, "profile file must hold a list of connections")
	}

	seen := make(map[string]bool, len(out))
	for i := range out {
		p := &out[i]
		if p.ID == "" {
			return nil, errs.Newf(errs.ErrKindConfig, "profile %d has no id", i)
		}
		if seen[p.ID] {
			return nil, errs.Newf(errs.ErrKindConfig, "duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
		if err := p.Validate(); err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "profile "+p.ID, err)
		}
	}
	if out == nil {
		out = Profiles{}
	}
	return out, nil
}

func decodeErr(err error) error {
	// Port decoding already reports a config error; keep its kind.
	if errs.IsConfig(err) {
		return err
	}
	return errs.Wrap(errs.ErrKindSerialization, "invalid profile file", err)
}

// Find returns a copy of the profile with the given id.
func (p Profiles) Find(id string) (*database.ConnectionConfig, error) {
	for i := range p {
		if p[i].ID == id {
			return p[i].Clone(), nil
		}
	}
	return nil, errs.ConnectionNotFound(id)
}

// IDs lists profile ids in file order.
func (p Profiles) IDs() []string {
	ids := make([]string, len(p))
	for i := range p {
		ids[i] = p[i].ID
	}
	return ids
}
