package flow

import (
	"io"
	"os"

	"github.com/juju/errors"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// NodeDef is one node in a flow file. Keys other than the common ones are the
// node's own settings and land in Config.
type NodeDef struct {
	ID     string         `yaml:"id"`
	Type   string         `yaml:"type"`
	Name   string         `yaml:"name,omitempty"`
	Wires  []string       `yaml:"wires,omitempty"`
	Config map[string]any `yaml:",inline"`
}

// Label returns the name if set, else the id.
func (d *NodeDef) Label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Decode copies Config into target, a pointer to a struct with yaml tags.
// Scalars are converted loosely, so port: "8080" fills an int and
// timeout: 5s fills a time.Duration. Unknown keys are an error.
func (d *NodeDef) Decode(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := decoder.Decode(d.Config); err != nil {
		return errors.NewNotValid(err, "node "+d.ID+" config")
	}
	return nil
}

// Definition is a parsed flow file.
type Definition struct {
	Nodes []NodeDef `yaml:"nodes"`
}

// Load parses a flow definition.
func Load(r io.Reader) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&def); err != nil {
		if err == io.EOF {
			return &def, nil
		}
		return nil, errors.NewNotValid(err, "flow definition")
	}
	return &def, nil
}

// LoadFile parses the flow definition at path.
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	def, err := Load(f)
	if err != nil {
		return nil, errors.Annotatef(err, "loading %s", path)
	}
	return def, nil
}

// Validate checks ids are present and unique, types are registered, and
// wires point at nodes of the flow.
func (d *Definition) Validate(types *Types) error {
	ids := make(map[string]bool, len(d.Nodes))
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			return errors.NotValidf("node %d without id", i)
		}
		if ids[n.ID] {
			return errors.NotValidf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if _, ok := types.Lookup(n.Type); !ok {
			return errors.NotFoundf("type %q of node %q", n.Type, n.ID)
		}
	}
	for _, n := range d.Nodes {
		for _, target := range n.Wires {
			if !ids[target] {
				return errors.NotFoundf("wire target %q of node %q", target, n.ID)
			}
		}
	}
	return nil
}
