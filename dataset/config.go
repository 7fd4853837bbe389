package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML format for user-defined descriptor sets.
type File struct {
	Datasets []*Descriptor `yaml:"datasets"`
}

// LoadDescriptors reads descriptors from a YAML file. The builtin
// descriptors are returned first; file entries with a matching ID replace
// the builtin of that ID.
func LoadDescriptors(path string) ([]*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing descriptor file: %w", err)
	}

	descs := Builtin()
	for _, d := range file.Datasets {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("descriptor %q: %w", d.ID, err)
		}
		replaced := false
		for i, b := range descs {
			if b.ID == d.ID {
				descs[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			descs = append(descs, d)
		}
	}
	return descs, nil
}
