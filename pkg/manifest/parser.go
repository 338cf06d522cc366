package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	if len(data) > MaxManifestSize {
		return nil, ErrManifestTooLarge
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every entry carries the fields enrollment requires and
// that names are unique within the manifest.
func (m *Manifest) Validate() error {
	if len(m.Hardware) == 0 {
		return ErrEmptyManifest
	}

	seen := make(map[string]bool, len(m.Hardware))
	for i, item := range m.Hardware {
		switch {
		case item.Name == "":
			return fmt.Errorf("%w: entry %d has no name", ErrMissingField, i)
		case item.ProjectID == "":
			return fmt.Errorf("%w: entry %q has no project_id", ErrMissingField, item.Name)
		case item.HardwareType == "":
			return fmt.Errorf("%w: entry %q has no hardware_type", ErrMissingField, item.Name)
		}

		if seen[item.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, item.Name)
		}
		seen[item.Name] = true
	}
	return nil
}
