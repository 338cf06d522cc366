// Package manifest parses and validates bulk enrollment manifests.
//
// A manifest is a YAML document listing hardware to enroll:
//
//	hardware:
//	  - name: nc01
//	    project_id: chi-101
//	    hardware_type: baremetal
//	    properties:
//	      cpu_arch: x86_64
//
// Validation here is structural only; property documents are validated
// against the hardware type's schema at enrollment time.
package manifest

import "errors"

// MaxManifestSize is the maximum allowed manifest size (1 MiB).
const MaxManifestSize = 1 * 1024 * 1024

// Common manifest validation errors.
var (
	// ErrManifestTooLarge indicates the manifest exceeds the size limit.
	ErrManifestTooLarge = errors.New("manifest exceeds 1 MiB size limit")

	// ErrInvalidYAML indicates the manifest contains invalid YAML.
	ErrInvalidYAML = errors.New("manifest contains invalid YAML")

	// ErrEmptyManifest indicates the manifest lists no hardware.
	ErrEmptyManifest = errors.New("manifest lists no hardware")

	// ErrMissingField indicates a hardware entry lacks a required field.
	ErrMissingField = errors.New("hardware entry is missing required field")

	// ErrDuplicateName indicates two entries share a hardware name.
	ErrDuplicateName = errors.New("duplicate hardware name in manifest")
)

// Manifest is a parsed enrollment manifest.
type Manifest struct {
	// Hardware lists the items to enroll.
	Hardware []Item `yaml:"hardware"`
}

// Item is one hardware item to enroll.
type Item struct {
	// UUID optionally pins the hardware UUID; generated when empty.
	UUID string `yaml:"uuid"`

	// Name is the desired hardware name (required, unique).
	Name string `yaml:"name"`

	// ProjectID is the owning project (required).
	ProjectID string `yaml:"project_id"`

	// HardwareType selects the hardware type driver (required).
	HardwareType string `yaml:"hardware_type"`

	// Properties is the initial property document.
	Properties map[string]any `yaml:"properties"`
}
