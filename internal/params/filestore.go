package params

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultPreset is used when a parameter file names no active preset.
const DefaultPreset = "default"

// parameterFile is the on-disk layout of a parameter store file.
//
//	preset: strict
//	presets:
//	  default:
//	    lowpass: 40
//	  strict:
//	    lowpass: 30
type parameterFile struct {
	Preset  string                    `yaml:"preset"`
	Presets map[string]map[string]any `yaml:"presets"`
}

// FileStore is a persisted parameter store read from a YAML file. It holds the
// values of one preset and is immutable after loading.
type FileStore struct {
	preset  string
	presets []string
	values  Map
}

// LoadFile reads a parameter file and selects preset. An empty preset selects
// the file's active preset, falling back to [DefaultPreset].
func LoadFile(path, preset string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	return ParseFile(data, preset)
}

// ParseFile parses parameter file contents. See [LoadFile].
func ParseFile(data []byte, preset string) (*FileStore, error) {
	var raw parameterFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file: %w", err)
	}

	if preset == "" {
		preset = raw.Preset
	}
	if preset == "" {
		preset = DefaultPreset
	}

	values, ok := raw.Presets[preset]
	if !ok {
		return nil, fmt.Errorf("parameter preset %q not found", preset)
	}

	names := make([]string, 0, len(raw.Presets))
	for name := range raw.Presets {
		names = append(names, name)
	}
	sort.Strings(names)

	copied := make(Map, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &FileStore{preset: preset, presets: names, values: copied}, nil
}

// Get implements [Lookup].
func (s *FileStore) Get(key string) (any, bool) {
	return s.values.Get(key)
}

// Preset returns the selected preset name.
func (s *FileStore) Preset() string { return s.preset }

// Presets returns every preset name in the file, sorted.
func (s *FileStore) Presets() []string { return s.presets }
