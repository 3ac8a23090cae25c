package protocol

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mikkeyboi/custom-neuropype/pkg/errors"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// Parse decodes and validates a YAML protocol. Unknown keys are rejected
// so typos in hand-written protocols surface early.
func Parse(data []byte) (*Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Spec
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "invalid protocol yaml")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a protocol from a YAML file.
func Load(filename string) (*Spec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to read protocol").
			WithContext("path", filename)
	}
	return Parse(data)
}

// Preset returns a fresh copy of a built-in protocol.
func Preset(name string) (*Spec, error) {
	data, err := presetFS.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return nil, errors.Config("unknown protocol preset %q (available: %s)", name, strings.Join(Presets(), ", "))
	}
	return Parse(data)
}

// PresetSource returns the YAML text of a built-in protocol.
func PresetSource(name string) ([]byte, error) {
	data, err := presetFS.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return nil, errors.Config("unknown protocol preset %q", name)
	}
	return data, nil
}

// Presets lists the built-in protocol names, sorted.
func Presets() []string {
	entries, err := fs.ReadDir(presetFS, "presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Resolve loads nameOrPath as a file if one exists there, otherwise as a
// preset name.
func Resolve(nameOrPath string) (*Spec, error) {
	if nameOrPath == "" {
		return nil, errors.Config("no protocol selected")
	}
	if st, err := os.Stat(nameOrPath); err == nil && !st.IsDir() {
		return Load(nameOrPath)
	}
	return Preset(nameOrPath)
}
