// Package plugin loads community adapters described by YAML files. Each
// adapter operation runs the declared command as its own process with a JSON
// request on stdin and a JSON response on stdout.
package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultTimeout = 2 * time.Minute

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Definition is one community adapter.
type Definition struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Command     string        `yaml:"command"`
	Args        []string      `yaml:"args"`
	Env         []string      `yaml:"env"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Validate checks required fields.
func (d Definition) Validate() error {
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("plugin: invalid name %q", d.Name)
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("plugin: %s: command is required", d.Name)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("plugin: %s: timeout must not be negative", d.Name)
	}
	return nil
}

func (d Definition) normalized() Definition {
	d.Command = strings.TrimSpace(d.Command)
	if d.Timeout == 0 {
		d.Timeout = defaultTimeout
	}
	return d
}

// DefinitionFile pairs a definition with the file it came from.
type DefinitionFile struct {
	Definition Definition
	Path       string
}

// ParseDefinition decodes and validates one YAML payload.
func ParseDefinition(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("plugin: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("plugin: decode definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def.normalized(), nil
}

// LoadDir reads every *.yaml / *.yml file in dir. A missing directory means
// no plugins.
func LoadDir(dir string) ([]DefinitionFile, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", dir, err)
	}
	var defs []DefinitionFile
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("plugin: read %s: %w", path, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s: %w", path, err)
		}
		if existing, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("plugin: duplicate adapter %s (%s and %s)", def.Name, existing, path)
		}
		seen[def.Name] = path
		defs = append(defs, DefinitionFile{Definition: def, Path: filepath.Clean(path)})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
