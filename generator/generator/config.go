package generator

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config controls one generation run. Every field can come from a
// pybind.toml file, and the CLI flags override whatever the file set.
type Config struct {
	// Package is the go/packages load pattern naming the package to scan.
	Package string `toml:"package"`
	// Module is the interpreter-visible module name. Empty means the Go
	// package name.
	Module string `toml:"module"`
	// Bindings is the output path of the generated registration file.
	// Empty means pybind_bindings.go next to the scanned package.
	Bindings string `toml:"bindings"`
	// Stub is the output path of the generated .pyi stub. Empty disables
	// stub generation.
	Stub string `toml:"stub"`
	// InitFunc is the name of the generated registration function.
	InitFunc string `toml:"init-func"`
	// Backend selects the registration entry point: "classic", "stable",
	// or empty for the engine default.
	Backend string `toml:"backend"`

	// Classes holds per-class overrides, keyed by Go type name. Directive
	// arguments in the source win over these.
	Classes map[string]ClassConfig `toml:"classes"`
}

// ClassConfig overrides registration options for one class.
type ClassConfig struct {
	Name     string `toml:"name"`
	Frozen   bool   `toml:"frozen"`
	Pool     int    `toml:"pool"`
	Dict     bool   `toml:"dict"`
	Weakrefs bool   `toml:"weakrefs"`
	Doc      string `toml:"doc"`
}

func DefaultConfig() Config {
	return Config{
		InitFunc: "NewBindings",
	}
}

// LoadConfig parses a pybind.toml file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if cfg.Backend != "" && cfg.Backend != "classic" && cfg.Backend != "stable" {
		return Config{}, fmt.Errorf("%s: unknown backend %q", path, cfg.Backend)
	}
	return cfg, nil
}
