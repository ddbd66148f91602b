// Package config loads .reciperunner.yaml: the handful of run-wide
// defaults (worker count, default test filter, coverage toggle, fetch URL)
// that the CLI lets a flag override. Grounded on the teacher's cmd root
// command config-file loading, generalized from opal's project manifest
// shape to this spec's narrower settings surface.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file's conventional name, searched for in the
// current working directory.
const FileName = ".reciperunner.yaml"

// Config holds every setting a .reciperunner.yaml file may declare.
type Config struct {
	Workers        int    `yaml:"workers" validate:"min=1"`
	DefaultFilter  string `yaml:"default_filter"`
	CoverageGate   *bool  `yaml:"coverage_gate"`
	FetchURL       string `yaml:"fetch_url" validate:"omitempty,url"`
	ExpectationDir string `yaml:"expectation_dir" validate:"required"`
}

var validate = validator.New()

// Defaults returns the built-in settings used when no config file is
// present and no flag overrides a field.
func Defaults() Config {
	gate := true
	return Config{
		Workers:        4,
		ExpectationDir: "recipes/tests",
		CoverageGate:   &gate,
	}
}

// Load reads path (typically FileName in the working directory), merging
// onto Defaults(). A missing file is not an error — it just means
// Defaults() applies unmodified.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if fileCfg.Workers != 0 {
		cfg.Workers = fileCfg.Workers
	}
	if fileCfg.DefaultFilter != "" {
		cfg.DefaultFilter = fileCfg.DefaultFilter
	}
	if fileCfg.CoverageGate != nil {
		cfg.CoverageGate = fileCfg.CoverageGate
	}
	if fileCfg.FetchURL != "" {
		cfg.FetchURL = fileCfg.FetchURL
	}
	if fileCfg.ExpectationDir != "" {
		cfg.ExpectationDir = fileCfg.ExpectationDir
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}
