package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding file settings.
const (
	EnvDatabase = "SYNCBOOK_DB"
	EnvListen   = "SYNCBOOK_LISTEN"
	EnvWorkers  = "SYNCBOOK_WORKERS"
	EnvBranch   = "SYNCBOOK_BRANCH"
)

// Load reads, overlays and validates a syncbook.yaml file. Unknown keys
// are rejected. A .env file next to the config is loaded first; variables
// already set in the process environment win over it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)

	if err := LoadDotEnv(cfg.dir); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return &cfg, nil
}

// LoadDotEnv loads dir/.env into the process environment if it exists.
func LoadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("loading %s: %w", p, err)
	}
	return nil
}

// ApplyEnv overrides settings from SYNCBOOK_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup(EnvBranch); ok && v != "" {
		c.Branch = v
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", EnvWorkers, v)
		}
		c.Workers = n
	}
	return nil
}

// Resolve makes p absolute relative to the config directory.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", cfg.Version))
	}
	if cfg.Workbook == "" {
		errs = append(errs, "'workbook' is required")
	}
	if cfg.Workers < 1 {
		errs = append(errs, fmt.Sprintf("'workers' must be at least 1, got %d", cfg.Workers))
	}

	accounts := make(map[string]bool)
	for i, a := range cfg.Accounts {
		prefix := fmt.Sprintf("account[%d]", i)
		if a.Name != "" {
			prefix = fmt.Sprintf("account '%s'", a.Name)
		}
		switch {
		case a.Name == "":
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		case accounts[a.Name]:
			errs = append(errs, fmt.Sprintf("%s: duplicate account name", prefix))
		default:
			accounts[a.Name] = true
		}
		switch a.Kind {
		case "memory":
		case "":
			errs = append(errs, fmt.Sprintf("%s: 'kind' is required, must be: memory", prefix))
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind '%s', must be: memory", prefix, a.Kind))
		}
		for j, c := range a.Collections {
			if c.Name == "" {
				errs = append(errs, fmt.Sprintf("%s: collection[%d]: 'name' is required", prefix, j))
			}
			errs = append(errs, validateRef(c.Schema, fmt.Sprintf("%s: collection '%s': schema", prefix, c.Name))...)
		}
	}

	ids := make(map[string]bool)
	for _, f := range cfg.Folders {
		if f.ID != "" {
			ids[f.ID] = true
		}
	}
	seen := make(map[string]bool)
	names := make(map[string]bool)
	for i, f := range cfg.Folders {
		prefix := fmt.Sprintf("folder[%d]", i)
		if f.ID != "" {
			prefix = fmt.Sprintf("folder '%s'", f.ID)
		}

		switch {
		case f.ID == "":
			errs = append(errs, fmt.Sprintf("%s: 'id' is required", prefix))
		case seen[f.ID]:
			errs = append(errs, fmt.Sprintf("%s: duplicate folder id", prefix))
		default:
			seen[f.ID] = true
		}
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		} else if strings.Contains(f.Name, "/") {
			errs = append(errs, fmt.Sprintf("%s: name '%s' must not contain '/'", prefix, f.Name))
		} else if key := f.Parent + "/" + f.Name; names[key] {
			errs = append(errs, fmt.Sprintf("%s: another folder named '%s' has the same parent", prefix, f.Name))
		} else {
			names[key] = true
		}
		if f.Parent != "" && !ids[f.Parent] {
			errs = append(errs, fmt.Sprintf("%s: references undefined parent '%s'", prefix, f.Parent))
		}
		if f.Parent != "" && f.Parent == f.ID {
			errs = append(errs, fmt.Sprintf("%s: a folder cannot be its own parent", prefix))
		}

		if f.Account == "" {
			if f.Collection != "" || f.FieldMap.Len() > 0 || f.FieldMapRef != nil {
				errs = append(errs, fmt.Sprintf("%s: 'collection' and field maps require 'account'", prefix))
			}
			continue
		}
		if !accounts[f.Account] {
			errs = append(errs, fmt.Sprintf("%s: references undefined account '%s'", prefix, f.Account))
		}
		if f.Collection == "" {
			errs = append(errs, fmt.Sprintf("%s: 'collection' is required with 'account'", prefix))
		}
		if f.FieldMap.Len() > 0 && f.FieldMapRef != nil {
			errs = append(errs, fmt.Sprintf("%s: 'field_map' and 'field_map_ref' are mutually exclusive, use one or the other", prefix))
		}
		errs = append(errs, validateRef(f.SourceSchema, prefix+": source_schema")...)
		errs = append(errs, validateRef(f.DestSchema, prefix+": dest_schema")...)
		errs = append(errs, validateRef(f.FieldMapRef, prefix+": field_map_ref")...)
	}

	return errs
}

func validateRef(r *Ref, prefix string) []string {
	if r == nil {
		return nil
	}
	var errs []string
	if r.File == "" {
		return append(errs, fmt.Sprintf("%s: 'file' is required", prefix))
	}
	if strings.EqualFold(filepath.Ext(r.File), ".cue") && r.Name == "" {
		errs = append(errs, fmt.Sprintf("%s: CUE file %s requires 'name'", prefix, r.File))
	}
	return errs
}
