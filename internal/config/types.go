// Package config loads the syncbook workbook file: storage and service
// settings, connector accounts and the folder tree with its mappings.
package config

import "github.com/roach88/syncbook/internal/mapping"

// Config represents a syncbook.yaml file.
type Config struct {
	Version  int       `yaml:"version"`
	Database string    `yaml:"database,omitempty"`
	Listen   string    `yaml:"listen,omitempty"`
	Workers  int       `yaml:"workers,omitempty"`
	Branch   string    `yaml:"branch,omitempty"`
	Workbook string    `yaml:"workbook"`
	Accounts []Account `yaml:"accounts,omitempty"`
	Folders  []Folder  `yaml:"folders,omitempty"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// Account is a named connector instance.
type Account struct {
	Name string `yaml:"name"`
	// Kind selects the connector implementation. Only "memory" exists.
	Kind string `yaml:"kind"`
	// State is an optional JSON file the memory connector persists to.
	State       string       `yaml:"state,omitempty"`
	Collections []Collection `yaml:"collections,omitempty"`
}

// Collection declares a remote collection of a memory account.
type Collection struct {
	Name   string `yaml:"name"`
	Schema *Ref   `yaml:"schema,omitempty"`
}

// Ref points at a definition in a file. Name selects the CUE definition
// and is ignored for JSON Schema files.
type Ref struct {
	File string `yaml:"file"`
	Name string `yaml:"name,omitempty"`
}

// Folder declares a data folder. A folder without an account is a plain
// grouping folder.
type Folder struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Parent     string `yaml:"parent,omitempty"`
	Account    string `yaml:"account,omitempty"`
	Collection string `yaml:"collection,omitempty"`

	SourceSchema *Ref `yaml:"source_schema,omitempty"`
	// DestSchema defaults to the schema the connector reports.
	DestSchema *Ref `yaml:"dest_schema,omitempty"`

	FieldMap    mapping.FieldMap `yaml:"field_map,omitempty"`
	FieldMapRef *Ref             `yaml:"field_map_ref,omitempty"`
}

// Defaults applied to unset settings.
const (
	DefaultDatabase = "syncbook.db"
	DefaultListen   = "127.0.0.1:8080"
	DefaultWorkers  = 2
	DefaultBranch   = "published"
	DefaultWorkbook = "default"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Version: 1, Workbook: DefaultWorkbook}
	cfg.applyDefaults()
	return cfg
}

// Dir returns the directory relative paths resolve against.
func (c *Config) Dir() string { return c.dir }

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
}
