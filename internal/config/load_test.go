package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncbook/internal/mapping"
	"github.com/roach88/syncbook/internal/transform"
)

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDatabase, EnvListen, EnvWorkers, EnvBranch} {
		unsetEnv(t, k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "syncbook.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join("testdata", "syncbook.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "crm", cfg.Workbook)
	assert.Equal(t, "state/syncbook.db", cfg.Database)
	assert.Equal(t, filepath.Join("testdata", "state", "syncbook.db"), cfg.Resolve(cfg.Database))
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultBranch, cfg.Branch)
	require.Len(t, cfg.Folders, 3)

	companies := cfg.Folders[2]
	require.Equal(t, 2, companies.FieldMap.Len())
	e, ok := companies.FieldMap.Get("revenue")
	require.True(t, ok)
	assert.Equal(t, transform.StringToNumber{StripCurrency: true}, e.Transformer)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "version: 1\nworkbook: w\ndatabse: typo.db\n")

	_, err := Load(p)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "databse")
}

func TestLoad_EnvOverlay(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "version: 1\nworkbook: w\ndatabase: file.db\nbranch: main\n")
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(p), ".env"), []byte("SYNCBOOK_BRANCH=staging\nSYNCBOOK_WORKERS=4\n"), 0o644))
	t.Setenv(EnvDatabase, "/tmp/from-env.db")
	t.Setenv(EnvWorkers, "8")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env.db", cfg.Database)
	assert.Equal(t, "staging", cfg.Branch, ".env fills unset variables")
	assert.Equal(t, 8, cfg.Workers, "the process environment wins over .env")
}

func TestApplyEnv_BadWorkers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvWorkers {
			return "many", true
		}
		return "", false
	})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Version:  1,
			Workbook: "w",
			Workers:  1,
			Accounts: []Account{{Name: "memory", Kind: "memory"}},
			Folders: []Folder{
				{ID: "root", Name: "root"},
				{ID: "a", Name: "a", Parent: "root", Account: "memory", Collection: "a"},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"version", func(c *Config) { c.Version = 2 }, "unsupported version 2"},
		{"workbook", func(c *Config) { c.Workbook = "" }, "'workbook' is required"},
		{"workers", func(c *Config) { c.Workers = 0 }, "'workers' must be at least 1"},
		{"account kind", func(c *Config) { c.Accounts[0].Kind = "airtable" }, "unknown kind 'airtable'"},
		{"duplicate account", func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }, "duplicate account name"},
		{"duplicate folder", func(c *Config) { c.Folders = append(c.Folders, c.Folders[1]) }, "duplicate folder id"},
		{"unknown parent", func(c *Config) { c.Folders[1].Parent = "nope" }, "undefined parent 'nope'"},
		{"slash in name", func(c *Config) { c.Folders[1].Name = "a/b" }, "must not contain '/'"},
		{"unknown account", func(c *Config) { c.Folders[1].Account = "nope" }, "undefined account 'nope'"},
		{"missing collection", func(c *Config) { c.Folders[1].Collection = "" }, "'collection' is required"},
		{"collection without account", func(c *Config) { c.Folders[0].Collection = "x" }, "require 'account'"},
		{"cue ref without name", func(c *Config) { c.Folders[1].SourceSchema = &Ref{File: "defs.cue"} }, "requires 'name'"},
		{
			"both field maps",
			func(c *Config) {
				c.Folders[1].FieldMap = mapping.New(mapping.Entry{Source: "x", Destination: "y"})
				c.Folders[1].FieldMapRef = &Ref{File: "defs.cue", Name: "a"}
			},
			"mutually exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			errs := Validate(cfg)

			if tt.want == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Errors: []string{"a", "b"}}
	assert.Equal(t, "config validation failed:\n  - a\n  - b", err.Error())
}

func TestDataFolders(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("testdata", "syncbook.yaml"))
	require.NoError(t, err)
	reg, err := cfg.Connectors()
	require.NoError(t, err)

	folders, err := cfg.DataFolders(context.Background(), reg)
	require.NoError(t, err)

	require.Len(t, folders, 3)
	assert.Equal(t, "crm", folders[0].Path)
	assert.Equal(t, "crm/people", folders[1].Path)
	assert.Equal(t, "crm/companies", folders[2].Path)

	people := folders[1]
	assert.Equal(t, "crm", people.WorkbookID)
	require.NotNil(t, people.SourceSchema)
	require.NotNil(t, people.DestSchema)
	e, ok := people.FieldMap.Get("company")
	require.True(t, ok)
	assert.Equal(t, transform.SourceFKToDestFK{ReferencedFolderID: "companies"}, e.Transformer)

	companies := folders[2]
	require.NotNil(t, companies.DestSchema, "taken from the connector")
	_, ok = companies.DestSchema.Field("title")
	assert.True(t, ok)
	assert.Empty(t, mapping.Blocking(mapping.Validate(companies.SourceSchema, companies.DestSchema, companies.FieldMap), companies.FieldMap))
}

func TestDataFolders_MissingConnectorSchema(t *testing.T) {
	cfg := &Config{
		Version:  1,
		Workbook: "w",
		Accounts: []Account{{Name: "memory", Kind: "memory", Collections: []Collection{{Name: "people"}}}},
		Folders:  []Folder{{ID: "p", Name: "p", Account: "memory", Collection: "people"}},
	}
	reg, err := cfg.Connectors()
	require.NoError(t, err)

	_, err = cfg.DataFolders(context.Background(), reg)

	assert.Error(t, err)
}
