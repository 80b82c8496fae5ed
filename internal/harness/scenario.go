package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syncbook/internal/ir"
)

// Scenario is one publish conformance case.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Config is the syncbook config declaring folders and accounts,
	// relative to the scenario file. Its database setting is ignored.
	Config string `yaml:"config"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action. Exactly one action field is set.
type Step struct {
	Create      *FileStep    `yaml:"create,omitempty"`
	Stage       *FieldStep   `yaml:"stage,omitempty"`
	DeleteField *FieldStep   `yaml:"delete_field,omitempty"`
	Unstage     *FieldStep   `yaml:"unstage,omitempty"`
	Delete      *FileStep    `yaml:"delete,omitempty"`
	Suggest     *FieldStep   `yaml:"suggest,omitempty"`
	Accept      *FieldStep   `yaml:"accept,omitempty"`
	Reject      *FieldStep   `yaml:"reject,omitempty"`
	Seed        *RemoteStep  `yaml:"seed,omitempty"`
	Remove      *RemoteStep  `yaml:"remove,omitempty"`
	Fail        *FailStep    `yaml:"fail,omitempty"`
	Publish     *PublishStep `yaml:"publish,omitempty"`
	Pull        *FolderStep  `yaml:"pull,omitempty"`
	Move        *MoveStep    `yaml:"move,omitempty"`

	// ExpectError is the runtime error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// FileStep names a local file, with content for create.
type FileStep struct {
	Folder  string         `yaml:"folder"`
	File    string         `yaml:"file"`
	Content map[string]any `yaml:"content,omitempty"`
}

// FieldStep names one field of a local file. Delete on a suggestion
// proposes removing the field.
type FieldStep struct {
	Folder string `yaml:"folder"`
	File   string `yaml:"file"`
	Field  string `yaml:"field,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Delete bool   `yaml:"delete,omitempty"`
}

// RemoteStep changes a record directly on a memory collection.
type RemoteStep struct {
	Account    string         `yaml:"account"`
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id"`
	Fields     map[string]any `yaml:"fields,omitempty"`
}

// FailStep injects a connector failure rule.
type FailStep struct {
	Account    string         `yaml:"account"`
	Collection string         `yaml:"collection,omitempty"`
	Kind       string         `yaml:"kind,omitempty"`
	Match      map[string]any `yaml:"match,omitempty"`
	Retryable  bool           `yaml:"retryable,omitempty"`
	Message    string         `yaml:"message,omitempty"`
	Times      int            `yaml:"times,omitempty"`
}

// PublishStep plans the scope and runs it to completion.
type PublishStep struct {
	Folders    []string `yaml:"folders,omitempty"`
	PathPrefix string   `yaml:"path_prefix,omitempty"`
	Where      string   `yaml:"where,omitempty"`
	Branch     string   `yaml:"branch,omitempty"`
}

func (p PublishStep) scope() ir.Scope {
	return ir.Scope{FolderIDs: p.Folders, PathPrefix: p.PathPrefix, Where: p.Where}
}

// FolderStep names a folder.
type FolderStep struct {
	Folder string `yaml:"folder"`
}

// MoveStep reparents a folder. An empty parent moves it to the root.
type MoveStep struct {
	Folder string `yaml:"folder"`
	Parent string `yaml:"parent"`
}

// Assertion checks the state after all steps.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Account    string `yaml:"account,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	Folder     string `yaml:"folder,omitempty"`
	File       string `yaml:"file,omitempty"`

	// Match selects a remote record by field values.
	Match map[string]any `yaml:"match,omitempty"`

	// Expect is a subset match on the selected record, file or pipeline.
	Expect map[string]any `yaml:"expect,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertPipeline     = "pipeline"
	AssertRemoteRecord = "remote_record"
	AssertRemoteCount  = "remote_count"
	AssertIndexed      = "indexed"
	AssertNotIndexed   = "not_indexed"
	AssertFile         = "file"
	AssertNoFile       = "no_file"
	AssertClean        = "clean"
)

// LoadScenario reads a scenario file. Unknown keys are rejected and the
// config path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); err != nil {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if _, err := step.action(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// action returns the name of the single action the step sets.
func (s Step) action() (string, error) {
	set := map[string]bool{
		"create":       s.Create != nil,
		"stage":        s.Stage != nil,
		"delete_field": s.DeleteField != nil,
		"unstage":      s.Unstage != nil,
		"delete":       s.Delete != nil,
		"suggest":      s.Suggest != nil,
		"accept":       s.Accept != nil,
		"reject":       s.Reject != nil,
		"seed":         s.Seed != nil,
		"remove":       s.Remove != nil,
		"fail":         s.Fail != nil,
		"publish":      s.Publish != nil,
		"pull":         s.Pull != nil,
		"move":         s.Move != nil,
	}
	name := ""
	for k, ok := range set {
		if !ok {
			continue
		}
		if name != "" {
			return "", fmt.Errorf("more than one action set")
		}
		name = k
	}
	if name == "" {
		return "", fmt.Errorf("no action set")
	}
	return name, nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPipeline, AssertClean:
	case AssertRemoteRecord:
		if a.Account == "" || a.Collection == "" || len(a.Match) == 0 {
			return fmt.Errorf("assertions[%d]: account, collection and match are required for remote_record", index)
		}
	case AssertRemoteCount:
		if a.Account == "" || a.Collection == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: account, collection and count are required for remote_count", index)
		}
	case AssertIndexed, AssertNotIndexed:
		if a.File == "" {
			return fmt.Errorf("assertions[%d]: file is required for %s", index, a.Type)
		}
	case AssertFile, AssertNoFile:
		if a.Folder == "" || a.File == "" {
			return fmt.Errorf("assertions[%d]: folder and file are required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
