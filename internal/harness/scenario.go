package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lofi/internal/schema"
)

// Scenario is a data-driven test of the engine.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is an inline schema declaration.
	Schema *schema.Schema `yaml:"schema,omitempty"`

	// Declarations is a CUE declarations directory holding the schema and
	// its migrations. Relative paths resolve against the scenario file.
	// Exactly one of Schema and Declarations must be set.
	Declarations string `yaml:"declarations,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// Step is one operation of a scenario.
type Step struct {
	// Op is the operation name; see the Op constants.
	Op string `yaml:"op"`

	// Table names the target table of create, purge and queries.
	Table string `yaml:"table,omitempty"`

	// Ref names a record (from an earlier create's As) or an observation.
	Ref string `yaml:"ref,omitempty"`

	// As names the record a create produces, or an observation.
	As string `yaml:"as,omitempty"`

	// Values are the column assignments of create and update.
	Values map[string]any `yaml:"values,omitempty"`

	// Where holds column equality filters for queries.
	Where map[string]any `yaml:"where,omitempty"`

	// Sort lists sort keys as "column" or "column:desc".
	Sort []string `yaml:"sort,omitempty"`

	Limit  int `yaml:"limit,omitempty"`
	Offset int `yaml:"offset,omitempty"`

	// ExcludeDeleted filters out tombstones.
	ExcludeDeleted bool `yaml:"exclude_deleted,omitempty"`

	// Count makes observe track the row count instead of the rows.
	Count bool `yaml:"count,omitempty"`

	// Steps are the nested operations of a transaction.
	Steps []Step `yaml:"steps,omitempty"`

	// Abort rolls a transaction back after its steps ran.
	Abort bool `yaml:"abort,omitempty"`

	// Expect checks the step outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected outcome of a step.
// Every field is optional; only the fields present are checked.
type Expect struct {
	// Error is the expected error code (e.g. VALIDATION, NOT_FOUND).
	Error string `yaml:"error,omitempty"`

	// Status is the expected record status.
	Status string `yaml:"status,omitempty"`

	// Changed is the expected changed-field list. An empty list is checked.
	Changed []string `yaml:"changed,omitempty"`

	// Values is a subset match against the record's column values.
	Values map[string]any `yaml:"values,omitempty"`

	// Count is the expected row count of fetch, count, purge and observe.
	Count *int `yaml:"count,omitempty"`

	// IDs is the expected record id order of fetch and observe.
	IDs []string `yaml:"ids,omitempty"`
}

// Operation names.
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpMarkDeleted = "mark_deleted"
	OpDestroy     = "destroy"
	OpPurge       = "purge"
	OpTransaction = "transaction"
	OpFind        = "find"
	OpFetch       = "fetch"
	OpCount       = "count"
	OpObserve     = "observe"
	OpUnobserve   = "unobserve"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Declarations != "" && !filepath.IsAbs(s.Declarations) {
		s.Declarations = filepath.Join(filepath.Dir(path), s.Declarations)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarios loads every .yaml and .yml file directly in dir, sorted by
// file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch {
	case s.Schema == nil && s.Declarations == "":
		return fmt.Errorf("one of schema or declarations is required")
	case s.Schema != nil && s.Declarations != "":
		return fmt.Errorf("schema and declarations are mutually exclusive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(step, false); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st Step, nested bool) error {
	switch st.Op {
	case OpCreate, OpPurge, OpFetch, OpCount:
		if st.Table == "" {
			return fmt.Errorf("%s requires table", st.Op)
		}
	case OpUpdate, OpMarkDeleted, OpDestroy, OpFind:
		if st.Ref == "" {
			return fmt.Errorf("%s requires ref", st.Op)
		}
	case OpObserve:
		if nested {
			return fmt.Errorf("observe is not allowed inside a transaction")
		}
		if st.Table == "" || st.As == "" {
			return fmt.Errorf("observe requires table and as")
		}
	case OpUnobserve:
		if nested {
			return fmt.Errorf("unobserve is not allowed inside a transaction")
		}
		if st.Ref == "" {
			return fmt.Errorf("unobserve requires ref")
		}
	case OpTransaction:
		if nested {
			return fmt.Errorf("transactions cannot be nested")
		}
		if len(st.Steps) == 0 {
			return fmt.Errorf("transaction requires steps")
		}
		for i, inner := range st.Steps {
			if err := validateStep(inner, true); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	for _, key := range st.Sort {
		if _, err := parseSortKey(key); err != nil {
			return err
		}
	}
	return nil
}
