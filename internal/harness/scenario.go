package harness

import (
	"bytes"
	"fmt"
	"os"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"
)

// MaxEdits bounds the number of concurrent edits; every permutation of
// them is replayed.
const MaxEdits = 7

// Scenario defines a convergence scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas lists the authoring replica IDs.
	Replicas []string `yaml:"replicas"`

	// Setup is an optional transaction every replica receives before
	// editing. Its replica need not be listed in Replicas.
	Setup *Edit `yaml:"setup,omitempty"`

	// Edits are concurrent transactions, each against the state its
	// replica had after setup and its own earlier edits.
	Edits []Edit `yaml:"edits"`

	// Assertions validate the converged state.
	Assertions []Assertion `yaml:"assertions"`
}

// Edit is one transaction on one replica.
type Edit struct {
	Replica string `yaml:"replica"`
	Ops     []Step `yaml:"ops"`
}

// Step is one operation inside an edit.
type Step struct {
	// Type is one of the Step* constants.
	Type string `yaml:"type"`

	// Container is the root container name.
	Container string `yaml:"container"`

	Index      int            `yaml:"index,omitempty"`
	Length     int            `yaml:"length,omitempty"`
	Text       string         `yaml:"text,omitempty"`
	Key        string         `yaml:"key,omitempty"`
	Value      any            `yaml:"value,omitempty"`
	Values     []any          `yaml:"values,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// Step types.
const (
	StepInsertText  = "insert_text"
	StepDeleteText  = "delete_text"
	StepFormat      = "format"
	StepInsertArray = "insert_array"
	StepPush        = "push"
	StepDeleteArray = "delete_array"
	StepSet         = "set"
	StepDeleteKey   = "delete_key"
)

// Label renders the step for traces, e.g. "insert_text:body".
func (s Step) Label() string {
	return s.Type + ":" + s.Container
}

// Assertion validates the converged state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Container is the root container (text, map_entry, array).
	Container string `yaml:"container,omitempty"`

	// Key is the map key (map_entry).
	Key string `yaml:"key,omitempty"`

	// Expect is the expected value. For state it is the canonical JSON
	// string; for pending the count.
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertText     = "text"
	AssertMapEntry = "map_entry"
	AssertArray    = "array"
	AssertState    = "state"
	AssertPending  = "pending"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Edits) == 0 {
		return fmt.Errorf("edits list is required and must be non-empty")
	}
	if len(s.Edits) > MaxEdits {
		return fmt.Errorf("at most %d edits are supported, got %d", MaxEdits, len(s.Edits))
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	replicas := mapset.NewThreadUnsafeSet[string]()
	for i, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replicas[%d]: empty replica id", i)
		}
		if !replicas.Add(r) {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, r)
		}
	}

	if s.Setup != nil {
		if s.Setup.Replica == "" {
			s.Setup.Replica = "setup"
		}
		if err := validateEdit("setup", s.Setup); err != nil {
			return err
		}
	}
	for i := range s.Edits {
		e := &s.Edits[i]
		where := fmt.Sprintf("edits[%d]", i)
		if !replicas.Contains(e.Replica) {
			return fmt.Errorf("%s: unknown replica %q", where, e.Replica)
		}
		if err := validateEdit(where, e); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateEdit(where string, e *Edit) error {
	if len(e.Ops) == 0 {
		return fmt.Errorf("%s: ops list is required and must be non-empty", where)
	}
	for i, st := range e.Ops {
		if st.Container == "" {
			return fmt.Errorf("%s.ops[%d]: container is required", where, i)
		}
		switch st.Type {
		case StepInsertText:
			if st.Text == "" {
				return fmt.Errorf("%s.ops[%d]: text is required for %s", where, i, st.Type)
			}
		case StepDeleteText, StepDeleteArray:
			if st.Length <= 0 {
				return fmt.Errorf("%s.ops[%d]: positive length is required for %s", where, i, st.Type)
			}
		case StepFormat:
			if st.Length <= 0 || len(st.Attributes) == 0 {
				return fmt.Errorf("%s.ops[%d]: length and attributes are required for format", where, i)
			}
		case StepInsertArray, StepPush:
			if len(st.Values) == 0 {
				return fmt.Errorf("%s.ops[%d]: values are required for %s", where, i, st.Type)
			}
		case StepSet, StepDeleteKey:
			if st.Key == "" {
				return fmt.Errorf("%s.ops[%d]: key is required for %s", where, i, st.Type)
			}
		default:
			return fmt.Errorf("%s.ops[%d]: unknown op type %q", where, i, st.Type)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertText, AssertArray:
		if a.Container == "" {
			return fmt.Errorf("assertions[%d]: container is required for %s", index, a.Type)
		}
	case AssertMapEntry:
		if a.Container == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: container and key are required for map_entry", index)
		}
	case AssertState:
		if _, ok := a.Expect.(string); !ok {
			return fmt.Errorf("assertions[%d]: expect must be a JSON string for state", index)
		}
	case AssertPending:
		if _, ok := a.Expect.(int); !ok {
			return fmt.Errorf("assertions[%d]: expect must be an integer for pending", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
