package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session of one terminal against an in-memory
// remote store. Steps drive the cashier-facing operations and the
// connectivity; assertions check the final cache, queue and remote state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Tenant the session is bound to. Defaults to DefaultTenant.
	Tenant string `yaml:"tenant,omitempty"`

	// Offline starts the session with the remote store unreachable and
	// no persisted snapshot.
	Offline bool `yaml:"offline,omitempty"`

	// Stock tracks remote stock per product id. Untracked products never
	// run out.
	Stock map[string]int `yaml:"stock,omitempty"`

	// Steps run in order. Each one appends a trace event.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action of the scenario.
type Step struct {
	// Do names the action (see the Do* constants).
	Do string `yaml:"do"`

	// As binds the id produced by the step (order or customer) to a name
	// later steps and assertions can reference.
	As string `yaml:"as,omitempty"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect validates the step outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code (e.g. "illegal_transition").
	// Empty means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Result is a subset match against the step's trace detail.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Ref is a bound name or a literal entity id (order, customer, table,
	// remote).
	Ref string `yaml:"ref,omitempty"`

	// EntityType selects the remote entity kind (remote).
	EntityType string `yaml:"entity_type,omitempty"`

	// Where filters mutations (queue): state, entity_type, entity,
	// operation.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is a subset match. Keys may be dotted paths ("items.0.quantity").
	// String values starting with "$" are resolved from bindings.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of matches (queue, warnings, stock).
	Count int `yaml:"count,omitempty"`

	// Kind filters sync warnings (warnings).
	Kind string `yaml:"kind,omitempty"`

	// Product is the product id whose remote stock is checked (stock).
	Product string `yaml:"product,omitempty"`
}

// Step actions.
const (
	DoOffline         = "offline"
	DoOnline          = "online"
	DoAdvance         = "advance"
	DoFailNext        = "fail_next"
	DoPlaceOrder      = "place_order"
	DoUpdateStatus    = "update_status"
	DoUpdateQuantity  = "update_quantity"
	DoSetCustomer     = "set_customer"
	DoResolveCustomer = "resolve_customer"
	DoSetTable        = "set_table"
	DoMarkPaid        = "mark_paid"
	DoSplitPayment    = "split_payment"
	DoSync            = "sync"
	DoRestart         = "restart"
	DoSwitchTenant    = "switch_tenant"
)

var knownActions = map[string]bool{
	DoOffline: true, DoOnline: true, DoAdvance: true, DoFailNext: true,
	DoPlaceOrder: true, DoUpdateStatus: true, DoUpdateQuantity: true,
	DoSetCustomer: true, DoResolveCustomer: true, DoSetTable: true,
	DoMarkPaid: true, DoSplitPayment: true, DoSync: true,
	DoRestart: true, DoSwitchTenant: true,
}

// Assertion types.
const (
	AssertNetworkStatus = "network_status"
	AssertOrder         = "order"
	AssertCustomer      = "customer"
	AssertTable         = "table"
	AssertQueue         = "queue"
	AssertRemote        = "remote"
	AssertStock         = "stock"
	AssertWarnings      = "warnings"
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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	bound := map[string]bool{}
	for i, step := range s.Steps {
		if step.Do == "" {
			return fmt.Errorf("steps[%d]: do is required", i)
		}
		if !knownActions[step.Do] {
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Do)
		}
		if step.As != "" {
			if step.Do != DoPlaceOrder && step.Do != DoResolveCustomer {
				return fmt.Errorf("steps[%d]: as is only valid for %s and %s", i, DoPlaceOrder, DoResolveCustomer)
			}
			if bound[step.As] {
				return fmt.Errorf("steps[%d]: name %q is already bound", i, step.As)
			}
			bound[step.As] = true
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertNetworkStatus:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertOrder, AssertCustomer, AssertTable:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertRemote:
		if a.Ref == "" || a.EntityType == "" {
			return fmt.Errorf("assertions[%d]: ref and entity_type are required for remote", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for remote", index)
		}
	case AssertQueue, AssertWarnings:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertStock:
		if a.Product == "" {
			return fmt.Errorf("assertions[%d]: product is required for stock", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
