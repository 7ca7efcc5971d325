package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario := loadTestdata(t, "offline_completion")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "One online order",
		Steps: []Step{
			{
				Do: DoPlaceOrder,
				As: "o1",
				Args: map[string]any{
					"items": []any{
						map[string]any{"product": "p-3", "name": "Drink", "price": 120},
					},
				},
			},
			{Do: DoSync},
		},
		Assertions: []Assertion{
			{Type: AssertOrder, Ref: "o1", Expect: map[string]any{"_isSynced": true, "total_amount": "120"}},
			{Type: AssertNetworkStatus, Expect: map[string]any{"isOnline": true, "unsyncedOrders": 0}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{Step: 1, Do: DoPlaceOrder, OK: true, Detail: map[string]any{"offline": false}, Unsynced: 1}, result.Trace[0])
	assert.Equal(t, 1, result.Trace[1].Detail["synced"])
	assert.Equal(t, 0, result.Trace[1].Unsynced)
}

func TestRun_StartsOffline(t *testing.T) {
	scenario := &Scenario{
		Name:        "cold_offline",
		Description: "No snapshot has ever loaded",
		Offline:     true,
		Steps:       []Step{{Do: DoSync}},
		Assertions: []Assertion{
			{Type: AssertNetworkStatus, Expect: map[string]any{"isOnline": false}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 0, result.Trace[0].Detail["synced"])
}

func TestRun_UnexpectedSuccess(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "Expects an error that does not happen",
		Steps: []Step{
			{
				Do: DoPlaceOrder,
				Args: map[string]any{
					"items": []any{map[string]any{"product": "p-2", "name": "Fries", "price": 200}},
				},
				Expect: &ExpectClause{Error: "empty_order"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertNetworkStatus, Expect: map[string]any{"isOnline": true}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected error "empty_order", got success`)
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "empty_order",
		Description: "An order without items fails",
		Steps: []Step{
			{Do: DoPlaceOrder, Args: map[string]any{}},
		},
		Assertions: []Assertion{
			{Type: AssertNetworkStatus, Expect: map[string]any{"unsyncedOrders": 0}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.False(t, result.Trace[0].OK)
	assert.Equal(t, "empty_order", result.Trace[0].Error)
	assert.Contains(t, result.Errors[0], "unexpected error")
}

func TestRun_ExpectedErrorCode(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_table",
		Description: "Placing an order at an unknown table fails",
		Steps: []Step{
			{
				Do: DoPlaceOrder,
				Args: map[string]any{
					"table": "t-99",
					"items": []any{map[string]any{"product": "p-2", "name": "Fries", "price": 200}},
				},
				Expect: &ExpectClause{Error: "table_not_found"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertQueue, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ResultMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:        "result_mismatch",
		Description: "A result subset that does not match",
		Steps: []Step{
			{Do: DoOffline, Expect: &ExpectClause{Result: map[string]any{"online": true}}},
		},
		Assertions: []Assertion{
			{Type: AssertNetworkStatus, Expect: map[string]any{"isOnline": false}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "online: got false, want true")
}

func TestRun_FailedAssertion(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_order",
		Description: "An assertion on an order that does not exist",
		Steps:       []Step{{Do: DoSync}},
		Assertions: []Assertion{
			{Type: AssertOrder, Ref: "ghost", Expect: map[string]any{"status": "Placed"}},
			{Type: AssertStock, Product: "p-1", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[0], "not found")
	assert.Contains(t, result.Errors[1], "untracked")
}

func TestRun_BadArgsAbort(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_duration",
		Description: "A malformed step aborts the run",
		Steps:       []Step{{Do: DoAdvance, Args: map[string]any{"by": "soon"}}},
		Assertions: []Assertion{
			{Type: AssertNetworkStatus, Expect: map[string]any{"isOnline": true}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBadArgs)
	assert.Contains(t, err.Error(), "steps[0] advance")
}

func TestRun_TenantOption(t *testing.T) {
	scenario := &Scenario{
		Name:        "branch",
		Description: "Scenarios can bind another tenant",
		Tenant:      "branch-7",
		Steps: []Step{
			{Do: DoSetTable, Args: map[string]any{"table": "t-2", "status": "reserved"}},
			{Do: DoSync, Expect: &ExpectClause{Result: map[string]any{"synced": 1}}},
		},
		Assertions: []Assertion{
			{Type: AssertRemote, EntityType: "table", Ref: "t-2", Expect: map[string]any{"status": "reserved"}},
			{Type: AssertQueue, Where: map[string]any{"entity_type": "table", "state": "synced"}, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
