package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

// AssertionError provides detailed context for assertion failures.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) checkAssertions(ctx context.Context, assertions []Assertion, result *Result) {
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertNetworkStatus:
			err = h.assertFields(a, h.session.NetworkStatus(ctx), true)
		case AssertOrder:
			o, ok := h.session.Cache.GetOrder(h.resolve(a.Ref))
			err = h.assertFields(a, o, ok)
		case AssertCustomer:
			cu, ok := h.session.Cache.GetCustomer(h.resolve(a.Ref))
			err = h.assertFields(a, cu, ok)
		case AssertTable:
			t, ok := h.session.Cache.GetTable(h.resolve(a.Ref))
			err = h.assertFields(a, t, ok)
		case AssertRemote:
			err = h.assertRemote(a)
		case AssertQueue:
			err = h.assertQueue(ctx, a)
		case AssertStock:
			err = h.assertStock(a)
		case AssertWarnings:
			err = h.assertWarnings(a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
}

// assertFields subset-matches a.Expect against the JSON form of v.
func (h *Harness) assertFields(a Assertion, v any, found bool) error {
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s to exist", a.Type, h.describeRef(a.Ref)),
			Actual:   "not found",
		}
	}
	actual, err := toMap(v)
	if err != nil {
		return err
	}
	if msgs := h.matchSubset(actual, a.Expect); len(msgs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s to match", a.Type, h.describeRef(a.Ref)),
			Actual:   strings.Join(msgs, "; "),
		}
	}
	return nil
}

func (h *Harness) assertRemote(a Assertion) error {
	id := h.resolve(a.Ref)
	body, version, ok := h.remote.Entity(h.tenant, domain.EntityType(a.EntityType), id)
	if ok {
		body["_version"] = version
	}
	return h.assertFields(a, body, ok)
}

func (h *Harness) assertQueue(ctx context.Context, a Assertion) error {
	muts, err := h.session.Queue.List(ctx, store.ListFilter{TenantID: h.tenant})
	if err != nil {
		return err
	}

	count := 0
	for _, m := range muts {
		if h.mutationMatches(m, a.Where) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertQueue,
			Expected: fmt.Sprintf("%d mutations where %s", a.Count, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d mutations", count),
		}
	}
	return nil
}

func (h *Harness) mutationMatches(m domain.Mutation, where map[string]any) bool {
	for key, want := range where {
		w := h.resolve(fmt.Sprint(want))
		var got string
		switch key {
		case "state":
			got = string(m.State)
		case "entity_type":
			got = string(m.EntityType)
		case "entity":
			got = m.EntityID
		case "operation":
			got = string(m.Operation)
		default:
			return false
		}
		if got != w {
			return false
		}
	}
	return true
}

func (h *Harness) assertStock(a Assertion) error {
	qty, ok := h.remote.Stock(h.tenant, a.Product)
	if !ok {
		return &AssertionError{
			Type:     AssertStock,
			Expected: fmt.Sprintf("stock tracked for %s", a.Product),
			Actual:   "untracked",
		}
	}
	if qty != a.Count {
		return &AssertionError{
			Type:     AssertStock,
			Expected: fmt.Sprintf("%s stock %d", a.Product, a.Count),
			Actual:   strconv.Itoa(qty),
		}
	}
	return nil
}

func (h *Harness) assertWarnings(a Assertion) error {
	count := 0
	for _, w := range h.warnings {
		if a.Kind == "" || w.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertWarnings,
			Expected: fmt.Sprintf("%d warnings of kind %q", a.Count, a.Kind),
			Actual:   strconv.Itoa(count),
		}
	}
	return nil
}

func (h *Harness) describeRef(ref string) string {
	if id, ok := h.bindings[ref]; ok {
		return fmt.Sprintf("%s (%s)", ref, id)
	}
	return ref
}

// matchSubset compares every expected key with the value at that path in
// actual. Returns one message per mismatch, sorted by key.
func (h *Harness) matchSubset(actual, expect map[string]any) []string {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, key := range keys {
		want := expect[key]
		if s, ok := want.(string); ok && strings.HasPrefix(s, "$") {
			want = h.resolve(strings.TrimPrefix(s, "$"))
		}
		got, ok := lookupPath(actual, key)
		if !ok {
			if want != nil {
				msgs = append(msgs, fmt.Sprintf("%s: missing, want %v", key, want))
			}
			continue
		}
		if !valuesEqual(want, got) {
			msgs = append(msgs, fmt.Sprintf("%s: got %v, want %v", key, got, want))
		}
	}
	return msgs
}

// lookupPath follows a dotted path through maps and slices.
func lookupPath(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares scalars by their printed form, so YAML ints match
// JSON numbers and decimal strings.
func valuesEqual(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

// toMap returns the JSON object form of v with numbers kept as written.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
