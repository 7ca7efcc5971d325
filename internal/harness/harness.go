package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/airoxlab/bizposcash-sub002/internal/cache"
	"github.com/airoxlab/bizposcash-sub002/internal/customers"
	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/orders"
	"github.com/airoxlab/bizposcash-sub002/internal/remote"
	"github.com/airoxlab/bizposcash-sub002/internal/session"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
	"github.com/airoxlab/bizposcash-sub002/internal/syncer"
	"github.com/airoxlab/bizposcash-sub002/internal/testutil"
)

// DefaultTenant is the tenant of scenarios that do not name one.
const DefaultTenant = "demo"

// TerminalID identifies the scripted terminal in version-checked writes.
const TerminalID = "till-1"

// errBadArgs marks a malformed step; it aborts the run instead of being
// compared with the step's expectation.
var errBadArgs = errors.New("bad step arguments")

// Harness runs one scenario against a real session backed by an in-memory
// SQLite store and an in-memory remote store.
type Harness struct {
	store    *store.Store
	remote   *remote.Memory
	clock    *testutil.ManualClock
	ids      domain.IDGenerator
	session  *session.Session
	tenant   string
	bindings map[string]string
	warnings []syncer.Warning
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database with a manual clock and
// sequential ids, so the same scenario always produces the same trace.
// Background loops are not started: connectivity only changes on offline
// and online steps, and mutations are only sent on sync steps.
//
// The returned error is for harness failures (store, malformed steps); a
// failed expectation or assertion is reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		remote:   remote.NewMemory(),
		clock:    testutil.NewManualClock(time.Time{}),
		ids:      domain.NewSequenceGenerator("s"),
		tenant:   scenario.Tenant,
		bindings: make(map[string]string),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if h.tenant == "" {
		h.tenant = DefaultTenant
	}
	remote.SeedDemo(h.remote, h.tenant)
	for product, qty := range scenario.Stock {
		h.remote.SetStock(h.tenant, product, qty)
	}
	h.remote.SetOnline(!scenario.Offline)

	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer func() { h.session.Close() }()

	result := NewResult()
	for i, step := range scenario.Steps {
		detail, stepErr := h.execute(ctx, step)
		if errors.Is(stepErr, errBadArgs) {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, step.Do, stepErr)
		}

		ev := TraceEvent{
			Step:     i + 1,
			Do:       step.Do,
			OK:       stepErr == nil,
			Detail:   detail,
			Unsynced: h.session.NetworkStatus(ctx).UnsyncedOrders,
		}
		if stepErr != nil {
			ev.Error = errorCode(stepErr)
		}
		result.Trace = append(result.Trace, ev)

		h.checkExpect(i, step, ev, stepErr, result)
	}

	h.checkAssertions(ctx, scenario.Assertions, result)
	return result, nil
}

func (h *Harness) deps() session.Deps {
	return session.Deps{
		Store:       h.store,
		Remote:      h.remote,
		TerminalID:  TerminalID,
		PhoneRegion: "PK",
		Now:         h.clock.Now,
		IDs:         h.ids,
		Logger:      h.logger,
	}
}

func (h *Harness) open(ctx context.Context) error {
	s, err := session.Open(ctx, h.deps(), h.tenant)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	h.session = s
	return nil
}

// execute runs one step and returns its trace detail.
func (h *Harness) execute(ctx context.Context, step Step) (map[string]any, error) {
	s := h.session
	args := step.Args

	switch step.Do {
	case DoOffline, DoOnline:
		h.remote.SetOnline(step.Do == DoOnline)
		return map[string]any{"online": s.Monitor.Probe(ctx)}, nil

	case DoAdvance:
		d, err := time.ParseDuration(argString(args, "by"))
		if err != nil {
			return nil, fmt.Errorf("%w: by: %v", errBadArgs, err)
		}
		h.clock.Advance(d)
		return nil, nil

	case DoFailNext:
		n := argInt(args, "count", 1)
		errs := make([]error, n)
		for i := range errs {
			errs[i] = remote.ErrUnreachable
		}
		h.remote.FailNext(errs...)
		return map[string]any{"count": n}, nil

	case DoPlaceOrder:
		draft, err := h.draft(args)
		if err != nil {
			return nil, err
		}
		res, err := s.Orders.PlaceOrder(ctx, draft)
		if err != nil {
			return nil, err
		}
		h.bind(step.As, res.OrderID)
		return orderDetail(res), nil

	case DoUpdateStatus:
		res, err := s.Orders.UpdateOrderStatus(ctx, h.ref(args, "order"), domain.OrderStatus(argString(args, "status")))
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoUpdateQuantity:
		res, err := s.Orders.UpdateCartItemQuantity(ctx, h.ref(args, "order"), argString(args, "line"), argInt(args, "quantity", 0))
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoSetCustomer:
		res, err := s.Orders.SetCustomer(ctx, h.ref(args, "order"), h.ref(args, "customer"))
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoResolveCustomer:
		res, err := s.Customers.FindOrCreateCustomer(ctx, argString(args, "phone"), customers.Data{
			FullName: argString(args, "full_name"),
			Address:  argString(args, "address"),
		})
		if err != nil {
			return nil, err
		}
		h.bind(step.As, res.Customer.ID)
		return map[string]any{
			"offline": res.IsOffline,
			"created": res.Created,
			"patched": res.Patched,
		}, nil

	case DoSetTable:
		res, err := s.Orders.SetTableStatus(ctx, argString(args, "table"),
			domain.TableStatus(argString(args, "status")), h.ref(args, "order"))
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoMarkPaid:
		res, err := s.Orders.MarkPaid(ctx, h.ref(args, "order"), argString(args, "method"))
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoSplitPayment:
		txs, err := transactions(args)
		if err != nil {
			return nil, err
		}
		res, err := s.Orders.RecordSplitPayment(ctx, h.ref(args, "order"), txs)
		if err != nil {
			return nil, err
		}
		return orderDetail(res), nil

	case DoSync:
		report, err := s.Engine.DrainOnce(ctx)
		if err != nil {
			return nil, err
		}
		h.reconcile(report.Reconciled)
		h.warnings = append(h.warnings, report.Warnings...)
		detail := map[string]any{
			"synced":   report.Synced,
			"failed":   report.Failed,
			"rejected": report.Rejected,
			"deferred": report.Deferred,
		}
		if len(report.Warnings) > 0 {
			detail["warnings"] = len(report.Warnings)
		}
		return detail, nil

	case DoRestart:
		s.Close()
		if err := h.open(ctx); err != nil {
			return nil, err
		}
		return map[string]any{
			"online": h.session.Monitor.IsOnline(),
			"ready":  h.session.Cache.IsReady(),
		}, nil

	case DoSwitchTenant:
		tenant := argString(args, "tenant")
		remote.SeedDemo(h.remote, tenant)
		if err := s.SwitchTenant(ctx, tenant); err != nil {
			return nil, err
		}
		h.tenant = tenant
		return map[string]any{"ready": s.Cache.IsReady()}, nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", errBadArgs, step.Do)
}

func orderDetail(res orders.Result) map[string]any {
	detail := map[string]any{"offline": res.IsOffline}
	if len(res.Warnings) > 0 {
		detail["warnings"] = len(res.Warnings)
	}
	return detail
}

// bind records id under name. Empty names are ignored.
func (h *Harness) bind(name, id string) {
	if name != "" {
		h.bindings[name] = id
	}
}

// reconcile follows the id rewrites of a drain so bound names keep
// pointing at the same entities.
func (h *Harness) reconcile(rewrites map[string]string) {
	for name, id := range h.bindings {
		if serverID, ok := rewrites[id]; ok {
			h.bindings[name] = serverID
		}
	}
}

// ref returns the id bound to args[key], or args[key] itself.
func (h *Harness) ref(args map[string]any, key string) string {
	return h.resolve(argString(args, key))
}

func (h *Harness) resolve(name string) string {
	if id, ok := h.bindings[name]; ok {
		return id
	}
	return name
}

func (h *Harness) draft(args map[string]any) (orders.Draft, error) {
	d := orders.Draft{
		OrderType:     domain.OrderType(argString(args, "order_type")),
		TableID:       argString(args, "table"),
		CustomerID:    h.ref(args, "customer"),
		Notes:         argString(args, "notes"),
		PaymentMethod: argString(args, "payment_method"),
	}
	if d.OrderType == "" {
		d.OrderType = domain.OrderTypeWalkIn
	}

	rawItems, _ := args["items"].([]any)
	for i, raw := range rawItems {
		item, ok := raw.(map[string]any)
		if !ok {
			return orders.Draft{}, fmt.Errorf("%w: items[%d] is not a map", errBadArgs, i)
		}
		price, err := argDecimal(item, "price")
		if err != nil {
			return orders.Draft{}, fmt.Errorf("%w: items[%d]: %v", errBadArgs, i, err)
		}
		d.Items = append(d.Items, domain.OrderItem{
			LineID:     argString(item, "line"),
			ProductID:  argString(item, "product"),
			VariantID:  argString(item, "variant"),
			DealID:     argString(item, "deal"),
			Name:       argString(item, "name"),
			Quantity:   argInt(item, "quantity", 1),
			FinalPrice: price,
		})
	}
	return d, nil
}

func transactions(args map[string]any) ([]domain.PaymentTransaction, error) {
	raw, _ := args["payments"].([]any)
	txs := make([]domain.PaymentTransaction, 0, len(raw))
	for i, r := range raw {
		p, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: payments[%d] is not a map", errBadArgs, i)
		}
		amount, err := argDecimal(p, "amount")
		if err != nil {
			return nil, fmt.Errorf("%w: payments[%d]: %v", errBadArgs, i, err)
		}
		txs = append(txs, domain.PaymentTransaction{
			Method:    argString(p, "method"),
			Amount:    amount,
			Reference: argString(p, "reference"),
		})
	}
	return txs, nil
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func argDecimal(args map[string]any, key string) (decimal.Decimal, error) {
	s := argString(args, key)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// errorCode maps a step error to the code used in traces and expect
// clauses.
func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, orders.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, orders.ErrLineNotFound):
		return "line_not_found"
	case errors.Is(err, orders.ErrTableNotFound):
		return "table_not_found"
	case errors.Is(err, orders.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, orders.ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, orders.ErrOrderClosed):
		return "order_closed"
	case errors.Is(err, orders.ErrInvalidPayment):
		return "invalid_payment"
	case errors.Is(err, orders.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, customers.ErrInvalidPhone):
		return "invalid_phone"
	case errors.Is(err, cache.ErrNoTenant):
		return "no_tenant"
	default:
		return "error"
	}
}

func (h *Harness) checkExpect(i int, step Step, ev TraceEvent, stepErr error, result *Result) {
	want := ""
	if step.Expect != nil {
		want = step.Expect.Error
	}
	switch {
	case want == "" && stepErr != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Do, stepErr))
		return
	case want != "" && stepErr == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got success", i, step.Do, want))
		return
	case want != "" && ev.Error != want:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got %q (%v)", i, step.Do, want, ev.Error, stepErr))
		return
	}
	if step.Expect == nil || len(step.Expect.Result) == 0 {
		return
	}
	actual, err := toMap(ev.Detail)
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Do, err))
		return
	}
	for _, msg := range h.matchSubset(actual, step.Expect.Result) {
		result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, step.Do, msg))
	}
}
