package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

type entityKey struct {
	tenant     string
	entityType domain.EntityType
	id         string
}

type entity struct {
	body       map[string]any
	version    int64
	lastWriter string
}

// Memory is an in-process authoritative store.
//
// It applies mutations the way a real backend would (server ids, phone
// dedup for customers, stock checks, version conflicts) and lets tests
// take it offline or inject failures.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	online     bool
	snapshots  map[string]domain.Snapshot
	entities   map[entityKey]*entity
	applied    map[string]Ack
	log        []domain.Mutation
	stock      map[string]map[string]int
	deductions map[string]map[string]int
	nextID     map[domain.EntityType]int
	failures   []error
}

// NewMemory creates an online, empty store.
func NewMemory() *Memory {
	return &Memory{
		online:     true,
		snapshots:  make(map[string]domain.Snapshot),
		entities:   make(map[entityKey]*entity),
		applied:    make(map[string]Ack),
		stock:      make(map[string]map[string]int),
		deductions: make(map[string]map[string]int),
		nextID:     make(map[domain.EntityType]int),
	}
}

// SetSnapshot sets the reference data returned for tenant.
func (m *Memory) SetSnapshot(tenantID string, snap domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[tenantID] = snap
}

// SetOnline toggles reachability.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}

// SetStock tracks stock for a product. Untracked products never run out.
func (m *Memory) SetStock(tenantID, productID string, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[tenantID] == nil {
		m.stock[tenantID] = make(map[string]int)
	}
	m.stock[tenantID][productID] = qty
}

// Stock returns the tracked stock of a product.
func (m *Memory) Stock(tenantID, productID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.stock[tenantID][productID]
	return qty, ok
}

// FailNext makes the next len(errs) Apply calls return errs in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Applied returns the mutations applied so far, in apply order.
// Replays of an already applied id are not repeated here.
func (m *Memory) Applied() []domain.Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Mutation(nil), m.log...)
}

// Entity returns the stored body of an entity.
func (m *Memory) Entity(tenantID string, entityType domain.EntityType, id string) (map[string]any, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[entityKey{tenantID, entityType, id}]
	if !ok {
		return nil, 0, false
	}
	return maps.Clone(e.body), e.version, true
}

// Deductions counts inventory deductions applied for an order.
func (m *Memory) Deductions(tenantID, orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deductions[tenantID][orderID]
}

// Probe implements Prober.
func (m *Memory) Probe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return ErrUnreachable
	}
	return ctx.Err()
}

// FetchSnapshot implements SnapshotSource.
func (m *Memory) FetchSnapshot(ctx context.Context, tenantID string) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return domain.Snapshot{}, ErrUnreachable
	}
	snap, ok := m.snapshots[tenantID]
	if !ok {
		return domain.Snapshot{}, NewBusinessError(CodeNotFound, "no snapshot for tenant %s", tenantID)
	}
	return snap, nil
}

// Apply implements Applier.
func (m *Memory) Apply(ctx context.Context, mut domain.Mutation) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.online {
		return Ack{}, ErrUnreachable
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return Ack{}, err
	}
	if ack, ok := m.applied[mut.ID]; ok {
		return ack, nil
	}

	body, err := decodePayload(mut.Payload)
	if err != nil {
		return Ack{}, err
	}

	var ack Ack
	switch mut.Operation {
	case domain.OpCreate:
		ack = m.create(mut, body)
	case domain.OpDeductInventory:
		ack, err = m.deduct(mut)
	default:
		ack, err = m.update(mut, body)
	}
	if err != nil {
		return Ack{}, err
	}

	m.applied[mut.ID] = ack
	m.log = append(m.log, mut)
	return ack, nil
}

func (m *Memory) create(mut domain.Mutation, body map[string]any) Ack {
	// Customers are unique per phone: a second terminal creating the same
	// customer offline gets the existing id back.
	if mut.EntityType == domain.EntityCustomer {
		if phone, _ := body[FieldPhone].(string); phone != "" {
			for k, e := range m.entities {
				if k.tenant == mut.TenantID && k.entityType == domain.EntityCustomer && e.body[FieldPhone] == phone {
					return Ack{ServerID: k.id, Version: e.version}
				}
			}
		}
	}

	id := mut.EntityID
	if id == "" || domain.IsLocalID(id) {
		m.nextID[mut.EntityType]++
		id = fmt.Sprintf("srv-%s-%d", mut.EntityType, m.nextID[mut.EntityType])
	}
	delete(body, FieldExpectedVersion)
	writer, _ := body[FieldTerminalID].(string)
	delete(body, FieldTerminalID)
	body["id"] = id

	key := entityKey{mut.TenantID, mut.EntityType, id}
	if e, ok := m.entities[key]; ok {
		return Ack{ServerID: id, Version: e.version}
	}
	m.entities[key] = &entity{body: body, version: 1, lastWriter: writer}
	return Ack{ServerID: id, Version: 1}
}

func (m *Memory) update(mut domain.Mutation, body map[string]any) (Ack, error) {
	key := entityKey{mut.TenantID, mut.EntityType, mut.EntityID}
	e, ok := m.entities[key]
	if !ok {
		// Tables come from the snapshot and have no create.
		if mut.EntityType != domain.EntityTable {
			return Ack{}, NewBusinessError(CodeNotFound, "%s %s does not exist", mut.EntityType, mut.EntityID)
		}
		e = &entity{body: map[string]any{"id": mut.EntityID}}
		m.entities[key] = e
	}

	writer, err := checkVersion(e.version, e.lastWriter, body)
	if err != nil {
		return Ack{}, err
	}

	delete(body, FieldExpectedVersion)
	delete(body, FieldTerminalID)
	for k, v := range body {
		e.body[k] = v
	}
	e.version++
	e.lastWriter = writer
	return Ack{Version: e.version}, nil
}

func (m *Memory) deduct(mut domain.Mutation) (Ack, error) {
	var p InventoryPayload
	if err := json.Unmarshal(mut.Payload, &p); err != nil {
		return Ack{}, NewBusinessError(CodeInvalidPayload, "deduct_inventory: %v", err)
	}
	if p.OrderID == "" {
		p.OrderID = mut.EntityID
	}

	// An order is deducted once even if two mutations ask for it.
	if m.deductions[mut.TenantID][p.OrderID] > 0 {
		return Ack{}, nil
	}

	stock := m.stock[mut.TenantID]
	need := make(map[string]int)
	for _, line := range p.Items {
		need[line.ProductID] += line.Quantity
	}
	for productID, qty := range need {
		if have, tracked := stock[productID]; tracked && have < qty {
			return Ack{}, NewBusinessError(CodeInsufficientStock,
				"product %s: need %d, have %d", productID, qty, have)
		}
	}
	for productID, qty := range need {
		if _, tracked := stock[productID]; tracked {
			stock[productID] -= qty
		}
	}

	if m.deductions[mut.TenantID] == nil {
		m.deductions[mut.TenantID] = make(map[string]int)
	}
	m.deductions[mut.TenantID][p.OrderID]++
	return Ack{}, nil
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	body := make(map[string]any)
	if len(raw) == 0 || string(raw) == "null" {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, NewBusinessError(CodeInvalidPayload, "payload is not an object: %v", err)
	}
	return body, nil
}

// checkVersion rejects a write whose expected_version is behind the
// current version when the intervening write came from another terminal.
// Returns the writing terminal.
func checkVersion(current int64, lastWriter string, body map[string]any) (string, error) {
	writer, _ := body[FieldTerminalID].(string)
	raw, ok := body[FieldExpectedVersion]
	if !ok {
		return writer, nil
	}
	expected, ok := raw.(float64)
	if !ok {
		return writer, NewBusinessError(CodeInvalidPayload, "expected_version must be a number")
	}
	if current > int64(expected) && lastWriter != "" && lastWriter != writer {
		return writer, NewBusinessError(CodeVersionConflict,
			"remote version %d by %s is ahead of expected %d", current, lastWriter, int64(expected))
	}
	return writer, nil
}
