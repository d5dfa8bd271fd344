package ledger

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"
)

const (
	adminAddr       Address = "0x00000000000000000000000000000000000000a1"
	manufacturerA   Address = "0x1111111111111111111111111111111111111111"
	manufacturerB   Address = "0x2222222222222222222222222222222222222222"
	supplierAddr    Address = "0x3333333333333333333333333333333333333333"
	distributorAddr Address = "0x4444444444444444444444444444444444444444"
	retailerAddr    Address = "0x5555555555555555555555555555555555555555"
	inspectorAddr   Address = "0x6666666666666666666666666666666666666666"
	outsiderAddr    Address = "0x7777777777777777777777777777777777777777"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *testClock) {
	t.Helper()
	clock := newTestClock()
	e, err := NewEngine(adminAddr, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e, clock
}

// newPopulatedEngine registers one participant per role plus a second
// manufacturer.
func newPopulatedEngine(t *testing.T, opts ...Option) (*Engine, *testClock) {
	t.Helper()
	e, clock := newTestEngine(t, opts...)
	for _, p := range []struct {
		addr Address
		role Role
	}{
		{manufacturerA, RoleManufacturer},
		{manufacturerB, RoleManufacturer},
		{supplierAddr, RoleSupplier},
		{distributorAddr, RoleDistributor},
		{retailerAddr, RoleRetailer},
		{inspectorAddr, RoleInspector},
	} {
		if err := e.Register(adminAddr, p.addr, p.role, CommitUint64(80, 1)); err != nil {
			t.Fatalf("Register %s failed: %v", p.addr, err)
		}
	}
	return e, clock
}

func createTestBatch(t *testing.T, e *Engine, manufacturer Address) uint64 {
	t.Helper()
	fields := BatchCommitments{
		HashedQuantity:     CommitUint64(1000, 11),
		HashedQualityScore: CommitUint64(95, 12),
		HashedPrice:        CommitUint64(5000, 13),
	}
	id, err := e.CreateProductBatch(manufacturer, fields, "Coffee", nil)
	if err != nil {
		t.Fatalf("CreateProductBatch failed: %v", err)
	}
	return id
}

func checkpoint(status Status, note string) CheckpointInput {
	return CheckpointInput{
		HashedTimestamp: CommitUint64(1700000000, 21),
		HashedLocation:  CommitUint64(4242, 22),
		PublicNote:      note,
		NewStatus:       status,
	}
}

func big64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("Expected %v, got %v", want, err)
	}
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event{}, s.events...)
}
