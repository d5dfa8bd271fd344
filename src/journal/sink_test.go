package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

type memAppender struct {
	mu     sync.Mutex
	events []ledger.Event
	fail   map[uint64]bool
	block  chan struct{}
}

func (m *memAppender) Append(ctx context.Context, ev ledger.Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[ev.Seq] {
		return errors.New("insert failed")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memAppender) Seqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Seq
	}
	return out
}

func TestSinkWritesInOrder(t *testing.T) {
	store := &memAppender{}
	sink := NewSink(store, 16, nil)
	for i := uint64(1); i <= 5; i++ {
		sink.Publish(ledger.Event{Seq: i, Kind: ledger.EventCheckpointAdded, BatchID: 1})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	seqs := store.Seqs()
	if len(seqs) != 5 {
		t.Fatalf("Expected 5 events written, got %d", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Errorf("Expected seq %d at position %d, got %d", i+1, i, s)
		}
	}
	if written, dropped, failed := sink.Stats(); written != 5 || dropped != 0 || failed != 0 {
		t.Errorf("Unexpected stats written=%d dropped=%d failed=%d", written, dropped, failed)
	}
}

func TestSinkCountsFailures(t *testing.T) {
	store := &memAppender{fail: map[uint64]bool{2: true}}
	sink := NewSink(store, 4, nil)
	for i := uint64(1); i <= 3; i++ {
		sink.Publish(ledger.Event{Seq: i})
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, _, failed := sink.Stats(); failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	if len(store.Seqs()) != 2 {
		t.Errorf("Expected 2 events written, got %v", store.Seqs())
	}
}

func TestSinkDropsWhenFull(t *testing.T) {
	store := &memAppender{block: make(chan struct{})}
	sink := NewSink(store, 1, nil)

	// The writer holds one event while blocked and the buffer holds another.
	for i := uint64(1); i <= 10; i++ {
		sink.Publish(ledger.Event{Seq: i})
	}
	close(store.block)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	written, dropped, _ := sink.Stats()
	if written+dropped != 10 {
		t.Errorf("Expected every event written or dropped, got written=%d dropped=%d", written, dropped)
	}
	if dropped == 0 {
		t.Error("Expected some events to be dropped")
	}
}

func TestSinkPublishAfterClose(t *testing.T) {
	sink := NewSink(&memAppender{}, 1, nil)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	sink.Publish(ledger.Event{Seq: 1})
	if _, dropped, _ := sink.Stats(); dropped != 1 {
		t.Errorf("Expected publish after close to be dropped, got %d", dropped)
	}
}

func TestSinkAsEngineSink(t *testing.T) {
	store := &memAppender{}
	sink := NewSink(store, 8, nil)
	e, err := ledger.NewEngine("0x00000000000000000000000000000000000000a1", ledger.WithEventSink(sink))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := e.Register(e.Admin(), "0x1111111111111111111111111111111111111111", ledger.RoleManufacturer, ledger.Digest{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if seqs := store.Seqs(); len(seqs) != 1 || seqs[0] != 1 {
		t.Errorf("Expected journaled registration event, got %v", seqs)
	}
}
