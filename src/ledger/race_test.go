package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"testing"
)

func TestConcurrentBatchCreation(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	ids := make(chan uint64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				nonce := big.NewInt(int64(w*1000 + i + 1))
				id, err := e.CreateProductBatch(manufacturerA, BatchCommitments{}, fmt.Sprintf("w%d-%d", w, i), nonce)
				if err != nil {
					t.Errorf("CreateProductBatch failed: %v", err)
					return
				}
				ids <- id
			}
		}(w)
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate batch id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("Expected %d batches, got %d", workers*perWorker, len(seen))
	}
	for id := uint64(1); id <= workers*perWorker; id++ {
		if !seen[id] {
			t.Errorf("Missing batch id %d", id)
		}
	}
}

func TestConcurrentCheckpointsOnOneBatch(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)
	if err := e.AddCheckpoint(manufacturerA, id, checkpoint(StatusInTransit, ""), nil); err != nil {
		t.Fatalf("AddCheckpoint failed: %v", err)
	}
	if err := e.GrantAccess(manufacturerA, distributorAddr, id); err != nil {
		t.Fatalf("GrantAccess failed: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := manufacturerA
			if i%2 == 0 {
				caller = distributorAddr
			}
			if err := e.AddCheckpoint(caller, id, checkpoint(StatusInTransit, "hand-off"), nil); err != nil {
				t.Errorf("AddCheckpoint failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, _ := e.GetCheckpointCount(id)
	if count != n+1 {
		t.Errorf("Expected %d checkpoints, got %d", n+1, count)
	}

	// Per-batch event order matches checkpoint order.
	last := -1
	for _, ev := range e.EventsSince(0, 0) {
		if ev.Kind != EventCheckpointAdded || ev.BatchID != id {
			continue
		}
		if *ev.Index != last+1 {
			t.Fatalf("Expected checkpoint index %d, got %d", last+1, *ev.Index)
		}
		last = *ev.Index
	}
}

func TestConcurrentRevealSucceedsOnce(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	id := createTestBatch(t, e, manufacturerA)
	if err := e.CommitData(manufacturerA, id, CommitUint64(42, 7)); err != nil {
		t.Fatalf("CommitData failed: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.RevealData(manufacturerA, id, big.NewInt(42), big.NewInt(7)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Errorf("Expected exactly 1 successful reveal, got %d", successes)
	}
}

func TestConcurrentNonceClaim(t *testing.T) {
	e, _ := newPopulatedEngine(t)
	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.CreateProductBatch(manufacturerA, BatchCommitments{}, "", big.NewInt(99)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 {
		t.Errorf("Expected one creation per nonce, got %d", created)
	}
}

func TestSnapshotDuringWrites(t *testing.T) {
	e, _ := newPopulatedEngine(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				nonce := big.NewInt(int64(w*100000 + i))
				if _, err := e.CreateProductBatch(manufacturerA, BatchCommitments{}, "", nonce); err != nil {
					t.Errorf("CreateProductBatch failed: %v", err)
					return
				}
			}
		}(w)
	}

	for i := 0; i < 50; i++ {
		s := e.Snapshot()
		applied := uint64(len(s.Participants) + len(s.Batches))
		if applied != s.LastEventSeq {
			t.Errorf("Expected snapshot with %d applied mutations to carry LastEventSeq %d, got %d",
				applied, applied, s.LastEventSeq)
		}
		if uint64(len(s.UsedNonces)) != uint64(len(s.Batches)) {
			t.Errorf("Expected %d nonce fingerprints, got %d", len(s.Batches), len(s.UsedNonces))
		}
		if s.NextBatchID != uint64(len(s.Batches))+1 {
			t.Errorf("Expected NextBatchID %d, got %d", len(s.Batches)+1, s.NextBatchID)
		}
	}
	close(stop)
	wg.Wait()

	s := e.Snapshot()
	restored, err := Restore(s)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, err := restored.CreateProductBatch(manufacturerA, BatchCommitments{}, "", nil); err != nil {
		t.Fatalf("CreateProductBatch after restore failed: %v", err)
	}
	if got := restored.LastEventSeq(); got != s.LastEventSeq+1 {
		t.Errorf("Expected next event seq %d, got %d", s.LastEventSeq+1, got)
	}
}
