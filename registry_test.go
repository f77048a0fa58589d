package hubmux

import "testing"

type stubCompletable struct {
	resolved   []byte
	failedWith error
	cancelled  bool
	reason     DisconnectReason
}

func (s *stubCompletable) Resolve(payload []byte) error {
	s.resolved = payload
	return nil
}

func (s *stubCompletable) Fail(err error) {
	s.failedWith = err
}

func (s *stubCompletable) Cancel(reason DisconnectReason) {
	s.cancelled = true
	s.reason = reason
}

func TestRegistryInsertTakeIsAtomic(t *testing.T) {
	r := newWaiterRegistry()
	w := &stubCompletable{}
	r.insert(1, w)

	got, ok := r.take(1)
	if !ok || got != w {
		t.Fatalf("take(1) = %v, %v, want the inserted waiter", got, ok)
	}

	if _, ok := r.take(1); ok {
		t.Fatal("take(1) a second time should report not found")
	}
}

func TestRegistryTakeUnknownID(t *testing.T) {
	r := newWaiterRegistry()
	if _, ok := r.take(999); ok {
		t.Fatal("take on an empty registry should report not found")
	}
}

func TestRegistryDrainEmptiesAndReturnsAll(t *testing.T) {
	r := newWaiterRegistry()
	r.insert(1, &stubCompletable{})
	r.insert(2, &stubCompletable{})
	r.insert(3, &stubCompletable{})

	if r.size() != 3 {
		t.Fatalf("size() = %d, want 3", r.size())
	}

	drained := r.drain()
	if len(drained) != 3 {
		t.Fatalf("drain() returned %d waiters, want 3", len(drained))
	}
	if r.size() != 0 {
		t.Fatalf("size() after drain = %d, want 0", r.size())
	}
}

func TestIDAllocatorStartsAtOneAndIsMonotonic(t *testing.T) {
	var a idAllocator
	first, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != 1 {
		t.Fatalf("first id = %d, want 1", first)
	}

	second, err := a.allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second <= first {
		t.Fatalf("second id %d did not increase past first id %d", second, first)
	}
}

func TestIDAllocatorConcurrentUniqueness(t *testing.T) {
	var a idAllocator
	const n = 1000
	ids := make(chan int32, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			id, err := a.allocate()
			if err != nil {
				t.Error(err)
			}
			ids <- id
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(ids)

	seen := make(map[int32]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}
