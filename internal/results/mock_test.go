package results

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ==================== Mock Query ====================

// mockQuery emits the rows 0..total-1. Preloaded rows are sent as soon as
// Perform is called; the rest go through the pacer, so the mock pauses at its
// limit until the stream extends it.
type mockQuery struct {
	Pacer
	total     int
	preloaded int
	header    bool
	fail      error
	hard      bool // stop at the limit instead of pausing

	performs atomic.Int32
	cancels  atomic.Int32

	mu     sync.Mutex
	limits []int
	log    []int // rows produced after Perform, preloaded rows excluded
	done   chan struct{}
}

func newMockQuery(total int) *mockQuery {
	return &mockQuery{total: total, done: make(chan struct{})}
}

func (m *mockQuery) Perform(limit int, onSignal SignalFunc[int]) {
	m.performs.Add(1)
	m.mu.Lock()
	m.limits = append(m.limits, limit)
	m.mu.Unlock()
	m.Start(limit)
	defer close(m.done)

	if m.header {
		onSignal(HeaderSignal[int](Metadata{TotalRows: m.total, Columns: []string{"n"}}))
	}
	for i := 0; i < m.preloaded && i < m.total; i++ {
		onSignal(RowSignal(i))
	}
	for i := m.preloaded; i < m.total; i++ {
		if m.hard {
			if m.Cancelled() || (limit > 0 && i >= limit) {
				break
			}
		} else if !m.Wait(i) {
			break
		}
		m.mu.Lock()
		m.log = append(m.log, i)
		m.mu.Unlock()
		onSignal(RowSignal(i))
	}
	onSignal(FinalSignal[int](Metadata{TotalRows: m.total}, m.fail))
}

func (m *mockQuery) Cancel() {
	m.cancels.Add(1)
	m.Pacer.Cancel()
}

func (m *mockQuery) produced() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.log...)
}

func (m *mockQuery) submittedLimits() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.limits...)
}

// wait blocks until Perform has returned, like joining the driver's thread.
func (m *mockQuery) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not finish")
	}
}

// plainQuery hides Extend, so the stream treats the mock as a driver that
// cannot raise its limit.
type plainQuery struct {
	m *mockQuery
}

func (p plainQuery) Perform(limit int, onSignal SignalFunc[int]) { p.m.Perform(limit, onSignal) }
func (p plainQuery) Cancel() { p.m.Cancel() }

func newPlainQuery(total int) (plainQuery, *mockQuery) {
	m := newMockQuery(total)
	m.hard = true
	return plainQuery{m: m}, m
}

// ==================== Helpers ====================

type countingObserver struct {
	mu        sync.Mutex
	submitted int
	rows      int
	finished  []State
}

func (o *countingObserver) Submitted(int) {
	o.mu.Lock()
	o.submitted++
	o.mu.Unlock()
}

func (o *countingObserver) RowDelivered() {
	o.mu.Lock()
	o.rows++
	o.mu.Unlock()
}

func (o *countingObserver) Finished(state State, _ int, _ time.Duration) {
	o.mu.Lock()
	o.finished = append(o.finished, state)
	o.mu.Unlock()
}

type failingExecutor struct{ err error }

func (e failingExecutor) Go(func()) error { return e.err }

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func waitDone(t *testing.T, s *Stream[int]) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not observe the terminal marker")
	}
}
