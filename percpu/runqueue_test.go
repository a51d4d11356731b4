package percpu

import (
	"testing"

	"github.com/kernel-go/corekit/sched"
)

func TestRunqueueWraparound(t *testing.T) {
	var q runqueue

	for i := 0; i < runqueueCapacity; i++ {
		if !q.pushBack(sched.ThreadID(i)) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}

	if q.pushBack(999) {
		t.Fatal("expected push to fail once the queue is full")
	}

	// drain half, then push more, exercising the wraparound.
	for i := 0; i < runqueueCapacity/2; i++ {
		if id, ok := q.popFront(); !ok || id != sched.ThreadID(i) {
			t.Fatalf("expected FIFO order %d; got %d (ok=%v)", i, id, ok)
		}
	}

	for i := 0; i < runqueueCapacity/2; i++ {
		if !q.pushBack(sched.ThreadID(1000 + i)) {
			t.Fatalf("expected wraparound push %d to succeed", i)
		}
	}

	if q.len() != runqueueCapacity {
		t.Fatalf("expected full queue after wraparound; got len %d", q.len())
	}
}

func TestRunqueuePushFrontPriority(t *testing.T) {
	var q runqueue

	q.pushBack(1)
	q.pushBack(2)
	q.pushFront(99)

	id, _ := q.popFront()
	if id != 99 {
		t.Fatalf("expected pushFront thread first; got %d", id)
	}
}

func TestRunqueueEmpty(t *testing.T) {
	var q runqueue

	if !q.empty() {
		t.Fatal("expected a fresh queue to be empty")
	}

	if _, ok := q.popFront(); ok {
		t.Fatal("expected popFront on empty queue to fail")
	}
}
