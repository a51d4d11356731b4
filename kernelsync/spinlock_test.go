package kernelsync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	defer SetSpinWaitFunc(nil)
	SetSpinWaitFunc(runtime.Gosched)

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() {
		t.Fatal("expected TryToAcquire to fail while lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}()
	}

	<-time.After(50 * time.Millisecond)
	if !sl.Locked() {
		t.Fatal("expected lock to still be held")
	}
	sl.Release()
	wg.Wait()

	if sl.Locked() {
		t.Fatal("expected lock to be free after all workers finished")
	}
}

func TestSpinlockReleaseWhenFreeIsNoop(t *testing.T) {
	var sl Spinlock
	sl.Release()

	if !sl.TryToAcquire() {
		t.Fatal("expected lock to be acquirable")
	}
	sl.Release()
}
