package indexer

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestIndexLock(t *testing.T) {
	var l IndexLock
	if !l.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if l.TryAcquire() {
		t.Fatal("expected second acquire to fail")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("expected acquire after release to succeed")
	}
	l.Release()
}

func TestIndexLock_Concurrent(t *testing.T) {
	var (
		l    IndexLock
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Errorf("expected exactly one winner, got %d", got)
	}
}
