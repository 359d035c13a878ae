package pool_test

import (
	"sync"
	"testing"

	"github.com/momentics/hioload-remote/pool"
)

func TestBufPoolReuse(t *testing.T) {
	p := pool.NewBufPool(128, 4)
	b1 := p.Acquire()
	if len(b1) != 128 {
		t.Fatalf("acquired len = %d, want 128", len(b1))
	}
	b1[0] = 0xAB
	p.Release(b1)
	b2 := p.Acquire()
	if cap(b2) < 128 {
		t.Error("buffer capacity too small; reuse failed")
	}
	if got := p.Stats().TotalAlloc; got != 1 {
		t.Errorf("TotalAlloc = %d, want 1 (second acquire must reuse)", got)
	}
}

func TestBufPoolExhaustionAllocates(t *testing.T) {
	p := pool.NewBufPool(64, 2)
	bufs := make([][]byte, 16)
	for i := range bufs {
		bufs[i] = p.Acquire()
	}
	if got := p.Stats().InUse; got != 16 {
		t.Errorf("InUse = %d, want 16", got)
	}
	for _, b := range bufs {
		p.Release(b)
	}
	if got := p.Stats().InUse; got != 0 {
		t.Errorf("InUse after release = %d, want 0", got)
	}
}

func TestBufPoolForeignRelease(t *testing.T) {
	p := pool.NewBufPool(128, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("release of undersized buffer did not panic")
		}
	}()
	p.Release(make([]byte, 16))
}

func TestBufPoolConcurrent(t *testing.T) {
	p := pool.NewBufPool(256, 64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b := p.Acquire()
				b[0] = byte(i)
				p.Release(b)
			}
		}()
	}
	wg.Wait()
	if got := p.Stats().InUse; got != 0 {
		t.Errorf("InUse = %d, want 0", got)
	}
}
