package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/baharkarakas/supportpay/internal/logger"
)

func TestPoolRunsEverything(t *testing.T) {
	p := NewPool(4, 8, logger.Discard())
	var n atomic.Int32
	for i := 0; i < 50; i++ {
		p.Submit(func() { n.Add(1) })
	}
	p.Stop()
	if n.Load() != 50 {
		t.Fatalf("ran %d tasks, want 50", n.Load())
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2, 0, logger.Discard())
	var cur, peak atomic.Int32
	for i := 0; i < 10; i++ {
		p.Submit(func() {
			c := cur.Add(1)
			for {
				old := peak.Load()
				if c <= old || peak.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			cur.Add(-1)
		})
	}
	p.Stop()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d, want <= 2", peak.Load())
	}
}

func TestPoolSurvivesPanic(t *testing.T) {
	p := NewPool(1, 2, logger.Discard())
	var ran atomic.Bool
	p.Submit(func() { panic("boom") })
	p.Submit(func() { ran.Store(true) })
	p.Stop()
	if !ran.Load() {
		t.Fatal("task after panic did not run")
	}
}
