package worker

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/shaiso/Orchestra/internal/domain"
)

// После любой последовательности Reserve/Release/Transfer/SetCapacity
// загрузка каждого исполнителя равна min(100, 100 × len/max).
func TestProperty_WorkloadAlwaysDerived(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := New(Config{})
		ids := []string{"w0", "w1", "w2"}
		for _, id := range ids {
			max := rapid.IntRange(1, 6).Draw(rt, "max")
			if _, err := p.Register(domain.WorkerSpec{ID: id, Name: id, MaxConcurrentTasks: max}); err != nil {
				rt.Fatalf("Register: %v", err)
			}
		}

		ops := rapid.IntRange(1, 60).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			wid := rapid.SampledFrom(ids).Draw(rt, "worker")
			tid := fmt.Sprintf("t%d", rapid.IntRange(0, 9).Draw(rt, "task"))

			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				_, _ = p.Reserve(wid, tid)
			case 1:
				p.Release(wid, tid)
			case 2:
				to := rapid.SampledFrom(ids).Draw(rt, "to")
				_ = p.Transfer(tid, wid, to)
			case 3:
				_, _ = p.SetCapacity(wid, rapid.IntRange(1, 6).Draw(rt, "capacity"))
			}

			for _, w := range p.List() {
				want := domain.ComputeWorkload(len(w.CurrentTasks), w.MaxConcurrentTasks)
				if w.Workload != want {
					rt.Fatalf("worker %s workload = %v, want %v", w.ID, w.Workload, want)
				}
				if w.Workload < 0 || w.Workload > 100 {
					rt.Fatalf("worker %s workload out of range: %v", w.ID, w.Workload)
				}
			}
		}
	})
}
