package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(BusConfig{BufferSize: 8})
	rec := NewRecorder(16)
	bus.Subscribe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	bus.Emit(domain.NewEvent(domain.EventTaskAdded))
	bus.Emit(domain.NewEvent(domain.EventTaskAssigned))

	cancel()
	<-bus.Done()

	got := rec.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != domain.EventTaskAdded || got[1].Type != domain.EventTaskAssigned {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	var mu sync.Mutex
	drops := 0
	bus := NewBus(BusConfig{
		BufferSize:  1,
		SendTimeout: time.Millisecond,
		OnDrop: func(domain.Event) {
			mu.Lock()
			drops++
			mu.Unlock()
		},
	})

	// Run не запущен: второе событие не помещается в буфер
	bus.Emit(domain.NewEvent(domain.EventTaskAdded))
	bus.Emit(domain.NewEvent(domain.EventTaskAdded))

	if bus.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", bus.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if drops != 1 {
		t.Errorf("OnDrop calls = %d, want 1", drops)
	}
}

func TestBus_EmitAfterCloseIsSafe(t *testing.T) {
	bus := NewBus(BusConfig{})
	bus.Close()
	bus.Close()

	bus.Emit(domain.NewEvent(domain.EventSystemHeartbeat))
}

func TestBus_SubscriberPanicDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(BusConfig{})
	bus.Subscribe(SinkFunc(func(domain.Event) { panic("boom") }))
	rec := NewRecorder(4)
	bus.Subscribe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	bus.Emit(domain.NewEvent(domain.EventSystemError))
	cancel()
	<-bus.Done()

	if rec.Count(domain.EventSystemError) != 1 {
		t.Error("second subscriber must still receive the event")
	}
}

func TestRecorder_Ring(t *testing.T) {
	rec := NewRecorder(3)
	for i := 0; i < 5; i++ {
		ev := domain.NewEvent(domain.EventTaskProgress)
		ev.Data = map[string]any{"i": i}
		rec.Emit(ev)
	}

	got := rec.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Data["i"] != 2 || got[2].Data["i"] != 4 {
		t.Errorf("unexpected window: %v … %v", got[0].Data["i"], got[2].Data["i"])
	}

	if last := rec.Recent(1); len(last) != 1 || last[0].Data["i"] != 4 {
		t.Errorf("Recent(1) = %v", last)
	}
}

func TestFanout(t *testing.T) {
	a, b := NewRecorder(2), NewRecorder(2)
	Fanout{a, b, Discard}.Emit(domain.NewEvent(domain.EventTaskAdded))

	if a.Count(domain.EventTaskAdded) != 1 || b.Count(domain.EventTaskAdded) != 1 {
		t.Error("fanout must deliver to every sink")
	}
}
