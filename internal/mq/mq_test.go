package mq

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shaiso/Orchestra/internal/domain"
)

// --- Message Tests ---

func TestSignalMessageType(t *testing.T) {
	if got := SignalMessageType(domain.SignalSecurity); got != MessageSignalSecurity {
		t.Errorf("expected %s, got %s", MessageSignalSecurity, got)
	}
	if got := SignalMessageType(domain.SignalEnvironment); got != MessageSignalEnvironment {
		t.Errorf("expected %s, got %s", MessageSignalEnvironment, got)
	}
}

func TestEventMessage(t *testing.T) {
	ev := domain.NewEvent(domain.EventConflictDetected)
	ev.ConflictID = "c1"

	msg := EventMessage(ev)
	if msg.ID != ev.ID || msg.Type != MessageType("conflict.detected") {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if !msg.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp must be the event's")
	}
}

func TestParsePayload_AfterTransport(t *testing.T) {
	// сообщение проходит через JSON, payload становится map
	sent := NewMessage(MessageTaskProgress, TaskProgressPayload{TaskID: "T1", Progress: 40, Note: "half"})
	body, err := json.Marshal(sent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var received Message
	if err := json.Unmarshal(body, &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	p, err := ParsePayload[TaskProgressPayload](&received)
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.TaskID != "T1" || p.Progress != 40 || p.Note != "half" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	msg := &Message{Type: MessageTaskProgress, Payload: map[string]any{"progress": "lots"}}

	_, err := ParsePayload[TaskProgressPayload](msg)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

// --- Ack Tests ---

func TestDecide(t *testing.T) {
	if Decide(nil) != AckOK {
		t.Error("nil error must ack")
	}
	if Decide(fmt.Errorf("%w: bad kind", ErrMalformed)) != AckDeadLetter {
		t.Error("malformed message must go to DLQ")
	}
	if Decide(errors.New("db down")) != AckRequeue {
		t.Error("transient error must requeue")
	}
}

// --- Topology Tests ---

func TestRoutes(t *testing.T) {
	declared := map[Exchange]bool{}
	for _, ex := range exchanges {
		declared[ex.name] = true
	}

	var signals route
	for _, r := range routes {
		if !declared[r.exchange] {
			t.Errorf("queue %s bound to undeclared exchange %s", r.queue, r.exchange)
		}
		if r.queue == QueueSignals {
			signals = r
		}
	}
	if signals.exchange != ExchangeSignals || signals.deadLetter != ExchangeDLQ {
		t.Errorf("unexpected signals route: %+v", signals)
	}
	if dlqKey(signals) != "signals" {
		t.Errorf("dlq key = %q, want signals", dlqKey(signals))
	}
}

func TestNextDelay(t *testing.T) {
	d := time.Second
	for range 10 {
		d = nextDelay(d)
	}
	if d != maxReconnectDelay {
		t.Errorf("expected delay capped at %s, got %s", maxReconnectDelay, d)
	}
}
