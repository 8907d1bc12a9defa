package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"stackshield-go/bus"
	"stackshield-go/services/config"
	"stackshield-go/types"
)

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	failures int // Connect fails this many times first
	dials    int
	msgs     []sent
	closed   bool
}

func (f *fakeBroker) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dials <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{topic, qos, retained, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeBroker) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeBroker) snapshot() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

func nextState(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload %T", m.Payload)
		}
		return p
	case <-time.After(d):
		t.Fatal("no bridge state")
		return nil
	}
}

func waitFor(t *testing.T, f *fakeBroker, n int) []sent {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := f.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("broker got %d messages, want %d", len(f.snapshot()), n)
	return nil
}

func TestBridge_RetriesThenForwards(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")
	state := conn.Subscribe(bus.T("bridge", "state"))

	broker := &fakeBroker{failures: 2}
	s := New(conn, broker, config.MQTTConf{Prefix: "stackshield", QoS: 1}, nil)
	s.retryMin, s.retryMax = time.Millisecond, 2*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for _, want := range []string{"connecting", "dial_failed_retrying", "dial_failed_retrying", "link_established"} {
		if got := nextState(t, state, time.Second)["status"]; got != want {
			t.Fatalf("state %v, want %s", got, want)
		}
	}

	ev := types.RouteEvent{Position: 3, Action: types.RouteConnect, Channel: 1, Target: 2}
	conn.Publish(conn.NewMessage(bus.T("tss", 3, "route"), ev, false))
	rep := types.SweepReport{Position: 3, Passed: 16}
	conn.Publish(conn.NewMessage(bus.T("tss", 3, "verify", "report"), rep, true))

	got := waitFor(t, broker, 2)
	if got[0].topic != "stackshield/tss/3/route" || got[0].retained || got[0].qos != 1 {
		t.Fatalf("route forward %+v", got[0])
	}
	var back types.RouteEvent
	if err := json.Unmarshal(got[0].payload, &back); err != nil || back != ev {
		t.Fatalf("payload %s: %v", got[0].payload, err)
	}
	if got[1].topic != "stackshield/tss/3/verify/report" || !got[1].retained {
		t.Fatalf("report forward %+v", got[1])
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if !broker.closed {
		t.Fatal("publisher not closed")
	}
}

func TestBridge_ForwardsRetainedConfigOnStart(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test_cfg")
	config.Publish(conn, config.Default())

	broker := &fakeBroker{}
	s := New(conn, broker, config.MQTTConf{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	got := waitFor(t, broker, 6)
	seen := map[string]bool{}
	for _, m := range got {
		seen[m.topic] = m.retained
	}
	if !seen["config/verify"] || !seen["config/channel"] {
		t.Fatalf("config not forwarded: %v", seen)
	}
	cancel()
	<-done
}

func TestBridge_CancelWhileDialling(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("bridge_test_cancel")
	s := New(conn, &fakeBroker{failures: 1 << 30}, config.MQTTConf{}, nil)
	s.retryMin, s.retryMax = time.Millisecond, time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
}

func TestRemoteTopic(t *testing.T) {
	if got := remoteTopic("", bus.T("tss", 0, "verify", 1, 2)); got != "tss/0/verify/1/2" {
		t.Fatal(got)
	}
	if got := remoteTopic("lab", bus.T("bridge", "state")); got != "lab/bridge/state" {
		t.Fatal(got)
	}
}

func TestBackoffSeq(t *testing.T) {
	next := backoffSeq(10*time.Millisecond, 35*time.Millisecond)
	for _, want := range []time.Duration{10, 20, 35, 35} {
		if got := next(); got != want*time.Millisecond {
			t.Fatalf("backoff %v, want %v", got, want*time.Millisecond)
		}
	}
}
