package bus

import (
	"sort"
	"testing"
	"time"
)

const (
	TopicConfig = "config"
	TopicVerify = "verify"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(Topic{TopicConfig, TopicVerify})

	msg := conn.NewMessage(Topic{TopicConfig, TopicVerify}, "hello", false)
	conn.Publish(msg)

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "hello" {
			t.Errorf("expected payload 'hello', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	msg := conn.NewMessage(Topic{TopicConfig, TopicVerify}, "persist", true)
	conn.Publish(msg)

	sub := conn.Subscribe(Topic{TopicConfig, TopicVerify})

	select {
	case got := <-sub.Channel():
		if got.Payload.(string) != "persist" {
			t.Errorf("expected retained payload 'persist', got %v", got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(Topic{"tss", "+", "report"})
	s2 := c.Subscribe(Topic{"tss", "+", "+"})
	s3 := c.Subscribe(Topic{"tss", "verify", "+"})
	sNo := c.Subscribe(Topic{"tss", "+", "route"})

	c.Publish(b.NewMessage(Topic{"tss", "verify", "report"}, "m1", false))

	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectOneOf(t, s3, "m1")
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"tss", "config", "bridge"}, "m2", false))

	expectOneOf(t, s2, "m2")
	expectNoMessage(t, s1)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(Topic{"tss", "report"}, "m3", false))
	expectNoMessage(t, s1)
	expectNoMessage(t, s2)
	expectNoMessage(t, s3)
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(Topic{"tss", "#"})
	sHash := c.Subscribe(Topic{"#"})
	sABHash := c.Subscribe(Topic{"tss", "verify", "#"})
	sAExact := c.Subscribe(Topic{"tss"})

	c.Publish(b.NewMessage(Topic{"tss"}, "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sHash, "p1")
	expectOneOf(t, sAExact, "p1")
	expectNoMessage(t, sABHash)

	c.Publish(b.NewMessage(Topic{"tss", "verify"}, "p2", false))
	expectOneOf(t, sAHash, "p2")
	expectOneOf(t, sHash, "p2")
	expectOneOf(t, sABHash, "p2")
	expectNoMessage(t, sAExact)

	c.Publish(b.NewMessage(Topic{"tss", "verify", "report"}, "p3", false))
	expectOneOf(t, sAHash, "p3")
	expectOneOf(t, sHash, "p3")
	expectOneOf(t, sABHash, "p3")
	expectNoMessage(t, sAExact)
}

func TestWildcard_RetainedDelivery(t *testing.T) {
	b := NewBus(32)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"tss"}, "r0", true))
	c.Publish(b.NewMessage(Topic{"tss", "verify"}, "r1", true))
	c.Publish(b.NewMessage(Topic{"tss", "verify", "report"}, "r2", true))
	c.Publish(b.NewMessage(Topic{"tss", "config"}, "r3", true))

	sAll := c.Subscribe(Topic{"tss", "#"})
	gotAll := drainPayloads(t, sAll, 4)
	assertUnorderedEqual(t, gotAll, []string{"r0", "r1", "r2", "r3"})

	sPlusHash := c.Subscribe(Topic{"tss", "+", "#"})
	gotPH := drainPayloads(t, sPlusHash, 3)
	assertUnorderedEqual(t, gotPH, []string{"r1", "r2", "r3"})

	sPlus := c.Subscribe(Topic{"tss", "+"})
	gotP := drainPayloads(t, sPlus, 2)
	assertUnorderedEqual(t, gotP, []string{"r1", "r3"})
}

func TestWildcard_RetainedClear(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.Publish(b.NewMessage(Topic{"tss", "verify"}, "keep", true))
	c.Publish(b.NewMessage(Topic{"tss", "bridge"}, "other", true))

	c.Publish(b.NewMessage(Topic{"tss", "verify"}, nil, true))

	s := c.Subscribe(Topic{"tss", "#"})
	got := drainPayloads(t, s, 1)

	if len(got) != 1 || got[0] != "other" {
		t.Fatalf("expected only 'other' after clear, got %v", got)
	}
}

func TestWildcard_NoMatchCases(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")

	s := c.Subscribe(Topic{"tss", "+", "report"})

	c.Publish(b.NewMessage(Topic{"tss", "report"}, "x", false))
	expectNoMessage(t, s)

	c.Publish(b.NewMessage(Topic{"tss", "verify", "route"}, "y", false))
	expectNoMessage(t, s)
}

// -----------------------------------------------------------------------------
// Station topics
// -----------------------------------------------------------------------------

func TestIntTokens_VerifyTopics(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("ui")

	all := c.Subscribe(T("tss", "+", "verify", "#"))
	pos3 := c.Subscribe(T("tss", 3, "verify", "+", "+"))

	c.Publish(b.NewMessage(T("tss", 3, "verify", 1, 2), "p3", false))
	c.Publish(b.NewMessage(T("tss", 4, "verify", 0, 0), "p4", false))
	c.Publish(b.NewMessage(T("tss", 3, "route"), "route", false))

	got := drainPayloads(t, all, 2)
	assertUnorderedEqual(t, got, []string{"p3", "p4"})
	expectOneOf(t, pos3, "p3")
	expectNoMessage(t, pos3)

	// "3" (string) and 3 (int) are different tokens.
	c.Publish(b.NewMessage(T("tss", "3", "verify", 1, 2), "str", false))
	expectNoMessage(t, pos3)
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, topic Topic
		want           bool
	}{
		{T("a", "#"), T("a"), true},
		{T("a", "#"), T("a", "b", "c"), true},
		{T("a", "+"), T("a"), false},
		{T("a", "+", "c"), T("a", "b", "c"), true},
		{T("tss", 1), T("tss", 1), true},
		{T("tss", 1), T("tss", 2), false},
		{T("#"), T(), true},
	}
	for _, c := range cases {
		if got := Match(c.pattern, c.topic); got != c.want {
			t.Errorf("Match(%v, %v) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

func TestUnsubscribeClosesAndStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	s := c.Subscribe(T("x"))
	c.Unsubscribe(s)
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel should be closed")
	}
	// Publishing after unsubscribe must not panic.
	c.Publish(b.NewMessage(T("x"), "late", false))
	// Second unsubscribe is a no-op.
	c.Unsubscribe(s)
}

func TestQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(T("q"))
	for _, p := range []string{"1", "2", "3"} {
		c.Publish(b.NewMessage(T("q"), p, false))
	}
	got := drainPayloads(t, s, 2)
	if got[0] != "2" || got[1] != "3" {
		t.Fatalf("expected newest two, got %v", got)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		s, ok := got.Payload.(string)
		if !ok || s != want {
			t.Fatalf("unexpected payload: %v (want %q)", got.Payload, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			} else {
				t.Fatalf("non-string payload in drain: %#v", m.Payload)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(out) != n {
		t.Fatalf("drainPayloads: expected %d messages, got %d (%v)", n, len(out), out)
	}
	return out
}

func assertUnorderedEqual(t *testing.T, got, want []string) {
	t.Helper()
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("mismatch at %d: got %q, want %q (got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}
