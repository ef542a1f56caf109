package stats

import "testing"

func TestCounterIncIsNoopWhenDisabled(t *testing.T) {
	var c Counter_t
	c.Inc()
	if Stats {
		t.Skip("Stats enabled, Inc is expected to mutate")
	}
	if c != 0 {
		t.Fatalf("Counter_t.Inc with Stats=false should be a no-op, got %d", c)
	}
}

func TestCyclesAddIsNoopWhenDisabled(t *testing.T) {
	var cy Cycles_t
	cy.Add(Now())
	if Timing {
		t.Skip("Timing enabled, Add is expected to mutate")
	}
	if cy != 0 {
		t.Fatalf("Cycles_t.Add with Timing=false should be a no-op, got %d", cy)
	}
}

func TestStats2StringEmptyWhenDisabled(t *testing.T) {
	type counters struct {
		Hits Counter_t
	}
	if got := Stats2String(counters{}); got != "" && !Stats {
		t.Fatalf("Stats2String with Stats=false should return \"\", got %q", got)
	}
}
