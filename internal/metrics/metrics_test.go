package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Cycle()
	m.ChainUnreachable()
	m.EventsDelivered("Deposit", 3)
	m.ListenerError("Deposit")
	m.AlertsSent()
	m.AlertsDropped()
	m.Errors()
	m.Cursor("Deposit", 10)
	m.Cutoff(10)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := Init()
	if Init() != m {
		t.Fatalf("Init should return the same instance")
	}
	m.EventsDelivered("Deposit", 2)
	m.Cursor("Deposit", 42)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`event_watcher_events_delivered_total{event="Deposit"} 2`,
		`event_watcher_event_cursor{event="Deposit"} 42`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in scrape output", want)
		}
	}
}
