package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersCollectors(t *testing.T) {
	m := New("0.1.0", "go1.26.0")
	if m == nil || m.Registry == nil {
		t.Fatal("New returned a metrics instance with a nil registry")
	}
}

func TestMetricsIsolation(t *testing.T) {
	m1 := New("0.1.0", "go1.26.0")
	m2 := New("0.2.0", "go1.26.0")

	m1.ReplicationOutcomesTotal.WithLabelValues("applied").Inc()

	families, err := m2.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "meshd_replication_outcomes_total" {
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() != 0 {
					t.Error("m2 registry observed m1's counter; registries are not isolated")
				}
			}
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New("0.1.0", "go1.26.0")
	m.GossipMessagesTotal.WithLabelValues("have", "forwarded").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "meshd_gossip_messages_total") {
		t.Fatal("expected gossip metric in exposition output")
	}
}
