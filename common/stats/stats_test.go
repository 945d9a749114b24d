package stats

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should be empty.")
	}

	statp := stat.Scope("a/b", "c").(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should still empty.")
	}
	if len(statp.scope) != 2 || statp.scope[0] != "a_SLASH_b" || statp.scope[1] != "c" {
		t.Fatal("Invalid scope value: ", statp.scope)
	}
	if statp.scopedName("d") != "a_SLASH_b/c/d" {
		t.Fatal("Invalid scope name: " + statp.scopedName("d"))
	}
}

func TestScopesShareRegistry(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Scope("manager").Counter(ManagerTransitionsCounter).Inc(2)
	stat.Counter("manager", ManagerTransitionsCounter).Inc(1)

	if c := stat.Scope("manager").Counter(ManagerTransitionsCounter).Count(); c != 3 {
		t.Errorf("expected 3, got %d", c)
	}
}

func TestCounterUpdate(t *testing.T) {
	c := DefaultStatsReceiver().Counter("c")
	c.Inc(5)
	c.Update(2)
	if c.Count() != 2 {
		t.Errorf("expected Update to set the count, got %d", c.Count())
	}
}

func TestRender(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Gauge("manager", ManagerNodesFreeGauge).Update(3)
	stat.GaugeFloat("ratio").Update(0.5)
	stat.Latency("lat_ms").Record(4 * time.Millisecond)

	data := map[string]interface{}{}
	if err := json.Unmarshal(stat.Render(false), &data); err != nil {
		t.Fatal(err)
	}
	if data["manager/nodesFree"] != float64(3) {
		t.Errorf("unexpected gauge: %v", data)
	}
	if data["ratio"] != 0.5 {
		t.Errorf("unexpected float gauge: %v", data)
	}
	if data["lat_ms.count"] != float64(1) || data["lat_ms.avg_ms"] != float64(4) {
		t.Errorf("unexpected latency: %v", data)
	}
}

func TestLatencyUsesStatsTime(t *testing.T) {
	clock := NewTestTime(time.Unix(0, 0))
	Time = clock
	defer func() { Time = DefaultStatsTime() }()

	l := DefaultStatsReceiver().Latency("lat_ms")
	timer := l.Time()
	clock.Advance(250 * time.Millisecond)
	timer.Stop()

	if snap := l.Capture(); snap.Max() != int64(250*time.Millisecond) {
		t.Errorf("unexpected max %d", snap.Max())
	}
}

func TestNilStatsReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Scope("x").Counter("y").Inc(1)
	stat.Latency("z").Time().Stop()
	if stat.Counter("y").Count() != 0 {
		t.Errorf("nil receiver should not count")
	}
	if string(stat.Render(true)) != "{}" {
		t.Errorf("nil receiver should render empty")
	}
}

func TestPrometheusCollector(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Scope("manager").Gauge(ManagerNodesFreeGauge).Update(7)
	stat.Scope("liveness").Counter(LivenessProbesCounter).Inc(3)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPrometheusCollector("nodepool", stat))

	expected := `
# HELP nodepool_manager_nodesFree manager/nodesFree
# TYPE nodepool_manager_nodesFree gauge
nodepool_manager_nodesFree 7
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "nodepool_manager_nodesFree"); err != nil {
		t.Error(err)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 2 {
		t.Errorf("expected 2 metrics, got %d (%v)", n, err)
	}
}
