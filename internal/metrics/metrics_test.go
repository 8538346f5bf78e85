package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOutcome(t *testing.T) {
	m := New()
	before := testutil.ToFloat64(triageOutcomes.WithLabelValues("critical", "escalate"))

	m.RecordOutcome("critical", "escalate")
	m.RecordOutcome("critical", "escalate")
	m.RecordOutcome("ignorable", "drop")

	after := testutil.ToFloat64(triageOutcomes.WithLabelValues("critical", "escalate"))
	if after-before != 2 {
		t.Errorf("prometheus counter grew by %v, want 2", after-before)
	}

	snap := m.GetSnapshot()
	if snap.Outcomes["critical/escalate"] != 2 {
		t.Errorf("Outcomes[critical/escalate] = %d, want 2", snap.Outcomes["critical/escalate"])
	}
	if snap.Outcomes["ignorable/drop"] != 1 {
		t.Errorf("Outcomes[ignorable/drop] = %d, want 1", snap.Outcomes["ignorable/drop"])
	}
}

func TestRecordReportAndIngest(t *testing.T) {
	m := New()

	m.RecordReport("store", "ok")
	m.RecordReport("notify", "sampled")
	m.RecordIngest("accepted", 3*time.Millisecond)
	m.RecordIngest("rejected", time.Millisecond)

	snap := m.GetSnapshot()
	if snap.Reports["store/ok"] != 1 || snap.Reports["notify/sampled"] != 1 {
		t.Errorf("Reports = %v", snap.Reports)
	}
	if snap.Ingested["accepted"] != 1 || snap.Ingested["rejected"] != 1 {
		t.Errorf("Ingested = %v", snap.Ingested)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := New()
	m.RecordOutcome("unclassified", "log")

	snap := m.GetSnapshot()
	snap.Outcomes["unclassified/log"] = 100

	if got := m.GetSnapshot().Outcomes["unclassified/log"]; got != 1 {
		t.Errorf("snapshot mutation leaked: got %d, want 1", got)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	if err := Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register(reg); err != nil {
		t.Errorf("second Register() error = %v, want nil", err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m := New()
	m.RecordOutcome("critical", "escalate")
	m.SetStoreGauges(3, 1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"errsink_triage_outcomes_total", `errsink_stored_reports{state="unresolved"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordOutcome("unclassified", "log")
		}()
	}
	wg.Wait()

	if got := m.GetSnapshot().Outcomes["unclassified/log"]; got != 50 {
		t.Errorf("Outcomes[unclassified/log] = %d, want 50", got)
	}
}
