package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/logger"
)

// mockSender counts notifications
type mockSender struct {
	mu        sync.Mutex
	callCount int
	reports   []*Report
	err       error
}

func (m *mockSender) Send(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.reports = append(m.reports, r)
	return m.err
}

func (m *mockSender) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// mockRecorder collects stage results
type mockRecorder struct {
	mu      sync.Mutex
	results []string
}

func (m *mockRecorder) RecordReport(stage, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, stage+"/"+result)
}

func (m *mockRecorder) has(entry string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r == entry {
			return true
		}
	}
	return false
}

func quietLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.FromHandler(slog.NewJSONHandler(buf, nil), "reporter")
}

func TestSampler_ShouldNotify(t *testing.T) {
	s := NewSampler(SamplerConfig{Window: time.Minute})
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	at := func(offset time.Duration) *Report {
		return &Report{Fingerprint: "fp", TraceID: "t", Timestamp: base.Add(offset)}
	}

	if !s.ShouldNotify(at(0)) {
		t.Error("first occurrence should notify")
	}
	if s.ShouldNotify(at(10 * time.Second)) {
		t.Error("repeat inside window should not notify")
	}
	if s.ShouldNotify(at(50 * time.Second)) {
		t.Error("repeat inside window should not notify")
	}
	if got := s.Pending("fp"); got != 3 {
		t.Errorf("Pending() = %d, want 3", got)
	}

	late := at(3 * time.Minute)
	if !s.ShouldNotify(late) {
		t.Error("repeat after window should notify")
	}
	if late.RepeatCount != 3 {
		t.Errorf("RepeatCount = %d, want 3", late.RepeatCount)
	}

	other := &Report{Fingerprint: "other", Timestamp: base}
	if !s.ShouldNotify(other) {
		t.Error("different fingerprint should notify")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	s.Forget("fp")
	if !s.ShouldNotify(at(3*time.Minute + time.Second)) {
		t.Error("forgotten fingerprint should notify again")
	}
}

func TestSampler_Cleanup(t *testing.T) {
	s := NewSampler(SamplerConfig{Window: time.Minute, RetentionPeriod: time.Hour})
	start := time.Now()

	s.ShouldNotify(&Report{Fingerprint: "old", Timestamp: start})
	s.ShouldNotify(&Report{Fingerprint: "new", Timestamp: start.Add(3 * time.Hour)})

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after idle record expired", s.Len())
	}
}

func TestWebhookSender_Send(t *testing.T) {
	var got WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender, err := NewWebhookSender(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhookSender() error = %v", err)
	}

	r := New(errchain.New(errchain.KindInvalidState, "closed"))
	if err := sender.Send(context.Background(), r); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.Report == nil || got.Report.TraceID != r.TraceID {
		t.Errorf("payload report = %+v, want trace %s", got.Report, r.TraceID)
	}
	if !strings.Contains(got.Text, "invalid_state") {
		t.Errorf("payload text = %q", got.Text)
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender, _ := NewWebhookSender(WebhookConfig{URL: srv.URL})
	err := sender.Send(context.Background(), New(errors.New("x")))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("Send() error = %v, want 502", err)
	}
}

func TestWebhookSender_RateLimit(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	sender, _ := NewWebhookSender(WebhookConfig{URL: srv.URL, RateLimit: 0.001, Burst: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := sender.Send(ctx, New(errors.New("x"))); err != nil {
			t.Fatalf("Send() #%d error = %v", i, err)
		}
	}
	if err := sender.Send(ctx, New(errors.New("x"))); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Send() over burst = %v, want ErrRateLimited", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 2 {
		t.Errorf("webhook hit %d times, want 2", hits)
	}
}

func TestNewWebhookSender_RequiresURL(t *testing.T) {
	if _, err := NewWebhookSender(WebhookConfig{}); err == nil {
		t.Error("NewWebhookSender() without URL should fail")
	}
}

func newTestReporter(t *testing.T, sender Sender) (*Reporter, *Store, *mockRecorder) {
	t.Helper()
	store := newTestStore(t)
	rec := &mockRecorder{}
	var buf bytes.Buffer
	r := NewReporter(ReporterConfig{
		Store:    store,
		Sampler:  NewSampler(SamplerConfig{Window: time.Hour}),
		Sender:   sender,
		Logger:   quietLogger(&buf),
		Recorder: rec,
	})
	return r, store, rec
}

func TestReporter_Report(t *testing.T) {
	sender := &mockSender{}
	r, store, rec := newTestReporter(t, sender)

	cause := errchain.Wrap(errchain.KindUnknown, "render", errchain.New(errchain.KindNullReference, "item"))
	r.Report(cause)
	r.Report(cause)
	r.Wait()

	if sender.calls() != 1 {
		t.Errorf("Send() called %d times, want 1 (second sampled)", sender.calls())
	}

	results, _ := store.Query(context.Background(), ReportQuery{})
	if len(results) != 1 || results[0].Occurrences != 2 {
		t.Fatalf("stored %+v, want one report with 2 occurrences", results)
	}

	for _, want := range []string{"store/ok", "notify/sent", "notify/sampled"} {
		if !rec.has(want) {
			t.Errorf("recorder missing %s: %v", want, rec.results)
		}
	}
}

func TestReporter_ReportNil(t *testing.T) {
	sender := &mockSender{}
	r, _, _ := newTestReporter(t, sender)

	r.Report(nil)
	r.Wait()

	if sender.calls() != 0 {
		t.Errorf("Send() called %d times for nil, want 0", sender.calls())
	}
}

func TestReporter_SendFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	r := NewReporter(ReporterConfig{
		Sender:   &mockSender{err: errors.New("hook down")},
		Logger:   quietLogger(&buf),
		Recorder: rec,
	})

	r.Report(errors.New("x"))
	r.Wait()

	if !rec.has("notify/error") {
		t.Errorf("recorder = %v, want notify/error", rec.results)
	}
	if !strings.Contains(buf.String(), "hook down") {
		t.Errorf("send failure not logged: %s", buf.String())
	}
}

func TestReporter_RateLimitedSend(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	r := NewReporter(ReporterConfig{
		Sender:   &mockSender{err: ErrRateLimited},
		Logger:   quietLogger(&buf),
		Recorder: rec,
	})

	r.Report(errors.New("x"))
	r.Wait()

	if !rec.has("notify/rate_limited") {
		t.Errorf("recorder = %v, want notify/rate_limited", rec.results)
	}
}

func TestReporter_Resolve(t *testing.T) {
	sender := &mockSender{}
	r, store, _ := newTestReporter(t, sender)
	ctx := context.Background()

	cause := errchain.New(errchain.KindInvalidState, "closed")
	r.Report(cause)
	r.Wait()

	results, _ := store.Query(ctx, ReportQuery{})
	if len(results) != 1 {
		t.Fatalf("stored %d reports, want 1", len(results))
	}
	if err := r.Resolve(ctx, results[0].TraceID, "ops"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	r.Report(cause)
	r.Wait()
	if sender.calls() != 2 {
		t.Errorf("Send() called %d times, want 2 after resolve", sender.calls())
	}

	if err := r.Resolve(ctx, "missing", "ops"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) = %v, want ErrNotFound", err)
	}
}

func TestReporter_UnresolveAndDelete(t *testing.T) {
	sender := &mockSender{}
	r, store, _ := newTestReporter(t, sender)
	ctx := context.Background()

	r.Report(errchain.New(errchain.KindInvalidArgument, "negative size"))
	r.Wait()

	results, _ := store.Query(ctx, ReportQuery{})
	if len(results) != 1 {
		t.Fatalf("stored %d reports, want 1", len(results))
	}
	traceID := results[0].TraceID

	if err := r.Resolve(ctx, traceID, "ops"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := r.Unresolve(ctx, traceID); err != nil {
		t.Fatalf("Unresolve() error = %v", err)
	}
	stored, err := store.Get(ctx, traceID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Resolved || stored.ResolvedBy != "" {
		t.Errorf("reopened report = %+v, want unresolved", stored)
	}

	if err := r.Delete(ctx, traceID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, traceID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) = %v, want ErrNotFound", err)
	}

	for name, op := range map[string]func() error{
		"Unresolve": func() error { return r.Unresolve(ctx, "missing") },
		"Delete":    func() error { return r.Delete(ctx, "missing") },
	} {
		if err := op(); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s(missing) = %v, want ErrNotFound", name, err)
		}
	}

	r.Report(errchain.New(errchain.KindInvalidArgument, "negative size"))
	r.Wait()
	if sender.calls() != 2 {
		t.Errorf("Send() called %d times, want 2 after delete", sender.calls())
	}
}

func TestReporter_CatchPanic(t *testing.T) {
	sender := &mockSender{}
	r, store, _ := newTestReporter(t, sender)

	func() {
		defer func() {
			if v := recover(); v != "worker crashed" {
				t.Errorf("recover() = %v, want re-panic", v)
			}
		}()
		defer r.CatchPanic()
		panic("worker crashed")
	}()
	r.Wait()

	results, _ := store.Query(context.Background(), ReportQuery{Origin: OriginPanic})
	if len(results) != 1 {
		t.Fatalf("stored %d panic reports, want 1", len(results))
	}
	if sender.calls() != 1 {
		t.Errorf("Send() called %d times, want 1", sender.calls())
	}
}

func TestCleanupScheduler(t *testing.T) {
	store := newTestStore(t)

	if _, err := NewCleanupScheduler(store, "whenever", nil); err == nil {
		t.Error("NewCleanupScheduler() should reject an invalid spec")
	}

	s, err := NewCleanupScheduler(store, "@hourly", nil)
	if err != nil {
		t.Fatalf("NewCleanupScheduler() error = %v", err)
	}
	s.Start()
	defer s.Stop()

	if next := s.Next(); next.IsZero() || next.Before(time.Now()) {
		t.Errorf("Next() = %v, want a future time", next)
	}

	// A sweep on an empty store is a no-op
	s.run()
}
