package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/logger"
)

// Recorder counts reporter stage results. It is optional.
type Recorder interface {
	RecordReport(stage, result string)
}

// ReporterConfig configures a Reporter. Every collaborator is optional:
// without a store reports are not persisted, without a sender nobody is
// notified.
type ReporterConfig struct {
	Store    *Store
	Sampler  *Sampler
	Sender   Sender
	Logger   *logger.Logger
	Recorder Recorder

	// Timeout bounds storing and notifying one report (default 10s)
	Timeout time.Duration
}

// Reporter is the crash reporter escalated errors are handed to
type Reporter struct {
	store    *Store
	sampler  *Sampler
	sender   Sender
	log      *logger.Logger
	recorder Recorder
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewReporter creates a reporter
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Logger == nil {
		cfg.Logger = logger.Global().WithComponent("reporter")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Reporter{
		store:    cfg.Store,
		sampler:  cfg.Sampler,
		sender:   cfg.Sender,
		log:      cfg.Logger,
		recorder: cfg.Recorder,
		timeout:  cfg.Timeout,
	}
}

// Report files a crash report for err. It never fails: storage and
// notification errors are logged. The report is stored before Report
// returns; the notification is sent in the background.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	r.Submit(context.Background(), New(err))
}

// Submit stores rep and schedules its notification. It returns the trace
// ID the report was stored under.
func (r *Reporter) Submit(ctx context.Context, rep *Report) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.store != nil {
		if _, err := r.store.Save(ctx, rep); err != nil {
			r.record("store", "error")
			r.log.ErrorEvent(ctx, "failed to store crash report", err,
				slog.String("report_kind", string(rep.Kind)),
			)
		} else {
			r.record("store", "ok")
		}
	}

	r.log.WithTraceID(rep.TraceID).Warn("crash report filed",
		"kind", rep.Kind,
		"origin", rep.Origin,
		"fingerprint", rep.Fingerprint,
	)

	if r.sampler != nil && !r.sampler.ShouldNotify(rep) {
		r.record("notify", "sampled")
		r.log.WithTraceID(rep.TraceID).Debug("notification sampled",
			"fingerprint", rep.Fingerprint,
			"pending", r.sampler.Pending(rep.Fingerprint),
		)
		return rep.TraceID
	}
	if r.sender == nil {
		return rep.TraceID
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.notify(rep)
	}()
	return rep.TraceID
}

func (r *Reporter) notify(rep *Report) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	err := r.sender.Send(ctx, rep)
	switch {
	case err == nil:
		r.record("notify", "sent")
	case errors.Is(err, ErrRateLimited):
		r.record("notify", "rate_limited")
		r.log.Debug("notification dropped by rate limit", "trace_id", rep.TraceID)
	default:
		r.record("notify", "error")
		r.log.ErrorEvent(ctx, "failed to send crash notification", err,
			slog.String("trace_id", rep.TraceID),
		)
	}
}

// Resolve marks a stored report resolved and resets its sampling record,
// so the next occurrence notifies again
func (r *Reporter) Resolve(ctx context.Context, traceID, by string) error {
	if r.store == nil {
		return ErrNotFound
	}
	stored, err := r.store.Get(ctx, traceID)
	if err != nil {
		return err
	}
	if err := r.store.Resolve(ctx, traceID, by); err != nil {
		return err
	}
	if r.sampler != nil {
		r.sampler.Forget(stored.Fingerprint)
	}
	return nil
}

// Unresolve reopens a resolved report
func (r *Reporter) Unresolve(ctx context.Context, traceID string) error {
	if r.store == nil {
		return ErrNotFound
	}
	return r.store.Unresolve(ctx, traceID)
}

// Delete removes a report and forgets its notification window
func (r *Reporter) Delete(ctx context.Context, traceID string) error {
	if r.store == nil {
		return ErrNotFound
	}
	stored, err := r.store.Get(ctx, traceID)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, traceID); err != nil {
		return err
	}
	if r.sampler != nil {
		r.sampler.Forget(stored.Fingerprint)
	}
	return nil
}

// Store returns the reporter's store, which may be nil
func (r *Reporter) Store() *Store {
	return r.store
}

// CatchPanic reports a panic in the calling goroutine and re-panics.
// It must be deferred directly:
//
//	defer reporter.CatchPanic()
func (r *Reporter) CatchPanic() {
	if v := recover(); v != nil {
		r.Report(errchain.FromPanic(v))
		panic(v)
	}
}

// Wait blocks until in-flight notifications have finished
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) record(stage, result string) {
	if r.recorder != nil {
		r.recorder.RecordReport(stage, result)
	}
}
