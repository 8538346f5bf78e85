package triage

import (
	"errors"
	"fmt"
	"log/slog"
)

// Tag is the log tag used for undeliverable errors
const Tag = "errsink"

// ErrMissingCollaborator is returned when a required collaborator is nil
var ErrMissingCollaborator = errors.New("missing collaborator")

// CrashReporter receives escalated errors. Report is fire-and-forget and
// must be safe to call from any goroutine.
type CrashReporter interface {
	Report(err error)
}

// Logger writes diagnostic records for errors that are not escalated
type Logger interface {
	Error(tag, message string, err error)
}

// Config exposes the debug reporting toggle. It is read on every call.
type Config interface {
	DebugReportingEnabled() bool
}

// Recorder counts triage outcomes. It is optional.
type Recorder interface {
	RecordOutcome(classification, action string)
}

// Options configures a Sink
type Options struct {
	Rules    Rules
	Reporter CrashReporter
	Logger   Logger
	Config   Config
	Recorder Recorder
}

// Verdict is the decision reached for one raw error
type Verdict struct {
	Action         Action
	Classification Classification

	// Payload is the error handed to the action: the decisive sibling, or
	// the unwrapped error when no sibling was decisive.
	Payload error

	// Sibling is the index of the decisive sibling, -1 when none was
	Sibling int

	// Examined counts the siblings that were classified
	Examined int
}

// Sink is the single entry point for undeliverable errors
type Sink struct {
	classifier *Classifier
	reporter   CrashReporter
	logger     Logger
	config     Config
	recorder   Recorder
}

// NewSink creates a sink. Reporter, Logger and Config are required.
func NewSink(opts Options) (*Sink, error) {
	if opts.Reporter == nil {
		return nil, fmt.Errorf("%w: crash reporter", ErrMissingCollaborator)
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingCollaborator)
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: config", ErrMissingCollaborator)
	}

	return &Sink{
		classifier: NewClassifier(opts.Rules),
		reporter:   opts.Reporter,
		logger:     opts.Logger,
		config:     opts.Config,
		recorder:   opts.Recorder,
	}, nil
}

// Triage decides what Handle would do with raw, without acting on it.
// A nil error is dropped.
func (s *Sink) Triage(raw error) Verdict {
	if raw == nil {
		return Verdict{Action: Drop, Sibling: -1}
	}

	unwrapped := Unwrap(raw)
	siblings := siblingsOf(unwrapped)

	for i, sibling := range siblings {
		switch c := s.classifier.Classify(sibling); c {
		case Ignorable, Critical:
			// First decisive sibling wins; later siblings are never looked at
			return Verdict{
				Action:         Decide(c, false),
				Classification: c,
				Payload:        sibling,
				Sibling:        i,
				Examined:       i + 1,
			}
		}
	}

	return Verdict{
		Action:         Decide(Unclassified, s.config.DebugReportingEnabled()),
		Classification: Unclassified,
		Payload:        unwrapped,
		Sibling:        -1,
		Examined:       len(siblings),
	}
}

// Handle triages raw and acts on the verdict. A panic while classifying,
// recording the outcome or logging is swallowed; a panic raised by the crash
// reporter is let through, since escalation may end the process on purpose.
func (s *Sink) Handle(raw error) {
	if raw == nil {
		return
	}

	var v Verdict
	if !s.guard("classify", func() { v = s.Triage(raw) }) {
		return
	}
	if s.recorder != nil {
		s.guard("record", func() {
			s.recorder.RecordOutcome(v.Classification.String(), v.Action.String())
		})
	}

	switch v.Action {
	case Escalate:
		s.reporter.Report(v.Payload)
	case LogOnly:
		s.guard("log", func() {
			s.logger.Error(Tag, "undeliverable error received", v.Payload)
		})
	}
}

// guard runs fn and swallows any panic with a best-effort diagnostic
func (s *Sink) guard(stage string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			defer func() { _ = recover() }()
			slog.Default().Error("error sink failure swallowed",
				"stage", stage,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn()
	return true
}
