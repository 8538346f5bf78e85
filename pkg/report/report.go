// Package report turns escalated errors into crash reports: it persists
// them to SQLite, samples repeats, and notifies a webhook.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/armorclaw/errsink/pkg/errchain"
)

// Origin says how an error reached the reporter
type Origin string

const (
	OriginUndeliverable Origin = "undeliverable"
	OriginPanic         Origin = "panic"
)

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Report is one crash report
type Report struct {
	TraceID string        `json:"trace_id"`
	Kind    errchain.Kind `json:"kind"`
	Message string        `json:"message"`
	Origin  Origin        `json:"origin"`

	// Chain lists the error and its causes, outermost first
	Chain []errchain.Link `json:"chain"`

	// Siblings holds one chain per sibling when the error is a composite
	Siblings [][]errchain.Link `json:"siblings,omitempty"`

	Stack      []StackFrame `json:"stack,omitempty"`
	PanicStack string       `json:"panic_stack,omitempty"`

	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
	RepeatCount int       `json:"repeat_count,omitempty"`
}

// New builds a report for err. The report kind is the kind of the
// innermost cause, which is usually the most specific.
func New(err error) *Report {
	r := &Report{
		TraceID:   uuid.NewString(),
		Message:   err.Error(),
		Origin:    OriginUndeliverable,
		Chain:     errchain.Links(err),
		Stack:     captureStack(1),
		Timestamp: time.Now().UTC(),
	}

	if n := len(r.Chain); n > 0 {
		r.Kind = r.Chain[n-1].Kind
	}

	for _, sibling := range errchain.Siblings(err) {
		r.Siblings = append(r.Siblings, errchain.Links(sibling))
	}

	var pe *errchain.PanicError
	if errors.As(err, &pe) {
		r.Origin = OriginPanic
		r.PanicStack = string(pe.Stack())
	}

	r.Fingerprint = fingerprint(r)
	return r
}

// fingerprint identifies reports with the same shape: the same kinds in
// the same chain and sibling positions. Messages are left out so that
// varying details do not split one defect into many.
func fingerprint(r *Report) string {
	var sb strings.Builder
	sb.WriteString(string(r.Origin))
	for _, link := range r.Chain {
		sb.WriteString(">")
		sb.WriteString(string(link.Kind))
	}
	for _, chain := range r.Siblings {
		sb.WriteString("|")
		for _, link := range chain {
			sb.WriteString(">")
			sb.WriteString(string(link.Kind))
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

// FormatSummary returns a human-readable summary for notification
func (r *Report) FormatSummary() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s crash report: %s\n\n", strings.ToUpper(string(r.Origin)), r.Kind))
	sb.WriteString(r.Message)
	sb.WriteString("\n\n")

	for i, link := range r.Chain {
		sb.WriteString(fmt.Sprintf("%s- %s", strings.Repeat("  ", i), link.Kind))
		if link.Message != "" {
			sb.WriteString(": " + link.Message)
		}
		sb.WriteString("\n")
	}
	if len(r.Siblings) > 0 {
		sb.WriteString(fmt.Sprintf("%d sibling errors\n", len(r.Siblings)))
	}

	if len(r.Stack) > 0 {
		top := r.Stack[0]
		sb.WriteString(fmt.Sprintf("Location: %s @ %s:%d\n", top.Function, top.File, top.Line))
	}
	sb.WriteString(fmt.Sprintf("Trace ID: %s\n", r.TraceID))
	sb.WriteString(r.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC") + "\n")

	if r.RepeatCount > 0 {
		sb.WriteString(fmt.Sprintf("Repeated %d times\n", r.RepeatCount))
	}

	return sb.String()
}

// FormatJSON returns the full report as formatted JSON
func (r *Report) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// captureStack captures the current call stack, skipping the specified
// number of frames and this package's own frames
func captureStack(skip int) []StackFrame {
	var frames []StackFrame

	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return frames
	}

	callers := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callers.Next()

		internal := strings.HasPrefix(frame.Function, "runtime.") ||
			strings.Contains(frame.Function, "errsink/pkg/report.")
		if !internal {
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}

		if !more || frame.Function == "main.main" {
			break
		}
	}

	return frames
}
