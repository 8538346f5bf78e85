package report

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/armorclaw/errsink/pkg/errchain"
)

func TestNew(t *testing.T) {
	err := errchain.Wrap(errchain.KindUnknown, "render item", errchain.New(errchain.KindNullReference, "nil item"))

	r := New(err)

	if r.TraceID == "" {
		t.Error("TraceID is empty")
	}
	if r.Kind != errchain.KindNullReference {
		t.Errorf("Kind = %s, want null_reference", r.Kind)
	}
	if r.Origin != OriginUndeliverable {
		t.Errorf("Origin = %s, want undeliverable", r.Origin)
	}
	if r.Message != "render item: nil item" {
		t.Errorf("Message = %q", r.Message)
	}
	if len(r.Chain) != 2 || r.Chain[0].Message != "render item" {
		t.Errorf("Chain = %v", r.Chain)
	}
	if len(r.Siblings) != 0 {
		t.Errorf("Siblings = %v, want none", r.Siblings)
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp not in UTC: %v", r.Timestamp)
	}
	if r.Fingerprint == "" {
		t.Error("Fingerprint is empty")
	}
}

func TestNew_Composite(t *testing.T) {
	err := errchain.Join(io.EOF, errchain.New(errchain.KindInvalidState, "done twice"))

	r := New(err)

	if r.Kind != errchain.KindComposite {
		t.Errorf("Kind = %s, want composite", r.Kind)
	}
	if len(r.Siblings) != 2 {
		t.Fatalf("Siblings = %v, want 2", r.Siblings)
	}
	if r.Siblings[1][0].Kind != errchain.KindInvalidState {
		t.Errorf("second sibling kind = %s, want invalid_state", r.Siblings[1][0].Kind)
	}
}

func TestNew_Panic(t *testing.T) {
	r := New(errchain.FromPanic("index out of range"))

	if r.Origin != OriginPanic {
		t.Errorf("Origin = %s, want panic", r.Origin)
	}
	if r.PanicStack == "" {
		t.Error("PanicStack is empty")
	}

	wrapped := New(errchain.Undeliverable(errchain.FromPanic(errors.New("boom"))))
	if wrapped.Origin != OriginPanic {
		t.Errorf("wrapped panic Origin = %s, want panic", wrapped.Origin)
	}
}

func TestFingerprint(t *testing.T) {
	a := New(errchain.Wrap(errchain.KindUnknown, "fetch 1", errchain.New(errchain.KindInvalidState, "x")))
	b := New(errchain.Wrap(errchain.KindUnknown, "fetch 2", errchain.New(errchain.KindInvalidState, "y")))
	c := New(errchain.Wrap(errchain.KindUnknown, "fetch 1", errchain.New(errchain.KindNullReference, "x")))

	if a.Fingerprint != b.Fingerprint {
		t.Error("fingerprint should ignore messages")
	}
	if a.Fingerprint == c.Fingerprint {
		t.Error("fingerprint should depend on kinds")
	}
	if a.TraceID == b.TraceID {
		t.Error("trace IDs should be unique")
	}
}

func TestFormatSummary(t *testing.T) {
	r := New(errchain.Wrap(errchain.KindUnknown, "sync", errchain.New(errchain.KindInvalidState, "closed")))
	r.RepeatCount = 4

	summary := r.FormatSummary()

	for _, want := range []string{"UNDELIVERABLE", "invalid_state", "sync: closed", r.TraceID, "Repeated 4 times"} {
		if !strings.Contains(summary, want) {
			t.Errorf("FormatSummary() missing %q:\n%s", want, summary)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	r := New(errchain.New(errchain.KindInvalidArgument, "negative limit"))

	out, err := r.FormatJSON()
	if err != nil {
		t.Fatalf("FormatJSON() error = %v", err)
	}

	var decoded Report
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("FormatJSON() output is not valid JSON: %v", err)
	}
	if decoded.TraceID != r.TraceID || decoded.Kind != r.Kind {
		t.Errorf("decoded = %+v, want trace %s kind %s", decoded, r.TraceID, r.Kind)
	}
}

func TestCaptureStack(t *testing.T) {
	frames := captureStack(0)
	for _, f := range frames {
		if strings.HasPrefix(f.Function, "runtime.") {
			t.Errorf("runtime frame not skipped: %s", f.Function)
		}
		if strings.Contains(f.Function, "errsink/pkg/report.") {
			t.Errorf("own package frame not skipped: %s", f.Function)
		}
	}
}
