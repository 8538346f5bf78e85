// Package triage decides what happens to errors that background work
// produced after its caller stopped listening.
//
// # Overview
//
// Every undeliverable error ends in exactly one of three actions:
//   - Drop: a benign, transient condition (I/O failure, reset connection,
//     interrupted wait). Nothing is logged or reported.
//   - Escalate: a defect signature (nil dereference, invalid argument,
//     invalid state, missing error handler, missing backpressure). The error
//     goes to the crash reporter whatever the debug setting.
//   - LogOnly: anything else, unless debug reporting is enabled, in which
//     case it is escalated too.
//
// # Pipeline
//
//	raw error
//	  -> Unwrap   peel one Undeliverable envelope
//	  -> Flatten  expand a composite into its ordered siblings
//	  -> Classify each sibling in order, stopping at the first Ignorable
//	              or Critical one
//	  -> Decide   for the unwrapped error when no sibling was decisive
//
// Order matters: an ignorable sibling placed before a critical one drops
// the whole error.
//
// # Wiring
//
// A composition root builds one Sink and registers its Handle method with
// the asynchronous runtime's failure hook:
//
//	sink, err := triage.NewSink(triage.Options{
//	    Rules:    triage.DefaultRules(),
//	    Reporter: reporter,
//	    Logger:   logger.NewTagged(log),
//	    Config:   toggle,
//	})
//	if err != nil {
//	    return err
//	}
//	runtime.SetErrorHandler(sink.Handle)
//
// # Thread Safety
//
// Handle is safe for concurrent and reentrant use. The only state it reads
// is the debug toggle, fetched on every call.
package triage
