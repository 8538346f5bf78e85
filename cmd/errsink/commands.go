package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/report"
	"github.com/armorclaw/errsink/pkg/triage"
)

// parseChain turns "unknown:io:timeout" into a chain whose outermost link
// is unknown and whose root cause is timeout
func parseChain(arg string) (*errchain.Error, error) {
	parts := strings.Split(arg, ":")
	var (
		cause error
		outer *errchain.Error
	)
	for i := len(parts) - 1; i >= 0; i-- {
		kind := errchain.Kind(strings.TrimSpace(parts[i]))
		if kind == "" {
			return nil, fmt.Errorf("empty kind in %q", arg)
		}
		if !errchain.IsRegistered(kind) {
			return nil, fmt.Errorf("unknown kind %q in %q", kind, arg)
		}
		outer = errchain.Wrap(kind, string(kind), cause)
		cause = outer
	}
	return outer, nil
}

// buildClassifyInput combines chain arguments into the error the sink
// would receive from the runtime
func buildClassifyInput(args []string) (input error, err error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one chain is required")
	}

	chains := make([]error, 0, len(args))
	for _, arg := range args {
		chain, err := parseChain(arg)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}

	if len(chains) == 1 {
		return errchain.Undeliverable(chains[0]), nil
	}
	return errchain.Undeliverable(errchain.Join(chains...)), nil
}

// runClassifyCommand prints the verdict the sink would reach
func runClassifyCommand(cliCfg cliConfig) {
	cfg := loadConfig(cliCfg)

	input, err := buildClassifyInput(cliCfg.args)
	if err != nil {
		log.Fatalf("classify: %v", err)
	}

	p, err := buildPipeline(cfg, false)
	if err != nil {
		log.Fatalf("Failed to build triage pipeline: %v", err)
	}
	defer p.close()

	v := p.sink.Triage(input)

	if cliCfg.jsonOutput {
		printJSON(map[string]any{
			"input":          errchain.Encode(input),
			"action":         v.Action.String(),
			"classification": v.Classification.String(),
			"sibling":        v.Sibling,
			"examined":       v.Examined,
		})
		return
	}

	fmt.Printf("Input:          %s\n", input)
	fmt.Printf("Classification: %s\n", v.Classification)
	fmt.Printf("Action:         %s\n", v.Action)
	if v.Sibling >= 0 {
		fmt.Printf("Decided by:     sibling %d (%d examined)\n", v.Sibling, v.Examined)
	} else {
		fmt.Printf("Decided by:     no decisive sibling (%d examined)\n", v.Examined)
	}
	if v.Classification == triage.Unclassified {
		fmt.Printf("Debug reporting: %v\n", p.toggle.DebugReportingEnabled())
	}
}

func openStore(cliCfg cliConfig) *report.Store {
	cfg := loadConfig(cliCfg)
	store, err := report.OpenStore(report.StoreConfig{
		Path:          cfg.Store.Path,
		RetentionDays: cfg.Store.RetentionDays,
	})
	if err != nil {
		log.Fatalf("Failed to open report store: %v", err)
	}
	return store
}

// runReportsCommand lists stored crash reports
func runReportsCommand(cliCfg cliConfig) {
	store := openStore(cliCfg)
	defer store.Close()

	q := report.ReportQuery{
		Kind:   errchain.Kind(cliCfg.kind),
		Origin: report.Origin(cliCfg.origin),
		Limit:  cliCfg.limit,
	}
	if !cliCfg.all {
		unresolved := false
		q.Resolved = &unresolved
	}

	results, err := store.Query(context.Background(), q)
	if err != nil {
		log.Fatalf("Failed to query reports: %v", err)
	}

	if cliCfg.jsonOutput {
		printJSON(results)
		return
	}

	if len(results) == 0 {
		fmt.Println("No crash reports.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRACE ID\tKIND\tORIGIN\tCOUNT\tLAST SEEN\tSTATUS\tMESSAGE")
	for _, r := range results {
		status := "open"
		if r.Resolved {
			status = "resolved"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.TraceID, r.Kind, r.Origin, r.Occurrences,
			r.LastSeen.Local().Format(time.DateTime), status, truncate(r.Message, 60))
	}
	w.Flush()
}

// runResolveCommand marks a crash report resolved
func runResolveCommand(cliCfg cliConfig) {
	if len(cliCfg.args) != 1 {
		log.Fatalf("resolve: exactly one trace ID is required")
	}
	traceID := cliCfg.args[0]

	by := cliCfg.resolvedBy
	if by == "" {
		by = os.Getenv("USER")
	}
	if by == "" {
		by = "cli"
	}

	store := openStore(cliCfg)
	defer store.Close()

	if err := store.Resolve(context.Background(), traceID, by); err != nil {
		log.Fatalf("Failed to resolve %s: %v", traceID, err)
	}
	log.Printf("✓ Report %s resolved by %s", traceID, by)
}

// runReopenCommand marks a resolved crash report open again
func runReopenCommand(cliCfg cliConfig) {
	if len(cliCfg.args) != 1 {
		log.Fatalf("reopen: exactly one trace ID is required")
	}
	traceID := cliCfg.args[0]

	store := openStore(cliCfg)
	defer store.Close()

	if err := store.Unresolve(context.Background(), traceID); err != nil {
		log.Fatalf("Failed to reopen %s: %v", traceID, err)
	}
	log.Printf("✓ Report %s reopened", traceID)
}

// runKindsCommand lists the registered error kinds
func runKindsCommand(cliCfg cliConfig) {
	defs := errchain.AllKinds()
	if cliCfg.jsonOutput {
		printJSON(defs)
		return
	}
	writeKinds(os.Stdout, defs)
}

func writeKinds(out io.Writer, defs []errchain.KindDefinition) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tPARENT\tDESCRIPTION")
	for _, def := range defs {
		parent := string(def.Parent)
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", def.Kind, parent, def.Help)
	}
	w.Flush()
}

// runStatsCommand prints store statistics
func runStatsCommand(cliCfg cliConfig) {
	store := openStore(cliCfg)
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}

	if cliCfg.jsonOutput {
		printJSON(stats)
		return
	}

	fmt.Printf("Reports:       %d (%d unresolved)\n", stats.TotalReports, stats.UnresolvedReports)
	fmt.Printf("Occurrences:   %d\n", stats.TotalOccurrences)
	fmt.Printf("Fingerprints:  %d\n", stats.UniqueFingerprint)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nKIND\tREPORTS")
	for kind, n := range stats.ByKind {
		fmt.Fprintf(w, "%s\t%d\n", kind, n)
	}
	fmt.Fprintln(w, "\nORIGIN\tREPORTS")
	for origin, n := range stats.ByOrigin {
		fmt.Fprintf(w, "%s\t%d\n", origin, n)
	}
	w.Flush()
}

// runCleanupCommand removes resolved reports past retention
func runCleanupCommand(cliCfg cliConfig) {
	store := openStore(cliCfg)
	defer store.Close()

	removed, err := store.Cleanup(context.Background())
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}
	log.Printf("✓ Removed %d resolved reports", removed)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Failed to encode output: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
