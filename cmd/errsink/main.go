// Command errsink hosts the undeliverable-error triage pipeline and manages
// the crash reports it files
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/armorclaw/errsink/pkg/config"
	"github.com/armorclaw/errsink/pkg/logger"
)

var (
	version   = "0.3.0"
	buildTime = "unknown"
)

type cliConfig struct {
	command      string
	args         []string
	configPath   string
	configOutput string
	listen       string
	dbPath       string
	logLevel     string
	verbose      bool
	debug        bool
	version      bool
	help         bool
	// Report command flags
	kind       string
	origin     string
	all        bool
	limit      int
	resolvedBy string
	jsonOutput bool
}

func main() {
	cliCfg := parseFlags()
	logger.Version = version

	if cliCfg.version {
		printVersion()
		return
	}

	if cliCfg.help {
		printHelp()
		return
	}

	switch cliCfg.command {
	case "init":
		runInitCommand(cliCfg)
	case "validate":
		runValidateCommand(cliCfg)
	case "classify":
		runClassifyCommand(cliCfg)
	case "reports":
		runReportsCommand(cliCfg)
	case "resolve":
		runResolveCommand(cliCfg)
	case "reopen":
		runReopenCommand(cliCfg)
	case "stats":
		runStatsCommand(cliCfg)
	case "cleanup":
		runCleanupCommand(cliCfg)
	case "kinds":
		runKindsCommand(cliCfg)
	case "version":
		printVersion()
	case "help":
		if len(cliCfg.args) > 0 {
			printCommandHelp(cliCfg.args[0])
		} else {
			printHelp()
		}
	case "", "run":
		runServer(cliCfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cliCfg.command)
		printHelp()
		os.Exit(2)
	}
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.configOutput, "config-output", "", "Output path for 'init' command")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config)")
	flag.StringVar(&cfg.dbPath, "db", "", "Path to report database (overrides config)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.debug, "debug", false, "Escalate unclassified errors (overrides config)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	// Report command flags
	flag.StringVar(&cfg.kind, "kind", "", "Only reports of this kind (reports command)")
	flag.StringVar(&cfg.origin, "origin", "", "Only reports of this origin: undeliverable, panic (reports command)")
	flag.BoolVar(&cfg.all, "all", false, "Include resolved reports (reports command)")
	flag.IntVar(&cfg.limit, "limit", 20, "Maximum reports to list (reports command)")
	flag.StringVar(&cfg.resolvedBy, "by", "", "Who resolved the report (resolve command, default $USER)")
	flag.BoolVar(&cfg.jsonOutput, "json", false, "Print JSON instead of a table")

	flag.Parse()

	args := flag.Args()
	if len(args) > 0 {
		cfg.command = args[0]
		cfg.args = args[1:]
	}

	if cfg.verbose {
		cfg.logLevel = "debug"
	}

	return cfg
}

// loadConfig loads the configuration and applies flag overrides
func loadConfig(cliCfg cliConfig) *config.Config {
	cfg := config.LoadOrDie(cliCfg.configPath)

	if cliCfg.listen != "" {
		cfg.Server.Listen = cliCfg.listen
	}
	if cliCfg.dbPath != "" {
		cfg.Store.Path = cliCfg.dbPath
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}
	if cliCfg.debug {
		cfg.Reporting.Debug = true
	}

	return cfg
}

func setupLogging(cfg config.LoggingConfig) {
	if err := logger.Initialize(cfg.Level, cfg.Format, cfg.Output); err != nil {
		log.Printf("Warning: Failed to initialize structured logger: %v", err)
		log.Printf("Falling back to standard logging")
	}
}

// runInitCommand generates an example configuration file
func runInitCommand(cliCfg cliConfig) {
	outputPath := cliCfg.configOutput
	if outputPath == "" {
		outputPath = config.ConfigPaths()[0]
	}
	if err := config.GenerateExampleConfig(outputPath); err != nil {
		log.Fatalf("Failed to generate example config: %v", err)
	}
	log.Printf("✓ Example configuration written to: %s", outputPath)
	log.Println("✓ Edit this file to set the webhook URL and triage rules")
}

// runValidateCommand validates the configuration
func runValidateCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	log.Printf("✓ Configuration is valid!")
	log.Printf("  Listen: %s", cfg.Server.Listen)
	log.Printf("  Store: %s (retention %d days)", cfg.Store.Path, cfg.Store.RetentionDays)
	log.Printf("  Debug reporting: %v", cfg.Reporting.Debug)
	log.Printf("  Ignorable kinds: %v", cfg.Reporting.IgnorableKinds)
	log.Printf("  Critical kinds: %v", cfg.Reporting.CriticalKinds)
	if cfg.Notify.WebhookURL == "" {
		log.Printf("  Webhook: disabled")
	} else {
		log.Printf("  Webhook: %s", cfg.Notify.WebhookURL)
	}
}

func printVersion() {
	fmt.Printf("errsink v%s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Println("License: MIT")
}

func printHelp() {
	helpText := `USAGE:
    errsink [flags] [command] [args]

COMMANDS:
    run         Serve the ingest API and triage errors (default)
    init        Write an example configuration file
    validate    Validate configuration
    classify    Show the verdict for synthetic error chains
    reports     List stored crash reports
    resolve     Mark a crash report resolved
    reopen      Mark a resolved crash report open again
    stats       Show crash report statistics
    cleanup     Remove resolved reports past retention
    kinds       List the registered error kinds
    version     Show version information
    help        Show this help message

EXAMPLES:
    errsink init
    errsink -debug run
    errsink classify unknown:invalid_state
    errsink classify io invalid_state
    errsink -kind null_reference reports
    errsink -by alice resolve 3f0c...

Run 'errsink help <command>' for details on one command.

FLAGS:
`
	fmt.Print(helpText)
	flag.PrintDefaults()
}

func printCommandHelp(command string) {
	help := map[string]string{
		"run": `errsink run

Serves the HTTP API, hosts the async runtime and routes every undeliverable
error through the triage sink. SIGHUP reloads the debug reporting flag from
the configuration file; SIGINT and SIGTERM shut down gracefully.`,
		"init": `errsink [-config-output PATH] init

Writes an example configuration file.`,
		"validate": `errsink [-config PATH] validate

Loads and validates the configuration, including environment overrides.`,
		"classify": `errsink [-debug] classify CHAIN [CHAIN...]

Each CHAIN is a colon separated list of kinds, outermost first, for
example unknown:io:timeout. Several chains are triaged together as one
composite error. Nothing is reported or logged.`,
		"reports": `errsink [-kind KIND] [-origin ORIGIN] [-all] [-limit N] [-json] reports

Lists stored crash reports, most recently seen first. Resolved reports are
hidden unless -all is given.`,
		"resolve": `errsink [-by NAME] resolve TRACE-ID

Marks a crash report resolved. The next occurrence files a new report.`,
		"reopen": `errsink reopen TRACE-ID

Marks a resolved crash report open again.`,
		"kinds": `errsink [-json] kinds

Lists every registered error kind with its parent. Rules name these kinds,
and a rule on a parent also matches its descendants.`,
		"stats": `errsink [-json] stats

Shows totals by kind and origin.`,
		"cleanup": `errsink cleanup

Deletes resolved reports older than the configured retention.`,
	}

	text, ok := help[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "no help for %q\n\n", command)
		printHelp()
		return
	}
	fmt.Println(text)
}
